// Package api defines the interfaces shmring components are consumed
// through.
package api

import "context"

// Sender delivers a message, waiting for room until ctx ends.
type Sender interface {
	Send(ctx context.Context, data []byte) error
}

// Receiver returns the next message, waiting for one until ctx ends.
type Receiver interface {
	Receive(ctx context.Context) ([]byte, error)
}

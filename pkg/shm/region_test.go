package shm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegion_OwnerAndAttacher(t *testing.T) {
	ctx := context.Background()
	name := testName(t)

	owner, err := OpenOrCreateRegion(ctx, name, 10000)
	require.NoError(t, err)
	defer owner.Close()
	assert.True(t, owner.IsOwner())
	assert.Equal(t, name, owner.Name())
	assert.Equal(t, 10000, owner.Size())

	// An attacher adopts the existing size whatever it asks for.
	attacher, err := OpenOrCreateRegion(ctx, name, 20000)
	require.NoError(t, err)
	defer attacher.Close()
	assert.False(t, attacher.IsOwner())
	assert.Equal(t, 10000, attacher.Size())

	owner.Bytes()[123] = 42
	assert.Equal(t, byte(42), attacher.Bytes()[123])
	attacher.Bytes()[9999] = 7
	assert.Equal(t, byte(7), owner.Bytes()[9999])
}

func TestRegion_ZeroFilled(t *testing.T) {
	r, err := OpenOrCreateRegion(context.Background(), testName(t), 4096)
	require.NoError(t, err)
	defer r.Close()
	for i, b := range r.Bytes() {
		if b != 0 {
			t.Fatalf("byte %d is %d", i, b)
		}
	}
}

func TestRegion_InitRunsBeforeAttach(t *testing.T) {
	ctx := context.Background()
	name := testName(t)

	owner, err := OpenRegion(ctx, RegionConfig{
		Name: name,
		Size: 64,
		Init: func(mem []byte) error {
			copy(mem, "ready")
			return nil
		},
	})
	require.NoError(t, err)
	defer owner.Close()

	attacher, err := OpenRegion(ctx, RegionConfig{Name: name})
	require.NoError(t, err)
	defer attacher.Close()
	assert.Equal(t, "ready", string(attacher.Bytes()[:5]))
}

func TestRegion_InitError(t *testing.T) {
	ctx := context.Background()
	name := testName(t)
	boom := errors.New("boom")

	_, err := OpenRegion(ctx, RegionConfig{
		Name: name,
		Size: 64,
		Init: func([]byte) error { return boom },
	})
	require.ErrorIs(t, err, boom)
	assert.Zero(t, OpenHandleCount(name))

	_, err = OpenRegion(ctx, RegionConfig{Name: name})
	assert.ErrorIs(t, err, ErrResourceCreation)
}

func TestRegion_AttachMissing(t *testing.T) {
	_, err := OpenOrCreateRegion(context.Background(), testName(t), 0)
	assert.ErrorIs(t, err, ErrResourceCreation)
}

func TestRegion_InvalidName(t *testing.T) {
	_, err := OpenOrCreateRegion(context.Background(), "", 64)
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = OpenOrCreateRegion(context.Background(), "a/b", 64)
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestRegion_CloseReleasesName(t *testing.T) {
	ctx := context.Background()
	name := testName(t)

	first, err := OpenOrCreateRegion(ctx, name, 128)
	require.NoError(t, err)
	first.Bytes()[0] = 1
	second, err := OpenOrCreateRegion(ctx, name, 128)
	require.NoError(t, err)

	// The region outlives its owner while another handle is open.
	require.NoError(t, first.Close())
	assert.Nil(t, first.Bytes())
	assert.Equal(t, byte(1), second.Bytes()[0])
	require.NoError(t, second.Close())
	require.NoError(t, second.Close())

	// Once the last handle is gone the next opener starts afresh.
	third, err := OpenOrCreateRegion(ctx, name, 256)
	require.NoError(t, err)
	defer third.Close()
	assert.True(t, third.IsOwner())
	assert.Equal(t, 256, third.Size())
	assert.Zero(t, third.Bytes()[0])
}

func TestRegistry_CountsHandles(t *testing.T) {
	ctx := context.Background()
	name := testName(t)
	assert.Zero(t, OpenHandleCount(name))

	a, err := OpenOrCreateRegion(ctx, name, 64)
	require.NoError(t, err)
	b, err := OpenOrCreateRegion(ctx, name, 64)
	require.NoError(t, err)
	assert.Equal(t, 2, OpenHandleCount(name))
	assert.Contains(t, OpenRegionNames(), name)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.Equal(t, 1, OpenHandleCount(name))

	require.NoError(t, b.Close())
	assert.Zero(t, OpenHandleCount(name))
	assert.NotContains(t, OpenRegionNames(), name)
}

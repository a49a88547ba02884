package adapter

import (
	"fmt"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/srediag/shmring/api"
	"github.com/srediag/shmring/pkg/shm"
)

const (
	// DefaultHighWater is the fill ratio at which a ring stops being ready.
	DefaultHighWater = 0.9

	maxGoroutines = 10000
)

var _ api.HealthChecker = (*shm.Ring)(nil)

// NewHealthHandler returns an http.Handler serving /live and /ready. Each
// ring is live while Ring.Check passes and ready while it is less than
// DefaultHighWater full. Check results are also exported as
// <namespace>_healthcheck_status gauges on reg.
func NewHealthHandler(reg prometheus.Registerer, namespace string, rings ...*shm.Ring) healthcheck.Handler {
	h := healthcheck.NewMetricsHandler(reg, namespace)
	h.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))
	for _, r := range rings {
		AddLivenessCheck(h, "ring-"+r.Name(), r)
		h.AddReadinessCheck("ring-"+r.Name()+"-saturation", SaturationCheck(r, DefaultHighWater))
	}
	return h
}

// AddLivenessCheck registers c as a liveness check of h.
func AddLivenessCheck(h healthcheck.Handler, name string, c api.HealthChecker) {
	h.AddLivenessCheck(name, c.Check)
}

// SaturationCheck fails while ring holds at least highWater of its
// capacity.
func SaturationCheck(ring *shm.Ring, highWater float64) healthcheck.Check {
	return func() error {
		size, capacity := ring.Size(), ring.Capacity()
		if float64(size) >= highWater*float64(capacity) {
			return fmt.Errorf("ring %s holds %d of %d messages", ring.Name(), size, capacity)
		}
		return nil
	}
}

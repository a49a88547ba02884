package api

// HealthChecker reports whether a component is usable. A nil error means
// healthy.
type HealthChecker interface {
	Check() error
}

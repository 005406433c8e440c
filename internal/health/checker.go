package health

import "context"

// Checker defines the contract for any component that needs to report its
// health status. Implementations should be thread-safe and non-blocking.
type Checker interface {
	// Name returns the unique identifier of the component (e.g., "storage").
	Name() string
	// Check performs the verification. It returns nil if healthy.
	Check(ctx context.Context) error
}

// Package health aggregates component health checks for the debug server's
// health endpoint.
package health

import (
	"context"
	"sync"
	"time"
)

// checkTimeout bounds each individual probe.
const checkTimeout = 2 * time.Second

// Status is the aggregated result of one health sweep.
type Status struct {
	Healthy    bool              `json:"healthy"`
	Components map[string]string `json:"components"`
}

// Service runs all registered checkers concurrently and aggregates the
// results.
type Service struct {
	checkers []Checker
}

// NewService builds a service over the given checkers.
func NewService(checkers ...Checker) *Service {
	return &Service{checkers: checkers}
}

// Check sweeps every component. A component that errors or times out marks
// the whole status unhealthy.
func (s *Service) Check(ctx context.Context) Status {
	status := Status{Healthy: true, Components: make(map[string]string, len(s.checkers))}

	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, c := range s.checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()

			result := "ok"
			err := c.Check(checkCtx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result = err.Error()
				status.Healthy = false
			}
			status.Components[c.Name()] = result
		}(c)
	}

	wg.Wait()
	return status
}

// Package refresh implements the background worker that keeps the trigger
// configuration current by polling the backend.
package refresh

import (
	"context"
	"log/slog"
	"time"
)

// Func performs one configuration refresh.
type Func func(ctx context.Context) error

// Service runs the refresh loop.
type Service struct {
	logger   *slog.Logger
	interval time.Duration
	refresh  Func
}

// New creates a refresh service. Intervals under a minute are clamped; paywall
// trigger configs do not change that fast and the backend is rate limited.
func New(logger *slog.Logger, interval time.Duration, refresh Func) *Service {
	if refresh == nil {
		panic("refresh: refresh func cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if interval < time.Minute {
		interval = time.Minute
	}

	return &Service{
		logger:   logger,
		interval: interval,
		refresh:  refresh,
	}
}

// Run starts the loop. It refreshes once immediately, then on every tick,
// and blocks until the context is cancelled. A failed cycle is logged and
// retried on the next tick.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("starting config refresh loop", slog.String("interval", s.interval.String()))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if err := s.refresh(ctx); err != nil {
		s.logger.Error("initial config refresh failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("config refresh loop stopping")
			return nil
		case <-ticker.C:
			if err := s.refresh(ctx); err != nil {
				s.logger.Error("config refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

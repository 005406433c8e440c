// Package assignment owns the experiment assignment state: the durable
// confirmed set, the process-lifetime unconfirmed set, variant provisioning
// and the resolution rules that pick which variant wins.
package assignment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tollgate-sdk/tollgate/model"
)

// Backend is the slice of the storage contract the store needs. Confirmed
// assignments live here; the backend is the only cross-restart state in the
// whole engine.
type Backend interface {
	LoadAssignments(ctx context.Context) ([]model.Assignment, error)
	SaveAssignment(ctx context.Context, a model.Assignment) error
	Reset(ctx context.Context) error
}

// Store is the exclusive owner of the assignment set. All mutation runs
// under one mutex so interleaved confirm/record calls for different
// experiments cannot lose updates.
//
// Unconfirmed assignments are deliberately process-lifetime only: matching is
// deterministic for a stable config and context, so losing them on restart
// just means they are re-derived on the next evaluation.
type Store struct {
	mu          sync.Mutex
	backend     Backend
	unconfirmed map[string]model.Variant
	logger      *slog.Logger
}

// NewStore creates a Store over the durable backend.
func NewStore(backend Backend, logger *slog.Logger) *Store {
	if backend == nil {
		panic("assignment: backend cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		backend:     backend,
		unconfirmed: make(map[string]model.Variant),
		logger:      logger,
	}
}

// Confirmed returns the durable experimentId -> variant map.
func (s *Store) Confirmed(ctx context.Context) (map[string]model.Variant, error) {
	assignments, err := s.backend.LoadAssignments(ctx)
	if err != nil {
		return nil, fmt.Errorf("assignment: load confirmed: %w", err)
	}

	out := make(map[string]model.Variant, len(assignments))
	for _, a := range assignments {
		out[a.ExperimentID] = a.Variant
	}
	return out, nil
}

// Unconfirmed returns a snapshot of the in-memory experimentId -> variant map.
func (s *Store) Unconfirmed() map[string]model.Variant {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]model.Variant, len(s.unconfirmed))
	for id, v := range s.unconfirmed {
		out[id] = v
	}
	return out
}

// RecordUnconfirmed remembers a locally decided variant that has not been
// confirmed with the server yet. An existing unconfirmed entry is kept: the
// first decision for an experiment stands.
func (s *Store) RecordUnconfirmed(experimentID string, variant model.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.unconfirmed[experimentID]; exists {
		return
	}
	s.unconfirmed[experimentID] = variant
}

// Pending lists every assignment that still owes the server a confirmation:
// all unconfirmed entries plus any durable rows whose sent flag is false
// (for example rows carried over by a schema migration).
func (s *Store) Pending(ctx context.Context) ([]model.ConfirmableAssignment, error) {
	durable, err := s.backend.LoadAssignments(ctx)
	if err != nil {
		return nil, fmt.Errorf("assignment: load pending: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.ConfirmableAssignment
	seen := make(map[string]struct{})
	for _, a := range durable {
		if a.SentToServer {
			continue
		}
		out = append(out, model.ConfirmableAssignment{ExperimentID: a.ExperimentID, Variant: a.Variant})
		seen[a.ExperimentID] = struct{}{}
	}
	for id, v := range s.unconfirmed {
		if _, ok := seen[id]; ok {
			continue
		}
		out = append(out, model.ConfirmableAssignment{ExperimentID: id, Variant: v})
	}
	return out, nil
}

// Confirm moves the experiment's assignment from unconfirmed to the durable
// backend with the sent flag set. Callers invoke this only after their
// network round-trip succeeded.
func (s *Store) Confirm(ctx context.Context, experimentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	variant, ok := s.unconfirmed[experimentID]
	if !ok {
		// Possibly a durable row that predates the sent flag; flip it.
		confirmed, err := s.backend.LoadAssignments(ctx)
		if err != nil {
			return fmt.Errorf("assignment: confirm %s: %w", experimentID, err)
		}
		for _, a := range confirmed {
			if a.ExperimentID == experimentID {
				variant = a.Variant
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("assignment: confirm %s: no assignment to confirm", experimentID)
		}
	}

	if err := s.backend.SaveAssignment(ctx, model.Assignment{
		ExperimentID: experimentID,
		Variant:      variant,
		SentToServer: true,
	}); err != nil {
		return fmt.Errorf("assignment: persist confirmation for %s: %w", experimentID, err)
	}

	delete(s.unconfirmed, experimentID)
	return nil
}

// Reset clears both sets. Used for logout/uninstall-equivalent flows.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Reset(ctx); err != nil {
		return fmt.Errorf("assignment: reset: %w", err)
	}
	s.unconfirmed = make(map[string]model.Variant)
	return nil
}

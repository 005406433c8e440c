package health

import (
	"context"

	"github.com/tollgate-sdk/tollgate/internal/storage"
)

type storageChecker struct {
	store storage.Store
}

// NewStorageChecker probes the durable store with a cheap read.
func NewStorageChecker(store storage.Store) Checker {
	return &storageChecker{store: store}
}

func (s *storageChecker) Name() string {
	return "storage"
}

func (s *storageChecker) Check(ctx context.Context) error {
	_, err := s.store.LoadAssignments(ctx)
	return err
}

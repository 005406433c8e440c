// Black-box conformance tests shared by every Store implementation.
package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tollgate-sdk/tollgate/internal/storage"
	"github.com/tollgate-sdk/tollgate/model"
)

// runStoreConformance exercises the Store contract against any backend.
func runStoreConformance(t *testing.T, store storage.Store) {
	ctx := context.Background()

	t.Run("Should start empty", func(t *testing.T) {
		assignments, err := store.LoadAssignments(ctx)
		require.NoError(t, err)
		assert.Empty(t, assignments)
	})

	t.Run("Should upsert assignments keyed by experiment id", func(t *testing.T) {
		first := model.Assignment{
			ExperimentID: "exp1",
			Variant:      model.Variant{Type: model.VariantTypeTreatment, ID: "v1", PaywallID: "pw_intro"},
		}
		require.NoError(t, store.SaveAssignment(ctx, first))

		// Same experiment, now confirmed.
		first.SentToServer = true
		require.NoError(t, store.SaveAssignment(ctx, first))

		second := model.Assignment{
			ExperimentID: "exp2",
			Variant:      model.Variant{Type: model.VariantTypeHoldout, ID: "v2"},
		}
		require.NoError(t, store.SaveAssignment(ctx, second))

		assignments, err := store.LoadAssignments(ctx)
		require.NoError(t, err)
		require.Len(t, assignments, 2)

		byID := make(map[string]model.Assignment, len(assignments))
		for _, a := range assignments {
			byID[a.ExperimentID] = a
		}
		assert.True(t, byID["exp1"].SentToServer)
		assert.Equal(t, "pw_intro", byID["exp1"].Variant.PaywallID)
		assert.Equal(t, model.VariantTypeHoldout, byID["exp2"].Variant.Type)
		assert.False(t, byID["exp2"].SentToServer)
	})

	t.Run("Should count occurrences within a window", func(t *testing.T) {
		now := time.Now()
		require.NoError(t, store.SaveOccurrence(ctx, "occ1", now.Add(-2*time.Hour)))
		require.NoError(t, store.SaveOccurrence(ctx, "occ1", now.Add(-30*time.Minute)))
		require.NoError(t, store.SaveOccurrence(ctx, "occ1", now))
		require.NoError(t, store.SaveOccurrence(ctx, "other", now))

		// Unbounded window counts everything for the key.
		count, err := store.CountOccurrences(ctx, "occ1", time.Time{})
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		// One-hour window excludes the oldest record.
		count, err = store.CountOccurrences(ctx, "occ1", now.Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		// Unknown keys count zero.
		count, err = store.CountOccurrences(ctx, "missing", time.Time{})
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("Should clear everything on reset", func(t *testing.T) {
		require.NoError(t, store.Reset(ctx))

		assignments, err := store.LoadAssignments(ctx)
		require.NoError(t, err)
		assert.Empty(t, assignments)

		count, err := store.CountOccurrences(ctx, "occ1", time.Time{})
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreConformance(t, storage.NewMemoryStore())
}

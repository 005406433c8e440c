package assignment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tollgate-sdk/tollgate/internal/storage"
	"github.com/tollgate-sdk/tollgate/internal/testsupport"
	"github.com/tollgate-sdk/tollgate/model"
)

func audienceFor(experimentID string) model.Audience {
	return model.Audience{
		ExperimentID: experimentID,
		GroupID:      "campaign1",
		Variant:      treatmentV1,
	}
}

func TestResolver_ConfirmedIsAuthoritative(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryStore()
	require.NoError(t, backend.SaveAssignment(ctx, model.Assignment{
		ExperimentID: "exp1", Variant: holdoutV2, SentToServer: true,
	}))

	store := NewStore(backend, nil)
	// A conflicting unconfirmed entry must lose against disk.
	store.RecordUnconfirmed("exp1", treatmentV1)

	resolver := NewResolver(store, nil)

	// Idempotent: repeated calls always return the confirmed variant and
	// never owe a confirmation.
	for i := 0; i < 3; i++ {
		res, err := resolver.Resolve(ctx, audienceFor("exp1"))
		require.NoError(t, err)
		assert.Equal(t, holdoutV2, res.Variant)
		assert.Nil(t, res.Confirmable)
	}
}

func TestResolver_UnconfirmedIsReusedAndConfirmable(t *testing.T) {
	ctx := context.Background()
	store := NewStore(storage.NewMemoryStore(), nil)
	store.RecordUnconfirmed("exp1", treatmentV1)

	resolver := NewResolver(store, nil)

	res, err := resolver.Resolve(ctx, audienceFor("exp1"))

	require.NoError(t, err)
	assert.Equal(t, treatmentV1, res.Variant)
	require.NotNil(t, res.Confirmable)
	assert.Equal(t, "exp1", res.Confirmable.ExperimentID)
	assert.Equal(t, treatmentV1, res.Confirmable.Variant)
}

func TestResolver_ProvisionsOnDemandWhenStoreIsEmpty(t *testing.T) {
	ctx := context.Background()
	store := NewStore(storage.NewMemoryStore(), nil)
	resolver := NewResolver(store, nil)

	res, err := resolver.Resolve(ctx, audienceFor("exp1"))

	require.NoError(t, err)
	assert.Equal(t, treatmentV1, res.Variant)
	require.NotNil(t, res.Confirmable)

	// The dice roll was recorded; the next resolution reuses it.
	assert.Equal(t, treatmentV1, store.Unconfirmed()["exp1"])
}

func TestResolver_NotFoundWhenNoVariantIsAssignable(t *testing.T) {
	store := NewStore(storage.NewMemoryStore(), nil)
	resolver := NewResolver(store, nil)

	// A matched audience whose declared variant is invalid cannot be
	// provisioned; this is the inconsistent state the pipeline maps to
	// "paywall not available".
	broken := model.Audience{ExperimentID: "exp_broken"}

	_, err := resolver.Resolve(context.Background(), broken)

	assert.ErrorIs(t, err, ErrAssignmentNotFound)
}

// TestResolver_ConfirmSurvivesRestart covers the end-to-end assignment
// lifecycle: empty store, dice roll, confirmation, simulated restart.
func TestResolver_ConfirmSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	backend, path := testsupport.OpenSQLite(t)

	store := NewStore(backend, nil)
	resolver := NewResolver(store, nil)

	res, err := resolver.Resolve(ctx, audienceFor("exp1"))
	require.NoError(t, err)
	require.NotNil(t, res.Confirmable)

	require.NoError(t, store.Confirm(ctx, "exp1"))

	// Simulate a restart: fresh store over the same database file.
	reopened := NewStore(testsupport.ReopenSQLite(t, path), nil)

	confirmed, err := reopened.Confirmed(ctx)
	require.NoError(t, err)
	assert.Equal(t, treatmentV1, confirmed["exp1"])

	pending, err := reopened.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "confirmed assignments are marked sent")
}

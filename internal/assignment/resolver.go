package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tollgate-sdk/tollgate/model"
)

// ErrAssignmentNotFound means an audience matched but no variant was ever
// provisioned for its experiment and none could be provisioned on the spot.
// The pipeline maps it to a "paywall not available" failure.
var ErrAssignmentNotFound = errors.New("assignment: no variant assigned for matched experiment")

// Resolution is the outcome of resolving a matched audience: the variant
// that wins, plus the assignment still owing a server confirmation when the
// winner came from the unconfirmed set.
type Resolution struct {
	Variant     model.Variant
	Confirmable *model.ConfirmableAssignment
}

// Experiment builds the resolved experiment for reporting.
func (r Resolution) Experiment(aud model.Audience) model.Experiment {
	return model.Experiment{
		ID:      aud.ExperimentID,
		GroupID: aud.GroupID,
		Variant: r.Variant,
	}
}

// Resolver decides the final variant for a matched audience.
//
// Priority is confirmed-first: a durable, server-acknowledged (or pending
// acknowledgement) assignment is authoritative and needs no network action;
// an unconfirmed in-memory assignment is reused and flagged confirmable;
// neither existing is an error. Resolution never blocks on the confirmation
// dispatch; that is the caller's concern.
type Resolver struct {
	store  *Store
	logger *slog.Logger
}

// NewResolver creates a Resolver over the assignment store.
func NewResolver(store *Store, logger *slog.Logger) *Resolver {
	if store == nil {
		panic("assignment: store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, logger: logger}
}

// Resolve picks the variant for the matched audience's experiment.
func (r *Resolver) Resolve(ctx context.Context, aud model.Audience) (Resolution, error) {
	confirmed, err := r.store.Confirmed(ctx)
	if err != nil {
		return Resolution{}, fmt.Errorf("assignment: resolve %s: %w", aud.ExperimentID, err)
	}

	if variant, ok := confirmed[aud.ExperimentID]; ok {
		return Resolution{Variant: variant}, nil
	}

	if variant, ok := r.store.Unconfirmed()[aud.ExperimentID]; ok {
		return Resolution{
			Variant: variant,
			Confirmable: &model.ConfirmableAssignment{
				ExperimentID: aud.ExperimentID,
				Variant:      variant,
			},
		}, nil
	}

	// Neither disk nor memory has a variant, which normally only happens when
	// the config was refreshed without re-provisioning. Dice-roll one from the
	// audience's own options before giving up.
	variant, err := ChooseVariant(aud.Options(), nil)
	if err != nil || variant.Validate() != nil {
		r.logger.Error("matched audience has no assignable variant",
			slog.String("experiment_id", aud.ExperimentID),
		)
		return Resolution{}, fmt.Errorf("%w: %s", ErrAssignmentNotFound, aud.ExperimentID)
	}

	r.store.RecordUnconfirmed(aud.ExperimentID, variant)
	return Resolution{
		Variant: variant,
		Confirmable: &model.ConfirmableAssignment{
			ExperimentID: aud.ExperimentID,
			Variant:      variant,
		},
	}, nil
}

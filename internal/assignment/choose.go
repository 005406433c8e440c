package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/tollgate-sdk/tollgate/model"
)

// ErrNoVariants is returned when an audience offers no variant options.
var ErrNoVariants = errors.New("assignment: no variants to choose from")

// ChooseVariant picks one option by cumulative weight walk. The intn argument
// draws a uniform integer in [0, n); pass nil for the default source. When
// every option has weight zero the choice falls back to uniform.
func ChooseVariant(options []model.VariantOption, intn func(n int) int) (model.Variant, error) {
	if len(options) == 0 {
		return model.Variant{}, ErrNoVariants
	}
	if len(options) == 1 {
		return options[0].Variant(), nil
	}
	if intn == nil {
		intn = rand.IntN
	}

	sum := 0
	for _, opt := range options {
		sum += opt.Percentage
	}
	if sum == 0 {
		return options[intn(len(options))].Variant(), nil
	}

	threshold := intn(sum)
	cumulative := 0
	for _, opt := range options {
		cumulative += opt.Percentage
		if threshold < cumulative {
			return opt.Variant(), nil
		}
	}

	return model.Variant{}, fmt.Errorf("assignment: threshold %d outside cumulative weights (sum %d)", threshold, sum)
}

// Provision walks a freshly loaded trigger set and dice-rolls an unconfirmed
// variant for every experiment that has neither a durable nor an in-memory
// assignment yet. Called on each full config refresh so the resolver rarely
// hits its not-found branch.
func (s *Store) Provision(ctx context.Context, triggers []model.Trigger, intn func(n int) int) error {
	confirmed, err := s.Confirmed(ctx)
	if err != nil {
		return fmt.Errorf("assignment: provision: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, trigger := range triggers {
		for _, aud := range trigger.Audiences {
			if _, ok := confirmed[aud.ExperimentID]; ok {
				continue
			}
			if _, ok := s.unconfirmed[aud.ExperimentID]; ok {
				continue
			}

			variant, err := ChooseVariant(aud.Options(), intn)
			if err != nil {
				s.logger.Warn("skipping experiment with no variants",
					slog.String("experiment_id", aud.ExperimentID),
				)
				continue
			}
			s.unconfirmed[aud.ExperimentID] = variant
		}
	}

	return nil
}

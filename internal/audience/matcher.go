// Package audience implements the ordered audience filter scan for a trigger.
// Declaration order is part of the contract: campaign authors rely on
// earlier-declared audiences taking precedence, so the scan never reorders
// and stops at the first match.
package audience

import (
	"context"
	"log/slog"

	"github.com/tollgate-sdk/tollgate/internal/expression"
	"github.com/tollgate-sdk/tollgate/internal/occurrence"
	"github.com/tollgate-sdk/tollgate/model"
)

// MatchResult is the outcome of one scan: either the first matching audience,
// or the rejection reason of every audience for diagnostics.
type MatchResult struct {
	Matched   *model.Audience
	Unmatched []model.UnmatchedAudience
}

// IsMatch reports whether any audience matched.
func (r MatchResult) IsMatch() bool {
	return r.Matched != nil
}

// Matcher combines expression evaluation with the occurrence throttle.
type Matcher struct {
	evaluator expression.Evaluator
	tracker   *occurrence.Tracker
	logger    *slog.Logger
}

// New creates a Matcher. If logger is nil, it defaults to slog.Default().
func New(evaluator expression.Evaluator, tracker *occurrence.Tracker, logger *slog.Logger) *Matcher {
	if evaluator == nil {
		panic("audience: expression evaluator cannot be nil")
	}
	if tracker == nil {
		panic("audience: occurrence tracker cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Matcher{
		evaluator: evaluator,
		tracker:   tracker,
		logger:    logger,
	}
}

// Match scans the trigger's audiences in declaration order and returns the
// first whose expression and occurrence throttle both pass. Expression
// failures are treated as no-match and logged; they never abort the scan.
// When preemptive is true, the scan is strictly side-effect free.
func (m *Matcher) Match(
	ctx context.Context,
	trigger model.Trigger,
	attrs model.Attributes,
	preemptive bool,
) MatchResult {
	var unmatched []model.UnmatchedAudience

	for i := range trigger.Audiences {
		aud := trigger.Audiences[i]

		exprMatched, err := m.evaluator.Evaluate(ctx, aud.Expression, attrs)
		if err != nil {
			m.logger.Warn("audience expression failed, treating as no-match",
				slog.String("event", trigger.EventName),
				slog.String("experiment_id", aud.ExperimentID),
				slog.Any("error", err),
			)
			unmatched = append(unmatched, model.UnmatchedAudience{
				ExperimentID: aud.ExperimentID,
				Source:       model.NoMatchExpression,
			})
			continue
		}

		if !exprMatched {
			unmatched = append(unmatched, model.UnmatchedAudience{
				ExperimentID: aud.ExperimentID,
				Source:       model.NoMatchExpression,
			})
			continue
		}

		fired, err := m.tracker.ShouldFire(ctx, aud.Occurrence, true, preemptive)
		if err != nil {
			m.logger.Error("occurrence check failed, treating as no-match",
				slog.String("event", trigger.EventName),
				slog.String("experiment_id", aud.ExperimentID),
				slog.Any("error", err),
			)
			unmatched = append(unmatched, model.UnmatchedAudience{
				ExperimentID: aud.ExperimentID,
				Source:       model.NoMatchOccurrence,
			})
			continue
		}
		if !fired {
			unmatched = append(unmatched, model.UnmatchedAudience{
				ExperimentID: aud.ExperimentID,
				Source:       model.NoMatchOccurrence,
			})
			continue
		}

		// First match wins; later audiences are never evaluated.
		return MatchResult{Matched: &aud}
	}

	return MatchResult{Unmatched: unmatched}
}

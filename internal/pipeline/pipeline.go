// Package pipeline orchestrates one paywall evaluation from event to terminal
// outcome: audience match, assignment resolution, subscription gate, content
// fetch and assignment confirmation.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tollgate-sdk/tollgate/internal/assignment"
	"github.com/tollgate-sdk/tollgate/internal/audience"
	"github.com/tollgate-sdk/tollgate/internal/observability"
	"github.com/tollgate-sdk/tollgate/model"
)

// errNoFetcher is returned when a non-preemptive run reaches the fetch stage
// without a content source wired in.
var errNoFetcher = errors.New("pipeline: no paywall fetcher configured")

// IdentityGate blocks evaluation until the identity/config subsystem is
// ready. A nil gate means "always ready".
type IdentityGate interface {
	AwaitIdentity(ctx context.Context) error
}

// SubscriptionProvider reports whether the user already holds an active
// entitlement. A nil provider disables the subscription gate.
type SubscriptionProvider interface {
	IsSubscribed(ctx context.Context) bool
}

// PaywallFetcher resolves paywall content for a request. Satisfied by the
// paywall coordinator.
type PaywallFetcher interface {
	Get(ctx context.Context, req model.PaywallRequest) (model.Paywall, error)
}

// Confirmer posts assignment confirmations to the backend. A nil confirmer
// leaves assignments pending until ConfirmPendingAssignments is called with
// connectivity.
type Confirmer interface {
	ConfirmAssignments(ctx context.Context, assignments []model.ConfirmableAssignment) error
}

// Pipeline runs the evaluation state machine. All collaborators are injected;
// the pipeline owns no state beyond the confirmation dispatch tracking.
type Pipeline struct {
	triggers  func() map[string]model.Trigger
	matcher   *audience.Matcher
	resolver  *assignment.Resolver
	store     *assignment.Store
	fetcher   PaywallFetcher
	confirmer Confirmer
	identity  IdentityGate
	subs      SubscriptionProvider
	logger    *slog.Logger

	// confirmations tracks in-flight async confirmation dispatches so tests
	// and shutdown can wait for them.
	confirmations sync.WaitGroup
}

// Options carries the optional collaborators.
type Options struct {
	Fetcher   PaywallFetcher
	Confirmer Confirmer
	Identity  IdentityGate
	Subs      SubscriptionProvider
	Logger    *slog.Logger
}

// New builds a pipeline. The trigger snapshot function, matcher, resolver and
// store are required; triggers is called once per run so config refreshes
// take effect between runs without restarting the pipeline.
func New(triggers func() map[string]model.Trigger, matcher *audience.Matcher, resolver *assignment.Resolver, store *assignment.Store, opts Options) *Pipeline {
	if triggers == nil {
		panic("pipeline: trigger snapshot function cannot be nil")
	}
	if matcher == nil {
		panic("pipeline: matcher cannot be nil")
	}
	if resolver == nil {
		panic("pipeline: resolver cannot be nil")
	}
	if store == nil {
		panic("pipeline: assignment store cannot be nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		triggers:  triggers,
		matcher:   matcher,
		resolver:  resolver,
		store:     store,
		fetcher:   opts.Fetcher,
		confirmer: opts.Confirmer,
		identity:  opts.Identity,
		subs:      opts.Subs,
		logger:    logger,
	}
}

// RunOptions tunes a single invocation.
type RunOptions struct {
	// Preemptive predicts the outcome without side effects: no occurrence
	// record is written, no confirmation is dispatched, no content is fetched.
	Preemptive bool
	// IgnoreSubscriptionGate presents the paywall even to subscribed users.
	IgnoreSubscriptionGate bool
	// Locale keys the paywall cache.
	Locale string
}

// Run evaluates one event against its trigger. The returned outcome is always
// one of the closed terminal set; errors are folded into OutcomeError and
// never escape as panics.
func (p *Pipeline) Run(ctx context.Context, event model.Event, attrs model.Attributes, opts RunOptions) model.Outcome {
	start := time.Now()
	out := p.run(ctx, event, attrs, opts)

	observability.EvaluationsTotal.
		WithLabelValues(string(out.Type), strconv.FormatBool(opts.Preemptive)).
		Inc()
	observability.EvaluationDuration.Observe(time.Since(start).Seconds())

	return out
}

func (p *Pipeline) run(ctx context.Context, event model.Event, attrs model.Attributes, opts RunOptions) model.Outcome {
	log := p.logger.With(
		slog.String("request_id", uuid.NewString()),
		slog.String("event", event.Name),
		slog.Bool("preemptive", opts.Preemptive),
	)

	if p.identity != nil {
		if err := p.identity.AwaitIdentity(ctx); err != nil {
			log.Error("identity gate failed", slog.Any("error", err))
			return model.Outcome{Type: model.OutcomeError, Err: err}
		}
	}

	trigger, found := p.triggers()[event.Name]
	if !found {
		log.Debug("no trigger configured for event")
		return model.Outcome{Type: model.OutcomeEventNotFound}
	}

	match := p.matcher.Match(ctx, trigger, attrs, opts.Preemptive)
	if !match.IsMatch() {
		log.Debug("no audience matched", slog.Int("rejected", len(match.Unmatched)))
		return model.Outcome{Type: model.OutcomeNoAudienceMatch, Unmatched: match.Unmatched}
	}
	aud := *match.Matched

	res, err := p.resolver.Resolve(ctx, aud)
	if err != nil {
		log.Error("assignment resolution failed",
			slog.String("experiment_id", aud.ExperimentID),
			slog.Any("error", err),
		)
		return model.Outcome{Type: model.OutcomeError, Err: err}
	}
	experiment := res.Experiment(aud)

	// A stored variant that violates the tagged-union invariant is treated as
	// a holdout: showing nothing is safer than showing unknown commerce
	// content.
	if err := res.Variant.Validate(); err != nil {
		log.Error("invalid stored variant, treating as holdout",
			slog.String("experiment_id", experiment.ID),
			slog.Any("error", err),
		)
		return model.Outcome{Type: model.OutcomeHoldout, Experiment: &experiment}
	}

	if res.Variant.IsHoldout() {
		log.Info("holdout group, suppressing paywall",
			slog.String("experiment_id", experiment.ID),
			slog.String("variant_id", res.Variant.ID),
		)
		if !opts.Preemptive {
			p.dispatchConfirmation(ctx, log, res.Confirmable)
		}
		return model.Outcome{Type: model.OutcomeHoldout, Experiment: &experiment}
	}

	if opts.Preemptive {
		return model.Outcome{Type: model.OutcomePaywall, Experiment: &experiment}
	}

	if p.subs != nil && !opts.IgnoreSubscriptionGate && p.subs.IsSubscribed(ctx) {
		log.Debug("user already subscribed, skipping paywall")
		return model.Outcome{
			Type:       model.OutcomeSkipped,
			Experiment: &experiment,
			SkipReason: model.SkipUserIsSubscribed,
		}
	}

	paywall, err := p.fetchPaywall(ctx, event, experiment, res.Variant, opts.Locale)
	if err != nil {
		log.Error("paywall fetch failed",
			slog.String("paywall_id", res.Variant.PaywallID),
			slog.Any("error", err),
		)
		return model.Outcome{Type: model.OutcomeError, Err: err}
	}

	p.dispatchConfirmation(ctx, log, res.Confirmable)

	return model.Outcome{
		Type:       model.OutcomePaywall,
		Experiment: &experiment,
		Paywall:    &paywall,
	}
}

// Flush waits for all in-flight confirmation dispatches. Used by tests and
// graceful shutdown.
func (p *Pipeline) Flush() {
	p.confirmations.Wait()
}

func (p *Pipeline) fetchPaywall(ctx context.Context, event model.Event, experiment model.Experiment, variant model.Variant, locale string) (model.Paywall, error) {
	if p.fetcher == nil {
		return model.Paywall{}, errNoFetcher
	}
	return p.fetcher.Get(ctx, model.PaywallRequest{
		PaywallID:  variant.PaywallID,
		Event:      &event,
		Experiment: &experiment,
		Locale:     locale,
	})
}

// dispatchConfirmation posts the confirmable assignment in the background.
// Success never blocks the terminal outcome; failures leave the assignment
// pending for the next ConfirmPendingAssignments flush.
func (p *Pipeline) dispatchConfirmation(ctx context.Context, log *slog.Logger, confirmable *model.ConfirmableAssignment) {
	if confirmable == nil || p.confirmer == nil {
		return
	}

	ca := *confirmable
	detached := context.WithoutCancel(ctx)

	p.confirmations.Add(1)
	go func() {
		defer p.confirmations.Done()

		if err := p.confirmer.ConfirmAssignments(detached, []model.ConfirmableAssignment{ca}); err != nil {
			observability.ConfirmationsTotal.WithLabelValues("failed").Inc()
			log.Warn("assignment confirmation failed, left pending",
				slog.String("experiment_id", ca.ExperimentID),
				slog.Any("error", err),
			)
			return
		}
		observability.ConfirmationsTotal.WithLabelValues("confirmed").Inc()
		if err := p.store.Confirm(detached, ca.ExperimentID); err != nil {
			log.Error("failed to persist confirmed assignment",
				slog.String("experiment_id", ca.ExperimentID),
				slog.Any("error", err),
			)
			return
		}
		log.Info("assignment confirmed",
			slog.String("experiment_id", ca.ExperimentID),
			slog.String("variant_id", ca.Variant.ID),
		)
	}()
}

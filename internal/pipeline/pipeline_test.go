package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tollgate-sdk/tollgate/internal/assignment"
	"github.com/tollgate-sdk/tollgate/internal/audience"
	"github.com/tollgate-sdk/tollgate/internal/expression"
	"github.com/tollgate-sdk/tollgate/internal/occurrence"
	"github.com/tollgate-sdk/tollgate/internal/storage"
	"github.com/tollgate-sdk/tollgate/model"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeFetcher) Get(ctx context.Context, req model.PaywallRequest) (model.Paywall, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls += 1
	if f.err != nil {
		return model.Paywall{}, f.err
	}
	return model.Paywall{Identifier: req.Identifier(), Name: "Pro"}, nil
}

type fakeConfirmer struct {
	mu      sync.Mutex
	batches [][]model.ConfirmableAssignment
	err     error
}

func (f *fakeConfirmer) ConfirmAssignments(ctx context.Context, assignments []model.ConfirmableAssignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, assignments)
	return nil
}

func (f *fakeConfirmer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type fakeSubs struct{ subscribed bool }

func (f fakeSubs) IsSubscribed(ctx context.Context) bool { return f.subscribed }

type harness struct {
	pipeline  *Pipeline
	store     *assignment.Store
	backend   *storage.MemoryStore
	fetcher   *fakeFetcher
	confirmer *fakeConfirmer
}

func newHarness(t *testing.T, triggers []model.Trigger, opts Options) *harness {
	t.Helper()

	backend := storage.NewMemoryStore()
	evaluator, err := expression.NewCELEvaluator()
	require.NoError(t, err)

	tracker := occurrence.New(backend, nil)
	matcher := audience.New(evaluator, tracker, nil)
	store := assignment.NewStore(backend, nil)
	resolver := assignment.NewResolver(store, nil)

	fetcher := &fakeFetcher{}
	confirmer := &fakeConfirmer{}
	if opts.Fetcher == nil {
		opts.Fetcher = fetcher
	}
	if opts.Confirmer == nil {
		opts.Confirmer = confirmer
	}

	byEvent := model.TriggersByEvent(triggers)
	p := New(func() map[string]model.Trigger { return byEvent }, matcher, resolver, store, opts)

	return &harness{pipeline: p, store: store, backend: backend, fetcher: fetcher, confirmer: confirmer}
}

func treatmentTrigger(event string) model.Trigger {
	return model.Trigger{
		EventName: event,
		Audiences: []model.Audience{{
			ExperimentID: "exp1",
			GroupID:      "campaign1",
			Variant:      model.Variant{Type: model.VariantTypeTreatment, ID: "v1", PaywallID: "pw1"},
		}},
	}
}

func TestPipeline_EventNotFound(t *testing.T) {
	h := newHarness(t, nil, Options{})

	out := h.pipeline.Run(context.Background(), model.Event{Name: "unknown"}, model.Attributes{}, RunOptions{})

	assert.Equal(t, model.OutcomeEventNotFound, out.Type)
	assert.False(t, out.ShouldPresent())
}

func TestPipeline_PaywallOutcome(t *testing.T) {
	h := newHarness(t, []model.Trigger{treatmentTrigger("campaign_trigger")}, Options{})

	out := h.pipeline.Run(context.Background(), model.Event{Name: "campaign_trigger"}, model.Attributes{}, RunOptions{Locale: "en_US"})

	require.Equal(t, model.OutcomePaywall, out.Type)
	require.NotNil(t, out.Paywall)
	assert.Equal(t, "pw1", out.Paywall.Identifier)
	require.NotNil(t, out.Experiment)
	assert.Equal(t, "exp1", out.Experiment.ID)
	assert.Equal(t, "v1", out.Experiment.Variant.ID)
	assert.True(t, out.ShouldPresent())
}

func TestPipeline_NoAudienceMatchCarriesDiagnostics(t *testing.T) {
	trigger := model.Trigger{
		EventName: "campaign_trigger",
		Audiences: []model.Audience{{
			ExperimentID: "exp1",
			Expression:   `user.plan == "free"`,
			Variant:      model.Variant{Type: model.VariantTypeTreatment, ID: "v1", PaywallID: "pw1"},
		}},
	}
	h := newHarness(t, []model.Trigger{trigger}, Options{})

	attrs := model.Attributes{User: map[string]any{"plan": "pro"}}
	out := h.pipeline.Run(context.Background(), model.Event{Name: "campaign_trigger"}, attrs, RunOptions{})

	require.Equal(t, model.OutcomeNoAudienceMatch, out.Type)
	require.Len(t, out.Unmatched, 1)
	assert.Equal(t, "exp1", out.Unmatched[0].ExperimentID)
	assert.Equal(t, model.NoMatchExpression, out.Unmatched[0].Source)
}

func TestPipeline_HoldoutSuppressesPaywall(t *testing.T) {
	trigger := model.Trigger{
		EventName: "campaign_trigger",
		Audiences: []model.Audience{{
			ExperimentID: "exp1",
			Variant:      model.Variant{Type: model.VariantTypeHoldout, ID: "v2"},
		}},
	}
	h := newHarness(t, []model.Trigger{trigger}, Options{})

	out := h.pipeline.Run(context.Background(), model.Event{Name: "campaign_trigger"}, model.Attributes{}, RunOptions{})
	h.pipeline.Flush()

	assert.Equal(t, model.OutcomeHoldout, out.Type)
	assert.Nil(t, out.Paywall)
	require.NotNil(t, out.Experiment)
	assert.Equal(t, "v2", out.Experiment.Variant.ID)
	// The fetch stage must never run for holdouts.
	assert.Zero(t, h.fetcher.calls)
	// The holdout assignment is still confirmed.
	assert.Equal(t, 1, h.confirmer.count())
}

func TestPipeline_SubscriptionGate(t *testing.T) {
	tests := []struct {
		name       string
		subscribed bool
		ignoreGate bool
		want       model.OutcomeType
	}{
		{name: "subscribed user is skipped", subscribed: true, want: model.OutcomeSkipped},
		{name: "unsubscribed user sees paywall", subscribed: false, want: model.OutcomePaywall},
		{name: "override presents to subscribed user", subscribed: true, ignoreGate: true, want: model.OutcomePaywall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, []model.Trigger{treatmentTrigger("campaign_trigger")}, Options{
				Subs: fakeSubs{subscribed: tt.subscribed},
			})

			out := h.pipeline.Run(context.Background(), model.Event{Name: "campaign_trigger"}, model.Attributes{}, RunOptions{
				IgnoreSubscriptionGate: tt.ignoreGate,
			})

			assert.Equal(t, tt.want, out.Type)
			if tt.want == model.OutcomeSkipped {
				assert.Equal(t, model.SkipUserIsSubscribed, out.SkipReason)
				assert.Zero(t, h.fetcher.calls)
			}
		})
	}
}

func TestPipeline_FetchFailureFailsClosed(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("upstream down")}
	h := newHarness(t, []model.Trigger{treatmentTrigger("campaign_trigger")}, Options{Fetcher: fetcher})

	out := h.pipeline.Run(context.Background(), model.Event{Name: "campaign_trigger"}, model.Attributes{}, RunOptions{})
	h.pipeline.Flush()

	assert.Equal(t, model.OutcomeError, out.Type)
	assert.Error(t, out.Err)
	assert.False(t, out.ShouldPresent())
	// No confirmation for a paywall that never presented.
	assert.Zero(t, h.confirmer.count())
}

func TestPipeline_ConfirmationFlowsToStore(t *testing.T) {
	h := newHarness(t, []model.Trigger{treatmentTrigger("campaign_trigger")}, Options{})

	out := h.pipeline.Run(context.Background(), model.Event{Name: "campaign_trigger"}, model.Attributes{}, RunOptions{})
	require.Equal(t, model.OutcomePaywall, out.Type)

	h.pipeline.Flush()

	require.Equal(t, 1, h.confirmer.count())
	confirmed, err := h.store.Confirmed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1", confirmed["exp1"].ID)
	assert.Empty(t, h.store.Unconfirmed())
}

func TestPipeline_ConfirmationFailureLeavesAssignmentPending(t *testing.T) {
	confirmer := &fakeConfirmer{err: errors.New("offline")}
	h := newHarness(t, []model.Trigger{treatmentTrigger("campaign_trigger")}, Options{Confirmer: confirmer})

	out := h.pipeline.Run(context.Background(), model.Event{Name: "campaign_trigger"}, model.Attributes{}, RunOptions{})
	require.Equal(t, model.OutcomePaywall, out.Type)

	h.pipeline.Flush()

	pending, err := h.store.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "exp1", pending[0].ExperimentID)
}

func TestPipeline_PreemptivePurity(t *testing.T) {
	trigger := model.Trigger{
		EventName: "app_open",
		Audiences: []model.Audience{{
			ExperimentID: "exp1",
			Occurrence:   &model.OccurrenceSpec{Key: "occ1", MaxCount: 1},
			Variant:      model.Variant{Type: model.VariantTypeTreatment, ID: "v1", PaywallID: "pw1"},
		}},
	}
	h := newHarness(t, []model.Trigger{trigger}, Options{})

	for i := 0; i < 5; i++ {
		out := h.pipeline.Run(context.Background(), model.Event{Name: "app_open"}, model.Attributes{}, RunOptions{Preemptive: true})
		assert.Equal(t, model.OutcomePaywall, out.Type)
		assert.Nil(t, out.Paywall, "preemptive runs never fetch content")
	}
	h.pipeline.Flush()

	count, err := h.backend.CountOccurrences(context.Background(), "occ1", time.Time{})
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, h.fetcher.calls)
	assert.Zero(t, h.confirmer.count())
}

func TestPipeline_OccurrenceCapAcrossRuns(t *testing.T) {
	trigger := model.Trigger{
		EventName: "app_open",
		Audiences: []model.Audience{{
			ExperimentID: "exp1",
			Occurrence:   &model.OccurrenceSpec{Key: "occ1", MaxCount: 1},
			Variant:      model.Variant{Type: model.VariantTypeTreatment, ID: "v1", PaywallID: "pw1"},
		}},
	}
	h := newHarness(t, []model.Trigger{trigger}, Options{})

	first := h.pipeline.Run(context.Background(), model.Event{Name: "app_open"}, model.Attributes{}, RunOptions{})
	assert.Equal(t, model.OutcomePaywall, first.Type)

	second := h.pipeline.Run(context.Background(), model.Event{Name: "app_open"}, model.Attributes{}, RunOptions{})
	require.Equal(t, model.OutcomeNoAudienceMatch, second.Type)
	require.Len(t, second.Unmatched, 1)
	assert.Equal(t, model.NoMatchOccurrence, second.Unmatched[0].Source)

	h.pipeline.Flush()
}

func TestPipeline_InvalidStoredVariantFallsBackToHoldout(t *testing.T) {
	h := newHarness(t, []model.Trigger{treatmentTrigger("campaign_trigger")}, Options{})

	// A durable row with an unrecognized variant type, e.g. written by a
	// newer build before a downgrade.
	require.NoError(t, h.backend.SaveAssignment(context.Background(), model.Assignment{
		ExperimentID: "exp1",
		Variant:      model.Variant{Type: "BANDIT", ID: "v9"},
		SentToServer: true,
	}))

	out := h.pipeline.Run(context.Background(), model.Event{Name: "campaign_trigger"}, model.Attributes{}, RunOptions{})
	h.pipeline.Flush()

	assert.Equal(t, model.OutcomeHoldout, out.Type)
	assert.Nil(t, out.Paywall)
	assert.Zero(t, h.fetcher.calls)
	assert.Zero(t, h.confirmer.count())
}

func TestPipeline_IdentityGateError(t *testing.T) {
	gateErr := errors.New("identity timed out")
	h := newHarness(t, []model.Trigger{treatmentTrigger("campaign_trigger")}, Options{
		Identity: identityFunc(func(ctx context.Context) error { return gateErr }),
	})

	out := h.pipeline.Run(context.Background(), model.Event{Name: "campaign_trigger"}, model.Attributes{}, RunOptions{})

	assert.Equal(t, model.OutcomeError, out.Type)
	assert.ErrorIs(t, out.Err, gateErr)
}

type identityFunc func(ctx context.Context) error

func (f identityFunc) AwaitIdentity(ctx context.Context) error { return f(ctx) }

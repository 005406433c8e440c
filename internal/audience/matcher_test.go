package audience

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tollgate-sdk/tollgate/internal/expression"
	"github.com/tollgate-sdk/tollgate/internal/occurrence"
	"github.com/tollgate-sdk/tollgate/internal/storage"
	"github.com/tollgate-sdk/tollgate/model"
)

func newTestMatcher(t *testing.T) (*Matcher, *storage.MemoryStore, *bytes.Buffer) {
	t.Helper()

	eval, err := expression.NewCELEvaluator()
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	return New(eval, occurrence.New(store, logger), logger), store, &logBuf
}

func treatment(experimentID, variantID string) model.Audience {
	return model.Audience{
		ExperimentID: experimentID,
		GroupID:      "campaign1",
		Variant: model.Variant{
			Type:      model.VariantTypeTreatment,
			ID:        variantID,
			PaywallID: "pw_" + variantID,
		},
	}
}

func TestMatcher_FirstMatchWins(t *testing.T) {
	matcher, _, _ := newTestMatcher(t)
	attrs := model.Attributes{User: map[string]any{"plan": "free"}}

	first := treatment("exp1", "v1")
	first.Expression = `user.plan == "free"`
	second := treatment("exp2", "v2")
	second.Expression = `user.plan == "free"`

	trigger := model.Trigger{EventName: "app_open", Audiences: []model.Audience{first, second}}

	result := matcher.Match(context.Background(), trigger, attrs, false)

	require.True(t, result.IsMatch())
	assert.Equal(t, "exp1", result.Matched.ExperimentID)

	// Reordering the list changes the winner.
	trigger.Audiences = []model.Audience{second, first}
	result = matcher.Match(context.Background(), trigger, attrs, false)

	require.True(t, result.IsMatch())
	assert.Equal(t, "exp2", result.Matched.ExperimentID)
}

func TestMatcher_CollectsAllRejectionReasons(t *testing.T) {
	matcher, _, _ := newTestMatcher(t)
	attrs := model.Attributes{User: map[string]any{"plan": "pro"}}

	failing := treatment("exp1", "v1")
	failing.Expression = `user.plan == "free"`

	throttled := treatment("exp2", "v2")
	throttled.Occurrence = &model.OccurrenceSpec{Key: "occ2", MaxCount: 1}

	trigger := model.Trigger{EventName: "app_open", Audiences: []model.Audience{failing, throttled}}

	// First scan: the throttled audience matches and spends its cap.
	result := matcher.Match(context.Background(), trigger, attrs, false)
	require.True(t, result.IsMatch())
	assert.Equal(t, "exp2", result.Matched.ExperimentID)

	// Second scan: everything rejects, each with its own source.
	result = matcher.Match(context.Background(), trigger, attrs, false)
	require.False(t, result.IsMatch())
	require.Len(t, result.Unmatched, 2)
	assert.Equal(t, model.UnmatchedAudience{ExperimentID: "exp1", Source: model.NoMatchExpression}, result.Unmatched[0])
	assert.Equal(t, model.UnmatchedAudience{ExperimentID: "exp2", Source: model.NoMatchOccurrence}, result.Unmatched[1])
}

func TestMatcher_EmptyExpressionWithOccurrenceCap(t *testing.T) {
	matcher, _, _ := newTestMatcher(t)

	aud := treatment("exp1", "v1")
	aud.Occurrence = &model.OccurrenceSpec{Key: "occ_once", MaxCount: 1}
	trigger := model.Trigger{EventName: "app_open", Audiences: []model.Audience{aud}}

	// First call matches and fires.
	result := matcher.Match(context.Background(), trigger, model.Attributes{}, false)
	require.True(t, result.IsMatch())

	// Second call rejects on occurrence even though the expression condition
	// is unconditionally true.
	result = matcher.Match(context.Background(), trigger, model.Attributes{}, false)
	require.False(t, result.IsMatch())
	require.Len(t, result.Unmatched, 1)
	assert.Equal(t, model.NoMatchOccurrence, result.Unmatched[0].Source)
}

func TestMatcher_ExpressionFailureNeverAbortsScan(t *testing.T) {
	matcher, _, logBuf := newTestMatcher(t)

	broken := treatment("exp1", "v1")
	broken.Expression = `user.plan ==` // malformed

	healthy := treatment("exp2", "v2")

	trigger := model.Trigger{EventName: "app_open", Audiences: []model.Audience{broken, healthy}}

	result := matcher.Match(context.Background(), trigger, model.Attributes{}, false)

	require.True(t, result.IsMatch())
	assert.Equal(t, "exp2", result.Matched.ExperimentID)
	assert.Contains(t, logBuf.String(), "audience expression failed")
}

func TestMatcher_PreemptiveScanIsSideEffectFree(t *testing.T) {
	matcher, store, _ := newTestMatcher(t)

	aud := treatment("exp1", "v1")
	aud.Occurrence = &model.OccurrenceSpec{Key: "occ1", MaxCount: 1}
	trigger := model.Trigger{EventName: "app_open", Audiences: []model.Audience{aud}}

	for i := 0; i < 5; i++ {
		result := matcher.Match(context.Background(), trigger, model.Attributes{}, true)
		require.True(t, result.IsMatch())
	}

	count, err := store.CountOccurrences(context.Background(), "occ1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

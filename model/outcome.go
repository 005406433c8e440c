package model

// OutcomeType enumerates the closed set of terminal pipeline results.
type OutcomeType string

const (
	// OutcomePaywall means a paywall should be presented.
	OutcomePaywall OutcomeType = "PAYWALL"
	// OutcomeHoldout means the user is in a no-paywall control group.
	OutcomeHoldout OutcomeType = "HOLDOUT"
	// OutcomeNoAudienceMatch means every audience rejected the event.
	OutcomeNoAudienceMatch OutcomeType = "NO_AUDIENCE_MATCH"
	// OutcomeEventNotFound means no trigger is configured for the event name.
	OutcomeEventNotFound OutcomeType = "EVENT_NOT_FOUND"
	// OutcomeSkipped means a matched paywall was suppressed, e.g. because the
	// user is already subscribed.
	OutcomeSkipped OutcomeType = "SKIPPED"
	// OutcomeError means evaluation or fetch failed; the SDK fails closed and
	// shows nothing.
	OutcomeError OutcomeType = "ERROR"
)

// NoMatchSource identifies which gate rejected an audience.
type NoMatchSource string

const (
	// NoMatchExpression means the boolean expression evaluated to false or
	// failed to evaluate.
	NoMatchExpression NoMatchSource = "EXPRESSION"
	// NoMatchOccurrence means the occurrence throttle was exhausted.
	NoMatchOccurrence NoMatchSource = "OCCURRENCE"
)

// UnmatchedAudience records why one audience was rejected during a scan.
type UnmatchedAudience struct {
	ExperimentID string        `json:"experimentId"`
	Source       NoMatchSource `json:"source"`
}

// SkipReason explains an OutcomeSkipped result.
type SkipReason string

const (
	// SkipUserIsSubscribed suppressed the paywall because the user already
	// holds an active entitlement.
	SkipUserIsSubscribed SkipReason = "USER_IS_SUBSCRIBED"
)

// Outcome is the terminal result of one pipeline invocation. Exactly the
// fields relevant to Type are populated.
type Outcome struct {
	Type OutcomeType `json:"type"`

	// Experiment is set for PAYWALL and HOLDOUT outcomes.
	Experiment *Experiment `json:"experiment,omitempty"`

	// Paywall is set for non-preemptive PAYWALL outcomes.
	Paywall *Paywall `json:"paywall,omitempty"`

	// Unmatched carries per-audience rejection reasons for NO_AUDIENCE_MATCH.
	Unmatched []UnmatchedAudience `json:"unmatched,omitempty"`

	// SkipReason is set for SKIPPED outcomes.
	SkipReason SkipReason `json:"skipReason,omitempty"`

	// Err is set for ERROR outcomes. It never escapes as a panic; callers
	// treat it as "no paywall for this event".
	Err error `json:"-"`
}

// ShouldPresent reports whether the outcome calls for rendering a paywall.
func (o Outcome) ShouldPresent() bool {
	return o.Type == OutcomePaywall
}

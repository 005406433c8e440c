// Package model defines the public data model of the Tollgate SDK: triggers,
// audiences, variants, experiments, assignments, events and paywall content.
// It also owns the JSON decoding of the remote trigger configuration.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// VariantType discriminates the two possible outcomes of an experiment.
type VariantType string

const (
	// VariantTypeTreatment shows a paywall identified by PaywallID.
	VariantTypeTreatment VariantType = "TREATMENT"
	// VariantTypeHoldout shows nothing. A holdout never carries a paywall identifier.
	VariantTypeHoldout VariantType = "HOLDOUT"
)

// Variant is the concrete outcome of an experiment for a user.
// Exactly one of the two types applies; PaywallID is only meaningful for treatments.
type Variant struct {
	Type      VariantType `json:"type"`
	ID        string      `json:"variantId"`
	PaywallID string      `json:"paywallIdentifier,omitempty"`
}

// Validate checks the tagged-union invariant.
func (v Variant) Validate() error {
	switch v.Type {
	case VariantTypeTreatment:
		return nil
	case VariantTypeHoldout:
		if v.PaywallID != "" {
			return fmt.Errorf("holdout variant %q carries a paywall identifier", v.ID)
		}
		return nil
	default:
		return fmt.Errorf("variant %q has unknown type %q", v.ID, v.Type)
	}
}

// IsHoldout reports whether the variant suppresses paywall presentation.
func (v Variant) IsHoldout() bool {
	return v.Type == VariantTypeHoldout
}

// VariantOption is one weighted choice used when provisioning a fresh
// unconfirmed assignment for an experiment. Percentages do not have to sum
// to 100; the chooser walks cumulative weights over whatever the sum is.
type VariantOption struct {
	Type       VariantType `json:"type"`
	ID         string      `json:"variantId"`
	Percentage int         `json:"percentage"`
	PaywallID  string      `json:"paywallIdentifier,omitempty"`
}

// Variant converts the option to the variant it denotes.
func (o VariantOption) Variant() Variant {
	return Variant{
		Type:      o.Type,
		ID:        o.ID,
		PaywallID: o.PaywallID,
	}
}

// OccurrenceSpec throttles how many times an audience may fire within a window.
// IntervalSeconds == 0 means the window is unbounded (count every firing since
// install).
type OccurrenceSpec struct {
	Key             string `json:"key"`
	MaxCount        int    `json:"maxCount"`
	IntervalSeconds int64  `json:"intervalSeconds"`
}

// Window returns the rolling window duration, or zero for an unbounded window.
func (o OccurrenceSpec) Window() time.Duration {
	return time.Duration(o.IntervalSeconds) * time.Second
}

// Audience is one conditional branch of a trigger. An empty Expression matches
// unconditionally; the occurrence throttle still applies.
type Audience struct {
	ExperimentID string          `json:"experimentId"`
	GroupID      string          `json:"groupId"`
	Expression   string          `json:"expression,omitempty"`
	Occurrence   *OccurrenceSpec `json:"occurrence,omitempty"`
	Variant      Variant         `json:"variant"`
	// Variants holds the weighted options used to provision an unconfirmed
	// assignment when neither disk nor memory has one. When absent, the
	// declared Variant is the only choice.
	Variants []VariantOption `json:"variants,omitempty"`
}

// Options returns the provisioning choices for the audience's experiment,
// falling back to the declared variant at full weight.
func (a Audience) Options() []VariantOption {
	if len(a.Variants) > 0 {
		return a.Variants
	}
	return []VariantOption{{
		Type:       a.Variant.Type,
		ID:         a.Variant.ID,
		Percentage: 100,
		PaywallID:  a.Variant.PaywallID,
	}}
}

// Validate checks the audience's internal invariants.
func (a Audience) Validate() error {
	if a.ExperimentID == "" {
		return fmt.Errorf("audience is missing an experiment id")
	}
	if err := a.Variant.Validate(); err != nil {
		return fmt.Errorf("audience %s: %w", a.ExperimentID, err)
	}
	for _, opt := range a.Variants {
		if err := opt.Variant().Validate(); err != nil {
			return fmt.Errorf("audience %s: %w", a.ExperimentID, err)
		}
	}
	if a.Occurrence != nil && a.Occurrence.MaxCount < 1 {
		return fmt.Errorf("audience %s: occurrence maxCount must be >= 1", a.ExperimentID)
	}
	return nil
}

// Trigger is a named hook that can cause a paywall evaluation. Audiences are
// ordered; declaration order is part of the matching contract.
type Trigger struct {
	EventName string     `json:"eventName"`
	Audiences []Audience `json:"audiences"`
}

// Validate checks the trigger and every audience it carries.
func (t Trigger) Validate() error {
	if t.EventName == "" {
		return fmt.Errorf("trigger is missing an event name")
	}
	for _, a := range t.Audiences {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("trigger %s: %w", t.EventName, err)
		}
	}
	return nil
}

// TriggerConfig is the inbound shape of the remote configuration fetch.
type TriggerConfig struct {
	Triggers []Trigger `json:"triggers"`
}

// DecodeTriggers parses and validates a remote trigger configuration document.
// The whole document is rejected on the first invalid trigger; configuration
// is swapped wholesale, never patched piecemeal.
func DecodeTriggers(data []byte) ([]Trigger, error) {
	var cfg TriggerConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode trigger config: %w", err)
	}
	for _, t := range cfg.Triggers {
		if err := t.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg.Triggers, nil
}

// TriggersByEvent indexes a trigger list by event name for O(1) lookup during
// evaluation. Later duplicates win, matching full-refresh semantics.
func TriggersByEvent(triggers []Trigger) map[string]Trigger {
	m := make(map[string]Trigger, len(triggers))
	for _, t := range triggers {
		m[t.EventName] = t
	}
	return m
}

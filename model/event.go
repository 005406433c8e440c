package model

import "time"

// Event is a single tracked application event that may trigger a paywall
// evaluation.
type Event struct {
	Name      string         `json:"name"`
	Params    map[string]any `json:"parameters,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Attributes bundles the three namespaces an audience expression can reference.
// Evaluation treats the snapshot as immutable; the same snapshot always yields
// the same result for a given expression.
type Attributes struct {
	// User holds arbitrary user attributes set by the host application.
	User map[string]any
	// Device holds templated device attributes (locale, OS version, ...).
	Device map[string]any
	// Params holds the parameters of the triggering event.
	Params map[string]any
}

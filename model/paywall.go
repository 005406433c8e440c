package model

// Product is one purchasable item referenced by a paywall.
type Product struct {
	ID    string `json:"productId"`
	Label string `json:"label"`
	// Price is the localized display price resolved by the product source.
	Price string `json:"price,omitempty"`
	// HasFreeTrial reports whether the underlying store product carries an
	// introductory offer.
	HasFreeTrial bool `json:"hasFreeTrial,omitempty"`
}

// Paywall is the fully resolved content object returned by the request
// coordinator: raw definition plus product substitution and derived variables.
type Paywall struct {
	Identifier string         `json:"identifier"`
	Name       string         `json:"name"`
	URL        string         `json:"url"`
	Products   []Product      `json:"products"`
	Variables  map[string]any `json:"variables,omitempty"`
	// IsFreeTrialAvailable is a mutable sub-field: it is re-derived on every
	// cache hit because trial eligibility changes with purchase state.
	IsFreeTrialAvailable bool `json:"isFreeTrialAvailable"`
	// Experiment records which experiment/variant produced this paywall, when
	// the fetch came out of an audience evaluation rather than a direct call.
	Experiment *Experiment `json:"experiment,omitempty"`
	// RequestHash is the cache key the paywall was stored under.
	RequestHash string `json:"-"`
}

// ProductOverrides substitutes products or forces free-trial state for a
// single fetch attempt. Requests carrying overrides bypass the memoized cache.
type ProductOverrides struct {
	Products  []Product `json:"products,omitempty"`
	FreeTrial *bool     `json:"freeTrial,omitempty"`
}

// PaywallRequest describes one fetch attempt. Ephemeral; a new value is built
// per attempt.
type PaywallRequest struct {
	// PaywallID selects a paywall directly. When empty, the event name is used
	// as the response identifier.
	PaywallID string `json:"paywallId,omitempty"`
	// Event is the triggering event context, if any.
	Event *Event `json:"event,omitempty"`
	// Experiment carries the resolved experiment for attribution.
	Experiment *Experiment `json:"experiment,omitempty"`
	// Locale keys the cache alongside the identifier.
	Locale string `json:"locale"`
	// Overrides, when present, forces a fresh fetch.
	Overrides *ProductOverrides `json:"overrides,omitempty"`
	// Preview marks debug/interactive-preview fetches, which never reuse the
	// cache.
	Preview bool `json:"preview,omitempty"`
}

// Identifier returns the response identifier the request resolves against:
// the explicit paywall id, the event name, or the manual-call sentinel.
func (r PaywallRequest) Identifier() string {
	if r.PaywallID != "" {
		return r.PaywallID
	}
	if r.Event != nil && r.Event.Name != "" {
		return r.Event.Name
	}
	return "$called_manually"
}

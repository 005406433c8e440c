package tollgate

import (
	"log/slog"

	"github.com/tollgate-sdk/tollgate/internal/paywall"
	"github.com/tollgate-sdk/tollgate/internal/pipeline"
	"github.com/tollgate-sdk/tollgate/internal/storage"
)

// Option customizes a Client at construction time.
type Option func(*Client)

// WithLogger replaces the logger built from configuration.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.logger = log }
}

// WithStore injects a durable store, bypassing the driver selected by
// configuration. The caller keeps ownership; Close will not close it.
func WithStore(store storage.Store) Option {
	return func(c *Client) {
		c.store = store
		c.ownsStore = false
	}
}

// WithContentSource injects the paywall content source. Defaults to the HTTP
// client when the network is configured.
func WithContentSource(src paywall.ContentSource) Option {
	return func(c *Client) { c.content = src }
}

// WithProductSource injects live product state resolution for free-trial
// eligibility.
func WithProductSource(src paywall.ProductSource) Option {
	return func(c *Client) { c.products = src }
}

// WithSubscriptionProvider wires the subscription gate. Without one, paywalls
// are presented regardless of entitlement state.
func WithSubscriptionProvider(provider pipeline.SubscriptionProvider) Option {
	return func(c *Client) { c.subs = provider }
}

// WithIdentityGate blocks evaluations until the host's identity subsystem is
// ready.
func WithIdentityGate(gate pipeline.IdentityGate) Option {
	return func(c *Client) { c.identity = gate }
}

// WithConfirmer injects the assignment confirmation collaborator. Defaults to
// the HTTP client when the network is configured.
func WithConfirmer(confirmer pipeline.Confirmer) Option {
	return func(c *Client) { c.confirmer = confirmer }
}

// WithLocale sets the locale used to key the paywall cache. Defaults to
// "en_US".
func WithLocale(locale string) Option {
	return func(c *Client) { c.locale = locale }
}

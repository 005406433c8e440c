// Package tollgate is an audience rule evaluation and experiment assignment
// engine for mobile paywalls. A Client evaluates events against a remotely
// configured trigger set, assigns users to experiment variants with durable
// confirmation, and serves paywall content through a deduplicating cache.
package tollgate

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/tollgate-sdk/tollgate/internal/assignment"
	"github.com/tollgate-sdk/tollgate/internal/audience"
	"github.com/tollgate-sdk/tollgate/internal/config"
	"github.com/tollgate-sdk/tollgate/internal/expression"
	"github.com/tollgate-sdk/tollgate/internal/logger"
	"github.com/tollgate-sdk/tollgate/internal/network"
	"github.com/tollgate-sdk/tollgate/internal/occurrence"
	"github.com/tollgate-sdk/tollgate/internal/paywall"
	"github.com/tollgate-sdk/tollgate/internal/pipeline"
	"github.com/tollgate-sdk/tollgate/internal/storage"
	"github.com/tollgate-sdk/tollgate/model"
)

const defaultLocale = "en_US"

// Client is one isolated engine instance. There are no package-level
// singletons; multiple clients with independent stores can coexist in one
// process.
type Client struct {
	cfg    *config.Config
	logger *slog.Logger

	store     storage.Store
	ownsStore bool

	content   paywall.ContentSource
	products  paywall.ProductSource
	confirmer pipeline.Confirmer
	identity  pipeline.IdentityGate
	subs      pipeline.SubscriptionProvider
	locale    string

	assignments *assignment.Store
	coordinator *paywall.Coordinator
	pipeline    *pipeline.Pipeline
	netClient   *network.Client

	mu       sync.RWMutex
	triggers map[string]model.Trigger
	raw      []model.Trigger
	user     map[string]any
	device   map[string]any
}

// New constructs a Client from configuration. A nil cfg uses in-memory
// defaults, which is the right shape for tests and offline evaluation.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("tollgate: invalid config: %w", err)
	}

	c := &Client{
		cfg:       cfg,
		ownsStore: true,
		triggers:  map[string]model.Trigger{},
		user:      map[string]any{},
		device:    map[string]any{},
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.locale == "" {
		c.locale = cfg.App.Locale
	}
	if c.locale == "" {
		c.locale = defaultLocale
	}

	if c.logger == nil {
		c.logger = logger.New(&cfg.App)
	}

	if c.store == nil {
		store, err := storage.New(context.Background(), &cfg.Storage, c.logger)
		if err != nil {
			return nil, fmt.Errorf("tollgate: open store: %w", err)
		}
		c.store = store
	}

	if cfg.Network.IsConfigured() {
		c.netClient = network.NewClient(&cfg.Network, logger.Component(c.logger, "network"))
		if c.content == nil {
			c.content = c.netClient
		}
		if c.confirmer == nil {
			c.confirmer = c.netClient
		}
	}

	evaluator, err := expression.NewCELEvaluator()
	if err != nil {
		return nil, fmt.Errorf("tollgate: build evaluator: %w", err)
	}

	tracker := occurrence.New(c.store, logger.Component(c.logger, "occurrence"))
	matcher := audience.New(evaluator, tracker, logger.Component(c.logger, "audience"))
	c.assignments = assignment.NewStore(c.store, logger.Component(c.logger, "assignment"))
	resolver := assignment.NewResolver(c.assignments, logger.Component(c.logger, "assignment"))

	var fetcher pipeline.PaywallFetcher
	if c.content != nil {
		coordinator, err := paywall.NewCoordinator(
			c.content,
			c.products,
			cfg.Cache.Capacity,
			cfg.Cache.TTL,
			logger.Component(c.logger, "paywall"),
		)
		if err != nil {
			return nil, err
		}
		c.coordinator = coordinator
		fetcher = coordinator
	}

	c.pipeline = pipeline.New(c.snapshot, matcher, resolver, c.assignments, pipeline.Options{
		Fetcher:   fetcher,
		Confirmer: c.confirmer,
		Identity:  c.identity,
		Subs:      c.subs,
		Logger:    logger.Component(c.logger, "pipeline"),
	})

	return c, nil
}

// Evaluate runs the full pipeline for an event: audience match, assignment,
// subscription gate, paywall fetch and async confirmation. The outcome is
// always a terminal from the closed set; Err mirrors outcome errors for
// callers that prefer error handling.
func (c *Client) Evaluate(ctx context.Context, event model.Event) (model.Outcome, error) {
	out := c.pipeline.Run(ctx, event, c.attributes(event), pipeline.RunOptions{Locale: c.locale})
	return out, out.Err
}

// Predict returns the outcome Evaluate would produce, without any side
// effect: no occurrence record, no confirmation, no content fetch.
func (c *Client) Predict(ctx context.Context, event model.Event) (model.Outcome, error) {
	out := c.pipeline.Run(ctx, event, c.attributes(event), pipeline.RunOptions{
		Preemptive: true,
		Locale:     c.locale,
	})
	return out, out.Err
}

// GetPaywall fetches paywall content directly, outside an event evaluation.
// Requests without a locale inherit the client's.
func (c *Client) GetPaywall(ctx context.Context, req model.PaywallRequest) (*model.Paywall, error) {
	if c.coordinator == nil {
		return nil, fmt.Errorf("tollgate: no content source configured")
	}
	if req.Locale == "" {
		req.Locale = c.locale
	}
	p, err := c.coordinator.Get(ctx, req)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ConfirmPendingAssignments flushes every assignment awaiting server
// acknowledgement in one batch, then marks them confirmed locally.
func (c *Client) ConfirmPendingAssignments(ctx context.Context) error {
	if c.confirmer == nil {
		return fmt.Errorf("tollgate: no confirmation collaborator configured")
	}

	pending, err := c.assignments.Pending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	if err := c.confirmer.ConfirmAssignments(ctx, pending); err != nil {
		return fmt.Errorf("tollgate: confirm assignments: %w", err)
	}

	for _, p := range pending {
		if err := c.assignments.Confirm(ctx, p.ExperimentID); err != nil {
			return err
		}
	}
	c.logger.Info("flushed pending assignments", slog.Int("count", len(pending)))
	return nil
}

// SetUserAttributes merges attributes into the ambient user context used by
// rule expressions. A nil value deletes the key.
func (c *Client) SetUserAttributes(attrs map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mergeAttrs(c.user, attrs)
}

// SetDeviceAttributes merges attributes into the ambient device context.
func (c *Client) SetDeviceAttributes(attrs map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mergeAttrs(c.device, attrs)
}

// UpdateConfig atomically swaps the trigger set. The whole document is
// validated and rejected as a unit; on success, unconfirmed variants are
// provisioned for experiments that have no assignment yet.
func (c *Client) UpdateConfig(ctx context.Context, triggers []model.Trigger) error {
	for _, t := range triggers {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("tollgate: invalid config: %w", err)
		}
	}

	if err := c.assignments.Provision(ctx, triggers, nil); err != nil {
		return err
	}

	c.mu.Lock()
	c.raw = triggers
	c.triggers = model.TriggersByEvent(triggers)
	c.mu.Unlock()

	c.logger.Info("trigger config updated", slog.Int("triggers", len(triggers)))
	return nil
}

// RefreshConfig pulls the trigger configuration from the backend and applies
// it via UpdateConfig.
func (c *Client) RefreshConfig(ctx context.Context) error {
	if c.netClient == nil {
		return fmt.Errorf("tollgate: no network configured")
	}
	triggers, err := c.netClient.FetchConfig(ctx)
	if err != nil {
		return err
	}
	return c.UpdateConfig(ctx, triggers)
}

// Reset clears all user-scoped state: assignments, occurrence records,
// ambient attributes and the paywall cache. The trigger config survives;
// fresh unconfirmed variants are provisioned against it.
func (c *Client) Reset(ctx context.Context) error {
	if err := c.assignments.Reset(ctx); err != nil {
		return err
	}
	if c.coordinator != nil {
		c.coordinator.Clear()
	}

	c.mu.Lock()
	c.user = map[string]any{}
	c.device = map[string]any{}
	raw := c.raw
	c.mu.Unlock()

	if len(raw) > 0 {
		if err := c.assignments.Provision(ctx, raw, nil); err != nil {
			return err
		}
	}

	c.logger.Info("client state reset")
	return nil
}

// Close waits for in-flight confirmations and releases the store and cache.
func (c *Client) Close() error {
	c.pipeline.Flush()
	if c.coordinator != nil {
		c.coordinator.Close()
	}
	if c.ownsStore {
		return c.store.Close()
	}
	return nil
}

// Store exposes the durable store for health probes and auxiliary tooling.
func (c *Client) Store() storage.Store {
	return c.store
}

func (c *Client) snapshot() map[string]model.Trigger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.triggers
}

func (c *Client) attributes(event model.Event) model.Attributes {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return model.Attributes{
		User:   maps.Clone(c.user),
		Device: maps.Clone(c.device),
		Params: event.Params,
	}
}

func mergeAttrs(dst, src map[string]any) {
	for k, v := range src {
		if v == nil {
			delete(dst, k)
			continue
		}
		dst[k] = v
	}
}

package ruleset

import (
	"context"

	"grimm.is/ruledesk/internal/clock"
	"grimm.is/ruledesk/internal/events"
	"grimm.is/ruledesk/internal/logging"
	"grimm.is/ruledesk/internal/metrics"
)

// Lister lists the live ruleset. Implemented by the kernel collaborators.
type Lister interface {
	ListRuleset(ctx context.Context) (*Ruleset, error)
}

// Client fetches and renders snapshots on demand. It holds no cache: every
// Fetch is a fresh kernel listing.
type Client struct {
	lister  Lister
	clock   clock.Clock
	logger  *logging.Logger
	metrics *metrics.Registry
	hub     *events.Hub
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClock sets the clock used for FetchedAt.
func WithClock(c clock.Clock) ClientOption {
	return func(cl *Client) { cl.clock = c }
}

// WithLogger sets the client's logger.
func WithLogger(l *logging.Logger) ClientOption {
	return func(cl *Client) { cl.logger = l }
}

// WithMetrics enables fetch metrics.
func WithMetrics(m *metrics.Registry) ClientOption {
	return func(cl *Client) { cl.metrics = m }
}

// WithEvents publishes every successful fetch to hub.
func WithEvents(hub *events.Hub) ClientOption {
	return func(cl *Client) { cl.hub = hub }
}

// NewClient creates a Client reading from lister.
func NewClient(lister Lister, opts ...ClientOption) *Client {
	c := &Client{lister: lister}
	for _, opt := range opts {
		opt(c)
	}
	c.clock = clock.Or(c.clock)
	if c.logger == nil {
		c.logger = logging.WithComponent("ruleset")
	}
	return c
}

// Fetch lists the ruleset and renders every rule.
func (c *Client) Fetch(ctx context.Context) (*Snapshot, error) {
	start := c.clock.Now()
	rs, err := c.lister.ListRuleset(ctx)
	if err != nil {
		c.logger.Warn("ruleset listing failed", "error", err)
		if c.metrics != nil {
			c.metrics.RecordFetch(0, 0, c.clock.Since(start), err)
		}
		return nil, err
	}
	if rs == nil {
		rs = &Ruleset{}
	}

	snap := &Snapshot{
		FetchedAt: c.clock.Now(),
		Tables:    RenderRuleset(rs),
		Warnings:  rs.Warnings,
		Ruleset:   rs,
	}
	rules := len(rs.Rules())
	for _, w := range rs.Warnings {
		c.logger.Warn("ruleset listing degraded", "warning", w)
	}
	c.logger.Debug("ruleset fetched", "tables", len(rs.Tables), "rules", rules)
	if c.metrics != nil {
		c.metrics.RecordFetch(rules, len(rs.Warnings), c.clock.Since(start), nil)
	}
	c.hub.EmitFetch(rules, rs.Warnings)
	return snap, nil
}

// Defaults fetches the ruleset and resolves the proposed context and choices.
func (c *Client) Defaults(ctx context.Context, base Baseline) (Context, Choices, error) {
	snap, err := c.Fetch(ctx)
	if err != nil {
		return Context{}, Choices{}, err
	}
	return ResolveDefaults(snap.Ruleset), BuildChoices(snap.Ruleset, base), nil
}

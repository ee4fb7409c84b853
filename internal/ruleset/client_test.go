package ruleset

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/ruledesk/internal/clock"
	"grimm.is/ruledesk/internal/events"
	"grimm.is/ruledesk/internal/metrics"
)

type listerFunc func(ctx context.Context) (*Ruleset, error)

func (f listerFunc) ListRuleset(ctx context.Context) (*Ruleset, error) { return f(ctx) }

func TestClient_FetchRendersEveryCall(t *testing.T) {
	calls := 0
	lister := listerFunc(func(ctx context.Context) (*Ruleset, error) {
		calls++
		rs := &Ruleset{}
		rs.AddRule(&Rule{Family: "inet", Table: "filter", Chain: "INPUT", Handle: uint64(calls), Raw: "accept"})
		return rs, nil
	})

	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	c := NewClient(lister, WithClock(clock.NewMockClock(now)), WithMetrics(metrics.Get()))

	first, err := c.Fetch(context.Background())
	require.NoError(t, err)
	second, err := c.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, calls, "every fetch must hit the lister")
	assert.Equal(t, now, first.FetchedAt)
	assert.Equal(t, uint64(1), first.Views()[0].Handle)
	assert.Equal(t, uint64(2), second.Views()[0].Handle)
	assert.False(t, second.Degraded())
}

func TestClient_FetchCarriesWarnings(t *testing.T) {
	lister := listerFunc(func(ctx context.Context) (*Ruleset, error) {
		return &Ruleset{Warnings: []string{"table ip filter is managed by iptables-nft"}}, nil
	})
	hub := events.NewHub()
	feed := hub.Subscribe(1, events.EventRulesetFetched)

	snap, err := NewClient(lister, WithEvents(hub)).Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Degraded())
	assert.Equal(t, []string{"table ip filter is managed by iptables-nft"}, snap.Warnings)

	e := <-feed
	assert.Equal(t, events.FetchData{Rules: 0, Warnings: snap.Warnings}, e.Data)
}

func TestClient_FetchError(t *testing.T) {
	boom := errors.New("nft: executable file not found")
	lister := listerFunc(func(ctx context.Context) (*Ruleset, error) { return nil, boom })

	snap, err := NewClient(lister).Fetch(context.Background())
	assert.Nil(t, snap)
	assert.ErrorIs(t, err, boom)
}

func TestClient_Defaults(t *testing.T) {
	lister := listerFunc(func(ctx context.Context) (*Ruleset, error) { return nil, nil })

	ctx, choices, err := NewClient(lister).Defaults(context.Background(), DefaultBaseline())
	require.NoError(t, err)
	assert.Equal(t, FallbackContext, ctx)
	assert.Contains(t, choices.Chains, "INPUT")
}

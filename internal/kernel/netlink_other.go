//go:build !linux

package kernel

import (
	"context"

	"grimm.is/ruledesk/internal/errors"
	"grimm.is/ruledesk/internal/ruleset"
)

// NetlinkClient is only available on Linux.
type NetlinkClient struct{}

// NewNetlinkClient always fails off Linux.
func NewNetlinkClient(adder *NFTClient, nsName string) (*NetlinkClient, error) {
	return nil, errors.New(errors.KindTransport, "the netlink backend requires linux")
}

func (c *NetlinkClient) ListRuleset(ctx context.Context) (*ruleset.Ruleset, error) {
	return nil, errors.New(errors.KindTransport, "the netlink backend requires linux")
}

func (c *NetlinkClient) AddRule(ctx context.Context, req AddRequest) (uint64, error) {
	return 0, errors.New(errors.KindTransport, "the netlink backend requires linux")
}

func (c *NetlinkClient) ReplaceRule(ctx context.Context, old ruleset.RuleRef, req AddRequest) (uint64, error) {
	return 0, errors.New(errors.KindTransport, "the netlink backend requires linux")
}

func (c *NetlinkClient) DeleteRule(ctx context.Context, ref ruleset.RuleRef) error {
	return errors.New(errors.KindTransport, "the netlink backend requires linux")
}

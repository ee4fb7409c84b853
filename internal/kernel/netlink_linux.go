//go:build linux

package kernel

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/nftables"
	"github.com/vishvananda/netns"

	"grimm.is/ruledesk/internal/errors"
	"grimm.is/ruledesk/internal/logging"
	"grimm.is/ruledesk/internal/ruleset"
)

// NetlinkConn is the subset of nftables.Conn the netlink backend uses.
type NetlinkConn interface {
	ListTables() ([]*nftables.Table, error)
	ListChainsOfTableFamily(family nftables.TableFamily) ([]*nftables.Chain, error)
	GetRules(t *nftables.Table, c *nftables.Chain) ([]*nftables.Rule, error)
	GetSets(t *nftables.Table) ([]*nftables.Set, error)
	GetSetElements(s *nftables.Set) ([]nftables.SetElement, error)
	DelRule(r *nftables.Rule) error
	Flush() error
}

// NetlinkClient lists and deletes rules over netlink. Adds go through the
// nft binary, since parsing rule text into netlink expressions is nft's job.
type NetlinkClient struct {
	mu     sync.Mutex
	conn   NetlinkConn
	nsName string
	adder  *NFTClient
	logger *logging.Logger
}

// NewNetlinkClient opens a netlink connection, inside the named network
// namespace when nsName is set.
func NewNetlinkClient(adder *NFTClient, nsName string) (*NetlinkClient, error) {
	var opts []nftables.ConnOption
	if nsName != "" {
		ns, err := netns.GetFromName(nsName)
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindTransport, "failed to open network namespace %s", nsName)
		}
		// The connection keeps its own reference to the namespace.
		defer ns.Close()
		opts = append(opts, nftables.WithNetNSFd(int(ns)))
	}
	conn, err := nftables.New(opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindTransport, "failed to open netlink connection")
	}
	return newNetlinkClient(conn, adder, nsName), nil
}

func newNetlinkClient(conn NetlinkConn, adder *NFTClient, nsName string) *NetlinkClient {
	return &NetlinkClient{
		conn:   conn,
		nsName: nsName,
		adder:  adder,
		logger: logging.WithComponent("netlink"),
	}
}

// ListRuleset reads every table, chain and rule over netlink.
func (c *NetlinkClient) ListRuleset(ctx context.Context) (*ruleset.Ruleset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tables, err := c.conn.ListTables()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindTransport, "failed to list tables")
	}

	rs := &ruleset.Ruleset{}
	chainsByFamily := make(map[nftables.TableFamily][]*nftables.Chain)
	for _, t := range tables {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.KindTransport, "listing canceled")
		}

		// Netlink table and chain objects carry no handle; only rules do.
		family := familyName(t.Family)
		rs.Tables = append(rs.Tables, &ruleset.Table{Family: family, Name: t.Name})

		chains, ok := chainsByFamily[t.Family]
		if !ok {
			chains, err = c.conn.ListChainsOfTableFamily(t.Family)
			if err != nil {
				return nil, errors.Wrapf(err, errors.KindTransport, "failed to list chains of %s", family)
			}
			chainsByFamily[t.Family] = chains
		}

		resolve := c.setResolver(t, rs)
		for _, ch := range chains {
			if ch.Table == nil || ch.Table.Name != t.Name {
				continue
			}
			chain := rs.EnsureChain(family, t.Name, ch.Name)
			chain.Type = string(ch.Type)
			if ch.Hooknum != nil {
				chain.Hook = hookName(family, uint32(*ch.Hooknum))
			}
			if ch.Priority != nil {
				prio := int(*ch.Priority)
				chain.Priority = &prio
			}
			if ch.Policy != nil {
				chain.Policy = "accept"
				if *ch.Policy == nftables.ChainPolicyDrop {
					chain.Policy = "drop"
				}
			}

			rules, err := c.conn.GetRules(t, ch)
			if err != nil {
				return nil, errors.Wrapf(err, errors.KindTransport, "failed to list rules of %s %s %s", family, t.Name, ch.Name)
			}
			for _, r := range rules {
				rs.AddRule(c.decodeRule(family, t.Name, ch.Name, r, resolve))
			}
		}
	}
	return rs, nil
}

func (c *NetlinkClient) decodeRule(family, table, chain string, r *nftables.Rule, resolve setResolver) *ruleset.Rule {
	out := &ruleset.Rule{
		Family:     family,
		Table:      table,
		Chain:      chain,
		Handle:     r.Handle,
		Comment:    ruleComment(r.UserData),
		Structured: true,
	}
	if len(r.Exprs) > 0 {
		if raw, err := json.Marshal(r.Exprs); err == nil {
			out.Raw = string(raw)
		}
	}
	out.Exprs = decodeNetlinkRule(family, r.Exprs, resolve)
	return out
}

// setResolver loads anonymous set elements on demand. Failures are recorded
// as warnings and leave the lookup as a set reference.
func (c *NetlinkClient) setResolver(t *nftables.Table, rs *ruleset.Ruleset) setResolver {
	var sets []*nftables.Set
	loaded := false
	return func(name string, kind valueKind) []ruleset.Value {
		if !loaded {
			loaded = true
			var err error
			sets, err = c.conn.GetSets(t)
			if err != nil {
				rs.Warnings = append(rs.Warnings, "could not read sets of table "+t.Name+": "+err.Error())
			}
		}
		for _, s := range sets {
			if s.Name != name {
				continue
			}
			elems, err := c.conn.GetSetElements(s)
			if err != nil {
				rs.Warnings = append(rs.Warnings, "could not read set "+name+": "+err.Error())
				return nil
			}
			var out []ruleset.Value
			for i := 0; i < len(elems); i++ {
				e := elems[i]
				if e.IntervalEnd {
					continue
				}
				out = append(out, ruleset.Scalar{Text: decodeText(kind, e.Key)})
			}
			return out
		}
		return nil
	}
}

// AddRule delegates to nft.
func (c *NetlinkClient) AddRule(ctx context.Context, req AddRequest) (uint64, error) {
	return c.adder.AddRule(ctx, req)
}

// ReplaceRule delegates to nft so both halves stay in one transaction.
func (c *NetlinkClient) ReplaceRule(ctx context.Context, old ruleset.RuleRef, req AddRequest) (uint64, error) {
	return c.adder.ReplaceRule(ctx, old, req)
}

// DeleteRule removes one rule by handle over netlink.
func (c *NetlinkClient) DeleteRule(ctx context.Context, ref ruleset.RuleRef) error {
	if err := ValidateRef(ref); err != nil {
		return err
	}
	family, _ := familyValue(ref.Family)
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.KindTransport, "delete canceled")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	table := &nftables.Table{Name: ref.Table, Family: family}
	rule := &nftables.Rule{
		Table:  table,
		Chain:  &nftables.Chain{Name: ref.Chain, Table: table},
		Handle: ref.Handle,
	}
	if err := c.conn.DelRule(rule); err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to queue rule deletion")
	}
	if err := c.conn.Flush(); err != nil {
		rejection := errors.New(errors.KindKernelRejection, err.Error())
		return errors.Attr(rejection, "call", "delete")
	}
	c.logger.Info("rule deleted", "rule", ref.String(), "netns", c.nsName)
	return nil
}

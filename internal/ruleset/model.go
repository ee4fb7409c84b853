// Package ruleset models a snapshot of the kernel's nftables configuration and
// turns it into operator-readable text.
//
// A Ruleset is rebuilt wholesale on every fetch and never treated as
// authoritative: the kernel owns the truth, this package only reads it.
// Rules are identified solely by their kernel-assigned handle.
package ruleset

import (
	"fmt"
	"time"
)

// Families offered for authoring. Other kernel families (arp, bridge, netdev)
// are listed when present but never proposed as defaults.
var Families = []string{"inet", "ip", "ip6"}

// IsAuthoringFamily reports whether rules may be authored in family f.
func IsAuthoringFamily(f string) bool {
	for _, fam := range Families {
		if fam == f {
			return true
		}
	}
	return false
}

// Ruleset is an ordered view of every table the kernel reported.
type Ruleset struct {
	Tables []*Table `json:"tables"`

	// Warnings carries soft-degradation markers reported while listing.
	Warnings []string `json:"warnings,omitempty"`
}

// Table is unique by (Family, Name).
type Table struct {
	Family string   `json:"family"`
	Name   string   `json:"name"`
	Handle uint64   `json:"handle,omitempty"`
	Chains []*Chain `json:"chains"`
}

// Chain carries read-only display attributes; base chains have Type and Hook set.
type Chain struct {
	Family   string  `json:"family"`
	Table    string  `json:"table"`
	Name     string  `json:"name"`
	Handle   uint64  `json:"handle,omitempty"`
	Type     string  `json:"type,omitempty"`
	Hook     string  `json:"hook,omitempty"`
	Priority *int    `json:"priority,omitempty"`
	Policy   string  `json:"policy,omitempty"`
	Rules    []*Rule `json:"-"`
}

// Rule is a single kernel rule.
type Rule struct {
	Family  string
	Table   string
	Chain   string
	Handle  uint64
	Exprs   []Expression
	Comment string

	// Raw is the untouched stored representation: the JSON expression array
	// for structured listings, or the rule body for plain-text listings.
	Raw string

	// Structured reports whether Exprs were decoded from a structured listing.
	Structured bool
}

// RuleRef addresses one rule. Handle is the only identity; the triple only
// scopes the kernel lookup.
type RuleRef struct {
	Family string `json:"family"`
	Table  string `json:"table"`
	Chain  string `json:"chain"`
	Handle uint64 `json:"handle"`
}

// Ref returns the reference for r.
func (r *Rule) Ref() RuleRef {
	return RuleRef{Family: r.Family, Table: r.Table, Chain: r.Chain, Handle: r.Handle}
}

// Triple returns the rule's (family, table, chain) context.
func (r *Rule) Triple() Context {
	return Context{Family: r.Family, Table: r.Table, Chain: r.Chain}
}

func (r RuleRef) String() string {
	return fmt.Sprintf("%s/%s/%s#%d", r.Family, r.Table, r.Chain, r.Handle)
}

// Context is a (family, table, chain) triple.
type Context struct {
	Family string `json:"family"`
	Table  string `json:"table"`
	Chain  string `json:"chain"`
}

func (c Context) String() string {
	return c.Family + "/" + c.Table + "/" + c.Chain
}

// Table returns the table (family, name), or nil.
func (rs *Ruleset) Table(family, name string) *Table {
	if rs == nil {
		return nil
	}
	for _, t := range rs.Tables {
		if t.Family == family && t.Name == name {
			return t
		}
	}
	return nil
}

// Chain returns the named chain of the table, or nil.
func (t *Table) Chain(name string) *Chain {
	if t == nil {
		return nil
	}
	for _, c := range t.Chains {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ensureTable returns the table (family, name), appending it when missing.
func (rs *Ruleset) ensureTable(family, name string) *Table {
	if t := rs.Table(family, name); t != nil {
		return t
	}
	t := &Table{Family: family, Name: name}
	rs.Tables = append(rs.Tables, t)
	return t
}

// EnsureChain returns the chain, appending it (and its table) when missing.
func (rs *Ruleset) EnsureChain(family, table, name string) *Chain {
	t := rs.ensureTable(family, table)
	if c := t.Chain(name); c != nil {
		return c
	}
	c := &Chain{Family: family, Table: table, Name: name}
	t.Chains = append(t.Chains, c)
	return c
}

// AddRule appends r to its chain, creating table and chain entries as needed.
func (rs *Ruleset) AddRule(r *Rule) {
	c := rs.EnsureChain(r.Family, r.Table, r.Chain)
	c.Rules = append(c.Rules, r)
}

// Rules returns every rule in listing order.
func (rs *Ruleset) Rules() []*Rule {
	if rs == nil {
		return nil
	}
	var out []*Rule
	for _, t := range rs.Tables {
		for _, c := range t.Chains {
			out = append(out, c.Rules...)
		}
	}
	return out
}

// Index maps every rule reference to its rule.
func (rs *Ruleset) Index() map[RuleRef]*Rule {
	idx := make(map[RuleRef]*Rule)
	for _, r := range rs.Rules() {
		idx[r.Ref()] = r
	}
	return idx
}

// Find returns the rule addressed by ref, or nil.
func (rs *Ruleset) Find(ref RuleRef) *Rule {
	for _, r := range rs.Rules() {
		if r.Ref() == ref {
			return r
		}
	}
	return nil
}

// HasChain reports whether the listing contains the triple.
func (rs *Ruleset) HasChain(ctx Context) bool {
	return rs.Table(ctx.Family, ctx.Table).Chain(ctx.Chain) != nil
}

// Snapshot is a fetched Ruleset with its render pass applied.
type Snapshot struct {
	FetchedAt time.Time   `json:"fetched_at"`
	Tables    []TableView `json:"tables"`
	Warnings  []string    `json:"warnings,omitempty"`
	Ruleset   *Ruleset    `json:"-"`
}

// Degraded reports whether the listing carried soft-degradation markers.
func (s *Snapshot) Degraded() bool {
	return s != nil && len(s.Warnings) > 0
}

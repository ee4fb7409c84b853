package ruleset

import "strings"

// FallbackContext is proposed when the kernel reports no rules at all.
var FallbackContext = Context{Family: "inet", Table: "filter", Chain: "INPUT"}

// Baseline is the fixed vocabulary offered alongside observed names.
type Baseline struct {
	Families []string `json:"families"`
	Tables   []string `json:"tables"`
	Chains   []string `json:"chains"`
}

// DefaultBaseline returns the stock vocabulary.
func DefaultBaseline() Baseline {
	return Baseline{
		Families: append([]string(nil), Families...),
		Tables:   []string{"filter", "nat"},
		Chains:   []string{"INPUT", "FORWARD", "OUTPUT", "PREROUTING", "POSTROUTING"},
	}
}

// ResolveDefaults proposes the context for a new rule: the first rule whose
// chain name contains "INPUT", else the first rule, else FallbackContext.
// Matching is by substring, so CUSTOM_INPUT_V2 qualifies. Rules in families
// that cannot be authored (arp, bridge, netdev) are never proposed.
func ResolveDefaults(rs *Ruleset) Context {
	var rules []*Rule
	for _, r := range rs.Rules() {
		if IsAuthoringFamily(r.Family) {
			rules = append(rules, r)
		}
	}
	for _, r := range rules {
		if strings.Contains(r.Chain, "INPUT") {
			return r.Triple()
		}
	}
	if len(rules) > 0 {
		return rules[0].Triple()
	}
	return FallbackContext
}

// Choices lists the names offered for each context field.
type Choices struct {
	Families []string `json:"families"`
	Tables   []string `json:"tables"`
	Chains   []string `json:"chains"`
}

// BuildChoices returns observed names first, in listing order, followed by
// baseline entries not already present.
func BuildChoices(rs *Ruleset, base Baseline) Choices {
	fams := newOrderedSet()
	tables := newOrderedSet()
	chains := newOrderedSet()

	if rs != nil {
		for _, t := range rs.Tables {
			if IsAuthoringFamily(t.Family) {
				fams.add(t.Family)
			}
			tables.add(t.Name)
			for _, c := range t.Chains {
				chains.add(c.Name)
			}
		}
	}

	fams.add(base.Families...)
	tables.add(base.Tables...)
	chains.add(base.Chains...)

	return Choices{Families: fams.items, Tables: tables.items, Chains: chains.items}
}

type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{}), items: []string{}}
}

func (s *orderedSet) add(vals ...string) {
	for _, v := range vals {
		if v == "" {
			continue
		}
		if _, ok := s.seen[v]; ok {
			continue
		}
		s.seen[v] = struct{}{}
		s.items = append(s.items, v)
	}
}

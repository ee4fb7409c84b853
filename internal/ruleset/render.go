package ruleset

import "strings"

// RenderRule returns the display text of a rule.
//
// Plain-text rules pass through verbatim. Structured rules are formatted node
// by node, empty fragments dropped, and joined with single spaces; when that
// yields nothing the untouched stored text is shown instead.
func RenderRule(r *Rule) string {
	text, _ := renderRule(r)
	return text
}

// renderRule also reports whether the raw fallback was used.
func renderRule(r *Rule) (string, bool) {
	if r == nil {
		return "", false
	}
	if !r.Structured {
		return r.Raw, false
	}

	parts := make([]string, 0, len(r.Exprs))
	for _, e := range r.Exprs {
		if s := strings.TrimSpace(FormatExpr(e)); s != "" {
			parts = append(parts, s)
		}
	}
	text := strings.TrimSpace(strings.Join(parts, " "))
	if text == "" {
		return r.Raw, true
	}
	return text, false
}

// RuleView is a rendered rule as shown to operators.
type RuleView struct {
	Family     string `json:"family"`
	Table      string `json:"table"`
	Chain      string `json:"chain"`
	Handle     uint64 `json:"handle"`
	Text       string `json:"text"`
	Comment    string `json:"comment,omitempty"`
	Raw        string `json:"raw,omitempty"`
	Structured bool   `json:"structured"`
	Fallback   bool   `json:"fallback,omitempty"`
}

// Ref returns the view's rule reference.
func (v RuleView) Ref() RuleRef {
	return RuleRef{Family: v.Family, Table: v.Table, Chain: v.Chain, Handle: v.Handle}
}

// ChainView is a chain with its rendered rules.
type ChainView struct {
	Name     string     `json:"name"`
	Type     string     `json:"type,omitempty"`
	Hook     string     `json:"hook,omitempty"`
	Priority *int       `json:"priority,omitempty"`
	Policy   string     `json:"policy,omitempty"`
	Rules    []RuleView `json:"rules"`
}

// TableView is a table with its rendered chains.
type TableView struct {
	Family string      `json:"family"`
	Name   string      `json:"name"`
	Chains []ChainView `json:"chains"`
}

// ViewRule renders a single rule.
func ViewRule(r *Rule) RuleView {
	text, fallback := renderRule(r)
	return RuleView{
		Family:     r.Family,
		Table:      r.Table,
		Chain:      r.Chain,
		Handle:     r.Handle,
		Text:       text,
		Comment:    r.Comment,
		Raw:        r.Raw,
		Structured: r.Structured,
		Fallback:   fallback,
	}
}

// RenderRuleset renders every rule, preserving listing order.
func RenderRuleset(rs *Ruleset) []TableView {
	if rs == nil {
		return []TableView{}
	}
	tables := make([]TableView, 0, len(rs.Tables))
	for _, t := range rs.Tables {
		tv := TableView{Family: t.Family, Name: t.Name, Chains: make([]ChainView, 0, len(t.Chains))}
		for _, c := range t.Chains {
			cv := ChainView{
				Name:     c.Name,
				Type:     c.Type,
				Hook:     c.Hook,
				Priority: c.Priority,
				Policy:   c.Policy,
				Rules:    make([]RuleView, 0, len(c.Rules)),
			}
			for _, r := range c.Rules {
				cv.Rules = append(cv.Rules, ViewRule(r))
			}
			tv.Chains = append(tv.Chains, cv)
		}
		tables = append(tables, tv)
	}
	return tables
}

// Views flattens a rendered snapshot into listing order.
func (s *Snapshot) Views() []RuleView {
	if s == nil {
		return nil
	}
	var out []RuleView
	for _, t := range s.Tables {
		for _, c := range t.Chains {
			out = append(out, c.Rules...)
		}
	}
	return out
}

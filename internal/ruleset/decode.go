package ruleset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// nftDocument is the top-level `nft -j list ruleset` output.
type nftDocument struct {
	Nftables []nftElement `json:"nftables"`
}

// nftElement holds exactly one populated field.
type nftElement struct {
	Metainfo *nftMetainfo    `json:"metainfo,omitempty"`
	Table    *nftTable       `json:"table,omitempty"`
	Chain    *nftChain       `json:"chain,omitempty"`
	Rule     *nftRule        `json:"rule,omitempty"`
	Set      json.RawMessage `json:"set,omitempty"`
	Map      json.RawMessage `json:"map,omitempty"`
}

type nftMetainfo struct {
	Version           string `json:"version"`
	ReleaseName       string `json:"release_name"`
	JSONSchemaVersion int    `json:"json_schema_version"`
}

type nftTable struct {
	Family string `json:"family"`
	Name   string `json:"name"`
	Handle uint64 `json:"handle"`
}

type nftChain struct {
	Family string          `json:"family"`
	Table  string          `json:"table"`
	Name   string          `json:"name"`
	Handle uint64          `json:"handle"`
	Type   string          `json:"type"`
	Hook   string          `json:"hook"`
	Prio   json.RawMessage `json:"prio"`
	Policy string          `json:"policy"`
}

type nftRule struct {
	Family  string            `json:"family"`
	Table   string            `json:"table"`
	Chain   string            `json:"chain"`
	Handle  uint64            `json:"handle"`
	Comment string            `json:"comment"`
	Expr    []json.RawMessage `json:"expr"`
}

// SchemaVersion is the nft JSON schema this decoder was written against.
const SchemaVersion = 1

// DecodeJSON decodes `nft -j list ruleset` output. Only a malformed document
// is an error; unrecognised expression nodes decode to Unknown.
func DecodeJSON(data []byte) (*Ruleset, error) {
	var doc nftDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse nft JSON: %w", err)
	}
	if doc.Nftables == nil {
		return nil, fmt.Errorf("failed to parse nft JSON: missing nftables array")
	}

	rs := &Ruleset{}
	for _, el := range doc.Nftables {
		switch {
		case el.Metainfo != nil:
			if v := el.Metainfo.JSONSchemaVersion; v > SchemaVersion {
				rs.Warnings = append(rs.Warnings,
					fmt.Sprintf("nft %s reports JSON schema %d; newer nodes may render as raw text", el.Metainfo.Version, v))
			}
		case el.Table != nil:
			t := rs.ensureTable(el.Table.Family, el.Table.Name)
			t.Handle = el.Table.Handle
		case el.Chain != nil:
			c := rs.EnsureChain(el.Chain.Family, el.Chain.Table, el.Chain.Name)
			c.Handle = el.Chain.Handle
			c.Type = el.Chain.Type
			c.Hook = el.Chain.Hook
			c.Policy = el.Chain.Policy
			if len(el.Chain.Prio) > 0 {
				var prio int
				if err := json.Unmarshal(el.Chain.Prio, &prio); err == nil {
					c.Priority = &prio
				}
			}
		case el.Rule != nil:
			rs.AddRule(decodeRule(el.Rule))
		}
	}
	return rs, nil
}

func decodeRule(nr *nftRule) *Rule {
	r := &Rule{
		Family:     nr.Family,
		Table:      nr.Table,
		Chain:      nr.Chain,
		Handle:     nr.Handle,
		Comment:    nr.Comment,
		Structured: true,
	}

	if len(nr.Expr) > 0 {
		if raw, err := json.Marshal(nr.Expr); err == nil {
			r.Raw = string(raw)
		}
	}

	for _, node := range nr.Expr {
		// Older nft releases emit the comment as an expression.
		var c struct {
			Comment *string `json:"comment"`
		}
		if json.Unmarshal(node, &c) == nil && c.Comment != nil && len(objectKeys(node)) == 1 {
			if r.Comment == "" {
				r.Comment = *c.Comment
			}
			continue
		}
		r.Exprs = append(r.Exprs, DecodeExpr(node))
	}
	return r
}

// DecodeExpr decodes one statement object. It never fails.
func DecodeExpr(raw json.RawMessage) Expression {
	key, body, ok := singleKey(raw)
	if !ok {
		return Unknown{Raw: string(raw)}
	}

	switch key {
	case "match":
		var m struct {
			Op    string          `json:"op"`
			Left  json.RawMessage `json:"left"`
			Right json.RawMessage `json:"right"`
		}
		if err := json.Unmarshal(body, &m); err != nil {
			return Unknown{Raw: string(raw)}
		}
		return Match{Left: decodeLeft(m.Left), Op: m.Op, Right: decodeValue(m.Right)}

	case "accept", "drop", "reject", "return", "continue":
		return Verdict{Kind: key}

	case "jump", "goto":
		var j struct {
			Target string `json:"target"`
		}
		if err := json.Unmarshal(body, &j); err != nil || j.Target == "" {
			return Unknown{Raw: string(raw)}
		}
		if key == "jump" {
			return Jump{Target: j.Target}
		}
		return Goto{Target: j.Target}

	case "dnat", "snat":
		var n struct {
			Addr json.RawMessage `json:"addr"`
			Port json.RawMessage `json:"port"`
		}
		if err := json.Unmarshal(body, &n); err != nil {
			return Unknown{Raw: string(raw)}
		}
		return Nat{Kind: key, Addr: literal(n.Addr), Port: literal(n.Port)}

	case "masquerade":
		return Masquerade{}

	case "counter":
		var c struct {
			Packets uint64 `json:"packets"`
			Bytes   uint64 `json:"bytes"`
		}
		// Named counters are a bare string reference.
		_ = json.Unmarshal(body, &c)
		return Counter{Packets: c.Packets, Bytes: c.Bytes}

	case "limit":
		var l struct {
			Rate uint64 `json:"rate"`
			Per  string `json:"per"`
		}
		if err := json.Unmarshal(body, &l); err != nil {
			return Unknown{Raw: string(raw)}
		}
		return Limit{Rate: l.Rate, Per: l.Per}

	case "ct":
		var c struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal(body, &c); err != nil || c.Key == "" {
			return Unknown{Raw: string(raw)}
		}
		return Conntrack{Key: c.Key}

	case "log":
		var l struct {
			Prefix string `json:"prefix"`
		}
		_ = json.Unmarshal(body, &l)
		return Log{Prefix: l.Prefix}
	}

	return Unknown{Raw: string(raw)}
}

func decodeLeft(raw json.RawMessage) Left {
	key, body, ok := singleKey(raw)
	if !ok {
		return UnknownLeft{Raw: string(raw)}
	}
	switch key {
	case "meta":
		var m struct {
			Key string `json:"key"`
		}
		if json.Unmarshal(body, &m) == nil && m.Key != "" {
			return MetaLeft{Key: m.Key}
		}
	case "payload":
		var p struct {
			Protocol string `json:"protocol"`
			Field    string `json:"field"`
		}
		if json.Unmarshal(body, &p) == nil && p.Protocol != "" {
			return PayloadLeft{Protocol: p.Protocol, Field: p.Field}
		}
	case "ct":
		var c struct {
			Key string `json:"key"`
		}
		if json.Unmarshal(body, &c) == nil && c.Key != "" {
			return ConntrackLeft{Key: c.Key}
		}
	}
	return UnknownLeft{Raw: string(raw)}
}

func decodeValue(raw json.RawMessage) Value {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return UnknownValue{}
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return UnknownValue{Raw: string(raw)}
		}
		return Scalar{Text: s}
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return UnknownValue{Raw: string(raw)}
		}
		return Array{Values: decodeValues(items)}
	case '{':
		return decodeObjectValue(raw)
	case 'n':
		return UnknownValue{Raw: string(raw)}
	default:
		// numbers and booleans
		return Scalar{Text: string(raw)}
	}
}

func decodeObjectValue(raw json.RawMessage) Value {
	key, body, ok := singleKey(raw)
	if !ok {
		return UnknownValue{Raw: string(raw)}
	}
	switch key {
	case "set":
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			// single-element sets may be emitted without the array
			return Set{Values: []Value{decodeValue(body)}}
		}
		return Set{Values: decodeValues(items)}
	case "range":
		var bounds []json.RawMessage
		if err := json.Unmarshal(body, &bounds); err != nil || len(bounds) != 2 {
			return UnknownValue{Raw: string(raw)}
		}
		return Range{Low: decodeValue(bounds[0]), High: decodeValue(bounds[1])}
	case "prefix":
		var p struct {
			Addr string `json:"addr"`
			Len  int    `json:"len"`
		}
		if err := json.Unmarshal(body, &p); err != nil || p.Addr == "" {
			return UnknownValue{Raw: string(raw)}
		}
		return Prefix{Addr: p.Addr, Len: p.Len}
	}
	return UnknownValue{Raw: string(raw)}
}

func decodeValues(items []json.RawMessage) []Value {
	out := make([]Value, 0, len(items))
	for _, it := range items {
		out = append(out, decodeValue(it))
	}
	return out
}

// singleKey returns the only key of a one-key JSON object.
func singleKey(raw json.RawMessage) (string, json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || len(obj) != 1 {
		return "", nil, false
	}
	for k, v := range obj {
		return k, v, true
	}
	return "", nil, false
}

func objectKeys(raw json.RawMessage) []string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	return keys
}

// literal renders a scalar JSON token without quotes; anything else is kept raw.
func literal(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	if raw[0] == '"' {
		if s, err := strconv.Unquote(string(raw)); err == nil {
			return s
		}
	}
	return string(raw)
}

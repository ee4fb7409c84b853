package ruleset

import (
	"strconv"
	"strings"
)

// FormatExpr renders one expression node as rule text. It is total: nodes it
// cannot express render as the empty string.
func FormatExpr(e Expression) string {
	switch x := e.(type) {
	case Match:
		return formatMatch(x)
	case Verdict:
		return x.Kind
	case Jump:
		return "jump " + x.Target
	case Goto:
		return "goto " + x.Target
	case Nat:
		if x.Addr == "" {
			return x.Kind
		}
		out := x.Kind + " to " + x.Addr
		if x.Port != "" {
			out += ":" + x.Port
		}
		return out
	case Masquerade:
		return "masquerade"
	case Counter:
		return "counter packets " + strconv.FormatUint(x.Packets, 10) + " bytes " + strconv.FormatUint(x.Bytes, 10)
	case Limit:
		per := x.Per
		if per == "" {
			per = "second"
		}
		return "limit rate " + strconv.FormatUint(x.Rate, 10) + "/" + per
	case Conntrack:
		return "ct " + x.Key
	case Log:
		if x.Prefix == "" {
			return "log"
		}
		return "log prefix " + strconv.Quote(x.Prefix)
	}
	return ""
}

func formatMatch(m Match) string {
	parts := make([]string, 0, 3)
	if left := FormatLeft(m.Left); left != "" {
		parts = append(parts, left)
	}
	if m.Op != "" && m.Op != "==" {
		parts = append(parts, m.Op)
	}
	if right := FormatValue(m.Right); right != "" {
		parts = append(parts, right)
	}
	return strings.Join(parts, " ")
}

// FormatLeft renders the packet-side operand of a match.
func FormatLeft(l Left) string {
	switch x := l.(type) {
	case MetaLeft:
		return x.Key
	case PayloadLeft:
		return x.Protocol + " " + x.Field
	case ConntrackLeft:
		return "ct " + x.Key
	}
	return ""
}

// FormatValue renders the right-hand side of a match. A top-level scalar is
// quoted; literals nested in arrays, sets and ranges are not.
func FormatValue(v Value) string {
	if s, ok := v.(Scalar); ok {
		return `"` + s.Text + `"`
	}
	return formatBare(v)
}

func formatBare(v Value) string {
	switch x := v.(type) {
	case Scalar:
		return x.Text
	case Array:
		return joinValues(x.Values, ",")
	case Prefix:
		return x.Addr + "/" + strconv.Itoa(x.Len)
	case Range:
		return formatBare(x.Low) + "-" + formatBare(x.High)
	case Set:
		if len(x.Values) == 0 {
			return "{ }"
		}
		return "{ " + joinValues(x.Values, ", ") + " }"
	}
	return ""
}

func joinValues(vs []Value, sep string) string {
	parts := make([]string, 0, len(vs))
	for _, v := range vs {
		if s := formatBare(v); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, sep)
}

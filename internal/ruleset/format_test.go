package ruleset

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatExpr_MatchWithQuotedScalar(t *testing.T) {
	rule := &Rule{
		Structured: true,
		Exprs: []Expression{
			Match{Left: PayloadLeft{Protocol: "tcp", Field: "dport"}, Op: "==", Right: Scalar{Text: "8080"}},
			Verdict{Kind: "accept"},
		},
	}
	assert.Equal(t, `tcp dport "8080" accept`, RenderRule(rule))
}

func TestFormatExpr_SetRight(t *testing.T) {
	m := Match{
		Left:  PayloadLeft{Protocol: "tcp", Field: "dport"},
		Op:    "==",
		Right: Set{Values: []Value{Scalar{Text: "80"}, Scalar{Text: "443"}}},
	}
	assert.Equal(t, "tcp dport { 80, 443 }", FormatExpr(m))
}

func TestFormatExpr_Variants(t *testing.T) {
	tests := []struct {
		name string
		expr Expression
		want string
	}{
		{"meta", Match{Left: MetaLeft{Key: "iifname"}, Op: "==", Right: Scalar{Text: "lo"}}, `iifname "lo"`},
		{"operator", Match{Left: PayloadLeft{Protocol: "tcp", Field: "dport"}, Op: "!=", Right: Scalar{Text: "22"}}, `tcp dport != "22"`},
		{"empty op", Match{Left: MetaLeft{Key: "l4proto"}, Right: Scalar{Text: "udp"}}, `l4proto "udp"`},
		{"ct array", Match{Left: ConntrackLeft{Key: "state"}, Op: "in", Right: Array{Values: []Value{Scalar{Text: "established"}, Scalar{Text: "related"}}}}, "ct state in established,related"},
		{"prefix", Match{Left: PayloadLeft{Protocol: "ip", Field: "saddr"}, Op: "==", Right: Prefix{Addr: "10.0.0.0", Len: 8}}, "ip saddr 10.0.0.0/8"},
		{"range", Match{Left: PayloadLeft{Protocol: "tcp", Field: "dport"}, Op: "==", Right: Range{Low: Scalar{Text: "1000"}, High: Scalar{Text: "2000"}}}, "tcp dport 1000-2000"},
		{"set of prefixes", Match{Left: PayloadLeft{Protocol: "ip", Field: "daddr"}, Op: "==", Right: Set{Values: []Value{Prefix{Addr: "10.0.0.0", Len: 8}, Scalar{Text: "192.168.1.1"}}}}, "ip daddr { 10.0.0.0/8, 192.168.1.1 }"},
		{"unknown left", Match{Left: UnknownLeft{Raw: `{"osf":{}}`}, Op: "==", Right: Scalar{Text: "Linux"}}, `"Linux"`},
		{"drop", Verdict{Kind: "drop"}, "drop"},
		{"jump", Jump{Target: "CUSTOM"}, "jump CUSTOM"},
		{"goto", Goto{Target: "LOGDROP"}, "goto LOGDROP"},
		{"dnat with port", Nat{Kind: "dnat", Addr: "10.0.0.5", Port: "8080"}, "dnat to 10.0.0.5:8080"},
		{"snat without port", Nat{Kind: "snat", Addr: "203.0.113.1"}, "snat to 203.0.113.1"},
		{"masquerade", Masquerade{}, "masquerade"},
		{"counter", Counter{Packets: 150, Bytes: 12500}, "counter packets 150 bytes 12500"},
		{"limit", Limit{Rate: 10, Per: "minute"}, "limit rate 10/minute"},
		{"conntrack", Conntrack{Key: "helper"}, "ct helper"},
		{"log", Log{}, "log"},
		{"log prefix", Log{Prefix: "INPUT drop: "}, `log prefix "INPUT drop: "`},
		{"unknown", Unknown{Raw: `{"xt":{"name":"foo"}}`}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatExpr(tt.expr))
		})
	}
}

func TestFormatExpr_Idempotent(t *testing.T) {
	exprs := []Expression{
		Match{Left: PayloadLeft{Protocol: "tcp", Field: "dport"}, Op: "==", Right: Set{Values: []Value{Scalar{Text: "80"}, Scalar{Text: "443"}}}},
		Nat{Kind: "dnat", Addr: "10.0.0.5", Port: "80"},
		Unknown{Raw: "{}"},
	}
	for _, e := range exprs {
		assert.Equal(t, FormatExpr(e), FormatExpr(e))
	}
}

func TestFormatExpr_TotalOverDecodedNodes(t *testing.T) {
	nodes := []string{
		`{"match":{"op":"==","left":{"payload":{"protocol":"tcp","field":"dport"}},"right":8080}}`,
		`{"match":{"op":"==","left":{"fib":{"result":"type","flags":["daddr"]}},"right":"local"}}`,
		`{"mangle":{"key":{"meta":{"key":"mark"}},"value":1}}`,
		`{"xt":null}`,
		`{"counter":"named"}`,
		`[]`,
		`"accept"`,
		`{"a":1,"b":2}`,
	}
	for _, n := range nodes {
		assert.NotPanics(t, func() {
			_ = FormatExpr(DecodeExpr(json.RawMessage(n)))
		}, n)
	}
}

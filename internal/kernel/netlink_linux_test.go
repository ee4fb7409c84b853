//go:build linux

package kernel

import (
	"context"
	"testing"

	"github.com/google/nftables"
	"github.com/google/nftables/binaryutil"
	"github.com/google/nftables/expr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"grimm.is/ruledesk/internal/errors"
	"grimm.is/ruledesk/internal/ruleset"
)

type mockNetlinkConn struct {
	mock.Mock
}

func (m *mockNetlinkConn) ListTables() ([]*nftables.Table, error) {
	args := m.Called()
	return args.Get(0).([]*nftables.Table), args.Error(1)
}

func (m *mockNetlinkConn) ListChainsOfTableFamily(family nftables.TableFamily) ([]*nftables.Chain, error) {
	args := m.Called(family)
	return args.Get(0).([]*nftables.Chain), args.Error(1)
}

func (m *mockNetlinkConn) GetRules(t *nftables.Table, c *nftables.Chain) ([]*nftables.Rule, error) {
	args := m.Called(t, c)
	return args.Get(0).([]*nftables.Rule), args.Error(1)
}

func (m *mockNetlinkConn) GetSets(t *nftables.Table) ([]*nftables.Set, error) {
	args := m.Called(t)
	return args.Get(0).([]*nftables.Set), args.Error(1)
}

func (m *mockNetlinkConn) GetSetElements(s *nftables.Set) ([]nftables.SetElement, error) {
	args := m.Called(s)
	return args.Get(0).([]nftables.SetElement), args.Error(1)
}

func (m *mockNetlinkConn) DelRule(r *nftables.Rule) error {
	return m.Called(r).Error(0)
}

func (m *mockNetlinkConn) Flush() error {
	return m.Called().Error(0)
}

func tcpDport(port uint16) []expr.Any {
	return []expr.Any{
		&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{unix.IPPROTO_TCP}},
		&expr.Payload{DestRegister: 1, Base: expr.PayloadBaseTransportHeader, Offset: 2, Len: 2},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: binaryutil.BigEndian.PutUint16(port)},
	}
}

func format(exprs []ruleset.Expression) string {
	return ruleset.RenderRule(&ruleset.Rule{Exprs: exprs, Structured: true})
}

func TestDecodeNetlinkRule(t *testing.T) {
	tests := []struct {
		name  string
		exprs []expr.Any
		want  string
	}{
		{
			name:  "tcp dport accept hides the l4proto dependency",
			exprs: append(tcpDport(8080), &expr.Verdict{Kind: expr.VerdictAccept}),
			want:  `tcp dport "8080" accept`,
		},
		{
			name: "iifname",
			exprs: []expr.Any{
				&expr.Meta{Key: expr.MetaKeyIIFNAME, Register: 1},
				&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte("lo\x00")},
				&expr.Verdict{Kind: expr.VerdictAccept},
			},
			want: `iifname "lo" accept`,
		},
		{
			name: "ct state established,related",
			exprs: []expr.Any{
				&expr.Ct{Register: 1, Key: expr.CtKeySTATE},
				&expr.Bitwise{SourceRegister: 1, DestRegister: 1, Len: 4,
					Mask: binaryutil.NativeEndian.PutUint32(expr.CtStateBitESTABLISHED | expr.CtStateBitRELATED),
					Xor:  binaryutil.NativeEndian.PutUint32(0)},
				&expr.Cmp{Op: expr.CmpOpNeq, Register: 1, Data: []byte{0, 0, 0, 0}},
				&expr.Verdict{Kind: expr.VerdictAccept},
			},
			want: "ct state in established,related accept",
		},
		{
			name: "ip saddr prefix jump",
			exprs: []expr.Any{
				&expr.Payload{DestRegister: 1, Base: expr.PayloadBaseNetworkHeader, Offset: 12, Len: 4},
				&expr.Bitwise{SourceRegister: 1, DestRegister: 1, Len: 4, Mask: []byte{255, 0, 0, 0}, Xor: []byte{0, 0, 0, 0}},
				&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{10, 0, 0, 0}},
				&expr.Verdict{Kind: expr.VerdictJump, Chain: "CUSTOM"},
			},
			want: "ip saddr 10.0.0.0/8 jump CUSTOM",
		},
		{
			name: "dnat",
			exprs: append(tcpDport(8080),
				&expr.Immediate{Register: 1, Data: []byte{10, 0, 0, 5}},
				&expr.Immediate{Register: 2, Data: binaryutil.BigEndian.PutUint16(80)},
				&expr.NAT{Type: expr.NATTypeDestNAT, Family: unix.NFPROTO_IPV4, RegAddrMin: 1, RegProtoMin: 2},
			),
			want: `tcp dport "8080" dnat to 10.0.0.5:80`,
		},
		{
			name: "counter log limit drop",
			exprs: []expr.Any{
				&expr.Limit{Type: expr.LimitTypePkts, Rate: 10, Unit: expr.LimitTimeMinute},
				&expr.Counter{Packets: 3, Bytes: 180},
				&expr.Log{Key: 1 << unix.NFTA_LOG_PREFIX, Data: []byte("DROP: ")},
				&expr.Verdict{Kind: expr.VerdictDrop},
			},
			want: `limit rate 10/minute counter packets 3 bytes 180 log prefix "DROP: " drop`,
		},
		{
			name:  "masquerade",
			exprs: []expr.Any{&expr.Masq{}},
			want:  "masquerade",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, format(decodeNetlinkRule("inet", tt.exprs, nil)))
		})
	}
}

func TestDecodeNetlinkRule_AnonymousSet(t *testing.T) {
	exprs := []expr.Any{
		&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{unix.IPPROTO_TCP}},
		&expr.Payload{DestRegister: 1, Base: expr.PayloadBaseTransportHeader, Offset: 2, Len: 2},
		&expr.Lookup{SourceRegister: 1, SetName: "__set0"},
		&expr.Verdict{Kind: expr.VerdictAccept},
	}
	resolve := func(name string, kind valueKind) []ruleset.Value {
		assert.Equal(t, "__set0", name)
		return []ruleset.Value{ruleset.Scalar{Text: "80"}, ruleset.Scalar{Text: "443"}}
	}
	assert.Equal(t, "tcp dport { 80, 443 } accept", format(decodeNetlinkRule("inet", exprs, resolve)))
}

func TestDecodeNetlinkRule_UnknownFallsBackToRaw(t *testing.T) {
	exprs := []expr.Any{&expr.Queue{Num: 1}}
	out := decodeNetlinkRule("inet", exprs, nil)
	require.Len(t, out, 1)
	_, ok := out[0].(ruleset.Unknown)
	assert.True(t, ok)

	r := &ruleset.Rule{Exprs: out, Raw: "queue num 1", Structured: true}
	assert.Equal(t, "queue num 1", ruleset.RenderRule(r))
}

func TestRuleComment(t *testing.T) {
	udata := append([]byte{0, 4}, []byte("ssh\x00")...)
	assert.Equal(t, "ssh", ruleComment(udata))
	assert.Equal(t, "", ruleComment(nil))
	assert.Equal(t, "", ruleComment([]byte{0, 9, 'x'}))
}

func TestNetlinkClient_ListRuleset(t *testing.T) {
	table := &nftables.Table{Name: "filter", Family: nftables.TableFamilyINet}
	prio := nftables.ChainPriorityFilter
	policy := nftables.ChainPolicyDrop
	chain := &nftables.Chain{
		Name: "INPUT", Table: table, Type: nftables.ChainTypeFilter,
		Hooknum: nftables.ChainHookInput, Priority: prio, Policy: &policy,
	}

	conn := new(mockNetlinkConn)
	conn.On("ListTables").Return([]*nftables.Table{table}, nil)
	conn.On("ListChainsOfTableFamily", nftables.TableFamilyINet).Return([]*nftables.Chain{chain}, nil)
	conn.On("GetRules", table, chain).Return([]*nftables.Rule{
		{Table: table, Chain: chain, Handle: 4, Exprs: append(tcpDport(22), &expr.Verdict{Kind: expr.VerdictAccept})},
	}, nil)

	c := newNetlinkClient(conn, NewNFTClient(), "")
	rs, err := c.ListRuleset(context.Background())
	require.NoError(t, err)

	in := rs.Table("inet", "filter").Chain("INPUT")
	require.NotNil(t, in)
	assert.Equal(t, "input", in.Hook)
	assert.Equal(t, "drop", in.Policy)
	assert.Equal(t, "filter", in.Type)
	assert.Zero(t, rs.Table("inet", "filter").Handle, "netlink tables carry no handle")
	assert.Zero(t, in.Handle, "netlink chains carry no handle")
	require.Len(t, in.Rules, 1)
	assert.Equal(t, uint64(4), in.Rules[0].Handle)
	assert.Equal(t, `tcp dport "22" accept`, ruleset.RenderRule(in.Rules[0]))
	conn.AssertExpectations(t)
}

func TestNetlinkClient_DeleteRule(t *testing.T) {
	conn := new(mockNetlinkConn)
	conn.On("DelRule", mock.MatchedBy(func(r *nftables.Rule) bool {
		return r.Handle == 9 && r.Chain.Name == "INPUT" && r.Table.Family == nftables.TableFamilyINet
	})).Return(nil)
	conn.On("Flush").Return(assert.AnError).Once()

	c := newNetlinkClient(conn, NewNFTClient(), "")
	err := c.DeleteRule(context.Background(), ruleset.RuleRef{Family: "inet", Table: "filter", Chain: "INPUT", Handle: 9})
	require.Error(t, err)
	assert.Equal(t, errors.KindKernelRejection, errors.GetKind(err))
	assert.Equal(t, assert.AnError.Error(), errors.Message(err))
}

//go:build linux

package kernel

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/bits"
	"net"
	"strconv"
	"strings"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"golang.org/x/sys/unix"

	"grimm.is/ruledesk/internal/ruleset"
)

// setResolver returns the printable elements of a named set, or nil.
type setResolver func(name string, kind valueKind) []ruleset.Value

type valueKind int

const (
	kindRaw valueKind = iota
	kindIfname
	kindProto
	kindNFProto
	kindPort
	kindIPv4
	kindIPv6
	kindCtState
	kindU32
)

// register is what a load expression left in a netlink register.
type register struct {
	left ruleset.Left
	kind valueKind
	mask []byte
	imm  []byte
	// dependency marks an implicit protocol load nft hides when printing.
	dependency string
}

// netlinkDecoder turns a rule's expr.Any list into the ruleset model,
// tracking register contents the way nft does when it prints a rule.
type netlinkDecoder struct {
	family  string
	regs    map[uint32]*register
	out     []ruleset.Expression
	l4      string
	l3      string
	depIdx  int
	resolve setResolver
}

func decodeNetlinkRule(family string, exprs []expr.Any, resolve setResolver) []ruleset.Expression {
	d := &netlinkDecoder{
		family:  family,
		regs:    make(map[uint32]*register),
		depIdx:  -1,
		resolve: resolve,
	}
	if family == "ip" {
		d.l3 = "ip"
	} else if family == "ip6" {
		d.l3 = "ip6"
	}
	for _, e := range exprs {
		d.decode(e)
	}
	return d.out
}

func (d *netlinkDecoder) emit(e ruleset.Expression) {
	d.out = append(d.out, e)
}

// dropDependency removes the hidden protocol match preceding a payload load.
func (d *netlinkDecoder) dropDependency() {
	if d.depIdx >= 0 && d.depIdx == len(d.out)-1 {
		d.out = d.out[:d.depIdx]
	}
	d.depIdx = -1
}

func (d *netlinkDecoder) decode(e expr.Any) {
	switch x := e.(type) {
	case *expr.Meta:
		if x.SourceRegister {
			d.emit(unknownNode(x))
			return
		}
		reg := &register{left: ruleset.MetaLeft{Key: metaKeyName(x.Key)}, kind: kindU32}
		switch x.Key {
		case expr.MetaKeyIIFNAME, expr.MetaKeyOIFNAME:
			reg.kind = kindIfname
		case expr.MetaKeyL4PROTO:
			reg.kind = kindProto
			reg.dependency = "l4"
		case expr.MetaKeyNFPROTO:
			reg.kind = kindNFProto
			reg.dependency = "l3"
		}
		d.regs[x.Register] = reg

	case *expr.Payload:
		if x.OperationType != expr.PayloadLoad {
			d.emit(unknownNode(x))
			return
		}
		left, kind := d.payloadField(x)
		d.dropDependency()
		d.regs[x.DestRegister] = &register{left: left, kind: kind}

	case *expr.Ct:
		if x.SourceRegister {
			d.emit(unknownNode(x))
			return
		}
		reg := &register{left: ruleset.ConntrackLeft{Key: ctKeyName(x.Key)}, kind: kindU32}
		if x.Key == expr.CtKeySTATE {
			reg.kind = kindCtState
		}
		d.regs[x.Register] = reg

	case *expr.Bitwise:
		src, ok := d.regs[x.SourceRegister]
		if !ok {
			d.emit(unknownNode(x))
			return
		}
		cp := *src
		cp.mask = x.Mask
		d.regs[x.DestRegister] = &cp

	case *expr.Immediate:
		d.regs[x.Register] = &register{imm: x.Data}

	case *expr.Cmp:
		reg, ok := d.regs[x.Register]
		if !ok || reg.left == nil {
			d.emit(unknownNode(x))
			return
		}
		d.emitCmp(reg, x)

	case *expr.Lookup:
		reg, ok := d.regs[x.SourceRegister]
		if !ok || reg.left == nil {
			d.emit(unknownNode(x))
			return
		}
		op := "=="
		if x.Invert {
			op = "!="
		}
		var right ruleset.Value = ruleset.Scalar{Text: "@" + x.SetName}
		if strings.HasPrefix(x.SetName, "__set") && d.resolve != nil {
			if elems := d.resolve(x.SetName, reg.kind); elems != nil {
				right = ruleset.Set{Values: elems}
			}
		}
		d.emit(ruleset.Match{Left: reg.left, Op: op, Right: right})

	case *expr.Range:
		reg, ok := d.regs[x.Register]
		if !ok || reg.left == nil {
			d.emit(unknownNode(x))
			return
		}
		op := cmpOpString(x.Op)
		d.emit(ruleset.Match{Left: reg.left, Op: op, Right: ruleset.Range{
			Low:  decodeBytes(reg.kind, x.FromData),
			High: decodeBytes(reg.kind, x.ToData),
		}})

	case *expr.Verdict:
		d.emit(verdictNode(x))

	case *expr.Counter:
		d.emit(ruleset.Counter{Packets: x.Packets, Bytes: x.Bytes})

	case *expr.Limit:
		d.emit(ruleset.Limit{Rate: x.Rate, Per: limitUnitName(x.Unit)})

	case *expr.Log:
		prefix := ""
		if x.Key&(1<<unix.NFTA_LOG_PREFIX) != 0 || len(x.Data) > 0 {
			prefix = strings.TrimRight(string(x.Data), "\x00")
		}
		d.emit(ruleset.Log{Prefix: prefix})

	case *expr.NAT:
		d.emit(d.natNode(x))

	case *expr.Masq:
		d.emit(ruleset.Masquerade{})

	case *expr.Reject:
		d.emit(ruleset.Verdict{Kind: "reject"})

	default:
		d.emit(unknownNode(e))
	}
}

func (d *netlinkDecoder) emitCmp(reg *register, x *expr.Cmp) {
	op := cmpOpString(x.Op)

	// ct state established,related is a bitmask test against zero.
	if reg.kind == kindCtState && reg.mask != nil && x.Op == expr.CmpOpNeq && isZero(x.Data) {
		d.emit(ruleset.Match{Left: reg.left, Op: "in", Right: ruleset.Array{Values: ctStateValues(reg.mask)}})
		return
	}

	var right ruleset.Value
	if reg.mask != nil && (reg.kind == kindIPv4 || reg.kind == kindIPv6) {
		right = ruleset.Prefix{Addr: decodeText(reg.kind, x.Data), Len: maskLen(reg.mask)}
	} else {
		right = decodeBytes(reg.kind, x.Data)
	}

	if reg.dependency != "" && x.Op == expr.CmpOpEq {
		text := decodeText(reg.kind, x.Data)
		if reg.dependency == "l4" {
			d.l4 = text
		} else {
			d.l3 = map[string]string{"ipv4": "ip", "ipv6": "ip6"}[text]
		}
		d.emit(ruleset.Match{Left: reg.left, Op: op, Right: right})
		d.depIdx = len(d.out) - 1
		return
	}
	d.emit(ruleset.Match{Left: reg.left, Op: op, Right: right})
}

func (d *netlinkDecoder) payloadField(p *expr.Payload) (ruleset.Left, valueKind) {
	switch p.Base {
	case expr.PayloadBaseNetworkHeader:
		l3 := d.l3
		if l3 == "" {
			if p.Len == 16 {
				l3 = "ip6"
			} else {
				l3 = "ip"
			}
		}
		if l3 == "ip6" {
			switch {
			case p.Offset == 8 && p.Len == 16:
				return ruleset.PayloadLeft{Protocol: "ip6", Field: "saddr"}, kindIPv6
			case p.Offset == 24 && p.Len == 16:
				return ruleset.PayloadLeft{Protocol: "ip6", Field: "daddr"}, kindIPv6
			case p.Offset == 6 && p.Len == 1:
				return ruleset.PayloadLeft{Protocol: "ip6", Field: "nexthdr"}, kindProto
			}
		} else {
			switch {
			case p.Offset == 12 && p.Len == 4:
				return ruleset.PayloadLeft{Protocol: "ip", Field: "saddr"}, kindIPv4
			case p.Offset == 16 && p.Len == 4:
				return ruleset.PayloadLeft{Protocol: "ip", Field: "daddr"}, kindIPv4
			case p.Offset == 9 && p.Len == 1:
				return ruleset.PayloadLeft{Protocol: "ip", Field: "protocol"}, kindProto
			}
		}
		return ruleset.PayloadLeft{Protocol: l3, Field: fmt.Sprintf("@nh,%d,%d", p.Offset*8, p.Len*8)}, kindRaw

	case expr.PayloadBaseTransportHeader:
		proto := d.l4
		if proto == "" {
			proto = "th"
		}
		switch {
		case p.Offset == 0 && p.Len == 2:
			return ruleset.PayloadLeft{Protocol: proto, Field: "sport"}, kindPort
		case p.Offset == 2 && p.Len == 2:
			return ruleset.PayloadLeft{Protocol: proto, Field: "dport"}, kindPort
		}
		return ruleset.PayloadLeft{Protocol: proto, Field: fmt.Sprintf("@th,%d,%d", p.Offset*8, p.Len*8)}, kindRaw
	}
	return ruleset.UnknownLeft{Raw: fmt.Sprintf("payload base %d offset %d len %d", p.Base, p.Offset, p.Len)}, kindRaw
}

func (d *netlinkDecoder) natNode(n *expr.NAT) ruleset.Expression {
	kind := "snat"
	if n.Type == expr.NATTypeDestNAT {
		kind = "dnat"
	}
	out := ruleset.Nat{Kind: kind}
	if reg, ok := d.regs[n.RegAddrMin]; ok && n.RegAddrMin != 0 && reg.imm != nil {
		addrKind := kindIPv4
		if n.Family == unix.NFPROTO_IPV6 {
			addrKind = kindIPv6
		}
		out.Addr = decodeText(addrKind, reg.imm)
	}
	if reg, ok := d.regs[n.RegProtoMin]; ok && n.RegProtoMin != 0 && reg.imm != nil {
		out.Port = decodeText(kindPort, reg.imm)
	}
	return out
}

func verdictNode(v *expr.Verdict) ruleset.Expression {
	switch v.Kind {
	case expr.VerdictAccept:
		return ruleset.Verdict{Kind: "accept"}
	case expr.VerdictDrop:
		return ruleset.Verdict{Kind: "drop"}
	case expr.VerdictReturn:
		return ruleset.Verdict{Kind: "return"}
	case expr.VerdictContinue:
		return ruleset.Verdict{Kind: "continue"}
	case expr.VerdictJump:
		return ruleset.Jump{Target: v.Chain}
	case expr.VerdictGoto:
		return ruleset.Goto{Target: v.Chain}
	}
	return unknownNode(v)
}

func unknownNode(e any) ruleset.Unknown {
	raw, err := json.Marshal(e)
	if err != nil {
		return ruleset.Unknown{Raw: fmt.Sprintf("%T", e)}
	}
	return ruleset.Unknown{Raw: fmt.Sprintf("%T%s", e, raw)}
}

func decodeBytes(kind valueKind, data []byte) ruleset.Value {
	return ruleset.Scalar{Text: decodeText(kind, data)}
}

func decodeText(kind valueKind, data []byte) string {
	switch kind {
	case kindIfname:
		return strings.TrimRight(string(data), "\x00")
	case kindProto:
		if len(data) == 1 {
			return protoName(data[0])
		}
	case kindNFProto:
		if len(data) == 1 {
			switch data[0] {
			case unix.NFPROTO_IPV4:
				return "ipv4"
			case unix.NFPROTO_IPV6:
				return "ipv6"
			}
			return strconv.Itoa(int(data[0]))
		}
	case kindPort:
		if len(data) == 2 {
			return strconv.Itoa(int(binary.BigEndian.Uint16(data)))
		}
	case kindIPv4:
		if len(data) == net.IPv4len {
			return net.IP(data).String()
		}
	case kindIPv6:
		if len(data) == net.IPv6len {
			return net.IP(data).String()
		}
	case kindCtState:
		if len(data) == 4 {
			return joinValues(ctStateValues(data))
		}
	case kindU32:
		if len(data) == 4 {
			return fmt.Sprintf("0x%08x", binary.NativeEndian.Uint32(data))
		}
	}
	return fmt.Sprintf("0x%x", data)
}

func joinValues(vs []ruleset.Value) string {
	parts := make([]string, 0, len(vs))
	for _, v := range vs {
		if s, ok := v.(ruleset.Scalar); ok {
			parts = append(parts, s.Text)
		}
	}
	return strings.Join(parts, ",")
}

var ctStateBits = []struct {
	bit  uint32
	name string
}{
	{expr.CtStateBitINVALID, "invalid"},
	{expr.CtStateBitESTABLISHED, "established"},
	{expr.CtStateBitRELATED, "related"},
	{expr.CtStateBitNEW, "new"},
	{expr.CtStateBitUNTRACKED, "untracked"},
}

func ctStateValues(mask []byte) []ruleset.Value {
	if len(mask) != 4 {
		return []ruleset.Value{ruleset.Scalar{Text: fmt.Sprintf("0x%x", mask)}}
	}
	m := binary.NativeEndian.Uint32(mask)
	var out []ruleset.Value
	for _, s := range ctStateBits {
		if m&s.bit != 0 {
			out = append(out, ruleset.Scalar{Text: s.name})
		}
	}
	return out
}

func protoName(p byte) string {
	switch p {
	case unix.IPPROTO_TCP:
		return "tcp"
	case unix.IPPROTO_UDP:
		return "udp"
	case unix.IPPROTO_ICMP:
		return "icmp"
	case unix.IPPROTO_ICMPV6:
		return "ipv6-icmp"
	case unix.IPPROTO_SCTP:
		return "sctp"
	case unix.IPPROTO_GRE:
		return "gre"
	case unix.IPPROTO_ESP:
		return "esp"
	}
	return strconv.Itoa(int(p))
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func maskLen(mask []byte) int {
	n := 0
	for _, b := range mask {
		n += bits.OnesCount8(b)
	}
	return n
}

func cmpOpString(op expr.CmpOp) string {
	switch op {
	case expr.CmpOpEq:
		return "=="
	case expr.CmpOpNeq:
		return "!="
	case expr.CmpOpLt:
		return "<"
	case expr.CmpOpLte:
		return "<="
	case expr.CmpOpGt:
		return ">"
	case expr.CmpOpGte:
		return ">="
	}
	return "=="
}

func metaKeyName(k expr.MetaKey) string {
	switch k {
	case expr.MetaKeyIIFNAME:
		return "iifname"
	case expr.MetaKeyOIFNAME:
		return "oifname"
	case expr.MetaKeyIIF:
		return "iif"
	case expr.MetaKeyOIF:
		return "oif"
	case expr.MetaKeyL4PROTO:
		return "l4proto"
	case expr.MetaKeyNFPROTO:
		return "nfproto"
	case expr.MetaKeyMARK:
		return "mark"
	case expr.MetaKeySKUID:
		return "skuid"
	case expr.MetaKeySKGID:
		return "skgid"
	}
	return fmt.Sprintf("meta key %d", k)
}

func ctKeyName(k expr.CtKey) string {
	switch k {
	case expr.CtKeySTATE:
		return "state"
	case expr.CtKeySTATUS:
		return "status"
	case expr.CtKeyMARK:
		return "mark"
	case expr.CtKeyDIRECTION:
		return "direction"
	}
	return fmt.Sprintf("key %d", k)
}

func limitUnitName(u expr.LimitTime) string {
	switch u {
	case expr.LimitTimeSecond:
		return "second"
	case expr.LimitTimeMinute:
		return "minute"
	case expr.LimitTimeHour:
		return "hour"
	case expr.LimitTimeDay:
		return "day"
	case expr.LimitTimeWeek:
		return "week"
	}
	return "second"
}

// familyName maps a netlink table family onto the nft keyword.
func familyName(f nftables.TableFamily) string {
	switch f {
	case nftables.TableFamilyINet:
		return "inet"
	case nftables.TableFamilyIPv4:
		return "ip"
	case nftables.TableFamilyIPv6:
		return "ip6"
	case nftables.TableFamilyARP:
		return "arp"
	case nftables.TableFamilyBridge:
		return "bridge"
	case nftables.TableFamilyNetdev:
		return "netdev"
	}
	return fmt.Sprintf("family%d", f)
}

func familyValue(name string) (nftables.TableFamily, bool) {
	switch name {
	case "inet":
		return nftables.TableFamilyINet, true
	case "ip":
		return nftables.TableFamilyIPv4, true
	case "ip6":
		return nftables.TableFamilyIPv6, true
	}
	return 0, false
}

func hookName(family string, hook uint32) string {
	if family == "netdev" && hook == unix.NF_NETDEV_INGRESS {
		return "ingress"
	}
	switch hook {
	case unix.NF_INET_PRE_ROUTING:
		return "prerouting"
	case unix.NF_INET_LOCAL_IN:
		return "input"
	case unix.NF_INET_FORWARD:
		return "forward"
	case unix.NF_INET_LOCAL_OUT:
		return "output"
	case unix.NF_INET_POST_ROUTING:
		return "postrouting"
	}
	return strconv.Itoa(int(hook))
}

// ruleComment extracts the comment from nftables rule userdata (TLV, type 0).
func ruleComment(udata []byte) string {
	for len(udata) >= 2 {
		typ, l := udata[0], int(udata[1])
		if len(udata) < 2+l {
			return ""
		}
		if typ == 0 {
			return strings.TrimRight(string(udata[2:2+l]), "\x00")
		}
		udata = udata[2+l:]
	}
	return ""
}

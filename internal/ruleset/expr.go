package ruleset

// Expression is one node of a rule's structured form. The set of node types is
// closed; anything the decoders do not recognise becomes Unknown.
type Expression interface {
	exprNode()
}

// Match compares a packet property against a value.
type Match struct {
	Left  Left
	Op    string
	Right Value
}

// Verdict is a terminal decision: accept, drop, reject, return or continue.
type Verdict struct {
	Kind string
}

// Jump transfers control to Target and returns afterwards.
type Jump struct {
	Target string
}

// Goto transfers control to Target without returning.
type Goto struct {
	Target string
}

// Nat rewrites addresses. Kind is "dnat" or "snat"; Port may be empty.
type Nat struct {
	Kind string
	Addr string
	Port string
}

// Masquerade is source NAT to the outgoing interface address.
type Masquerade struct{}

// Counter is informational only.
type Counter struct {
	Packets uint64
	Bytes   uint64
}

// Limit is a rate limit, e.g. 10/second.
type Limit struct {
	Rate uint64
	Per  string
}

// Conntrack is a standalone conntrack statement.
type Conntrack struct {
	Key string
}

// Log emits a kernel log line, with an optional prefix.
type Log struct {
	Prefix string
}

// Unknown preserves a node the decoders do not understand.
type Unknown struct {
	Raw string
}

func (Match) exprNode()      {}
func (Verdict) exprNode()    {}
func (Jump) exprNode()       {}
func (Goto) exprNode()       {}
func (Nat) exprNode()        {}
func (Masquerade) exprNode() {}
func (Counter) exprNode()    {}
func (Limit) exprNode()      {}
func (Conntrack) exprNode()  {}
func (Log) exprNode()        {}
func (Unknown) exprNode()    {}

// Left is the packet-side operand of a Match.
type Left interface {
	leftNode()
}

// MetaLeft selects packet metadata such as iifname or l4proto.
type MetaLeft struct {
	Key string
}

// PayloadLeft selects a header field, e.g. tcp dport.
type PayloadLeft struct {
	Protocol string
	Field    string
}

// ConntrackLeft selects connection tracking state, e.g. ct state.
type ConntrackLeft struct {
	Key string
}

// UnknownLeft preserves an unrecognised operand.
type UnknownLeft struct {
	Raw string
}

func (MetaLeft) leftNode()      {}
func (PayloadLeft) leftNode()   {}
func (ConntrackLeft) leftNode() {}
func (UnknownLeft) leftNode()   {}

// Value is the literal side of a Match.
type Value interface {
	valueNode()
}

// Scalar is a single literal. Text holds the literal without JSON quoting.
type Scalar struct {
	Text string
}

// Array is an anonymous list, e.g. ct state established,related.
type Array struct {
	Values []Value
}

// Prefix is an address with a prefix length.
type Prefix struct {
	Addr string
	Len  int
}

// Range is an inclusive interval.
type Range struct {
	Low  Value
	High Value
}

// Set is an anonymous set literal.
type Set struct {
	Values []Value
}

// UnknownValue preserves an unrecognised literal.
type UnknownValue struct {
	Raw string
}

func (Scalar) valueNode()       {}
func (Array) valueNode()        {}
func (Prefix) valueNode()       {}
func (Range) valueNode()        {}
func (Set) valueNode()          {}
func (UnknownValue) valueNode() {}

package mutation

import (
	"context"

	"grimm.is/ruledesk/internal/kernel"
	"grimm.is/ruledesk/internal/ruleset"
)

// Draft is one rule as submitted by an operator. Statement is passed to the
// kernel as typed and is never parsed here.
type Draft struct {
	Family       string  `json:"family"`
	Table        string  `json:"table"`
	Chain        string  `json:"chain"`
	Statement    string  `json:"statement"`
	Comment      string  `json:"comment,omitempty"`
	OriginHandle *uint64 `json:"origin_handle,omitempty"`
}

// Context returns the draft's (family, table, chain) triple.
func (d Draft) Context() ruleset.Context {
	return ruleset.Context{Family: d.Family, Table: d.Table, Chain: d.Chain}
}

// Origin returns the rule an edit replaces. ok is false for a new rule.
func (d Draft) Origin() (ruleset.RuleRef, bool) {
	if d.OriginHandle == nil {
		return ruleset.RuleRef{}, false
	}
	return ruleset.RuleRef{Family: d.Family, Table: d.Table, Chain: d.Chain, Handle: *d.OriginHandle}, true
}

func (d Draft) request() kernel.AddRequest {
	return kernel.AddRequest{
		Family:    d.Family,
		Table:     d.Table,
		Chain:     d.Chain,
		Statement: d.Statement,
		Comment:   d.Comment,
	}
}

// Operation names a kind of submission.
type Operation string

const (
	OpAdd    Operation = "add"
	OpEdit   Operation = "edit"
	OpDelete Operation = "delete"
)

// State is a step of the submission state machine.
type State string

const (
	StateIdle        State = "idle"
	StateValidating  State = "validating"
	StateDeletingOld State = "deleting_old"
	StateAdding      State = "adding"
	StateReplacing   State = "replacing"
	StateDeleting    State = "deleting"
	StateSucceeded   State = "succeeded"
	StateFailed      State = "failed"
)

// Terminal reports whether s ends a submission.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// EditStrategy selects how an edit reaches the kernel.
type EditStrategy string

const (
	// EditAtomic replaces the rule in one kernel transaction when the
	// collaborator supports it.
	EditAtomic EditStrategy = "atomic"
	// EditSequential deletes the old rule, then adds the new one. If the add
	// fails the old rule is gone.
	EditSequential EditStrategy = "sequential"
)

type userKey struct{}

// WithUser attaches the acting user to ctx for audit records.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFrom returns the user attached by WithUser.
func UserFrom(ctx context.Context) string {
	u, _ := ctx.Value(userKey{}).(string)
	return u
}

// Package kernel talks to the live nftables ruleset.
//
// Three collaborators satisfy the same contract: NFTClient drives the nft
// binary, NetlinkClient reads and deletes over netlink, and FakeKernel keeps an
// in-memory ruleset for tests. Errors are classified into the shared taxonomy:
// a refusal by the kernel is KindKernelRejection and carries the kernel's text
// verbatim; failing to reach the kernel at all is KindTransport.
package kernel

import (
	"context"
	"fmt"

	"grimm.is/ruledesk/internal/ruleset"
)

// AddRequest is one rule to append. Statement is passed to the kernel
// unparsed, in its own syntax.
type AddRequest struct {
	Family    string
	Table     string
	Chain     string
	Statement string
	Comment   string
}

// Context returns the request's (family, table, chain) triple.
func (r AddRequest) Context() ruleset.Context {
	return ruleset.Context{Family: r.Family, Table: r.Table, Chain: r.Chain}
}

func (r AddRequest) String() string {
	return fmt.Sprintf("%s/%s/%s: %s", r.Family, r.Table, r.Chain, r.Statement)
}

// Collaborator is the kernel ruleset contract used by the mutation orchestrator.
type Collaborator interface {
	ruleset.Lister

	// AddRule appends a rule and returns the handle the kernel assigned.
	AddRule(ctx context.Context, req AddRequest) (uint64, error)

	// DeleteRule removes the rule addressed by ref.
	DeleteRule(ctx context.Context, ref ruleset.RuleRef) error
}

// Replacer is implemented by collaborators that can delete one rule and add
// another in a single kernel transaction.
type Replacer interface {
	ReplaceRule(ctx context.Context, old ruleset.RuleRef, req AddRequest) (uint64, error)
}

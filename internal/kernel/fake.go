package kernel

import (
	"context"
	"fmt"
	"sync"

	"grimm.is/ruledesk/internal/errors"
	"grimm.is/ruledesk/internal/ruleset"
)

// FakeKernel is an in-memory collaborator. Handles are allocated from one
// monotonically increasing counter and never reused. Rules are stored as
// plain text.
type FakeKernel struct {
	mu         sync.Mutex
	rs         *ruleset.Ruleset
	nextHandle uint64

	// Failure injection. A non-nil error is returned instead of applying the call.
	AddErr    error
	DeleteErr error
	ListErr   error
	Warnings  []string
	Calls     []string
}

// NewFakeKernel returns a kernel with the given chains and no rules.
func NewFakeKernel(chains ...ruleset.Context) *FakeKernel {
	k := &FakeKernel{rs: &ruleset.Ruleset{}, nextHandle: 1}
	for _, c := range chains {
		k.rs.EnsureChain(c.Family, c.Table, c.Chain)
	}
	return k
}

// Seed adds a rule directly, as if another tool had installed it.
func (k *FakeKernel) Seed(req AddRequest) uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.insert(req)
}

func (k *FakeKernel) insert(req AddRequest) uint64 {
	h := k.nextHandle
	k.nextHandle++
	k.rs.AddRule(&ruleset.Rule{
		Family:  req.Family,
		Table:   req.Table,
		Chain:   req.Chain,
		Handle:  h,
		Raw:     req.Statement,
		Comment: req.Comment,
	})
	return h
}

// ListRuleset returns a copy of the current ruleset.
func (k *FakeKernel) ListRuleset(ctx context.Context) (*ruleset.Ruleset, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.Calls = append(k.Calls, "list")
	if k.ListErr != nil {
		return nil, k.ListErr
	}
	out := &ruleset.Ruleset{Warnings: append([]string(nil), k.Warnings...)}
	for _, t := range k.rs.Tables {
		nt := &ruleset.Table{Family: t.Family, Name: t.Name}
		for _, c := range t.Chains {
			nc := &ruleset.Chain{Family: c.Family, Table: c.Table, Name: c.Name}
			for _, r := range c.Rules {
				cp := *r
				nc.Rules = append(nc.Rules, &cp)
			}
			nt.Chains = append(nt.Chains, nc)
		}
		out.Tables = append(out.Tables, nt)
	}
	return out, nil
}

// AddRule appends a rule to an existing chain.
func (k *FakeKernel) AddRule(ctx context.Context, req AddRequest) (uint64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.Calls = append(k.Calls, "add")
	if k.AddErr != nil {
		return 0, k.AddErr
	}
	if !k.rs.HasChain(req.Context()) {
		return 0, errors.New(errors.KindKernelRejection, fmt.Sprintf("Error: No such file or directory; did you mean chain in table %s %s?", req.Family, req.Table))
	}
	return k.insert(req), nil
}

// DeleteRule removes a rule by handle.
func (k *FakeKernel) DeleteRule(ctx context.Context, ref ruleset.RuleRef) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.Calls = append(k.Calls, "delete")
	if k.DeleteErr != nil {
		return k.DeleteErr
	}
	return k.remove(ref)
}

func (k *FakeKernel) remove(ref ruleset.RuleRef) error {
	chain := k.rs.Table(ref.Family, ref.Table).Chain(ref.Chain)
	if chain != nil {
		for i, r := range chain.Rules {
			if r.Handle == ref.Handle {
				chain.Rules = append(chain.Rules[:i], chain.Rules[i+1:]...)
				return nil
			}
		}
	}
	return errors.New(errors.KindKernelRejection,
		fmt.Sprintf("Error: Could not process rule: No such file or directory\n%s", deleteCommand(ref)))
}

// ReplaceRule deletes old and adds req atomically: if the add would fail,
// old is left in place.
func (k *FakeKernel) ReplaceRule(ctx context.Context, old ruleset.RuleRef, req AddRequest) (uint64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.Calls = append(k.Calls, "replace")
	if k.rs.Find(old) == nil {
		return 0, k.remove(old)
	}
	if k.AddErr != nil {
		return 0, k.AddErr
	}
	if !k.rs.HasChain(req.Context()) {
		return 0, errors.New(errors.KindKernelRejection, "Error: No such file or directory")
	}
	if err := k.remove(old); err != nil {
		return 0, err
	}
	return k.insert(req), nil
}

// Sequential returns a view of k without batch support.
func (k *FakeKernel) Sequential() Collaborator {
	return sequentialOnly{k}
}

type sequentialOnly struct {
	k *FakeKernel
}

func (s sequentialOnly) ListRuleset(ctx context.Context) (*ruleset.Ruleset, error) {
	return s.k.ListRuleset(ctx)
}

func (s sequentialOnly) AddRule(ctx context.Context, req AddRequest) (uint64, error) {
	return s.k.AddRule(ctx, req)
}

func (s sequentialOnly) DeleteRule(ctx context.Context, ref ruleset.RuleRef) error {
	return s.k.DeleteRule(ctx, ref)
}

// Rule returns the stored rule for ref, or nil.
func (k *FakeKernel) Rule(ref ruleset.RuleRef) *ruleset.Rule {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.rs.Find(ref)
}

// RuleCount returns the number of stored rules.
func (k *FakeKernel) RuleCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.rs.Rules())
}

package mutation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/ruledesk/internal/audit"
	"grimm.is/ruledesk/internal/clock"
	"grimm.is/ruledesk/internal/errors"
	"grimm.is/ruledesk/internal/events"
	"grimm.is/ruledesk/internal/kernel"
	"grimm.is/ruledesk/internal/metrics"
	"grimm.is/ruledesk/internal/ruleset"
)

var input = ruleset.Context{Family: "inet", Table: "filter", Chain: "INPUT"}

func handle(h uint64) *uint64 { return &h }

func draft(stmt string) Draft {
	return Draft{Family: "inet", Table: "filter", Chain: "INPUT", Statement: stmt}
}

func newTestOrchestrator(k kernel.Collaborator, opts ...Option) *Orchestrator {
	base := []Option{
		WithClock(clock.NewMockClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))),
		WithIDGenerator(func() string { return "sub-1" }),
	}
	return NewOrchestrator(k, append(base, opts...)...)
}

func states(r *Result) []State {
	var out []State
	for _, s := range r.Trace.Steps() {
		if len(out) == 0 || out[len(out)-1] != s.State {
			out = append(out, s.State)
		}
	}
	return out
}

func TestAdd_HandleFreshness(t *testing.T) {
	ctx := context.Background()
	k := kernel.NewFakeKernel(input)
	k.Seed(kernel.AddRequest{Family: "inet", Table: "filter", Chain: "INPUT", Statement: "ct state established accept"})
	k.Seed(kernel.AddRequest{Family: "inet", Table: "filter", Chain: "INPUT", Statement: "iifname lo accept"})

	prior, err := k.ListRuleset(ctx)
	require.NoError(t, err)

	res, err := newTestOrchestrator(k).Add(ctx, draft("tcp dport 22 accept"))
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, res.State)
	assert.Equal(t, "sub-1", res.SubmissionID)

	for _, r := range prior.Rules() {
		assert.NotEqual(t, r.Handle, res.Handle)
	}
	require.NotNil(t, res.Snapshot, "success re-fetches the ruleset")
	assert.Len(t, res.Snapshot.Ruleset.Rules(), 3)
	assert.Equal(t, []State{StateIdle, StateValidating, StateAdding, StateSucceeded}, states(res))
}

func TestAdd_KernelRejectionVerbatim(t *testing.T) {
	k := kernel.NewFakeKernel(input)
	k.AddErr = errors.New(errors.KindKernelRejection, "Error: syntax error, unexpected end of file")

	res, err := newTestOrchestrator(k).Add(context.Background(), draft("tcp dport"))
	require.Error(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, errors.KindKernelRejection, errors.GetKind(err))
	assert.Equal(t, "Error: syntax error, unexpected end of file", errors.Message(err))
	assert.Nil(t, res.Snapshot, "failures do not re-fetch")
}

func TestAdd_RejectsOriginHandle(t *testing.T) {
	k := kernel.NewFakeKernel(input)
	d := draft("accept")
	d.OriginHandle = handle(3)

	_, err := newTestOrchestrator(k).Add(context.Background(), d)
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
	assert.Empty(t, k.Calls)
}

func TestValidation_FailsClosed(t *testing.T) {
	blank := []Draft{
		{Table: "filter", Chain: "INPUT", Statement: "accept"},
		{Family: "inet", Chain: "INPUT", Statement: "accept"},
		{Family: "inet", Table: "filter", Statement: "accept"},
		{Family: "inet", Table: "filter", Chain: "INPUT", Statement: "  "},
	}
	for _, d := range blank {
		k := kernel.NewFakeKernel(input)
		o := newTestOrchestrator(k)

		res, err := o.Add(context.Background(), d)
		assert.Equal(t, errors.KindValidation, errors.GetKind(err))
		assert.Equal(t, StateFailed, res.State)

		d.OriginHandle = handle(1)
		_, err = o.Edit(context.Background(), d)
		assert.Equal(t, errors.KindValidation, errors.GetKind(err))

		assert.Empty(t, k.Calls, "no kernel call for %+v", d)
	}
}

func TestEdit_RequiresOriginHandle(t *testing.T) {
	k := kernel.NewFakeKernel(input)
	o := newTestOrchestrator(k)

	_, err := o.Edit(context.Background(), draft("accept"))
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))

	d := draft("accept")
	d.OriginHandle = handle(0)
	_, err = o.Edit(context.Background(), d)
	assert.Equal(t, "origin_handle", errors.GetAttributes(err)["field"])
	assert.Empty(t, k.Calls)
}

func TestEdit_SequentialHazard(t *testing.T) {
	ctx := context.Background()
	k := kernel.NewFakeKernel(input)
	for i := 0; i < 6; i++ {
		k.Seed(kernel.AddRequest{Family: "inet", Table: "filter", Chain: "INPUT", Statement: "counter"})
	}
	old := k.Seed(kernel.AddRequest{Family: "inet", Table: "filter", Chain: "INPUT", Statement: "tcp dport 22 accept"})
	require.Equal(t, uint64(7), old)
	k.AddErr = errors.New(errors.KindKernelRejection, "Error: syntax error, unexpected newline")

	d := draft("tcp dport 2222 acept")
	d.OriginHandle = handle(old)

	res, err := newTestOrchestrator(k, WithEditStrategy(EditSequential)).Edit(ctx, d)
	require.Error(t, err)
	assert.Equal(t, errors.KindPartialMutation, errors.GetKind(err))
	assert.Equal(t, uint64(7), errors.GetAttributes(err)["deleted_handle"])
	assert.Equal(t, "kernel_rejection", errors.GetAttributes(err)["add_error_kind"])
	assert.Contains(t, err.Error(), "syntax error, unexpected newline")
	assert.Equal(t, StateFailed, res.State)

	rs, err := k.ListRuleset(ctx)
	require.NoError(t, err)
	assert.Nil(t, rs.Find(ruleset.RuleRef{Family: "inet", Table: "filter", Chain: "INPUT", Handle: old}))
	for _, r := range rs.Rules() {
		assert.NotEqual(t, d.Statement, r.Raw)
	}
	assert.Equal(t, []State{StateIdle, StateValidating, StateDeletingOld, StateAdding, StateFailed}, states(res))
}

func TestEdit_FallsBackWithoutReplacer(t *testing.T) {
	k := kernel.NewFakeKernel(input)
	old := k.Seed(kernel.AddRequest{Family: "inet", Table: "filter", Chain: "INPUT", Statement: "tcp dport 22 accept"})
	k.AddErr = errors.New(errors.KindKernelRejection, "Error: syntax error")

	d := draft("tcp dport")
	d.OriginHandle = handle(old)

	res, err := newTestOrchestrator(k.Sequential()).Edit(context.Background(), d)
	assert.Equal(t, errors.KindPartialMutation, errors.GetKind(err))
	assert.Equal(t, 0, k.RuleCount())
	assert.Contains(t, res.Trace.String(), "batch transactions unavailable")
}

func TestEdit_AtomicFailureKeepsOldRule(t *testing.T) {
	k := kernel.NewFakeKernel(input)
	old := k.Seed(kernel.AddRequest{Family: "inet", Table: "filter", Chain: "INPUT", Statement: "tcp dport 22 accept"})
	k.AddErr = errors.New(errors.KindKernelRejection, "Error: syntax error")

	d := draft("tcp dport")
	d.OriginHandle = handle(old)

	res, err := newTestOrchestrator(k).Edit(context.Background(), d)
	assert.Equal(t, errors.KindKernelRejection, errors.GetKind(err))
	assert.Equal(t, StateFailed, res.State)
	assert.NotNil(t, k.Rule(ruleset.RuleRef{Family: "inet", Table: "filter", Chain: "INPUT", Handle: old}))
	assert.Contains(t, states(res), StateReplacing)
	assert.NotContains(t, states(res), StateDeletingOld)
}

func TestEdit_NewHandleAndDiff(t *testing.T) {
	k := kernel.NewFakeKernel(input)
	current := k.Seed(kernel.AddRequest{Family: "inet", Table: "filter", Chain: "INPUT", Statement: "tcp dport 22 accept"})

	edits := []struct {
		strategy EditStrategy
		from, to string
	}{
		{EditAtomic, "tcp dport 22 accept", "tcp dport 2222 accept"},
		{EditSequential, "tcp dport 2222 accept", "tcp dport 22 accept"},
	}
	for _, e := range edits {
		t.Run(string(e.strategy), func(t *testing.T) {
			d := draft(e.to)
			d.Comment = "ssh"
			d.OriginHandle = handle(current)

			res, err := newTestOrchestrator(k, WithEditStrategy(e.strategy)).Edit(context.Background(), d)
			require.NoError(t, err)
			assert.Greater(t, res.Handle, current)
			assert.Equal(t, res.Handle, res.Target.Handle)
			assert.Equal(t, 1, k.RuleCount())

			trace := res.Trace.String()
			assert.Contains(t, trace, "-"+e.from+"\n")
			assert.Contains(t, trace, "+"+e.to+"\n")

			current = res.Handle
		})
	}
}

func TestEdit_DeleteFailureAbortsBeforeAdd(t *testing.T) {
	k := kernel.NewFakeKernel(input)
	d := draft("accept")
	d.OriginHandle = handle(42)

	res, err := newTestOrchestrator(k, WithEditStrategy(EditSequential)).Edit(context.Background(), d)
	assert.Equal(t, errors.KindKernelRejection, errors.GetKind(err))
	assert.NotContains(t, k.Calls, "add")
	assert.NotContains(t, states(res), StateAdding)
}

func TestDelete_MissingHandle(t *testing.T) {
	k := kernel.NewFakeKernel(input)
	ref := ruleset.RuleRef{Family: "inet", Table: "filter", Chain: "INPUT", Handle: 42}

	res, err := newTestOrchestrator(k).Delete(context.Background(), ref)
	require.Error(t, err)
	assert.Equal(t, errors.KindKernelRejection, errors.GetKind(err))
	assert.Equal(t, "Error: Could not process rule: No such file or directory\ndelete rule inet filter INPUT handle 42", errors.Message(err))
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, []string{"delete"}, k.Calls)
}

func TestDelete_Success(t *testing.T) {
	k := kernel.NewFakeKernel(input)
	h := k.Seed(kernel.AddRequest{Family: "inet", Table: "filter", Chain: "INPUT", Statement: "drop"})

	res, err := newTestOrchestrator(k).Delete(context.Background(),
		ruleset.RuleRef{Family: "inet", Table: "filter", Chain: "INPUT", Handle: h})
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, res.State)
	assert.Empty(t, res.Snapshot.Ruleset.Rules())
	assert.Equal(t, []string{"delete", "list"}, k.Calls)
}

func TestRefetchFailureDoesNotFailMutation(t *testing.T) {
	k := kernel.NewFakeKernel(input)
	k.ListErr = errors.New(errors.KindTransport, "nft did not answer in time")

	res, err := newTestOrchestrator(k).Add(context.Background(), draft("accept"))
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, res.State)
	assert.Equal(t, errors.KindTransport, errors.GetKind(res.RefetchError))
	assert.Nil(t, res.Snapshot)
	assert.Contains(t, res.Trace.String(), "re-fetch failed")
}

func TestCanceledContextIsTransport(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	k := kernel.NewFakeKernel(input)
	seeded := k.Seed(kernel.AddRequest{Family: "inet", Table: "filter", Chain: "INPUT", Statement: "accept"})
	o := newTestOrchestrator(k)

	res, err := o.Add(ctx, draft("tcp dport 22 accept"))
	assert.Equal(t, errors.KindTransport, errors.GetKind(err))
	assert.Equal(t, StateFailed, res.State)

	d := draft("tcp dport 2222 accept")
	d.OriginHandle = handle(seeded)
	res, err = o.Edit(ctx, d)
	assert.Equal(t, errors.KindTransport, errors.GetKind(err))
	assert.Equal(t, StateFailed, res.State)

	res, err = o.Delete(ctx, ruleset.RuleRef{Family: "inet", Table: "filter", Chain: "INPUT", Handle: seeded})
	assert.Equal(t, errors.KindTransport, errors.GetKind(err))
	assert.Equal(t, StateFailed, res.State)

	assert.Empty(t, k.Calls, "no kernel call once the context is done")
	assert.Equal(t, 1, k.RuleCount())
}

// cancelOnDelete cancels the submission right after the kernel deletes a
// rule. It hides ReplaceRule, so edits take the sequential path.
type cancelOnDelete struct {
	kernel.Collaborator
	cancel context.CancelFunc
}

func (c cancelOnDelete) DeleteRule(ctx context.Context, ref ruleset.RuleRef) error {
	err := c.Collaborator.DeleteRule(ctx, ref)
	c.cancel()
	return err
}

func TestEdit_CanceledAfterDeleteIsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	k := kernel.NewFakeKernel(input)
	seeded := k.Seed(kernel.AddRequest{Family: "inet", Table: "filter", Chain: "INPUT", Statement: "tcp dport 22 accept"})

	d := draft("tcp dport 2222 accept")
	d.OriginHandle = handle(seeded)
	res, err := newTestOrchestrator(cancelOnDelete{Collaborator: k, cancel: cancel}).Edit(ctx, d)

	require.Error(t, err)
	assert.Equal(t, errors.KindPartialMutation, errors.GetKind(err))
	assert.Equal(t, StateFailed, res.State)
	assert.NotContains(t, k.Calls, "add", "no add once the context is done")
	assert.Zero(t, k.RuleCount())
}

func TestTraceIsOrderedAndTimestamped(t *testing.T) {
	mc := clock.NewMockClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	k := kernel.NewFakeKernel(input)

	res, err := newTestOrchestrator(k, WithClock(mc)).Add(context.Background(), draft("accept"))
	require.NoError(t, err)

	steps := res.Trace.Steps()
	require.NotEmpty(t, steps)
	for i := 1; i < len(steps); i++ {
		assert.False(t, steps[i].At.Before(steps[i-1].At))
	}
	last, ok := res.Trace.Last()
	require.True(t, ok)
	assert.Equal(t, StateSucceeded, last.State)
	assert.Equal(t, "handle 1", last.Detail)
	assert.True(t, strings.HasPrefix(res.Trace.String(), "12:00:00.000 idle"))
}

type recorderFunc func(audit.Event) error

func (f recorderFunc) Record(evt audit.Event) error { return f(evt) }

func TestOutcomeIsPublished(t *testing.T) {
	hub := events.NewHub()
	feed := hub.Subscribe(64, events.EventMutationFinished)

	var recorded []audit.Event
	rec := recorderFunc(func(evt audit.Event) error {
		recorded = append(recorded, evt)
		return nil
	})

	k := kernel.NewFakeKernel(input)
	o := newTestOrchestrator(k, WithEvents(hub), WithRecorder(rec), WithMetrics(metrics.Get()))

	ctx := WithUser(context.Background(), "alice")
	_, err := o.Add(ctx, draft("accept"))
	require.NoError(t, err)

	e := <-feed
	data := e.Data.(events.MutationData)
	assert.Equal(t, "add", data.Operation)
	assert.Equal(t, "succeeded", data.State)
	assert.Equal(t, uint64(1), data.Handle)

	require.Len(t, recorded, 1)
	assert.Equal(t, "alice", recorded[0].User)
	assert.Equal(t, "inet/filter/INPUT#1", recorded[0].Rule)
	assert.Equal(t, "succeeded", recorded[0].Outcome)
}

func TestSubmitDispatches(t *testing.T) {
	k := kernel.NewFakeKernel(input)
	o := newTestOrchestrator(k)

	res, err := o.Submit(context.Background(), draft("accept"))
	require.NoError(t, err)
	assert.Equal(t, OpAdd, res.Operation)

	d := draft("drop")
	d.OriginHandle = handle(res.Handle)
	res, err = o.Submit(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, OpEdit, res.Operation)
}

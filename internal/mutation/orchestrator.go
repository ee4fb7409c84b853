// Package mutation applies operator submissions to the live ruleset.
//
// Every submission runs through a small state machine and returns a Result
// carrying its own trace. Nothing is applied to a local copy of the ruleset:
// after every successful kernel call the ruleset is listed again and the
// fresh snapshot is returned with the result.
package mutation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"

	"grimm.is/ruledesk/internal/audit"
	"grimm.is/ruledesk/internal/clock"
	"grimm.is/ruledesk/internal/errors"
	"grimm.is/ruledesk/internal/events"
	"grimm.is/ruledesk/internal/kernel"
	"grimm.is/ruledesk/internal/logging"
	"grimm.is/ruledesk/internal/metrics"
	"grimm.is/ruledesk/internal/ruleset"
)

// Recorder receives one summary per finished submission.
type Recorder interface {
	Record(evt audit.Event) error
}

// Result is the outcome of one submission.
type Result struct {
	SubmissionID string
	Operation    Operation
	State        State
	Target       ruleset.RuleRef
	Handle       uint64
	Err          error
	Trace        *Trace
	Snapshot     *ruleset.Snapshot
	RefetchError error
}

// Orchestrator sequences Add, Edit and Delete against a kernel collaborator.
type Orchestrator struct {
	kernel   kernel.Collaborator
	client   *ruleset.Client
	strategy EditStrategy
	clock    clock.Clock
	logger   *logging.Logger
	metrics  *metrics.Registry
	hub      *events.Hub
	recorder Recorder
	newID    func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEditStrategy selects atomic or sequential edits.
func WithEditStrategy(s EditStrategy) Option {
	return func(o *Orchestrator) { o.strategy = s }
}

// WithClient sets the client used to re-fetch after a mutation.
func WithClient(c *ruleset.Client) Option {
	return func(o *Orchestrator) { o.client = c }
}

// WithClock sets the clock used for trace timestamps.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics enables mutation counters.
func WithMetrics(m *metrics.Registry) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithEvents publishes trace steps and outcomes to hub.
func WithEvents(hub *events.Hub) Option {
	return func(o *Orchestrator) { o.hub = hub }
}

// WithRecorder sends outcome summaries to r.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithIDGenerator replaces the submission id source.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// NewOrchestrator creates an Orchestrator over k.
func NewOrchestrator(k kernel.Collaborator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		kernel:   k,
		strategy: EditAtomic,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.clock = clock.Or(o.clock)
	if o.logger == nil {
		o.logger = logging.WithComponent("mutation")
	}
	if o.client == nil {
		o.client = ruleset.NewClient(k, ruleset.WithClock(o.clock), ruleset.WithLogger(o.logger))
	}
	return o
}

// submission is the per-call state. It is never shared between calls.
type submission struct {
	o      *Orchestrator
	ctx    context.Context
	log    *logging.Logger
	result *Result
}

func (o *Orchestrator) begin(ctx context.Context, op Operation, target ruleset.RuleRef) *submission {
	id := o.newID()
	s := &submission{
		o:   o,
		ctx: ctx,
		log: o.logger.WithSubmission(id, string(op)),
		result: &Result{
			SubmissionID: id,
			Operation:    op,
			State:        StateIdle,
			Target:       target,
			Trace:        &Trace{},
		},
	}
	s.step(StateIdle, "submission received", target.String(), nil)
	return s
}

func (s *submission) step(state State, action, detail string, err error) {
	st := Step{At: s.o.clock.Now(), State: state, Action: action, Detail: detail}
	if err != nil {
		st.Error = err.Error()
	}
	s.result.State = state
	s.result.Trace.append(st)
	s.log.Debug("mutation step", "state", string(state), "action", action)
	s.o.hub.EmitMutationStep(st.At, events.MutationStepData{
		SubmissionID: s.result.SubmissionID,
		Operation:    string(s.result.Operation),
		State:        string(state),
		Action:       action,
		Detail:       detail,
	})
}

// canceled reports a done context as a transport error. It is checked before
// every kernel call; calls already issued are not reverted.
func (s *submission) canceled() error {
	if err := s.ctx.Err(); err != nil {
		return errors.Wrap(err, errors.KindTransport, "submission canceled before the next kernel call")
	}
	return nil
}

func (s *submission) fail(err error) (*Result, error) {
	s.result.Err = err
	s.step(StateFailed, "submission failed", errors.GetKind(err).String(), err)
	s.finish()
	return s.result, err
}

func (s *submission) succeed(handle uint64) (*Result, error) {
	s.result.Handle = handle
	if handle != 0 {
		s.result.Target.Handle = handle
	}
	s.refetch()
	s.step(StateSucceeded, "submission succeeded", handleDetail(handle), nil)
	s.finish()
	return s.result, nil
}

// refetch lists the ruleset after a committed change. A failed listing is
// reported but does not undo the success.
func (s *submission) refetch() {
	snap, err := s.o.client.Fetch(s.ctx)
	if err != nil {
		s.result.RefetchError = err
		s.step(s.result.State, "re-fetch failed", "the change was applied; list the ruleset again to confirm", err)
		return
	}
	s.result.Snapshot = snap
	detail := fmt.Sprintf("%d rules", len(snap.Ruleset.Rules()))
	if snap.Degraded() {
		detail += fmt.Sprintf(", %d warnings", len(snap.Warnings))
	}
	s.step(s.result.State, "ruleset re-fetched", detail, nil)
}

func (s *submission) finish() {
	r := s.result
	outcome := "ok"
	errKind, errText := "", ""
	if r.Err != nil {
		errKind = errors.GetKind(r.Err).String()
		errText = r.Err.Error()
		outcome = errKind
	}

	if s.o.metrics != nil {
		s.o.metrics.RecordMutation(string(r.Operation), outcome)
	}
	s.o.hub.EmitMutation(events.MutationData{
		SubmissionID: r.SubmissionID,
		Operation:    string(r.Operation),
		Rule:         r.Target.String(),
		State:        string(r.State),
		Handle:       r.Handle,
		ErrorKind:    errKind,
		Error:        errText,
	})

	if r.Err != nil {
		level := s.log.Warn
		if errors.IsKind(r.Err, errors.KindPartialMutation) {
			level = s.log.Error
		}
		level("mutation failed", "rule", r.Target.String(), "kind", errKind, "error", r.Err)
	} else {
		s.log.Info("mutation applied", "rule", r.Target.String())
	}

	if s.o.recorder != nil {
		evt := audit.Event{
			Timestamp:    s.o.clock.Now(),
			User:         UserFrom(s.ctx),
			SubmissionID: r.SubmissionID,
			Operation:    string(r.Operation),
			Rule:         r.Target.String(),
			Outcome:      string(r.State),
			ErrorKind:    errKind,
			Handle:       r.Handle,
		}
		if err := s.o.recorder.Record(evt); err != nil {
			s.log.Warn("failed to record mutation", "error", err)
		}
	}
}

// Submit dispatches a draft: a draft with an origin handle is an edit.
func (o *Orchestrator) Submit(ctx context.Context, d Draft) (*Result, error) {
	if d.OriginHandle != nil {
		return o.Edit(ctx, d)
	}
	return o.Add(ctx, d)
}

// Add appends the draft as a new rule.
func (o *Orchestrator) Add(ctx context.Context, d Draft) (*Result, error) {
	s := o.begin(ctx, OpAdd, ruleset.RuleRef{Family: d.Family, Table: d.Table, Chain: d.Chain})

	s.step(StateValidating, "validating draft", "", nil)
	if d.OriginHandle != nil {
		return s.fail(originError("a new rule must not carry an origin handle"))
	}
	req := d.request()
	if err := kernel.ValidateRequest(req); err != nil {
		return s.fail(err)
	}

	if err := s.canceled(); err != nil {
		return s.fail(err)
	}
	s.step(StateAdding, "adding rule", kernel.BuildAddScript(req), nil)
	handle, err := o.kernel.AddRule(ctx, req)
	if err != nil {
		return s.fail(err)
	}
	return s.succeed(handle)
}

// Edit replaces the rule at the draft's origin handle. The kernel assigns the
// replacement a new handle.
func (o *Orchestrator) Edit(ctx context.Context, d Draft) (*Result, error) {
	old, _ := d.Origin()
	s := o.begin(ctx, OpEdit, old)

	s.step(StateValidating, "validating draft", "", nil)
	if d.OriginHandle == nil || *d.OriginHandle == 0 {
		return s.fail(originError("an edit requires the handle of the rule it replaces"))
	}
	req := d.request()
	if err := kernel.ValidateRequest(req); err != nil {
		return s.fail(err)
	}

	if diff := o.diffAgainstLive(ctx, old, req); diff != "" {
		s.step(StateValidating, "computed change", diff, nil)
	}

	if err := s.canceled(); err != nil {
		return s.fail(err)
	}
	if o.strategy != EditSequential {
		if r, ok := o.kernel.(kernel.Replacer); ok {
			s.step(StateReplacing, "replacing rule in one transaction", kernel.BuildReplaceScript(old, req), nil)
			handle, err := r.ReplaceRule(ctx, old, req)
			if err != nil {
				return s.fail(err)
			}
			return s.succeed(handle)
		}
		s.step(StateValidating, "batch transactions unavailable", "falling back to delete then add", nil)
	}

	s.step(StateDeletingOld, "deleting original rule", old.String(), nil)
	if err := o.kernel.DeleteRule(ctx, old); err != nil {
		return s.fail(err)
	}

	// The original rule is gone; stopping here leaves no replacement.
	if err := s.canceled(); err != nil {
		return s.fail(partialMutation(old, err))
	}
	s.step(StateAdding, "adding replacement rule", kernel.BuildAddScript(req), nil)
	handle, err := o.kernel.AddRule(ctx, req)
	if err != nil {
		return s.fail(partialMutation(old, err))
	}
	return s.succeed(handle)
}

// Delete removes one rule by handle.
func (o *Orchestrator) Delete(ctx context.Context, ref ruleset.RuleRef) (*Result, error) {
	s := o.begin(ctx, OpDelete, ref)

	s.step(StateValidating, "validating target", "", nil)
	if err := kernel.ValidateRef(ref); err != nil {
		return s.fail(err)
	}

	if err := s.canceled(); err != nil {
		return s.fail(err)
	}
	s.step(StateDeleting, "deleting rule", ref.String(), nil)
	if err := o.kernel.DeleteRule(ctx, ref); err != nil {
		return s.fail(err)
	}
	return s.succeed(0)
}

// diffAgainstLive renders the rule being replaced and diffs it against the
// new statement. It returns "" when the old rule cannot be listed.
func (o *Orchestrator) diffAgainstLive(ctx context.Context, old ruleset.RuleRef, req kernel.AddRequest) string {
	if ctx.Err() != nil {
		return ""
	}
	rs, err := o.kernel.ListRuleset(ctx)
	if err != nil || rs == nil {
		return ""
	}
	r := rs.Find(old)
	if r == nil {
		return ""
	}
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(ruleset.RenderRule(r) + "\n"),
		B:        difflib.SplitLines(req.Statement + "\n"),
		FromFile: old.String(),
		ToFile:   "draft",
		Context:  0,
	})
	if err != nil {
		return ""
	}
	return diff
}

// partialMutation reports an edit that deleted the original rule and then
// failed to add its replacement.
func partialMutation(old ruleset.RuleRef, addErr error) error {
	err := errors.Wrapf(addErr, errors.KindPartialMutation,
		"rule %s was deleted but its replacement was not added; the rule is no longer installed", old)
	err = errors.Attr(err, "deleted_handle", old.Handle)
	return errors.Attr(err, "add_error_kind", errors.GetKind(addErr).String())
}

func originError(msg string) error {
	return errors.Attr(errors.New(errors.KindValidation, msg), "field", "origin_handle")
}

func handleDetail(h uint64) string {
	if h == 0 {
		return ""
	}
	return fmt.Sprintf("handle %d", h)
}

package cmd

import (
	"context"
	"os"
	"path/filepath"

	"grimm.is/ruledesk/internal/audit"
	"grimm.is/ruledesk/internal/brand"
	"grimm.is/ruledesk/internal/client"
	"grimm.is/ruledesk/internal/config"
	"grimm.is/ruledesk/internal/events"
	"grimm.is/ruledesk/internal/kernel"
	"grimm.is/ruledesk/internal/logging"
	"grimm.is/ruledesk/internal/metrics"
	"grimm.is/ruledesk/internal/mutation"
	"grimm.is/ruledesk/internal/ruleset"
	"grimm.is/ruledesk/internal/tui"
)

// outcome is a finished submission as the CLI prints it.
type outcome struct {
	Operation    string
	State        string
	Handle       uint64
	Trace        []tui.TraceLine
	RefetchError string
}

// backend is what the one-shot subcommands need, served either by the local
// kernel or by a remote server.
type backend interface {
	Tables(ctx context.Context) ([]ruleset.TableView, []string, error)
	Defaults(ctx context.Context) (ruleset.Context, ruleset.Choices, error)
	Add(ctx context.Context, d mutation.Draft) (*outcome, error)
	Edit(ctx context.Context, d mutation.Draft) (*outcome, error)
	Delete(ctx context.Context, ref ruleset.RuleRef) (*outcome, error)
	Close() error
}

// openBackend returns the remote backend when remote is set, the local one
// built from configFile otherwise.
func openBackend(configFile string, remote RemoteFlags) (backend, error) {
	if remote.Enabled() {
		return &remoteBackend{api: remote.Client()}, nil
	}
	cfg, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}
	st, err := newLocalStack(cfg, nil)
	if err != nil {
		return nil, err
	}
	return &localBackend{stack: st, user: os.Getenv("USER")}, nil
}

// loadConfig reads configFile, or uses built-in defaults when it is the
// default path and does not exist.
func loadConfig(configFile string) (*config.Config, error) {
	if configFile == "" {
		configFile = config.DefaultPath()
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			cfg := config.DefaultConfig()
			if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
				return nil, err
			}
			return cfg, cfg.Validate()
		}
	}
	return config.LoadFile(configFile)
}

// newCollaborator builds the kernel collaborator named by the config.
var newCollaborator = func(cfg *config.Config) (kernel.Collaborator, error) {
	timeout, err := cfg.KernelTimeout()
	if err != nil {
		return nil, err
	}
	nft := kernel.NewNFTClient(
		kernel.WithBinary(cfg.Kernel.NFTPath),
		kernel.WithNetNS(cfg.Kernel.NetNS),
		kernel.WithTimeout(timeout),
		kernel.WithLogger(logging.WithComponent("nft")),
		kernel.WithMetrics(metrics.Get()),
	)

	var c kernel.Collaborator = nft
	if cfg.Kernel.Backend == config.BackendNetlink {
		nl, err := kernel.NewNetlinkClient(nft, cfg.Kernel.NetNS)
		if err != nil {
			return nil, err
		}
		c = nl
	}

	retry := kernel.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Kernel.FetchAttempts
	return kernel.WithRetry(c, retry), nil
}

// localStack is the in-process control plane: collaborator, ruleset client,
// orchestrator and the optional audit store.
type localStack struct {
	cfg    *config.Config
	kernel kernel.Collaborator
	client *ruleset.Client
	orch   *mutation.Orchestrator
	audit  *audit.Store
	hub    *events.Hub
}

func newLocalStack(cfg *config.Config, hub *events.Hub) (*localStack, error) {
	collab, err := newCollaborator(cfg)
	if err != nil {
		return nil, err
	}

	st := &localStack{cfg: cfg, kernel: collab, hub: hub}
	st.client = ruleset.NewClient(collab,
		ruleset.WithLogger(logging.WithComponent("ruleset")),
		ruleset.WithMetrics(metrics.Get()),
		ruleset.WithEvents(hub),
	)

	opts := []mutation.Option{
		mutation.WithClient(st.client),
		mutation.WithEditStrategy(mutation.EditStrategy(cfg.Mutation.EditStrategy)),
		mutation.WithLogger(logging.WithComponent("mutation")),
		mutation.WithMetrics(metrics.Get()),
		mutation.WithEvents(hub),
	}
	if cfg.Audit.Path != "" {
		store, err := audit.NewStore(auditPath(cfg.Audit.Path), cfg.Audit.RetentionDays)
		if err != nil {
			return nil, err
		}
		st.audit = store
		opts = append(opts, mutation.WithRecorder(store))
	}
	st.orch = mutation.NewOrchestrator(collab, opts...)
	return st, nil
}

// auditPath resolves a relative audit path against the state directory.
func auditPath(p string) string {
	if p == audit.MemoryPath || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(brand.GetStateDir(), p)
}

func (s *localStack) Close() error {
	if s.audit != nil {
		return s.audit.Close()
	}
	return nil
}

type localBackend struct {
	stack *localStack
	user  string
}

func (b *localBackend) Tables(ctx context.Context) ([]ruleset.TableView, []string, error) {
	snap, err := b.stack.client.Fetch(ctx)
	if err != nil {
		return nil, nil, err
	}
	return snap.Tables, snap.Warnings, nil
}

func (b *localBackend) Defaults(ctx context.Context) (ruleset.Context, ruleset.Choices, error) {
	return b.stack.client.Defaults(ctx, b.stack.cfg.Baseline())
}

func (b *localBackend) Add(ctx context.Context, d mutation.Draft) (*outcome, error) {
	res, err := b.stack.orch.Add(mutation.WithUser(ctx, b.user), d)
	return localOutcome(res), err
}

func (b *localBackend) Edit(ctx context.Context, d mutation.Draft) (*outcome, error) {
	res, err := b.stack.orch.Edit(mutation.WithUser(ctx, b.user), d)
	return localOutcome(res), err
}

func (b *localBackend) Delete(ctx context.Context, ref ruleset.RuleRef) (*outcome, error) {
	res, err := b.stack.orch.Delete(mutation.WithUser(ctx, b.user), ref)
	return localOutcome(res), err
}

func (b *localBackend) Close() error {
	return b.stack.Close()
}

func localOutcome(res *mutation.Result) *outcome {
	if res == nil {
		return nil
	}
	o := &outcome{
		Operation: string(res.Operation),
		State:     string(res.State),
		Handle:    res.Handle,
	}
	if res.RefetchError != nil {
		o.RefetchError = res.RefetchError.Error()
	}
	if res.Trace != nil {
		for _, s := range res.Trace.Steps() {
			o.Trace = append(o.Trace, tui.TraceLine{
				At:     s.At.Format(traceTimeFormat),
				State:  string(s.State),
				Action: s.Action,
				Detail: s.Detail,
				Error:  s.Error,
			})
		}
	}
	return o
}

const traceTimeFormat = "15:04:05.000"

type remoteBackend struct {
	api *client.HTTPClient
}

func (b *remoteBackend) Tables(ctx context.Context) ([]ruleset.TableView, []string, error) {
	snap, err := b.api.GetRuleset(ctx)
	if err != nil {
		return nil, nil, err
	}
	return snap.Tables, snap.Warnings, nil
}

func (b *remoteBackend) Defaults(ctx context.Context) (ruleset.Context, ruleset.Choices, error) {
	d, err := b.api.GetDefaults(ctx)
	if err != nil {
		return ruleset.Context{}, ruleset.Choices{}, err
	}
	return d.Context, d.Choices, nil
}

func (b *remoteBackend) Add(ctx context.Context, d mutation.Draft) (*outcome, error) {
	res, err := b.api.AddRule(ctx, clientDraft(d))
	return remoteOutcome(res), err
}

func (b *remoteBackend) Edit(ctx context.Context, d mutation.Draft) (*outcome, error) {
	res, err := b.api.EditRule(ctx, clientDraft(d))
	return remoteOutcome(res), err
}

func (b *remoteBackend) Delete(ctx context.Context, ref ruleset.RuleRef) (*outcome, error) {
	res, err := b.api.DeleteRule(ctx, ref)
	return remoteOutcome(res), err
}

func (b *remoteBackend) Close() error { return nil }

func clientDraft(d mutation.Draft) client.Draft {
	return client.Draft{
		Family:       d.Family,
		Table:        d.Table,
		Chain:        d.Chain,
		Statement:    d.Statement,
		Comment:      d.Comment,
		OriginHandle: d.OriginHandle,
	}
}

func remoteOutcome(res *client.MutationResult) *outcome {
	if res == nil {
		return nil
	}
	o := &outcome{
		Operation:    res.Operation,
		State:        res.State,
		Handle:       res.Handle,
		RefetchError: res.RefetchError,
	}
	for _, s := range res.Trace {
		o.Trace = append(o.Trace, tui.TraceLine{
			At:     s.At.Local().Format(traceTimeFormat),
			State:  s.State,
			Action: s.Action,
			Detail: s.Detail,
			Error:  s.Error,
		})
	}
	return o
}

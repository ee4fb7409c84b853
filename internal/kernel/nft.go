package kernel

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"grimm.is/ruledesk/internal/clock"
	"grimm.is/ruledesk/internal/errors"
	"grimm.is/ruledesk/internal/logging"
	"grimm.is/ruledesk/internal/metrics"
	"grimm.is/ruledesk/internal/ruleset"
)

// NFTClient drives the nft binary.
type NFTClient struct {
	runner  CommandRunner
	path    string
	netns   string
	timeout time.Duration
	clock   clock.Clock
	logger  *logging.Logger
	metrics *metrics.Registry
}

// NFTOption configures an NFTClient.
type NFTOption func(*NFTClient)

// WithRunner sets the command runner.
func WithRunner(r CommandRunner) NFTOption {
	return func(c *NFTClient) { c.runner = r }
}

// WithBinary sets the nft executable path.
func WithBinary(path string) NFTOption {
	return func(c *NFTClient) { c.path = path }
}

// WithNetNS runs nft inside a named network namespace via `ip netns exec`.
func WithNetNS(name string) NFTOption {
	return func(c *NFTClient) { c.netns = name }
}

// WithTimeout bounds every nft invocation.
func WithTimeout(d time.Duration) NFTOption {
	return func(c *NFTClient) { c.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) NFTOption {
	return func(c *NFTClient) { c.logger = l }
}

// WithMetrics enables per-call metrics.
func WithMetrics(m *metrics.Registry) NFTOption {
	return func(c *NFTClient) { c.metrics = m }
}

// WithClock sets the clock used for latency measurements.
func WithClock(cl clock.Clock) NFTOption {
	return func(c *NFTClient) { c.clock = cl }
}

// NewNFTClient creates an NFTClient.
func NewNFTClient(opts ...NFTOption) *NFTClient {
	c := &NFTClient{
		runner:  DefaultCommandRunner,
		path:    "nft",
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.clock = clock.Or(c.clock)
	if c.logger == nil {
		c.logger = logging.WithComponent("kernel")
	}
	return c
}

// ListRuleset lists the live ruleset. The JSON listing is preferred; when it
// is unusable the plain-text listing is parsed instead and a warning is added.
func (c *NFTClient) ListRuleset(ctx context.Context) (*ruleset.Ruleset, error) {
	res, err := c.output(ctx, "list", "-j", "list", "ruleset")
	if err != nil && !jsonUnsupported(err) {
		return nil, err
	}

	var reason error = err
	if err == nil {
		rs, decodeErr := ruleset.DecodeJSON(res.Stdout)
		if decodeErr == nil {
			rs.Warnings = append(rs.Warnings, stderrWarnings(res.Stderr)...)
			return rs, nil
		}
		reason = decodeErr
	}

	c.logger.Warn("structured listing unusable, falling back to text", "error", reason)
	textRes, err := c.output(ctx, "list", "-a", "list", "ruleset")
	if err != nil {
		return nil, err
	}
	rs, err := ruleset.ParseText(string(textRes.Stdout))
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to parse nft listing")
	}
	rs.Warnings = append(rs.Warnings, "structured listing unavailable; showing raw rule text")
	rs.Warnings = append(rs.Warnings, stderrWarnings(textRes.Stderr)...)
	return rs, nil
}

// jsonUnsupported reports an nft build without JSON output.
func jsonUnsupported(err error) bool {
	if !errors.IsKind(err, errors.KindKernelRejection) {
		return false
	}
	msg := strings.ToLower(errors.Message(err))
	return strings.Contains(msg, "invalid option") ||
		strings.Contains(msg, "unrecognized option") ||
		strings.Contains(msg, "json support not compiled")
}

// AddRule appends a rule and returns its new handle.
func (c *NFTClient) AddRule(ctx context.Context, req AddRequest) (uint64, error) {
	if err := ValidateRequest(req); err != nil {
		return 0, err
	}
	return c.applyEcho(ctx, "add", BuildAddScript(req))
}

// ReplaceRule deletes old and adds req in one nft transaction. On failure
// neither change is applied.
func (c *NFTClient) ReplaceRule(ctx context.Context, old ruleset.RuleRef, req AddRequest) (uint64, error) {
	if err := ValidateRef(old); err != nil {
		return 0, err
	}
	if err := ValidateRequest(req); err != nil {
		return 0, err
	}
	return c.applyEcho(ctx, "replace", BuildReplaceScript(old, req))
}

// DeleteRule removes one rule by handle.
func (c *NFTClient) DeleteRule(ctx context.Context, ref ruleset.RuleRef) error {
	if err := ValidateRef(ref); err != nil {
		return err
	}
	_, err := c.output(ctx, "delete", "delete", "rule", ref.Family, ref.Table, ref.Chain,
		"handle", strconv.FormatUint(ref.Handle, 10))
	return err
}

// CheckRule asks nft to validate an add without applying it.
func (c *NFTClient) CheckRule(ctx context.Context, req AddRequest) error {
	if err := ValidateRequest(req); err != nil {
		return err
	}
	_, err := c.runInput(ctx, "check", BuildAddScript(req), "-c", "-f", "-")
	return err
}

func (c *NFTClient) applyEcho(ctx context.Context, call, script string) (uint64, error) {
	res, err := c.runInput(ctx, call, script, "-e", "-a", "-f", "-")
	if err != nil {
		return 0, err
	}
	handle, ok := parseEchoedHandle(res.Stdout)
	if !ok {
		c.logger.Warn("nft did not echo a handle for the new rule", "call", call)
		return 0, nil
	}
	c.logger.Info("rule committed", "call", call, "handle", handle)
	return handle, nil
}

func (c *NFTClient) output(ctx context.Context, call string, args ...string) (*CommandResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	start := c.clock.Now()
	name, args := c.command(args)
	res, err := c.runner.Output(ctx, name, args...)
	return c.finish(call, start, res, err)
}

func (c *NFTClient) runInput(ctx context.Context, call, input string, args ...string) (*CommandResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	start := c.clock.Now()
	name, args := c.command(args)
	res, err := c.runner.RunInput(ctx, input, name, args...)
	return c.finish(call, start, res, err)
}

func (c *NFTClient) command(args []string) (string, []string) {
	if c.netns == "" {
		return c.path, args
	}
	return "ip", append([]string{"netns", "exec", c.netns, c.path}, args...)
}

func (c *NFTClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *NFTClient) finish(call string, start time.Time, res *CommandResult, err error) (*CommandResult, error) {
	if res == nil {
		res = &CommandResult{}
	}
	err = classify(call, err)
	if c.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = errors.GetKind(err).String()
		}
		c.metrics.RecordKernelCall(call, outcome, c.clock.Since(start))
	}
	if err != nil {
		c.logger.Debug("nft call failed", "call", call, "kind", errors.GetKind(err).String(), "error", err)
	}
	return res, err
}

// classify maps a runner error onto the error taxonomy.
func classify(call string, err error) error {
	if err == nil {
		return nil
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		msg := strings.TrimSpace(cmdErr.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("nft exited with status %d", cmdErr.ExitCode)
		}
		rejection := errors.New(errors.KindKernelRejection, msg)
		rejection = errors.Attr(rejection, "exit_code", cmdErr.ExitCode)
		return errors.Attr(rejection, "call", call)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, errors.KindTransport, "nft did not answer in time")
	}
	if errors.Is(err, context.Canceled) {
		return errors.Wrap(err, errors.KindTransport, "nft call canceled")
	}
	return errors.Wrap(err, errors.KindTransport, "failed to run nft")
}

// stderrWarnings turns stderr of a successful listing into warnings.
func stderrWarnings(stderr []byte) []string {
	var out []string
	for _, line := range strings.Split(string(stderr), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, strings.TrimPrefix(line, "Warning: "))
	}
	return out
}

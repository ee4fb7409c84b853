package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/ruledesk/internal/errors"
	"grimm.is/ruledesk/internal/ruleset"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}
}

func TestRetryWithResult_RetriesTransport(t *testing.T) {
	attempts := 0
	got, err := RetryWithResult(context.Background(), fastRetry(), func() (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errors.New(errors.KindTransport, "netlink socket busy")
		}
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithResult_DoesNotRetryRejection(t *testing.T) {
	attempts := 0
	_, err := RetryWithResult(context.Background(), fastRetry(), func() (int, error) {
		attempts++
		return 0, errors.New(errors.KindKernelRejection, "Error: Operation not permitted")
	})
	assert.Equal(t, errors.KindKernelRejection, errors.GetKind(err))
	assert.Equal(t, 1, attempts)
}

func TestRetryWithResult_GivesUp(t *testing.T) {
	attempts := 0
	_, err := RetryWithResult(context.Background(), fastRetry(), func() (int, error) {
		attempts++
		return 0, errors.New(errors.KindTransport, "timeout")
	})
	assert.Equal(t, errors.KindTransport, errors.GetKind(err))
	assert.Equal(t, 3, attempts)
}

func TestRetryWithResult_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RetryWithResult(ctx, fastRetry(), func() (int, error) { return 1, nil })
	assert.Equal(t, errors.KindTransport, errors.GetKind(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalculateDelay(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, BackoffFactor: 2}
	assert.Equal(t, 100*time.Millisecond, calculateDelay(0, cfg))
	assert.Equal(t, 200*time.Millisecond, calculateDelay(1, cfg))
	assert.Equal(t, 300*time.Millisecond, calculateDelay(2, cfg))
}

type flakyLister struct {
	*FakeKernel
	failures int
}

func (f *flakyLister) ListRuleset(ctx context.Context) (*ruleset.Ruleset, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New(errors.KindTransport, "netlink receive: no buffer space available")
	}
	return f.FakeKernel.ListRuleset(ctx)
}

func TestWithRetry(t *testing.T) {
	k := NewFakeKernel(ruleset.FallbackContext)
	c := WithRetry(k, fastRetry())
	_, isReplacer := c.(Replacer)
	assert.True(t, isReplacer, "a replacer stays a replacer")

	c = WithRetry(k.Sequential(), fastRetry())
	_, isReplacer = c.(Replacer)
	assert.False(t, isReplacer)

	flaky := &flakyLister{FakeKernel: k, failures: 2}
	rs, err := WithRetry(flaky, fastRetry()).ListRuleset(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, rs)
	assert.Equal(t, 0, flaky.failures)
}

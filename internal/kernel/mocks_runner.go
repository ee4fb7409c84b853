package kernel

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockCommandRunner is a mock implementation of CommandRunner for testing.
// Expectations are keyed on the command name and arguments; RunInput puts
// the stdin text first.
type MockCommandRunner struct {
	mock.Mock
}

func (m *MockCommandRunner) Output(ctx context.Context, name string, args ...string) (*CommandResult, error) {
	callArgs := make([]interface{}, 0, len(args)+1)
	callArgs = append(callArgs, name)
	for _, a := range args {
		callArgs = append(callArgs, a)
	}
	return mockResult(m.Called(callArgs...))
}

func (m *MockCommandRunner) RunInput(ctx context.Context, input string, name string, args ...string) (*CommandResult, error) {
	callArgs := make([]interface{}, 0, len(args)+2)
	callArgs = append(callArgs, input, name)
	for _, a := range args {
		callArgs = append(callArgs, a)
	}
	return mockResult(m.Called(callArgs...))
}

func mockResult(result mock.Arguments) (*CommandResult, error) {
	if result.Get(0) == nil {
		return nil, result.Error(1)
	}
	return result.Get(0).(*CommandResult), result.Error(1)
}

// Stdout is a CommandResult with only stdout set.
func Stdout(s string) *CommandResult {
	return &CommandResult{Stdout: []byte(s)}
}

package logging

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelDebug, Output: &buf, JSON: true})
	require.NotNil(t, logger)

	t.Run("Levels", func(t *testing.T) {
		buf.Reset()
		logger.Debug("debug msg")
		assert.Contains(t, buf.String(), "debug msg")

		buf.Reset()
		logger.Warn("warn msg")
		assert.Contains(t, buf.String(), "warn msg")
	})

	t.Run("DynamicLevel", func(t *testing.T) {
		logger.SetLevel(LevelError)
		defer logger.SetLevel(LevelDebug)
		assert.Equal(t, LevelError, logger.Level())

		buf.Reset()
		logger.Info("should not appear")
		assert.Zero(t, buf.Len())
	})

	t.Run("WithComponent", func(t *testing.T) {
		buf.Reset()
		logger.WithComponent("mutation").Info("msg")
		assert.Contains(t, buf.String(), `"component":"mutation"`)
	})

	t.Run("WithSubmission", func(t *testing.T) {
		buf.Reset()
		logger.WithSubmission("sub-1", "edit").Info("mutation applied")

		var data map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &data))
		assert.Equal(t, "sub-1", data["submission"])
		assert.Equal(t, "edit", data["operation"])
	})
}

func TestConsoleHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf})

	l.WithComponent("Kernel").Info("rule added", "handle", 12, "statement", "tcp dport 22 accept")

	line := buf.String()
	assert.Contains(t, line, "[info] kernel: rule added")
	assert.Contains(t, line, "handle=12")
	assert.Contains(t, line, `statement="tcp dport 22 accept"`, "values with spaces are quoted")
	assert.NotContains(t, line, "component=", "component is promoted to the header")
}

func TestConsoleHandlerTimeFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf, TimeFormat: time.Kitchen})
	l.Info("hello")

	_, err := time.Parse(time.Kitchen, string(bytes.Fields(buf.Bytes())[0]))
	assert.NoError(t, err)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"WARNING": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}

func TestDefaultLogger(t *testing.T) {
	require.NotNil(t, Default())

	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Output = &buf
	prev := Default()
	SetDefault(New(cfg))
	defer SetDefault(prev)

	Info("info")
	Warn("warn")
	Error("error")
	WithComponent("comp").Info("comp msg")

	assert.Contains(t, buf.String(), "comp: comp msg")
}

func TestJSONLogParsing(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf, JSON: true})

	l.Info("json test", "key", "value")

	var data map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &data))
	assert.Equal(t, "json test", data["msg"])
	assert.Equal(t, "value", data["key"])
	assert.Equal(t, "INFO", data["level"])
}

package logx

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestLogger redirects log output into a buffer for the duration of the test.
func setupTestLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logWriterLock.Lock()
	logWriter = &buf
	logWriterLock.Unlock()
	t.Cleanup(func() {
		logWriterLock.Lock()
		logWriter = nil
		logWriterLock.Unlock()
	})
	return &buf
}

func TestLogFormat(t *testing.T) {
	buf := setupTestLogger(t)

	logger := NewLogger("planner")
	logger.Info("Test message with %s", "formatting")

	output := buf.String()
	assert.Contains(t, output, "[planner]")
	assert.Contains(t, output, "INFO:")
	assert.Contains(t, output, "Test message with formatting")
	assert.Regexp(t, `^\[\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z\]`, output)
}

func TestLogLevels(t *testing.T) {
	buf := setupTestLogger(t)
	SetDebug(true)
	SetDebugDomains(nil)
	t.Cleanup(func() { SetDebug(false) })

	logger := NewLogger("test-component")
	tests := []struct {
		logFunc  func(string, ...any)
		expected string
	}{
		{logger.Debug, "DEBUG"},
		{logger.Info, "INFO"},
		{logger.Warn, "WARN"},
		{logger.Error, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			buf.Reset()
			tt.logFunc("level check")
			assert.Contains(t, buf.String(), tt.expected+": level check")
		})
	}
}

func TestDebugDomainFiltering(t *testing.T) {
	buf := setupTestLogger(t)
	SetDebug(true)
	SetDebugDomains([]string{"repair"})
	t.Cleanup(func() {
		SetDebug(false)
		SetDebugDomains(nil)
	})

	ctx := WithSession(context.Background(), "sess-1")
	Debug(ctx, "repair", "visible %d", 1)
	Debug(ctx, "generate", "hidden %d", 2)

	output := buf.String()
	assert.Contains(t, output, "[sess-1] DEBUG: [repair] visible 1")
	assert.NotContains(t, output, "hidden")
	assert.True(t, IsDebugEnabledForDomain("repair"))
	assert.False(t, IsDebugEnabledForDomain("generate"))
}

func TestDebugDisabled(t *testing.T) {
	buf := setupTestLogger(t)
	SetDebug(false)

	NewLogger("quiet").Debug("should not appear")
	assert.Empty(t, buf.String())
}

func TestRunLogMirrorsLines(t *testing.T) {
	setupTestLogger(t)
	path := filepath.Join(t.TempDir(), "output", "run.log")

	require.NoError(t, SetRunLog(path))
	NewLogger("session").Info("first line")
	NewLogger("session").Warn("second line")
	CloseRunLog()

	NewLogger("session").Info("after close")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "INFO: first line")
	assert.Contains(t, string(data), "WARN: second line")
	assert.NotContains(t, string(data), "after close")
}

func TestWrap(t *testing.T) {
	setupTestLogger(t)

	assert.NoError(t, Wrap(nil, "noop"))

	base := errors.New("boom")
	err := Wrap(base, "db connect")
	require.Error(t, err)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "db connect: boom", err.Error())
}

func TestSessionFrom(t *testing.T) {
	assert.Equal(t, "", SessionFrom(context.Background()))
	assert.Equal(t, "abc", SessionFrom(WithSession(context.Background(), "abc")))
}

package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput() (*bytes.Buffer, func()) {
	buf := new(bytes.Buffer)

	mu.Lock()
	original := output
	output = buf
	mu.Unlock()
	reconfigure()

	return buf, func() {
		mu.Lock()
		output = original
		mu.Unlock()
		reconfigure()
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Run("DebugLevelShowsAllMessages", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("DEBUG")
		Debug("debug message")
		Info("info message")
		Warn("warn message")
		Error("error message")

		out := buf.String()
		assert.Contains(t, out, "debug message")
		assert.Contains(t, out, "info message")
		assert.Contains(t, out, "warn message")
		assert.Contains(t, out, "error message")
	})

	t.Run("InfoLevelFiltersDebug", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")
		Debug("debug message")
		Info("info message")

		out := buf.String()
		assert.NotContains(t, out, "debug message")
		assert.Contains(t, out, "info message")
	})

	t.Run("ErrorLevelShowsOnlyErrors", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("ERROR")
		Debug("debug message")
		Info("info message")
		Warn("warn message")
		Error("error message")

		out := buf.String()
		assert.NotContains(t, out, "debug message")
		assert.NotContains(t, out, "info message")
		assert.NotContains(t, out, "warn message")
		assert.Contains(t, out, "error message")
	})
}

func TestSetLevel_IsCaseInsensitiveAndIgnoresInvalid(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("debug")
	Debug("lowercase works")
	assert.Contains(t, buf.String(), "lowercase works")
	buf.Reset()

	SetLevel("INFO")
	SetLevel("BOGUS")
	Debug("should stay filtered at info")
	Info("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should stay filtered at info")
	assert.Contains(t, out, "should appear")
}

func TestSetFormat_SwitchesBetweenTextAndJSON(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")
	SetFormat("json")
	Info("structured message", "key", "value")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "structured message", entry["msg"])
	assert.Equal(t, "value", entry["key"])

	buf.Reset()
	SetFormat("text")
	Info("plain message")
	assert.NotContains(t, buf.String(), `"msg"`)
	assert.Contains(t, buf.String(), "plain message")
}

func TestSetFormat_IgnoresInvalidFormat(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")
	SetFormat("text")
	SetFormat("xml")
	Info("still text")

	assert.NotContains(t, buf.String(), `"msg"`)
}

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(99).String())
}

func TestInit_AppliesLevelFormatAndOutput(t *testing.T) {
	defer func() {
		mu.Lock()
		output = os.Stdout
		mu.Unlock()
		reconfigure()
	}()

	var buf bytes.Buffer
	mu.Lock()
	output = &buf
	mu.Unlock()

	require.NoError(t, Init(Config{Level: "DEBUG", Format: "json"}))
	Debug("from init")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "from init", entry["msg"])
}

func TestInit_EmptyConfigIsANoop(t *testing.T) {
	assert.NoError(t, Init(Config{}))
}

func TestWith_BindsFieldsToSubsequentLines(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")
	SetFormat("text")
	bound := With("node_id", "node-1")
	bound.Info("resource created")

	assert.Contains(t, buf.String(), "node_id=node-1")
}

func TestConcurrentLogging_DoesNotRace(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()
	SetLevel("INFO")

	const goroutines = 10
	const perGoroutine = 50

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				Info("concurrent", "goroutine", id, "i", j)
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, goroutines*perGoroutine, len(lines))
}

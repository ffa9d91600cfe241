package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithContext_RoundTripsThroughFromContext(t *testing.T) {
	lc := &LogContext{NodeID: "node-1", NexusID: "n1"}
	ctx := WithContext(context.Background(), lc)

	got := FromContext(ctx)
	require.NotNil(t, got)
	assert.Equal(t, "node-1", got.NodeID)
	assert.Equal(t, "n1", got.NexusID)
}

func TestFromContext_AbsentContextReturnsNil(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
}

func TestInfoCtx_InjectsLogContextFields(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")
	SetFormat("json")

	lc := &LogContext{TraceID: "trace-1", NodeID: "node-1", RebuildID: "rb-1"}
	ctx := WithContext(context.Background(), lc)

	InfoCtx(ctx, "rebuild progressed", "percent", 50)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "trace-1", entry["trace_id"])
	assert.Equal(t, "node-1", entry["node_id"])
	assert.Equal(t, "rb-1", entry["rebuild_id"])
	assert.Equal(t, float64(50), entry["percent"])
	assert.NotContains(t, entry, "span_id", "unset fields must be omitted, not logged empty")
}

func TestInfoCtx_ContextWithoutLogContextStillLogs(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")
	require.NotPanics(t, func() { InfoCtx(context.Background(), "plain message") })
	assert.Contains(t, buf.String(), "plain message")
}

func TestErrorCtx_InjectsFields(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("ERROR")
	SetFormat("text")
	ctx := WithContext(context.Background(), &LogContext{ChildURI: "malloc:///m0?size_mb=4&blk_size=512"})
	ErrorCtx(ctx, "child faulted")

	assert.Contains(t, buf.String(), `child_uri="malloc:///m0?size_mb=4&blk_size=512"`)
}

package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_DisabledServesNoopTracer(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	assert.False(t, IsEnabled())
	assert.NoError(t, shutdown(context.Background()))

	ctx, span := StartDispatchSpan(context.Background(), "CreatePool", Node("node-1"))
	defer span.End()
	assert.NotNil(t, ctx)

	// RecordError/SetAttributes on a no-op span must not panic.
	RecordError(ctx, errors.New("boom"))
	SetAttributes(ctx, Pool("pool-a"))
}

func TestInit_DisabledRecordErrorIsNilSafe(t *testing.T) {
	_, err := Init(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()
	RecordError(ctx, nil)
}

func TestAttributeHelpers_UseExpectedKeys(t *testing.T) {
	assert.Equal(t, AttrNode, string(Node("n").Key))
	assert.Equal(t, AttrPool, string(Pool("p").Key))
	assert.Equal(t, AttrReplica, string(Replica("r").Key))
	assert.Equal(t, AttrNexus, string(Nexus("x").Key))
	assert.Equal(t, AttrRebuild, string(Rebuild("j").Key))
	assert.Equal(t, AttrState, string(State("Open").Key))
}

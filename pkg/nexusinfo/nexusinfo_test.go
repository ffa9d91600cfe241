package nexusinfo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGet_AbsentKeyReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, found, err := s.Get("nexus-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSubmitCreate_ThenFlushPersistsInitialRecord(t *testing.T) {
	s := newTestStore(t)
	s.Submit(Op{Kind: OpCreate, Key: "nexus-1", Initial: Record{Children: []ChildRecord{{UUID: "child-1", Healthy: true}}}})

	require.NoError(t, s.Flush(context.Background(), "nexus-1"))

	rec, found, err := s.Get("nexus-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, rec.Children, 1)
	assert.Equal(t, "child-1", rec.Children[0].UUID)
	assert.True(t, rec.Children[0].Healthy)
}

func TestSubmitUpdate_FlipsChildHealth(t *testing.T) {
	s := newTestStore(t)
	s.Submit(Op{Kind: OpCreate, Key: "nexus-1", Initial: Record{Children: []ChildRecord{{UUID: "child-1", Healthy: true}}}})
	require.NoError(t, s.Flush(context.Background(), "nexus-1"))

	s.Submit(Op{Kind: OpUpdate, Key: "nexus-1", ChildUUID: "child-1", Healthy: false})
	require.NoError(t, s.Flush(context.Background(), "nexus-1"))

	rec, _, err := s.Get("nexus-1")
	require.NoError(t, err)
	require.Len(t, rec.Children, 1)
	assert.False(t, rec.Children[0].Healthy)
}

func TestSubmitAddChild_AppendsNewEntry(t *testing.T) {
	s := newTestStore(t)
	s.Submit(Op{Kind: OpCreate, Key: "nexus-1", Initial: Record{}})
	s.Submit(Op{Kind: OpAddChild, Key: "nexus-1", ChildUUID: "child-2", Healthy: false})
	require.NoError(t, s.Flush(context.Background(), "nexus-1"))

	rec, _, err := s.Get("nexus-1")
	require.NoError(t, err)
	require.Len(t, rec.Children, 1)
	assert.Equal(t, "child-2", rec.Children[0].UUID)
}

func TestSubmitShutdown_SetsCleanShutdownFlag(t *testing.T) {
	s := newTestStore(t)
	s.Submit(Op{Kind: OpCreate, Key: "nexus-1", Initial: Record{}})
	s.Submit(Op{Kind: OpShutdown, Key: "nexus-1"})
	require.NoError(t, s.Flush(context.Background(), "nexus-1"))

	rec, _, err := s.Get("nexus-1")
	require.NoError(t, err)
	assert.True(t, rec.CleanShutdown)
}

func TestSubmitUpdateCond_SkipsWhenPredicateFails(t *testing.T) {
	s := newTestStore(t)
	s.Submit(Op{Kind: OpCreate, Key: "nexus-1", Initial: Record{Children: []ChildRecord{{UUID: "child-1", Healthy: true}}}})
	require.NoError(t, s.Flush(context.Background(), "nexus-1"))

	alwaysFalse := func(Record) bool { return false }
	s.Submit(Op{Kind: OpUpdateCond, Key: "nexus-1", ChildUUID: "child-1", Healthy: false, Predicate: alwaysFalse})
	require.NoError(t, s.Flush(context.Background(), "nexus-1"))

	rec, _, err := s.Get("nexus-1")
	require.NoError(t, err)
	assert.True(t, rec.Children[0].Healthy, "predicate returning false must leave the record unchanged")
}

func TestCoalesce_KeepsOnlyLatestUpdatePerChild(t *testing.T) {
	pending := coalesce(nil, Op{Kind: OpUpdate, ChildUUID: "child-1", Healthy: true})
	pending = coalesce(pending, Op{Kind: OpUpdate, ChildUUID: "child-1", Healthy: false})
	require.Len(t, pending, 1)
	assert.False(t, pending[0].Healthy)
}

func TestFlush_ContextCancelledReturnsError(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()

	s.opsMu.Lock()
	s.queue["nexus-1"] = []Op{{Kind: OpShutdown, Key: "nexus-1"}}
	s.opsMu.Unlock()

	err := s.Flush(ctx, "nexus-1")
	assert.Error(t, err)
}

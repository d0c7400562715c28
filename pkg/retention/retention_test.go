package retention

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/contex/pkg/eventlog"
	"github.com/docker/contex/pkg/subscription"
)

func TestSweepOnceTrimsByCount(t *testing.T) {
	dir := t.TempDir()
	events, err := eventlog.Open(filepath.Join(dir, "events.db"))
	require.NoError(t, err)
	defer events.Close()

	for i := 0; i < 5; i++ {
		_, err := events.Append(context.Background(), "proj1", "updated", []byte(`{}`))
		require.NoError(t, err)
	}

	subs := subscription.New()
	sweeper := NewSweeper(Config{MaxStreamLength: 2}, events, subs, nil)
	require.NoError(t, sweeper.SweepOnce(context.Background()))

	n, err := events.Length(context.Background(), "proj1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSweepOnceTrimsByAge(t *testing.T) {
	dir := t.TempDir()
	events, err := eventlog.Open(filepath.Join(dir, "events.db"))
	require.NoError(t, err)
	defer events.Close()

	_, err = events.Append(context.Background(), "proj1", "updated", []byte(`{}`))
	require.NoError(t, err)

	subs := subscription.New()
	sweeper := NewSweeper(Config{EventsTTL: time.Nanosecond}, events, subs, nil)
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, sweeper.SweepOnce(context.Background()))

	n, err := events.Length(context.Background(), "proj1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSweepOnceReapsStaleSubscriptions(t *testing.T) {
	dir := t.TempDir()
	events, err := eventlog.Open(filepath.Join(dir, "events.db"))
	require.NoError(t, err)
	defer events.Close()

	subs := subscription.New()
	subs.Put(&subscription.Subscription{AgentID: "stale", LastActivity: time.Now().Add(-time.Hour)})
	subs.Put(&subscription.Subscription{AgentID: "fresh", LastActivity: time.Now()})

	sweeper := NewSweeper(Config{AgentInactive: time.Minute}, events, subs, nil)
	require.NoError(t, sweeper.SweepOnce(context.Background()))

	_, ok := subs.Get("stale")
	assert.False(t, ok)
	_, ok = subs.Get("fresh")
	assert.True(t, ok)
}

func TestBuildSnapshotFoldsLatestPayloadPerDataKey(t *testing.T) {
	dir := t.TempDir()
	events, err := eventlog.Open(filepath.Join(dir, "events.db"))
	require.NoError(t, err)
	defer events.Close()

	appendEvent(t, events, "proj1", "doc1", `{"v":1}`)
	appendEvent(t, events, "proj1", "doc2", `{"v":2}`)
	seq3 := appendEvent(t, events, "proj1", "doc1", `{"v":3}`)

	snap, err := BuildSnapshot(context.Background(), events, "proj1", seq3)
	require.NoError(t, err)

	assert.Equal(t, seq3, snap.Sequence)
	require.Contains(t, snap.Payload, "doc1")
	require.Contains(t, snap.Payload, "doc2")
	assert.JSONEq(t, `{"v":3}`, string(snap.Payload["doc1"]))
	assert.JSONEq(t, `{"v":2}`, string(snap.Payload["doc2"]))
}

func TestBuildSnapshotRespectsTargetSequence(t *testing.T) {
	dir := t.TempDir()
	events, err := eventlog.Open(filepath.Join(dir, "events.db"))
	require.NoError(t, err)
	defer events.Close()

	seq1 := appendEvent(t, events, "proj1", "doc1", `{"v":1}`)
	appendEvent(t, events, "proj1", "doc1", `{"v":2}`)

	snap, err := BuildSnapshot(context.Background(), events, "proj1", seq1)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(snap.Payload["doc1"]))
}

func TestStoreSaveListAndTrim(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "snapshots.db"))
	require.NoError(t, err)
	defer store.Close()

	for seq := int64(1); seq <= 3; seq++ {
		err := store.Save(context.Background(), Snapshot{
			Project:   "proj1",
			Sequence:  seq,
			Payload:   map[string]json.RawMessage{"doc1": json.RawMessage(`{"v":1}`)},
			CreatedAt: time.Now(),
		})
		require.NoError(t, err)
	}

	snaps, err := store.List(context.Background(), "proj1")
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.EqualValues(t, 3, snaps[0].Sequence, "newest first")

	require.NoError(t, store.TrimOldest(context.Background(), "proj1", 1))
	snaps, err = store.List(context.Background(), "proj1")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.EqualValues(t, 3, snaps[0].Sequence)
}

func appendEvent(t *testing.T, events *eventlog.Log, project, dataKey, payload string) int64 {
	t.Helper()
	body, err := json.Marshal(publishEventPayload{DataKey: dataKey, Payload: json.RawMessage(payload), Format: "json"})
	require.NoError(t, err)
	seq, err := events.Append(context.Background(), project, dataKey+"_updated", body)
	require.NoError(t, err)
	return seq
}

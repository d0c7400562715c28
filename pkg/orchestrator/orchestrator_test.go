package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/contex/pkg/dispatcher"
	"github.com/docker/contex/pkg/embedcache"
	"github.com/docker/contex/pkg/embedding"
	"github.com/docker/contex/pkg/eventlog"
	"github.com/docker/contex/pkg/lexical"
	"github.com/docker/contex/pkg/matcher"
	"github.com/docker/contex/pkg/node"
	"github.com/docker/contex/pkg/subscription"
	"github.com/docker/contex/pkg/vectorindex"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *dispatcher.InProcessBroker) {
	t.Helper()

	dir := t.TempDir()
	vec, err := vectorindex.OpenSQLite(filepath.Join(dir, "vectors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { vec.Close() })

	events, err := eventlog.Open(filepath.Join(dir, "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { events.Close() })

	engine, err := embedding.New(embedding.NewLocalProvider())
	require.NoError(t, err)
	cache := embedcache.New(time.Hour)
	lex := lexical.New()

	m := matcher.New(vec, lex, cache, engine, matcher.Config{
		SimilarityThreshold: 0,
		MaxMatches:          5,
		HybridSearchEnabled: false,
		RRFK:                60,
		VectorBoost:         1.0,
	})

	subs := subscription.New()
	broker := dispatcher.NewInProcessBroker()
	sender := dispatcher.NewWebhookSender(dispatcher.DefaultRetryConfig(), dispatcher.NewRegistry(dispatcher.DefaultBreakerConfig()))
	dispatch := dispatcher.New(broker, sender)

	o := New(node.DefaultChain(), engine, cache, vec, lex, false, events, m, subs, dispatch, 0)
	return o, broker
}

func TestPublishDataReturnsIncreasingSequences(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	seq1, err := o.PublishData(ctx, "proj1", "doc1", []byte(`{"name":"alice","role":"engineer"}`), "json", "")
	require.NoError(t, err)
	assert.EqualValues(t, 1, seq1)

	seq2, err := o.PublishData(ctx, "proj1", "doc2", []byte(`{"name":"bob","role":"designer"}`), "json", "")
	require.NoError(t, err)
	assert.EqualValues(t, 2, seq2)
}

func TestPublishDataIsQueryableAfterReturn(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	_, err := o.PublishData(ctx, "proj1", "doc1", []byte(`{"name":"alice","role":"engineer"}`), "json", "")
	require.NoError(t, err)

	result, err := o.Query(ctx, "proj1", "engineer", 5, 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, result.Matches)
	assert.Equal(t, "doc1", result.Matches[0].DataKey)
}

func TestPublishDataReplaceIsAtomic(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	_, err := o.PublishData(ctx, "proj1", "doc1", []byte(`{"a":"first"}`), "json", "")
	require.NoError(t, err)
	_, err = o.PublishData(ctx, "proj1", "doc1", []byte(`{"b":"second"}`), "json", "")
	require.NoError(t, err)

	keys, err := o.DataKeys(ctx, "proj1")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc1"}, keys)
}

func TestRegisterAgentDeliversInitialContextOverPubSub(t *testing.T) {
	o, broker := newTestOrchestrator(t)
	ctx := context.Background()

	_, err := o.PublishData(ctx, "proj1", "doc1", []byte(`{"name":"alice","role":"engineer"}`), "json", "")
	require.NoError(t, err)

	ch, cancel := broker.Subscribe("agent-chan")
	defer cancel()

	resp, err := o.RegisterAgent(ctx, AgentRegistration{
		AgentID:             "agent-1",
		ProjectID:           "proj1",
		DataNeeds:           []string{"engineer"},
		ResponseFormat:      "json",
		NotificationMethod:  "redis",
		NotificationChannel: "agent-chan",
	})
	require.NoError(t, err)
	assert.Equal(t, "registered", resp.Status)
	assert.Equal(t, 1, resp.MatchedNeeds["engineer"])
	assert.EqualValues(t, 1, resp.CurrentSequence)

	select {
	case msg := <-ch:
		assert.Contains(t, string(msg), "initial_context")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial context delivery")
	}
}

func TestRegisterAgentRejectsWebhookWithoutURL(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	_, err := o.RegisterAgent(context.Background(), AgentRegistration{
		AgentID:            "agent-1",
		ProjectID:          "proj1",
		DataNeeds:          []string{"engineer"},
		NotificationMethod: "webhook",
	})
	assert.Error(t, err)
}

func TestPublishAfterRegisterFansOutDataUpdate(t *testing.T) {
	o, broker := newTestOrchestrator(t)
	ctx := context.Background()

	_, err := o.PublishData(ctx, "proj1", "doc1", []byte(`{"name":"alice","role":"engineer"}`), "json", "")
	require.NoError(t, err)

	ch, cancel := broker.Subscribe("agent-chan")
	defer cancel()

	_, err = o.RegisterAgent(ctx, AgentRegistration{
		AgentID:             "agent-1",
		ProjectID:           "proj1",
		DataNeeds:           []string{"engineer"},
		ResponseFormat:      "json",
		NotificationMethod:  "redis",
		NotificationChannel: "agent-chan",
	})
	require.NoError(t, err)

	// drain the initial_context delivery
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial context")
	}

	_, err = o.PublishData(ctx, "proj1", "doc1", []byte(`{"name":"alice","role":"staff engineer"}`), "json", "")
	require.NoError(t, err)

	select {
	case msg := <-ch:
		assert.Contains(t, string(msg), "data_update")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for data_update delivery")
	}
}

func TestUnregisterAgentRemovesSubscription(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	_, err := o.RegisterAgent(ctx, AgentRegistration{
		AgentID:            "agent-1",
		ProjectID:          "proj1",
		DataNeeds:          []string{"engineer"},
		NotificationMethod: "redis",
	})
	require.NoError(t, err)

	o.UnregisterAgent("agent-1")
	_, ok := o.Subs.Get("agent-1")
	assert.False(t, ok)
}

func TestEventRangeReturnsAppendedEvents(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	_, err := o.PublishData(ctx, "proj1", "doc1", []byte(`{"a":1}`), "json", "")
	require.NoError(t, err)
	_, err = o.PublishData(ctx, "proj1", "doc2", []byte(`{"b":2}`), "json", "")
	require.NoError(t, err)

	events, err := o.EventRange(ctx, "proj1", 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.EqualValues(t, 1, events[0].Sequence)
	assert.EqualValues(t, 2, events[1].Sequence)
}

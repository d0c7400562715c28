package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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
	"github.com/docker/contex/pkg/orchestrator"
	"github.com/docker/contex/pkg/subscription"
	"github.com/docker/contex/pkg/vectorindex"
)

func newTestServer(t *testing.T) *httptest.Server {
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

	orch := orchestrator.New(node.DefaultChain(), engine, cache, vec, lex, false, events, m, subs, dispatch, 0)
	srv := New(orch)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestPublishDataEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/data/publish", map[string]any{
		"project_id": "proj1",
		"data_key":   "doc1",
		"data":       map[string]any{"name": "alice", "role": "engineer"},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Equal(t, "published", decoded["status"])
	assert.EqualValues(t, 1, decoded["sequence"])
}

func TestPublishDataEndpointRejectsMissingFields(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/data/publish", map[string]any{"data_key": "doc1"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRegisterAgentEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/data/publish", map[string]any{
		"project_id": "proj1",
		"data_key":   "doc1",
		"data":       map[string]any{"name": "alice", "role": "engineer"},
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, ts.URL+"/agents/register", map[string]any{
		"agent_id":            "agent-1",
		"project_id":          "proj1",
		"data_needs":          []string{"engineer"},
		"response_format":     "json",
		"notification_method": "redis",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Equal(t, "registered", decoded["status"])
}

func TestRegisterAgentEndpointRejectsWebhookWithoutURL(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/agents/register", map[string]any{
		"agent_id":            "agent-1",
		"project_id":          "proj1",
		"data_needs":          []string{"engineer"},
		"notification_method": "webhook",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQueryProjectEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/data/publish", map[string]any{
		"project_id": "proj1",
		"data_key":   "doc1",
		"data":       map[string]any{"name": "alice", "role": "engineer"},
	})
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, ts.URL+"/projects/proj1/query", map[string]any{
		"query": "engineer",
		"top_k": 5,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	matches, ok := decoded["matches"].([]any)
	require.True(t, ok)
	assert.NotEmpty(t, matches)
}

func TestProjectEventsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/data/publish", map[string]any{
		"project_id": "proj1",
		"data_key":   "doc1",
		"data":       map[string]any{"a": 1},
	})
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/projects/proj1/events?since=0&count=10")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	events, ok := decoded["events"].([]any)
	require.True(t, ok)
	assert.Len(t, events, 1)
}

func TestProjectDataEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/data/publish", map[string]any{
		"project_id": "proj1",
		"data_key":   "doc1",
		"data":       map[string]any{"a": 1},
	})
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/projects/proj1/data")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	keys, ok := decoded["data_keys"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"doc1"}, keys)
}

func TestUnregisterAgentEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/agents/register", map[string]any{
		"agent_id":            "agent-1",
		"project_id":          "proj1",
		"data_needs":          []string{"engineer"},
		"notification_method": "redis",
	})
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/agents/agent-1", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

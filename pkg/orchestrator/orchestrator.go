// Package orchestrator implements the Pipeline Orchestrator: the two
// request-driven flows (publish_data, register_agent) that glue the Node
// Parser, Embedding Engine/Cache, Vector Index, Lexical Index, Event Log,
// Rank-Fusion Matcher, Token Budgeter, Subscription Registry and Dispatcher
// into one transactional pipeline, grounded on pkg/rag/manager.go's
// overall request-orchestration shape and pkg/rag/strategy/vector_store.go's
// commit-ordering discipline (index write durable before the operation
// acknowledges).
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/contex/pkg/budget"
	"github.com/docker/contex/pkg/contexerr"
	"github.com/docker/contex/pkg/dispatcher"
	"github.com/docker/contex/pkg/embedcache"
	"github.com/docker/contex/pkg/embedding"
	"github.com/docker/contex/pkg/eventlog"
	"github.com/docker/contex/pkg/lexical"
	"github.com/docker/contex/pkg/matcher"
	"github.com/docker/contex/pkg/node"
	"github.com/docker/contex/pkg/serialize"
	"github.com/docker/contex/pkg/subscription"
	"github.com/docker/contex/pkg/vectorindex"
)

// defaultReplayCap bounds how many missed events register_agent will
// replay in one registration call; a caller wanting more pages through
// /projects/{id}/events itself.
const defaultReplayCap = 1000

// Orchestrator owns every collaborator the publish and register flows
// touch. It holds no state of its own beyond its dependencies.
type Orchestrator struct {
	Parser         *node.Chain
	Engine         *embedding.Engine
	Cache          *embedcache.Cache
	Vector         vectorindex.Index
	Lexical        *lexical.Index
	LexicalEnabled bool
	Events         *eventlog.Log
	Matcher        *matcher.Matcher
	Subs           *subscription.Registry
	Dispatch       *dispatcher.Dispatcher
	MaxContextSize int
	ReplayCap      int
}

// New builds an Orchestrator from its collaborators; maxContextSize <= 0
// disables budget truncation (unbounded).
func New(parser *node.Chain, engine *embedding.Engine, cache *embedcache.Cache, vector vectorindex.Index, lex *lexical.Index, lexicalEnabled bool, events *eventlog.Log, m *matcher.Matcher, subs *subscription.Registry, dispatch *dispatcher.Dispatcher, maxContextSize int) *Orchestrator {
	return &Orchestrator{
		Parser:         parser,
		Engine:         engine,
		Cache:          cache,
		Vector:         vector,
		Lexical:        lex,
		LexicalEnabled: lexicalEnabled,
		Events:         events,
		Matcher:        m,
		Subs:           subs,
		Dispatch:       dispatch,
		MaxContextSize: maxContextSize,
		ReplayCap:      defaultReplayCap,
	}
}

// PublishData implements publish_data(project, data_key, payload,
// format_hint?, event_type?) → sequence (§4.11).
func (o *Orchestrator) PublishData(ctx context.Context, project, dataKey string, data []byte, formatHint, eventType string) (int64, error) {
	parsed := o.Parser.Parse(data, formatHint)
	if !parsed.Success {
		return 0, contexerr.Parse("orchestrator: publish_data", parsed.Error)
	}

	records, err := o.buildRecords(ctx, project, dataKey, data, parsed)
	if err != nil {
		return 0, err
	}

	// Step 3: the index write must be durable before the event log append
	// (I1) — a subscriber that observes the event via Range must never
	// see node records still in flight.
	if err := o.Vector.Upsert(ctx, project, dataKey, records); err != nil {
		return 0, contexerr.Index("orchestrator: publish_data: upsert", err)
	}

	if o.LexicalEnabled && o.Lexical != nil {
		for _, r := range records {
			if err := o.Lexical.Index(project, r.NodeKey, r.Description, nil); err != nil {
				slog.Warn("orchestrator: lexical indexing failed, continuing", "project", project, "node_key", r.NodeKey, "error", err)
			}
		}
	}

	evType := eventType
	if evType == "" {
		evType = dataKey + "_updated"
	}
	eventPayload, err := json.Marshal(publishEventPayload{DataKey: dataKey, Payload: json.RawMessage(rawOrQuoted(data)), Format: parsed.FormatName})
	if err != nil {
		return 0, fmt.Errorf("orchestrator: publish_data: marshal event payload: %w", err)
	}

	seq, err := o.Events.Append(ctx, project, evType, eventPayload)
	if err != nil {
		return 0, contexerr.EventLog("orchestrator: publish_data: append", err)
	}

	o.fanOutUpdate(ctx, project, dataKey, seq, data, parsed.FormatName)

	return seq, nil
}

type publishEventPayload struct {
	DataKey string          `json:"data_key"`
	Payload json.RawMessage `json:"payload"`
	Format  string          `json:"format"`
}

// rawOrQuoted returns data verbatim if it is already valid JSON, or a
// JSON-quoted string otherwise, so arbitrary non-JSON publisher payloads
// (YAML, CSV, Markdown, plain text) can still live inside a JSON event
// envelope.
func rawOrQuoted(data []byte) []byte {
	var v any
	if json.Unmarshal(data, &v) == nil {
		return data
	}
	quoted, err := json.Marshal(string(data))
	if err != nil {
		return []byte(`""`)
	}
	return quoted
}

func (o *Orchestrator) buildRecords(ctx context.Context, project, dataKey string, data []byte, parsed node.ParseResult) ([]vectorindex.Record, error) {
	texts := make([]string, len(parsed.Nodes))
	for i, n := range parsed.Nodes {
		texts[i] = node.EmbeddingText(n)
	}

	vectors, err := o.encodeTexts(ctx, texts)
	if err != nil {
		return nil, contexerr.Embed("orchestrator: publish_data: embed", err)
	}

	records := make([]vectorindex.Record, len(parsed.Nodes))
	for i, n := range parsed.Nodes {
		contentJSON, err := json.Marshal(n.Content.ToAny())
		if err != nil {
			return nil, fmt.Errorf("orchestrator: publish_data: marshal node content: %w", err)
		}
		records[i] = vectorindex.Record{
			Project:         project,
			DataKey:         dataKey,
			NodeKey:         node.NodeKey(dataKey, n),
			NodePath:        n.Path,
			NodeType:        n.NodeType,
			Description:     texts[i],
			Content:         string(contentJSON),
			OriginalPayload: data,
			DataFormat:      parsed.FormatName,
			Vector:          vectors[i],
		}
	}
	return records, nil
}

// encodeTexts resolves one vector per text, consulting the Embedding Cache
// first and batching the misses through the Embedding Engine, mirroring
// the Matcher's single-text embedNeed but amortized across a whole
// publish's nodes.
func (o *Orchestrator) encodeTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, t := range texts {
		if vec, ok := o.Cache.Get(t); ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := o.Engine.EncodeBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		o.Cache.Set(missTexts[j], vecs[j])
	}
	return out, nil
}

// fanOutUpdate delivers a data_update envelope to every subscription
// affected by this publish, per §4.11 steps 6-8. Webhook deliveries are
// fire-and-forget background tasks; pub/sub deliveries are synchronous.
func (o *Orchestrator) fanOutUpdate(ctx context.Context, project, dataKey string, seq int64, data []byte, format string) {
	affected := o.Subs.AffectedBy(project, dataKey)
	if len(affected) == 0 {
		return
	}

	decoded := decodeBestEffort(data)
	for _, sub := range affected {
		envelope := map[string]any{
			"type":     "data_update",
			"sequence": seq,
			"data_key": dataKey,
			"data":     decoded,
			"format":   string(sub.Format),
		}
		body, err := serialize.Encode(serialize.Format(sub.Format), envelope)
		if err != nil {
			slog.Warn("orchestrator: serialize data_update failed, skipping delivery", "agent_id", sub.AgentID, "error", err)
			continue
		}

		target := targetFor(sub)
		var deliverErr error
		if sub.Delivery.Mode == subscription.ModeWebhook {
			deliverErr = o.Dispatch.DeliverBytesAsync(ctx, target, dispatcher.EventDataUpdate, body)
		} else {
			deliverErr = o.Dispatch.DeliverBytesSync(ctx, target, dispatcher.EventDataUpdate, body)
		}
		if deliverErr != nil {
			slog.Warn("orchestrator: data_update delivery failed", "agent_id", sub.AgentID, "error", deliverErr)
		}

		o.Subs.UpdateLastSequence(sub.AgentID, seq)
	}
}

func targetFor(sub *subscription.Subscription) dispatcher.Target {
	return dispatcher.Target{
		Mode:    string(sub.Delivery.Mode),
		Channel: sub.Delivery.Channel,
		URL:     sub.Delivery.URL,
		Secret:  sub.Delivery.Secret,
	}
}

func decodeBestEffort(data []byte) any {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	return v
}

// AgentRegistration is the body of POST /agents/register (§6).
type AgentRegistration struct {
	AgentID             string
	ProjectID           string
	DataNeeds           []string
	LastSeenSequence    int64
	ResponseFormat      string
	NotificationMethod  string // "redis" or "webhook"
	NotificationChannel string
	WebhookURL          string
	WebhookSecret       string
}

// RegistrationResponse is the body returned from POST /agents/register (§6).
type RegistrationResponse struct {
	Status              string
	AgentID             string
	ProjectID           string
	CaughtUpEvents      int
	CurrentSequence     int64
	MatchedNeeds        map[string]int
	NotificationChannel string
}

// RegisterAgent implements register_agent(registration) → response (§4.11).
func (o *Orchestrator) RegisterAgent(ctx context.Context, reg AgentRegistration) (RegistrationResponse, error) {
	if reg.NotificationMethod == "webhook" && reg.WebhookURL == "" {
		return RegistrationResponse{}, contexerr.Validation("orchestrator: register_agent", fmt.Errorf("webhook notification requires webhook_url"))
	}

	matches, err := o.Matcher.Match(ctx, reg.ProjectID, reg.DataNeeds)
	if err != nil {
		return RegistrationResponse{}, contexerr.Index("orchestrator: register_agent: match", err)
	}
	if o.MaxContextSize > 0 {
		matches = budget.Truncate(matches, reg.DataNeeds, o.MaxContextSize)
	}

	matchedDataKeys := make(map[string]struct{})
	matchedNeeds := make(map[string]int, len(reg.DataNeeds))
	for _, need := range reg.DataNeeds {
		ms := matches[need]
		matchedNeeds[need] = len(ms)
		for _, m := range ms {
			matchedDataKeys[m.DataKey] = struct{}{}
		}
	}

	mode := subscription.ModePubSub
	channel := reg.NotificationChannel
	if reg.NotificationMethod == "webhook" {
		mode = subscription.ModeWebhook
	} else if channel == "" {
		channel = reg.AgentID
	}

	sub := &subscription.Subscription{
		AgentID: reg.AgentID,
		Project: reg.ProjectID,
		Needs:   reg.DataNeeds,
		Delivery: subscription.Delivery{
			Mode:    mode,
			Channel: channel,
			URL:     reg.WebhookURL,
			Secret:  reg.WebhookSecret,
		},
		Format:          subscription.Format(serialize.ParseFormat(reg.ResponseFormat)),
		MatchedDataKeys: matchedDataKeys,
		LastSequence:    reg.LastSeenSequence,
		LastActivity:    time.Now(),
	}
	o.Subs.Put(sub)

	o.deliverInitialContext(ctx, sub, matches)

	missed, err := o.replayMissedEvents(ctx, sub)
	if err != nil {
		return RegistrationResponse{}, contexerr.EventLog("orchestrator: register_agent: replay", err)
	}

	current, ok, err := o.Events.Latest(ctx, reg.ProjectID)
	if err != nil {
		return RegistrationResponse{}, contexerr.EventLog("orchestrator: register_agent: latest", err)
	}
	if !ok {
		current = 0
	}
	o.Subs.UpdateLastSequence(reg.AgentID, current)

	return RegistrationResponse{
		Status:              "registered",
		AgentID:             reg.AgentID,
		ProjectID:           reg.ProjectID,
		CaughtUpEvents:      len(missed),
		CurrentSequence:     current,
		MatchedNeeds:        matchedNeeds,
		NotificationChannel: channel,
	}, nil
}

func (o *Orchestrator) deliverInitialContext(ctx context.Context, sub *subscription.Subscription, matches map[string][]matcher.Match) {
	byNeed := make(map[string]any, len(sub.Needs))
	for _, need := range sub.Needs {
		ms := matches[need]
		list := make([]map[string]any, 0, len(ms))
		for _, m := range ms {
			list = append(list, map[string]any{
				"data_key":    m.DataKey,
				"similarity":  m.Similarity,
				"content":     m.Content,
				"description": m.Description,
			})
		}
		byNeed[need] = list
	}

	envelope := map[string]any{
		"type":     "initial_context",
		"agent_id": sub.AgentID,
		"format":   string(sub.Format),
		"context":  byNeed,
	}
	body, err := serialize.Encode(serialize.Format(sub.Format), envelope)
	if err != nil {
		slog.Warn("orchestrator: serialize initial_context failed", "agent_id", sub.AgentID, "error", err)
		return
	}

	target := targetFor(sub)
	if err := o.Dispatch.DeliverBytesSync(ctx, target, dispatcher.EventInitialContext, body); err != nil {
		slog.Warn("orchestrator: initial_context delivery failed", "agent_id", sub.AgentID, "error", err)
	}
}

func (o *Orchestrator) replayMissedEvents(ctx context.Context, sub *subscription.Subscription) ([]eventlog.Event, error) {
	missed, err := o.Events.Range(ctx, sub.Project, sub.LastSequence, o.replayCap())
	if err != nil {
		return nil, err
	}

	target := targetFor(sub)
	for _, ev := range missed {
		envelope := map[string]any{
			"type":       "event",
			"sequence":   ev.Sequence,
			"event_type": ev.Type,
			"data":       decodeBestEffort(ev.Payload),
		}
		body, err := serialize.Encode(serialize.Format(sub.Format), envelope)
		if err != nil {
			slog.Warn("orchestrator: serialize replay event failed", "agent_id", sub.AgentID, "sequence", ev.Sequence, "error", err)
			continue
		}
		if err := o.Dispatch.DeliverBytesSync(ctx, target, dispatcher.EventPlain, body); err != nil {
			slog.Warn("orchestrator: replay event delivery failed", "agent_id", sub.AgentID, "sequence", ev.Sequence, "error", err)
		}
	}
	return missed, nil
}

func (o *Orchestrator) replayCap() int {
	if o.ReplayCap > 0 {
		return o.ReplayCap
	}
	return defaultReplayCap
}

// UnregisterAgent implements DELETE /agents/{id}.
func (o *Orchestrator) UnregisterAgent(agentID string) {
	o.Subs.Remove(agentID)
}

// QueryResult is the response body of POST /projects/{id}/query.
type QueryResult struct {
	Matches []matcher.Match
}

// Query implements the ad-hoc, side-effect-free single-need match behind
// POST /projects/{id}/query: it runs the same Rank-Fusion Matcher the
// register flow uses, then applies the request's own top_k/threshold/
// max_tokens overrides locally rather than mutating the shared Matcher
// configuration (no subscription, no registry write, per the endpoint's
// contract).
func (o *Orchestrator) Query(ctx context.Context, project, query string, topK int, threshold float64, maxTokens int) (QueryResult, error) {
	results, err := o.Matcher.Match(ctx, project, []string{query})
	if err != nil {
		return QueryResult{}, contexerr.Index("orchestrator: query", err)
	}
	matches := results[query]

	if threshold > 0 {
		filtered := matches[:0:0]
		for _, m := range matches {
			if m.Similarity >= threshold {
				filtered = append(filtered, m)
			}
		}
		matches = filtered
	}
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	if maxTokens > 0 {
		truncated := budget.Truncate(map[string][]matcher.Match{query: matches}, []string{query}, maxTokens)
		matches = truncated[query]
	}

	return QueryResult{Matches: matches}, nil
}

// EventRange implements GET /projects/{id}/events?since&count.
func (o *Orchestrator) EventRange(ctx context.Context, project string, since int64, count int) ([]eventlog.Event, error) {
	events, err := o.Events.Range(ctx, project, since, count)
	if err != nil {
		return nil, contexerr.EventLog("orchestrator: event_range", err)
	}
	return events, nil
}

// DataKeys implements GET /projects/{id}/data.
func (o *Orchestrator) DataKeys(ctx context.Context, project string) ([]string, error) {
	keys, err := o.Vector.ListDataKeys(ctx, project)
	if err != nil {
		return nil, contexerr.Index("orchestrator: data_keys", err)
	}
	return keys, nil
}

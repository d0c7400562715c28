// Package subscription implements the Subscription Registry: an in-memory,
// concurrent-safe map of active agents, grounded directly on
// pkg/concurrent/map.go's reader-biased generic Map rather than a
// hand-rolled mutex+map (the teacher's own concurrency primitive already
// covers this shape exactly).
package subscription

import (
	"time"

	"github.com/docker/contex/pkg/concurrent"
)

// Mode is the delivery transport a subscription was registered with.
type Mode string

const (
	ModePubSub  Mode = "pubsub"
	ModeWebhook Mode = "webhook"
)

// Delivery pins the transport-specific addressing for a subscription.
type Delivery struct {
	Mode    Mode
	Channel string
	URL     string
	Secret  string
}

// Format is the serialization the subscriber wants envelopes rendered in.
type Format string

const (
	FormatTOON     Format = "toon"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatTOML     Format = "toml"
	FormatCSV      Format = "csv"
	FormatXML      Format = "xml"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
)

// Subscription is the live, in-process state of one registered agent.
type Subscription struct {
	AgentID         string
	Project         string
	Needs           []string
	Delivery        Delivery
	Format          Format
	MatchedDataKeys map[string]struct{}
	LastSequence    int64
	LastActivity    time.Time
}

// Registry is the concurrent-safe store of active Subscriptions, keyed by
// agent_id. It never persists across process restarts (§3 Lifecycles).
type Registry struct {
	m *concurrent.Map[string, *Subscription]
}

func New() *Registry {
	return &Registry{m: concurrent.NewMap[string, *Subscription]()}
}

// Put creates or replaces the subscription for sub.AgentID; last write wins.
func (r *Registry) Put(sub *Subscription) {
	r.m.Store(sub.AgentID, sub)
}

// Get returns the subscription for agentID, or (nil, false).
func (r *Registry) Get(agentID string) (*Subscription, bool) {
	return r.m.Load(agentID)
}

// Remove deletes the subscription for agentID, if any.
func (r *Registry) Remove(agentID string) {
	r.m.Delete(agentID)
}

// List returns every currently registered agent id, in no particular order.
func (r *Registry) List() []string {
	var ids []string
	r.m.Range(func(agentID string, _ *Subscription) bool {
		ids = append(ids, agentID)
		return true
	})
	return ids
}

// AffectedBy returns every subscription whose project matches and whose
// matched_data_keys contains dataKey.
func (r *Registry) AffectedBy(project, dataKey string) []*Subscription {
	var out []*Subscription
	r.m.Range(func(_ string, sub *Subscription) bool {
		if sub.Project != project {
			return true
		}
		if _, ok := sub.MatchedDataKeys[dataKey]; ok {
			out = append(out, sub)
		}
		return true
	})
	return out
}

// UpdateLastSequence applies the monotonic guard of I3: last_sequence never
// decreases.
func (r *Registry) UpdateLastSequence(agentID string, seq int64) {
	sub, ok := r.m.Load(agentID)
	if !ok {
		return
	}
	if seq > sub.LastSequence {
		sub.LastSequence = seq
	}
}

// Touch refreshes a subscription's last-activity timestamp, used by the
// stale-subscription reaper's inactivity window.
func (r *Registry) Touch(agentID string, at time.Time) {
	sub, ok := r.m.Load(agentID)
	if !ok {
		return
	}
	sub.LastActivity = at
}

// ReapStale removes every subscription whose LastActivity is older than
// cutoff, returning the removed agent ids.
func (r *Registry) ReapStale(cutoff time.Time) []string {
	var stale []string
	r.m.Range(func(agentID string, sub *Subscription) bool {
		if sub.LastActivity.Before(cutoff) {
			stale = append(stale, agentID)
		}
		return true
	})
	for _, id := range stale {
		r.m.Delete(id)
	}
	return stale
}

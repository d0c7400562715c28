// Package retention implements event retention, stale-subscription
// reaping and state snapshots (§4.12), grounded on pkg/server/
// source_loader.go's refreshLoop for the periodic-sweep shape (a ticker
// driving a bounded background goroutine, stopped via context
// cancellation) and on the Event Log's own SQLite database for snapshot
// persistence.
package retention

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/contex/pkg/eventlog"
	"github.com/docker/contex/pkg/sqliteutil"
	"github.com/docker/contex/pkg/subscription"
)

// Config pins the retention tunables named in §6's environment variables.
type Config struct {
	EventsTTL       time.Duration
	AgentInactive   time.Duration
	MaxStreamLength int
	MaxSnapshots    int
	SweepInterval   time.Duration
}

func DefaultConfig() Config {
	return Config{
		EventsTTL:       30 * 24 * time.Hour,
		AgentInactive:   24 * time.Hour,
		MaxStreamLength: 10000,
		MaxSnapshots:    10,
		SweepInterval:   time.Hour,
	}
}

// Snapshot is one administrative fold of a project's event stream up to
// and including Sequence.
type Snapshot struct {
	Project   string
	Sequence  int64
	Payload   map[string]json.RawMessage // data_key -> latest payload
	CreatedAt time.Time
}

// Store persists Snapshots in the same SQLite database family the rest of
// the system uses, following eventlog.Log's own schema-on-open pattern.
type Store struct {
	db *sql.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := sqliteutil.OpenDB(path)
	if err != nil {
		return nil, fmt.Errorf("retention: open snapshot store: %w", err)
	}
	s := &Store{db: db}
	if err := s.createSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("retention: snapshot schema: %w", err)
	}
	return s, nil
}

func (s *Store) createSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS snapshots (
		project    TEXT NOT NULL,
		sequence   INTEGER NOT NULL,
		payload    BLOB NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (project, sequence)
	);
	`)
	return err
}

func (s *Store) Close() error { return s.db.Close() }

// Save persists snap, replacing any prior snapshot at the same sequence.
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	buf, err := json.Marshal(snap.Payload)
	if err != nil {
		return fmt.Errorf("retention: marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO snapshots (project, sequence, payload, created_at) VALUES (?, ?, ?, ?)
	ON CONFLICT(project, sequence) DO UPDATE SET payload = excluded.payload, created_at = excluded.created_at`,
		snap.Project, snap.Sequence, buf, snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("retention: save snapshot: %w", err)
	}
	return nil
}

// List returns every snapshot for project, newest sequence first.
func (s *Store) List(ctx context.Context, project string) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sequence, payload, created_at FROM snapshots WHERE project = ? ORDER BY sequence DESC`, project)
	if err != nil {
		return nil, fmt.Errorf("retention: list snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var seq int64
		var buf []byte
		var createdAt time.Time
		if err := rows.Scan(&seq, &buf, &createdAt); err != nil {
			return nil, fmt.Errorf("retention: scan snapshot: %w", err)
		}
		var payload map[string]json.RawMessage
		if err := json.Unmarshal(buf, &payload); err != nil {
			return nil, fmt.Errorf("retention: decode snapshot: %w", err)
		}
		out = append(out, Snapshot{Project: project, Sequence: seq, Payload: payload, CreatedAt: createdAt})
	}
	return out, rows.Err()
}

// TrimOldest keeps at most keep newest snapshots for project, deleting
// the rest.
func (s *Store) TrimOldest(ctx context.Context, project string, keep int) error {
	_, err := s.db.ExecContext(ctx, `
	DELETE FROM snapshots WHERE project = ? AND sequence NOT IN (
		SELECT sequence FROM snapshots WHERE project = ? ORDER BY sequence DESC LIMIT ?
	)`, project, project, keep)
	if err != nil {
		return fmt.Errorf("retention: trim snapshots: %w", err)
	}
	return nil
}

// publishEventPayload mirrors orchestrator.publishEventPayload's wire
// shape; duplicated here (rather than imported) to avoid a retention →
// orchestrator package dependency, since orchestrator already depends on
// retention's sibling packages.
type publishEventPayload struct {
	DataKey string          `json:"data_key"`
	Payload json.RawMessage `json:"payload"`
	Format  string          `json:"format"`
}

// BuildSnapshot implements the snapshot algorithm of §4.12: replay every
// event up to and including targetSequence, fold into {data_key -> latest
// payload}, and return it tagged with the target sequence. It does not
// persist; callers pass the result to Store.Save.
func BuildSnapshot(ctx context.Context, events *eventlog.Log, project string, targetSequence int64) (Snapshot, error) {
	evs, err := events.Range(ctx, project, 0, 0)
	if err != nil {
		return Snapshot{}, fmt.Errorf("retention: replay for snapshot: %w", err)
	}

	folded := make(map[string]json.RawMessage)
	for _, ev := range evs {
		if ev.Sequence > targetSequence {
			break
		}
		var decoded publishEventPayload
		if err := json.Unmarshal(ev.Payload, &decoded); err != nil {
			slog.Warn("retention: skip undecodable event while folding snapshot", "project", project, "sequence", ev.Sequence, "error", err)
			continue
		}
		if decoded.DataKey == "" {
			continue
		}
		folded[decoded.DataKey] = decoded.Payload
	}

	return Snapshot{Project: project, Sequence: targetSequence, Payload: folded, CreatedAt: time.Now()}, nil
}

// Sweeper periodically applies event retention, stale-subscription
// reaping and snapshot trimming across every known project.
type Sweeper struct {
	cfg       Config
	events    *eventlog.Log
	subs      *subscription.Registry
	snapshots *Store
}

func NewSweeper(cfg Config, events *eventlog.Log, subs *subscription.Registry, snapshots *Store) *Sweeper {
	return &Sweeper{cfg: cfg, events: events, subs: subs, snapshots: snapshots}
}

// Run drives the sweep on cfg.SweepInterval until ctx is canceled,
// mirroring pkg/server/source_loader.go's refreshLoop ticker shape.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				slog.Warn("retention: sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce applies one retention pass for every known project: event
// count/TTL trimming, stale-subscription reaping, and snapshot count
// trimming. It does not build new snapshots — BuildSnapshot/Store.Save is
// an administrative operation invoked separately.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	projects, err := s.events.Projects(ctx)
	if err != nil {
		return fmt.Errorf("retention: list projects: %w", err)
	}

	for _, project := range projects {
		if s.cfg.MaxStreamLength > 0 {
			if err := s.events.TrimByCount(ctx, project, s.cfg.MaxStreamLength); err != nil {
				return fmt.Errorf("retention: trim by count (%s): %w", project, err)
			}
		}
		if s.cfg.EventsTTL > 0 {
			cutoff := time.Now().Add(-s.cfg.EventsTTL)
			if err := s.events.TrimByAge(ctx, project, cutoff); err != nil {
				return fmt.Errorf("retention: trim by age (%s): %w", project, err)
			}
		}
		if s.snapshots != nil && s.cfg.MaxSnapshots > 0 {
			if err := s.snapshots.TrimOldest(ctx, project, s.cfg.MaxSnapshots); err != nil {
				return fmt.Errorf("retention: trim snapshots (%s): %w", project, err)
			}
		}
	}

	if s.cfg.AgentInactive > 0 {
		cutoff := time.Now().Add(-s.cfg.AgentInactive)
		stale := s.subs.ReapStale(cutoff)
		for _, agentID := range stale {
			slog.Info("retention: reaped stale subscription", "agent_id", agentID)
		}
	}

	return nil
}

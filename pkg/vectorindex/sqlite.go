package vectorindex

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/docker/contex/pkg/sqliteutil"
)

// SQLiteIndex is the default Vector Index backend: one SQLite database
// (modernc.org/sqlite, pure Go, WAL mode, single-writer connection),
// grounded on pkg/rag/strategy/vector_store.go's file-indexing discipline
// and pkg/rag/database/database.go's similarity helpers, generalized from
// per-file documents to per-project NodeRecords and from post-hoc filtering
// to a mandatory, query-internal project filter. kNN is a full per-project
// scan: this router's working sets are per-project and bounded, not a
// global ANN corpus, so a scan is the right trade — see QdrantIndex for a
// backend that scales past that.
type SQLiteIndex struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	db, err := sqliteutil.OpenDB(path)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: open: %w", err)
	}
	idx := &SQLiteIndex{db: db}
	if err := idx.createSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("vectorindex: schema: %w", err)
	}
	return idx, nil
}

func (s *SQLiteIndex) createSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS node_records (
		project          TEXT NOT NULL,
		data_key         TEXT NOT NULL,
		node_key         TEXT NOT NULL,
		node_path        TEXT NOT NULL,
		node_type        TEXT NOT NULL,
		description      TEXT NOT NULL,
		content          TEXT NOT NULL,
		original_payload BLOB,
		data_format      TEXT,
		vector           BLOB NOT NULL,
		PRIMARY KEY (project, node_key)
	);
	CREATE INDEX IF NOT EXISTS idx_node_records_data_key ON node_records(project, data_key);
	`)
	return err
}

// Upsert replaces every row for (project, data_key) atomically: delete then
// insert inside one transaction, so no reader's SELECT interleaves with a
// half-applied replacement (I2).
func (s *SQLiteIndex) Upsert(ctx context.Context, project, dataKey string, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vectorindex: upsert: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM node_records WHERE project = ? AND data_key = ?`, project, dataKey); err != nil {
		return fmt.Errorf("vectorindex: upsert: delete: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO node_records
		(project, data_key, node_key, node_path, node_type, description, content, original_payload, data_format, vector)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("vectorindex: upsert: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			project, dataKey, r.NodeKey, r.NodePath, string(r.NodeType),
			r.Description, r.Content, r.OriginalPayload, r.DataFormat, encodeVector(r.Vector)); err != nil {
			return fmt.Errorf("vectorindex: upsert: insert %q: %w", r.NodeKey, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteIndex) KNN(ctx context.Context, project string, query []float32, k int) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT data_key, node_key, node_path, node_type, description, content, original_payload, data_format, vector
	FROM node_records WHERE project = ?`, project)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: knn: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var r Record
		var vecBlob []byte
		r.Project = project
		if err := rows.Scan(&r.DataKey, &r.NodeKey, &r.NodePath, &r.NodeType,
			&r.Description, &r.Content, &r.OriginalPayload, &r.DataFormat, &vecBlob); err != nil {
			return nil, fmt.Errorf("vectorindex: knn: scan: %w", err)
		}
		r.Vector = decodeVector(vecBlob)

		sim := CosineSimilarity(query, r.Vector)
		if sim < 0 {
			sim = 0
		}
		matches = append(matches, Match{NodeKey: r.NodeKey, Similarity: sim, Record: r})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].NodeKey < matches[j].NodeKey
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *SQLiteIndex) Get(ctx context.Context, project, nodeKey string) (Record, bool, error) {
	var r Record
	var vecBlob []byte
	r.Project = project
	err := s.db.QueryRowContext(ctx, `
	SELECT data_key, node_key, node_path, node_type, description, content, original_payload, data_format, vector
	FROM node_records WHERE project = ? AND node_key = ?`, project, nodeKey).
		Scan(&r.DataKey, &r.NodeKey, &r.NodePath, &r.NodeType, &r.Description, &r.Content, &r.OriginalPayload, &r.DataFormat, &vecBlob)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("vectorindex: get: %w", err)
	}
	r.Vector = decodeVector(vecBlob)
	return r, true, nil
}

func (s *SQLiteIndex) ListDataKeys(ctx context.Context, project string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT data_key FROM node_records WHERE project = ?`, project)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: list data keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLiteIndex) Clear(ctx context.Context, project string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM node_records WHERE project = ?`, project)
	if err != nil {
		return fmt.Errorf("vectorindex: clear: %w", err)
	}
	return nil
}

func (s *SQLiteIndex) Close() error { return s.db.Close() }

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}


// Package matcher implements the Rank-Fusion Matcher: per-need vector kNN,
// optional BM25 lexical search, and Reciprocal Rank Fusion of the two,
// grounded on pkg/rag/fusion/rrf.go's ReciprocalRankFusion.Fuse (generalized
// from the teacher's SourcePath+ChunkIndex doc-id scheme to node_key, with
// an explicit node_key-ascending tie-break the teacher's comparator lacks)
// and on pkg/rag/manager.go's parallel-query-then-fuse orchestration shape.
package matcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/docker/contex/pkg/embedcache"
	"github.com/docker/contex/pkg/embedding"
	"github.com/docker/contex/pkg/lexical"
	"github.com/docker/contex/pkg/vectorindex"
)

// Match is one scored hit, hydrated with its full record content.
type Match struct {
	DataKey     string
	NodeKey     string
	Similarity  float64
	Content     any
	Description string
}

// Config pins the tunables the spec exposes as environment variables.
type Config struct {
	SimilarityThreshold float64
	MaxMatches          int
	HybridSearchEnabled bool
	RRFK                int
	VectorBoost         float64
}

// LexicalSearcher is the capability the Matcher needs from a Lexical
// Index; *lexical.Index satisfies it.
type LexicalSearcher interface {
	Search(project, query string, size int) ([]lexical.Hit, error)
}

// Matcher combines vector and lexical retrieval into one ranked list per
// need.
type Matcher struct {
	vector  vectorindex.Index
	lex     LexicalSearcher
	cache   *embedcache.Cache
	engine  *embedding.Engine
	cfg     Config

	// lexicalDisabled implements the spec's one-shot degradation: a
	// lexical search error disables lexical fusion for the rest of the
	// process, not just the failing call.
	lexicalDisabled atomic.Bool
}

func New(vector vectorindex.Index, lex LexicalSearcher, cache *embedcache.Cache, engine *embedding.Engine, cfg Config) *Matcher {
	if cfg.MaxMatches <= 0 {
		cfg.MaxMatches = 5
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = 60
	}
	if cfg.VectorBoost == 0 {
		cfg.VectorBoost = 1.0
	}
	return &Matcher{vector: vector, lex: lex, cache: cache, engine: engine, cfg: cfg}
}

// Match runs the rank-fusion algorithm for every need concurrently (bounded
// the way pkg/rag/embed/embed.go bounds its batch fallback), returning a map
// that always has one entry per need, even when empty.
func (m *Matcher) Match(ctx context.Context, project string, needs []string) (map[string][]Match, error) {
	results := make(map[string][]Match, len(needs))
	if len(needs) == 0 {
		return results, nil
	}

	type outcome struct {
		need    string
		matches []Match
	}
	outcomes := make([]outcome, len(needs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, need := range needs {
		g.Go(func() error {
			matches, err := m.matchOne(gctx, project, need)
			if err != nil {
				return fmt.Errorf("matcher: need %q: %w", need, err)
			}
			outcomes[i] = outcome{need: need, matches: matches}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, o := range outcomes {
		results[o.need] = o.matches
	}
	return results, nil
}

func (m *Matcher) matchOne(ctx context.Context, project, need string) ([]Match, error) {
	qvec, err := m.embedNeed(ctx, need)
	if err != nil {
		return nil, fmt.Errorf("embed need: %w", err)
	}

	fanout := 2 * m.cfg.MaxMatches
	vecHits, err := m.vector.KNN(ctx, project, qvec, fanout)
	if err != nil {
		return nil, fmt.Errorf("vector knn: %w", err)
	}

	vRank := make(map[string]int, len(vecHits))
	vSim := make(map[string]float64, len(vecHits))
	for i, h := range vecHits {
		vRank[h.NodeKey] = i
		vSim[h.NodeKey] = h.Similarity
	}

	var lexHits []lexical.Hit
	if m.cfg.HybridSearchEnabled && m.lex != nil && !m.lexicalDisabled.Load() {
		lexHits, err = m.lex.Search(project, need, fanout)
		if err != nil {
			slog.Warn("lexical search failed, disabling lexical fusion for remainder of process", "project", project, "error", err)
			m.lexicalDisabled.Store(true)
			lexHits = nil
		}
	}

	var scored []scoredKey
	if len(lexHits) > 0 {
		scored = m.fuse(lexHits, vRank, vSim)
	} else {
		scored = m.pureVector(vecHits)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].nodeKey < scored[j].nodeKey
	})
	if len(scored) > m.cfg.MaxMatches {
		scored = scored[:m.cfg.MaxMatches]
	}

	out := make([]Match, 0, len(scored))
	for _, s := range scored {
		rec, ok, err := m.recordFor(ctx, project, s.nodeKey, vecHits)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, Match{
			DataKey:     rec.DataKey,
			NodeKey:     rec.NodeKey,
			Similarity:  s.similarityForDisplay(vSim),
			Content:     decodeContent(rec.Content),
			Description: rec.Description,
		})
	}
	return out, nil
}

func (m *Matcher) embedNeed(ctx context.Context, need string) ([]float32, error) {
	if vec, ok := m.cache.Get(need); ok {
		return vec, nil
	}
	vec, err := m.engine.Encode(ctx, need)
	if err != nil {
		return nil, err
	}
	m.cache.Set(need, vec)
	return vec, nil
}

type scoredKey struct {
	nodeKey string
	score   float64
}

func (s scoredKey) similarityForDisplay(vSim map[string]float64) float64 {
	if sim, ok := vSim[s.nodeKey]; ok {
		return sim
	}
	return s.score
}

// pureVector applies the similarity_threshold filter, per the spec's §4.7
// step 5: thresholding only applies to the no-lexical path.
func (m *Matcher) pureVector(vecHits []vectorindex.Match) []scoredKey {
	out := make([]scoredKey, 0, len(vecHits))
	for _, h := range vecHits {
		if h.Similarity < m.cfg.SimilarityThreshold {
			continue
		}
		out = append(out, scoredKey{nodeKey: h.NodeKey, score: h.Similarity})
	}
	return out
}

// fuse combines lexical and vector ranked lists by RRF. Per the spec's
// resolved open question, fused results are NOT re-filtered by
// similarity_threshold: RRF scores are not directly comparable to cosine
// similarity, so "present in either list" is the keep policy.
func (m *Matcher) fuse(lexHits []lexical.Hit, vRank map[string]int, vSim map[string]float64) []scoredKey {
	k := float64(m.cfg.RRFK)
	scores := make(map[string]float64)

	for _, h := range lexHits {
		scores[h.NodeKey] += 1.0 / (k + float64(h.Rank))
	}
	for nodeKey, rank := range vRank {
		scores[nodeKey] += m.cfg.VectorBoost / (k + float64(rank))
	}
	_ = vSim // similarity display falls back to fused score when not in V

	out := make([]scoredKey, 0, len(scores))
	for nodeKey, score := range scores {
		out = append(out, scoredKey{nodeKey: nodeKey, score: score})
	}
	return out
}

// recordFor fetches the full record for a scored node_key, checking the
// already-fetched vector hit list first to avoid a redundant read.
func (m *Matcher) recordFor(ctx context.Context, project, nodeKey string, vecHits []vectorindex.Match) (vectorindex.Record, bool, error) {
	for _, h := range vecHits {
		if h.NodeKey == nodeKey {
			return h.Record, true, nil
		}
	}
	rec, ok, err := m.vector.Get(ctx, project, nodeKey)
	if err != nil {
		return vectorindex.Record{}, false, fmt.Errorf("get record %q: %w", nodeKey, err)
	}
	return rec, ok, nil
}

func decodeContent(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

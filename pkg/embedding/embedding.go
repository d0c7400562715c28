// Package embedding implements the Embedding Engine: a deterministic
// text-to-vector transform wrapping a pluggable Provider, batched and
// bounded the way the teacher's RAG embedder batches OpenAI calls.
package embedding

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Dim is the fixed vector width the Vector Index and Matcher must agree on.
// A mismatch between a configured Provider and this constant is a startup
// error, per the spec's Embedding Engine contract.
const Dim = 384

// Provider is the minimal contract a model backend must satisfy.
type Provider interface {
	// Embed computes one vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dim reports the vector width this provider produces.
	Dim() int
}

// BatchProvider is an optional capability: providers that can embed many
// texts in a single round trip implement this to avoid N request round
// trips.
type BatchProvider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Engine wraps a Provider with batching and a bounded worker pool, mirroring
// pkg/rag/embed/embed.go's Embedder: batch size and max concurrency are
// configurable, and EmbedBatch on a non-batching provider falls back to
// bounded concurrent single calls via errgroup rather than serializing
// everything behind one embedder call.
type Engine struct {
	provider       Provider
	batchSize      int
	maxConcurrency int
}

type Option func(*Engine)

func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

func WithMaxConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxConcurrency = n
		}
	}
}

func New(provider Provider, opts ...Option) (*Engine, error) {
	if provider.Dim() != Dim {
		return nil, fmt.Errorf("embedding: provider dimension %d does not match system dimension %d", provider.Dim(), Dim)
	}
	e := &Engine{provider: provider, batchSize: 64, maxConcurrency: 5}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Encode computes one vector for text. If the model is unavailable the
// Engine fails with a non-retryable error (the caller, the Pipeline
// Orchestrator, treats this as an EmbedError and aborts the publish).
func (e *Engine) Encode(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.provider.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding: encode: %w", err)
	}
	return vec, nil
}

// EncodeBatch embeds many texts, preferring the provider's native batch
// path when available and otherwise fanning out across a bounded worker
// pool so one slow embed call cannot serialize an entire publish.
func (e *Engine) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	if bp, ok := e.provider.(BatchProvider); ok {
		return e.encodeBatchNative(ctx, bp, texts)
	}
	return e.encodeBatchFallback(ctx, texts)
}

func (e *Engine) encodeBatchNative(ctx context.Context, bp BatchProvider, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		vecs, err := bp.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding: batch encode: %w", err)
		}
		copy(out[start:end], vecs)
	}
	return out, nil
}

func (e *Engine) encodeBatchFallback(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxConcurrency)

	for i, t := range texts {
		g.Go(func() error {
			vec, err := e.provider.Embed(gctx, t)
			if err != nil {
				return fmt.Errorf("embedding: encode %q: %w", t, err)
			}
			out[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

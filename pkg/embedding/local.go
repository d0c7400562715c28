package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// LocalProvider is a zero-dependency deterministic embedder: it hashes the
// input text into a fixed-width pseudo-random unit vector. It carries no
// semantic or lexical signal: the whole text is hashed at once, so texts
// that differ at all get unrelated vectors. It is
// genuinely deterministic (identical text always yields an identical
// vector, as the contract requires) and needs no external model, making it
// the default provider for tests and for deployments with no embedding
// service configured.
type LocalProvider struct {
	dim int
}

func NewLocalProvider() *LocalProvider {
	return &LocalProvider{dim: Dim}
}

func (p *LocalProvider) Dim() int { return p.dim }

func (p *LocalProvider) Embed(_ context.Context, text string) ([]float32, error) {
	return hashEmbed(text, p.dim), nil
}

func (p *LocalProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashEmbed(t, p.dim)
	}
	return out, nil
}

// hashEmbed expands repeated SHA-256 digests of (text, counter) into a
// dim-length vector and L2-normalizes it, giving cosine similarity a
// meaningful [-1,1] range to operate over.
func hashEmbed(text string, dim int) []float32 {
	vec := make([]float32, dim)
	pos := 0
	for counter := uint32(0); pos < dim; counter++ {
		h := sha256.New()
		h.Write([]byte(text))
		var ctrBytes [4]byte
		binary.BigEndian.PutUint32(ctrBytes[:], counter)
		h.Write(ctrBytes[:])
		digest := h.Sum(nil)

		for i := 0; i+4 <= len(digest) && pos < dim; i += 4 {
			u := binary.BigEndian.Uint32(digest[i : i+4])
			// Map to [-1, 1].
			vec[pos] = float32(int32(u))/float32(math.MaxInt32)
			pos++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

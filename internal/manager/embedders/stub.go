package embedders

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math/rand/v2"
)

// DefaultStubDimension is used when no dimension is configured.
const DefaultStubDimension = 768

// StubEmbedder returns deterministic pseudo-random unit vectors seeded by
// the SHA-256 of each text. Identical texts always map to the same vector.
type StubEmbedder struct {
	dimension int
}

// NewStubEmbedder creates a stub embedder. A dim of 0 selects
// DefaultStubDimension.
func NewStubEmbedder(dim int) *StubEmbedder {
	if dim <= 0 {
		dim = DefaultStubDimension
	}
	return &StubEmbedder{dimension: dim}
}

// GenerateEmbeddings returns one vector per text.
func (s *StubEmbedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	input, err := cleanTexts(texts)
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(input))
	for i, t := range input {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = s.vector(t)
	}
	return out, nil
}

func (s *StubEmbedder) vector(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	seed := binary.BigEndian.Uint64(sum[:8])
	rng := rand.New(rand.NewPCG(seed, binary.BigEndian.Uint64(sum[8:16])))

	v := make([]float32, s.dimension)
	for i := range v {
		v[i] = float32(rng.Float64()*2 - 1)
	}
	return L2Normalize(v)
}

// GetModelName returns the name of the embedding model.
func (s *StubEmbedder) GetModelName() string {
	return "stub"
}

// GetDimension returns the dimension of the embedding vectors.
func (s *StubEmbedder) GetDimension() int {
	return s.dimension
}

package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sync"

	"github.com/schemadex/schemadex/internal/errors"
)

// StaticDimensions is the dimension of statically generated vectors.
const StaticDimensions = 256

// StaticEmbedder generates deterministic embeddings derived from a hash of
// the input text. It needs no external provider, so it serves offline runs
// and tests. Similar texts do NOT get similar vectors; only exact matches
// map to the same point.
type StaticEmbedder struct {
	dims  int
	model string

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a provider-free deterministic embedder.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = StaticDimensions
	}
	return &StaticEmbedder{dims: dims, model: "static"}
}

// Embed generates a deterministic unit vector for the text.
func (s *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates deterministic unit vectors for multiple texts.
func (s *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, errors.New(errors.ErrCodeInternal, "embedder is closed", nil)
	}

	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vecs[i] = s.vectorFor(text)
	}
	return vecs, nil
}

// vectorFor expands a SHA-256 of the text into dims float components via
// counter-mode rehashing, then normalizes.
func (s *StaticEmbedder) vectorFor(text string) []float32 {
	vec := make([]float32, s.dims)
	seed := sha256.Sum256([]byte(text))

	var block [40]byte
	copy(block[:32], seed[:])
	for i := 0; i < s.dims; i += 8 {
		binary.LittleEndian.PutUint64(block[32:], uint64(i))
		h := sha256.Sum256(block[:])
		for j := 0; j < 8 && i+j < s.dims; j++ {
			bits := binary.LittleEndian.Uint32(h[j*4 : j*4+4])
			// Map to [-1, 1).
			vec[i+j] = float32(int32(bits)) / float32(1<<31)
		}
	}
	return normalizeVector(vec)
}

// Dimensions returns the embedding dimension.
func (s *StaticEmbedder) Dimensions() int {
	return s.dims
}

// ModelName returns the model identifier.
func (s *StaticEmbedder) ModelName() string {
	return s.model
}

// Available always reports true; there is no external dependency.
func (s *StaticEmbedder) Available(ctx context.Context) bool {
	return true
}

// Close marks the embedder closed.
func (s *StaticEmbedder) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

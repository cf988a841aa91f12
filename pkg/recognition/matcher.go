package recognition

import (
	"errors"
	"fmt"
	"math"

	"github.com/Kagami/go-face"
)

// DefaultMatchThreshold is the largest Euclidean distance at which two
// dlib embeddings are treated as the same person.
const DefaultMatchThreshold = 0.6

// ErrDimensionMismatch means an embedding does not have Dimension values.
// It points at a pipeline configuration bug and is never retried.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Embedding is a face embedding vector of length Dimension.
type Embedding []float32

// FromDescriptor copies a dlib descriptor into an Embedding.
func FromDescriptor(d face.Descriptor) Embedding {
	emb := make(Embedding, len(d))
	copy(emb, d[:])
	return emb
}

// Validate checks the embedding length.
func (e Embedding) Validate() error {
	if len(e) != Dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(e), Dimension)
	}
	return nil
}

// EuclideanDistance calculates the Euclidean distance between two embeddings.
func EuclideanDistance(a, b Embedding) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}

	var sum float64
	for i := range a {
		diff := float64(a[i] - b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum), nil
}

// MatchResult is the outcome of comparing two embeddings.
type MatchResult struct {
	Distance  float64
	Threshold float64
	Matched   bool
}

// Matcher compares embeddings against a fixed threshold.
type Matcher struct {
	threshold float64
}

// NewMatcher creates a Matcher. A non-positive threshold selects DefaultMatchThreshold.
func NewMatcher(threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}
	return &Matcher{threshold: threshold}
}

// Threshold returns the configured threshold.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Match reports whether candidate is within the threshold of reference.
func (m *Matcher) Match(reference, candidate Embedding) (MatchResult, error) {
	dist, err := EuclideanDistance(reference, candidate)
	if err != nil {
		return MatchResult{}, err
	}
	return MatchResult{
		Distance:  dist,
		Threshold: m.threshold,
		Matched:   dist <= m.threshold,
	}, nil
}

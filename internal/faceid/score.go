package faceid

import (
	"math"

	"github.com/andresmejia3/checkmates/internal/types"
	"gonum.org/v1/gonum/floats"
)

// Score returns the cosine similarity of a and b in [-1, 1].
// Absent, mismatched, or zero-magnitude inputs score 0.0 so callers can treat
// "no embedding" the same as "dissimilar".
func Score(a, b types.Embedding) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0.0
	}

	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0.0
	}

	sim := floats.Dot(a, b) / (normA * normB)
	if math.IsNaN(sim) {
		return 0.0
	}
	// Clamp floating point drift
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return sim
}

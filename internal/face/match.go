package face

import "math"

// DefaultThreshold is the minimum similarity percentage for a match.
const DefaultThreshold = 50.0

// Similarity returns the cosine similarity of a and b as a percentage in
// [0, 100]. Empty, mismatched or zero-norm vectors score 0.
func Similarity(a, b Embedding) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	cos := dot / math.Sqrt(na*nb)
	return math.Max(0, math.Min(1, cos)) * 100
}

// Match is the outcome of comparing a candidate with a reference.
type Match struct {
	SimilarityPercent float64
	Accepted          bool
}

// Verifier accepts a candidate when its similarity reaches Threshold.
type Verifier struct {
	Threshold float64
}

// Match compares candidate against reference.
func (v Verifier) Match(reference, candidate Embedding) Match {
	threshold := v.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	sim := Similarity(reference, candidate)
	return Match{SimilarityPercent: sim, Accepted: sim >= threshold}
}

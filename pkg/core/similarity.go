package core

import "math"

// SimilarityFunc defines a function that calculates similarity between two vectors.
type SimilarityFunc func(a, b []float32) float64

// CosineSimilarity calculates cosine similarity between two vectors.
// Returns a value in [-1, 1], where 1 means identical direction. Mismatched
// lengths and zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	var dot, normA, normB float64
	for i := 0; i < len(a); i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0.0 || normB == 0.0 {
		return 0.0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// DotProduct calculates the dot product between two vectors. For normalized
// inputs this equals cosine similarity.
func DotProduct(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	var result float64
	for i := 0; i < len(a); i++ {
		result += float64(a[i]) * float64(b[i])
	}

	return result
}

// Normalize returns a unit-length copy of the vector. Zero vectors are
// returned as an unmodified copy.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}

	out := make([]float32, len(v))
	copy(out, v)

	if sum == 0 {
		return out
	}

	norm := float32(math.Sqrt(sum))
	for i := range out {
		out[i] /= norm
	}
	return out
}

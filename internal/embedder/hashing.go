package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

// HashingEmbedder maps text to a fixed-size bag-of-words vector using the
// hashing trick: each token is hashed to a bucket and a sign, term counts are
// log-scaled, and the result is L2-normalised. It needs no network access and
// is deterministic, which makes it suitable for offline use and tests. Texts
// sharing vocabulary score high under cosine similarity; synonyms do not.
type HashingEmbedder struct {
	dim       int
	tokens    *regexp.Regexp
	stopwords map[string]struct{}
}

// NewHashingEmbedder returns an embedder producing vectors of dim buckets.
// dim <= 0 selects the default of 512.
func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = defaultHashingDimensions
	}
	return &HashingEmbedder{
		dim:       dim,
		tokens:    regexp.MustCompile(`[\p{L}\p{N}]+`),
		stopwords: defaultStopwords(),
	}
}

// Dimension returns the vector length.
func (e *HashingEmbedder) Dimension() int { return e.dim }

// Embed never fails.
func (e *HashingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *HashingEmbedder) vector(text string) []float32 {
	counts := make(map[string]int)
	for _, tok := range e.tokens.FindAllString(strings.ToLower(text), -1) {
		if _, stop := e.stopwords[tok]; stop {
			continue
		}
		counts[tok]++
	}

	acc := make([]float64, e.dim)
	for tok, n := range counts {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dim)) //nolint:gosec // dim is positive
		sign := 1.0
		if sum>>63 == 1 {
			sign = -1.0
		}
		acc[bucket] += sign * (1 + math.Log(float64(n)))
	}

	var norm float64
	for _, x := range acc {
		norm += x * x
	}
	norm = math.Sqrt(norm)

	v := make([]float32, e.dim)
	if norm == 0 {
		return v
	}
	for i, x := range acc {
		v[i] = float32(x / norm)
	}
	return v
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for", "from", "how",
		"in", "is", "it", "of", "on", "or", "that", "the", "this", "to", "was",
		"what", "when", "where", "which", "who", "will", "with",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

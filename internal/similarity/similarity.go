// Package similarity holds the pure primitives the clustering engine scores
// with. Nothing here touches storage or the clock.
package similarity

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Cosine returns the cosine similarity of two equal-length vectors in
// [-1,1]. Zero-magnitude input yields 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// NormalizedCosine maps cosine similarity onto [0,1] via (cos+1)/2.
func NormalizedCosine(a, b []float32) float64 {
	return Clamp01((Cosine(a, b) + 1) / 2)
}

// Jaccard returns |a ∩ b| / |a ∪ b| over two string sets. Empty union
// yields 0.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for key := range a {
		if _, ok := b[key]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// ToSet builds a set from a slice, dropping empty strings.
func ToSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}
		set[value] = struct{}{}
	}
	return set
}

// Tokenize lowercases text and splits it on non-alphanumeric runes,
// dropping tokens shorter than two runes.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		if len([]rune(field)) < 2 {
			continue
		}
		tokens = append(tokens, field)
	}
	return tokens
}

// TitleSimilarity computes term-frequency cosine between two titles,
// clamped to [0,1]. Identical titles score 1, disjoint token sets score 0.
func TitleSimilarity(titleA, titleB string) float64 {
	freqA := termFrequencies(Tokenize(titleA))
	freqB := termFrequencies(Tokenize(titleB))
	if len(freqA) == 0 || len(freqB) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for term, countA := range freqA {
		normA += countA * countA
		if countB, ok := freqB[term]; ok {
			dot += countA * countB
		}
	}
	for _, countB := range freqB {
		normB += countB * countB
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return Clamp01(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

func termFrequencies(tokens []string) map[string]float64 {
	freq := make(map[string]float64, len(tokens))
	for _, token := range tokens {
		freq[token]++
	}
	return freq
}

// TimeDecay maps the absolute gap between two timestamps onto [0,1]
// linearly: zero gap scores 1, gaps at or beyond decayHours score 0.
func TimeDecay(gapHours, decayHours float64) float64 {
	if decayHours <= 0 {
		return 0
	}
	return Clamp01(1 - math.Abs(gapHours)/decayHours)
}

// OverlapRatio returns |a ∩ b| / min(|a|, |b|), the containment overlap
// used for geographic entities where one side often carries more detail.
func OverlapRatio(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for key := range a {
		if _, ok := b[key]; ok {
			intersection++
		}
	}
	smaller := len(a)
	if len(b) < smaller {
		smaller = len(b)
	}
	return float64(intersection) / float64(smaller)
}

// Coherence returns the mean pairwise cosine similarity over a set of
// vectors. Fewer than two vectors are trivially coherent.
func Coherence(vectors [][]float32) float64 {
	if len(vectors) < 2 {
		return 1
	}

	var total float64
	pairs := 0
	for i := 0; i < len(vectors); i++ {
		for j := i + 1; j < len(vectors); j++ {
			total += Cosine(vectors[i], vectors[j])
			pairs++
		}
	}
	if pairs == 0 {
		return 1
	}
	return total / float64(pairs)
}

// Clamp01 clips v to [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// VectorLiteral renders a vector in pgvector text form, e.g. "[0.1,0.2]".
// The dimension must match and every component must be finite.
func VectorLiteral(vector []float32, dim int) (string, error) {
	if len(vector) != dim {
		return "", fmt.Errorf("vector has %d dimensions, expected %d", len(vector), dim)
	}

	var sb strings.Builder
	sb.Grow(len(vector) * 10)
	sb.WriteByte('[')
	for i, component := range vector {
		value := float64(component)
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return "", fmt.Errorf("vector component %d is not finite", i)
		}
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(value, 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String(), nil
}

// ParseVectorLiteral parses pgvector text form back into a slice.
func ParseVectorLiteral(literal string) ([]float32, error) {
	trimmed := strings.TrimSpace(literal)
	if len(trimmed) < 2 || trimmed[0] != '[' || trimmed[len(trimmed)-1] != ']' {
		return nil, fmt.Errorf("vector literal must be bracketed: %q", literal)
	}

	inner := strings.TrimSpace(trimmed[1 : len(trimmed)-1])
	if inner == "" {
		return []float32{}, nil
	}

	parts := strings.Split(inner, ",")
	vector := make([]float32, 0, len(parts))
	for i, part := range parts {
		value, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("parse vector component %d: %w", i, err)
		}
		vector = append(vector, float32(value))
	}
	return vector, nil
}

// Package similarity orders matched articles so that near-duplicates
// land next to each other during manual review. Articles are reduced to
// character shingles and routed greedily by Jaccard similarity.
package similarity

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// DefaultShingleSize is the shingle width in characters.
const DefaultShingleSize = 8

// MinTextLength is the shortest cleaned text worth ranking. Shorter
// pages get the sentinel rank instead of a position.
const MinTextLength = 70

// NoTextRank marks pages too short to rank meaningfully.
const NoTextRank = "notext"

// Signature is the shingle set of one document.
type Signature map[uint32]struct{}

func cleanText(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLower(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NewSignature builds the shingle set of text after stripping
// everything but letters.
func NewSignature(text string, shingleSize int) Signature {
	cleaned := cleanText(text)
	sig := make(Signature)
	if len(cleaned) < shingleSize {
		if cleaned != "" {
			sig[hashShingle(cleaned)] = struct{}{}
		}
		return sig
	}
	for i := 0; i+shingleSize <= len(cleaned); i++ {
		sig[hashShingle(cleaned[i:i+shingleSize])] = struct{}{}
	}
	return sig
}

func hashShingle(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

// Jaccard is the intersection-over-union of two shingle sets.
// Two empty sets count as identical.
func Jaccard(a, b Signature) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	var shared int
	for s := range small {
		if _, ok := large[s]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(a)+len(b)-shared)
}

// Order returns a permutation of indices into texts such that each
// document is followed by its most similar remaining neighbor. The
// route starts at the first document.
func Order(texts []string) []int {
	n := len(texts)
	if n == 0 {
		return nil
	}
	sigs := make([]Signature, n)
	for i, t := range texts {
		sigs[i] = NewSignature(t, DefaultShingleSize)
	}

	order := make([]int, 0, n)
	visited := make([]bool, n)
	current := 0
	visited[0] = true
	order = append(order, 0)
	for len(order) < n {
		best := -1
		bestScore := -1.0
		for i := 0; i < n; i++ {
			if visited[i] {
				continue
			}
			if score := Jaccard(sigs[current], sigs[i]); score > bestScore {
				best = i
				bestScore = score
			}
		}
		visited[best] = true
		order = append(order, best)
		current = best
	}
	return order
}

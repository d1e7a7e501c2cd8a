package shingle

import (
	"slices"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/config"
	"github.com/cespare/xxhash/v2"
)

// shingleSeparator joins the words of one shingle before hashing.
const shingleSeparator = " "

// Generator computes sketches for document text. It holds no mutable state
// and is safe for concurrent use.
type Generator struct {
	nGramLength int
	sketchSize  int
}

// NewGenerator creates a Generator. An nGramLength below 1 falls back to 1;
// a sketchSize of zero or less keeps every shingle hash.
func NewGenerator(cfg config.ShingleConfig) *Generator {
	n := cfg.NGramLength
	if n < 1 {
		n = 1
	}
	return &Generator{
		nGramLength: n,
		sketchSize:  cfg.SketchSize,
	}
}

func (g *Generator) NGramLength() int { return g.nGramLength }

func (g *Generator) SketchSize() int { return g.sketchSize }

// Shingles returns the distinct overlapping word n-grams of text, in order
// of first appearance. Text with fewer words than the window yields none.
func (g *Generator) Shingles(text string) []string {
	terms := Terms(text)
	if len(terms) < g.nGramLength {
		return nil
	}
	count := len(terms) - g.nGramLength + 1
	seen := make(map[string]struct{}, count)
	shingles := make([]string, 0, count)
	for i := range count {
		s := strings.Join(terms[i:i+g.nGramLength], shingleSeparator)
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		shingles = append(shingles, s)
	}
	return shingles
}

// Sketch hashes every shingle of text and keeps the sketchSize smallest
// hash values.
func (g *Generator) Sketch(text string) Sketch {
	shingles := g.Shingles(text)
	hashes := make([]uint64, 0, len(shingles))
	for _, s := range shingles {
		hashes = append(hashes, Hash(s))
	}
	return NewSketch(bottomK(hashes, g.sketchSize)...)
}

// Hash is the 64-bit shingle hash.
func Hash(shingle string) uint64 {
	return xxhash.Sum64String(shingle)
}

// bottomK returns the k smallest distinct values of hashes.
func bottomK(hashes []uint64, k int) []uint64 {
	slices.Sort(hashes)
	hashes = slices.Compact(hashes)
	if k > 0 && len(hashes) > k {
		hashes = hashes[:k]
	}
	return hashes
}

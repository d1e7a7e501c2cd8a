package shingle

import (
	"slices"
	"strconv"
	"strings"
)

// Sketch is the fingerprint of a document: a set of 64-bit shingle hashes.
type Sketch map[uint64]struct{}

// NewSketch builds a sketch from the given hashes. Repeated hashes collapse.
func NewSketch(hashes ...uint64) Sketch {
	s := make(Sketch, len(hashes))
	for _, h := range hashes {
		s[h] = struct{}{}
	}
	return s
}

func (s Sketch) Add(h uint64) {
	s[h] = struct{}{}
}

func (s Sketch) Contains(h uint64) bool {
	_, ok := s[h]
	return ok
}

func (s Sketch) Len() int {
	return len(s)
}

// Sorted returns the hashes in ascending order.
func (s Sketch) Sorted() []uint64 {
	out := make([]uint64, 0, len(s))
	for h := range s {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

func (s Sketch) Clone() Sketch {
	c := make(Sketch, len(s))
	for h := range s {
		c[h] = struct{}{}
	}
	return c
}

func (s Sketch) Equal(other Sketch) bool {
	if len(s) != len(other) {
		return false
	}
	for h := range s {
		if !other.Contains(h) {
			return false
		}
	}
	return true
}

// Intersection returns the number of hashes present in both sketches.
func (s Sketch) Intersection(other Sketch) int {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	n := 0
	for h := range small {
		if large.Contains(h) {
			n++
		}
	}
	return n
}

// String renders the sorted hashes space separated.
func (s Sketch) String() string {
	sorted := s.Sorted()
	parts := make([]string, len(sorted))
	for i, h := range sorted {
		parts[i] = strconv.FormatUint(h, 10)
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// JaccardDistance returns 1 - |a ∩ b| / |a ∪ b|: 0 for identical sketches,
// 1 for disjoint ones. Two empty sketches are at distance 1 so that empty
// documents are never linked to each other.
func JaccardDistance(a, b Sketch) float64 {
	inter := a.Intersection(b)
	union := len(a) + len(b) - inter
	if union == 0 {
		return 1
	}
	return float64(union-inter) / float64(union)
}

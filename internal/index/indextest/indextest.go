// Package indextest holds the conformance suite every index.Index backend
// runs from its own tests, so that all backends answer the same sequence of
// operations identically.
package indextest

import (
	"context"
	"math"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/shingles/internal/index"
	"github.com/Adithya-Monish-Kumar-K/shingles/internal/shingle"
	apperrors "github.com/Adithya-Monish-Kumar-K/shingles/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a new, unopened index named name. Calling it twice with
// the same name must return two handles onto the same underlying store.
// The factory registers any cleanup it needs on t.
type Factory func(t *testing.T, name string) index.Index

// Run executes the conformance suite against the backend built by newIndex.
func Run(t *testing.T, newIndex Factory) {
	t.Run("OpenTwice", func(t *testing.T) { testOpenTwice(t, newIndex) })
	t.Run("UseBeforeOpen", func(t *testing.T) { testUseBeforeOpen(t, newIndex) })
	t.Run("EmptyLookups", func(t *testing.T) { testEmptyLookups(t, newIndex) })
	t.Run("InvertedConsistency", func(t *testing.T) { testInvertedConsistency(t, newIndex) })
	t.Run("DocumentsForSketch", func(t *testing.T) { testDocumentsForSketch(t, newIndex) })
	t.Run("DuplicateDocument", func(t *testing.T) { testDuplicateDocument(t, newIndex) })
	t.Run("EmptySketchCounted", func(t *testing.T) { testEmptySketchCounted(t, newIndex) })
	t.Run("FullWidthHashes", func(t *testing.T) { testFullWidthHashes(t, newIndex) })
	t.Run("Similarities", func(t *testing.T) { testSimilarities(t, newIndex) })
	t.Run("SimilarityValidation", func(t *testing.T) { testSimilarityValidation(t, newIndex) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newIndex) })
	t.Run("Names", func(t *testing.T) { testNames(t, newIndex) })
	t.Run("SeparateNamespaces", func(t *testing.T) { testSeparateNamespaces(t, newIndex) })
}

// RunDurable checks that saved state survives closing the index and opening
// a fresh handle with the same name.
func RunDurable(t *testing.T, newIndex Factory) {
	ctx := context.Background()
	first := newIndex(t, "durable")
	require.NoError(t, first.Open(ctx))
	populate(t, first)
	require.NoError(t, first.Save(ctx))
	want := dump(t, first)
	if c, ok := first.(index.Closer); ok {
		require.NoError(t, c.Close())
	}

	second := newIndex(t, "durable")
	require.NoError(t, second.Open(ctx))
	assert.Equal(t, want, dump(t, second))

	// the reopened index keeps accepting documents and edges
	require.NoError(t, second.AddDocument(ctx, 6, shingle.NewSketch(1, 2, 3, 5)))
	require.NoError(t, second.AddDocumentSimilarity(ctx, 1, 6))
	sims, err := second.SimilarDocuments(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 6}, sims.Sorted())
}

// populate adds the fixture used by several tests:
//
//	1 {1,2,3}    2 {1,2,3,4}    3 {9,10,11}    4 {3,20}    5 {}
//
// with edges 1 -> 2 and 3 -> 4.
func populate(t *testing.T, idx index.Index) {
	t.Helper()
	ctx := context.Background()
	docs := []struct {
		id int
		sk shingle.Sketch
	}{
		{1, shingle.NewSketch(1, 2, 3)},
		{2, shingle.NewSketch(1, 2, 3, 4)},
		{3, shingle.NewSketch(9, 10, 11)},
		{4, shingle.NewSketch(3, 20)},
		{5, shingle.NewSketch()},
	}
	for _, d := range docs {
		require.NoError(t, idx.AddDocument(ctx, d.id, d.sk))
	}
	require.NoError(t, idx.AddDocumentSimilarity(ctx, 1, 2))
	require.NoError(t, idx.AddDocumentSimilarity(ctx, 3, 4))
}

type state struct {
	Count        int
	Sketches     map[int][]uint64
	ByHash       map[uint64][]int
	Similarities map[int][]int
}

// dump reads back everything populate wrote through the public contract.
func dump(t *testing.T, idx index.Index) state {
	t.Helper()
	ctx := context.Background()
	st := state{
		Sketches:     make(map[int][]uint64),
		ByHash:       make(map[uint64][]int),
		Similarities: make(map[int][]int),
	}
	var err error
	st.Count, err = idx.NumberOfDocuments(ctx)
	require.NoError(t, err)
	for id := 1; id <= 5; id++ {
		sk, err := idx.SketchForDocument(ctx, id)
		require.NoError(t, err)
		st.Sketches[id] = sk.Sorted()
	}
	for _, h := range []uint64{1, 2, 3, 4, 9, 10, 11, 20, 99} {
		docs, err := idx.DocumentsForHash(ctx, h)
		require.NoError(t, err)
		st.ByHash[h] = docs.Sorted()
	}
	all, err := idx.AllSimilarDocuments(ctx)
	require.NoError(t, err)
	for master, sims := range all {
		st.Similarities[master] = sims.Sorted()
	}
	return st
}

func openIndex(t *testing.T, newIndex Factory, name string) index.Index {
	t.Helper()
	idx := newIndex(t, name)
	require.NoError(t, idx.Open(context.Background()))
	return idx
}

func testOpenTwice(t *testing.T, newIndex Factory) {
	idx := openIndex(t, newIndex, "open_twice")
	err := idx.Open(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrIndexOpen)
}

func testUseBeforeOpen(t *testing.T, newIndex Factory) {
	ctx := context.Background()
	idx := newIndex(t, "before_open")

	err := idx.AddDocument(ctx, 1, shingle.NewSketch(1))
	assert.ErrorIs(t, err, apperrors.ErrIndexNotOpen)
	_, err = idx.DocumentsForHash(ctx, 1)
	assert.ErrorIs(t, err, apperrors.ErrIndexNotOpen)
	_, err = idx.NumberOfDocuments(ctx)
	assert.ErrorIs(t, err, apperrors.ErrIndexNotOpen)
	err = idx.AddDocumentSimilarity(ctx, 1, 2)
	assert.ErrorIs(t, err, apperrors.ErrIndexNotOpen)
}

func testEmptyLookups(t *testing.T, newIndex Factory) {
	ctx := context.Background()
	idx := openIndex(t, newIndex, "empty")

	n, err := idx.NumberOfDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	docs, err := idx.DocumentsForHash(ctx, 42)
	require.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Equal(t, 0, docs.Len())

	sk, err := idx.SketchForDocument(ctx, 7)
	require.NoError(t, err)
	assert.NotNil(t, sk)
	assert.Equal(t, 0, sk.Len())

	bySketch, err := idx.DocumentsForSketch(ctx, shingle.NewSketch(1, 2))
	require.NoError(t, err)
	assert.NotNil(t, bySketch)
	assert.Empty(t, bySketch)

	sims, err := idx.SimilarDocuments(ctx, 7)
	require.NoError(t, err)
	assert.NotNil(t, sims)
	assert.Equal(t, 0, sims.Len())

	all, err := idx.AllSimilarDocuments(ctx)
	require.NoError(t, err)
	assert.NotNil(t, all)
	assert.Empty(t, all)
}

func testInvertedConsistency(t *testing.T, newIndex Factory) {
	ctx := context.Background()
	idx := openIndex(t, newIndex, "inverted")
	populate(t, idx)

	n, err := idx.NumberOfDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	sketches := make(map[int]shingle.Sketch)
	for id := 1; id <= 5; id++ {
		sk, err := idx.SketchForDocument(ctx, id)
		require.NoError(t, err)
		sketches[id] = sk
	}
	assert.Equal(t, []uint64{1, 2, 3, 4}, sketches[2].Sorted())

	for _, h := range []uint64{1, 2, 3, 4, 9, 10, 11, 20, 99} {
		docs, err := idx.DocumentsForHash(ctx, h)
		require.NoError(t, err)
		for id, sk := range sketches {
			assert.Equal(t, sk.Contains(h), docs.Contains(id), "hash %d doc %d", h, id)
		}
	}
}

func testDocumentsForSketch(t *testing.T, newIndex Factory) {
	ctx := context.Background()
	idx := openIndex(t, newIndex, "by_sketch")
	populate(t, idx)

	got, err := idx.DocumentsForSketch(ctx, shingle.NewSketch(1, 2, 3))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []uint64{1, 2, 3}, got[1].Sorted())
	assert.Equal(t, []uint64{1, 2, 3, 4}, got[2].Sorted())
	// full stored sketch, not only the overlap
	assert.Equal(t, []uint64{3, 20}, got[4].Sorted())
	_, hasDisjoint := got[3]
	assert.False(t, hasDisjoint)
}

func testDuplicateDocument(t *testing.T, newIndex Factory) {
	ctx := context.Background()
	idx := openIndex(t, newIndex, "duplicate")
	require.NoError(t, idx.AddDocument(ctx, 1, shingle.NewSketch(1, 2)))

	err := idx.AddDocument(ctx, 1, shingle.NewSketch(7, 8))
	assert.ErrorIs(t, err, apperrors.ErrDocumentExists)

	sk, err := idx.SketchForDocument(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, sk.Sorted())
	docs, err := idx.DocumentsForHash(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 0, docs.Len())
	n, err := idx.NumberOfDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testEmptySketchCounted(t *testing.T, newIndex Factory) {
	ctx := context.Background()
	idx := openIndex(t, newIndex, "empty_sketch")
	require.NoError(t, idx.AddDocument(ctx, 1, shingle.NewSketch()))
	require.NoError(t, idx.AddDocument(ctx, 2, nil))

	n, err := idx.NumberOfDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	err = idx.AddDocument(ctx, 1, shingle.NewSketch(5))
	assert.ErrorIs(t, err, apperrors.ErrDocumentExists)
}

func testFullWidthHashes(t *testing.T, newIndex Factory) {
	ctx := context.Background()
	idx := openIndex(t, newIndex, "full_width")
	hashes := []uint64{0, 1, math.MaxInt64, math.MaxInt64 + 1, math.MaxUint64}
	require.NoError(t, idx.AddDocument(ctx, 1, shingle.NewSketch(hashes...)))

	sk, err := idx.SketchForDocument(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, hashes, sk.Sorted())
	for _, h := range hashes {
		docs, err := idx.DocumentsForHash(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, []int{1}, docs.Sorted(), "hash %d", h)
	}
}

func testSimilarities(t *testing.T, newIndex Factory) {
	ctx := context.Background()
	idx := openIndex(t, newIndex, "similarities")
	for id := 1; id <= 4; id++ {
		require.NoError(t, idx.AddDocument(ctx, id, shingle.NewSketch(uint64(id))))
	}
	require.NoError(t, idx.AddDocumentSimilarity(ctx, 1, 2))
	require.NoError(t, idx.AddDocumentSimilarity(ctx, 1, 3))
	require.NoError(t, idx.AddDocumentSimilarity(ctx, 1, 3))

	sims, err := idx.SimilarDocuments(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, sims.Sorted())

	// directed: nothing recorded with 2 as master
	sims, err = idx.SimilarDocuments(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, sims.Len())

	all, err := idx.AllSimilarDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, []int{2, 3}, all[1].Sorted())
}

func testSimilarityValidation(t *testing.T, newIndex Factory) {
	ctx := context.Background()
	idx := openIndex(t, newIndex, "similarity_validation")
	require.NoError(t, idx.AddDocument(ctx, 1, shingle.NewSketch(1)))

	err := idx.AddDocumentSimilarity(ctx, 1, 2)
	assert.ErrorIs(t, err, apperrors.ErrDocumentNotFound)
	err = idx.AddDocumentSimilarity(ctx, 2, 1)
	assert.ErrorIs(t, err, apperrors.ErrDocumentNotFound)
	err = idx.AddDocumentSimilarity(ctx, 1, 1)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	all, err := idx.AllSimilarDocuments(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func testDelete(t *testing.T, newIndex Factory) {
	ctx := context.Background()
	idx := openIndex(t, newIndex, "teardown")
	populate(t, idx)

	require.NoError(t, idx.Delete(ctx))

	st := dump(t, idx)
	assert.Equal(t, 0, st.Count)
	for id, hashes := range st.Sketches {
		assert.Empty(t, hashes, "sketch of %d", id)
	}
	for h, docs := range st.ByHash {
		assert.Empty(t, docs, "documents for %d", h)
	}
	assert.Empty(t, st.Similarities)

	// still usable after teardown, ids may be reused
	require.NoError(t, idx.AddDocument(ctx, 1, shingle.NewSketch(1)))
	n, err := idx.NumberOfDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testNames(t *testing.T, newIndex Factory) {
	idx := newIndex(t, "named")
	assert.Equal(t, "named", idx.Name())

	require.NoError(t, idx.SetName("renamed"))
	assert.Equal(t, "renamed", idx.Name())
	assert.ErrorIs(t, idx.SetName("bad name!"), apperrors.ErrInvalidInput)
	assert.Equal(t, "renamed", idx.Name())

	require.NoError(t, idx.Open(context.Background()))
	assert.ErrorIs(t, idx.SetName("other"), apperrors.ErrIndexOpen)
	assert.Equal(t, "renamed", idx.Name())
}

func testSeparateNamespaces(t *testing.T, newIndex Factory) {
	ctx := context.Background()
	a := openIndex(t, newIndex, "collection_a")
	b := openIndex(t, newIndex, "collection_b")

	require.NoError(t, a.AddDocument(ctx, 1, shingle.NewSketch(1, 2)))
	require.NoError(t, b.AddDocument(ctx, 1, shingle.NewSketch(3, 4)))

	skA, err := a.SketchForDocument(ctx, 1)
	require.NoError(t, err)
	skB, err := b.SketchForDocument(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, skA.Sorted())
	assert.Equal(t, []uint64{3, 4}, skB.Sorted())

	require.NoError(t, a.Delete(ctx))
	n, err := b.NumberOfDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

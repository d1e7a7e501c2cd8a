package index_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/shingles/internal/index"
	"github.com/Adithya-Monish-Kumar-K/shingles/internal/index/indextest"
	"github.com/Adithya-Monish-Kumar-K/shingles/internal/shingle"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIndex_Conformance(t *testing.T) {
	indextest.Run(t, func(t *testing.T, name string) index.Index {
		return index.NewMemoryIndex(name)
	})
}

func TestMemoryIndex_SnapshotRestore(t *testing.T) {
	ctx := context.Background()
	src := index.NewMemoryIndex("src")
	require.NoError(t, src.Open(ctx))
	require.NoError(t, src.AddDocument(ctx, 2, shingle.NewSketch(5, 6)))
	require.NoError(t, src.AddDocument(ctx, 1, shingle.NewSketch(6, 7)))
	require.NoError(t, src.AddDocument(ctx, 3, shingle.NewSketch()))
	require.NoError(t, src.AddDocumentSimilarity(ctx, 1, 2))
	require.NoError(t, src.AddDocumentSimilarity(ctx, 1, 3))

	snap := src.Snapshot()
	require.Len(t, snap.Documents, 3)
	assert.Equal(t, 1, snap.Documents[0].ID)
	assert.Equal(t, []uint64{6, 7}, snap.Documents[0].Hashes)
	assert.Equal(t, []index.SimilarityEntry{{Master: 1, Similar: []int{2, 3}}}, snap.Similarities)

	dst := index.NewMemoryIndex("dst")
	require.NoError(t, dst.Open(ctx))
	require.NoError(t, dst.AddDocument(ctx, 9, shingle.NewSketch(9)))
	require.NoError(t, dst.Restore(snap))

	assert.Equal(t, snap, dst.Snapshot())
	docs, err := dst.DocumentsForHash(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, docs.Sorted())
}

func TestMemoryIndex_SketchIsCopied(t *testing.T) {
	ctx := context.Background()
	idx := index.NewMemoryIndex("copies")
	require.NoError(t, idx.Open(ctx))

	sk := shingle.NewSketch(1, 2)
	require.NoError(t, idx.AddDocument(ctx, 1, sk))
	sk.Add(3)

	stored, err := idx.SketchForDocument(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, stored.Sorted())

	stored.Add(4)
	again, err := idx.SketchForDocument(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, again.Sorted())
}

func TestMemoryIndex_ConcurrentReadsDuringWrites(t *testing.T) {
	ctx := context.Background()
	idx := index.NewMemoryIndex("concurrent")
	require.NoError(t, idx.Open(ctx))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for id := 1; id <= 500; id++ {
			assert.NoError(t, idx.AddDocument(ctx, id, shingle.NewSketch(1, uint64(id)+1)))
		}
	}()
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				docs, err := idx.DocumentsForHash(ctx, 1)
				assert.NoError(t, err)
				for id := range docs {
					// a document visible by hash always has its sketch stored
					sk, err := idx.SketchForDocument(ctx, id)
					assert.NoError(t, err)
					assert.True(t, sk.Contains(1))
				}
			}
		}()
	}
	wg.Wait()

	n, err := idx.NumberOfDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 500, n)
}

func TestMemoryIndex_Size(t *testing.T) {
	ctx := context.Background()
	idx := index.NewMemoryIndex("size")
	require.NoError(t, idx.Open(ctx))
	assert.Zero(t, idx.Size())
	require.NoError(t, idx.AddDocument(ctx, 1, shingle.NewSketch(1, 2, 3)))
	assert.Positive(t, idx.Size())
	require.NoError(t, idx.Delete(ctx))
	assert.Zero(t, idx.Size())
}

func BenchmarkMemoryIndexAdd(b *testing.B) {
	ctx := context.Background()
	gen := shingle.NewGenerator(shingleConfig())
	sk := gen.Sketch("this is a benchmark document with several terms for testing the indexing performance of our memory index")
	idx := index.NewMemoryIndex("bench")
	if err := idx.Open(ctx); err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	id := 0
	for b.Loop() {
		id++
		if err := idx.AddDocument(ctx, id, sk); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkMemoryIndexDocumentsForSketch(b *testing.B) {
	ctx := context.Background()
	gen := shingle.NewGenerator(shingleConfig())
	idx := index.NewMemoryIndex("bench")
	if err := idx.Open(ctx); err != nil {
		b.Fatal(err)
	}
	for i := 1; i <= 5000; i++ {
		text := fmt.Sprintf("document %d about distributed search engines with shared shingles %d", i, i%50)
		if err := idx.AddDocument(ctx, i, gen.Sketch(text)); err != nil {
			b.Fatal(err)
		}
	}
	query := gen.Sketch("document 7 about distributed search engines with shared shingles 7")
	b.ReportAllocs()
	for b.Loop() {
		if _, err := idx.DocumentsForSketch(ctx, query); err != nil {
			b.Fatal(err)
		}
	}
}

func shingleConfig() config.ShingleConfig {
	return config.Default().Shingle
}

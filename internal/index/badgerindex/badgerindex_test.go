package badgerindex_test

import (
	"context"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/shingles/internal/index"
	"github.com/Adithya-Monish-Kumar-K/shingles/internal/index/badgerindex"
	"github.com/Adithya-Monish-Kumar-K/shingles/internal/index/indextest"
	"github.com/Adithya-Monish-Kumar-K/shingles/internal/shingle"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/shingles/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func factory(dir string, cfg config.BadgerConfig) indextest.Factory {
	return func(t *testing.T, name string) index.Index {
		idx := badgerindex.New(dir, name, cfg)
		t.Cleanup(func() { idx.Close() })
		return idx
	}
}

func TestBadgerIndex_InMemoryConformance(t *testing.T) {
	indextest.Run(t, factory("", config.BadgerConfig{InMemory: true}))
}

func TestBadgerIndex_DiskConformance(t *testing.T) {
	indextest.Run(t, factory(t.TempDir(), config.BadgerConfig{}))
}

func TestBadgerIndex_Durable(t *testing.T) {
	indextest.RunDurable(t, factory(t.TempDir(), config.BadgerConfig{SyncWrites: true}))
}

func TestBadgerIndex_CloseThenReopen(t *testing.T) {
	ctx := context.Background()
	idx := badgerindex.New(t.TempDir(), "reopen", config.BadgerConfig{})
	require.NoError(t, idx.Open(ctx))
	require.NoError(t, idx.AddDocument(ctx, 1, shingle.NewSketch(4, 5)))
	require.NoError(t, idx.Ping(ctx))
	require.NoError(t, idx.Close())

	assert.ErrorIs(t, idx.Ping(ctx), apperrors.ErrIndexNotOpen)
	// closed indices can be renamed, reopening under the old name finds the data
	require.NoError(t, idx.SetName("reopen"))
	require.NoError(t, idx.Open(ctx))
	defer idx.Close()
	sk, err := idx.SketchForDocument(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{4, 5}, sk.Sorted())
}

package index_test

import (
	"context"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/shingles/internal/index"
	"github.com/Adithya-Monish-Kumar-K/shingles/internal/index/indextest"
	"github.com/Adithya-Monish-Kumar-K/shingles/internal/shingle"
	apperrors "github.com/Adithya-Monish-Kumar-K/shingles/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracedIndex_Conformance(t *testing.T) {
	indextest.Run(t, func(t *testing.T, name string) index.Index {
		return index.NewTracedIndex(index.NewMemoryIndex(name), "memory", nil)
	})
}

func TestTracedIndex_RecordsOperations(t *testing.T) {
	ctx := context.Background()
	m := metrics.New()
	traced := index.NewTracedIndex(index.NewMemoryIndex("traced"), "memory", m)

	require.NoError(t, traced.Open(ctx))
	require.NoError(t, traced.AddDocument(ctx, 1, shingle.NewSketch(1, 2)))
	require.NoError(t, traced.AddDocument(ctx, 2, shingle.NewSketch(2, 3)))
	err := traced.AddDocument(ctx, 1, shingle.NewSketch(4))
	require.ErrorIs(t, err, apperrors.ErrDocumentExists)
	_, err = traced.DocumentsForHash(ctx, 2)
	require.NoError(t, err)
	n, err := traced.NumberOfDocuments(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	trace := traced.Trace()
	assert.Equal(t, 3, trace[index.OpAddDocument].Calls)
	assert.Equal(t, 1, trace[index.OpAddDocument].Errors)
	assert.Equal(t, 1, trace[index.OpDocumentsForHash].Calls)
	assert.Equal(t, 1, trace[index.OpOpen].Calls)
	_, hasSave := trace[index.OpSave]
	assert.False(t, hasSave)

	assert.Equal(t, 2.0, testutil.ToFloat64(
		m.IndexOperationsTotal.WithLabelValues("memory", index.OpAddDocument, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		m.IndexOperationsTotal.WithLabelValues("memory", index.OpAddDocument, "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.IndexDocuments.WithLabelValues("traced")))

	report := traced.TraceReport()
	assert.True(t, strings.HasPrefix(report, "index traced (memory)\n"))
	assert.Contains(t, report, "add_document")
	assert.Contains(t, report, "calls=3 errors=1")

	traced.ResetTrace()
	assert.Empty(t, traced.Trace())
}

func TestTracedIndex_ForwardsClose(t *testing.T) {
	ctx := context.Background()
	inner := index.NewMemoryIndex("closing")
	traced := index.NewTracedIndex(inner, "memory", nil)
	assert.ErrorIs(t, traced.Ping(ctx), apperrors.ErrIndexNotOpen)
	require.NoError(t, traced.Open(ctx))
	require.NoError(t, traced.Ping(ctx))
	require.NoError(t, traced.Close())

	_, err := inner.NumberOfDocuments(ctx)
	assert.ErrorIs(t, err, apperrors.ErrIndexNotOpen)
	assert.Same(t, inner, traced.Unwrap())
}

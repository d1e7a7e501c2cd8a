package index

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/shingles/internal/shingle"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/metrics"
)

// Operation names recorded by TracedIndex.
const (
	OpOpen                  = "open"
	OpAddDocument           = "add_document"
	OpDocumentsForHash      = "documents_for_hash"
	OpDocumentsForSketch    = "documents_for_sketch"
	OpSketchForDocument     = "sketch_for_document"
	OpNumberOfDocuments     = "number_of_documents"
	OpAddDocumentSimilarity = "add_document_similarity"
	OpSimilarDocuments      = "similar_documents"
	OpAllSimilarDocuments   = "all_similar_documents"
	OpSave                  = "save"
	OpDelete                = "delete"
)

// OpStats accumulates calls, failures and wall time for one operation.
type OpStats struct {
	Calls    int
	Errors   int
	Duration time.Duration
}

// TracedIndex wraps another Index and records how often and how long each
// operation runs. Stats are kept in-process for Trace and TraceReport and,
// when metrics are attached, exported to Prometheus.
type TracedIndex struct {
	inner   Index
	backend string
	metrics *metrics.Metrics

	mu    sync.Mutex
	stats map[string]*OpStats
}

// NewTracedIndex wraps inner. m may be nil.
func NewTracedIndex(inner Index, backend string, m *metrics.Metrics) *TracedIndex {
	return &TracedIndex{
		inner:   inner,
		backend: backend,
		metrics: m,
		stats:   make(map[string]*OpStats),
	}
}

// Unwrap returns the wrapped index.
func (t *TracedIndex) Unwrap() Index {
	return t.inner
}

func (t *TracedIndex) record(op string, start time.Time, err error) {
	elapsed := time.Since(start)

	t.mu.Lock()
	s, ok := t.stats[op]
	if !ok {
		s = &OpStats{}
		t.stats[op] = s
	}
	s.Calls++
	s.Duration += elapsed
	if err != nil {
		s.Errors++
	}
	t.mu.Unlock()

	if t.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	t.metrics.IndexOperationsTotal.WithLabelValues(t.backend, op, status).Inc()
	t.metrics.IndexOperationDuration.WithLabelValues(t.backend, op).Observe(elapsed.Seconds())
}

// Trace returns a copy of the per-operation stats.
func (t *TracedIndex) Trace() map[string]OpStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]OpStats, len(t.stats))
	for op, s := range t.stats {
		out[op] = *s
	}
	return out
}

// ResetTrace clears the per-operation stats.
func (t *TracedIndex) ResetTrace() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats = make(map[string]*OpStats)
}

// TraceReport renders the stats as one line per operation, sorted by name.
func (t *TracedIndex) TraceReport() string {
	trace := t.Trace()
	ops := make([]string, 0, len(trace))
	for op := range trace {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	var b strings.Builder
	fmt.Fprintf(&b, "index %s (%s)\n", t.inner.Name(), t.backend)
	for _, op := range ops {
		s := trace[op]
		var avg time.Duration
		if s.Calls > 0 {
			avg = s.Duration / time.Duration(s.Calls)
		}
		fmt.Fprintf(&b, "  %-24s calls=%d errors=%d total=%s avg=%s\n", op, s.Calls, s.Errors, s.Duration, avg)
	}
	return b.String()
}

func (t *TracedIndex) Open(ctx context.Context) error {
	start := time.Now()
	err := t.inner.Open(ctx)
	t.record(OpOpen, start, err)
	return err
}

func (t *TracedIndex) AddDocument(ctx context.Context, id int, sk shingle.Sketch) error {
	start := time.Now()
	err := t.inner.AddDocument(ctx, id, sk)
	t.record(OpAddDocument, start, err)
	return err
}

func (t *TracedIndex) DocumentsForHash(ctx context.Context, h uint64) (DocSet, error) {
	start := time.Now()
	docs, err := t.inner.DocumentsForHash(ctx, h)
	t.record(OpDocumentsForHash, start, err)
	return docs, err
}

func (t *TracedIndex) DocumentsForSketch(ctx context.Context, sk shingle.Sketch) (map[int]shingle.Sketch, error) {
	start := time.Now()
	docs, err := t.inner.DocumentsForSketch(ctx, sk)
	t.record(OpDocumentsForSketch, start, err)
	return docs, err
}

func (t *TracedIndex) SketchForDocument(ctx context.Context, id int) (shingle.Sketch, error) {
	start := time.Now()
	sk, err := t.inner.SketchForDocument(ctx, id)
	t.record(OpSketchForDocument, start, err)
	return sk, err
}

func (t *TracedIndex) NumberOfDocuments(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := t.inner.NumberOfDocuments(ctx)
	t.record(OpNumberOfDocuments, start, err)
	if err == nil && t.metrics != nil {
		t.metrics.IndexDocuments.WithLabelValues(t.inner.Name()).Set(float64(n))
	}
	return n, err
}

func (t *TracedIndex) AddDocumentSimilarity(ctx context.Context, masterID, similarID int) error {
	start := time.Now()
	err := t.inner.AddDocumentSimilarity(ctx, masterID, similarID)
	t.record(OpAddDocumentSimilarity, start, err)
	return err
}

func (t *TracedIndex) SimilarDocuments(ctx context.Context, id int) (DocSet, error) {
	start := time.Now()
	docs, err := t.inner.SimilarDocuments(ctx, id)
	t.record(OpSimilarDocuments, start, err)
	return docs, err
}

func (t *TracedIndex) AllSimilarDocuments(ctx context.Context) (map[int]DocSet, error) {
	start := time.Now()
	all, err := t.inner.AllSimilarDocuments(ctx)
	t.record(OpAllSimilarDocuments, start, err)
	return all, err
}

func (t *TracedIndex) Save(ctx context.Context) error {
	start := time.Now()
	err := t.inner.Save(ctx)
	t.record(OpSave, start, err)
	return err
}

func (t *TracedIndex) Delete(ctx context.Context) error {
	start := time.Now()
	err := t.inner.Delete(ctx)
	t.record(OpDelete, start, err)
	return err
}

func (t *TracedIndex) SetName(name string) error {
	return t.inner.SetName(name)
}

func (t *TracedIndex) Name() string {
	return t.inner.Name()
}

// Ping forwards to the wrapped index when it supports health checks and
// otherwise asks it for its document count.
func (t *TracedIndex) Ping(ctx context.Context) error {
	if p, ok := t.inner.(Pinger); ok {
		return p.Ping(ctx)
	}
	_, err := t.inner.NumberOfDocuments(ctx)
	return err
}

// Close forwards to the wrapped index when it holds resources.
func (t *TracedIndex) Close() error {
	if c, ok := t.inner.(Closer); ok {
		return c.Close()
	}
	return nil
}

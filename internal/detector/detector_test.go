package detector_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/shingles/internal/detector"
	"github.com/Adithya-Monish-Kumar-K/shingles/internal/index"
	"github.com/Adithya-Monish-Kumar-K/shingles/internal/index/badgerindex"
	"github.com/Adithya-Monish-Kumar-K/shingles/internal/index/segment"
	"github.com/Adithya-Monish-Kumar-K/shingles/internal/index/sqlindex"
	"github.com/Adithya-Monish-Kumar-K/shingles/internal/shingle"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/shingles/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// article returns 30 words drawn from a vocabulary private to topic, so
// articles of different topics share no shingle.
func article(topic string) []string {
	words := make([]string, 30)
	for i := range words {
		words[i] = fmt.Sprintf("%s%d", topic, i)
	}
	return words
}

func text(words []string) string {
	return strings.Join(words, " ")
}

func replaced(words []string, pos int, word string) string {
	out := append([]string(nil), words...)
	out[pos] = word
	return text(out)
}

// fixture is the ten document collection: 1 and 2 unique, 3/4 a pair,
// 5 master of 6, 7 and 8, 9/10 a pair.
func fixture() []string {
	a, b, c, d, e := article("alpha"), article("bravo"), article("charlie"), article("delta"), article("echo")
	return []string{
		text(a),
		text(b),
		text(c),
		replaced(c, 29, "changed"),
		text(d),
		replaced(d, 29, "changed"),
		replaced(d, 0, "changed"),
		text(d) + " appended",
		text(e),
		"  " + strings.ToUpper(text(e)) + "!!",
	}
}

func newDetector(t *testing.T, idx index.Index, candidates string) *detector.Detector {
	t.Helper()
	cfg := config.Default()
	cfg.Detector.Candidates = candidates
	d := detector.New(idx, shingle.NewGenerator(cfg.Shingle), cfg.Detector)
	require.NoError(t, d.Open(context.Background()))
	return d
}

func addAll(t *testing.T, d *detector.Detector, texts []string) []detector.Result {
	t.Helper()
	results := make([]detector.Result, 0, len(texts))
	for _, txt := range texts {
		res, err := d.AddDocument(context.Background(), txt)
		require.NoError(t, err)
		results = append(results, res)
	}
	return results
}

func TestDetector_ExactNearDuplicatePair(t *testing.T) {
	ctx := context.Background()
	d := newDetector(t, index.NewMemoryIndex("pair"), config.CandidatesByHash)

	first, err := d.AddSketch(ctx, shingle.NewSketch(1, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, 1, first.ID)
	assert.False(t, first.Similar)

	second, err := d.AddSketch(ctx, shingle.NewSketch(1, 2, 3, 4))
	require.NoError(t, err)
	assert.Equal(t, 2, second.ID)
	assert.True(t, second.Similar)
	assert.Equal(t, 1, second.Master)
	assert.InDelta(t, 0.25, second.Distance, 1e-9)

	sims, err := d.SimilarDocuments(ctx, 1)
	require.NoError(t, err)
	assert.True(t, sims.Contains(2))
}

func TestDetector_DisjointDocuments(t *testing.T) {
	ctx := context.Background()
	idx := index.NewMemoryIndex("disjoint")
	d := newDetector(t, idx, config.CandidatesByHash)

	_, err := d.AddSketch(ctx, shingle.NewSketch(1, 2, 3))
	require.NoError(t, err)
	res, err := d.AddSketch(ctx, shingle.NewSketch(9, 10, 11))
	require.NoError(t, err)
	assert.False(t, res.Similar)
	assert.Equal(t, 0, res.Candidates)

	docs, err := idx.DocumentsForSketch(ctx, shingle.NewSketch(1, 2, 3))
	require.NoError(t, err)
	assert.NotContains(t, docs, res.ID)
	all, err := d.AllSimilarDocuments(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDetector_FixtureClusters(t *testing.T) {
	want := []detector.Cluster{
		{Master: 3, Members: []int{4}},
		{Master: 5, Members: []int{6, 7, 8}},
		{Master: 9, Members: []int{10}},
	}
	backends := map[string]func(t *testing.T) index.Index{
		"memory": func(t *testing.T) index.Index { return index.NewMemoryIndex("fixture") },
		"segment": func(t *testing.T) index.Index {
			return segment.New(t.TempDir(), "fixture", nil)
		},
		"sqlite": func(t *testing.T) index.Index {
			idx, err := sqlindex.NewSQLite(context.Background(), filepath.Join(t.TempDir(), "f.db"), "fixture")
			require.NoError(t, err)
			t.Cleanup(func() { idx.Close() })
			return idx
		},
		"badger": func(t *testing.T) index.Index {
			idx := badgerindex.New("", "fixture", config.BadgerConfig{InMemory: true})
			t.Cleanup(func() { idx.Close() })
			return idx
		},
	}
	for name, newIndex := range backends {
		for _, strategy := range []string{config.CandidatesByHash, config.CandidatesBySketch} {
			t.Run(name+"/"+strategy, func(t *testing.T) {
				ctx := context.Background()
				d := newDetector(t, newIndex(t), strategy)
				results := addAll(t, d, fixture())

				clusters, err := d.Clusters(ctx)
				require.NoError(t, err)
				assert.Equal(t, want, clusters)

				assert.False(t, results[0].Similar)
				assert.False(t, results[1].Similar)
				assert.True(t, results[9].Duplicate, "reformatted text has the identical sketch")
				assert.False(t, results[3].Duplicate)

				n, err := d.NumberOfDocuments(ctx)
				require.NoError(t, err)
				assert.Equal(t, 10, n)
			})
		}
	}
}

func TestDetector_Deterministic(t *testing.T) {
	first := addAll(t, newDetector(t, index.NewMemoryIndex("run1"), config.CandidatesByHash), fixture())
	second := addAll(t, newDetector(t, index.NewMemoryIndex("run2"), config.CandidatesBySketch), fixture())
	// the strategies may score a different number of candidates, never a
	// different outcome
	for i := range first {
		first[i].Candidates, second[i].Candidates = 0, 0
	}
	assert.Equal(t, first, second)
	for i, res := range first {
		assert.Equal(t, i+1, res.ID)
	}
}

func TestDetector_EmptyDocumentsNeverLinked(t *testing.T) {
	ctx := context.Background()
	d := newDetector(t, index.NewMemoryIndex("empty"), config.CandidatesByHash)
	results := addAll(t, d, []string{"", "just two", "", "!!!"})
	for _, res := range results {
		assert.False(t, res.Similar)
		assert.Equal(t, 0, res.SketchSize)
	}
	n, err := d.NumberOfDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	clusters, err := d.Clusters(ctx)
	require.NoError(t, err)
	assert.Empty(t, clusters)
}

func TestDetector_Lifecycle(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	d := detector.New(index.NewMemoryIndex("lifecycle"), shingle.NewGenerator(cfg.Shingle), cfg.Detector)

	_, err := d.AddDocument(ctx, "too early for this")
	assert.ErrorIs(t, err, apperrors.ErrIndexNotOpen)

	require.NoError(t, d.Open(ctx))
	assert.ErrorIs(t, d.Open(ctx), apperrors.ErrIndexOpen)
	assert.Equal(t, 1, d.NextID())
	require.NoError(t, d.Save(ctx))
}

func TestDetector_Reset(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	d := detector.New(index.NewMemoryIndex("reset"), shingle.NewGenerator(cfg.Shingle), cfg.Detector)
	assert.ErrorIs(t, d.Reset(ctx), apperrors.ErrIndexNotOpen)

	require.NoError(t, d.Open(ctx))
	addAll(t, d, fixture()[:4])
	require.NoError(t, d.Reset(ctx))

	assert.Equal(t, 1, d.NextID())
	n, err := d.NumberOfDocuments(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	clusters, err := d.Clusters(ctx)
	require.NoError(t, err)
	assert.Empty(t, clusters)

	res, err := d.AddDocument(ctx, fixture()[0])
	require.NoError(t, err)
	assert.Equal(t, 1, res.ID)
}

func TestDetector_ReopenContinuesIDs(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	docs := fixture()

	first := newDetector(t, segment.New(dir, "reopen", nil), config.CandidatesByHash)
	addAll(t, first, docs[:3])
	require.NoError(t, first.Save(ctx))

	second := newDetector(t, segment.New(dir, "reopen", nil), config.CandidatesByHash)
	assert.Equal(t, 4, second.NextID())
	res, err := second.AddDocument(ctx, docs[3])
	require.NoError(t, err)
	assert.Equal(t, 4, res.ID)
	assert.Equal(t, 3, res.Master)
}

func TestDetector_LoadErrorConsumesNoID(t *testing.T) {
	ctx := context.Background()
	d := newDetector(t, index.NewMemoryIndex("load"), config.CandidatesByHash)

	_, err := d.AddFile(ctx, filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrLoad)
	assert.ErrorIs(t, err, os.ErrNotExist)
	var loadErr *detector.LoadError
	assert.ErrorAs(t, err, &loadErr)
	assert.Equal(t, 1, d.NextID())

	_, err = d.AddReader(ctx, "broken", failingReader{})
	assert.ErrorIs(t, err, apperrors.ErrLoad)
	assert.Equal(t, 1, d.NextID())

	path := filepath.Join(t.TempDir(), "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte(fixture()[0]), 0644))
	res, err := d.AddFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ID)
}

func TestDetector_AddLines(t *testing.T) {
	ctx := context.Background()
	d := newDetector(t, index.NewMemoryIndex("lines"), config.CandidatesByHash)
	docs := fixture()
	input := strings.Join([]string{docs[2], "", "   ", docs[3], docs[0]}, "\n")

	results, err := d.AddLines(ctx, "input.txt", strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{results[0].ID, results[1].ID, results[2].ID})
	assert.Equal(t, 1, results[1].Master)
	assert.False(t, results[2].Similar)
}

func TestDetector_LaterFailureConsumesID(t *testing.T) {
	ctx := context.Background()
	idx := &failingIndex{MemoryIndex: index.NewMemoryIndex("failing")}
	d := newDetector(t, idx, config.CandidatesByHash)

	idx.fail = true
	_, err := d.AddDocument(ctx, fixture()[0])
	assert.ErrorIs(t, err, errBackendDown)
	assert.Equal(t, 2, d.NextID())

	idx.fail = false
	res, err := d.AddDocument(ctx, fixture()[1])
	require.NoError(t, err)
	assert.Equal(t, 2, res.ID)
}

func TestDetector_StoreFailureKeepsID(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx := &failingIndex{MemoryIndex: index.NewMemoryIndex("store")}
	d := newDetector(t, idx, config.CandidatesByHash)
	addAll(t, d, fixture()[:2])

	idx.failStore = true
	_, err := d.AddDocument(ctx, fixture()[2])
	assert.ErrorIs(t, err, errBackendDown)
	assert.Equal(t, 3, d.NextID())

	idx.failStore = false
	res, err := d.AddDocument(ctx, fixture()[2])
	require.NoError(t, err)
	assert.Equal(t, 3, res.ID)

	// stored ids stay contiguous, so a reopened session continues cleanly
	first := newDetector(t, segment.New(dir, "gapless", nil), config.CandidatesByHash)
	addAll(t, first, fixture()[:3])
	require.NoError(t, first.Save(ctx))
	second := newDetector(t, segment.New(dir, "gapless", nil), config.CandidatesByHash)
	res, err = second.AddDocument(ctx, fixture()[3])
	require.NoError(t, err)
	assert.Equal(t, 4, res.ID)
}

func TestDetector_TakenIDIsSkipped(t *testing.T) {
	ctx := context.Background()
	idx := index.NewMemoryIndex("taken")
	d := newDetector(t, idx, config.CandidatesByHash)
	// another writer stores id 1 after the detector opened
	require.NoError(t, idx.AddDocument(ctx, 1, shingle.NewSketch(99)))

	_, err := d.AddDocument(ctx, fixture()[0])
	assert.ErrorIs(t, err, apperrors.ErrDocumentExists)
	res, err := d.AddDocument(ctx, fixture()[0])
	require.NoError(t, err)
	assert.Equal(t, 2, res.ID)
}

func TestDetector_SharedPhraseNotLinked(t *testing.T) {
	phrase := []string{"we", "are", "pleased", "to", "announce"}
	compose := func(topic string) string {
		words := article(topic)
		return text(append(append(append([]string(nil), words[:15]...), phrase...), words[15:25]...))
	}
	tests := []struct {
		strategy   string
		candidates int
	}{
		{config.CandidatesByHash, 0},
		{config.CandidatesBySketch, 1},
	}
	for _, tt := range tests {
		t.Run(tt.strategy, func(t *testing.T) {
			ctx := context.Background()
			d := newDetector(t, index.NewMemoryIndex("phrase"), tt.strategy)
			_, err := d.AddDocument(ctx, compose("alpha"))
			require.NoError(t, err)
			res, err := d.AddDocument(ctx, compose("bravo"))
			require.NoError(t, err)

			assert.False(t, res.Similar)
			assert.Equal(t, tt.candidates, res.Candidates)
			all, err := d.AllSimilarDocuments(ctx)
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

// span returns the sketch {from, ..., to}.
func span(from, to uint64) shingle.Sketch {
	sk := shingle.NewSketch()
	for h := from; h <= to; h++ {
		sk.Add(h)
	}
	return sk
}

func TestDetector_DistanceThreshold(t *testing.T) {
	// default maximum distance is 0.3; 9/30 is exactly on it
	tests := []struct {
		name           string
		stored, added  shingle.Sketch
		linked         bool
		hashCandidates int
	}{
		{"superset on threshold", span(1, 21), span(1, 30), false, 0},
		{"subset on threshold", span(1, 30), span(1, 21), false, 1},
		{"subset below threshold", span(1, 30), span(1, 22), true, 1},
		{"superset below threshold", span(1, 22), span(1, 30), true, 1},
	}
	for _, strategy := range []string{config.CandidatesByHash, config.CandidatesBySketch} {
		for _, tt := range tests {
			t.Run(strategy+"/"+tt.name, func(t *testing.T) {
				ctx := context.Background()
				d := newDetector(t, index.NewMemoryIndex("threshold"), strategy)
				_, err := d.AddSketch(ctx, tt.stored)
				require.NoError(t, err)
				res, err := d.AddSketch(ctx, tt.added)
				require.NoError(t, err)

				assert.Equal(t, tt.linked, res.Similar)
				if tt.linked {
					assert.Equal(t, 1, res.Master)
					assert.Less(t, res.Distance, 0.3)
				} else {
					assert.Zero(t, res.Master)
				}
				want := 1
				if strategy == config.CandidatesByHash {
					want = tt.hashCandidates
				}
				assert.Equal(t, want, res.Candidates)
			})
		}
	}
}

func TestDetector_Metrics(t *testing.T) {
	cfg := config.Default()
	m := metrics.New()
	d := detector.New(index.NewMemoryIndex("metrics"), shingle.NewGenerator(cfg.Shingle), cfg.Detector).WithMetrics(m)
	require.NoError(t, d.Open(context.Background()))
	addAll(t, d, fixture())

	assert.Equal(t, 10.0, testutil.ToFloat64(m.DocumentsAddedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SimilarDocumentsTotal.WithLabelValues("duplicate")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.SimilarDocumentsTotal.WithLabelValues("near_duplicate")))
}

func TestDetector_WriteReport(t *testing.T) {
	d := newDetector(t, index.NewMemoryIndex("report"), config.CandidatesByHash)
	addAll(t, d, fixture())

	var buf bytes.Buffer
	require.NoError(t, d.WriteReport(context.Background(), &buf))
	assert.Equal(t, `---------- similar documents -----------
3 : [4]
5 : [6 7 8]
9 : [10]
----------------------------------------
# of total documents 10
`, buf.String())
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

var errBackendDown = errors.New("backend down")

type failingIndex struct {
	*index.MemoryIndex
	fail      bool
	failStore bool
}

func (f *failingIndex) AddDocument(ctx context.Context, id int, sk shingle.Sketch) error {
	if f.failStore {
		return errBackendDown
	}
	return f.MemoryIndex.AddDocument(ctx, id, sk)
}

func (f *failingIndex) DocumentsForHash(ctx context.Context, h uint64) (index.DocSet, error) {
	if f.fail {
		return nil, errBackendDown
	}
	return f.MemoryIndex.DocumentsForHash(ctx, h)
}

// Package detector finds near-duplicate documents. Each added text gets the
// next sequential id, is sketched, stored in the index and compared with the
// earlier documents sharing hashes with it. A document closer than the
// configured Jaccard distance to an earlier one is recorded as similar to the
// lowest such id, its master.
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/shingles/internal/index"
	"github.com/Adithya-Monish-Kumar-K/shingles/internal/shingle"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/shingles/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/metrics"
)

// Result describes one added document. Master is 0 and Distance 1 when no
// earlier document was close enough.
type Result struct {
	ID         int     `json:"id"`
	Master     int     `json:"master,omitempty"`
	Distance   float64 `json:"distance"`
	Similar    bool    `json:"similar"`
	Duplicate  bool    `json:"duplicate"`
	SketchSize int     `json:"sketch_size"`
	Candidates int     `json:"candidates"`
}

// Cluster is a master document and the documents recorded as similar to it.
type Cluster struct {
	Master  int   `json:"master"`
	Members []int `json:"members"`
}

// Detector is not safe for concurrent use.
type Detector struct {
	idx     index.Index
	gen     *shingle.Generator
	cfg     config.DetectorConfig
	metrics *metrics.Metrics
	logger  *slog.Logger

	opened bool
	nextID int
}

// New creates a Detector over idx. Call Open before adding documents.
func New(idx index.Index, gen *shingle.Generator, cfg config.DetectorConfig) *Detector {
	if cfg.Candidates == "" {
		cfg.Candidates = config.CandidatesByHash
	}
	return &Detector{
		idx:    idx,
		gen:    gen,
		cfg:    cfg,
		logger: logger.WithComponent("detector").With("index", idx.Name()),
		nextID: 1,
	}
}

// WithMetrics attaches Prometheus collectors.
func (d *Detector) WithMetrics(m *metrics.Metrics) *Detector {
	d.metrics = m
	return d
}

// Index returns the index the detector writes to.
func (d *Detector) Index() index.Index {
	return d.idx
}

// Open opens the index and continues numbering after the documents it
// already holds.
func (d *Detector) Open(ctx context.Context) error {
	if d.opened {
		return apperrors.Newf(apperrors.ErrIndexOpen, "open detector", "index %q", d.idx.Name())
	}
	if err := d.idx.Open(ctx); err != nil {
		return fmt.Errorf("opening index: %w", err)
	}
	n, err := d.idx.NumberOfDocuments(ctx)
	if err != nil {
		return fmt.Errorf("counting stored documents: %w", err)
	}
	d.opened = true
	d.nextID = n + 1
	d.logger.Info("detector opened",
		"documents", n,
		"next_id", d.nextID,
		"max_distance", d.cfg.MaxDistance,
		"candidates", d.cfg.Candidates,
	)
	return nil
}

// NextID is the id the next added document will receive.
func (d *Detector) NextID() int {
	return d.nextID
}

// AddDocument sketches text and adds it.
func (d *Detector) AddDocument(ctx context.Context, text string) (Result, error) {
	return d.AddSketch(ctx, d.gen.Sketch(text))
}

// AddSketch stores sk under the next id and links it to its master, if
// any. An id is consumed once the document is stored, even when a later
// step fails, so stored ids stay contiguous and Open can continue from the
// document count.
func (d *Detector) AddSketch(ctx context.Context, sk shingle.Sketch) (Result, error) {
	if !d.opened {
		return Result{}, apperrors.Newf(apperrors.ErrIndexNotOpen, "add document", "index %q", d.idx.Name())
	}
	id := d.nextID
	res := Result{ID: id, Distance: 1, SketchSize: sk.Len()}

	if err := d.idx.AddDocument(ctx, id, sk); err != nil {
		// an id already held by another writer is skipped
		if apperrors.Is(err, apperrors.ErrDocumentExists) {
			d.nextID++
		}
		return res, fmt.Errorf("storing document %d: %w", id, err)
	}
	d.nextID++
	if d.metrics != nil {
		d.metrics.DocumentsAddedTotal.Inc()
		d.metrics.SketchSize.Observe(float64(sk.Len()))
	}
	if sk.Len() == 0 {
		d.logger.Debug("empty sketch, not compared", "doc_id", id)
		return res, nil
	}

	candidates, err := d.candidates(ctx, id, sk)
	if err != nil {
		return res, fmt.Errorf("finding candidates for document %d: %w", id, err)
	}
	res.Candidates = len(candidates)
	if d.metrics != nil {
		d.metrics.CandidateCount.Observe(float64(len(candidates)))
	}

	for _, cid := range sortedIDs(candidates) {
		distance := shingle.JaccardDistance(sk, candidates[cid])
		if distance < d.cfg.MaxDistance {
			res.Master = cid
			res.Distance = distance
			res.Similar = true
			res.Duplicate = distance == 0
			break
		}
	}
	if !res.Similar {
		d.logger.Debug("document looks unique", "doc_id", id, "sketch_size", res.SketchSize, "candidates", res.Candidates)
		return res, nil
	}

	if err := d.idx.AddDocumentSimilarity(ctx, res.Master, id); err != nil {
		return res, fmt.Errorf("linking document %d to %d: %w", id, res.Master, err)
	}
	if d.metrics != nil {
		kind := "near_duplicate"
		if res.Duplicate {
			kind = "duplicate"
		}
		d.metrics.SimilarDocumentsTotal.WithLabelValues(kind).Inc()
	}
	d.logger.Debug("similar document",
		"doc_id", id,
		"master", res.Master,
		"distance", res.Distance,
		"sketch_size", res.SketchSize,
		"candidates", res.Candidates,
	)
	return res, nil
}

// candidates returns the stored sketches of the documents, other than id,
// that may lie within MaxDistance of sk.
func (d *Detector) candidates(ctx context.Context, id int, sk shingle.Sketch) (map[int]shingle.Sketch, error) {
	if d.cfg.Candidates == config.CandidatesBySketch {
		docs, err := d.idx.DocumentsForSketch(ctx, sk)
		if err != nil {
			return nil, err
		}
		delete(docs, id)
		return docs, nil
	}

	matches := make(map[int]int)
	for h := range sk {
		docs, err := d.idx.DocumentsForHash(ctx, h)
		if err != nil {
			return nil, err
		}
		for doc := range docs {
			if doc != id {
				matches[doc]++
			}
		}
	}
	// |A u B| >= |A|, so 1 - shared/|A| never exceeds the Jaccard distance
	// and documents failing it cannot qualify.
	size := float64(sk.Len())
	result := make(map[int]shingle.Sketch)
	for doc, shared := range matches {
		if 1-float64(shared)/size >= d.cfg.MaxDistance {
			continue
		}
		stored, err := d.idx.SketchForDocument(ctx, doc)
		if err != nil {
			return nil, err
		}
		result[doc] = stored
	}
	return result, nil
}

// Reset deletes every document, hash and edge of the open index and
// restarts numbering at 1.
func (d *Detector) Reset(ctx context.Context) error {
	if !d.opened {
		return apperrors.Newf(apperrors.ErrIndexNotOpen, "reset detector", "index %q", d.idx.Name())
	}
	if err := d.idx.Delete(ctx); err != nil {
		return fmt.Errorf("deleting index: %w", err)
	}
	d.nextID = 1
	d.logger.Info("index reset")
	return nil
}

// SimilarDocuments returns the documents recorded as similar to master id.
func (d *Detector) SimilarDocuments(ctx context.Context, id int) (index.DocSet, error) {
	return d.idx.SimilarDocuments(ctx, id)
}

// AllSimilarDocuments returns every master with its similar documents.
func (d *Detector) AllSimilarDocuments(ctx context.Context) (map[int]index.DocSet, error) {
	return d.idx.AllSimilarDocuments(ctx)
}

// Clusters returns the similarity relation sorted by master id.
func (d *Detector) Clusters(ctx context.Context) ([]Cluster, error) {
	all, err := d.idx.AllSimilarDocuments(ctx)
	if err != nil {
		return nil, err
	}
	masters := make([]int, 0, len(all))
	for m := range all {
		masters = append(masters, m)
	}
	slices.Sort(masters)
	clusters := make([]Cluster, 0, len(masters))
	for _, m := range masters {
		clusters = append(clusters, Cluster{Master: m, Members: all[m].Sorted()})
	}
	return clusters, nil
}

// NumberOfDocuments returns how many documents the index holds.
func (d *Detector) NumberOfDocuments(ctx context.Context) (int, error) {
	return d.idx.NumberOfDocuments(ctx)
}

// Save persists the index.
func (d *Detector) Save(ctx context.Context) error {
	if err := d.idx.Save(ctx); err != nil {
		return fmt.Errorf("saving index: %w", err)
	}
	d.logger.Info("index saved", "next_id", d.nextID)
	return nil
}

func sortedIDs(m map[int]shingle.Sketch) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

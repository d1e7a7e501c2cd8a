package index

import (
	"context"
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/shingles/internal/shingle"
	apperrors "github.com/Adithya-Monish-Kumar-K/shingles/pkg/errors"
)

// MemoryIndex is the default backend. All three maps are guarded by one
// RWMutex, so a document is never visible through DocumentsForHash before
// its sketch is stored or the other way round.
type MemoryIndex struct {
	mu      sync.RWMutex
	name    string
	open    bool
	docs    map[int]shingle.Sketch
	hashes  map[uint64]map[int]struct{}
	similar map[int]map[int]struct{}
	size    int64
}

// DocumentEntry is one stored document in a Snapshot.
type DocumentEntry struct {
	ID     int      `json:"id"`
	Hashes []uint64 `json:"h"`
}

// SimilarityEntry is one master and its similar documents in a Snapshot.
type SimilarityEntry struct {
	Master  int   `json:"m"`
	Similar []int `json:"s"`
}

// Snapshot is a sorted, self-contained copy of a MemoryIndex.
type Snapshot struct {
	Documents    []DocumentEntry
	Similarities []SimilarityEntry
}

func NewMemoryIndex(name string) *MemoryIndex {
	m := &MemoryIndex{name: name}
	m.reset()
	return m
}

func (m *MemoryIndex) reset() {
	m.docs = make(map[int]shingle.Sketch)
	m.hashes = make(map[uint64]map[int]struct{})
	m.similar = make(map[int]map[int]struct{})
	m.size = 0
}

func (m *MemoryIndex) Open(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open {
		return apperrors.Newf(apperrors.ErrIndexOpen, "open index", "index %q", m.name)
	}
	if err := ValidateName(m.name); err != nil {
		return err
	}
	m.open = true
	return nil
}

func (m *MemoryIndex) AddDocument(_ context.Context, id int, sk shingle.Sketch) error {
	stored := sk.Clone()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return m.notOpen("add document")
	}
	if _, exists := m.docs[id]; exists {
		return apperrors.Newf(apperrors.ErrDocumentExists, "add document", "document %d", id)
	}
	m.docs[id] = stored
	for h := range stored {
		if _, exists := m.hashes[h]; !exists {
			m.hashes[h] = make(map[int]struct{})
		}
		m.hashes[h][id] = struct{}{}
	}
	m.size += int64(len(stored)*16 + 64)
	return nil
}

func (m *MemoryIndex) DocumentsForHash(_ context.Context, h uint64) (DocSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.open {
		return nil, m.notOpen("documents for hash")
	}
	docs := m.hashes[h]
	result := make(DocSet, len(docs))
	for id := range docs {
		result[id] = struct{}{}
	}
	return result, nil
}

func (m *MemoryIndex) DocumentsForSketch(_ context.Context, sk shingle.Sketch) (map[int]shingle.Sketch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.open {
		return nil, m.notOpen("documents for sketch")
	}
	result := make(map[int]shingle.Sketch)
	for h := range sk {
		for id := range m.hashes[h] {
			if _, done := result[id]; !done {
				result[id] = m.docs[id].Clone()
			}
		}
	}
	return result, nil
}

func (m *MemoryIndex) SketchForDocument(_ context.Context, id int) (shingle.Sketch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.open {
		return nil, m.notOpen("sketch for document")
	}
	sk, ok := m.docs[id]
	if !ok {
		return shingle.NewSketch(), nil
	}
	return sk.Clone(), nil
}

func (m *MemoryIndex) NumberOfDocuments(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.open {
		return 0, m.notOpen("number of documents")
	}
	return len(m.docs), nil
}

func (m *MemoryIndex) AddDocumentSimilarity(_ context.Context, masterID, similarID int) error {
	if err := ValidateSimilarity(masterID, similarID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return m.notOpen("add document similarity")
	}
	for _, id := range []int{masterID, similarID} {
		if _, ok := m.docs[id]; !ok {
			return apperrors.Newf(apperrors.ErrDocumentNotFound, "add document similarity", "document %d", id)
		}
	}
	if _, exists := m.similar[masterID]; !exists {
		m.similar[masterID] = make(map[int]struct{})
	}
	m.similar[masterID][similarID] = struct{}{}
	return nil
}

func (m *MemoryIndex) SimilarDocuments(_ context.Context, id int) (DocSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.open {
		return nil, m.notOpen("similar documents")
	}
	sims := m.similar[id]
	result := make(DocSet, len(sims))
	for sid := range sims {
		result[sid] = struct{}{}
	}
	return result, nil
}

func (m *MemoryIndex) AllSimilarDocuments(_ context.Context) (map[int]DocSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.open {
		return nil, m.notOpen("all similar documents")
	}
	result := make(map[int]DocSet, len(m.similar))
	for master, sims := range m.similar {
		set := make(DocSet, len(sims))
		for sid := range sims {
			set[sid] = struct{}{}
		}
		result[master] = set
	}
	return result, nil
}

// Save is a no-op: nothing outlives the process.
func (m *MemoryIndex) Save(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.open {
		return m.notOpen("save index")
	}
	return nil
}

// Delete drops every document, hash and similarity. The index stays open
// and empty.
func (m *MemoryIndex) Delete(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return m.notOpen("delete index")
	}
	m.reset()
	return nil
}

// Close marks the index closed without dropping its contents.
func (m *MemoryIndex) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	return nil
}

func (m *MemoryIndex) SetName(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open {
		return apperrors.Newf(apperrors.ErrIndexOpen, "set index name", "index %q", m.name)
	}
	m.name = name
	return nil
}

func (m *MemoryIndex) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.name
}

// Size is a rough estimate of the bytes held by stored sketches.
func (m *MemoryIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// Snapshot copies the index contents, sorted by document and master id.
func (m *MemoryIndex) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := Snapshot{
		Documents:    make([]DocumentEntry, 0, len(m.docs)),
		Similarities: make([]SimilarityEntry, 0, len(m.similar)),
	}
	for id, sk := range m.docs {
		snap.Documents = append(snap.Documents, DocumentEntry{ID: id, Hashes: sk.Sorted()})
	}
	sort.Slice(snap.Documents, func(i, j int) bool {
		return snap.Documents[i].ID < snap.Documents[j].ID
	})
	for master, sims := range m.similar {
		snap.Similarities = append(snap.Similarities, SimilarityEntry{
			Master:  master,
			Similar: DocSet(sims).Sorted(),
		})
	}
	sort.Slice(snap.Similarities, func(i, j int) bool {
		return snap.Similarities[i].Master < snap.Similarities[j].Master
	})
	return snap
}

// Restore replaces the contents of an open index with snap. Documents are
// loaded before similarities, so snap must not reference unknown ids.
func (m *MemoryIndex) Restore(snap Snapshot) error {
	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return m.notOpen("restore index")
	}
	m.reset()
	m.mu.Unlock()

	ctx := context.Background()
	for _, doc := range snap.Documents {
		if err := m.AddDocument(ctx, doc.ID, shingle.NewSketch(doc.Hashes...)); err != nil {
			return err
		}
	}
	for _, sim := range snap.Similarities {
		for _, sid := range sim.Similar {
			if err := m.AddDocumentSimilarity(ctx, sim.Master, sid); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *MemoryIndex) notOpen(op string) error {
	return apperrors.Newf(apperrors.ErrIndexNotOpen, op, "index %q", m.name)
}

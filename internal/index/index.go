// Package index defines the shingles index contract shared by every storage
// backend, the default in-memory implementation, and an instrumented wrapper.
//
// An index stores one sketch per document id, an inverted map from hash to
// the documents containing it, and an explicit directed similarity relation
// from a master document to the documents found similar to it. The lifecycle
// is Open, then data operations, then optionally Save; Delete tears the whole
// index down.
package index

import (
	"context"
	"regexp"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/shingles/internal/shingle"
	apperrors "github.com/Adithya-Monish-Kumar-K/shingles/pkg/errors"
)

// Index is the storage contract the detector is written against.
//
// Lookups of unknown hashes or ids return empty, non-nil results and no
// error. Data operations before Open fail with errors.ErrIndexNotOpen.
// AddDocument with an id that is already stored fails with
// errors.ErrDocumentExists and leaves the index unchanged.
// AddDocumentSimilarity requires both ids to be stored.
type Index interface {
	Open(ctx context.Context) error
	AddDocument(ctx context.Context, id int, sk shingle.Sketch) error
	DocumentsForHash(ctx context.Context, h uint64) (DocSet, error)
	// DocumentsForSketch maps every document sharing at least one hash with
	// sk to its full stored sketch. Potentially slow.
	DocumentsForSketch(ctx context.Context, sk shingle.Sketch) (map[int]shingle.Sketch, error)
	SketchForDocument(ctx context.Context, id int) (shingle.Sketch, error)
	NumberOfDocuments(ctx context.Context) (int, error)
	AddDocumentSimilarity(ctx context.Context, masterID, similarID int) error
	SimilarDocuments(ctx context.Context, id int) (DocSet, error)
	AllSimilarDocuments(ctx context.Context) (map[int]DocSet, error)
	Save(ctx context.Context) error
	Delete(ctx context.Context) error
	// SetName changes the namespace. It fails once the index is open.
	SetName(name string) error
	Name() string
}

// Pinger is implemented by backends that can cheaply check that their
// store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Closer is implemented by backends holding resources that must be released
// without deleting data.
type Closer interface {
	Close() error
}

// DocSet is a set of document ids.
type DocSet map[int]struct{}

func NewDocSet(ids ...int) DocSet {
	s := make(DocSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s DocSet) Add(id int) { s[id] = struct{}{} }

func (s DocSet) Contains(id int) bool {
	_, ok := s[id]
	return ok
}

func (s DocSet) Len() int { return len(s) }

// Sorted returns the ids in ascending order.
func (s DocSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateName checks that name can be used as a namespace by every
// backend: as a file name, a table prefix and a key prefix.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return apperrors.Newf(apperrors.ErrInvalidInput, "set index name",
			"name %q must match %s", name, namePattern.String())
	}
	return nil
}

// ValidateSimilarity rejects self edges.
func ValidateSimilarity(masterID, similarID int) error {
	if masterID == similarID {
		return apperrors.Newf(apperrors.ErrInvalidInput, "add document similarity",
			"document %d cannot be similar to itself", masterID)
	}
	return nil
}

// Package sqlindex stores a shingles index in three relational tables per
// index name:
//
//	<name>_documents     (doc_id)                 one row per stored document
//	<name>_hashes        (hash, doc_id)           one row per sketch hash
//	<name>_similarities  (master_id, similar_id)  one row per edge
//
// Hashes are unsigned 64-bit values stored as BIGINT through a two's
// complement reinterpretation, so the full range round-trips. The same
// queries run on SQLite (modernc.org/sqlite) and PostgreSQL (lib/pq).
package sqlindex

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/shingles/internal/index"
	"github.com/Adithya-Monish-Kumar-K/shingles/internal/shingle"
	apperrors "github.com/Adithya-Monish-Kumar-K/shingles/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/logger"
)

// maxHashesPerQuery bounds the IN list of DocumentsForSketch.
const maxHashesPerQuery = 500

type tables struct {
	documents    string
	hashes       string
	similarities string
	hashIndex    string
}

func tablesFor(name string) tables {
	return tables{
		documents:    quoteIdent(name + "_documents"),
		hashes:       quoteIdent(name + "_hashes"),
		similarities: quoteIdent(name + "_similarities"),
		hashIndex:    quoteIdent(name + "_hashes_doc_idx"),
	}
}

// Index is a relational index.Index over a database/sql pool.
type Index struct {
	db      *sql.DB
	dialect Dialect
	closeDB bool
	logger  *slog.Logger

	mu   sync.RWMutex
	name string
	open bool
	t    tables
}

// New creates an index over db. The caller keeps ownership of db.
func New(db *sql.DB, dialect Dialect, name string) *Index {
	return &Index{
		db:      db,
		dialect: dialect,
		name:    name,
		logger:  logger.WithComponent("sql-index").With("dialect", dialect.Name),
	}
}

func (s *Index) q(query string) string {
	return s.dialect.Rebind(query)
}

// state returns the table names when the index is open.
func (s *Index) state(op string) (tables, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.open {
		return tables{}, apperrors.Newf(apperrors.ErrIndexNotOpen, op, "index %q", s.name)
	}
	return s.t, nil
}

// Open creates the tables of the index if they do not exist yet.
func (s *Index) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return apperrors.Newf(apperrors.ErrIndexOpen, "open index", "index %q", s.name)
	}
	if err := index.ValidateName(s.name); err != nil {
		return err
	}
	t := tablesFor(s.name)
	schema := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			doc_id BIGINT PRIMARY KEY
		)`, t.documents),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			hash BIGINT NOT NULL,
			doc_id BIGINT NOT NULL,
			PRIMARY KEY (hash, doc_id)
		)`, t.hashes),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (doc_id)`, t.hashIndex, t.hashes),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			master_id BIGINT NOT NULL,
			similar_id BIGINT NOT NULL,
			PRIMARY KEY (master_id, similar_id)
		)`, t.similarities),
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema for index %q: %w", s.name, err)
		}
	}
	s.t = t
	s.open = true
	s.logger.Info("index opened", "index", s.name)
	return nil
}

func (s *Index) AddDocument(ctx context.Context, id int, sk shingle.Sketch) error {
	t, err := s.state("add document")
	if err != nil {
		return err
	}
	return inTx(ctx, s.db, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			s.q(fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE doc_id = ?`, t.documents)), id,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("checking document %d: %w", id, err)
		}
		if exists > 0 {
			return apperrors.Newf(apperrors.ErrDocumentExists, "add document", "document %d", id)
		}
		if _, err := tx.ExecContext(ctx,
			s.q(fmt.Sprintf(`INSERT INTO %s (doc_id) VALUES (?)`, t.documents)), id,
		); err != nil {
			return fmt.Errorf("inserting document %d: %w", id, err)
		}
		if len(sk) == 0 {
			return nil
		}
		stmt, err := tx.PrepareContext(ctx,
			s.q(fmt.Sprintf(`INSERT INTO %s (hash, doc_id) VALUES (?, ?)`, t.hashes)))
		if err != nil {
			return fmt.Errorf("preparing hash insert: %w", err)
		}
		defer stmt.Close()
		for h := range sk {
			if _, err := stmt.ExecContext(ctx, int64(h), id); err != nil {
				return fmt.Errorf("inserting hash of document %d: %w", id, err)
			}
		}
		return nil
	})
}

func (s *Index) DocumentsForHash(ctx context.Context, h uint64) (index.DocSet, error) {
	t, err := s.state("documents for hash")
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		s.q(fmt.Sprintf(`SELECT doc_id FROM %s WHERE hash = ?`, t.hashes)), int64(h))
	if err != nil {
		return nil, fmt.Errorf("querying documents for hash: %w", err)
	}
	return scanDocSet(rows)
}

func (s *Index) DocumentsForSketch(ctx context.Context, sk shingle.Sketch) (map[int]shingle.Sketch, error) {
	t, err := s.state("documents for sketch")
	if err != nil {
		return nil, err
	}
	result := make(map[int]shingle.Sketch)
	hashes := sk.Sorted()
	for start := 0; start < len(hashes); start += maxHashesPerQuery {
		end := min(start+maxHashesPerQuery, len(hashes))
		args := make([]any, 0, end-start)
		for _, h := range hashes[start:end] {
			args = append(args, int64(h))
		}
		query := fmt.Sprintf(
			`SELECT doc_id, hash FROM %s WHERE doc_id IN (SELECT doc_id FROM %s WHERE hash IN (%s))`,
			t.hashes, t.hashes, placeholders(len(args)))
		rows, err := s.db.QueryContext(ctx, s.q(query), args...)
		if err != nil {
			return nil, fmt.Errorf("querying documents for sketch: %w", err)
		}
		if err := scanSketches(rows, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Index) SketchForDocument(ctx context.Context, id int) (shingle.Sketch, error) {
	t, err := s.state("sketch for document")
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		s.q(fmt.Sprintf(`SELECT hash FROM %s WHERE doc_id = ?`, t.hashes)), id)
	if err != nil {
		return nil, fmt.Errorf("querying sketch of document %d: %w", id, err)
	}
	defer rows.Close()
	sk := shingle.NewSketch()
	for rows.Next() {
		var h int64
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scanning hash: %w", err)
		}
		sk.Add(uint64(h))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating hashes: %w", err)
	}
	return sk, nil
}

func (s *Index) NumberOfDocuments(ctx context.Context) (int, error) {
	t, err := s.state("number of documents")
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s`, t.documents)).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

func (s *Index) AddDocumentSimilarity(ctx context.Context, masterID, similarID int) error {
	if err := index.ValidateSimilarity(masterID, similarID); err != nil {
		return err
	}
	t, err := s.state("add document similarity")
	if err != nil {
		return err
	}
	return inTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, id := range []int{masterID, similarID} {
			var n int
			err := tx.QueryRowContext(ctx,
				s.q(fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE doc_id = ?`, t.documents)), id,
			).Scan(&n)
			if err != nil {
				return fmt.Errorf("checking document %d: %w", id, err)
			}
			if n == 0 {
				return apperrors.Newf(apperrors.ErrDocumentNotFound, "add document similarity", "document %d", id)
			}
		}
		_, err := tx.ExecContext(ctx, s.q(fmt.Sprintf(
			`INSERT INTO %s (master_id, similar_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
			t.similarities)), masterID, similarID)
		if err != nil {
			return fmt.Errorf("inserting similarity %d -> %d: %w", masterID, similarID, err)
		}
		return nil
	})
}

func (s *Index) SimilarDocuments(ctx context.Context, id int) (index.DocSet, error) {
	t, err := s.state("similar documents")
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		s.q(fmt.Sprintf(`SELECT similar_id FROM %s WHERE master_id = ?`, t.similarities)), id)
	if err != nil {
		return nil, fmt.Errorf("querying similar documents of %d: %w", id, err)
	}
	return scanDocSet(rows)
}

func (s *Index) AllSimilarDocuments(ctx context.Context) (map[int]index.DocSet, error) {
	t, err := s.state("all similar documents")
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT master_id, similar_id FROM %s`, t.similarities))
	if err != nil {
		return nil, fmt.Errorf("querying similarities: %w", err)
	}
	defer rows.Close()
	result := make(map[int]index.DocSet)
	for rows.Next() {
		var master, similar int
		if err := rows.Scan(&master, &similar); err != nil {
			return nil, fmt.Errorf("scanning similarity: %w", err)
		}
		if _, ok := result[master]; !ok {
			result[master] = index.NewDocSet()
		}
		result[master].Add(similar)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating similarities: %w", err)
	}
	return result, nil
}

// Save runs the dialect's flush statements. Every addition is already
// committed in its own transaction.
func (s *Index) Save(ctx context.Context) error {
	if _, err := s.state("save index"); err != nil {
		return err
	}
	for _, stmt := range s.dialect.saveStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("saving index %q: %w", s.Name(), err)
		}
	}
	return nil
}

// Delete empties all three tables. The tables and the open handle remain.
func (s *Index) Delete(ctx context.Context) error {
	t, err := s.state("delete index")
	if err != nil {
		return err
	}
	err = inTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, table := range []string{t.similarities, t.hashes, t.documents} {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, table)); err != nil {
				return fmt.Errorf("clearing %s: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("index deleted", "index", s.Name())
	return nil
}

func (s *Index) SetName(name string) error {
	if err := index.ValidateName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return apperrors.Newf(apperrors.ErrIndexOpen, "set index name", "index %q", s.name)
	}
	s.name = name
	return nil
}

func (s *Index) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *Index) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close marks the index closed. The pool is closed too when the index
// opened it itself.
func (s *Index) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	if s.closeDB {
		return s.db.Close()
	}
	return nil
}

func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func scanDocSet(rows *sql.Rows) (index.DocSet, error) {
	defer rows.Close()
	docs := index.NewDocSet()
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning document id: %w", err)
		}
		docs.Add(id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating document ids: %w", err)
	}
	return docs, nil
}

func scanSketches(rows *sql.Rows, into map[int]shingle.Sketch) error {
	defer rows.Close()
	for rows.Next() {
		var (
			id int
			h  int64
		)
		if err := rows.Scan(&id, &h); err != nil {
			return fmt.Errorf("scanning document hash: %w", err)
		}
		sk, ok := into[id]
		if !ok {
			sk = shingle.NewSketch()
			into[id] = sk
		}
		sk.Add(uint64(h))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating document hashes: %w", err)
	}
	return nil
}

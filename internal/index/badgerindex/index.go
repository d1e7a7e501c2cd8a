// Package badgerindex stores a shingles index in an embedded BadgerDB, one
// database directory per index name.
package badgerindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/shingles/internal/index"
	"github.com/Adithya-Monish-Kumar-K/shingles/internal/shingle"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/shingles/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/logger"
	"github.com/dgraph-io/badger/v4"
)

// slogAdapter adapts slog.Logger to badger.Logger.
type slogAdapter struct {
	logger *slog.Logger
}

func (l *slogAdapter) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *slogAdapter) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *slogAdapter) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *slogAdapter) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Index is a BadgerDB backed index.Index. The database is opened by Open
// and released by Close.
type Index struct {
	dataDir string
	cfg     config.BadgerConfig
	logger  *slog.Logger

	mu   sync.RWMutex
	name string
	db   *badger.DB
}

// New creates an index whose database lives in <dataDir>/<name>. With
// cfg.InMemory nothing touches the disk and data is lost on Close.
func New(dataDir, name string, cfg config.BadgerConfig) *Index {
	return &Index{
		dataDir: dataDir,
		cfg:     cfg,
		name:    name,
		logger:  logger.WithComponent("badger-index"),
	}
}

// Dir is the database directory of the index under its current name.
func (b *Index) Dir() string {
	return filepath.Join(b.dataDir, b.Name())
}

func (b *Index) handle(op string) (*badger.DB, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return nil, apperrors.Newf(apperrors.ErrIndexNotOpen, op, "index %q", b.name)
	}
	return b.db, nil
}

func (b *Index) Open(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db != nil {
		return apperrors.Newf(apperrors.ErrIndexOpen, "open index", "index %q", b.name)
	}
	if err := index.ValidateName(b.name); err != nil {
		return err
	}

	var opts badger.Options
	if b.cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		dir := filepath.Join(b.dataDir, b.name)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("creating badger directory %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.
		WithSyncWrites(b.cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&slogAdapter{logger: b.logger.With("index", b.name)})

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("opening badger database for index %q: %w", b.name, err)
	}
	b.db = db
	b.logger.Info("index opened", "index", b.name, "in_memory", b.cfg.InMemory)
	return nil
}

func (b *Index) AddDocument(_ context.Context, id int, sk shingle.Sketch) error {
	db, err := b.handle("add document")
	if err != nil {
		return err
	}
	return db.Update(func(txn *badger.Txn) error {
		key := documentKey(id)
		_, err := txn.Get(key)
		if err == nil {
			return apperrors.Newf(apperrors.ErrDocumentExists, "add document", "document %d", id)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("checking document %d: %w", id, err)
		}
		if err := txn.Set(key, encodeSketch(sk)); err != nil {
			return fmt.Errorf("writing document %d: %w", id, err)
		}
		for h := range sk {
			if err := txn.Set(hashKey(h, id), []byte{}); err != nil {
				return fmt.Errorf("writing hash of document %d: %w", id, err)
			}
		}
		return nil
	})
}

// scanIDs collects the trailing id of every key under prefix.
func scanIDs(txn *badger.Txn, prefix []byte, into index.DocSet) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		into.Add(idAt(it.Item().Key(), len(prefix)))
	}
}

func (b *Index) DocumentsForHash(_ context.Context, h uint64) (index.DocSet, error) {
	db, err := b.handle("documents for hash")
	if err != nil {
		return nil, err
	}
	docs := index.NewDocSet()
	err = db.View(func(txn *badger.Txn) error {
		scanIDs(txn, hashPrefix(h), docs)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading documents for hash: %w", err)
	}
	return docs, nil
}

func (b *Index) DocumentsForSketch(_ context.Context, sk shingle.Sketch) (map[int]shingle.Sketch, error) {
	db, err := b.handle("documents for sketch")
	if err != nil {
		return nil, err
	}
	result := make(map[int]shingle.Sketch)
	err = db.View(func(txn *badger.Txn) error {
		ids := index.NewDocSet()
		for h := range sk {
			scanIDs(txn, hashPrefix(h), ids)
		}
		for id := range ids {
			stored, err := readSketch(txn, id)
			if err != nil {
				return err
			}
			result[id] = stored
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading documents for sketch: %w", err)
	}
	return result, nil
}

func readSketch(txn *badger.Txn, id int) (shingle.Sketch, error) {
	item, err := txn.Get(documentKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return shingle.NewSketch(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading document %d: %w", id, err)
	}
	var sk shingle.Sketch
	err = item.Value(func(val []byte) error {
		sk, err = decodeSketch(val)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("decoding document %d: %w", id, err)
	}
	return sk, nil
}

func (b *Index) SketchForDocument(_ context.Context, id int) (shingle.Sketch, error) {
	db, err := b.handle("sketch for document")
	if err != nil {
		return nil, err
	}
	var sk shingle.Sketch
	err = db.View(func(txn *badger.Txn) error {
		sk, err = readSketch(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sk, nil
}

func (b *Index) NumberOfDocuments(_ context.Context) (int, error) {
	db, err := b.handle("number of documents")
	if err != nil {
		return 0, err
	}
	docs := index.NewDocSet()
	err = db.View(func(txn *badger.Txn) error {
		scanIDs(txn, []byte{prefixDocument}, docs)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return docs.Len(), nil
}

func (b *Index) AddDocumentSimilarity(_ context.Context, masterID, similarID int) error {
	if err := index.ValidateSimilarity(masterID, similarID); err != nil {
		return err
	}
	db, err := b.handle("add document similarity")
	if err != nil {
		return err
	}
	return db.Update(func(txn *badger.Txn) error {
		for _, id := range []int{masterID, similarID} {
			_, err := txn.Get(documentKey(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return apperrors.Newf(apperrors.ErrDocumentNotFound, "add document similarity", "document %d", id)
			}
			if err != nil {
				return fmt.Errorf("checking document %d: %w", id, err)
			}
		}
		if err := txn.Set(similarityKey(masterID, similarID), []byte{}); err != nil {
			return fmt.Errorf("writing similarity %d -> %d: %w", masterID, similarID, err)
		}
		return nil
	})
}

func (b *Index) SimilarDocuments(_ context.Context, id int) (index.DocSet, error) {
	db, err := b.handle("similar documents")
	if err != nil {
		return nil, err
	}
	docs := index.NewDocSet()
	err = db.View(func(txn *badger.Txn) error {
		scanIDs(txn, similarityPrefix(id), docs)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading similar documents of %d: %w", id, err)
	}
	return docs, nil
}

func (b *Index) AllSimilarDocuments(_ context.Context) (map[int]index.DocSet, error) {
	db, err := b.handle("all similar documents")
	if err != nil {
		return nil, err
	}
	result := make(map[int]index.DocSet)
	err = db.View(func(txn *badger.Txn) error {
		prefix := []byte{prefixSimilarity}
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			master := idAt(key, 1)
			if _, ok := result[master]; !ok {
				result[master] = index.NewDocSet()
			}
			result[master].Add(idAt(key, 9))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading similarities: %w", err)
	}
	return result, nil
}

// Save flushes the value log to disk.
func (b *Index) Save(_ context.Context) error {
	db, err := b.handle("save index")
	if err != nil {
		return err
	}
	if b.cfg.InMemory {
		return nil
	}
	if err := db.Sync(); err != nil {
		return fmt.Errorf("syncing index %q: %w", b.Name(), err)
	}
	return nil
}

// Delete drops every key. The database stays open.
func (b *Index) Delete(_ context.Context) error {
	db, err := b.handle("delete index")
	if err != nil {
		return err
	}
	if err := db.DropAll(); err != nil {
		return fmt.Errorf("dropping index %q: %w", b.Name(), err)
	}
	b.logger.Info("index deleted", "index", b.Name())
	return nil
}

func (b *Index) SetName(name string) error {
	if err := index.ValidateName(name); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db != nil {
		return apperrors.Newf(apperrors.ErrIndexOpen, "set index name", "index %q", b.name)
	}
	b.name = name
	return nil
}

func (b *Index) Name() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.name
}

func (b *Index) Ping(_ context.Context) error {
	db, err := b.handle("ping")
	if err != nil {
		return err
	}
	if db.IsClosed() {
		return fmt.Errorf("badger database of index %q is closed", b.Name())
	}
	return nil
}

// Close releases the database. Data on disk is kept.
func (b *Index) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

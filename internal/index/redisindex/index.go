// Package redisindex stores a shingles index in Redis sets:
//
//	<prefix>:<name>:docs        ids of all stored documents
//	<prefix>:<name>:doc:<id>    hashes of one document's sketch
//	<prefix>:<name>:hash:<h>    ids of the documents containing h
//	<prefix>:<name>:sim:<id>    ids recorded as similar to master id
//	<prefix>:<name>:masters     ids having at least one similar document
//
// Hashes are written as unsigned decimal strings.
package redisindex

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/shingles/internal/index"
	"github.com/Adithya-Monish-Kumar-K/shingles/internal/shingle"
	apperrors "github.com/Adithya-Monish-Kumar-K/shingles/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
)

// watchAttempts bounds retries of an optimistic transaction that lost its
// watch to a concurrent writer.
const watchAttempts = 5

type keys struct {
	base string
}

func (k keys) docs() string              { return k.base + ":docs" }
func (k keys) doc(id int) string         { return k.base + ":doc:" + strconv.Itoa(id) }
func (k keys) hash(h uint64) string      { return k.base + ":hash:" + strconv.FormatUint(h, 10) }
func (k keys) similar(master int) string { return k.base + ":sim:" + strconv.Itoa(master) }
func (k keys) masters() string           { return k.base + ":masters" }
func (k keys) pattern() string           { return k.base + ":*" }

// Index is a Redis backed index.Index. The client is shared and not closed
// by the index.
type Index struct {
	client *redis.Client
	prefix string
	logger *slog.Logger

	mu   sync.RWMutex
	name string
	open bool
	k    keys
}

func New(client *redis.Client, prefix, name string) *Index {
	return &Index{
		client: client,
		prefix: prefix,
		name:   name,
		logger: logger.WithComponent("redis-index"),
	}
}

func (r *Index) state(op string) (keys, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.open {
		return keys{}, apperrors.Newf(apperrors.ErrIndexNotOpen, op, "index %q", r.name)
	}
	return r.k, nil
}

func (r *Index) Open(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open {
		return apperrors.Newf(apperrors.ErrIndexOpen, "open index", "index %q", r.name)
	}
	if err := index.ValidateName(r.name); err != nil {
		return err
	}
	if err := r.client.Ping(ctx); err != nil {
		return fmt.Errorf("opening index %q: %w", r.name, err)
	}
	r.k = keys{base: r.prefix + ":" + r.name}
	r.open = true
	r.logger.Info("index opened", "index", r.name, "prefix", r.prefix)
	return nil
}

// watch retries fn while the optimistic transaction keeps losing its watch.
func (r *Index) watch(ctx context.Context, fn func(tx *goredis.Tx) error, watched ...string) error {
	var err error
	for range watchAttempts {
		err = r.client.Watch(ctx, fn, watched...)
		if !redis.IsTxFailed(err) {
			return err
		}
	}
	return fmt.Errorf("transaction kept conflicting after %d attempts: %w", watchAttempts, err)
}

func (r *Index) AddDocument(ctx context.Context, id int, sk shingle.Sketch) error {
	k, err := r.state("add document")
	if err != nil {
		return err
	}
	return r.watch(ctx, func(tx *goredis.Tx) error {
		exists, err := tx.SIsMember(ctx, k.docs(), id).Result()
		if err != nil {
			return fmt.Errorf("checking document %d: %w", id, err)
		}
		if exists {
			return apperrors.Newf(apperrors.ErrDocumentExists, "add document", "document %d", id)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.SAdd(ctx, k.docs(), id)
			if len(sk) == 0 {
				return nil
			}
			members := make([]any, 0, len(sk))
			for h := range sk {
				members = append(members, strconv.FormatUint(h, 10))
				pipe.SAdd(ctx, k.hash(h), id)
			}
			pipe.SAdd(ctx, k.doc(id), members...)
			return nil
		})
		if err != nil {
			return fmt.Errorf("writing document %d: %w", id, err)
		}
		return nil
	}, k.docs())
}

func (r *Index) DocumentsForHash(ctx context.Context, h uint64) (index.DocSet, error) {
	k, err := r.state("documents for hash")
	if err != nil {
		return nil, err
	}
	members, err := r.client.SMembers(ctx, k.hash(h))
	if err != nil {
		return nil, fmt.Errorf("reading documents for hash: %w", err)
	}
	return parseDocSet(members)
}

func (r *Index) DocumentsForSketch(ctx context.Context, sk shingle.Sketch) (map[int]shingle.Sketch, error) {
	k, err := r.state("documents for sketch")
	if err != nil {
		return nil, err
	}
	result := make(map[int]shingle.Sketch)
	if len(sk) == 0 {
		return result, nil
	}
	hashKeys := make([]string, 0, len(sk))
	for h := range sk {
		hashKeys = append(hashKeys, k.hash(h))
	}
	idLists, err := r.client.SMembersMany(ctx, hashKeys)
	if err != nil {
		return nil, fmt.Errorf("reading documents for sketch: %w", err)
	}
	ids := index.NewDocSet()
	for _, members := range idLists {
		docs, err := parseDocSet(members)
		if err != nil {
			return nil, err
		}
		for id := range docs {
			ids.Add(id)
		}
	}
	sorted := ids.Sorted()
	docKeys := make([]string, len(sorted))
	for i, id := range sorted {
		docKeys[i] = k.doc(id)
	}
	sketches, err := r.client.SMembersMany(ctx, docKeys)
	if err != nil {
		return nil, fmt.Errorf("reading sketches for sketch: %w", err)
	}
	for i, id := range sorted {
		stored, err := parseSketch(sketches[i])
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", id, err)
		}
		result[id] = stored
	}
	return result, nil
}

func (r *Index) SketchForDocument(ctx context.Context, id int) (shingle.Sketch, error) {
	k, err := r.state("sketch for document")
	if err != nil {
		return nil, err
	}
	members, err := r.client.SMembers(ctx, k.doc(id))
	if err != nil {
		return nil, fmt.Errorf("reading sketch of document %d: %w", id, err)
	}
	return parseSketch(members)
}

func (r *Index) NumberOfDocuments(ctx context.Context) (int, error) {
	k, err := r.state("number of documents")
	if err != nil {
		return 0, err
	}
	n, err := r.client.SCard(ctx, k.docs())
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return int(n), nil
}

func (r *Index) AddDocumentSimilarity(ctx context.Context, masterID, similarID int) error {
	if err := index.ValidateSimilarity(masterID, similarID); err != nil {
		return err
	}
	k, err := r.state("add document similarity")
	if err != nil {
		return err
	}
	return r.watch(ctx, func(tx *goredis.Tx) error {
		for _, id := range []int{masterID, similarID} {
			ok, err := tx.SIsMember(ctx, k.docs(), id).Result()
			if err != nil {
				return fmt.Errorf("checking document %d: %w", id, err)
			}
			if !ok {
				return apperrors.Newf(apperrors.ErrDocumentNotFound, "add document similarity", "document %d", id)
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.SAdd(ctx, k.similar(masterID), similarID)
			pipe.SAdd(ctx, k.masters(), masterID)
			return nil
		})
		if err != nil {
			return fmt.Errorf("writing similarity %d -> %d: %w", masterID, similarID, err)
		}
		return nil
	}, k.docs())
}

func (r *Index) SimilarDocuments(ctx context.Context, id int) (index.DocSet, error) {
	k, err := r.state("similar documents")
	if err != nil {
		return nil, err
	}
	members, err := r.client.SMembers(ctx, k.similar(id))
	if err != nil {
		return nil, fmt.Errorf("reading similar documents of %d: %w", id, err)
	}
	return parseDocSet(members)
}

func (r *Index) AllSimilarDocuments(ctx context.Context) (map[int]index.DocSet, error) {
	k, err := r.state("all similar documents")
	if err != nil {
		return nil, err
	}
	result := make(map[int]index.DocSet)
	members, err := r.client.SMembers(ctx, k.masters())
	if err != nil {
		return nil, fmt.Errorf("reading masters: %w", err)
	}
	masters, err := parseDocSet(members)
	if err != nil {
		return nil, err
	}
	sorted := masters.Sorted()
	simKeys := make([]string, len(sorted))
	for i, m := range sorted {
		simKeys[i] = k.similar(m)
	}
	lists, err := r.client.SMembersMany(ctx, simKeys)
	if err != nil {
		return nil, fmt.Errorf("reading similarities: %w", err)
	}
	for i, m := range sorted {
		docs, err := parseDocSet(lists[i])
		if err != nil {
			return nil, err
		}
		result[m] = docs
	}
	return result, nil
}

// Save only checks the index is open. Durability is the server's
// persistence configuration.
func (r *Index) Save(_ context.Context) error {
	_, err := r.state("save index")
	return err
}

// Delete removes every key of the index. The index stays open.
func (r *Index) Delete(ctx context.Context) error {
	k, err := r.state("delete index")
	if err != nil {
		return err
	}
	deleted, err := r.client.FlushByPattern(ctx, k.pattern())
	if err != nil {
		return fmt.Errorf("deleting index %q: %w", r.Name(), err)
	}
	r.logger.Info("index deleted", "index", r.Name(), "keys", deleted)
	return nil
}

func (r *Index) SetName(name string) error {
	if err := index.ValidateName(name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open {
		return apperrors.Newf(apperrors.ErrIndexOpen, "set index name", "index %q", r.name)
	}
	r.name = name
	return nil
}

func (r *Index) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.name
}

func (r *Index) Ping(ctx context.Context) error {
	return r.client.Ping(ctx)
}

// Close marks the index closed. The shared client stays usable.
func (r *Index) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = false
	return nil
}

func parseDocSet(members []string) (index.DocSet, error) {
	docs := make(index.DocSet, len(members))
	for _, m := range members {
		id, err := strconv.Atoi(m)
		if err != nil {
			return nil, fmt.Errorf("parsing document id %q: %w", m, err)
		}
		docs.Add(id)
	}
	return docs, nil
}

func parseSketch(members []string) (shingle.Sketch, error) {
	sk := make(shingle.Sketch, len(members))
	for _, m := range members {
		h, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing hash %q: %w", m, err)
		}
		sk.Add(h)
	}
	return sk, nil
}

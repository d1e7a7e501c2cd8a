package sqlindex_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/shingles/internal/index"
	"github.com/Adithya-Monish-Kumar-K/shingles/internal/index/indextest"
	"github.com/Adithya-Monish-Kumar-K/shingles/internal/index/sqlindex"
	"github.com/Adithya-Monish-Kumar-K/shingles/internal/shingle"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteFactory(path string) indextest.Factory {
	return func(t *testing.T, name string) index.Index {
		idx, err := sqlindex.NewSQLite(context.Background(), path, name)
		require.NoError(t, err)
		t.Cleanup(func() { idx.Close() })
		return idx
	}
}

func TestSQLite_Conformance(t *testing.T) {
	indextest.Run(t, sqliteFactory(filepath.Join(t.TempDir(), "conformance.db")))
}

func TestSQLite_Durable(t *testing.T) {
	indextest.RunDurable(t, sqliteFactory(filepath.Join(t.TempDir(), "durable.db")))
}

func TestSQLite_AdditionsCommittedWithoutSave(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nosave.db")

	first, err := sqlindex.NewSQLite(ctx, path, "nosave")
	require.NoError(t, err)
	require.NoError(t, first.Open(ctx))
	require.NoError(t, first.AddDocument(ctx, 1, shingle.NewSketch(1, 2)))
	require.NoError(t, first.Close())

	second, err := sqlindex.NewSQLite(ctx, path, "nosave")
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.Open(ctx))
	n, err := second.NumberOfDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLite_LargeSketchLookup(t *testing.T) {
	ctx := context.Background()
	idx, err := sqlindex.NewSQLite(ctx, filepath.Join(t.TempDir(), "large.db"), "large")
	require.NoError(t, err)
	defer idx.Close()
	require.NoError(t, idx.Open(ctx))

	// more hashes than fit in one IN list
	query := shingle.NewSketch()
	for h := uint64(1); h <= 1200; h++ {
		query.Add(h)
	}
	require.NoError(t, idx.AddDocument(ctx, 1, shingle.NewSketch(3, 5000)))
	require.NoError(t, idx.AddDocument(ctx, 2, shingle.NewSketch(1100, 6000)))
	require.NoError(t, idx.AddDocument(ctx, 3, shingle.NewSketch(7000)))

	got, err := idx.DocumentsForSketch(ctx, query)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []uint64{3, 5000}, got[1].Sorted())
	assert.Equal(t, []uint64{1100, 6000}, got[2].Sorted())
}

func TestPostgres_Conformance(t *testing.T) {
	indextest.Run(t, postgresFactory(t))
}

func TestPostgres_Durable(t *testing.T) {
	indextest.RunDurable(t, postgresFactory(t))
}

// postgresFactory shares one pool across the test. Tables of a name are
// dropped the first time the name is requested, so leftovers of previous
// runs do not leak in while reopening by name still sees saved data.
func postgresFactory(t *testing.T) indextest.Factory {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	client, err := postgres.NewFromDSN(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	seen := make(map[string]bool)
	return func(t *testing.T, name string) index.Index {
		if !seen[name] {
			seen[name] = true
			for _, suffix := range []string{"_documents", "_hashes", "_similarities"} {
				_, err := client.DB.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS "%s%s"`, name, suffix))
				require.NoError(t, err)
			}
		}
		return sqlindex.New(client.DB, sqlindex.Postgres, name)
	}
}

func TestDialect_Rebind(t *testing.T) {
	query := "SELECT a FROM t WHERE x = ? AND y IN (?, ?)"
	assert.Equal(t, query, sqlindex.SQLite.Rebind(query))
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y IN ($2, $3)", sqlindex.Postgres.Rebind(query))
}

package sqlindex

import (
	"strconv"
	"strings"
)

// Dialect captures the differences between the SQL engines the index runs
// on. Queries are written with ? placeholders and rebound per dialect.
type Dialect struct {
	Name string
	// positional rewrites ? into $1, $2, ...
	positional bool
	// statements run by Save, if any
	saveStatements []string
}

var (
	SQLite = Dialect{
		Name:           "sqlite",
		saveStatements: []string{"PRAGMA wal_checkpoint(TRUNCATE)"},
	}
	Postgres = Dialect{
		Name:       "postgres",
		positional: true,
	}
)

// Rebind rewrites the ? placeholders of query for d.
func (d Dialect) Rebind(query string) string {
	if !d.positional {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// placeholders returns n comma separated ? markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

package schema

import (
	"context"
	"sort"
	"strings"
	"time"
)

// Snapshot lists the tables visible to the configured credentials, in the
// order the database reported them, with each table's ordered columns.
type Snapshot struct {
	Tables  []string            `json:"tables"`
	Columns map[string][]string `json:"columns"`
}

// Row is one sample row keyed by column name.
type Row map[string]any

// Samples holds up to N example rows per table.
type Samples map[string][]Row

// Entry is an immutable cached snapshot. It is replaced wholesale on refresh.
type Entry struct {
	Snapshot  Snapshot  `json:"schema"`
	Samples   Samples   `json:"samples"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Fetcher reads a fresh schema snapshot and up to sampleLimit rows per table.
type Fetcher interface {
	FetchSnapshot(ctx context.Context, sampleLimit int) (Snapshot, Samples, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, sampleLimit int) (Snapshot, Samples, error)

func (f FetcherFunc) FetchSnapshot(ctx context.Context, sampleLimit int) (Snapshot, Samples, error) {
	return f(ctx, sampleLimit)
}

// TableNames returns the snapshot tables; tables only present in Columns are
// appended in sorted order.
func (s Snapshot) TableNames() []string {
	names := make([]string, 0, len(s.Columns))
	seen := make(map[string]bool, len(s.Columns))
	for _, table := range s.Tables {
		if seen[table] {
			continue
		}
		seen[table] = true
		names = append(names, table)
	}
	var extra []string
	for table := range s.Columns {
		if !seen[table] {
			extra = append(extra, table)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

// AllowedTables returns the lower-cased table names of the entry, the
// allow-list the SQL gate checks generated statements against.
func (e *Entry) AllowedTables() []string {
	if e == nil {
		return nil
	}
	tables := e.Snapshot.TableNames()
	out := make([]string, 0, len(tables))
	for _, table := range tables {
		out = append(out, strings.ToLower(table))
	}
	return out
}

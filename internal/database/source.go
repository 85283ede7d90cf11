package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/askdb/askdb/internal/schema"
)

// SyncFunc runs on the fetch connection before the catalog is read. The lake
// dialect uses it to refresh its parquet views.
type SyncFunc func(ctx context.Context, conn *sql.Conn) error

// Result is a fully materialized query result. Rows map column name to value;
// when two result columns share a name the later one wins.
type Result struct {
	Columns []string
	Rows    []map[string]any
}

// Source reads schema snapshots from and executes statements against one
// database. Every call checks out its own connection and returns it before
// returning.
type Source struct {
	db      *sql.DB
	dialect Dialect
	sync    SyncFunc
}

func NewSource(db *sql.DB, dialect Dialect) *Source {
	return &Source{db: db, dialect: dialect}
}

// WithSync returns a copy of the source that calls sync before each fetch.
func (s *Source) WithSync(sync SyncFunc) *Source {
	clone := *s
	clone.sync = sync
	return &clone
}

func (s *Source) Dialect() Dialect {
	return s.dialect
}

func (s *Source) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Source) FetchSnapshot(ctx context.Context, sampleLimit int) (schema.Snapshot, schema.Samples, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return schema.Snapshot{}, nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if s.sync != nil {
		if err := s.sync(ctx, conn); err != nil {
			return schema.Snapshot{}, nil, fmt.Errorf("sync %s sources: %w", s.dialect.Name, err)
		}
	}

	tables, err := listTables(ctx, conn, s.dialect.ListTablesSQL)
	if err != nil {
		return schema.Snapshot{}, nil, err
	}
	columns, err := listColumns(ctx, conn, s.dialect.ListColumnsSQL)
	if err != nil {
		return schema.Snapshot{}, nil, err
	}

	snapshot := schema.Snapshot{Tables: tables, Columns: make(map[string][]string, len(tables))}
	samples := make(schema.Samples, len(tables))
	for _, table := range tables {
		snapshot.Columns[table] = columns[table]
		if snapshot.Columns[table] == nil {
			snapshot.Columns[table] = []string{}
		}
		if sampleLimit <= 0 {
			samples[table] = []schema.Row{}
			continue
		}
		result, err := queryRows(ctx, conn, s.dialect.SampleSQL(table, sampleLimit))
		if err != nil {
			return schema.Snapshot{}, nil, fmt.Errorf("sample table %q: %w", table, err)
		}
		rows := make([]schema.Row, 0, len(result.Rows))
		for _, row := range result.Rows {
			rows = append(rows, schema.Row(row))
		}
		samples[table] = rows
	}
	return snapshot, samples, nil
}

// Execute runs a validated statement, inside a read-only transaction when the
// dialect supports one.
func (s *Source) Execute(ctx context.Context, sqlText string) (Result, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if !s.dialect.ReadOnlyTx {
		return queryRows(ctx, conn, sqlText)
	}

	tx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return Result{}, fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := queryRows(ctx, tx, sqlText)
	if err != nil {
		return Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("commit read-only transaction: %w", err)
	}
	return result, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listTables(ctx context.Context, q queryer, query string) ([]string, error) {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]string, 0)
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return tables, nil
}

func listColumns(ctx context.Context, q queryer, query string) (map[string][]string, error) {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns := map[string][]string{}
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns[table] = append(columns[table], column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return columns, nil
}

func queryRows(ctx context.Context, q queryer, sqlText string) (Result, error) {
	rows, err := q.QueryContext(ctx, sqlText)
	if err != nil {
		return Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Result{}, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, column := range columns {
			row[column] = normalizeValue(values[i])
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate rows: %w", err)
	}
	return Result{Columns: columns, Rows: resultRows}, nil
}

func normalizeValue(value any) any {
	if typed, ok := value.([]byte); ok {
		return string(typed)
	}
	return value
}

package database

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	DialectMySQL    = "mysql"
	DialectPostgres = "postgres"
	DialectDuckDB   = "duckdb"
	DialectLake     = "lake"
)

// Dialect holds the catalog queries and quoting rules of one database
// flavour.
type Dialect struct {
	Name       string
	DriverName string
	// ListTablesSQL returns one table name per row, in catalog order.
	ListTablesSQL string
	// ListColumnsSQL returns (table_name, column_name) rows ordered by table
	// and ordinal position.
	ListColumnsSQL string
	QuoteIdent     func(string) string
	// ReadOnlyTx wraps execution in a read-only transaction.
	ReadOnlyTx    bool
	AllowEmptyDSN bool
}

func (d Dialect) SampleSQL(table string, limit int) string {
	return "SELECT * FROM " + d.QuoteIdent(table) + " LIMIT " + strconv.Itoa(limit)
}

var dialects = map[string]Dialect{
	DialectMySQL: {
		Name:       DialectMySQL,
		DriverName: "mysql",
		ListTablesSQL: `SELECT table_name FROM information_schema.tables
WHERE table_schema = DATABASE() AND table_type IN ('BASE TABLE', 'VIEW')
ORDER BY table_name`,
		ListColumnsSQL: `SELECT table_name, column_name FROM information_schema.columns
WHERE table_schema = DATABASE()
ORDER BY table_name, ordinal_position`,
		QuoteIdent: quoteBacktick,
		ReadOnlyTx: true,
	},
	DialectPostgres: {
		Name:       DialectPostgres,
		DriverName: "pgx",
		ListTablesSQL: `SELECT table_name FROM information_schema.tables
WHERE table_schema = current_schema() AND table_type IN ('BASE TABLE', 'VIEW')
ORDER BY table_name`,
		ListColumnsSQL: `SELECT table_name, column_name FROM information_schema.columns
WHERE table_schema = current_schema()
ORDER BY table_name, ordinal_position`,
		QuoteIdent: quoteDouble,
		ReadOnlyTx: true,
	},
	DialectDuckDB: duckDBDialect(DialectDuckDB),
	DialectLake:   duckDBDialect(DialectLake),
}

func duckDBDialect(name string) Dialect {
	return Dialect{
		Name:       name,
		DriverName: "duckdb",
		ListTablesSQL: `SELECT table_name FROM information_schema.tables
WHERE table_schema = current_schema() AND table_type IN ('BASE TABLE', 'VIEW')
ORDER BY table_name`,
		ListColumnsSQL: `SELECT table_name, column_name FROM information_schema.columns
WHERE table_schema = current_schema()
ORDER BY table_name, ordinal_position`,
		QuoteIdent:    quoteDouble,
		AllowEmptyDSN: true,
	}
}

func LookupDialect(name string) (Dialect, error) {
	dialect, ok := dialects[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Dialect{}, fmt.Errorf("unsupported dialect %q", name)
	}
	return dialect, nil
}

func quoteBacktick(value string) string {
	return "`" + strings.ReplaceAll(value, "`", "``") + "`"
}

func quoteDouble(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

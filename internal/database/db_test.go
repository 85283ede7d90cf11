package database

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/askdb/askdb/internal/sqlgate"
)

func TestOpenRequiresDSN(t *testing.T) {
	for _, dialect := range []string{DialectMySQL, DialectPostgres} {
		if _, err := Open(context.Background(), DBConfig{Dialect: dialect}); err == nil {
			t.Fatalf("expected error for empty %s DSN", dialect)
		}
	}
}

func TestOpenRejectsUnknownDialect(t *testing.T) {
	if _, err := Open(context.Background(), DBConfig{Dialect: "oracle", DSN: "x"}); err == nil {
		t.Fatal("expected unsupported dialect error")
	}
}

func TestOpenDuckDBInMemory(t *testing.T) {
	db, err := Open(context.Background(), DBConfig{Dialect: DialectDuckDB})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.Exec(`CREATE TABLE farmers (id INTEGER, name VARCHAR)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO farmers VALUES (1, 'Ada'), (2, 'Grace')`); err != nil {
		t.Fatalf("insert: %v", err)
	}

	source := NewSource(db, mustDialect(t, DialectDuckDB))
	snapshot, samples, err := source.FetchSnapshot(context.Background(), 1)
	if err != nil {
		t.Fatalf("FetchSnapshot() error = %v", err)
	}
	if len(snapshot.Tables) != 1 || snapshot.Tables[0] != "farmers" {
		t.Fatalf("Tables = %#v", snapshot.Tables)
	}
	if len(samples["farmers"]) != 1 {
		t.Fatalf("samples = %#v", samples)
	}

	result, err := source.Execute(context.Background(), "SELECT COUNT(*) AS total FROM farmers")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Rows[0]["total"] != int64(2) {
		t.Fatalf("total = %#v", result.Rows[0]["total"])
	}
}

func TestNormalizeMySQLDSNEnablesParseTime(t *testing.T) {
	dsn, err := normalizeMySQLDSN("root:root@tcp(localhost:3306)/app")
	if err != nil {
		t.Fatalf("normalizeMySQLDSN() error = %v", err)
	}
	if !strings.Contains(dsn, "parseTime=true") {
		t.Fatalf("dsn = %q", dsn)
	}
	if _, err := normalizeMySQLDSN("not a dsn"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSampleSQLQuotesIdentifiers(t *testing.T) {
	if got := mustDialect(t, DialectMySQL).SampleSQL("odd`name", 3); got != "SELECT * FROM `odd``name` LIMIT 3" {
		t.Fatalf("mysql SampleSQL() = %q", got)
	}
	if got := mustDialect(t, DialectPostgres).SampleSQL(`odd"name`, 2); got != `SELECT * FROM "odd""name" LIMIT 2` {
		t.Fatalf("postgres SampleSQL() = %q", got)
	}
}

func TestDuckDBRejectsQuotedFileScans(t *testing.T) {
	ctx := context.Background()
	secretPath := filepath.Join(t.TempDir(), "secret.csv")
	if err := os.WriteFile(secretPath, []byte("user,password\nroot,hunter2\n"), 0o600); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	db, err := Open(ctx, DBConfig{Dialect: DialectDuckDB})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Exec(`CREATE TABLE farmers (id INTEGER, name VARCHAR)`); err != nil {
		t.Fatalf("create table: %v", err)
	}

	source := NewSource(db, mustDialect(t, DialectDuckDB))
	snapshot, _, err := source.FetchSnapshot(ctx, 0)
	if err != nil {
		t.Fatalf("FetchSnapshot() error = %v", err)
	}
	allowed := sqlgate.NewTableSet(snapshot.Tables...)

	statements := []string{
		"SELECT * FROM '" + secretPath + "'",
		"SELECT * FROM farmers JOIN '" + secretPath + "' s ON true",
	}
	for _, statement := range statements {
		if verdict := sqlgate.New(sqlgate.Options{}).Validate(statement, allowed); verdict.OK {
			t.Fatalf("gate accepted %q", statement)
		}
	}

	// The FROM/JOIN heuristic does not see comma joins, so the connection
	// itself has to refuse the file.
	comma := "SELECT * FROM farmers, '" + secretPath + "'"
	if result, err := source.Execute(ctx, comma); err == nil {
		t.Fatalf("Execute() read external file: %#v", result.Rows)
	}
	if _, err := source.Execute(ctx, "SELECT * FROM read_csv('"+secretPath+"')"); err == nil {
		t.Fatal("Execute() read external file through read_csv")
	}
}

func TestRestrictDuckDBDSN(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{dsn: "", want: "?enable_external_access=false"},
		{dsn: "/var/lib/askdb/app.duckdb", want: "/var/lib/askdb/app.duckdb?enable_external_access=false"},
		{dsn: "app.duckdb?threads=4", want: "app.duckdb?enable_external_access=false&threads=4"},
		{dsn: "app.duckdb?enable_external_access=true", want: "app.duckdb?enable_external_access=false"},
	}
	for _, tc := range tests {
		got, err := restrictDuckDBDSN(tc.dsn)
		if err != nil {
			t.Fatalf("restrictDuckDBDSN(%q) error = %v", tc.dsn, err)
		}
		if got != tc.want {
			t.Fatalf("restrictDuckDBDSN(%q) = %q, want %q", tc.dsn, got, tc.want)
		}
	}
}

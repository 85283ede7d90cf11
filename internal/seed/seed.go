// Package seed loads the bundled demo dataset into a MySQL, Postgres or
// DuckDB database so the question pipeline has something to answer against.
package seed

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const versionTable = "askdb_seed_versions"

var stepNamePattern = regexp.MustCompile(`^([0-9]+)_.+\.(up|down)\.sql$`)

// Runner applies numbered up/down scripts and records applied versions in
// askdb_seed_versions. Placeholder selects the bind syntax of the target
// driver ("?" or "$1").
type Runner struct {
	fsys        fs.FS
	placeholder func(n int) string
	now         func() time.Time
}

func NewRunner(dialect string) (*Runner, error) {
	return newRunner(embeddedFS, dialect)
}

func newRunner(fsys fs.FS, dialect string) (*Runner, error) {
	r := &Runner{fsys: fsys, now: time.Now}
	switch strings.ToLower(strings.TrimSpace(dialect)) {
	case "mysql", "duckdb":
		r.placeholder = func(int) string { return "?" }
	case "postgres":
		r.placeholder = func(n int) string { return "$" + strconv.Itoa(n) }
	default:
		return nil, fmt.Errorf("seed: unsupported dialect %q", dialect)
	}
	return r, nil
}

type step struct {
	Version int64
	UpSQL   string
	DownSQL string
}

// Up applies pending steps in version order. steps <= 0 applies all.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	items, err := loadSteps(r.fsys)
	if err != nil {
		return 0, err
	}
	if err := r.ensureVersionTable(ctx, db); err != nil {
		return 0, err
	}
	applied, err := r.appliedVersions(ctx, db, "ASC")
	if err != nil {
		return 0, err
	}

	appliedSet := make(map[int64]struct{}, len(applied))
	for _, version := range applied {
		appliedSet[version] = struct{}{}
	}

	runCount := 0
	for _, item := range items {
		if _, ok := appliedSet[item.Version]; ok {
			continue
		}
		if steps > 0 && runCount >= steps {
			break
		}
		if err := r.apply(ctx, db, item.Version, item.UpSQL, true); err != nil {
			return runCount, err
		}
		runCount++
	}
	return runCount, nil
}

// Down reverts the most recent applied steps. steps <= 0 reverts one.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	items, err := loadSteps(r.fsys)
	if err != nil {
		return 0, err
	}
	if err := r.ensureVersionTable(ctx, db); err != nil {
		return 0, err
	}
	applied, err := r.appliedVersions(ctx, db, "DESC")
	if err != nil {
		return 0, err
	}

	lookup := make(map[int64]step, len(items))
	for _, item := range items {
		lookup[item.Version] = item
	}

	runCount := 0
	for _, version := range applied {
		if runCount >= steps {
			break
		}
		item, ok := lookup[version]
		if !ok {
			return runCount, fmt.Errorf("applied seed step %d is missing from source", version)
		}
		if err := r.apply(ctx, db, item.Version, item.DownSQL, false); err != nil {
			return runCount, err
		}
		runCount++
	}
	return runCount, nil
}

func (r *Runner) ensureVersionTable(ctx context.Context, db *sql.DB) error {
	query := `CREATE TABLE IF NOT EXISTS ` + versionTable + ` (
	version BIGINT PRIMARY KEY,
	applied_at TIMESTAMP NOT NULL
)`
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure seed version table: %w", err)
	}
	return nil
}

// apply runs each statement of script in one transaction. MySQL commits DDL
// implicitly, so a failed step there can leave partial state behind.
func (r *Runner) apply(ctx context.Context, db *sql.DB, version int64, script string, up bool) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, statement := range splitStatements(script) {
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("seed step %d: %w", version, err)
		}
	}
	if up {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO `+versionTable+` (version, applied_at) VALUES (`+r.placeholder(1)+`, `+r.placeholder(2)+`)`,
			version, r.now().UTC())
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM `+versionTable+` WHERE version = `+r.placeholder(1), version)
	}
	if err != nil {
		return fmt.Errorf("record seed step %d: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed step %d: %w", version, err)
	}
	return nil
}

func (r *Runner) appliedVersions(ctx context.Context, db *sql.DB, order string) ([]int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM `+versionTable+` ORDER BY version `+order)
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []int64
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return versions, nil
}

// splitStatements breaks a script on lines ending in ";". Seed scripts keep
// one statement per terminator and never put ";" inside literals.
func splitStatements(script string) []string {
	var (
		statements []string
		current    strings.Builder
	)
	for _, line := range strings.Split(script, "\n") {
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(strings.TrimSpace(line), ";") {
			if statement := strings.TrimSuffix(strings.TrimSpace(current.String()), ";"); statement != "" {
				statements = append(statements, statement)
			}
			current.Reset()
		}
	}
	if tail := strings.TrimSpace(current.String()); tail != "" {
		statements = append(statements, tail)
	}
	return statements
}

func loadSteps(fsys fs.FS) ([]step, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read seed dir: %w", err)
	}

	items := map[int64]step{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		base := path.Base(entry.Name())
		matches := stepNamePattern.FindStringSubmatch(base)
		if len(matches) != 3 {
			continue
		}
		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse seed version for %q: %w", base, err)
		}

		script, err := fs.ReadFile(fsys, path.Join("sql", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read seed step %q: %w", entry.Name(), err)
		}

		item := items[version]
		item.Version = version
		if matches[2] == "up" {
			item.UpSQL = string(script)
		} else {
			item.DownSQL = string(script)
		}
		items[version] = item
	}

	versions := make([]int64, 0, len(items))
	for version := range items {
		versions = append(versions, version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })

	out := make([]step, 0, len(versions))
	for _, version := range versions {
		item := items[version]
		if strings.TrimSpace(item.UpSQL) == "" {
			return nil, fmt.Errorf("seed step %d missing up SQL", version)
		}
		if strings.TrimSpace(item.DownSQL) == "" {
			return nil, fmt.Errorf("seed step %d missing down SQL", version)
		}
		out = append(out, item)
	}
	return out, nil
}

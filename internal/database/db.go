package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
)

type DBConfig struct {
	Dialect         string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// Open opens and pings the target database for the configured dialect.
func Open(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	dialect, err := LookupDialect(cfg.Dialect)
	if err != nil {
		return nil, err
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" && !dialect.AllowEmptyDSN {
		return nil, fmt.Errorf("%s dsn is required", dialect.Name)
	}
	switch dialect.Name {
	case DialectMySQL:
		if dsn, err = normalizeMySQLDSN(dsn); err != nil {
			return nil, err
		}
	case DialectDuckDB:
		if dsn, err = restrictDuckDBDSN(dsn); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(dialect.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", dialect.Name, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", dialect.Name, err)
	}

	return db, nil
}

// normalizeMySQLDSN forces time columns to scan as time.Time so sample rows
// and results serialize as timestamps rather than raw bytes.
func normalizeMySQLDSN(dsn string) (string, error) {
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	parsed.ParseTime = true
	return parsed.FormatDSN(), nil
}

// restrictDuckDBDSN turns off DuckDB's file and network readers so a query
// can only reach tables inside the database. The lake dialect keeps them on
// because its views read the local parquet mirror.
func restrictDuckDBDSN(dsn string) (string, error) {
	path, rawQuery, _ := strings.Cut(dsn, "?")
	options, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", fmt.Errorf("parse duckdb dsn options: %w", err)
	}
	options.Set("enable_external_access", "false")
	return path + "?" + options.Encode(), nil
}

package lake

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/parquet-go/parquet-go"

	"github.com/askdb/askdb/internal/storage"
)

// Mirror copies parquet objects from an object store into a local directory
// and exposes each table as a DuckDB view over its files. The table is the
// first component of the object key.
type Mirror struct {
	store    storage.ObjectStore
	localDir string
	logger   *slog.Logger

	mu     sync.Mutex
	synced map[string]string // object key -> etag of the local copy
	views  map[string]bool
}

func NewMirror(store storage.ObjectStore, localDir string, logger *slog.Logger) (*Mirror, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	localDir = strings.TrimSpace(localDir)
	if localDir == "" {
		dir, err := os.MkdirTemp("", "askdb-lake-")
		if err != nil {
			return nil, fmt.Errorf("create lake temp dir: %w", err)
		}
		localDir = dir
	}
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lake dir %q: %w", localDir, err)
	}
	return &Mirror{
		store:    store,
		localDir: localDir,
		logger:   logger,
		synced:   map[string]string{},
		views:    map[string]bool{},
	}, nil
}

func (m *Mirror) LocalDir() string {
	return m.localDir
}

// Sync downloads new or changed objects, drops local copies of removed ones,
// and recreates the views on conn. Objects that are not readable parquet are
// skipped.
func (m *Mirror) Sync(ctx context.Context, conn *sql.Conn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	objects, err := m.store.List(ctx, "")
	if err != nil {
		return fmt.Errorf("list lake objects: %w", err)
	}

	listed := make(map[string]bool, len(objects))
	tableFiles := map[string][]string{}
	for _, object := range objects {
		table, ok := storage.TableFromKey(object.Key)
		if !ok {
			continue
		}
		key := cleanKey(object.Key)
		listed[key] = true
		localPath := m.localPath(key)
		if m.synced[key] != object.ETag || object.ETag == "" {
			if err := m.download(ctx, object, localPath); err != nil {
				m.logger.Warn("skipping lake object", slog.String("key", object.Key), slog.Any("error", err))
				delete(m.synced, key)
				_ = os.Remove(localPath)
				continue
			}
			m.synced[key] = object.ETag
		}
		tableFiles[table] = append(tableFiles[table], localPath)
	}

	for key := range m.synced {
		if !listed[key] {
			_ = os.Remove(m.localPath(key))
			delete(m.synced, key)
		}
	}

	tables := make([]string, 0, len(tableFiles))
	for table := range tableFiles {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	for _, table := range tables {
		files := tableFiles[table]
		sort.Strings(files)
		viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(table), quoteStringArray(files))
		if _, err := conn.ExecContext(ctx, viewSQL); err != nil {
			return fmt.Errorf("create view for table %q: %w", table, err)
		}
	}
	for table := range m.views {
		if _, ok := tableFiles[table]; ok {
			continue
		}
		if _, err := conn.ExecContext(ctx, fmt.Sprintf(`DROP VIEW IF EXISTS %s`, quoteIdent(table))); err != nil {
			return fmt.Errorf("drop view for table %q: %w", table, err)
		}
		delete(m.views, table)
	}
	for _, table := range tables {
		m.views[table] = true
	}

	m.logger.Debug("lake synced", slog.Int("tables", len(tables)), slog.Int("files", len(m.synced)))
	return nil
}

func (m *Mirror) download(ctx context.Context, object storage.ObjectInfo, localPath string) error {
	reader, err := m.store.Get(ctx, object.Key)
	if err != nil {
		return fmt.Errorf("get object: %w", err)
	}
	defer func() { _ = reader.Close() }()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create local dir: %w", err)
	}
	tmpPath := localPath + ".partial"
	if err := writeFile(tmpPath, reader); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write local file: %w", err)
	}
	rows, err := validateParquet(tmpPath)
	if err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("move local file: %w", err)
	}
	m.logger.Debug("lake object mirrored", slog.String("key", object.Key), slog.Int64("rows", rows))
	return nil
}

func validateParquet(localPath string) (int64, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("open local file: %w", err)
	}
	defer func() { _ = file.Close() }()

	stat, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat local file: %w", err)
	}
	parsed, err := parquet.OpenFile(file, stat.Size())
	if err != nil {
		return 0, fmt.Errorf("read parquet footer: %w", err)
	}
	return parsed.NumRows(), nil
}

func (m *Mirror) localPath(key string) string {
	return filepath.Join(m.localDir, filepath.FromSlash(key))
}

func cleanKey(key string) string {
	return strings.TrimPrefix(path.Clean("/"+key), "/")
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, `'`+strings.ReplaceAll(value, `'`, `''`)+`'`)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

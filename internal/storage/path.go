package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,127}$`)

// TableFromKey maps a lake object key to its table. The table is the first
// path component; only parquet objects below it belong to the table:
//
//	farmers/part-0001.parquet         -> farmers
//	farmers/year=2025/part.parquet    -> farmers
func TableFromKey(key string) (string, bool) {
	key = strings.TrimPrefix(path.Clean("/"+key), "/")
	if !strings.EqualFold(path.Ext(key), ".parquet") {
		return "", false
	}
	table, rest, found := strings.Cut(key, "/")
	if !found || rest == "" {
		return "", false
	}
	if ValidateTableName(table) != nil {
		return "", false
	}
	return table, true
}

func ValidateTableName(value string) error {
	if !tableNamePattern.MatchString(value) {
		return fmt.Errorf("invalid table name: %q", value)
	}
	return nil
}

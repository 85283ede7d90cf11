package nl2sql

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/schema"
)

var dialectLabels = map[string]string{
	"mysql":    "MySQL",
	"postgres": "PostgreSQL",
	"duckdb":   "DuckDB",
	"lake":     "DuckDB",
}

// DialectLabel returns the SQL flavour named in the prompt.
func DialectLabel(dialect string) string {
	if label, ok := dialectLabels[strings.ToLower(strings.TrimSpace(dialect))]; ok {
		return label
	}
	return "MySQL"
}

// TablesFromEntry renders a cached schema entry as generator context, in the
// snapshot's table order.
func TablesFromEntry(entry *schema.Entry) []TableContext {
	if entry == nil {
		return nil
	}
	tables := entry.Snapshot.TableNames()
	out := make([]TableContext, 0, len(tables))
	for _, table := range tables {
		tc := TableContext{
			TableName: table,
			Columns:   entry.Snapshot.Columns[table],
		}
		for _, row := range entry.Samples[table] {
			tc.SampleRows = append(tc.SampleRows, map[string]any(row))
		}
		out = append(out, tc)
	}
	return out
}

// BuildPrompt assembles the single prompt sent to a generator.
func BuildPrompt(req Request) string {
	label := DialectLabel(req.Dialect)
	var b strings.Builder
	fmt.Fprintf(&b, "You are a strict %s SQL assistant. Use ONLY the schema and sample rows provided below.\n\n", label)
	b.WriteString(SchemaText(req.Tables))
	b.WriteString("\nRULES:\n")
	fmt.Fprintf(&b, "- Return ONLY one valid %s SELECT statement and nothing else (no explanation, no code fences).\n", label)
	fmt.Fprintf(&b, "- If the question cannot be answered using ONLY this schema, reply exactly: %s\n", OutOfScopeSentinel)
	b.WriteString("- DO NOT output INSERT/UPDATE/DELETE/DROP/ALTER/CREATE/TRUNCATE/GRANT/REVOKE/SHOW/DESCRIBE/USE/WITH.\n")
	b.WriteString("- For non-aggregate queries include LIMIT 100 if not present.\n")
	b.WriteString("- Use column names exactly as provided.\n\n")
	b.WriteString("User question:\n")
	b.WriteString(strings.TrimSpace(req.Question))
	return b.String()
}

// SchemaText lists each table with its columns followed by numbered sample
// rows.
func SchemaText(tables []TableContext) string {
	var b strings.Builder
	for _, table := range tables {
		fmt.Fprintf(&b, "TABLE %s (%s)\n", table.TableName, strings.Join(table.Columns, ", "))
		if len(table.SampleRows) > 0 {
			fmt.Fprintf(&b, "SAMPLE_ROWS %s:\n", table.TableName)
			for i, row := range table.SampleRows {
				fmt.Fprintf(&b, "  %d. %s\n", i+1, rowText(table.Columns, row))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func rowText(columns []string, row map[string]any) string {
	keys := make([]string, 0, len(row))
	seen := make(map[string]bool, len(row))
	for _, column := range columns {
		if _, ok := row[column]; ok {
			keys = append(keys, column)
			seen[column] = true
		}
	}
	var extra []string
	for key := range row {
		if !seen[key] {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	keys = append(keys, extra...)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+formatValue(row[key]))
	}
	return strings.Join(parts, ", ")
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}

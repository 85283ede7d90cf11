package nl2sql

import (
	"context"
	"strings"
)

// OutOfScopeSentinel is the exact reply a generator gives when the question
// cannot be answered from the provided schema.
const OutOfScopeSentinel = "OUT_OF_SCOPE"

type TableContext struct {
	TableName  string           `json:"table_name"`
	Columns    []string         `json:"columns"`
	SampleRows []map[string]any `json:"sample_rows"`
}

type Request struct {
	Question string         `json:"question"`
	Dialect  string         `json:"dialect"`
	Tables   []TableContext `json:"tables"`
}

// Result carries the generator's raw text. It is not sanitized.
type Result struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

// IsOutOfScope reports whether text is the out-of-scope sentinel. Surrounding
// whitespace is ignored; case is not.
func IsOutOfScope(text string) bool {
	return strings.TrimSpace(text) == OutOfScopeSentinel
}

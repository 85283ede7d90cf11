package sqlgate

import (
	"regexp"
	"strconv"
	"strings"
)

const DefaultRowLimit = 100

var (
	aggregateCallPattern = regexp.MustCompile(`(?i)\b(count|sum|avg|min|max)\s*\(`)
	limitClausePattern   = regexp.MustCompile(`(?i)\blimit\s+\d+`)
)

// EnforceLimit caps a validated statement at DefaultRowLimit rows.
func EnforceLimit(sqlText string) string {
	return EnforceLimitN(sqlText, DefaultRowLimit)
}

// EnforceLimitN appends "LIMIT n" unless the statement already carries a
// LIMIT clause or calls an aggregate function. A single trailing terminator
// is dropped before the clause is appended.
func EnforceLimitN(sqlText string, n int) string {
	if n <= 0 {
		n = DefaultRowLimit
	}
	if IsAggregate(sqlText) || HasLimit(sqlText) {
		return sqlText
	}
	trimmed := strings.TrimSpace(sqlText)
	trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	return trimmed + " LIMIT " + strconv.Itoa(n)
}

func IsAggregate(sqlText string) bool {
	return aggregateCallPattern.MatchString(sqlText)
}

func HasLimit(sqlText string) bool {
	return limitClausePattern.MatchString(sqlText)
}

package sqlgate

import (
	"fmt"
	"regexp"
	"strings"
)

type Rule string

const (
	RuleEmpty              Rule = "empty"
	RuleMultipleStatements Rule = "multiple_statements"
	RuleNotSelect          Rule = "not_select"
	RuleForbiddenKeyword   Rule = "forbidden_keyword"
	RuleDisallowedTable    Rule = "disallowed_table"
	RuleParse              Rule = "parse"
)

// Result is the outcome of one validation call.
type Result struct {
	OK        bool
	Reason    string
	Rule      Rule
	Offending []string
}

func accept() Result {
	return Result{OK: true}
}

func reject(rule Rule, reason string, offending ...string) Result {
	return Result{Reason: reason, Rule: rule, Offending: offending}
}

// TableSet is an allow-list of lower-cased table names.
type TableSet map[string]struct{}

func NewTableSet(names ...string) TableSet {
	set := make(TableSet, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		set[name] = struct{}{}
	}
	return set
}

func (s TableSet) Contains(name string) bool {
	_, ok := s[strings.ToLower(name)]
	return ok
}

type denyEntry struct {
	token   string
	pattern *regexp.Regexp
}

// denyList is scanned in order. Keywords match as whole identifier tokens;
// comment markers match anywhere.
var denyList = buildDenyList(
	[]string{
		"insert", "update", "delete", "drop", "alter", "create", "truncate",
		"grant", "revoke", "show", "describe", "use", "with",
	},
	[]string{"--", "/*", "*/"},
)

func buildDenyList(keywords, markers []string) []denyEntry {
	entries := make([]denyEntry, 0, len(keywords)+len(markers))
	for _, keyword := range keywords {
		entries = append(entries, denyEntry{
			token:   strings.ToUpper(keyword),
			pattern: regexp.MustCompile(`(?i)\b` + keyword + `\b`),
		})
	}
	for _, marker := range markers {
		entries = append(entries, denyEntry{token: marker})
	}
	return entries
}

// identPattern also takes single-quoted strings: DuckDB reads FROM '<path>'
// as a file scan. The quotes are kept, so the literal never matches an
// allow-list entry.
const identPattern = "(`[^`]+`|\"[^\"]+\"|'[^']*'|[A-Za-z0-9_$]+)"

var tableRefPattern = regexp.MustCompile(`(?i)\b(?:from|join)\s+` + identPattern + `(?:\.` + identPattern + `)?`)

// Validate decides whether a generated statement may run. It is a
// deny-list plus allow-list heuristic over the raw text, not a parser:
// keywords inside string literals still reject, and tables reached other
// than through FROM or JOIN are not inspected.
func Validate(sqlText string, allowed TableSet) Result {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return reject(RuleEmpty, "empty statement")
	}
	if terminators := strings.Count(trimmed, ";"); terminators > 1 || (terminators == 1 && !strings.HasSuffix(trimmed, ";")) {
		return reject(RuleMultipleStatements, "multiple statements not allowed")
	}
	if !strings.HasPrefix(strings.ToUpper(trimmed), "SELECT") {
		return reject(RuleNotSelect, "only read queries allowed")
	}
	if token, found := findForbidden(trimmed); found {
		return reject(RuleForbiddenKeyword, fmt.Sprintf("forbidden keyword detected: %s", token), token)
	}
	if disallowed := disallowedTables(ReferencedTables(trimmed), allowed); len(disallowed) > 0 {
		return reject(RuleDisallowedTable, fmt.Sprintf("disallowed table(s): %s", strings.Join(disallowed, ", ")), disallowed...)
	}
	return accept()
}

func findForbidden(sqlText string) (string, bool) {
	for _, entry := range denyList {
		if entry.pattern == nil {
			if strings.Contains(sqlText, entry.token) {
				return entry.token, true
			}
			continue
		}
		if entry.pattern.MatchString(sqlText) {
			return entry.token, true
		}
	}
	return "", false
}

// ReferencedTables returns the lower-cased names following FROM or JOIN, in
// order of appearance and without duplicates. Qualified references keep
// their qualifier ("db.table").
func ReferencedTables(sqlText string) []string {
	matches := tableRefPattern.FindAllStringSubmatch(sqlText, -1)
	seen := map[string]bool{}
	tables := make([]string, 0, len(matches))
	for _, match := range matches {
		name := unquoteIdent(match[1])
		if match[2] != "" {
			name += "." + unquoteIdent(match[2])
		}
		name = strings.ToLower(name)
		if seen[name] {
			continue
		}
		seen[name] = true
		tables = append(tables, name)
	}
	return tables
}

func disallowedTables(referenced []string, allowed TableSet) []string {
	var out []string
	for _, table := range referenced {
		if !allowed.Contains(table) {
			out = append(out, table)
		}
	}
	return out
}

func unquoteIdent(value string) string {
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if (first == '`' && last == '`') || (first == '"' && last == '"') {
			return value[1 : len(value)-1]
		}
	}
	return value
}

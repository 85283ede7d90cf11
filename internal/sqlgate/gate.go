package sqlgate

import (
	"fmt"
	"strings"

	"vitess.io/vitess/go/vt/sqlparser"
)

type Options struct {
	RowLimit int
	// ParserCheck additionally parses accepted statements with the vitess
	// MySQL grammar and checks every table in the parse tree.
	ParserCheck bool
}

// Gate bundles the validator and limit enforcer with deployment settings.
type Gate struct {
	rowLimit int
	parser   *sqlparser.Parser
}

func New(opts Options) *Gate {
	rowLimit := opts.RowLimit
	if rowLimit <= 0 {
		rowLimit = DefaultRowLimit
	}
	gate := &Gate{rowLimit: rowLimit}
	if opts.ParserCheck {
		gate.parser = sqlparser.NewTestParser()
	}
	return gate
}

func (g *Gate) RowLimit() int {
	return g.rowLimit
}

func (g *Gate) Validate(sqlText string, allowed TableSet) Result {
	result := Validate(sqlText, allowed)
	if !result.OK || g.parser == nil {
		return result
	}
	return g.parseCheck(sqlText, allowed)
}

func (g *Gate) EnforceLimit(sqlText string) string {
	return EnforceLimitN(sqlText, g.rowLimit)
}

func (g *Gate) parseCheck(sqlText string, allowed TableSet) Result {
	normalized := strings.TrimSpace(sqlText)
	normalized = strings.TrimSpace(strings.TrimSuffix(normalized, ";"))

	stmt, err := g.parser.Parse(normalized)
	if err != nil {
		return reject(RuleParse, fmt.Sprintf("statement does not parse: %v", err))
	}
	switch stmt.(type) {
	case *sqlparser.Select, *sqlparser.Union:
	default:
		return reject(RuleNotSelect, "only read queries allowed")
	}

	if disallowed := disallowedTables(parsedTables(stmt), allowed); len(disallowed) > 0 {
		return reject(RuleDisallowedTable, fmt.Sprintf("disallowed table(s): %s", strings.Join(disallowed, ", ")), disallowed...)
	}
	return accept()
}

func parsedTables(stmt sqlparser.Statement) []string {
	seen := map[string]bool{}
	var tables []string
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		aliased, ok := node.(*sqlparser.AliasedTableExpr)
		if !ok {
			return true, nil
		}
		tableName, ok := aliased.Expr.(sqlparser.TableName)
		if !ok {
			return true, nil
		}
		name := strings.ToLower(tableName.Name.String())
		if !tableName.Qualifier.IsEmpty() {
			name = strings.ToLower(tableName.Qualifier.String()) + "." + name
		}
		if name == "dual" || seen[name] {
			return true, nil
		}
		seen[name] = true
		tables = append(tables, name)
		return true, nil
	}, stmt)
	return tables
}

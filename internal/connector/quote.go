package connector

import "strings"

// quoteStyle selects the identifier quoting convention of a dialect.
type quoteStyle int

const (
	quoteDouble   quoteStyle = iota // "name" — ANSI: postgres, redshift, snowflake, duckdb
	quoteBacktick                   // `name` — mysql, bigquery, databricks
	quoteBracket                    // [name] — sqlserver
	quoteUpper                      // "NAME" — oracle folds unquoted identifiers to upper case
)

// quoteIdentifier quotes name for the given style, escaping embedded quote
// characters by doubling them.
func quoteIdentifier(name string, style quoteStyle) string {
	switch style {
	case quoteBacktick:
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	case quoteBracket:
		return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
	case quoteUpper:
		return `"` + strings.ReplaceAll(strings.ToUpper(name), `"`, `""`) + `"`
	default:
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
}

// escapeLiteral escapes a string for inlining as a SQL literal in metadata
// queries, where placeholder syntax differs across dialects.
func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

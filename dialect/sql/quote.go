package sql

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/relorm/relorm/dialect"
)

// validIdentifierRe validates SQL identifiers (alphanumeric, underscores, dots for schema.name)
var validIdentifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

// IsValidIdentifier checks if the string is a valid SQL identifier.
func IsValidIdentifier(s string) bool {
	return s != "" && len(s) <= 128 && validIdentifierRe.MatchString(s)
}

// Quoter formats identifiers and bind placeholders for one dialect.
// The zero value formats for the neutral double-quote / "?" style.
type Quoter struct {
	dialect string
}

// NewQuoter returns a Quoter for the given dialect name.
func NewQuoter(dialect string) Quoter {
	return Quoter{dialect: dialect}
}

// Dialect returns the dialect name of the quoter.
func (q Quoter) Dialect() string { return q.dialect }

// Ident quotes the given identifier. Identifiers that are already quoted,
// or that contain an expression, are returned unchanged.
func (q Quoter) Ident(s string) string {
	switch {
	case s == "" || s == "*":
		return s
	case strings.ContainsAny(s, "`\""):
		return s
	case !IsValidIdentifier(s):
		return s
	case q.dialect == dialect.MySQL:
		return "`" + strings.ReplaceAll(s, ".", "`.`") + "`"
	default:
		return `"` + strings.ReplaceAll(s, ".", `"."`) + `"`
	}
}

// Placeholder returns the bind placeholder for the n-th (1-based) argument.
func (q Quoter) Placeholder(n int) string {
	if q.dialect == dialect.Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// EscapeString escapes a string value for safe inlining in SQL.
// It escapes both single quotes (by doubling) and backslashes
// (for MySQL compatibility).
func EscapeString(s string) string {
	if !strings.ContainsAny(s, `'\`) {
		return s
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "'", "''")
	return s
}

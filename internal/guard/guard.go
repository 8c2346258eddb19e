// Package guard keeps mutating statements away from the warehouse.
//
// Check looks only at the first keyword of the string. A statement list such
// as "SELECT 1; DROP TABLE t" is allowed because its leading keyword is
// SELECT, and so is a mutating statement hidden behind a leading comment.
// Callers that need more must run on a read-only warehouse role.
package guard

import (
	"strings"
	"unicode"
)

const RefusalMessage = "Sorry, I can't execute queries that can modify the database."

var blocked = map[string]struct{}{
	"DROP":     {},
	"ALTER":    {},
	"TRUNCATE": {},
	"DELETE":   {},
	"INSERT":   {},
	"UPDATE":   {},
}

type Decision struct {
	Allowed bool
	Keyword string
	Reason  string
}

func Check(sql string) Decision {
	keyword := LeadingKeyword(sql)
	if _, ok := blocked[keyword]; ok {
		return Decision{
			Allowed: false,
			Keyword: keyword,
			Reason:  keyword + " statements modify the database",
		}
	}
	return Decision{Allowed: true, Keyword: keyword}
}

// LeadingKeyword returns the first word of sql in upper case after skipping
// whitespace, or "" when sql does not start with a word.
func LeadingKeyword(sql string) string {
	trimmed := strings.TrimLeftFunc(sql, unicode.IsSpace)
	end := strings.IndexFunc(trimmed, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '_'
	})
	if end < 0 {
		end = len(trimmed)
	}
	return strings.ToUpper(trimmed[:end])
}

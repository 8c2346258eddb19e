// Package sqltext pulls SQL out of model output.
//
// Neither function parses SQL. ExtractSQL only understands markdown fences and
// LooksLikeSQL is a keyword heuristic with known false positives ("select a
// colour from the list") and false negatives (dialect-specific statements
// such as PUT or COPY).
package sqltext

import (
	"regexp"
	"strings"
)

const fence = "```"

var (
	openingFence = regexp.MustCompile("(?i)```sql[ \\t]*\\r?\\n")
	sqlKeyword   = regexp.MustCompile(`(?i)\b(select|from|where|join|group\s+by|order\s+by|having|limit|union|with|insert|update|delete|drop|alter|truncate|create|merge)\b`)
)

// ExtractSQL returns the body of the first fenced block tagged sql. The body is
// everything between the newline closing the opening fence line and the
// newline preceding the closing fence, byte for byte. ok is false when no
// such block exists or its body is empty.
func ExtractSQL(text string) (sql string, ok bool) {
	loc := openingFence.FindStringIndex(text)
	if loc == nil {
		return "", false
	}
	rest := text[loc[1]:]
	if strings.HasPrefix(rest, fence) {
		return "", false
	}
	end := strings.Index(rest, "\n"+fence)
	if end < 0 {
		return "", false
	}
	body := rest[:end]
	if strings.TrimSpace(body) == "" {
		return "", false
	}
	return body, true
}

// LooksLikeSQL reports whether text contains at least one SQL keyword as a
// whole word, ignoring case.
func LooksLikeSQL(text string) bool {
	return sqlKeyword.MatchString(text)
}

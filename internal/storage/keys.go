package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"regexp"
	"strings"
)

const QueryCachePrefix = "query-cache"

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,127}$`)

// QueryCacheKey names the object holding the cached result of sqlText. The
// hash only names the object; the SQL text itself is stored alongside.
func QueryCacheKey(sqlText string) string {
	sum := sha256.Sum256([]byte(sqlText))
	return path.Join(QueryCachePrefix, hex.EncodeToString(sum[:])+".json")
}

// ParquetTable maps an object under prefix to the warehouse table it belongs
// to: "<prefix>/<table>/<anything>.parquet". ok is false for other objects.
func ParquetTable(prefix, key string) (string, bool) {
	rel := strings.TrimPrefix(key, "/")
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		if !strings.HasPrefix(rel, prefix+"/") {
			return "", false
		}
		rel = strings.TrimPrefix(rel, prefix+"/")
	}
	if !strings.HasSuffix(rel, ".parquet") {
		return "", false
	}
	table, _, found := strings.Cut(rel, "/")
	if !found || !tableNamePattern.MatchString(table) {
		return "", false
	}
	return strings.ToLower(table), true
}

func ValidateTableName(name string) error {
	if !tableNamePattern.MatchString(name) {
		return fmt.Errorf("invalid table name: %q", name)
	}
	return nil
}

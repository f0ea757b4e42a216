package domain

import (
	"crypto/md5" //nolint:gosec // identifier fragment, not a security boundary
	"encoding/hex"
	"strings"
)

// NamingVersion identifies the rule implemented by TableName. It is stored
// next to every identifier so a rule change can be detected downstream.
const NamingVersion = 1

const (
	identifierPrefixRunes = 80
	identifierHashChars   = 8
)

var nameReplacer = strings.NewReplacer(" ", "_", "-", "_")

// CleanName lower-cases a source name and replaces spaces and hyphens with
// underscores. It is the pre-truncation input to TableName's hash.
func CleanName(source string) string {
	return nameReplacer.Replace(strings.ToLower(source))
}

// TableName derives the TableIdentifier for a free-form source name:
// the first 80 runes of the cleaned name, an underscore, and the first 8 hex
// characters of the MD5 of the full cleaned name.
//
// Every writer and reader of silver artifacts must go through this function.
func TableName(source string) string {
	cleaned := CleanName(source)
	sum := md5.Sum([]byte(cleaned)) //nolint:gosec // see import
	hash := hex.EncodeToString(sum[:])[:identifierHashChars]
	return truncateRunes(cleaned, identifierPrefixRunes) + "_" + hash
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

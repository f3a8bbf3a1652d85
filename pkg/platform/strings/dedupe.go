// Package strings provides string-slice helpers for request normalization.
package strings

import (
	"strings"
)

// DedupeAndTrimLower trims, lowercases and deduplicates values, dropping
// empty entries. First occurrence wins, so order is preserved.
//
//	DedupeAndTrimLower([]string{" Audit:Write ", "audit:write", ""})
//	// []string{"audit:write"}
func DedupeAndTrimLower(values []string) []string {
	if values == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		norm := strings.ToLower(strings.TrimSpace(v))
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		result = append(result, norm)
	}
	return result
}

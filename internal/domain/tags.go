package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxTags      = 10
	MaxTagLength = 30
)

// NormalizeTag trims, lowercases and collapses inner whitespace.
func NormalizeTag(tag string) string {
	return strings.Join(strings.Fields(strings.ToLower(tag)), " ")
}

// NormalizeTags normalizes and de-duplicates tags, dropping empty ones.
// Order of first occurrence is kept so output is stable for storage.
func NormalizeTags(tags []string) ([]string, error) {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, raw := range tags {
		tag := NormalizeTag(raw)
		if tag == "" {
			continue
		}
		if utf8.RuneCountInString(tag) > MaxTagLength {
			return nil, fmt.Errorf("%w: %q is longer than %d characters", ErrInvalidTags, tag, MaxTagLength)
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	if len(out) > MaxTags {
		return nil, fmt.Errorf("%w: at most %d tags allowed, got %d", ErrInvalidTags, MaxTags, len(out))
	}
	return out, nil
}

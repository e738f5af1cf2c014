// Package emoji suggests a single emoji for an inventory item.
package emoji

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var ErrNoEmoji = errors.New("model did not return an emoji")

// Suggester picks an emoji for an item from its title and description.
type Suggester interface {
	Suggest(ctx context.Context, title, description string) (string, error)
}

// Prompt is the shared prompt used by all emoji adapters.
func Prompt(title, description string) string {
	var b strings.Builder
	b.WriteString("Reply with exactly one emoji that best represents this household inventory item. ")
	b.WriteString("Do not add any words or punctuation.\n")
	fmt.Fprintf(&b, "Item: %s\n", title)
	if d := strings.TrimSpace(description); d != "" {
		fmt.Fprintf(&b, "Description: %s\n", d)
	}
	return b.String()
}

// ParseResponse returns the first emoji in raw, including any joiners,
// variation selectors and skin-tone modifiers that follow it.
func ParseResponse(raw string) (string, error) {
	runes := []rune(strings.TrimSpace(raw))
	start := -1
	for i, r := range runes {
		if isEmojiBase(r) {
			start = i
			break
		}
	}
	if start < 0 {
		return "", ErrNoEmoji
	}

	end := start + 1
	for end < len(runes) {
		r := runes[end]
		switch {
		case r == 0x200D: // zero width joiner glues the next base on
			end++
			if end < len(runes) && isEmojiBase(runes[end]) {
				end++
			}
		case isModifier(r):
			end++
		case isRegionalIndicator(r) && isRegionalIndicator(runes[start]) && end == start+1:
			end++
		default:
			return string(runes[start:end]), nil
		}
	}
	return string(runes[start:end]), nil
}

func isEmojiBase(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1FAFF,
		r >= 0x2600 && r <= 0x27BF,
		r >= 0x2B00 && r <= 0x2BFF,
		isRegionalIndicator(r):
		return true
	}
	return r > unicode.MaxLatin1 && unicode.Is(unicode.So, r)
}

func isModifier(r rune) bool {
	return r == 0xFE0F || r == 0x20E3 || (r >= 0x1F3FB && r <= 0x1F3FF) || (r >= 0xE0020 && r <= 0xE007F)
}

func isRegionalIndicator(r rune) bool { return r >= 0x1F1E6 && r <= 0x1F1FF }

package catalog

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeText lowercases s, strips accents, and collapses whitespace.
func NormalizeText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

// ContainsPhrase reports whether phrase occurs in text on word boundaries.
// Both arguments are expected to be normalized.
func ContainsPhrase(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	for start := 0; start <= len(text)-len(phrase); {
		i := strings.Index(text[start:], phrase)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(phrase)
		before, _ := utf8.DecodeLastRuneInString(text[:i])
		after, _ := utf8.DecodeRuneInString(text[end:])
		if (i == 0 || !isWordRune(before)) && (end == len(text) || !isWordRune(after)) {
			return true
		}
		start = i + 1
	}
	return false
}

// RemovePhrase replaces every word-bounded occurrence of phrase in text with
// a space. Both arguments are expected to be normalized.
func RemovePhrase(text, phrase string) string {
	if phrase == "" {
		return text
	}
	var b strings.Builder
	rest := text
	for {
		i := strings.Index(rest, phrase)
		if i < 0 {
			b.WriteString(rest)
			return b.String()
		}
		end := i + len(phrase)
		before, _ := utf8.DecodeLastRuneInString(rest[:i])
		after, _ := utf8.DecodeRuneInString(rest[end:])
		if (i == 0 || !isWordRune(before)) && (end == len(rest) || !isWordRune(after)) {
			b.WriteString(rest[:i])
			b.WriteByte(' ')
		} else {
			// Not on a word boundary; keep the first rune and scan on.
			_, size := utf8.DecodeRuneInString(rest[i:])
			end = i + size
			b.WriteString(rest[:end])
		}
		rest = rest[end:]
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

package raid

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"chatwarden/model"

	"github.com/spaolacci/murmur3"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeText folds text for duplicate detection: NFC, lower case,
// punctuation removed and whitespace runs collapsed to one space.
func NormalizeText(text string) string {
	// transformers carry state, so the chain is built per call
	normFunc := transform.Chain(norm.NFC, runes.Remove(runes.In(unicode.P)))
	folded, _, err := transform.String(normFunc, strings.ToLower(text))
	if err != nil {
		slog.Warn("unicode normalization error", "err", err)
		folded = strings.ToLower(text)
	}
	return strings.Join(strings.Fields(folded), " ")
}

// HashOfString returns a compact hex hash of s.
//
// current implementation uses murmur3 128-bit, default seed
func HashOfString(s string) string {
	h1, h2 := murmur3.Sum128([]byte(s))
	return fmt.Sprintf("%016x%016x", h1, h2)
}

// Fingerprint returns the grouping key for an event. Media events use the
// platform's content token as-is; text is normalised and hashed. ok is false
// for text that normalises to nothing.
func Fingerprint(ev model.ActivityEvent) (fp string, ok bool) {
	if ev.Type != model.ActivityText {
		return ev.Content, true
	}
	normalized := NormalizeText(ev.Content)
	if normalized == "" {
		return "", false
	}
	return HashOfString(normalized), true
}

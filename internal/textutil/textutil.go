// Package textutil provides pure string helpers shared by the ingest
// pipeline: filename sanitization for transcript/audio stems and the
// fixed-width clock rendering used in transcript lines.
package textutil

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxStemLen bounds sanitized filename stems, counted in characters so a
// multi-byte title is never cut mid-rune. Long podcast titles routinely
// exceed filesystem-friendly lengths once suffixes are appended.
const maxStemLen = 200

// SanitizeFilename strips characters that are unsafe in filenames, collapses
// runs of stripped characters and whitespace to a single underscore, and
// truncates the result to 200 characters. An empty input yields an empty
// output; callers fall back to an identity-derived stem in that case.
func SanitizeFilename(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inGap := false
	for _, r := range s {
		if unicode.IsSpace(r) || strings.ContainsRune(`\/*?:"<>|`, r) {
			inGap = true
			continue
		}
		if inGap {
			if b.Len() > 0 {
				b.WriteByte('_')
			}
			inGap = false
		}
		b.WriteRune(r)
	}

	out := b.String()
	if utf8.RuneCountInString(out) > maxStemLen {
		runes := []rune(out)
		out = string(runes[:maxStemLen])
	}
	return out
}

// FormatTimestamp renders a non-negative offset in seconds as HH:MM:SS.mmm,
// rounding to the nearest millisecond. Hours are zero-padded to two digits
// but not capped; very long inputs render with three or more hour digits.
// Negative input is a programming error and panics.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		panic(fmt.Sprintf("textutil: negative timestamp %f", seconds))
	}

	ms := int64(seconds*1000.0 + 0.5)

	msPart := ms % 1000
	totalSecs := ms / 1000
	secs := totalSecs % 60
	mins := (totalSecs / 60) % 60
	hours := totalSecs / 3600

	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, mins, secs, msPart)
}

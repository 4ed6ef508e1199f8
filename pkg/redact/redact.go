// Package redact masks callee details before they reach logs or the live
// monitor. It is off by default; privacy.redact_pii turns it on.
package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
	"unicode/utf8"
)

var enabled atomic.Bool

var patterns = []struct {
	re          *regexp.Regexp
	placeholder string
}{
	{regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b\+?\d[\d\s\-]{7,}\d\b`), "[REDACTED_PHONE]"},
}

// previewRunes bounds how much of a transcript is logged while redaction is on.
const previewRunes = 32

func SetEnabled(v bool) { enabled.Store(v) }

func Enabled() bool { return enabled.Load() }

// Text replaces emails and phone numbers embedded in free text.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	for _, p := range patterns {
		in = p.re.ReplaceAllString(in, p.placeholder)
	}
	return in
}

// Transcript returns what may be logged of a transcript: all of it when
// redaction is off, otherwise a short redacted preview.
func Transcript(in string) string {
	if !enabled.Load() {
		return in
	}
	out := Text(strings.TrimSpace(in))
	if utf8.RuneCountInString(out) <= previewRunes {
		return out
	}
	runes := []rune(out)
	return string(runes[:previewRunes]) + "..."
}

// Number masks a dialed number down to its last four digits, keeping a
// leading '+', so log lines for the same callee can still be correlated.
func Number(in string) string {
	if !enabled.Load() {
		return in
	}
	in = strings.TrimSpace(in)
	digits := 0
	for _, r := range in {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits <= 4 {
		return in
	}
	var b strings.Builder
	seen := 0
	for _, r := range in {
		switch {
		case r == '+':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			seen++
			if seen <= digits-4 {
				b.WriteByte('*')
			} else {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

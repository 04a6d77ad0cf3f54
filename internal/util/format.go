// Package util provides small formatting and sanitization helpers shared
// across the scanning, assembly, and recovery packages.
package util

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// FormatBytes renders a byte count as a human-readable size, e.g. "1.2 MB".
func FormatBytes(n int64) string {
	if n < 0 {
		return "0 B"
	}
	return humanize.Bytes(uint64(n))
}

// FormatDuration renders a duration as "1h2m3s"-style text, collapsing
// negative or zero durations to "0s".
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	return d.Round(time.Second).String()
}

// isSafeNameChar reports whether SanitizeFilename leaves r untouched.
func isSafeNameChar(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z':
		return true
	case r >= 'a' && r <= 'z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-':
		return true
	}
	return false
}

// SanitizeFilename replaces any character not in [A-Za-z0-9_-] with '_',
// per the recovery driver's output-path sanitization rule.
func SanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if isSafeNameChar(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

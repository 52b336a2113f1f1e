package views

import (
	"strings"
	"time"
	"unicode/utf8"
)

// formatTimestamp shows the clock for today and the date otherwise.
func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.Local()
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	if t.Year() == now.Year() {
		return t.Format("Jan 02")
	}
	return t.Format("2006-01-02")
}

// preview flattens s onto one line and cuts it to n runes.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(sanitizeForTerminal(s)), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

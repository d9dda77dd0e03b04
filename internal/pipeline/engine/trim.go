package engine

import (
	"strings"
	"unicode/utf8"
)

// CharCount is the length used for the post ceiling: Unicode code points,
// not counting line breaks.
func CharCount(s string) int {
	n := utf8.RuneCountInString(s)
	return n - strings.Count(s, "\n") - strings.Count(s, "\r")
}

// TrimTrailingHashtags removes the block of hashtag lines (and blank lines)
// that follows the last line of body text. Text with no body lines is
// returned unchanged.
func TrimTrailingHashtags(text string) string {
	lines := strings.Split(text, "\n")
	lastBody := -1
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lastBody = i
		break
	}
	if lastBody < 0 {
		return text
	}
	return strings.TrimRight(strings.Join(lines[:lastBody+1], "\n"), " \t\r\n")
}

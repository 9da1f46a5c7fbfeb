package render

import "strings"

// Ellipsis is appended to truncated fields.
const Ellipsis = "..."

// Wrap breaks s into lines of at most width characters. Words are packed
// greedily; a word longer than width is split across lines, filling the
// remainder of the current line first. Runs of whitespace collapse.
func Wrap(s string, width int) []string {
	if width < 1 {
		width = 1
	}
	var lines []string
	var cur []rune
	for _, word := range strings.Fields(s) {
		r := []rune(word)
		for len(r) > 0 {
			sep := 0
			if len(cur) > 0 {
				sep = 1
			}
			if len(cur)+sep+len(r) <= width {
				if sep == 1 {
					cur = append(cur, ' ')
				}
				cur = append(cur, r...)
				r = nil
				break
			}
			if len(r) > width {
				if left := width - len(cur) - sep; left > 0 {
					if sep == 1 {
						cur = append(cur, ' ')
					}
					cur = append(cur, r[:left]...)
					r = r[left:]
				}
			}
			lines = append(lines, string(cur))
			cur = nil
		}
	}
	if len(cur) > 0 {
		lines = append(lines, string(cur))
	}
	return lines
}

// WrapLines wraps s and keeps at most maxLines lines; the rest is dropped.
func WrapLines(s string, width, maxLines int) []string {
	lines := Wrap(s, width)
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	return lines
}

// Truncate shortens s to limit-1 characters plus Ellipsis when it is longer
// than limit characters.
func Truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit || limit < 1 {
		return s
	}
	return string(r[:limit-1]) + Ellipsis
}

package formula

import "strings"

// SplitArgs splits the raw text between a function call's outer parentheses
// into trimmed top-level arguments. A single left-to-right scan tracks a
// paren-depth counter and an active-quote flag; characters inside a quoted
// region, including parens and commas, are copied verbatim. Only a comma at
// depth zero outside quotes ends an argument, so input like
// `"a,b", CONCAT("x","y"), "z"` yields exactly three arguments.
func SplitArgs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}

	var args []string
	var quote byte
	depth := 0
	start := 0

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == ',' && depth == 0:
			args = append(args, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	return append(args, strings.TrimSpace(s[start:]))
}

// findClosingParen returns the index of the paren matching the opener at
// open, or -1 when unbalanced. Quoted regions are skipped.
func findClosingParen(s string, open int) int {
	var quote byte
	depth := 0

	for i := open; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// stripQuotes removes one layer of symmetric quotes: when the first and last
// character are the same quote character both are removed, otherwise the
// text is returned as-is.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first == last && (first == '"' || first == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

package formula

import (
	"strconv"
	"strings"
)

// evalText evaluates one expression whose @ references have already been
// substituted. whole marks whole-expression position (the top level and IF
// branches): arithmetic only triggers there, matching the original stage
// ordering where the arithmetic evaluator ran on the entire remaining
// expression. Concatenation and arithmetic are mutually exclusive within a
// single evaluation; a top-level & always wins.
func evalText(s string, whole bool) string {
	t := strings.TrimSpace(s)
	if t == "" {
		return ""
	}

	t = reduceCalls(t)

	// & concatenation. Function calls are already reduced to literals, so
	// only the active-quote flag matters when locating top-level joins.
	if segments := splitJoin(t); len(segments) > 1 {
		var b strings.Builder
		for _, seg := range segments {
			v := stripQuotes(strings.TrimSpace(seg))
			if v == "" || v == "N/A" {
				continue
			}
			b.WriteString(v)
		}
		return b.String()
	}

	if whole {
		if left, op, right, ok := matchArithmetic(t); ok {
			return evalArithmetic(left, op, right)
		}
	}

	return t
}

// evalArithmetic performs exactly one binary floating-point operation.
// Division by zero yields the "ERR:DIV/0" sentinel rather than Inf/NaN.
func evalArithmetic(left string, op byte, right string) string {
	a, errA := strconv.ParseFloat(stripQuotes(left), 64)
	b, errB := strconv.ParseFloat(stripQuotes(right), 64)
	if errA != nil || errB != nil {
		// matchArithmetic guarantees numeric shape; degrading to the raw
		// text keeps the no-throw contract regardless.
		return left + " " + string(op) + " " + right
	}

	var result float64
	switch op {
	case '+':
		result = a + b
	case '-':
		result = a - b
	case '*':
		result = a * b
	case '/':
		if b == 0 {
			return "ERR:DIV/0"
		}
		result = a / b
	}
	return strconv.FormatFloat(result, 'f', -1, 64)
}

// splitJoin splits on top-level & characters, tracking only the active-quote
// flag. Returns a single-element slice when the expression contains no
// top-level &, in which case the concatenation stage is skipped.
func splitJoin(s string) []string {
	var segments []string
	var quote byte
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
		case c == '&':
			segments = append(segments, s[start:i])
			start = i + 1
		}
	}
	return append(segments, s[start:])
}

// matchArithmetic reports whether s is exactly `<number> <op> <number>` and
// returns its parts. Numbers are optionally-negative, optionally-decimal
// literals, optionally wrapped in double or single quotes. A hand-rolled
// scan avoids the ambiguity of - doubling as the negative-number prefix.
func matchArithmetic(s string) (left string, op byte, right string, ok bool) {
	i := 0
	left, i, ok = scanNumber(s, i)
	if !ok {
		return "", 0, "", false
	}
	i = skipSpaces(s, i)
	if i >= len(s) || !isArithOp(s[i]) {
		return "", 0, "", false
	}
	op = s[i]
	i = skipSpaces(s, i+1)
	right, i, ok = scanNumber(s, i)
	if !ok || i != len(s) {
		return "", 0, "", false
	}
	return left, op, right, true
}

func isArithOp(c byte) bool {
	return c == '+' || c == '-' || c == '*' || c == '/'
}

func skipSpaces(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return i
}

// scanNumber consumes an optionally-quoted numeric literal starting at i.
func scanNumber(s string, i int) (string, int, bool) {
	start := i
	var quote byte
	if i < len(s) && (s[i] == '"' || s[i] == '\'') {
		quote = s[i]
		i++
	}
	if i < len(s) && s[i] == '-' {
		i++
	}
	digits := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
		digits++
	}
	if digits == 0 {
		return "", start, false
	}
	if i < len(s) && s[i] == '.' {
		i++
		frac := 0
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
			frac++
		}
		if frac == 0 {
			return "", start, false
		}
	}
	if quote != 0 {
		if i >= len(s) || s[i] != quote {
			return "", start, false
		}
		i++
	}
	return s[start:i], i, true
}

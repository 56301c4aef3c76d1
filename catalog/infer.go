package catalog

import (
	"fmt"
	"strings"
)

// InferColumns derives output column names from a SELECT statement. This is a
// best-effort heuristic, not a SQL parser: it handles explicit AS aliases,
// bare identifiers, and qualified/function expressions by taking the trailing
// identifier. For "select *" it falls back to the probe's declared columns.
// Returns nil when nothing can be derived; callers degrade to Positional.
func InferColumns(sqlText, key string) []string {
	// collapse whitespace so FROM on its own line is still found
	sqlText = strings.Join(strings.Fields(sqlText), " ")
	lower := strings.ToLower(sqlText)

	selIdx := strings.Index(lower, "select")
	if selIdx < 0 {
		return nil
	}
	fromIdx := indexTopLevel(lower[selIdx:], " from ")
	if fromIdx < 0 {
		return nil
	}
	list := sqlText[selIdx+len("select") : selIdx+fromIdx]

	if strings.TrimSpace(list) == "*" {
		if p, ok := probeByKey[key]; ok {
			return p.Columns
		}
		return nil
	}

	var names []string
	for _, expr := range splitTopLevel(list) {
		name := columnName(expr)
		if name == "" {
			return nil
		}
		names = append(names, name)
	}
	return names
}

// Positional returns placeholder names col_0..col_{n-1}.
func Positional(n int) []string {
	if n <= 0 {
		return nil
	}
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("col_%d", i)
	}
	return names
}

// indexTopLevel finds the first occurrence of needle outside parentheses.
func indexTopLevel(s, needle string) int {
	depth := 0
	for i := 0; i+len(needle) <= len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth == 0 && s[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

// splitTopLevel splits a select list on commas outside parentheses, so
// function calls like round(x, 2) stay intact.
func splitTopLevel(list string) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(list); i++ {
		switch list[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, list[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, list[start:])
	return parts
}

func columnName(expr string) string {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return ""
	}

	// explicit alias wins
	lower := strings.ToLower(expr)
	if i := strings.LastIndex(lower, " as "); i >= 0 && topLevelAt(expr, i) {
		return strings.TrimSpace(expr[i+4:])
	}

	if isIdentifier(expr) {
		return expr
	}

	// trailing identifier after the last '.' or whitespace
	cut := strings.LastIndexAny(expr, ". \t\n")
	if cut >= 0 && cut+1 < len(expr) {
		tail := strings.TrimSpace(expr[cut+1:])
		if isIdentifier(tail) {
			return tail
		}
	}
	return ""
}

// topLevelAt reports whether position i in expr is outside parentheses.
func topLevelAt(expr string, i int) bool {
	depth := 0
	for j := 0; j < i && j < len(expr); j++ {
		switch expr[j] {
		case '(':
			depth++
		case ')':
			depth--
		}
	}
	return depth == 0
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

package sqlbuilder

import (
	"strings"
	"unicode"
)

// Words that EncloseNames leaves as is.
var keywords = map[string]bool{
	"as":       true,
	"asc":      true,
	"desc":     true,
	"and":      true,
	"or":       true,
	"not":      true,
	"null":     true,
	"is":       true,
	"in":       true,
	"like":     true,
	"between":  true,
	"distinct": true,
	"on":       true,
	"case":     true,
	"when":     true,
	"then":     true,
	"else":     true,
	"end":      true,
	"true":     true,
	"false":    true,
}

func isNameChar(c rune) bool {
	return c == '_' || c == '$' || c == '.' || unicode.IsLetter(c) || unicode.IsDigit(c)
}

// EncloseNames quotes the identifiers in expr with the dialect's quoting.
// Each segment of a dotted name is quoted separately. Keywords such as "as",
// "asc" and "desc", numbers, function names, string literals, "*" and names
// that are already quoted are left alone, as are placeholders.
func EncloseNames(d Dialect, expr string) string {
	var b strings.Builder
	r := []rune(expr)
	for i := 0; i < len(r); {
		c := r[i]
		switch {
		case c == '\'' || c == '"' || c == '`' || c == '[':
			end := c
			if c == '[' {
				end = ']'
			}
			j := i + 1
			for j < len(r) && r[j] != end {
				j++
			}
			if j < len(r) {
				j++
			}
			b.WriteString(string(r[i:j]))
			i = j
		case (c == '$' || c == '@' || c == ':') && i+1 < len(r) && isNameChar(r[i+1]):
			// Placeholder, such as $1, @p1 or :name.
			j := i + 1
			for j < len(r) && isNameChar(r[j]) {
				j++
			}
			b.WriteString(string(r[i:j]))
			i = j
		case isNameChar(c):
			j := i
			for j < len(r) && isNameChar(r[j]) {
				j++
			}
			word := string(r[i:j])
			k := j
			for k < len(r) && r[k] == ' ' {
				k++
			}
			isFunc := k < len(r) && r[k] == '('
			b.WriteString(encloseWord(d, word, isFunc))
			i = j
		default:
			b.WriteRune(c)
			i++
		}
	}
	return b.String()
}

func encloseWord(d Dialect, word string, isFunc bool) string {
	if isFunc || keywords[strings.ToLower(word)] || unicode.IsDigit([]rune(word)[0]) {
		return word
	}
	segs := strings.Split(word, ".")
	for i, s := range segs {
		if s == "" || s == "*" {
			continue
		}
		segs[i] = d.QuoteIdentifier(s)
	}
	return strings.Join(segs, ".")
}

package eval

import (
	"fmt"
	"strings"
	"unicode"
)

// Validate rejects rules outside the supported subset: comparisons, boolean
// logic, parentheses and member access on the payload.
func Validate(rule string) error {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		return nil
	}

	illegalChars := []rune{'{', '}', '[', ']', ';', ':', '?', '@', '#', '$', '\\'}
	for _, ch := range illegalChars {
		if strings.ContainsRune(rule, ch) {
			return fmt.Errorf("illegal character %q", ch)
		}
	}

	illegalOps := []string{"+", "-", "*", "/", "%"}
	for _, op := range illegalOps {
		if strings.Contains(outsideQuotes(rule), op) {
			return fmt.Errorf("arithmetic operator %q is not allowed", op)
		}
	}

	for i := 0; i < len(rule)-1; i++ {
		if rule[i] == '(' {
			j := i - 1
			for j >= 0 && unicode.IsSpace(rune(rule[j])) {
				j--
			}
			if j >= 0 && (unicode.IsLetter(rune(rule[j])) || rule[j] == '_') {
				k := j
				for k >= 0 && (unicode.IsLetter(rune(rule[k])) || unicode.IsDigit(rune(rule[k])) || rule[k] == '_' || rule[k] == '.') {
					k--
				}
				ident := strings.TrimSpace(rule[k+1 : j+1])
				if ident != "" && !keywords[ident] {
					return fmt.Errorf("function calls are not allowed (found %q(...))", ident)
				}
			}
		}
	}

	return nil
}

var keywords = map[string]bool{"not": true, "and": true, "or": true}

// outsideQuotes blanks out string literals so operators inside them are not
// mistaken for arithmetic.
func outsideQuotes(s string) string {
	var b strings.Builder
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			b.WriteByte(' ')
		case c == '"' || c == '\'':
			quote = c
			b.WriteByte(' ')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

package safety

import (
	"fmt"
	"strings"
)

// Tokenize splits a command line using POSIX shell quoting rules: single
// quotes are literal, double quotes allow backslash escapes, and an
// unquoted backslash escapes the next character. Operators are not
// interpreted; the guard only needs argument boundaries.
func Tokenize(command string) ([]string, error) {
	var (
		tokens  []string
		current strings.Builder
		inTok   bool
	)
	flush := func() {
		if inTok {
			tokens = append(tokens, current.String())
			current.Reset()
			inTok = false
		}
	}

	runes := []rune(command)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch c {
		case ' ', '\t', '\n':
			flush()
		case '\'':
			inTok = true
			end := -1
			for j := i + 1; j < len(runes); j++ {
				if runes[j] == '\'' {
					end = j
					break
				}
			}
			if end < 0 {
				return nil, fmt.Errorf("unterminated single quote")
			}
			current.WriteString(string(runes[i+1 : end]))
			i = end
		case '"':
			inTok = true
			closed := false
			for j := i + 1; j < len(runes); j++ {
				if runes[j] == '\\' && j+1 < len(runes) {
					current.WriteRune(runes[j+1])
					j++
					i = j
					continue
				}
				if runes[j] == '"' {
					i = j
					closed = true
					break
				}
				current.WriteRune(runes[j])
				i = j
			}
			if !closed {
				return nil, fmt.Errorf("unterminated double quote")
			}
		case '\\':
			if i+1 >= len(runes) {
				return nil, fmt.Errorf("trailing backslash")
			}
			inTok = true
			current.WriteRune(runes[i+1])
			i++
		default:
			inTok = true
			current.WriteRune(c)
		}
	}
	flush()
	return tokens, nil
}

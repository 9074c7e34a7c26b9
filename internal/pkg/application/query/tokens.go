package query

import "strings"

// operator symbols ordered so that the longest match wins
var symbols = []string{"!~=", "==", "!=", ">=", "<=", "~=", ">", "<", ";", "|", "(", ")"}

// tokenize scans the query left to right, matching the longest known
// operator symbol at each position. Any non-matching run of characters
// accumulates into a literal token.
func tokenize(input string) []string {
	tokens := []string{}
	literal := strings.Builder{}

	flush := func() {
		if literal.Len() > 0 {
			tokens = append(tokens, literal.String())
			literal.Reset()
		}
	}

	for i := 0; i < len(input); {
		matched := ""

		for _, symbol := range symbols {
			if strings.HasPrefix(input[i:], symbol) {
				matched = symbol
				break
			}
		}

		if matched != "" {
			flush()
			tokens = append(tokens, matched)
			i += len(matched)
		} else {
			literal.WriteByte(input[i])
			i++
		}
	}

	flush()

	return tokens
}

func isOperator(token string) bool {
	for _, symbol := range symbols {
		if token == symbol {
			return true
		}
	}
	return false
}

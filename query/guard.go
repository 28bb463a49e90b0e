package query

import (
	"regexp"
	"strings"

	"github.com/c360studio/semgen/semerr"
)

// Update and federation verbs have no place in generation queries; their
// presence indicates spliced or hostile text.
var forbiddenVerbs = regexp.MustCompile(`(?i)\b(INSERT|DELETE|DROP|CLEAR|LOAD|CREATE|MOVE|COPY|ADD|SERVICE)\b`)

// GuardText rejects query text showing signs of parameter splicing
// before it reaches the parser. Queries are configuration: they are
// written whole by hand, never assembled from untrusted input, so
// update verbs, statement separators, template placeholders, and
// unbalanced quoting are all treated as hostile.
func GuardText(text string) error {
	reject := func(code, reason string) error {
		return semerr.New(semerr.KindSecurity, code, "query rejected: %s", reason)
	}

	if strings.TrimSpace(text) == "" {
		return reject("QUERY_EMPTY", "empty query text")
	}
	if strings.ContainsRune(text, '\x00') {
		return reject("QUERY_INJECTION", "NUL byte in query text")
	}
	if m := forbiddenVerbs.FindString(text); m != "" {
		return reject("QUERY_INJECTION", "forbidden verb "+strings.ToUpper(m))
	}
	if strings.Contains(text, ";") {
		return reject("QUERY_INJECTION", "statement separator ';'")
	}
	for _, marker := range []string{"${", "{{", "%s", "%d"} {
		if strings.Contains(text, marker) {
			return reject("QUERY_INJECTION", "template placeholder "+marker)
		}
	}
	if !balancedQuotes(text) {
		return reject("QUERY_INJECTION", "unbalanced string quoting")
	}
	if depth := braceDepth(text); depth != 0 {
		return reject("QUERY_INJECTION", "unbalanced braces")
	}
	return nil
}

// balancedQuotes checks that double quotes pair up outside escapes.
func balancedQuotes(text string) bool {
	inString := false
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\\':
			if inString {
				i++
			}
		case '"':
			inString = !inString
		}
	}
	return !inString
}

// braceDepth returns the net brace nesting outside string literals.
func braceDepth(text string) int {
	depth := 0
	inString := false
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\\':
			if inString {
				i++
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
			}
		}
	}
	return depth
}

package render

import (
	"fmt"
	"strings"
	"text/template"
	"unicode"
)

// Funcs is the fixed allow-list of template functions. Every function
// is a pure transformation of its inputs: no clock, no randomness, no
// filesystem, no network. Adding a function here requires the same
// determinism guarantee.
func Funcs() template.FuncMap {
	return template.FuncMap{
		"upper":  strings.ToUpper,
		"lower":  strings.ToLower,
		"trim":   strings.TrimSpace,
		"title":  titleCase,
		"snake":  snakeCase,
		"camel":  camelCase,
		"pascal": pascalCase,
		"kebab":  kebabCase,
		"quote":  func(s string) string { return fmt.Sprintf("%q", s) },
		"join":   joinAny,
		"indent": indent,
		"repeat": strings.Repeat,
	}
}

// titleCase upper-cases the first letter of each space-separated word.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = upperFirst(w)
	}
	return strings.Join(words, " ")
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

// splitWords breaks an identifier into words at underscores, hyphens,
// spaces, and lower-to-upper case transitions.
func splitWords(s string) []string {
	var words []string
	var current strings.Builder
	var prev rune
	for _, r := range s {
		switch {
		case r == '_' || r == '-' || r == ' ':
			if current.Len() > 0 {
				words = append(words, current.String())
				current.Reset()
			}
		case unicode.IsUpper(r) && prev != 0 && !unicode.IsUpper(prev):
			if current.Len() > 0 {
				words = append(words, current.String())
				current.Reset()
			}
			current.WriteRune(r)
		default:
			current.WriteRune(r)
		}
		prev = r
	}
	if current.Len() > 0 {
		words = append(words, current.String())
	}
	return words
}

func snakeCase(s string) string {
	words := splitWords(s)
	for i, w := range words {
		words[i] = strings.ToLower(w)
	}
	return strings.Join(words, "_")
}

func kebabCase(s string) string {
	words := splitWords(s)
	for i, w := range words {
		words[i] = strings.ToLower(w)
	}
	return strings.Join(words, "-")
}

func pascalCase(s string) string {
	words := splitWords(s)
	for i, w := range words {
		words[i] = upperFirst(strings.ToLower(w))
	}
	return strings.Join(words, "")
}

func camelCase(s string) string {
	return lowerFirst(pascalCase(s))
}

// joinAny joins a list of strings or stringable values.
func joinAny(sep string, items []any) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = fmt.Sprintf("%v", item)
	}
	return strings.Join(parts, sep)
}

// indent prefixes every non-empty line with n spaces.
func indent(n int, s string) string {
	if n <= 0 {
		return s
	}
	pad := strings.Repeat(" ", n)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = pad + line
		}
	}
	return strings.Join(lines, "\n")
}

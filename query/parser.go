// Package query executes semantic queries against an ontology snapshot
// and memoizes results by content hash. The supported language is a
// SPARQL subset: PREFIX declarations, SELECT over basic graph patterns,
// equality and regex filters, ORDER BY, and LIMIT.
package query

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/c360studio/semgen/ontology"
	"github.com/c360studio/semgen/semerr"
)

// EngineVersion participates in cache keys so engine upgrades invalidate
// memoized results.
const EngineVersion = "1.0.0"

// patternTerm is one position of a triple pattern: a variable or a
// concrete term.
type patternTerm struct {
	variable string        // "?name" variables, without the '?'
	term     ontology.Term // concrete term when variable is empty
}

func (p patternTerm) isVar() bool { return p.variable != "" }

// triplePattern is one subject/predicate/object pattern.
type triplePattern struct {
	subject   patternTerm
	predicate patternTerm
	object    patternTerm
}

// filter restricts solutions: either an equality against a concrete term
// or a regular expression over a variable's lexical value.
type filter struct {
	variable string
	equals   *ontology.Term
	regex    *regexp.Regexp
}

// parsedQuery is the executable form of a query.
type parsedQuery struct {
	vars     []string // projected variables without '?'; empty means SELECT *
	star     bool
	patterns []triplePattern
	filters  []filter
	orderBy  string // variable without '?'; empty means canonical order
	limit    int    // 0 means unlimited
	prefixes map[string]string
}

// parse compiles query text. Syntax errors return a KindInput error with
// code QUERY_SYNTAX.
func parse(text string) (*parsedQuery, error) {
	p := &queryParser{
		toks: tokenize(text),
		q:    &parsedQuery{prefixes: make(map[string]string)},
	}
	if err := p.parse(); err != nil {
		return nil, semerr.Wrap(semerr.KindInput, "QUERY_SYNTAX", err)
	}
	return p.q, nil
}

type queryParser struct {
	toks []string
	pos  int
	q    *parsedQuery
}

func (p *queryParser) peek() string {
	if p.pos >= len(p.toks) {
		return ""
	}
	return p.toks[p.pos]
}

func (p *queryParser) next() string {
	tok := p.peek()
	p.pos++
	return tok
}

func (p *queryParser) expect(want string) error {
	if tok := p.next(); !strings.EqualFold(tok, want) {
		return fmt.Errorf("expected %q, got %q", want, tok)
	}
	return nil
}

func (p *queryParser) parse() error {
	for strings.EqualFold(p.peek(), "PREFIX") {
		if err := p.parsePrefix(); err != nil {
			return err
		}
	}

	if err := p.expect("SELECT"); err != nil {
		return err
	}
	if err := p.parseProjection(); err != nil {
		return err
	}
	if err := p.expect("WHERE"); err != nil {
		return err
	}
	if err := p.parseGroupGraphPattern(); err != nil {
		return err
	}
	if err := p.parseModifiers(); err != nil {
		return err
	}
	if tok := p.peek(); tok != "" {
		return fmt.Errorf("unexpected trailing token %q", tok)
	}
	if len(p.q.patterns) == 0 {
		return fmt.Errorf("query has no triple patterns")
	}
	return nil
}

func (p *queryParser) parsePrefix() error {
	p.next() // PREFIX
	name := p.next()
	if !strings.HasSuffix(name, ":") {
		return fmt.Errorf("prefix name %q must end with ':'", name)
	}
	iri := p.next()
	if !strings.HasPrefix(iri, "<") || !strings.HasSuffix(iri, ">") {
		return fmt.Errorf("prefix IRI %q must be enclosed in <>", iri)
	}
	p.q.prefixes[strings.TrimSuffix(name, ":")] = iri[1 : len(iri)-1]
	return nil
}

func (p *queryParser) parseProjection() error {
	if p.peek() == "*" {
		p.next()
		p.q.star = true
		return nil
	}
	for strings.HasPrefix(p.peek(), "?") {
		p.q.vars = append(p.q.vars, strings.TrimPrefix(p.next(), "?"))
	}
	if len(p.q.vars) == 0 {
		return fmt.Errorf("SELECT requires at least one variable or *")
	}
	return nil
}

func (p *queryParser) parseGroupGraphPattern() error {
	if err := p.expect("{"); err != nil {
		return err
	}
	for {
		tok := p.peek()
		switch {
		case tok == "":
			return fmt.Errorf("unterminated graph pattern")
		case tok == "}":
			p.next()
			return nil
		case strings.EqualFold(tok, "FILTER"):
			if err := p.parseFilter(); err != nil {
				return err
			}
		default:
			if err := p.parseTriplePattern(); err != nil {
				return err
			}
		}
	}
}

func (p *queryParser) parseTriplePattern() error {
	s, err := p.parsePatternTerm(false)
	if err != nil {
		return err
	}
	pred, err := p.parsePatternTerm(true)
	if err != nil {
		return err
	}
	o, err := p.parsePatternTerm(false)
	if err != nil {
		return err
	}
	p.q.patterns = append(p.q.patterns, triplePattern{subject: s, predicate: pred, object: o})

	// Patterns are separated by '.'; the final dot before '}' is optional.
	if p.peek() == "." {
		p.next()
	}
	return nil
}

// parsePatternTerm reads one pattern position. In predicate position the
// keyword 'a' expands to rdf:type.
func (p *queryParser) parsePatternTerm(predicate bool) (patternTerm, error) {
	tok := p.next()
	if tok == "" {
		return patternTerm{}, fmt.Errorf("unexpected end of pattern")
	}

	switch {
	case strings.HasPrefix(tok, "?"):
		if len(tok) == 1 {
			return patternTerm{}, fmt.Errorf("empty variable name")
		}
		return patternTerm{variable: tok[1:]}, nil

	case predicate && tok == "a":
		return patternTerm{term: ontology.IRI(ontology.RDFType)}, nil

	case strings.HasPrefix(tok, "<") && strings.HasSuffix(tok, ">"):
		return patternTerm{term: ontology.IRI(tok[1 : len(tok)-1])}, nil

	case strings.HasPrefix(tok, `"`):
		value, rest, err := unquote(tok)
		if err != nil {
			return patternTerm{}, err
		}
		switch {
		case strings.HasPrefix(rest, "^^"):
			dt, err := p.resolveIRIToken(rest[2:])
			if err != nil {
				return patternTerm{}, err
			}
			return patternTerm{term: ontology.TypedLiteral(value, dt)}, nil
		case strings.HasPrefix(rest, "@"):
			return patternTerm{term: ontology.LangLiteral(value, rest[1:])}, nil
		case rest == "":
			return patternTerm{term: ontology.Literal(value)}, nil
		default:
			return patternTerm{}, fmt.Errorf("malformed literal suffix %q", rest)
		}

	case tok == "true" || tok == "false":
		return patternTerm{term: ontology.TypedLiteral(tok, ontology.XSDNamespace+"boolean")}, nil

	case isNumeric(tok):
		dt := ontology.XSDNamespace + "integer"
		if strings.Contains(tok, ".") {
			dt = ontology.XSDNamespace + "decimal"
		}
		return patternTerm{term: ontology.TypedLiteral(tok, dt)}, nil

	default:
		iri, err := p.resolvePrefixed(tok)
		if err != nil {
			return patternTerm{}, err
		}
		return patternTerm{term: ontology.IRI(iri)}, nil
	}
}

func (p *queryParser) resolveIRIToken(tok string) (string, error) {
	if strings.HasPrefix(tok, "<") && strings.HasSuffix(tok, ">") {
		return tok[1 : len(tok)-1], nil
	}
	return p.resolvePrefixed(tok)
}

func (p *queryParser) resolvePrefixed(tok string) (string, error) {
	idx := strings.IndexByte(tok, ':')
	if idx < 0 {
		return "", fmt.Errorf("unexpected token %q", tok)
	}
	ns, ok := p.q.prefixes[tok[:idx]]
	if !ok {
		return "", fmt.Errorf("unknown prefix %q", tok[:idx]+":")
	}
	return ns + tok[idx+1:], nil
}

// parseFilter handles FILTER regex(?v, "pat") and FILTER ( ?v = term ).
func (p *queryParser) parseFilter() error {
	p.next() // FILTER
	switch tok := p.peek(); {
	case strings.EqualFold(tok, "regex"):
		p.next()
		if err := p.expect("("); err != nil {
			return err
		}
		v := p.next()
		if !strings.HasPrefix(v, "?") {
			return fmt.Errorf("regex filter requires a variable, got %q", v)
		}
		if p.peek() == "," {
			p.next()
		}
		pat := p.next()
		value, rest, err := unquote(pat)
		if err != nil || rest != "" {
			return fmt.Errorf("regex pattern must be a plain string literal")
		}
		re, err := regexp.Compile(value)
		if err != nil {
			return fmt.Errorf("invalid regex %q: %w", value, err)
		}
		if err := p.expect(")"); err != nil {
			return err
		}
		p.q.filters = append(p.q.filters, filter{variable: v[1:], regex: re})
		return nil

	case tok == "(":
		p.next()
		v := p.next()
		if !strings.HasPrefix(v, "?") {
			return fmt.Errorf("equality filter requires a variable, got %q", v)
		}
		if err := p.expect("="); err != nil {
			return err
		}
		term, err := p.parsePatternTerm(false)
		if err != nil {
			return err
		}
		if term.isVar() {
			return fmt.Errorf("equality filter requires a concrete value")
		}
		if err := p.expect(")"); err != nil {
			return err
		}
		t := term.term
		p.q.filters = append(p.q.filters, filter{variable: v[1:], equals: &t})
		return nil

	default:
		return fmt.Errorf("unsupported filter starting at %q", tok)
	}
}

func (p *queryParser) parseModifiers() error {
	for {
		switch tok := p.peek(); {
		case strings.EqualFold(tok, "ORDER"):
			p.next()
			if err := p.expect("BY"); err != nil {
				return err
			}
			v := p.next()
			if !strings.HasPrefix(v, "?") {
				return fmt.Errorf("ORDER BY requires a variable, got %q", v)
			}
			p.q.orderBy = v[1:]
		case strings.EqualFold(tok, "LIMIT"):
			p.next()
			n := 0
			if _, err := fmt.Sscanf(p.next(), "%d", &n); err != nil || n < 0 {
				return fmt.Errorf("LIMIT requires a non-negative integer")
			}
			p.q.limit = n
		case tok == "":
			return nil
		default:
			return nil
		}
	}
}

// unquote splits a token that begins with '"' into its unescaped string
// body and any trailing suffix (datatype or language tag).
func unquote(tok string) (value, rest string, err error) {
	if len(tok) < 2 || tok[0] != '"' {
		return "", "", fmt.Errorf("not a string literal: %q", tok)
	}
	var sb strings.Builder
	i := 1
	for i < len(tok) {
		c := tok[i]
		if c == '\\' && i+1 < len(tok) {
			switch tok[i+1] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '"', '\\':
				sb.WriteByte(tok[i+1])
			default:
				return "", "", fmt.Errorf("unsupported escape in %q", tok)
			}
			i += 2
			continue
		}
		if c == '"' {
			return sb.String(), tok[i+1:], nil
		}
		sb.WriteByte(c)
		i++
	}
	return "", "", fmt.Errorf("unterminated string literal %q", tok)
}

func isNumeric(tok string) bool {
	if tok == "" {
		return false
	}
	i := 0
	if tok[0] == '+' || tok[0] == '-' {
		i = 1
	}
	digits := false
	for ; i < len(tok); i++ {
		switch {
		case tok[i] >= '0' && tok[i] <= '9':
			digits = true
		case tok[i] == '.':
		default:
			return false
		}
	}
	return digits
}

// tokenize splits query text into tokens, keeping string literals (with
// their datatype/language suffixes) intact and treating punctuation as
// standalone tokens.
func tokenize(text string) []string {
	var toks []string
	i := 0
	for i < len(text) {
		c := text[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '#':
			for i < len(text) && text[i] != '\n' {
				i++
			}
		case c == '{' || c == '}' || c == '(' || c == ')' || c == ',' || c == '=' || c == '*':
			toks = append(toks, string(c))
			i++
		case c == '.':
			// A dot token only when standing alone; dotted numbers are
			// handled by the default word scan.
			toks = append(toks, ".")
			i++
		case c == '"':
			start := i
			i++
			for i < len(text) {
				if text[i] == '\\' {
					i += 2
					continue
				}
				if text[i] == '"' {
					i++
					break
				}
				i++
			}
			// Attach ^^datatype or @lang suffix to the literal token.
			for i < len(text) && !isTokenBoundary(text[i]) {
				i++
			}
			toks = append(toks, text[start:i])
		case c == '<':
			start := i
			for i < len(text) && text[i] != '>' {
				i++
			}
			if i < len(text) {
				i++
			}
			toks = append(toks, text[start:i])
		default:
			start := i
			for i < len(text) && !isTokenBoundary(text[i]) {
				i++
			}
			toks = append(toks, text[start:i])
		}
	}
	return toks
}

func isTokenBoundary(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '{', '}', '(', ')', ',', '=', '"', '<':
		return true
	}
	return false
}

// Check guards and parses a query without executing it. Used for
// pre-flight syntax validation of manifest queries.
func Check(text string) error {
	if err := GuardText(text); err != nil {
		return err
	}
	_, err := parse(text)
	return err
}

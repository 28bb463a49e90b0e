package ontology

import (
	"fmt"
	"strings"
	"unicode"
)

// ParseError reports a Turtle syntax error with its source position.
type ParseError struct {
	Path    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
}

// ParseTurtle parses a Turtle document into the graph. The path is used
// only for error reporting. The supported grammar covers prefix and base
// directives, predicate-object and object lists, the `a` keyword, IRIs,
// prefixed names, blank node labels, and string, numeric, and boolean
// literals with optional datatype or language tag.
func ParseTurtle(g *Graph, path, input, baseIRI string) error {
	p := &turtleParser{
		graph: g,
		path:  path,
		input: input,
		base:  baseIRI,
		line:  1,
	}
	return p.parse()
}

type turtleParser struct {
	graph *Graph
	path  string
	input string
	base  string
	pos   int
	line  int
}

func (p *turtleParser) errorf(format string, args ...any) error {
	return &ParseError{Path: p.path, Line: p.line, Message: fmt.Sprintf(format, args...)}
}

func (p *turtleParser) parse() error {
	for {
		p.skipWhitespace()
		if p.pos >= len(p.input) {
			return nil
		}
		if err := p.parseStatement(); err != nil {
			return err
		}
	}
}

// parseStatement parses one directive or one triples block.
func (p *turtleParser) parseStatement() error {
	if p.hasKeyword("@prefix") || p.hasKeyword("PREFIX") {
		return p.parsePrefix()
	}
	if p.hasKeyword("@base") || p.hasKeyword("BASE") {
		return p.parseBase()
	}
	return p.parseTriples()
}

func (p *turtleParser) parsePrefix() error {
	directive := p.consumeKeyword()
	p.skipWhitespace()

	colon := strings.IndexByte(p.input[p.pos:], ':')
	if colon < 0 {
		return p.errorf("expected prefix name before ':'")
	}
	prefix := strings.TrimSpace(p.input[p.pos : p.pos+colon])
	p.advance(colon + 1)
	p.skipWhitespace()

	iri, err := p.parseIRIRef()
	if err != nil {
		return err
	}
	p.graph.BindPrefix(prefix, iri)

	p.skipWhitespace()
	// @prefix requires a terminating dot; SPARQL-style PREFIX does not.
	if strings.HasPrefix(directive, "@") {
		if !p.consumeByte('.') {
			return p.errorf("expected '.' after @prefix directive")
		}
	} else {
		p.consumeByte('.')
	}
	return nil
}

func (p *turtleParser) parseBase() error {
	directive := p.consumeKeyword()
	p.skipWhitespace()
	iri, err := p.parseIRIRef()
	if err != nil {
		return err
	}
	p.base = iri
	p.skipWhitespace()
	if strings.HasPrefix(directive, "@") {
		if !p.consumeByte('.') {
			return p.errorf("expected '.' after @base directive")
		}
	} else {
		p.consumeByte('.')
	}
	return nil
}

// parseTriples parses: subject predicateObjectList '.'
func (p *turtleParser) parseTriples() error {
	subject, err := p.parseTerm()
	if err != nil {
		return err
	}
	if subject.IsLiteral() {
		return p.errorf("literal cannot be a subject")
	}

	for {
		p.skipWhitespace()
		predicate, err := p.parsePredicate()
		if err != nil {
			return err
		}

		for {
			p.skipWhitespace()
			object, err := p.parseTerm()
			if err != nil {
				return err
			}
			p.graph.Add(Triple{Subject: subject, Predicate: predicate, Object: object})

			p.skipWhitespace()
			if p.consumeByte(',') {
				continue
			}
			break
		}

		if p.consumeByte(';') {
			p.skipWhitespace()
			// Trailing ';' before the final dot is legal Turtle.
			if p.peekByte() == '.' {
				break
			}
			continue
		}
		break
	}

	if !p.consumeByte('.') {
		return p.errorf("expected '.' at end of triples")
	}
	return nil
}

func (p *turtleParser) parsePredicate() (Term, error) {
	if p.peekByte() == 'a' && p.pos+1 <= len(p.input) {
		next := byte(' ')
		if p.pos+1 < len(p.input) {
			next = p.input[p.pos+1]
		}
		if next == ' ' || next == '\t' || next == '\n' || next == '\r' || next == '<' {
			p.advance(1)
			return IRI(RDFType), nil
		}
	}
	term, err := p.parseTerm()
	if err != nil {
		return Term{}, err
	}
	if !term.IsIRI() {
		return Term{}, p.errorf("predicate must be an IRI")
	}
	return term, nil
}

// parseTerm parses one IRI, prefixed name, blank node, or literal.
func (p *turtleParser) parseTerm() (Term, error) {
	p.skipWhitespace()
	if p.pos >= len(p.input) {
		return Term{}, p.errorf("unexpected end of input")
	}

	switch c := p.input[p.pos]; {
	case c == '<':
		iri, err := p.parseIRIRef()
		if err != nil {
			return Term{}, err
		}
		return IRI(iri), nil

	case c == '"':
		return p.parseStringLiteral()

	case c == '_' && p.pos+1 < len(p.input) && p.input[p.pos+1] == ':':
		p.advance(2)
		label := p.consumeLocalName()
		if label == "" {
			return Term{}, p.errorf("empty blank node label")
		}
		return Blank(label), nil

	case c == '+' || c == '-' || unicode.IsDigit(rune(c)):
		return p.parseNumericLiteral()

	default:
		word := p.peekWord()
		if word == "true" || word == "false" {
			p.advance(len(word))
			return TypedLiteral(word, XSDNamespace+"boolean"), nil
		}
		return p.parsePrefixedName()
	}
}

func (p *turtleParser) parseIRIRef() (string, error) {
	if !p.consumeByte('<') {
		return "", p.errorf("expected '<'")
	}
	end := strings.IndexByte(p.input[p.pos:], '>')
	if end < 0 {
		return "", p.errorf("unterminated IRI")
	}
	iri := p.input[p.pos : p.pos+end]
	p.advance(end + 1)
	if strings.ContainsAny(iri, " \t\n") {
		return "", p.errorf("whitespace in IRI <%s>", iri)
	}
	// Resolve relative IRIs against the base.
	if p.base != "" && !strings.Contains(iri, "://") && !strings.HasPrefix(iri, "urn:") {
		iri = p.base + iri
	}
	return iri, nil
}

func (p *turtleParser) parseStringLiteral() (Term, error) {
	p.advance(1) // opening quote
	var sb strings.Builder
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		switch c {
		case '\\':
			if p.pos+1 >= len(p.input) {
				return Term{}, p.errorf("unterminated escape sequence")
			}
			esc := p.input[p.pos+1]
			switch esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '"', '\\':
				sb.WriteByte(esc)
			default:
				return Term{}, p.errorf("unsupported escape '\\%c'", esc)
			}
			p.advance(2)
		case '"':
			p.advance(1)
			return p.parseLiteralSuffix(sb.String())
		case '\n':
			return Term{}, p.errorf("newline in string literal")
		default:
			sb.WriteByte(c)
			p.advance(1)
		}
	}
	return Term{}, p.errorf("unterminated string literal")
}

// parseLiteralSuffix handles an optional ^^datatype or @lang after a
// string literal body.
func (p *turtleParser) parseLiteralSuffix(value string) (Term, error) {
	if strings.HasPrefix(p.input[p.pos:], "^^") {
		p.advance(2)
		dt, err := p.parseTerm()
		if err != nil {
			return Term{}, err
		}
		if !dt.IsIRI() {
			return Term{}, p.errorf("datatype must be an IRI")
		}
		return TypedLiteral(value, dt.Value), nil
	}
	if p.peekByte() == '@' {
		p.advance(1)
		lang := p.consumeWhile(func(r byte) bool {
			return r == '-' || unicode.IsLetter(rune(r)) || unicode.IsDigit(rune(r))
		})
		if lang == "" {
			return Term{}, p.errorf("empty language tag")
		}
		return LangLiteral(value, lang), nil
	}
	return Literal(value), nil
}

func (p *turtleParser) parseNumericLiteral() (Term, error) {
	start := p.pos
	if c := p.peekByte(); c == '+' || c == '-' {
		p.advance(1)
	}
	p.consumeWhile(func(r byte) bool { return unicode.IsDigit(rune(r)) })
	datatype := XSDNamespace + "integer"
	if p.peekByte() == '.' && p.pos+1 < len(p.input) && unicode.IsDigit(rune(p.input[p.pos+1])) {
		p.advance(1)
		p.consumeWhile(func(r byte) bool { return unicode.IsDigit(rune(r)) })
		datatype = XSDNamespace + "decimal"
	}
	lexical := p.input[start:p.pos]
	if lexical == "" || lexical == "+" || lexical == "-" {
		return Term{}, p.errorf("malformed numeric literal")
	}
	return TypedLiteral(lexical, datatype), nil
}

func (p *turtleParser) parsePrefixedName() (Term, error) {
	start := p.pos
	prefix := p.consumeWhile(func(r byte) bool {
		return r == '.' || r == '-' || r == '_' || unicode.IsLetter(rune(r)) || unicode.IsDigit(rune(r))
	})
	if !p.consumeByte(':') {
		p.pos = start
		return Term{}, p.errorf("unexpected token %q", p.peekWord())
	}
	local := p.consumeLocalName()
	name := prefix + ":" + local
	expanded := p.graph.ExpandPrefixed(name)
	if expanded == name {
		return Term{}, p.errorf("unknown prefix %q", prefix+":")
	}
	return IRI(expanded), nil
}

func (p *turtleParser) consumeLocalName() string {
	name := p.consumeWhile(func(r byte) bool {
		return r == '-' || r == '_' || r == '.' || unicode.IsLetter(rune(r)) || unicode.IsDigit(rune(r))
	})
	// A trailing dot terminates the statement, it is not part of the name.
	for strings.HasSuffix(name, ".") {
		name = name[:len(name)-1]
		p.pos--
	}
	return name
}

func (p *turtleParser) skipWhitespace() {
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		switch c {
		case ' ', '\t', '\r':
			p.advance(1)
		case '\n':
			p.line++
			p.advance(1)
		case '#':
			for p.pos < len(p.input) && p.input[p.pos] != '\n' {
				p.advance(1)
			}
		default:
			return
		}
	}
}

func (p *turtleParser) advance(n int) { p.pos += n }

func (p *turtleParser) peekByte() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *turtleParser) consumeByte(c byte) bool {
	if p.peekByte() == c {
		p.advance(1)
		return true
	}
	return false
}

func (p *turtleParser) consumeWhile(pred func(byte) bool) string {
	start := p.pos
	for p.pos < len(p.input) && pred(p.input[p.pos]) {
		p.advance(1)
	}
	return p.input[start:p.pos]
}

func (p *turtleParser) peekWord() string {
	end := p.pos
	for end < len(p.input) {
		c := p.input[end]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '.' || c == ';' || c == ',' || c == '<' || c == '"' {
			break
		}
		end++
	}
	return p.input[p.pos:end]
}

func (p *turtleParser) hasKeyword(kw string) bool {
	if !strings.HasPrefix(p.input[p.pos:], kw) {
		return false
	}
	after := p.pos + len(kw)
	if after >= len(p.input) {
		return true
	}
	c := p.input[after]
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func (p *turtleParser) consumeKeyword() string {
	word := p.peekWord()
	p.advance(len(word))
	return word
}

package criteria

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Parse reads a criteria expression such as
//
//	name = 'Acme' AND (rank > 3 OR NOT active = TRUE)
//
// Identifiers are property names. Literals are single- or double-quoted
// strings (a doubled quote escapes it), numbers, TRUE, FALSE, and NULL.
// Operators are = <> != < <= > >= LIKE, NOT LIKE, IS [NOT] NULL, and
// [NOT] IN (...). An empty expression returns nil, which matches everything.
func Parse(expr string) (Criteria, error) {
	toks, err := lex(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	if p.peek().kind == tokEOF {
		return nil, nil
	}
	c, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected %q", t.text)
	}
	return c, nil
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokIdent
	tokString
	tokNumber
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokKind
	text string
	pos  int
}

func lex(s string) ([]token, error) {
	var toks []token
	rs := []rune(s)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case r == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case r == ',':
			toks = append(toks, token{tokComma, ",", i})
			i++
		case r == '\'' || r == '"':
			start := i
			var b strings.Builder
			i++
			closed := false
			for i < len(rs) {
				if rs[i] == r {
					if i+1 < len(rs) && rs[i+1] == r {
						b.WriteRune(r)
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				b.WriteRune(rs[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("position %d: unterminated string: %w", start, ErrInvalidCriteria)
			}
			toks = append(toks, token{tokString, b.String(), start})
		case strings.ContainsRune("=<>!", r):
			start := i
			op := string(r)
			if i+1 < len(rs) && (rs[i+1] == '=' || (r == '<' && rs[i+1] == '>')) {
				op += string(rs[i+1])
			}
			i += len([]rune(op))
			if op == "!" {
				return nil, fmt.Errorf("position %d: unexpected '!': %w", start, ErrInvalidCriteria)
			}
			switch op {
			case "!=":
				op = string(OpNe)
			case "==":
				op = string(OpEq)
			}
			toks = append(toks, token{tokOp, op, start})
		case unicode.IsDigit(r) || ((r == '-' || r == '.') && i+1 < len(rs) && unicode.IsDigit(rs[i+1])):
			start := i
			i++
			for i < len(rs) && (unicode.IsDigit(rs[i]) || strings.ContainsRune(".eE", rs[i]) ||
				((rs[i] == '-' || rs[i] == '+') && (rs[i-1] == 'e' || rs[i-1] == 'E'))) {
				i++
			}
			toks = append(toks, token{tokNumber, string(rs[start:i]), start})
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(rs) && (unicode.IsLetter(rs[i]) || unicode.IsDigit(rs[i]) || rs[i] == '_' || rs[i] == '.') {
				i++
			}
			toks = append(toks, token{tokIdent, string(rs[start:i]), start})
		default:
			return nil, fmt.Errorf("position %d: unexpected %q: %w", i, r, ErrInvalidCriteria)
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(rs)}), nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) keyword(word string) bool {
	t := p.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, word) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return fmt.Errorf("position %d: %s: %w", t.pos, fmt.Sprintf(format, args...), ErrInvalidCriteria)
}

func (p *parser) parseOr() (Criteria, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	terms := []Criteria{left}
	for p.keyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, right)
	}
	return AnyOf(terms...), nil
}

func (p *parser) parseAnd() (Criteria, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	terms := []Criteria{left}
	for p.keyword("AND") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		terms = append(terms, right)
	}
	return AllOf(terms...), nil
}

func (p *parser) parseUnary() (Criteria, error) {
	if p.keyword("NOT") {
		term, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Negate(term), nil
	}
	if p.peek().kind == tokLParen {
		p.next()
		c, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if t := p.next(); t.kind != tokRParen {
			return nil, p.errorf(t, "expected ')'")
		}
		return c, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Criteria, error) {
	prop := p.next()
	if prop.kind != tokIdent || isReserved(prop.text) {
		return nil, p.errorf(prop, "expected property name, got %q", prop.text)
	}

	switch {
	case p.keyword("IS"):
		op := OpIs
		if p.keyword("NOT") {
			op = OpIsNot
		}
		if !p.keyword("NULL") {
			return nil, p.errorf(p.peek(), "expected NULL")
		}
		return Comparison{Property: prop.text, Op: op}, nil
	case p.keyword("NOT"):
		switch {
		case p.keyword("LIKE"):
			pattern, err := p.parsePattern()
			if err != nil {
				return nil, err
			}
			return Comparison{Property: prop.text, Op: OpNotLike, Value: pattern}, nil
		case p.keyword("IN"):
			values, err := p.parseList()
			if err != nil {
				return nil, err
			}
			return Negate(In(prop.text, values...)), nil
		}
		return nil, p.errorf(p.peek(), "expected LIKE or IN after NOT")
	case p.keyword("LIKE"):
		pattern, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		return Like(prop.text, pattern), nil
	case p.keyword("IN"):
		values, err := p.parseList()
		if err != nil {
			return nil, err
		}
		return In(prop.text, values...), nil
	}

	opTok := p.next()
	if opTok.kind != tokOp {
		return nil, p.errorf(opTok, "expected operator after %s", prop.text)
	}
	value, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	return Comparison{Property: prop.text, Op: Op(opTok.text), Value: value}, nil
}

func (p *parser) parsePattern() (string, error) {
	t := p.next()
	if t.kind != tokString {
		return "", p.errorf(t, "expected quoted pattern")
	}
	return t.text, nil
}

func (p *parser) parseList() ([]any, error) {
	if t := p.next(); t.kind != tokLParen {
		return nil, p.errorf(t, "expected '('")
	}
	var values []any
	for {
		v, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		t := p.next()
		if t.kind == tokRParen {
			return values, nil
		}
		if t.kind != tokComma {
			return nil, p.errorf(t, "expected ',' or ')'")
		}
	}
}

func (p *parser) parseLiteral() (any, error) {
	t := p.next()
	switch t.kind {
	case tokString:
		return t.text, nil
	case tokNumber:
		if n, err := strconv.ParseInt(t.text, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.errorf(t, "bad number %q", t.text)
		}
		return f, nil
	case tokIdent:
		switch strings.ToUpper(t.text) {
		case "NULL":
			return nil, nil
		case "TRUE":
			return true, nil
		case "FALSE":
			return false, nil
		}
	}
	return nil, p.errorf(t, "expected literal, got %q", t.text)
}

var reserved = map[string]bool{
	"AND": true, "OR": true, "NOT": true, "IS": true, "NULL": true,
	"LIKE": true, "IN": true, "TRUE": true, "FALSE": true,
}

func isReserved(word string) bool {
	return reserved[strings.ToUpper(word)]
}

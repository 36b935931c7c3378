// Package features maintains feature toggle state and resolves conditional
// rules deterministically.
package features

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Context is the read-only state a rule condition is evaluated against.
// Identifiers with dots resolve into nested maps, e.g.
// "features.analysis.enabled" looks up Context["features"]["analysis"]["enabled"].
type Context map[string]any

// Lookup resolves a dotted path. Missing segments resolve to nil rather than
// an error so rules can test for absence.
func (c Context) Lookup(path string) any {
	var current any = map[string]any(c)
	for _, seg := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[seg]
	}
	return current
}

// EvalCondition evaluates a rule condition expression against ctx.
//
// The grammar is deliberately restricted: identifiers, number/string/bool/null
// literals, comparisons (== != < <= > >=), boolean operators (&& || !), and
// parentheses. There is no function call, indexing, or assignment surface.
func EvalCondition(condition string, ctx Context) (bool, error) {
	p := &parser{input: condition, ctx: ctx}
	p.next()
	v, err := p.parseOr()
	if err != nil {
		return false, err
	}
	if p.tok.kind != tokEOF {
		return false, fmt.Errorf("unexpected %q at position %d", p.tok.text, p.tok.pos)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("condition did not evaluate to a boolean (got %T)", v)
	}
	return b, nil
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type parser struct {
	input string
	pos   int
	tok   token
	ctx   Context
}

func (p *parser) next() {
	for p.pos < len(p.input) && unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
	start := p.pos
	if p.pos >= len(p.input) {
		p.tok = token{kind: tokEOF, pos: start}
		return
	}
	ch := p.input[p.pos]
	switch {
	case ch == '(':
		p.pos++
		p.tok = token{kind: tokLParen, text: "(", pos: start}
	case ch == ')':
		p.pos++
		p.tok = token{kind: tokRParen, text: ")", pos: start}
	case ch == '\'' || ch == '"':
		quote := ch
		p.pos++
		for p.pos < len(p.input) && p.input[p.pos] != quote {
			p.pos++
		}
		text := p.input[start+1 : p.pos]
		if p.pos < len(p.input) {
			p.pos++ // closing quote
		}
		p.tok = token{kind: tokString, text: text, pos: start}
	case isDigit(ch) || (ch == '-' && p.pos+1 < len(p.input) && isDigit(p.input[p.pos+1])):
		p.pos++
		for p.pos < len(p.input) && (isDigit(p.input[p.pos]) || p.input[p.pos] == '.') {
			p.pos++
		}
		p.tok = token{kind: tokNumber, text: p.input[start:p.pos], pos: start}
	case isIdentStart(ch):
		for p.pos < len(p.input) && isIdentPart(p.input[p.pos]) {
			p.pos++
		}
		p.tok = token{kind: tokIdent, text: p.input[start:p.pos], pos: start}
	default:
		for _, op := range []string{"==", "!=", "<=", ">=", "&&", "||", "<", ">", "!"} {
			if strings.HasPrefix(p.input[p.pos:], op) {
				p.pos += len(op)
				p.tok = token{kind: tokOp, text: op, pos: start}
				return
			}
		}
		p.tok = token{kind: tokOp, text: string(ch), pos: start}
		p.pos++
	}
}

func isDigit(ch byte) bool      { return ch >= '0' && ch <= '9' }
func isIdentStart(ch byte) bool { return ch == '_' || unicode.IsLetter(rune(ch)) }
func isIdentPart(ch byte) bool  { return isIdentStart(ch) || isDigit(ch) || ch == '.' }

func (p *parser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && p.tok.text == "||" {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		lb, rb, err := bothBool(left, right, "||")
		if err != nil {
			return nil, err
		}
		left = lb || rb
	}
	return left, nil
}

func (p *parser) parseAnd() (any, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && p.tok.text == "&&" {
		p.next()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		lb, rb, err := bothBool(left, right, "&&")
		if err != nil {
			return nil, err
		}
		left = lb && rb
	}
	return left, nil
}

func (p *parser) parseComparison() (any, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if p.tok.kind == tokOp {
		op := p.tok.text
		switch op {
		case "==", "!=", "<", "<=", ">", ">=":
			p.next()
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			return compare(left, right, op)
		}
	}
	return left, nil
}

func (p *parser) parseUnary() (any, error) {
	if p.tok.kind == tokOp && p.tok.text == "!" {
		p.next()
		v, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("operand of ! is not a boolean (got %T)", v)
		}
		return !b, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (any, error) {
	switch p.tok.kind {
	case tokLParen:
		p.next()
		v, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, fmt.Errorf("missing closing parenthesis at position %d", p.tok.pos)
		}
		p.next()
		return v, nil
	case tokNumber:
		f, err := strconv.ParseFloat(p.tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", p.tok.text, err)
		}
		p.next()
		return f, nil
	case tokString:
		s := p.tok.text
		p.next()
		return s, nil
	case tokIdent:
		text := p.tok.text
		p.next()
		switch text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null":
			return nil, nil
		}
		return p.ctx.Lookup(text), nil
	case tokEOF:
		return nil, fmt.Errorf("unexpected end of condition")
	default:
		return nil, fmt.Errorf("unexpected %q at position %d", p.tok.text, p.tok.pos)
	}
}

func bothBool(left, right any, op string) (bool, bool, error) {
	lb, lok := left.(bool)
	rb, rok := right.(bool)
	if !lok || !rok {
		return false, false, fmt.Errorf("operands of %s are not booleans", op)
	}
	return lb, rb, nil
}

func compare(left, right any, op string) (any, error) {
	switch op {
	case "==":
		return looseEqual(left, right), nil
	case "!=":
		return !looseEqual(left, right), nil
	}
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if !lok || !rok {
		return nil, fmt.Errorf("operands of %s are not numeric", op)
	}
	switch op {
	case "<":
		return lf < rf, nil
	case "<=":
		return lf <= rf, nil
	case ">":
		return lf > rf, nil
	case ">=":
		return lf >= rf, nil
	}
	return nil, fmt.Errorf("unknown operator %q", op)
}

func looseEqual(left, right any) bool {
	if lf, ok := toFloat(left); ok {
		if rf, ok := toFloat(right); ok {
			return lf == rf
		}
		return false
	}
	return left == right
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

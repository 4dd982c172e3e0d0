package exprtree

import (
	"strings"

	"github.com/pkg/errors"
)

// tokenKind discriminates lexer tokens.
type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenNumber
	tokenString
	tokenPunct // single or double character operators and delimiters
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lexer splits a formula body into tokens. Identifier tokens are maximal
// runs of letters, digits and underscores, so "result0" is one identifier
// and placeholder matching gets its boundary checks from lexing itself.
type lexer struct {
	input  string
	pos    int
	tokens []token
}

// twoCharOps are the recognized double-character operators.
var twoCharOps = []string{"==", "!=", "<=", ">=", "&&", "||"}

const singleCharPunct = "+-*/%<>!?:.,()[]{}"

func lex(input string) ([]token, error) {
	l := &lexer{input: input}
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			l.pos++
		case isIdentStart(c):
			l.lexIdent()
		case c >= '0' && c <= '9':
			l.lexNumber()
		case c == '"' || c == '\'':
			if err := l.lexString(c); err != nil {
				return nil, err
			}
		default:
			if op := l.peekTwoCharOp(); op != "" {
				l.emit(tokenPunct, op)
				l.pos += 2
			} else if strings.IndexByte(singleCharPunct, c) >= 0 {
				l.emit(tokenPunct, string(c))
				l.pos++
			} else {
				return nil, errors.Errorf("unexpected character %q at offset %d in %q", c, l.pos, l.input)
			}
		}
	}
	l.emit(tokenEOF, "")
	return l.tokens, nil
}

func (l *lexer) emit(kind tokenKind, text string) {
	l.tokens = append(l.tokens, token{kind: kind, text: text, pos: l.pos})
}

func (l *lexer) peekTwoCharOp() string {
	if l.pos+2 > len(l.input) {
		return ""
	}
	pair := l.input[l.pos : l.pos+2]
	for _, op := range twoCharOps {
		if pair == op {
			return op
		}
	}
	return ""
}

func (l *lexer) lexIdent() {
	start := l.pos
	for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
		l.pos++
	}
	l.tokens = append(l.tokens, token{kind: tokenIdent, text: l.input[start:l.pos], pos: start})
}

func (l *lexer) lexNumber() {
	start := l.pos
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if (c >= '0' && c <= '9') || c == '.' || c == 'e' || c == 'E' ||
			((c == '+' || c == '-') && l.pos > start && (l.input[l.pos-1] == 'e' || l.input[l.pos-1] == 'E')) {
			l.pos++
			continue
		}
		break
	}
	l.tokens = append(l.tokens, token{kind: tokenNumber, text: l.input[start:l.pos], pos: start})
}

func (l *lexer) lexString(quote byte) error {
	start := l.pos
	l.pos++
	for l.pos < len(l.input) && l.input[l.pos] != quote {
		l.pos++
	}
	if l.pos == len(l.input) {
		return errors.Errorf("unterminated string literal at offset %d in %q", start, l.input)
	}
	l.pos++
	l.tokens = append(l.tokens, token{kind: tokenString, text: l.input[start:l.pos], pos: start})
	return nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// parser is a recursive-descent / precedence-climbing parser over the token
// stream.
type parser struct {
	tokens []token
	pos    int
	input  string
}

// Parse parses one complete formula body expression.
func Parse(input string) (Node, error) {
	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens, input: input}
	node, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokenEOF {
		return nil, errors.Errorf("trailing input %q at offset %d in %q", p.peek().text, p.peek().pos, input)
	}
	return node, nil
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	p.pos++
	return t
}

func (p *parser) accept(text string) bool {
	if p.peek().kind == tokenPunct && p.peek().text == text {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(text string) error {
	if !p.accept(text) {
		return errors.Errorf("expected %q, got %q at offset %d in %q", text, p.peek().text, p.peek().pos, p.input)
	}
	return nil
}

// parseTernary handles the lowest-precedence, right-associative "?:".
func (p *parser) parseTernary() (Node, error) {
	cond, err := p.parseBinary(0)
	if err != nil {
		return nil, err
	}
	if !p.accept("?") {
		return cond, nil
	}
	then, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	if err := p.expect(":"); err != nil {
		return nil, err
	}
	otherwise, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	return &Ternary{Cond: cond, Then: then, Else: otherwise}, nil
}

// binaryPrecedence orders the infix operators; higher binds tighter.
func binaryPrecedence(op string) int {
	switch op {
	case "||":
		return 1
	case "&&":
		return 2
	case "==", "!=", "<", "<=", ">", ">=":
		return 3
	case "+", "-":
		return 4
	case "*", "/", "%":
		return 5
	}
	return 0
}

func (p *parser) parseBinary(minPrecedence int) (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokenPunct {
			return left, nil
		}
		precedence := binaryPrecedence(t.text)
		if precedence == 0 || precedence < minPrecedence {
			return left, nil
		}
		p.next()
		right, err := p.parseBinary(precedence + 1)
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: t.text, L: left, R: right}
	}
}

func (p *parser) parseUnary() (Node, error) {
	if t := p.peek(); t.kind == tokenPunct && (t.text == "-" || t.text == "!") {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: t.text, X: x}, nil
	}
	return p.parsePostfix()
}

// parsePostfix parses a primary expression followed by any chain of calls,
// indexes and field accesses.
func (p *parser) parsePostfix() (Node, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.accept("."):
			t := p.next()
			if t.kind != tokenIdent {
				return nil, errors.Errorf("expected identifier after '.', got %q at offset %d in %q", t.text, t.pos, p.input)
			}
			if p.accept("(") {
				args, err := p.parseArgs()
				if err != nil {
					return nil, err
				}
				node = &Call{Recv: node, Name: t.text, Args: args}
			} else {
				node = &Field{X: node, Name: t.text}
			}
		case p.accept("["):
			index, err := p.parseTernary()
			if err != nil {
				return nil, err
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			node = &Index{X: node, I: index}
		default:
			return node, nil
		}
	}
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.next()
	switch t.kind {
	case tokenIdent:
		if p.accept("(") {
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			return &Call{Name: t.text, Args: args}, nil
		}
		return &Ident{Name: t.text}, nil
	case tokenNumber:
		return &Number{Text: t.text}, nil
	case tokenString:
		return &String{Text: t.text}, nil
	case tokenPunct:
		switch t.text {
		case "(":
			node, err := p.parseTernary()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return node, nil
		case "{":
			var elems []Node
			if !p.accept("}") {
				for {
					elem, err := p.parseTernary()
					if err != nil {
						return nil, err
					}
					elems = append(elems, elem)
					if !p.accept(",") {
						break
					}
				}
				if err := p.expect("}"); err != nil {
					return nil, err
				}
			}
			return &List{Elems: elems}, nil
		}
	}
	return nil, errors.Errorf("unexpected token %q at offset %d in %q", t.text, t.pos, p.input)
}

// parseArgs parses a call argument list; the opening "(" was consumed.
func (p *parser) parseArgs() ([]Node, error) {
	var args []Node
	if p.accept(")") {
		return args, nil
	}
	for {
		arg, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if !p.accept(",") {
			break
		}
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	return args, nil
}

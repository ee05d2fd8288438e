// Package expr parses the restricted arithmetic grammar used for derived
// metrics: identifiers, decimal literals, + - * /, unary minus, parentheses
// and the ttm(...) function.
//
//	expr    := term (("+" | "-") term)*
//	term    := unary (("*" | "/") unary)*
//	unary   := "-" unary | primary
//	primary := number | ident | ident "(" expr ")" | "(" expr ")"
package expr

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/finmetrics/grounding/internal/apperrors"
)

const (
	maxLength = 512
	maxDepth  = 32
)

// Functions callable from expressions.
const FuncTTM = "ttm"

// NodeKind is the type of a parse-tree node.
type NodeKind int

const (
	NodeNumber NodeKind = iota
	NodeIdent
	NodeBinary
	NodeNeg
	NodeCall
)

// Node is one node of a parsed expression.
type Node struct {
	Kind  NodeKind
	Op    byte
	Name  string
	Value decimal.Decimal
	Left  *Node
	Right *Node
	Pos   int
}

// String renders the node back as a fully parenthesised expression.
func (n *Node) String() string {
	switch n.Kind {
	case NodeNumber:
		return n.Value.String()
	case NodeIdent:
		return n.Name
	case NodeNeg:
		return "-" + n.Left.String()
	case NodeCall:
		return n.Name + "(" + n.Left.String() + ")"
	case NodeBinary:
		return "(" + n.Left.String() + " " + string(n.Op) + " " + n.Right.String() + ")"
	}
	return "?"
}

// Identifiers returns the distinct identifiers in order of first appearance,
// left to right.
func Identifiers(n *Node) []string {
	var out []string
	seen := map[string]bool{}
	Walk(n, func(n *Node) {
		if n.Kind == NodeIdent && !seen[n.Name] {
			seen[n.Name] = true
			out = append(out, n.Name)
		}
	})
	return out
}

// Walk visits nodes in evaluation order: children left to right, then the node.
func Walk(n *Node, fn func(*Node)) {
	if n == nil {
		return
	}
	Walk(n.Left, fn)
	Walk(n.Right, fn)
	fn(n)
}

// Validate checks every identifier with known and reports all unknown names
// in one invalid_expression error.
func Validate(n *Node, known func(name string) bool) error {
	var unknown []string
	for _, id := range Identifiers(n) {
		if !known(id) {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return apperrors.New(apperrors.KindInvalidExpression,
			"unknown identifiers: "+strings.Join(unknown, ", ")).
			With("unknown_identifiers", unknown)
	}
	return nil
}

// Parse turns src into a tree. Syntax errors are invalid_expression errors
// carrying the byte offset of the problem.
func Parse(src string) (*Node, error) {
	if strings.TrimSpace(src) == "" {
		return nil, apperrors.New(apperrors.KindInvalidExpression, "expression is empty")
	}
	if len(src) > maxLength {
		return nil, apperrors.New(apperrors.KindInvalidExpression,
			fmt.Sprintf("expression longer than %d characters", maxLength))
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.expr(0)
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, syntaxError(t.pos, fmt.Sprintf("unexpected %q", t.text))
	}
	return n, nil
}

func syntaxError(pos int, msg string) error {
	return apperrors.New(apperrors.KindInvalidExpression, fmt.Sprintf("%s at offset %d", msg, pos)).
		With("offset", pos)
}

type parser struct {
	toks []token
	i    int
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) expr(depth int) (*Node, error) {
	if depth > maxDepth {
		return nil, syntaxError(p.peek().pos, "expression nested too deeply")
	}
	left, err := p.term(depth)
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "+" && t.text != "-") {
			return left, nil
		}
		p.next()
		right, err := p.term(depth)
		if err != nil {
			return nil, err
		}
		left = &Node{Kind: NodeBinary, Op: t.text[0], Left: left, Right: right, Pos: t.pos}
	}
}

func (p *parser) term(depth int) (*Node, error) {
	left, err := p.unary(depth)
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "*" && t.text != "/") {
			return left, nil
		}
		p.next()
		right, err := p.unary(depth)
		if err != nil {
			return nil, err
		}
		left = &Node{Kind: NodeBinary, Op: t.text[0], Left: left, Right: right, Pos: t.pos}
	}
}

func (p *parser) unary(depth int) (*Node, error) {
	t := p.peek()
	if t.kind == tokOp && t.text == "-" {
		p.next()
		if depth > maxDepth {
			return nil, syntaxError(t.pos, "expression nested too deeply")
		}
		operand, err := p.unary(depth + 1)
		if err != nil {
			return nil, err
		}
		return &Node{Kind: NodeNeg, Left: operand, Pos: t.pos}, nil
	}
	return p.primary(depth)
}

func (p *parser) primary(depth int) (*Node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		v, err := decimal.NewFromString(t.text)
		if err != nil {
			return nil, syntaxError(t.pos, fmt.Sprintf("invalid number %q", t.text))
		}
		return &Node{Kind: NodeNumber, Value: v, Pos: t.pos}, nil

	case tokIdent:
		if p.peek().kind != tokLParen {
			return &Node{Kind: NodeIdent, Name: t.text, Pos: t.pos}, nil
		}
		if t.text != FuncTTM {
			return nil, syntaxError(t.pos, fmt.Sprintf("unknown function %q", t.text))
		}
		p.next()
		arg, err := p.expr(depth + 1)
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != tokRParen {
			return nil, syntaxError(c.pos, "expected \")\"")
		}
		return &Node{Kind: NodeCall, Name: t.text, Left: arg, Pos: t.pos}, nil

	case tokLParen:
		inner, err := p.expr(depth + 1)
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != tokRParen {
			return nil, syntaxError(c.pos, "expected \")\"")
		}
		return inner, nil

	case tokEOF:
		return nil, syntaxError(t.pos, "unexpected end of expression")
	}
	return nil, syntaxError(t.pos, fmt.Sprintf("unexpected %q", t.text))
}

// Package exprtree implements the small expression grammar embedded in
// derivative formula bodies: identifiers, literals, brace list literals,
// calls and dot-calls, field access, indexing, unary and binary operators,
// and the ternary conditional.
//
// Formula rewriting is structural: the body is parsed into a tree, rewritten
// node by node, and re-printed. Plain text substitution would corrupt bodies
// where one rewrite's output overlaps another's input.
package exprtree

import "strings"

// Node is one expression tree node.
type Node interface {
	// print appends the node's source form to b.
	print(b *strings.Builder)
}

// Ident is a bare identifier.
type Ident struct {
	Name string
}

// Number is an integer or float literal, kept as written.
type Number struct {
	Text string
}

// String is a quoted string literal, kept as written including quotes.
type String struct {
	Text string
}

// List is a brace-delimited list literal "{a, b}". Printing translates it
// into the target sequence literal.
type List struct {
	Elems []Node
}

// Call is a function or method call. Recv is nil for a bare call
// "name(args)" and non-nil for a dot-qualified call "recv.name(args)".
type Call struct {
	Recv Node
	Name string
	Args []Node
}

// Field is a plain field access "x.name" (no call).
type Field struct {
	X    Node
	Name string
}

// Index is a subscript "x[i]".
type Index struct {
	X Node
	I Node
}

// Unary is a prefix operator application.
type Unary struct {
	Op string
	X  Node
}

// Binary is an infix operator application.
type Binary struct {
	Op   string
	L, R Node
}

// Ternary is the conditional "cond ? then : else".
type Ternary struct {
	Cond, Then, Else Node
}

func (n *Ident) print(b *strings.Builder)  { b.WriteString(n.Name) }
func (n *Number) print(b *strings.Builder) { b.WriteString(n.Text) }
func (n *String) print(b *strings.Builder) { b.WriteString(n.Text) }

func (n *List) print(b *strings.Builder) {
	b.WriteString("[]int64{")
	for i, elem := range n.Elems {
		if i > 0 {
			b.WriteString(", ")
		}
		elem.print(b)
	}
	b.WriteString("}")
}

func (n *Call) print(b *strings.Builder) {
	if n.Recv != nil {
		printOperand(b, n.Recv)
		b.WriteString(".")
	}
	b.WriteString(n.Name)
	b.WriteString("(")
	for i, arg := range n.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		arg.print(b)
	}
	b.WriteString(")")
}

func (n *Field) print(b *strings.Builder) {
	printOperand(b, n.X)
	b.WriteString(".")
	b.WriteString(n.Name)
}

func (n *Index) print(b *strings.Builder) {
	printOperand(b, n.X)
	b.WriteString("[")
	n.I.print(b)
	b.WriteString("]")
}

func (n *Unary) print(b *strings.Builder) {
	b.WriteString(n.Op)
	printOperand(b, n.X)
}

func (n *Binary) print(b *strings.Builder) {
	printOperand(b, n.L)
	b.WriteString(" ")
	b.WriteString(n.Op)
	b.WriteString(" ")
	printOperand(b, n.R)
}

func (n *Ternary) print(b *strings.Builder) {
	printOperand(b, n.Cond)
	b.WriteString(" ? ")
	printOperand(b, n.Then)
	b.WriteString(" : ")
	printOperand(b, n.Else)
}

// printOperand parenthesizes compound operands. Re-printing is for
// generated output, so uniform parenthesization beats tracking original
// precedence: it is deterministic and never changes meaning.
func printOperand(b *strings.Builder, n Node) {
	switch n.(type) {
	case *Binary, *Ternary, *Unary:
		b.WriteString("(")
		n.print(b)
		b.WriteString(")")
	default:
		n.print(b)
	}
}

// Print returns the node's source form.
func Print(n Node) string {
	var b strings.Builder
	n.print(&b)
	return b.String()
}

// Transform rebuilds the tree bottom-up, replacing every node by f(node)
// after its children have been transformed. f must return a node (possibly
// its argument unchanged).
func Transform(n Node, f func(Node) Node) Node {
	switch t := n.(type) {
	case *Ident, *Number, *String:
		// Leaves.
	case *List:
		elems := make([]Node, len(t.Elems))
		for i, elem := range t.Elems {
			elems[i] = Transform(elem, f)
		}
		n = &List{Elems: elems}
	case *Call:
		call := &Call{Name: t.Name, Args: make([]Node, len(t.Args))}
		if t.Recv != nil {
			call.Recv = Transform(t.Recv, f)
		}
		for i, arg := range t.Args {
			call.Args[i] = Transform(arg, f)
		}
		n = call
	case *Field:
		n = &Field{X: Transform(t.X, f), Name: t.Name}
	case *Index:
		n = &Index{X: Transform(t.X, f), I: Transform(t.I, f)}
	case *Unary:
		n = &Unary{Op: t.Op, X: Transform(t.X, f)}
	case *Binary:
		n = &Binary{Op: t.Op, L: Transform(t.L, f), R: Transform(t.R, f)}
	case *Ternary:
		n = &Ternary{
			Cond: Transform(t.Cond, f),
			Then: Transform(t.Then, f),
			Else: Transform(t.Else, f),
		}
	}
	return f(n)
}

// Walk visits every node in the tree, parents before children, stopping a
// branch when f returns false.
func Walk(n Node, f func(Node) bool) {
	if !f(n) {
		return
	}
	switch t := n.(type) {
	case *List:
		for _, elem := range t.Elems {
			Walk(elem, f)
		}
	case *Call:
		if t.Recv != nil {
			Walk(t.Recv, f)
		}
		for _, arg := range t.Args {
			Walk(arg, f)
		}
	case *Field:
		Walk(t.X, f)
	case *Index:
		Walk(t.X, f)
		Walk(t.I, f)
	case *Unary:
		Walk(t.X, f)
	case *Binary:
		Walk(t.L, f)
		Walk(t.R, f)
	case *Ternary:
		Walk(t.Cond, f)
		Walk(t.Then, f)
		Walk(t.Else, f)
	}
}

package exprtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reprint parses the input and prints it back.
func reprint(t *testing.T, input string) string {
	t.Helper()
	node, err := Parse(input)
	require.NoErrorf(t, err, "input %q", input)
	return Print(node)
}

func TestParseAndPrint(t *testing.T) {
	testCases := []struct{ input, want string }{
		{"grad", "grad"},
		{"grad * self", "grad * self"},
		{"a + b * c", "a + (b * c)"},
		{"(a + b) * c", "(a + b) * c"},
		{"-grad", "-grad"},
		{"!flag", "!flag"},
		{"grad.mm(weight)", "grad.mm(weight)"},
		{"foo(a, b)", "foo(a, b)"},
		{"foo(a, b)[0]", "foo(a, b)[0]"},
		{"x.t().mm(y)", "x.t().mm(y)"},
		{"result1", "result1"},
		{"a == b ? c : d", "(a == b) ? c : d"},
		{"cond ? a : b", "cond ? a : b"},
		{"foo(grad * 2, self)", "foo(grad * 2, self)"},
		{`foo("reduction")`, `foo("reduction")`},
		{"a / (b + 1e-12)", "a / (b + 1e-12)"},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, reprint(t, tc.input), "input %q", tc.input)
	}
}

// Brace list literals are translated to the target sequence literal when
// re-printed.
func TestListLiteralTranslation(t *testing.T) {
	assert.Equal(t, "[]int64{0, 1}", reprint(t, "{0, 1}"))
	assert.Equal(t, "[]int64{}", reprint(t, "{}"))
	assert.Equal(t, "foo(self, []int64{2, 2})", reprint(t, "foo(self, {2, 2})"))
}

func TestParseTernaryRightAssociative(t *testing.T) {
	node, err := Parse("a ? b : c ? d : e")
	require.NoError(t, err)
	ternary, ok := node.(*Ternary)
	require.True(t, ok)
	assert.IsType(t, &Ident{}, ternary.Then)
	assert.IsType(t, &Ternary{}, ternary.Else)
}

func TestParseErrors(t *testing.T) {
	for _, input := range []string{
		"",
		"foo(",
		"a +",
		"a ? b",
		"(a",
		"x[1",
		`"unterminated`,
		"a $ b",
		"foo(a) extra",
	} {
		_, err := Parse(input)
		assert.Errorf(t, err, "input %q should not parse", input)
	}
}

// Identifier boundaries come from lexing: "output0" must be one token, not
// "output" plus "0".
func TestLexIdentifierBoundaries(t *testing.T) {
	node, err := Parse("output0 + output")
	require.NoError(t, err)
	binary, ok := node.(*Binary)
	require.True(t, ok)
	assert.Equal(t, "output0", binary.L.(*Ident).Name)
	assert.Equal(t, "output", binary.R.(*Ident).Name)
}

func TestTransform(t *testing.T) {
	node, err := Parse("foo(self) + foo(self)")
	require.NoError(t, err)
	renamed := Transform(node, func(n Node) Node {
		if call, ok := n.(*Call); ok && call.Recv == nil && call.Name == "foo" {
			return &Call{Name: "Foo", Args: call.Args}
		}
		return n
	})
	assert.Equal(t, "Foo(self) + Foo(self)", Print(renamed))
	// The original tree is untouched.
	assert.Equal(t, "foo(self) + foo(self)", Print(node))
}

func TestWalk(t *testing.T) {
	node, err := Parse("a.bar(b[0], c ? d : {1})")
	require.NoError(t, err)
	var idents []string
	Walk(node, func(n Node) bool {
		if ident, ok := n.(*Ident); ok {
			idents = append(idents, ident.Name)
		}
		return true
	})
	assert.Equal(t, []string{"a", "b", "c", "d"}, idents)
}

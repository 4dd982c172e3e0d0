package formula

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/atgen/internal/declarations"
	"github.com/gomlx/atgen/internal/diag"
	"github.com/gomlx/atgen/internal/procs"
)

func TestParseHeader(t *testing.T) {
	header, err := ParseHeader("addmm(Tensor self, Tensor mat1, Tensor mat2, Scalar beta, Scalar alpha)")
	require.NoError(t, err)
	assert.Equal(t, "addmm", header.Name)
	assert.Equal(t, []string{"Tensor", "Tensor", "Tensor", "Scalar", "Scalar"}, header.ArgTypes)
}

func TestParseHeaderQualified(t *testing.T) {
	header, err := ParseHeader("torch.mm(Tensor self, Tensor mat2)")
	require.NoError(t, err)
	assert.Equal(t, "mm", header.Name)
}

func TestParseHeaderBoundaryMarker(t *testing.T) {
	// The lone "*" separates required from optional arguments; it is not an
	// argument.
	header, err := ParseHeader("topk(Tensor self, int64_t k, *, bool largest, bool sorted)")
	require.NoError(t, err)
	assert.Equal(t, []string{"Tensor", "int64_t", "bool", "bool"}, header.ArgTypes)
}

func TestParseHeaderNestedCommas(t *testing.T) {
	header, err := ParseHeader("masked(Tensor self, std::array<bool,2> output_mask)")
	require.NoError(t, err)
	assert.Equal(t, []string{"Tensor", "std::array<bool,2>"}, header.ArgTypes)
}

func TestParseHeaderNoArguments(t *testing.T) {
	header, err := ParseHeader("seed()")
	require.NoError(t, err)
	assert.Equal(t, "seed", header.Name)
	assert.Empty(t, header.ArgTypes)
}

func TestParseHeaderMalformed(t *testing.T) {
	for _, input := range []string{"", "noparens", "(Tensor self)", "open(Tensor self", "untyped(self)"} {
		_, err := ParseHeader(input)
		assert.Errorf(t, err, "header %q should not parse", input)
	}
}

// register synthesizes decl into registry, requiring no skips.
func register(t *testing.T, registry *procs.Registry, decl declarations.Declaration) {
	t.Helper()
	require.Empty(t, procs.Synthesize(&decl, registry))
}

func namespaceDecl(name string, argTypes ...string) declarations.Declaration {
	decl := declarations.Declaration{
		Name:     name,
		MethodOf: []string{"namespace"},
		Returns:  []declarations.Return{{Type: "Tensor"}},
	}
	for i, argType := range argTypes {
		decl.Arguments = append(decl.Arguments, declarations.Argument{
			Name: argName(i), Type: argType,
		})
	}
	return decl
}

func argName(i int) string { return string(rune('a' + i)) }

func TestResolveCandidateUnique(t *testing.T) {
	registry := procs.NewRegistry()
	register(t, registry, namespaceDecl("relu", "Tensor"))
	registry.Seal()

	header, err := ParseHeader("relu(Tensor self)")
	require.NoError(t, err)
	candidate, diagnostic := ResolveCandidate(registry, header)
	require.Nil(t, diagnostic)
	assert.Equal(t, "relu", candidate.OriginalName)
}

// With two same-named entries, a header matching only the earlier
// registered entry's arity binds to it; and a header matching both still
// binds to the earlier one — first match, not best match.
func TestResolveCandidateFirstMatchWins(t *testing.T) {
	registry := procs.NewRegistry()
	register(t, registry, namespaceDecl("add", "Tensor", "Tensor"))
	register(t, registry, namespaceDecl("add", "Tensor", "Tensor", "double"))
	registry.Seal()

	header, err := ParseHeader("add(Tensor self, Tensor other)")
	require.NoError(t, err)
	candidate, diagnostic := ResolveCandidate(registry, header)
	require.Nil(t, diagnostic)
	assert.Len(t, candidate.DeclaredArgs, 2)

	header, err = ParseHeader("add(Tensor self, Tensor other, double alpha)")
	require.NoError(t, err)
	candidate, diagnostic = ResolveCandidate(registry, header)
	require.Nil(t, diagnostic)
	assert.Len(t, candidate.DeclaredArgs, 3)

	// Two indistinguishable signatures: the earlier registered one wins.
	registry = procs.NewRegistry()
	register(t, registry, namespaceDecl("sub", "Tensor", "Tensor"))
	register(t, registry, namespaceDecl("sub", "Tensor", "Tensor"))
	registry.Seal()
	header, err = ParseHeader("sub(Tensor a, Tensor b)")
	require.NoError(t, err)
	candidate, diagnostic = ResolveCandidate(registry, header)
	require.Nil(t, diagnostic)
	assert.Same(t, registry.LookupAll("sub")[0], candidate)
}

func TestResolveCandidateUnknown(t *testing.T) {
	registry := procs.NewRegistry()
	registry.Seal()
	header, err := ParseHeader("ghost(Tensor self)")
	require.NoError(t, err)
	candidate, diagnostic := ResolveCandidate(registry, header)
	assert.Nil(t, candidate)
	require.NotNil(t, diagnostic)
	assert.Equal(t, diag.UnknownDeclaration, diagnostic.Category)
}

func TestResolveCandidateNoOverloadMatches(t *testing.T) {
	registry := procs.NewRegistry()
	register(t, registry, namespaceDecl("pow", "Tensor", "Tensor"))
	register(t, registry, namespaceDecl("pow", "Tensor", "double"))
	registry.Seal()

	header, err := ParseHeader("pow(Tensor self, int64_t exponent)")
	require.NoError(t, err)
	candidate, diagnostic := ResolveCandidate(registry, header)
	assert.Nil(t, candidate)
	require.NotNil(t, diagnostic)
	assert.Equal(t, diag.AmbiguousOrMissingOverload, diagnostic.Category)
}

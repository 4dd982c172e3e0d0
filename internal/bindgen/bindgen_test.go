package bindgen

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/atgen/internal/declarations"
	"github.com/gomlx/atgen/internal/deriv"
	"github.com/gomlx/atgen/internal/procs"
)

// testRegistry covers the three invocation kinds, a default, and a tuple
// return: Dot and Mul (instance), Arange (free function and static) and
// Topk (instance, tuple).
func testRegistry(t *testing.T) *procs.Registry {
	t.Helper()
	registry := procs.NewRegistry()
	decls := []declarations.Declaration{
		{
			Name:     "dot",
			MethodOf: []string{"Tensor"},
			Arguments: []declarations.Argument{
				{Name: "self", Type: "const Tensor &"},
				{Name: "tensor", Type: "const Tensor &"},
			},
			Returns: []declarations.Return{{Type: "Tensor"}},
		},
		{
			Name:     "mul",
			MethodOf: []string{"Tensor"},
			Arguments: []declarations.Argument{
				{Name: "self", Type: "const Tensor &"},
				{Name: "other", Type: "const Tensor &"},
			},
			Returns: []declarations.Return{{Type: "Tensor"}},
		},
		{
			Name:     "arange",
			MethodOf: []string{"namespace", "Type"},
			Arguments: []declarations.Argument{
				{Name: "end", Type: "int64_t"},
				{Name: "step", Type: "int64_t", Default: "1"},
			},
			Returns: []declarations.Return{{Type: "Tensor"}},
		},
		{
			Name:     "topk",
			MethodOf: []string{"Tensor"},
			Arguments: []declarations.Argument{
				{Name: "self", Type: "const Tensor &"},
				{Name: "k", Type: "int64_t"},
			},
			Returns: []declarations.Return{
				{Name: "values", Type: "Tensor"},
				{Name: "indices", Type: "Tensor"},
			},
		},
	}
	for i := range decls {
		require.Empty(t, procs.Synthesize(&decls[i], registry))
	}
	registry.Seal()
	return registry
}

func TestBindingsGolden(t *testing.T) {
	registry := testRegistry(t)
	src := Bindings(registry, "declarations.yaml", Options{})
	g := goldie.New(t)
	g.Assert(t, "bindings", src)
}

func TestDerivativesGolden(t *testing.T) {
	registry := testRegistry(t)

	dot := registry.InstanceProc("dot")
	require.NotNil(t, dot)
	backwardDot, diagnostic, err := deriv.Build(&declarations.Formula{
		Name: "dot(Tensor self, Tensor tensor)",
		Outputs: []declarations.FormulaOutput{
			{Fields: "self", Formula: "tensor.mul(grad)"},
			{Fields: "tensor", Formula: "self.mul(grad)"},
		},
	}, dot, registry, "backwardDot")
	require.NoError(t, err)
	require.Nil(t, diagnostic)

	topk := registry.InstanceProc("topk")
	require.NotNil(t, topk)
	backwardTopk, diagnostic, err := deriv.Build(&declarations.Formula{
		Name: "topk(Tensor self, int64_t k)",
		Outputs: []declarations.FormulaOutput{
			{Fields: "self", Formula: "training ? grad.mul(values) : grad"},
		},
	}, topk, registry, "backwardTopk")
	require.NoError(t, err)
	require.Nil(t, diagnostic)

	src := Derivatives([]*deriv.Procedure{backwardDot, backwardTopk}, "derivatives.yaml", Options{})
	g := goldie.New(t)
	g.Assert(t, "derivatives", src)
}

// Two renders of the same inputs are byte-identical.
func TestBindingsDeterministic(t *testing.T) {
	registry := testRegistry(t)
	first := Bindings(registry, "declarations.yaml", Options{})
	second := Bindings(registry, "declarations.yaml", Options{})
	assert.Equal(t, first, second)
}

func TestOptionsOverride(t *testing.T) {
	registry := testRegistry(t)
	src := string(Bindings(registry, "decl.yaml", Options{
		Package:      "aten_test",
		EngineImport: "example.com/engine/aten",
	}))
	assert.Contains(t, src, "package aten_test\n")
	assert.Contains(t, src, "aten \"example.com/engine/aten\"")
	assert.Contains(t, src, "generated by atgen from decl.yaml")
}

func TestTupleTypeDeclaredOnce(t *testing.T) {
	registry := procs.NewRegistry()
	decl := declarations.Declaration{
		Name:     "topk",
		MethodOf: []string{"Tensor", "Type"},
		Arguments: []declarations.Argument{
			{Name: "self", Type: "const Tensor &"},
			{Name: "k", Type: "int64_t"},
		},
		Returns: []declarations.Return{
			{Name: "values", Type: "Tensor"},
			{Name: "indices", Type: "Tensor"},
		},
	}
	require.Empty(t, procs.Synthesize(&decl, registry))
	registry.Seal()
	src := string(Bindings(registry, "declarations.yaml", Options{}))
	assert.Equal(t, 1, strings.Count(src, "type TopkOutput struct {"))
	assert.Equal(t, 1, strings.Count(src, "func (ts *Tensor) Topk("))
	assert.Equal(t, 1, strings.Count(src, "func (TensorStatics) Topk("))
}

// Package bindgen serializes the synthesized signatures and backward
// procedures into Go source text.
//
// Emission is deliberately boring: one fixed shape per invocation kind, one
// for backward procedures, iteration strictly in ingestion order. Two runs
// over the same inputs produce byte-identical files.
package bindgen

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/gomlx/atgen/internal/deriv"
	"github.com/gomlx/atgen/internal/procs"
	"github.com/gomlx/atgen/internal/typemap"
	"github.com/gomlx/atgen/pkg/support/sets"
)

// Options configure the generated files' surroundings.
type Options struct {
	// Package is the package clause of both generated files.
	Package string

	// EngineImport is the import path of the low-level engine package the
	// bindings call (imported as "aten").
	EngineImport string
}

// DefaultOptions are the values used when a field is left empty.
var DefaultOptions = Options{
	Package:      "torch",
	EngineImport: "github.com/gomlx/torch/internal/aten",
}

func (o Options) withDefaults() Options {
	if o.Package == "" {
		o.Package = DefaultOptions.Package
	}
	if o.EngineImport == "" {
		o.EngineImport = DefaultOptions.EngineImport
	}
	return o
}

// writer accumulates generated source. All emission goes through it so the
// output is a pure function of the inputs.
type writer struct {
	buffer bytes.Buffer
}

func (w *writer) f(format string, args ...any) {
	fmt.Fprintf(&w.buffer, format, args...)
}

func (w *writer) banner(tablePath string) {
	w.f("/***** File generated by atgen from %s. Don't edit it directly. *****/\n\n", tablePath)
}

// Bindings renders the forward-binding file for every registered signature,
// in ingestion order.
func Bindings(registry *procs.Registry, tablePath string, options Options) []byte {
	options = options.withDefaults()
	w := &writer{}
	w.banner(tablePath)
	w.f("package %s\n\n", options.Package)
	w.f("import (\n\taten %q\n)\n\n", options.EngineImport)
	w.f("// TensorStatics groups the bindings scoped to the tensor type rather\n")
	w.f("// than to one of its values.\n")
	w.f("type TensorStatics struct{}\n\n")
	w.f("// Tensors is the entry point for the type-scoped bindings.\n")
	w.f("var Tensors TensorStatics\n")

	declaredTuples := sets.Make[string]()
	for _, p := range registry.Ordered() {
		w.f("\n")
		writeBinding(w, p, declaredTuples)
	}
	return w.buffer.Bytes()
}

// writeBinding emits one forward binding, preceded by its tuple return type
// when this is the first invocation kind declaring it.
func writeBinding(w *writer, p *procs.ProcSignature, declaredTuples sets.Set[string]) {
	if p.ReturnsTuple() && !declaredTuples.Has(p.TupleTypeName()) {
		declaredTuples.Insert(p.TupleTypeName())
		w.f("// %s is the named-tuple return of the correspondingly named bindings.\n", p.TupleTypeName())
		w.f("type %s struct {\n", p.TupleTypeName())
		for _, ret := range p.Returns {
			w.f("\t%s %s\n", ret.DisplayName, ret.Type.GoType())
		}
		w.f("}\n\n")
	}

	for _, arg := range p.Args {
		if arg.Default != "" {
			w.f("// %s: %s defaults to %s.\n", p.DisplayName, arg.Name, arg.Default)
		}
	}

	switch p.Kind {
	case procs.InstanceMethod:
		w.f("func (%s *Tensor) %s(%s) %s {\n", procs.ReceiverName, p.DisplayName, renderParams(p), p.ReturnGoType())
	case procs.StaticOnType:
		w.f("func (TensorStatics) %s(%s) %s {\n", p.DisplayName, renderParams(p), p.ReturnGoType())
	case procs.FreeFunction:
		w.f("func %s(%s) %s {\n", p.DisplayName, renderParams(p), p.ReturnGoType())
	}
	writeCallBody(w, p)
	w.f("}\n")
}

// renderParams renders the Go parameter list. For instance methods the
// receiver (args position 0) is dropped here and spelled in the signature.
func renderParams(p *procs.ProcSignature) string {
	args := p.Args
	if p.Kind == procs.InstanceMethod {
		args = args[1:]
	}
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		parts = append(parts, arg.Name+" "+arg.Type.GoType())
	}
	return strings.Join(parts, ", ")
}

// writeCallBody emits the engine call and the conversion of its result into
// the binding's return shape. Tensor results wrap the raw engine handle
// into a managed value, which takes ownership of it.
func writeCallBody(w *writer, p *procs.ProcSignature) {
	converts := make([]string, 0, len(p.Args))
	for _, arg := range p.Args {
		converts = append(converts, arg.Convert)
	}
	call := fmt.Sprintf("aten.%s(%s)", engineEntryName(p.OriginalName), strings.Join(converts, ", "))

	if !p.ReturnsTuple() {
		w.f("\treturn %s\n", wrapResult(call, p.Returns[0].Type))
		return
	}

	vars := make([]string, len(p.Returns))
	for i := range p.Returns {
		vars[i] = fmt.Sprintf("v%d", i)
	}
	w.f("\t%s := %s\n", strings.Join(vars, ", "), call)
	w.f("\treturn %s{\n", p.TupleTypeName())
	for i, ret := range p.Returns {
		w.f("\t\t%s: %s,\n", ret.DisplayName, wrapResult(vars[i], ret.Type))
	}
	w.f("\t}\n")
}

func wrapResult(expr string, token typemap.Token) string {
	if token.IsTensor() {
		return "newTensor(" + expr + ")"
	}
	return expr
}

// engineEntryName is the engine package's exported spelling of an original
// operation name.
func engineEntryName(original string) string {
	return procs.DisplayName(original)
}

// Derivatives renders the backward-procedure file, in derivatives-table
// order.
func Derivatives(procedures []*deriv.Procedure, tablePath string, options Options) []byte {
	options = options.withDefaults()
	w := &writer{}
	w.banner(tablePath)
	w.f("package %s\n", options.Package)
	for _, proc := range procedures {
		w.f("\n")
		writeProcedure(w, proc)
	}
	return w.buffer.Bytes()
}

// writeProcedure emits one backward procedure and its return struct: the
// optional training guard, the bound-subexpression statements in first-use
// order, then one assignment per differentiated output field.
func writeProcedure(w *writer, proc *deriv.Procedure) {
	w.f("// %s holds one gradient per differentiated argument of\n", proc.TupleTypeName())
	w.f("// %s.\n", proc.Forward.DisplayName)
	w.f("type %s struct {\n", proc.TupleTypeName())
	for _, assignment := range proc.Assignments {
		w.f("\t%s %s\n", assignment.Field, assignment.Type)
	}
	w.f("}\n\n")

	w.f("func %s(%s) (ret %s) {\n", proc.Name, renderBackwardParams(proc), proc.TupleTypeName())
	if proc.HasGuard {
		w.f("\t%s\n", deriv.GuardStatement(proc.Name))
	}
	for _, binding := range proc.Bindings {
		w.f("\t%s := %s\n", binding.Name, binding.Expr)
	}
	for _, assignment := range proc.Assignments {
		w.f("\tret.%s = %s\n", assignment.Field, assignment.Expr)
	}
	w.f("\treturn\n")
	w.f("}\n")
}

// renderBackwardParams renders a backward procedure's parameter list: the
// upstream gradient, the forward arguments in declared order, the forward
// result, and the output-selection mask when the body asked for it.
func renderBackwardParams(proc *deriv.Procedure) string {
	parts := []string{"grad *Tensor"}
	for _, arg := range proc.Forward.DeclaredArgs {
		parts = append(parts, arg.Name+" "+arg.Type.GoType())
	}
	parts = append(parts, "result "+proc.Forward.ReturnGoType())
	if proc.HasMask {
		parts = append(parts, fmt.Sprintf("outputMask [%d]bool", proc.MaskArity))
	}
	return strings.Join(parts, ", ")
}

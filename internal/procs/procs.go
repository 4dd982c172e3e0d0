// Package procs defines the synthesized, fully-typed callable shapes
// (ProcSignature) built from the declaration table, and the Registry that
// holds them for the duration of a run.
//
// The Registry is populated in a single ingestion phase and sealed before
// any formula is resolved; every later stage only reads it.
package procs

import (
	"strings"

	"github.com/gomlx/exceptions"

	"github.com/gomlx/atgen/internal/typemap"
	"github.com/gomlx/atgen/pkg/support/sets"
)

// InvocationKind selects which of the three binding templates a
// ProcSignature is emitted with.
type InvocationKind int

const (
	// InstanceMethod is a method on *Tensor; the tensor-typed "self"
	// argument becomes the receiver.
	InstanceMethod InvocationKind = iota

	// StaticOnType is a method on the zero-size TensorStatics type,
	// grouping the type-scoped constructors and friends.
	StaticOnType

	// FreeFunction is a package-level function.
	FreeFunction
)

// String implements fmt.Stringer.
func (k InvocationKind) String() string {
	switch k {
	case InstanceMethod:
		return "InstanceMethod"
	case StaticOnType:
		return "StaticOnType"
	case FreeFunction:
		return "FreeFunction"
	}
	return "InvalidKind"
}

// ArgumentSpec is one parameter of a synthesized signature.
type ArgumentSpec struct {
	// Name is the Go parameter name, after reserved-word escaping.
	Name string

	// OriginalName is the name as written in the declaration table.
	OriginalName string

	Type typemap.Token

	// Default is the translated Go default literal; empty when the
	// declaration had none, or had one of a shape we do not translate.
	Default string

	// Convert is the fragment passed to the engine entry point for this
	// argument, e.g. "self.handle" for tensors.
	Convert string
}

// ReturnField is one output of a synthesized signature. For single-return
// procs there is exactly one, with an empty name.
type ReturnField struct {
	// Name is the renamed field name ("grad_input" becomes "self",
	// "grad_weight" becomes "weight"); empty for a lone scalar return.
	Name string

	// DisplayName is the exported Go field name for tuple returns.
	DisplayName string

	// OriginalName is the name as written in the declaration table.
	OriginalName string

	Type typemap.Token
}

// ProcSignature is a synthesized callable shape for one declaration and one
// invocation kind. Immutable once registered.
type ProcSignature struct {
	// OriginalName is the declaration's name, unstripped: this is also the
	// engine entry point the binding calls.
	OriginalName string

	// AlternateName is the canonical name with the NN forward marker
	// stripped, when the declaration carried one; empty otherwise. Formula
	// headers may refer to the proc by either name.
	AlternateName string

	// DisplayName is the exported Go name of the binding.
	DisplayName string

	Kind InvocationKind

	// Args is the ordered parameter list; for InstanceMethod the "self"
	// argument is forced to position 0.
	Args []ArgumentSpec

	// DeclaredArgs keeps the parameter list in declaration-table order,
	// regardless of kind. Formula headers list argument types in declared
	// order, so overload matching and backward synthesis use this one.
	DeclaredArgs []ArgumentSpec

	// Returns holds one field for a scalar return, several for a named
	// tuple return.
	Returns []ReturnField
}

// ReturnsTuple reports whether the proc returns a named tuple.
func (p *ProcSignature) ReturnsTuple() bool { return len(p.Returns) > 1 }

// TupleTypeName is the name of the generated struct type holding a tuple
// return.
func (p *ProcSignature) TupleTypeName() string { return p.DisplayName + "Output" }

// ReturnGoType is the Go type spelled after the parameter list.
func (p *ProcSignature) ReturnGoType() string {
	if p.ReturnsTuple() {
		return p.TupleTypeName()
	}
	return p.Returns[0].Type.GoType()
}

// ReturnFieldByOriginal returns the tuple field whose original (table) name
// is name, or nil.
func (p *ProcSignature) ReturnFieldByOriginal(name string) *ReturnField {
	for i := range p.Returns {
		if p.Returns[i].OriginalName == name {
			return &p.Returns[i]
		}
	}
	return nil
}

// ArgByOriginal returns the argument whose original (table) name is name,
// or nil.
func (p *ProcSignature) ArgByOriginal(name string) *ArgumentSpec {
	for i := range p.Args {
		if p.Args[i].OriginalName == name {
			return &p.Args[i]
		}
	}
	return nil
}

// DeclaredArgByOriginal returns the declared-order argument whose original
// (table) name is name, or nil. Backward procedures carry parameters in
// declared order, so formula rewriting resolves references through this one.
func (p *ProcSignature) DeclaredArgByOriginal(name string) *ArgumentSpec {
	for i := range p.DeclaredArgs {
		if p.DeclaredArgs[i].OriginalName == name {
			return &p.DeclaredArgs[i]
		}
	}
	return nil
}

// DeclaredArgTypes returns the type tokens of the proc's arguments in
// declaration-table order.
func (p *ProcSignature) DeclaredArgTypes() []typemap.Token {
	tokens := make([]typemap.Token, len(p.DeclaredArgs))
	for i, arg := range p.DeclaredArgs {
		tokens[i] = arg.Type
	}
	return tokens
}

// Registry is the run-wide table of synthesized signatures, keyed by
// original name with registration order preserved, both per name and
// globally. It is append-only during ingestion and read-only afterwards.
type Registry struct {
	byName  map[string][]*ProcSignature
	ordered []*ProcSignature
	sealed  bool
}

// NewRegistry returns an empty registry ready for ingestion.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string][]*ProcSignature)}
}

// Register appends a signature. Panics if the registry was already sealed:
// registration after the ingestion barrier is a programming error.
func (r *Registry) Register(p *ProcSignature) {
	if r.sealed {
		exceptions.Panicf("procs: Register(%q) called on a sealed Registry", p.OriginalName)
	}
	r.ordered = append(r.ordered, p)
	r.byName[p.OriginalName] = append(r.byName[p.OriginalName], p)
	if p.AlternateName != "" && p.AlternateName != p.OriginalName {
		r.byName[p.AlternateName] = append(r.byName[p.AlternateName], p)
	}
}

// Seal marks the end of ingestion. Only sealed registries should be handed
// to the formula stages.
func (r *Registry) Seal() { r.sealed = true }

// LookupAll returns every signature registered under name (directly or as
// an alternate), in registration order.
func (r *Registry) LookupAll(name string) []*ProcSignature {
	return r.byName[name]
}

// lookupKind returns the first signature registered under name with the
// given invocation kind, or nil.
func (r *Registry) lookupKind(name string, kind InvocationKind) *ProcSignature {
	for _, p := range r.byName[name] {
		if p.Kind == kind {
			return p
		}
	}
	return nil
}

// InstanceProc returns the instance-method signature registered under name,
// or nil.
func (r *Registry) InstanceProc(name string) *ProcSignature {
	return r.lookupKind(name, InstanceMethod)
}

// NamespaceProc returns the free-function signature registered under name,
// or nil.
func (r *Registry) NamespaceProc(name string) *ProcSignature {
	return r.lookupKind(name, FreeFunction)
}

// Known reports whether any signature is registered under name.
func (r *Registry) Known(name string) bool {
	return len(r.byName[name]) > 0
}

// Ordered returns every signature in global ingestion order. The returned
// slice is the registry's own; callers must not mutate it.
func (r *Registry) Ordered() []*ProcSignature {
	return r.ordered
}

var goKeywords = sets.MakeWith(
	"break", "case", "chan", "const", "continue", "default", "defer", "else",
	"fallthrough", "for", "func", "go", "goto", "if", "import", "interface",
	"map", "package", "range", "return", "select", "struct", "switch",
	"type", "var")

// reservedNames are identifiers the generated bodies use themselves, so
// argument names colliding with them must be escaped too.
var reservedNames = sets.MakeWith("grad", "result", "ret", "ts")

// EscapeName renames reserved-word collisions deterministically: a doubled
// internal separator is first re-escaped ("__" -> "_0_", so escaped names
// can never collide with unescaped ones), then a reserved name gets the
// fixed escape marker "_" appended.
func EscapeName(name string) string {
	if strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_0_")
	}
	if goKeywords.Has(name) || reservedNames.Has(name) {
		name += "_"
	}
	return name
}

// DisplayName converts a snake_case table name into the exported Go name
// used for bindings: "conv2d_transpose" becomes "Conv2dTranspose".
func DisplayName(name string) string {
	parts := strings.Split(name, "_")
	var b strings.Builder
	for _, part := range parts {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}

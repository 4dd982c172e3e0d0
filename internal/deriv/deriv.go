// Package deriv rewrites derivative formula bodies and assembles the
// backward procedures emitted for them.
//
// Each formula entry gets its own rewrite context: a map of already-bound
// rewritten expressions (so a repeated subexpression is computed once and
// referenced by name thereafter), a one-shot training-guard flag and a
// one-shot mask-parameter flag. The context is discarded after the entry is
// built; entries share nothing mutable, which is what allows the pipeline
// to process them in parallel.
package deriv

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/gomlx/atgen/internal/declarations"
	"github.com/gomlx/atgen/internal/diag"
	"github.com/gomlx/atgen/internal/exprtree"
	"github.com/gomlx/atgen/internal/procs"
	"github.com/gomlx/atgen/internal/typemap"
)

const (
	// gradName is the upstream gradient parameter of every backward
	// procedure.
	gradName = "grad"

	// resultName is the forward-result parameter of every backward
	// procedure; the "result"/"output" placeholders resolve to it.
	resultName = "result"

	// maskName is the output-selection mask parameter, appended when the
	// body references the mask token.
	maskName = "outputMask"

	// maskToken is the mask reference recognized inside formula bodies.
	maskToken = "output_mask"

	// gradsToken marks the unsupported multi-gradient fan-in shape.
	gradsToken = "grads"

	// trainingToken guards bodies that are only valid in training mode.
	trainingToken = "training"

	// boundSuffix derives a bound subexpression's name from the first
	// field it computes.
	boundSuffix = "_grad"
)

// Binding is one bound-subexpression statement of a backward body.
type Binding struct {
	Name string
	Expr string
}

// Assignment sets one output field of the backward return value.
type Assignment struct {
	// Field is the exported Go field name of the return struct.
	Field string

	// Type is the Go type of the field (the differentiated argument's
	// type).
	Type string

	Expr string
}

// Procedure is one fully-rewritten backward procedure, ready for emission.
type Procedure struct {
	// Name is the generated Go function name, unexported so it never
	// collides with the forward bindings it references.
	Name string

	Forward *procs.ProcSignature

	// HasGuard emits one leading statement that fails fatally outside
	// training mode.
	HasGuard bool

	// HasMask appends the outputMask parameter; MaskArity is its size.
	HasMask   bool
	MaskArity int

	Bindings    []Binding
	Assignments []Assignment
}

// TupleTypeName is the generated struct type returned by the procedure.
func (p *Procedure) TupleTypeName() string { return p.Name + "Output" }

// context is the per-entry mutable rewrite state.
type context struct {
	registry *procs.Registry
	forward  *procs.ProcSignature

	// bound maps rewritten expression text to the name it was bound under.
	bound      map[string]string
	bindings   []Binding
	guardAdded bool
	maskAdded  bool
}

// Build parses, rewrites and assembles the backward procedure for one
// formula entry. It returns an entry-local diagnostic for the documented
// unsupported shapes, and an error only when the body text itself does not
// parse — a malformed table is fatal, per the exit contract.
func Build(entry *declarations.Formula, forward *procs.ProcSignature,
	registry *procs.Registry, name string) (*Procedure, *diag.Diagnostic, error) {
	proc := &Procedure{Name: name, Forward: forward}
	ctx := &context{
		registry: registry,
		forward:  forward,
		bound:    make(map[string]string),
	}
	maskArity := 0
	for _, output := range entry.Outputs {
		maskArity += len(output.FieldNames())
	}

	for _, output := range entry.Outputs {
		fields := output.FieldNames()
		if len(fields) == 0 {
			return nil, nil, errors.Errorf("formula %q has an output group with no field names", entry.Name)
		}
		tree, err := exprtree.Parse(output.Formula)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "formula %q", entry.Name)
		}

		if d := validateBody(ctx, entry.Name, tree); d != nil {
			return nil, d, nil
		}

		// A leading "training ?" guard is stripped: the guard statement
		// makes the else branch unreachable.
		if ternary, ok := tree.(*exprtree.Ternary); ok {
			if cond, ok := ternary.Cond.(*exprtree.Ident); ok && cond.Name == trainingToken {
				if !ctx.guardAdded {
					ctx.guardAdded = true
					proc.HasGuard = true
				}
				tree = ternary.Then
			}
		}

		tree = exprtree.Transform(tree, ctx.rewriteNode)
		text := exprtree.Print(tree)

		boundName, seen := ctx.bound[text]
		if !seen {
			boundName = fields[0] + boundSuffix
			ctx.bound[text] = boundName
			ctx.bindings = append(ctx.bindings, Binding{Name: boundName, Expr: text})
		}

		for _, field := range fields {
			assignment := Assignment{
				Field: procs.DisplayName(field),
				Type:  fieldGoType(forward, field),
			}
			if len(fields) == 1 {
				assignment.Expr = boundName
			} else {
				// A comma-joined group computes all its gradients in one
				// expression; each field projects its own off the bound
				// value.
				assignment.Expr = boundName + "." + assignment.Field
			}
			proc.Assignments = append(proc.Assignments, assignment)
		}
	}

	proc.Bindings = ctx.bindings
	if ctx.maskAdded {
		proc.HasMask = true
		proc.MaskArity = maskArity
	}
	return proc, nil, nil
}

// validateBody rejects the documented unsupported shapes and checks that
// every call-like token resolves to a registered proc, before any rewriting
// happens.
func validateBody(ctx *context, entry string, tree exprtree.Node) *diag.Diagnostic {
	var failure *diag.Diagnostic
	exprtree.Walk(tree, func(n exprtree.Node) bool {
		if failure != nil {
			return false
		}
		switch t := n.(type) {
		case *exprtree.Ident:
			if t.Name == gradsToken {
				d := diag.Skipf(diag.UnsupportedMultiGradShape, entry,
					"body consumes multiple upstream gradients (%q)", gradsToken)
				failure = &d
				return false
			}
		case *exprtree.Call:
			if t.Recv != nil {
				if ctx.registry.InstanceProc(t.Name) == nil {
					d := diag.Skipf(diag.MissingDependency, entry,
						"method call %q is not a registered instance proc", t.Name)
					failure = &d
					return false
				}
			} else if ctx.registry.NamespaceProc(t.Name) == nil {
				d := diag.Skipf(diag.MissingDependency, entry,
					"call %q is not a registered namespace proc", t.Name)
				failure = &d
				return false
			}
		}
		return true
	})
	return failure
}

// rewriteNode applies the per-node rewrites: call-site renaming,
// placeholder resolution, mask detection and argument renaming. It runs
// bottom-up via exprtree.Transform.
func (ctx *context) rewriteNode(n exprtree.Node) exprtree.Node {
	switch t := n.(type) {
	case *exprtree.Call:
		if t.Recv != nil {
			if p := ctx.registry.InstanceProc(t.Name); p != nil {
				return &exprtree.Call{Recv: t.Recv, Name: p.DisplayName, Args: t.Args}
			}
			return t
		}
		if p := ctx.registry.NamespaceProc(t.Name); p != nil {
			return &exprtree.Call{Name: p.DisplayName, Args: t.Args}
		}
		return t

	case *exprtree.Ident:
		return ctx.rewriteIdent(t)
	}
	return n
}

func (ctx *context) rewriteIdent(ident *exprtree.Ident) exprtree.Node {
	name := ident.Name

	if name == maskToken {
		ctx.maskAdded = true
		return &exprtree.Ident{Name: maskName}
	}

	// Forward-result placeholders: bare "result"/"output", or suffixed by
	// a tuple index. The lexer guarantees identifier boundaries.
	if index, ok := placeholderIndex(name); ok {
		if index < 0 || !ctx.forward.ReturnsTuple() {
			return &exprtree.Ident{Name: resultName}
		}
		if index < len(ctx.forward.Returns) {
			return &exprtree.Field{
				X:    &exprtree.Ident{Name: resultName},
				Name: ctx.forward.Returns[index].DisplayName,
			}
		}
		return &exprtree.Ident{Name: resultName}
	}

	// When the forward declaration returns a named tuple, a bare return
	// field name projects off the forward result.
	if ctx.forward.ReturnsTuple() {
		if field := ctx.forward.ReturnFieldByOriginal(name); field != nil {
			return &exprtree.Field{X: &exprtree.Ident{Name: resultName}, Name: field.DisplayName}
		}
	}

	// Forward arguments are referenced by their table names; the generated
	// procedure's parameters carry the escaped, declared-order ones.
	if arg := ctx.forward.DeclaredArgByOriginal(name); arg != nil {
		return &exprtree.Ident{Name: arg.Name}
	}
	return ident
}

// placeholderIndex recognizes "result", "output", "resultN" and "outputN".
// It returns the numeric suffix, or -1 when there is none.
func placeholderIndex(name string) (index int, ok bool) {
	for _, base := range []string{resultName, "output"} {
		if name == base {
			return -1, true
		}
		if strings.HasPrefix(name, base) {
			if n, isIndex := parseIndex(name[len(base):]); isIndex {
				return n, true
			}
		}
	}
	return 0, false
}

func parseIndex(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
		n = n*10 + int(s[i]-'0')
	}
	return n, true
}

// fieldGoType is the Go type of one differentiated forward argument.
func fieldGoType(forward *procs.ProcSignature, field string) string {
	if arg := forward.DeclaredArgByOriginal(field); arg != nil {
		return arg.Type.GoType()
	}
	// A formula differentiating a name the forward declaration does not
	// declare is a tensor gradient by convention.
	return typemap.Tensor.GoType()
}

// GuardStatement is the single leading statement emitted for a stripped
// "training ?" guard.
func GuardStatement(name string) string {
	return fmt.Sprintf("if !trainingMode() {\n\t\tpanic(%q)\n\t}", name+" can only be computed in training mode")
}

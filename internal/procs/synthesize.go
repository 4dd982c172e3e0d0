package procs

import (
	"strconv"
	"strings"

	"github.com/gomlx/atgen/internal/declarations"
	"github.com/gomlx/atgen/internal/diag"
	"github.com/gomlx/atgen/internal/typemap"
)

const (
	forwardMarker  = "_forward"
	backwardMarker = "_backward"

	// SelfName is the argument name enabling the instance-method binding.
	SelfName = "self"

	// ReceiverName is the receiver of generated instance methods; the
	// "self" argument is renamed to it when moved to position 0.
	ReceiverName = "ts"
)

// Synthesize builds every eligible ProcSignature for one declaration and
// registers them. Any returned diagnostics describe skipped kinds or the
// whole skipped declaration; they never abort the run.
//
// NN-mode declarations carrying neither the forward nor the backward marker
// are skipped silently: their "_forward"-suffixed counterpart is the one
// that must be called, and it is registered separately.
func Synthesize(decl *declarations.Declaration, registry *Registry) []diag.Diagnostic {
	engineName := decl.Name
	displayBase := decl.Name
	alternate := ""
	if decl.IsNN() {
		switch {
		case strings.HasSuffix(decl.Name, forwardMarker):
			displayBase = strings.TrimSuffix(decl.Name, forwardMarker)
			alternate = displayBase
		case strings.HasSuffix(decl.Name, backwardMarker):
			// Backward entry points keep their full name.
		default:
			return nil
		}
	}

	args, diagnostic := synthesizeArgs(decl)
	if diagnostic != nil {
		return []diag.Diagnostic{*diagnostic}
	}
	returns, diagnostic := synthesizeReturns(decl)
	if diagnostic != nil {
		return []diag.Diagnostic{*diagnostic}
	}

	base := ProcSignature{
		OriginalName:  engineName,
		AlternateName: alternate,
		DisplayName:   DisplayName(displayBase),
		Args:          args,
		DeclaredArgs:  args,
		Returns:       returns,
	}

	var diagnostics []diag.Diagnostic
	selfIdx := selfIndex(args)

	// Instance method when requested and a tensor-typed "self" exists,
	// otherwise fall back to a free function when namespace-eligible.
	instanceRequested := decl.MethodOfHas("Tensor")
	if instanceRequested && selfIdx < 0 {
		diagnostics = append(diagnostics,
			diag.Skipf(diag.MissingSelf, decl.Name, "instance method requested without a tensor-typed %q argument", SelfName))
	}
	switch {
	case instanceRequested && selfIdx >= 0:
		instance := base
		instance.Kind = InstanceMethod
		instance.Args = selfFirst(args, selfIdx)
		registry.Register(&instance)
	case decl.MethodOfHas("namespace"):
		free := base
		free.Kind = FreeFunction
		free.Args = cloneArgs(args)
		registry.Register(&free)
	}

	// Static-on-type is generated whenever requested, independently.
	if decl.MethodOfHas("Type") {
		static := base
		static.Kind = StaticOnType
		static.Args = cloneArgs(args)
		registry.Register(&static)
	}

	return diagnostics
}

// synthesizeArgs resolves and escapes every argument; a single unresolvable
// type skips the whole declaration.
func synthesizeArgs(decl *declarations.Declaration) ([]ArgumentSpec, *diag.Diagnostic) {
	args := make([]ArgumentSpec, 0, len(decl.Arguments))
	for _, arg := range decl.Arguments {
		token, err := typemap.Resolve(arg.Type)
		if err != nil {
			d := err.(*typemap.UnsupportedTypeError).Diagnostic(decl.Name)
			return nil, &d
		}
		name := EscapeName(arg.Name)
		args = append(args, ArgumentSpec{
			Name:         name,
			OriginalName: arg.Name,
			Type:         token,
			Default:      translateDefault(token, arg.Default),
			Convert:      convertFragment(name, token),
		})
	}
	return args, nil
}

// synthesizeReturns resolves the return shape. Zero returns is a hard skip:
// a binding must return something observable. Multi-return field names are
// aligned with the forward argument they differentiate: "grad_input"
// becomes "self" and a "grad_" prefix is stripped.
func synthesizeReturns(decl *declarations.Declaration) ([]ReturnField, *diag.Diagnostic) {
	if len(decl.Returns) == 0 {
		d := diag.Skipf(diag.NoReturns, decl.Name, "declaration returns nothing")
		return nil, &d
	}
	returns := make([]ReturnField, 0, len(decl.Returns))
	for _, ret := range decl.Returns {
		token, err := typemap.Resolve(ret.Type)
		if err != nil {
			d := err.(*typemap.UnsupportedTypeError).Diagnostic(decl.Name)
			return nil, &d
		}
		field := ReturnField{OriginalName: ret.Name, Type: token}
		if len(decl.Returns) > 1 {
			field.Name = renameGradField(ret.Name)
			field.DisplayName = DisplayName(field.Name)
		}
		returns = append(returns, field)
	}
	return returns, nil
}

func renameGradField(name string) string {
	if name == "grad_input" {
		return SelfName
	}
	return strings.TrimPrefix(name, "grad_")
}

func selfIndex(args []ArgumentSpec) int {
	for i, arg := range args {
		if arg.OriginalName == SelfName && arg.Type.IsTensor() {
			return i
		}
	}
	return -1
}

// selfFirst clones args with self moved to position 0 and renamed to the
// generated method receiver.
func selfFirst(args []ArgumentSpec, selfIdx int) []ArgumentSpec {
	reordered := make([]ArgumentSpec, 0, len(args))
	receiver := args[selfIdx]
	receiver.Name = ReceiverName
	receiver.Convert = convertFragment(ReceiverName, receiver.Type)
	reordered = append(reordered, receiver)
	for i, arg := range args {
		if i != selfIdx {
			reordered = append(reordered, arg)
		}
	}
	return reordered
}

func cloneArgs(args []ArgumentSpec) []ArgumentSpec {
	clone := make([]ArgumentSpec, len(args))
	copy(clone, args)
	return clone
}

// convertFragment is the expression handing this argument to the engine
// entry point: managed values pass their raw engine handle, plain values
// pass through.
func convertFragment(name string, token typemap.Token) string {
	switch token {
	case typemap.Tensor, typemap.SparseTensor, typemap.Storage:
		return name + ".handle"
	case typemap.TensorList:
		return "tensorHandles(" + name + ")"
	case typemap.Generator:
		return "generatorHandle(" + name + ")"
	}
	return name
}

// translateDefault converts a table default literal into a Go literal for
// the binding's documentation. Integer and boolean literals pass through,
// list-typed defaults are wrapped into an empty or singleton list literal,
// the string "nullptr" becomes nil, and any other shape is dropped rather
// than guessed.
func translateDefault(token typemap.Token, raw string) string {
	if raw == "" {
		return ""
	}
	if token.IsList() {
		if raw == "{}" || raw == "nullptr" {
			return "nil"
		}
		if _, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return "[]int64{" + raw + "}"
		}
		return ""
	}
	if raw == "nullptr" {
		return "nil"
	}
	if raw == "true" || raw == "false" {
		return raw
	}
	if _, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return raw
	}
	return ""
}

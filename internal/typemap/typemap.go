// Package typemap resolves the engine's C-level type tags into the closed
// vocabulary of Go binding types the generator knows how to emit.
//
// Resolution is a pure function: the same tag always yields the same token
// (or the same failure). Failures are scoped to the declaration referencing
// the tag, never to the whole run.
package typemap

import (
	"fmt"

	"github.com/gomlx/atgen/internal/diag"
)

// Token is one entry in the closed vocabulary of binding types.
type Token int

const (
	TokenInvalid Token = iota
	Tensor
	TensorList
	Int64
	Bool
	Double
	Generator
	IntList
	String
	BoolArray2
	BoolArray3
	BoolArray4
	TypeDescriptor
	Storage
	SparseTensor
)

var tokenNames = map[Token]string{
	Tensor:         "Tensor",
	TensorList:     "TensorList",
	Int64:          "Int64",
	Bool:           "Bool",
	Double:         "Double",
	Generator:      "Generator",
	IntList:        "IntList",
	String:         "String",
	BoolArray2:     "BoolArray2",
	BoolArray3:     "BoolArray3",
	BoolArray4:     "BoolArray4",
	TypeDescriptor: "TypeDescriptor",
	Storage:        "Storage",
	SparseTensor:   "SparseTensor",
}

// String implements fmt.Stringer.
func (t Token) String() string {
	if name, found := tokenNames[t]; found {
		return name
	}
	return fmt.Sprintf("Token(%d)", int(t))
}

// tagToToken is the closed tag vocabulary. Tags not listed here resolve to
// an UnsupportedType failure.
var tagToToken = map[string]Token{
	"Tensor":               Tensor,
	"Tensor &":             Tensor,
	"const Tensor &":       Tensor,
	"TensorList":           TensorList,
	"int64_t":              Int64,
	"bool":                 Bool,
	"double":               Double,
	"Generator":            Generator,
	"Generator *":          Generator,
	"IntList":              IntList,
	"IntArrayRef":          IntList,
	"std::string":          String,
	"std::array<bool,2>":   BoolArray2,
	"std::array<bool,3>":   BoolArray3,
	"std::array<bool,4>":   BoolArray4,
	"ScalarType":           TypeDescriptor,
	"Type":                 TypeDescriptor,
	"Storage":              Storage,
	"Storage &":            Storage,
	"SparseTensor":         SparseTensor,
	"SparseTensorRef":      SparseTensor,
}

// goTypes maps each token to the Go type spelled into generated signatures.
var goTypes = map[Token]string{
	Tensor:         "*Tensor",
	TensorList:     "[]*Tensor",
	Int64:          "int64",
	Bool:           "bool",
	Double:         "float64",
	Generator:      "*Generator",
	IntList:        "[]int64",
	String:         "string",
	BoolArray2:     "[2]bool",
	BoolArray3:     "[3]bool",
	BoolArray4:     "[4]bool",
	TypeDescriptor: "DType",
	Storage:        "*Storage",
	SparseTensor:   "*SparseTensor",
}

// UnsupportedTypeError is returned when a tag falls outside the closed
// vocabulary. It carries enough to build the entry-local diagnostic.
type UnsupportedTypeError struct {
	Tag string
}

// Error implements the error interface.
func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported type tag %q", e.Tag)
}

// Diagnostic converts the failure into the entry-local diagnostic for the
// declaration named entry.
func (e *UnsupportedTypeError) Diagnostic(entry string) diag.Diagnostic {
	return diag.Skipf(diag.UnsupportedType, entry, "type tag %q", e.Tag)
}

// Resolve maps a source type tag to its Token.
func Resolve(tag string) (Token, error) {
	token, found := tagToToken[tag]
	if !found {
		return TokenInvalid, &UnsupportedTypeError{Tag: tag}
	}
	return token, nil
}

// GoType returns the Go type spelling for a resolved token.
func (t Token) GoType() string {
	goType, found := goTypes[t]
	if !found {
		return "<invalid>"
	}
	return goType
}

// IsTensor reports whether the token is the plain tensor reference type.
func (t Token) IsTensor() bool { return t == Tensor }

// IsList reports whether the token is one of the list types, whose defaults
// get wrapped into list literals.
func (t Token) IsList() bool { return t == TensorList || t == IntList }

// BoolArraySize returns N for the fixed-size bool array tokens, 0 otherwise.
func (t Token) BoolArraySize() int {
	switch t {
	case BoolArray2:
		return 2
	case BoolArray3:
		return 3
	case BoolArray4:
		return 4
	}
	return 0
}

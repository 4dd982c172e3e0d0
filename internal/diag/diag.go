// Package diag defines the entry-local diagnostics emitted while compiling
// the declaration and formula tables.
//
// A Diagnostic never aborts the run: the offending declaration or formula is
// dropped from the output and processing continues. Only unreadable or
// structurally malformed input tables are fatal, and those are reported as
// plain errors, not Diagnostics.
package diag

import "fmt"

// Category classifies why an entry was skipped.
type Category int

const (
	CategoryInvalid Category = iota

	// UnsupportedType: a declaration argument or return uses a type tag
	// outside the closed vocabulary.
	UnsupportedType

	// MissingSelf: an instance method was requested but the declaration has
	// no tensor-typed argument named "self".
	MissingSelf

	// NoReturns: the declaration returns nothing a binding could observe.
	NoReturns

	// AmbiguousOrMissingOverload: several registered procs share the formula
	// header's name but none matches its argument types.
	AmbiguousOrMissingOverload

	// UnknownDeclaration: the formula header names a proc that was never
	// registered.
	UnknownDeclaration

	// MissingDependency: a formula body calls a proc that was never
	// registered.
	MissingDependency

	// UnsupportedMultiGradShape: the formula body consumes more than one
	// upstream gradient value (a "grads" fan-in), which generation does not
	// support.
	UnsupportedMultiGradShape
)

var categoryNames = map[Category]string{
	UnsupportedType:            "UnsupportedType",
	MissingSelf:                "MissingSelf",
	NoReturns:                  "NoReturns",
	AmbiguousOrMissingOverload: "AmbiguousOrMissingOverload",
	UnknownDeclaration:         "UnknownDeclaration",
	MissingDependency:          "MissingDependency",
	UnsupportedMultiGradShape:  "UnsupportedMultiGradShape",
}

// String implements fmt.Stringer.
func (c Category) String() string {
	if name, found := categoryNames[c]; found {
		return name
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

// Diagnostic reports one skipped entry: which entry, why, and any detail.
type Diagnostic struct {
	// Entry is the name of the declaration or formula header that was skipped.
	Entry string

	// Category is the reason the entry was skipped.
	Category Category

	// Detail optionally narrows the reason, e.g. the offending type tag.
	Detail string
}

// String implements fmt.Stringer: one line per skipped entry.
func (d Diagnostic) String() string {
	if d.Detail == "" {
		return fmt.Sprintf("%s: skipped %q", d.Category, d.Entry)
	}
	return fmt.Sprintf("%s: skipped %q: %s", d.Category, d.Entry, d.Detail)
}

// Skipf builds a Diagnostic with a formatted detail message.
func Skipf(category Category, entry, format string, args ...any) Diagnostic {
	return Diagnostic{Entry: entry, Category: category, Detail: fmt.Sprintf(format, args...)}
}

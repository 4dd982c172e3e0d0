// Package declarations loads the two input tables driving generation: the
// declaration table (every engine operation's callable shape) and the
// derivatives table (per-operation backward formulas).
//
// Both tables are YAML. A syntax error or an unknown field is fatal for the
// whole run: the tables are static specifications, so nothing downstream can
// recover from a malformed one.
package declarations

import (
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Argument is one parameter of a declaration, as written in the table.
type Argument struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`

	// Default is the literal default value, if any, kept as raw text.
	Default string `yaml:"default"`
}

// Return is one output of a declaration.
type Return struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// Declaration is one record of the declaration table.
type Declaration struct {
	Name string `yaml:"name"`

	// Mode is "nn" for declarations that follow the forward/backward
	// suffix pairing convention, empty otherwise.
	Mode string `yaml:"mode"`

	// MethodOf lists where the callable surfaces: any subset of
	// "Tensor" (instance method), "Type" (static on the tensor type) and
	// "namespace" (free function).
	MethodOf []string `yaml:"method_of"`

	Arguments []Argument `yaml:"arguments"`
	Returns   []Return   `yaml:"returns"`

	Deprecated bool `yaml:"deprecated"`
	Inplace    bool `yaml:"inplace"`
	OutVariant bool `yaml:"out_variant"`
}

// IsNN reports whether the declaration follows the NN forward/backward
// naming convention.
func (d *Declaration) IsNN() bool { return d.Mode == "nn" }

// MethodOfHas reports whether kind is in the declaration's method-of set.
func (d *Declaration) MethodOfHas(kind string) bool {
	for _, m := range d.MethodOf {
		if m == kind {
			return true
		}
	}
	return false
}

// FormulaOutput is one output-field group of a formula: the comma-joined
// forward argument name(s) being differentiated, and the raw gradient
// expression computing them.
type FormulaOutput struct {
	// Fields is the comma-joined list of differentiated forward arguments,
	// e.g. "self" or "self, weight, bias".
	Fields string `yaml:"fields"`

	// Formula is the raw expression text.
	Formula string `yaml:"formula"`
}

// FieldNames splits the comma-joined Fields value.
func (o *FormulaOutput) FieldNames() []string {
	parts := strings.Split(o.Fields, ",")
	names := make([]string, 0, len(parts))
	for _, part := range parts {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// Formula is one record of the derivatives table: a header naming the
// forward declaration (with its argument types, for overload selection),
// and one gradient expression per differentiated argument group.
type Formula struct {
	// Name is the header string, of shape "name(type arg, type arg, ...)".
	Name string `yaml:"name"`

	Outputs []FormulaOutput `yaml:"outputs"`
}

// LoadDeclarations reads and filters the declaration table. Records marked
// deprecated, inplace or out-variant never reach synthesis.
func LoadDeclarations(path string) ([]Declaration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading declaration table %q", path)
	}
	var all []Declaration
	if err := decodeStrict(data, &all); err != nil {
		return nil, errors.Wrapf(err, "parsing declaration table %q", path)
	}
	kept := make([]Declaration, 0, len(all))
	for _, decl := range all {
		if decl.Deprecated || decl.Inplace || decl.OutVariant {
			continue
		}
		kept = append(kept, decl)
	}
	return kept, nil
}

// LoadFormulas reads the derivatives table, preserving record order.
func LoadFormulas(path string) ([]Formula, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading derivatives table %q", path)
	}
	var formulas []Formula
	if err := decodeStrict(data, &formulas); err != nil {
		return nil, errors.Wrapf(err, "parsing derivatives table %q", path)
	}
	return formulas, nil
}

// decodeStrict decodes YAML rejecting unknown fields, so a typo in a table
// is a hard error instead of a silently dropped attribute.
func decodeStrict(data []byte, out any) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil {
		return err
	}
	// A table is a single document; trailing documents indicate a malformed
	// input (e.g. a stray "---" separator).
	if err := decoder.Decode(new(any)); err != io.EOF {
		return errors.New("unexpected trailing YAML document")
	}
	return nil
}

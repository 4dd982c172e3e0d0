// Package formula parses derivative-table headers and resolves them against
// the registry of synthesized signatures.
//
// A header has the shape "name(type arg, type arg, ...)": a possibly
// namespace-dot-qualified bare name and a parenthesized argument list. Only
// the argument types matter here; they disambiguate overloads.
package formula

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/gomlx/atgen/internal/diag"
	"github.com/gomlx/atgen/internal/procs"
	"github.com/gomlx/atgen/internal/typemap"
)

// Header is a parsed formula header.
type Header struct {
	// Name is the bare declaration name, namespace qualifier dropped.
	Name string

	// ArgTypes holds the raw type tags in position order. The lone "*"
	// required/optional boundary marker is already discarded.
	ArgTypes []string
}

// ParseHeader extracts the declaration name and argument type list from a
// header string. A malformed header is pipeline-fatal: headers are keys of
// the derivatives table, so one that does not parse means the table itself
// is broken.
func ParseHeader(header string) (*Header, error) {
	open := strings.IndexByte(header, '(')
	if open < 0 || !strings.HasSuffix(header, ")") {
		return nil, errors.Errorf("malformed formula header %q: expected \"name(args)\"", header)
	}
	name := strings.TrimSpace(header[:open])
	if name == "" {
		return nil, errors.Errorf("malformed formula header %q: empty name", header)
	}
	// Drop the namespace qualifier, keeping the bare name.
	if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
		name = name[dot+1:]
	}

	parsed := &Header{Name: name}
	argList := header[open+1 : len(header)-1]
	for _, arg := range splitArgs(argList) {
		if arg == "*" {
			// Boundary between required and optional arguments, not an
			// argument itself.
			continue
		}
		// Each argument is a "<type> <name>" pair; only the type is kept.
		space := strings.LastIndexByte(arg, ' ')
		if space < 0 {
			return nil, errors.Errorf("malformed argument %q in formula header %q", arg, header)
		}
		parsed.ArgTypes = append(parsed.ArgTypes, strings.TrimSpace(arg[:space]))
	}
	return parsed, nil
}

// splitArgs splits on top-level commas only: type tags like
// "std::array<bool,2>" carry commas of their own.
func splitArgs(argList string) []string {
	var args []string
	depth := 0
	start := 0
	for i := 0; i < len(argList); i++ {
		switch argList[i] {
		case '<', '(', '[', '{':
			depth++
		case '>', ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(argList[start:i]))
				start = i + 1
			}
		}
	}
	if tail := strings.TrimSpace(argList[start:]); tail != "" {
		args = append(args, tail)
	}
	return args
}

// ResolveCandidate picks the registered signature a parsed header refers
// to. A unique name match is selected unconditionally. Among several
// same-named candidates the first registered whose argument count and
// positional resolved types all equal the parsed ones wins — first match,
// not best match, preserved deliberately for output compatibility.
func ResolveCandidate(registry *procs.Registry, header *Header) (*procs.ProcSignature, *diag.Diagnostic) {
	candidates := registry.LookupAll(header.Name)
	if len(candidates) == 0 {
		d := diag.Skipf(diag.UnknownDeclaration, header.Name, "no registered declaration")
		return nil, &d
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	parsedTokens := make([]typemap.Token, len(header.ArgTypes))
	for i, tag := range header.ArgTypes {
		token, err := typemap.Resolve(tag)
		if err != nil {
			// A header naming a type outside the vocabulary cannot match
			// any synthesized overload.
			token = typemap.TokenInvalid
		}
		parsedTokens[i] = token
	}
	for _, candidate := range candidates {
		if tokensEqual(candidate.DeclaredArgTypes(), parsedTokens) {
			return candidate, nil
		}
	}
	d := diag.Skipf(diag.AmbiguousOrMissingOverload, header.Name,
		"%d overloads registered, none matches argument types %v", len(candidates), header.ArgTypes)
	return nil, &d
}

func tokensEqual(a, b []typemap.Token) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

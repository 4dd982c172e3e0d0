// Package pipeline wires the generation stages together: ingest the
// declaration table into a sealed registry, then resolve and rewrite every
// derivatives-table entry against it.
//
// The registry seal is the only ordering requirement: everything after it
// only reads. Per-entry formula processing is an embarrassingly parallel
// map, and results are kept indexed so emission still follows strict
// table order.
package pipeline

import (
	"fmt"
	"strings"

	"k8s.io/klog/v2"

	"github.com/gomlx/atgen/internal/declarations"
	"github.com/gomlx/atgen/internal/deriv"
	"github.com/gomlx/atgen/internal/diag"
	"github.com/gomlx/atgen/internal/formula"
	"github.com/gomlx/atgen/internal/procs"
	"github.com/gomlx/atgen/pkg/support/xslices"
)

// BuildRegistry loads the declaration table and synthesizes every eligible
// signature. The returned registry is sealed: it is ready for the formula
// stages and cannot be appended to anymore.
//
// The error is non-nil only when the table itself is unreadable or
// malformed; skipped declarations come back as diagnostics.
func BuildRegistry(path string) (*procs.Registry, []diag.Diagnostic, error) {
	decls, err := declarations.LoadDeclarations(path)
	if err != nil {
		return nil, nil, err
	}
	registry := procs.NewRegistry()
	var diagnostics []diag.Diagnostic
	for i := range decls {
		diagnostics = append(diagnostics, procs.Synthesize(&decls[i], registry)...)
	}
	registry.Seal()
	klog.V(1).Infof("ingested %d declarations into %d signatures (%d skipped)",
		len(decls), len(registry.Ordered()), len(diagnostics))
	return registry, diagnostics, nil
}

// entryOutcome is one formula entry's result: exactly one of the three
// fields is set.
type entryOutcome struct {
	proc       *deriv.Procedure
	diagnostic *diag.Diagnostic
	err        error
}

// BuildProcedures loads the derivatives table and builds one backward
// procedure per entry that resolves. Entries are processed in parallel
// (unless parallel is false) and reassembled in table order.
//
// Header or body text that does not parse is treated as a malformed table:
// it aborts with an error and no procedures. Everything else is entry-local
// and reported through diagnostics.
func BuildProcedures(path string, registry *procs.Registry, parallel bool) ([]*deriv.Procedure, []diag.Diagnostic, error) {
	formulas, err := declarations.LoadFormulas(path)
	if err != nil {
		return nil, nil, err
	}

	// Headers parse sequentially first: a bad header is fatal, and the
	// procedure names derived from them must be assigned in table order to
	// stay deterministic.
	headers := make([]*formula.Header, len(formulas))
	for i := range formulas {
		headers[i], err = formula.ParseHeader(formulas[i].Name)
		if err != nil {
			return nil, nil, err
		}
	}
	names := procedureNames(headers)

	indices := make([]int, len(formulas))
	for i := range indices {
		indices[i] = i
	}
	process := func(i int) entryOutcome {
		return processEntry(&formulas[i], headers[i], names[i], registry)
	}
	var outcomes []entryOutcome
	if parallel {
		outcomes = xslices.MapParallel(indices, process)
	} else {
		outcomes = xslices.Map(indices, process)
	}

	var procedures []*deriv.Procedure
	var diagnostics []diag.Diagnostic
	for _, outcome := range outcomes {
		switch {
		case outcome.err != nil:
			return nil, nil, outcome.err
		case outcome.diagnostic != nil:
			diagnostics = append(diagnostics, *outcome.diagnostic)
		default:
			procedures = append(procedures, outcome.proc)
		}
	}
	klog.V(1).Infof("built %d backward procedures from %d formulas (%d skipped)",
		len(procedures), len(formulas), len(diagnostics))
	return procedures, diagnostics, nil
}

func processEntry(entry *declarations.Formula, header *formula.Header,
	name string, registry *procs.Registry) entryOutcome {
	forward, diagnostic := formula.ResolveCandidate(registry, header)
	if diagnostic != nil {
		return entryOutcome{diagnostic: diagnostic}
	}
	proc, diagnostic, err := deriv.Build(entry, forward, registry, name)
	if err != nil {
		return entryOutcome{err: err}
	}
	if diagnostic != nil {
		return entryOutcome{diagnostic: diagnostic}
	}
	return entryOutcome{proc: proc}
}

// procedureNames assigns each entry its generated function name:
// "backward" + the display form of the header name, with an ordinal
// appended to later entries sharing the same name (overloads with their own
// formulas).
func procedureNames(headers []*formula.Header) []string {
	names := make([]string, len(headers))
	seen := make(map[string]int, len(headers))
	for i, header := range headers {
		base := "backward" + procs.DisplayName(header.Name)
		if ordinal := seen[base]; ordinal > 0 {
			names[i] = fmt.Sprintf("%s%d", base, ordinal)
		} else {
			names[i] = base
		}
		seen[base]++
	}
	return names
}

// LogDiagnostics writes one warning line per skipped entry and returns a
// one-line summary.
func LogDiagnostics(diagnostics []diag.Diagnostic) string {
	counts := make(map[diag.Category]int)
	for _, d := range diagnostics {
		klog.Warning(d.String())
		counts[d.Category]++
	}
	if len(diagnostics) == 0 {
		return "no entries skipped"
	}
	parts := make([]string, 0, len(counts))
	for _, category := range []diag.Category{
		diag.UnsupportedType, diag.MissingSelf, diag.NoReturns,
		diag.AmbiguousOrMissingOverload, diag.UnknownDeclaration,
		diag.MissingDependency, diag.UnsupportedMultiGradShape,
	} {
		if counts[category] > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", category, counts[category]))
		}
	}
	return fmt.Sprintf("%d entries skipped (%s)", len(diagnostics), strings.Join(parts, ", "))
}

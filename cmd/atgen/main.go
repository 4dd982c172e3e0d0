// atgen compiles the engine's declaration and derivatives tables into Go
// source: one file of strongly-typed forward bindings and one file of
// backward (gradient) procedures.
//
// The exit status is non-zero only when an input table is unreadable or
// malformed. Skipped declarations and formulas are reported as warnings,
// one line each, and excluded from the output.
package main

import (
	"flag"
	"fmt"
	"go/format"
	"os"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/gomlx/atgen/internal/bindgen"
	"github.com/gomlx/atgen/internal/pipeline"
)

var (
	flagDeclarations = "declarations.yaml"
	flagDerivatives  = "derivatives.yaml"
	flagBindingsOut  = "gen_bindings.go"
	flagBackwardOut  = "gen_derivatives.go"
	flagPackage      = ""
	flagEngineImport = ""
	flagSequential   = false
)

var rootCmd = &cobra.Command{
	Use:   "atgen",
	Short: "Generate tensor bindings and backward procedures from the declaration tables.",
	Long: "atgen reads the engine's declaration table and derivatives table and writes " +
		"two deterministic Go source files: the forward bindings and the backward procedures.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return run()
	},
}

func run() error {
	options := bindgen.Options{
		Package:      flagPackage,
		EngineImport: flagEngineImport,
	}

	registry, diagnostics, err := pipeline.BuildRegistry(flagDeclarations)
	if err != nil {
		return err
	}
	if err := writeSource(flagBindingsOut, bindgen.Bindings(registry, flagDeclarations, options)); err != nil {
		return err
	}
	fmt.Printf("✅ atgen:\twrote %s (%d bindings)\n", flagBindingsOut, len(registry.Ordered()))

	procedures, derivDiagnostics, err := pipeline.BuildProcedures(flagDerivatives, registry, !flagSequential)
	if err != nil {
		return err
	}
	diagnostics = append(diagnostics, derivDiagnostics...)
	if err := writeSource(flagBackwardOut, bindgen.Derivatives(procedures, flagDerivatives, options)); err != nil {
		return err
	}
	fmt.Printf("✅ atgen:\twrote %s (%d backward procedures)\n", flagBackwardOut, len(procedures))

	fmt.Printf("atgen:\t%s\n", pipeline.LogDiagnostics(diagnostics))
	return nil
}

// writeSource gofmt's one generated file and writes it out.
func writeSource(path string, src []byte) error {
	formatted, err := format.Source(src)
	if err != nil {
		return errors.Wrapf(err, "formatting generated file %s", path)
	}
	must.M(os.WriteFile(path, formatted, 0644))
	return nil
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&flagDeclarations, "declarations", flagDeclarations, "path of the declaration table")
	flags.StringVar(&flagDerivatives, "derivatives", flagDerivatives, "path of the derivatives table")
	flags.StringVar(&flagBindingsOut, "bindings", flagBindingsOut, "output file for the forward bindings")
	flags.StringVar(&flagBackwardOut, "backward", flagBackwardOut, "output file for the backward procedures")
	flags.StringVar(&flagPackage, "package", bindgen.DefaultOptions.Package, "package clause of the generated files")
	flags.StringVar(&flagEngineImport, "engine-import", bindgen.DefaultOptions.EngineImport,
		"import path of the low-level engine package called by the bindings")
	flags.BoolVar(&flagSequential, "sequential", false, "disable the parallel per-formula processing")

	// klog's own flags (-v and friends) ride along on the command line.
	klog.InitFlags(nil)
	flags.AddGoFlagSet(flag.CommandLine)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		klog.Errorf("atgen: %+v", err)
		os.Exit(1)
	}
}

// Package cli implements the larder command-line interface: a thin layer
// over pkg/larder that loads class definitions, opens the configured store,
// and reads or edits objects by key.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/larder/internal/paths"
	"github.com/mesh-intelligence/larder/pkg/criteria"
	"github.com/mesh-intelligence/larder/pkg/larder"
	"github.com/mesh-intelligence/larder/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	classes   string
	jsonMode  bool
	verbose   bool
}

// exitError carries the exit code a failed command should end with.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

// userErrors are the failures caused by input rather than the environment.
var userErrors = []error{
	types.ErrUnknownClass,
	types.ErrUnknownProperty,
	types.ErrInvalidClassDef,
	types.ErrInvalidKey,
	types.ErrRecordNotFound,
	types.ErrAmbiguousMatch,
	types.ErrDuplicateIdentity,
	types.ErrReadOnlyProperty,
	types.ErrConversion,
	types.ErrValidation,
	types.ErrDeletePrevented,
	types.ErrIndexOutOfRange,
	types.ErrBackendEmpty,
	types.ErrBackendUnknown,
	criteria.ErrInvalidCriteria,
	larder.ErrSnapshotUnsupported,
}

// classify wraps err with the exit code it maps to. Errors already
// classified keep their code.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return err
	}
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return &exitError{code: exitUserError, err: err}
		}
	}
	return &exitError{code: exitSysError, err: err}
}

// usageErrorf reports bad command input.
func usageErrorf(format string, args ...any) error {
	return &exitError{code: exitUserError, err: fmt.Errorf(format, args...)}
}

// exitCode returns the process exit code for the error a command returned.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// Flag and argument errors come from cobra unclassified.
	return exitUserError
}

// NewRootCmd creates the top-level "larder" command with global flags and
// all subcommands registered.
func NewRootCmd() *cobra.Command {
	var flags rootFlags
	root := &cobra.Command{
		Use:   "larder",
		Short: "A business-object store driven by class definitions",
		Long: "Larder loads class definitions, keeps one object per identity, and\n" +
			"writes edits back to the configured store in atomic units of work.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configDir, "config-dir", "", "configuration directory (env "+paths.EnvConfigDir+")")
	pf.StringVar(&flags.dataDir, "data-dir", "", "data directory (overrides data_dir)")
	pf.StringVar(&flags.classes, "classes", "", "class definition file or directory (overrides classes)")
	pf.BoolVar(&flags.jsonMode, "json", false, "output in JSON format")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "log debug output to stderr")

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(&flags),
		newClassesCmd(&flags),
		newImportCmd(&flags),
		newExportCmd(&flags),
		newGetCmd(&flags),
		newListCmd(&flags),
		newSetCmd(&flags),
		newDeleteCmd(&flags),
	)
	return root
}

// Run executes the command tree with args and returns the exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
	}
	return exitCode(err)
}

// Execute runs the root command with the process arguments and exits with
// the appropriate code.
func Execute() {
	os.Exit(Run(os.Args[1:], os.Stdout, os.Stderr))
}

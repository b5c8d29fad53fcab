package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

// Exit codes.
const (
	ExitOK               = 0
	ExitError            = 1
	ExitThresholdsFailed = 99
)

// ExitCodeError carries the process exit code for a failed command.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string {
	return e.Err.Error()
}

func (e *ExitCodeError) Unwrap() error {
	return e.Err
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "ridestorm",
		Short:   "Load generator for the ride-start API",
		Version: version,
		Long: `ridestorm drives synthetic ride bookings against POST /ride/start with a
staged virtual-user ramp, checks every response, and prints a k6-style JSON
summary on stdout. The run fails (exit code 99) when a threshold is crossed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	// Registered up front so flags after --version are parsed as flags
	// rather than taken as a subcommand name.
	root.InitDefaultVersionFlag()

	root.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	root.PersistentFlags().String("env-file", ".env", "dotenv file loaded before anything else (missing is fine)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newStubCmd())
	root.AddCommand(newProfileCmd())

	return root
}

// Execute runs the root command with os.Args and returns the process exit code.
func Execute() int {
	return ExitCode(NewRootCmd().Execute())
}

// ExitCode maps a command error to a process exit code, printing it to stderr.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var exitErr *ExitCodeError
	if errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, exitErr.Err)
		return exitErr.Code
	}

	fmt.Fprintln(os.Stderr, "Error:", err)
	return ExitError
}

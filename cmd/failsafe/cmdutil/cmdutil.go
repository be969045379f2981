// Package cmdutil holds the small pieces shared by the failsafe
// subcommands: exit-status mapping, logger construction, and terminal
// rendering of session and rollback reports.
package cmdutil

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Exit codes reported by the CLI. Zero means the session completed without a
// rollback breach; non-zero means a rollback was triggered or the run
// aborted.
const (
	CodeOK       = 0
	CodeAborted  = 1
	CodeRollback = 2
)

// ExitError carries an exit status through cobra's error return.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// Exit wraps err with an exit status.
func Exit(code int, err error) *ExitError {
	return &ExitError{Code: code, Err: err}
}

// Code maps an error returned from command execution to a process exit
// status.
func Code(err error) int {
	if err == nil {
		return CodeOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return CodeAborted
}

// NewLogger builds the CLI logger: human-readable development output when
// verbose, terse production output otherwise.
func NewLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

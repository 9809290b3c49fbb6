package cli

import (
	"errors"
	"fmt"
)

type ExitCode int

const (
	ExitOK ExitCode = iota
	// ExitFailures is returned with --fail-on-error when an entry failed.
	ExitFailures
	ExitRules
	ExitInvalid
	ExitRuntime
	ExitAborted
)

// exitError carries the exit code a command wants the process to end with.
type exitError struct {
	code ExitCode
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit code %d", e.code)
	}

	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func withCode(code ExitCode, err error) error {
	return &exitError{code: code, err: err}
}

// codeOf maps a command error to an exit code. Errors cobra raises itself
// (unknown flags, bad arguments) are usage errors.
func codeOf(err error) ExitCode {
	if err == nil {
		return ExitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}

	return ExitInvalid
}

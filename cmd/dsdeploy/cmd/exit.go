package cmd

import (
	"errors"

	"dsdeploy/pkg/models"
	"dsdeploy/pkg/runner"
)

// Process exit codes. Automation keys off these: 0 and 2 mean the run
// can be left alone, 1 and 3 need intervention.
const (
	ExitSuccess = 0
	ExitFailure = 1
	ExitPartial = 2
	ExitConfig  = 3
)

// ExitError carries a process exit code through cobra's error path
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "exit"
}

func (e *ExitError) Unwrap() error { return e.Err }

// OutcomeExitCode maps a finalized run outcome to a process exit code
func OutcomeExitCode(outcome models.RunOutcome) int {
	switch outcome {
	case models.RunSuccess:
		return ExitSuccess
	case models.RunPartialFailure:
		return ExitPartial
	default:
		return ExitFailure
	}
}

// ExitCode extracts the process exit code from a command error
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var cfgErr *runner.ConfigurationError
	if errors.As(err, &cfgErr) {
		return ExitConfig
	}
	return ExitFailure
}

package cmd

import (
	"errors"
	"fmt"
	"testing"

	"dsdeploy/pkg/models"
	"dsdeploy/pkg/runner"
)

func TestOutcomeExitCode(t *testing.T) {
	tests := []struct {
		outcome models.RunOutcome
		want    int
	}{
		{models.RunSuccess, ExitSuccess},
		{models.RunFailure, ExitFailure},
		{models.RunPartialFailure, ExitPartial},
	}

	for _, tt := range tests {
		if got := OutcomeExitCode(tt.outcome); got != tt.want {
			t.Errorf("OutcomeExitCode(%s) = %d, want %d", tt.outcome, got, tt.want)
		}
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil error", nil, ExitSuccess},
		{"plain error", errors.New("boom"), ExitFailure},
		{"exit error", &ExitError{Code: ExitPartial, Err: errors.New("partial")}, ExitPartial},
		{"wrapped exit error", fmt.Errorf("run: %w", &ExitError{Code: ExitConfig}), ExitConfig},
		{"configuration error", &runner.ConfigurationError{Reason: "bad pipeline"}, ExitConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestExitErrorMessage(t *testing.T) {
	err := &ExitError{Code: ExitFailure, Err: errors.New("run failed")}
	if err.Error() != "run failed" {
		t.Errorf("unexpected message: %q", err.Error())
	}
	if (&ExitError{Code: ExitFailure}).Error() == "" {
		t.Error("bare exit error should still have a message")
	}
}

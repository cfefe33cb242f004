package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/protoengine/internal/ir"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Run failed or stopped, scenarios failed, non-deterministic replay
	ExitCommandError = 2 // Command error (invalid protocol, database not found, etc.)
)

// Codes reported in the JSON envelope for runs that did not succeed.
const (
	ErrCodeRunFailed     = "E201" // A command failed fatally or recovery was declined
	ErrCodeRunStopped    = "E202" // Stopped by the operator, a timeout or an interrupt
	ErrCodeRunIncomplete = "E203" // Finished in a non-terminal status
)

// ExitError carries the process exit code for a failed CLI command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// RunErrorCode returns the envelope error code for a run's final status,
// or "" when the run succeeded.
func RunErrorCode(status ir.RunStatus) string {
	switch status {
	case ir.RunSucceeded:
		return ""
	case ir.RunFailed:
		return ErrCodeRunFailed
	case ir.RunStopped:
		return ErrCodeRunStopped
	default:
		return ErrCodeRunIncomplete
	}
}

// RunExitError is the error a CLI command exits with after playing a run
// to status. It is nil only for a succeeded run.
func RunExitError(status ir.RunStatus) error {
	if status == ir.RunSucceeded {
		return nil
	}
	return NewExitError(ExitFailure, fmt.Sprintf("run %s", status))
}

// OutputFormatter writes command results as text or as a JSON envelope.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics; falls back to Writer
	Verbose   bool
}

// jsonOutput returns a JSON formatter writing to the command's stdout.
func jsonOutput(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: "json", Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr()}
}

// CLIResponse is the JSON envelope every command emits.
type CLIResponse struct {
	Status    string       `json:"status"` // "ok" or "error"
	RunID     string       `json:"run_id,omitempty"`
	RunStatus ir.RunStatus `json:"run_status,omitempty"`
	Data      any          `json:"data,omitempty"`
	Error     *CLIError    `json:"error,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Encode writes resp as indented JSON.
func (f *OutputFormatter) Encode(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return f.Encode(CLIResponse{Status: "ok", Data: data})
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return f.Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Run writes the envelope for a run that reached status. Anything short
// of success is reported as an error carrying RunErrorCode.
func (f *OutputFormatter) Run(runID string, status ir.RunStatus, data any) error {
	resp := CLIResponse{Status: "ok", RunID: runID, RunStatus: status, Data: data}
	if code := RunErrorCode(status); code != "" {
		resp.Status = "error"
		resp.Error = &CLIError{Code: code, Message: fmt.Sprintf("run %s", status)}
	}
	return f.Encode(resp)
}

// VerboseLog writes a diagnostic line in verbose mode. JSON output stays
// clean when ErrWriter is set.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

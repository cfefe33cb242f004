package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Name     string            `json:"name,omitempty"`
	Commands int               `json:"commands"`
	Errors   []ValidationIssue `json:"errors,omitempty"`
}

// ValidationIssue is one problem found in a protocol file.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Index   *int   `json:"index,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var failFast bool

	cmd := &cobra.Command{
		Use:   "validate <protocol.yaml>",
		Short: "Validate a protocol file without running it",
		Long: `Validate a protocol file without running it.

Checks that the file parses, that every command type is known, and that
every command's params satisfy the command schema.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], failFast, cmd)
		},
	}

	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "stop at the first invalid command")

	return cmd
}

func runValidate(opts *RootOptions, path string, failFast bool, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	mode := LoadModeCollectAll
	if failFast {
		mode = LoadModeFailFast
	}
	protocol, loadErrors := LoadProtocol(path, mode)

	// File could not be read or parsed.
	if protocol == nil {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
			return WrapExitError(ExitCommandError, "validation failed", loadErr)
		}
		_ = formatter.Error(ErrCodeGeneric, loadErrors[0].Error(), nil)
		return WrapExitError(ExitCommandError, "validation failed", loadErrors[0])
	}

	formatter.VerboseLog("Loaded %d command(s) from %s", len(protocol.Commands), path)

	result := ValidationResult{
		Valid:    len(loadErrors) == 0,
		Name:     protocol.Name,
		Commands: len(protocol.Commands),
	}
	for _, err := range loadErrors {
		result.Errors = append(result.Errors, toIssue(err))
	}

	if err := outputValidation(formatter, result); err != nil {
		return err
	}
	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s)", len(result.Errors)))
	}
	return nil
}

func toIssue(err error) ValidationIssue {
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		return ValidationIssue{Code: ErrCodeGeneric, Message: err.Error()}
	}
	issue := ValidationIssue{Code: loadErr.Code, Message: loadErr.Message}
	if loadErr.Index >= 0 {
		idx := loadErr.Index
		issue.Index = &idx
	}
	return issue
}

func outputValidation(f *OutputFormatter, result ValidationResult) error {
	if f.Format == "json" {
		if result.Valid {
			return f.Success(result)
		}
		return f.Error(ErrCodeInvalidParams, "validation failed", result)
	}
	writeValidationText(f.Writer, result)
	return nil
}

func writeValidationText(w io.Writer, result ValidationResult) {
	if result.Valid {
		fmt.Fprintf(w, "✓ %s: %d command(s) valid\n", displayName(result.Name), result.Commands)
		return
	}
	fmt.Fprintf(w, "✗ %s: %d error(s)\n", displayName(result.Name), len(result.Errors))
	for _, issue := range result.Errors {
		if issue.Index != nil {
			fmt.Fprintf(w, "  commands[%d] [%s] %s\n", *issue.Index, issue.Code, issue.Message)
		} else {
			fmt.Fprintf(w, "  [%s] %s\n", issue.Code, issue.Message)
		}
	}
}

func displayName(name string) string {
	if name == "" {
		return "protocol"
	}
	return name
}

package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/protoengine/internal/ir"
	"github.com/roach88/protoengine/internal/schema"
)

// Protocol is a protocol file: the commands of one run plus the run
// settings applied before it starts.
type Protocol struct {
	Name              string              `yaml:"name" json:"name"`
	RunTimeParameters map[string]any      `yaml:"run_time_parameters,omitempty" json:"run_time_parameters,omitempty"`
	LabwareOffsets    []ProtocolOffset    `yaml:"labware_offsets,omitempty" json:"labware_offsets,omitempty"`
	Commands          []ir.CommandRequest `yaml:"commands" json:"commands"`
}

// ProtocolOffset is a labware offset declared in a protocol file.
type ProtocolOffset struct {
	DefinitionURI string         `yaml:"definition_uri" json:"definition_uri"`
	Slot          string         `yaml:"slot" json:"slot"`
	Vector        ir.Coordinates `yaml:"vector" json:"vector"`
}

// Location is the deck location of the offset.
func (o ProtocolOffset) Location() ir.LabwareLocation {
	return ir.LabwareLocation{SlotName: o.Slot}
}

// LoadMode controls how errors are handled during protocol loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadError represents an error that occurred during protocol loading.
type LoadError struct {
	Code    string
	Message string
	Index   int // command index, -1 when the error is not about one command
}

func (e *LoadError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("commands[%d]: %s: %s", e.Index, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadProtocol reads a protocol file and validates every command's params
// against the command schemas.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all command errors.
// The protocol is nil only when the file itself could not be read or parsed.
func LoadProtocol(path string, mode LoadMode) (*Protocol, []error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("protocol file not found: %s", path), Index: -1}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("error reading protocol file: %v", err), Index: -1}}
	}

	var p Protocol
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&p); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeParseFailed, Message: err.Error(), Index: -1}}
	}

	if len(p.Commands) == 0 {
		return &p, []error{&LoadError{Code: ErrCodeNoCommands, Message: "protocol has no commands", Index: -1}}
	}

	validator, err := schema.New()
	if err != nil {
		return &p, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("command schema: %v", err), Index: -1}}
	}

	var errs []error
	for i, req := range p.Commands {
		if err := validateRequest(validator, req); err != nil {
			errs = append(errs, &LoadError{Code: err.code, Message: err.message, Index: i})
			if mode == LoadModeFailFast {
				return &p, errs
			}
		}
	}
	for i, off := range p.LabwareOffsets {
		if off.DefinitionURI == "" || off.Slot == "" {
			errs = append(errs, &LoadError{
				Code:    ErrCodeInvalidOffset,
				Message: fmt.Sprintf("labware_offsets[%d]: definition_uri and slot are required", i),
				Index:   -1,
			})
			if mode == LoadModeFailFast {
				return &p, errs
			}
		}
	}
	return &p, errs
}

type requestError struct {
	code    string
	message string
}

func validateRequest(v *schema.Validator, req ir.CommandRequest) *requestError {
	if req.Kind == "" {
		return &requestError{code: ErrCodeUnknownKind, message: "command_type is required"}
	}
	if !ir.IsKnownKind(req.Kind) {
		return &requestError{code: ErrCodeUnknownKind, message: fmt.Sprintf("unknown command_type %q", req.Kind)}
	}
	switch req.Intent {
	case "", ir.IntentProtocol, ir.IntentSetup:
	default:
		return &requestError{code: ErrCodeInvalidIntent, message: fmt.Sprintf("unknown intent %q", req.Intent)}
	}
	params := req.Params
	if params == nil {
		params = map[string]any{}
	}
	if _, err := v.Validate(req.Kind, params); err != nil {
		return &requestError{code: ErrCodeInvalidParams, message: err.Error()}
	}
	return nil
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeNoCommands  = "E003" // Protocol has no commands
	ErrCodeParseFailed = "E004" // YAML parse failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeWriteFailed = "E007" // File write error

	// Command validation errors
	ErrCodeUnknownKind   = "E101" // Unknown or missing command type
	ErrCodeInvalidParams = "E102" // Params failed schema validation
	ErrCodeInvalidIntent = "E103" // Unknown intent
	ErrCodeInvalidOffset = "E104" // Incomplete labware offset
)

package ir

import (
	"maps"
	"time"
)

// ErrorCode enumerates error categories recorded in run state.
type ErrorCode string

const (
	ErrCodeParamsInvalid      ErrorCode = "COMMAND_PARAMS_INVALID"
	ErrCodeCommandCancelled   ErrorCode = "COMMAND_CANCELLED"
	ErrCodeHardwareComm       ErrorCode = "HARDWARE_COMMUNICATION"
	ErrCodeTipPickUpFailed    ErrorCode = "TIP_PICK_UP_FAILED"
	ErrCodeTipNotAttached     ErrorCode = "TIP_NOT_ATTACHED"
	ErrCodeTipAlreadyAttached ErrorCode = "TIP_ALREADY_ATTACHED"
	ErrCodeTipAlreadyUsed     ErrorCode = "TIP_ALREADY_USED"
	ErrCodeLabwareNotFound    ErrorCode = "LABWARE_NOT_FOUND"
	ErrCodeLabwareNotLoaded   ErrorCode = "LABWARE_NOT_LOADED"
	ErrCodePipetteNotLoaded   ErrorCode = "PIPETTE_NOT_LOADED"
	ErrCodeModuleNotLoaded    ErrorCode = "MODULE_NOT_LOADED"
	ErrCodeWellDoesNotExist   ErrorCode = "WELL_DOES_NOT_EXIST"
	ErrCodeLocationOccupied   ErrorCode = "LOCATION_IS_OCCUPIED"
	ErrCodeInvalidLocation    ErrorCode = "INVALID_LOCATION"
	ErrCodeMountOccupied      ErrorCode = "MOUNT_OCCUPIED"
	ErrCodeVolumeExceeded     ErrorCode = "PIPETTE_VOLUME_EXCEEDED"
	ErrCodeInvalidDispense    ErrorCode = "INVALID_DISPENSE_VOLUME"
	ErrCodeDefinitionNotFound ErrorCode = "DEFINITION_NOT_FOUND"
	ErrCodeNotTiprack         ErrorCode = "LABWARE_IS_NOT_TIPRACK"
	ErrCodeModuleNotSupported ErrorCode = "MODULE_NOT_SUPPORTED"
	ErrCodeFatalEngine        ErrorCode = "FATAL_ENGINE_ERROR"
	ErrCodeEstopActivated     ErrorCode = "ESTOP_ACTIVATED"
	ErrCodeUnexpected         ErrorCode = "UNEXPECTED_ERROR"
)

// ErrorOccurrence is the recorded, data-only form of an error. It is what
// actions carry and what snapshots expose.
type ErrorOccurrence struct {
	ID          string            `json:"id"`
	Code        ErrorCode         `json:"code"`
	Detail      string            `json:"detail"`
	CommandID   string            `json:"command_id,omitempty"`
	Operation   string            `json:"operation,omitempty"`
	Recoverable bool              `json:"recoverable"`
	Fatal       bool              `json:"fatal"`
	CreatedAt   time.Time         `json:"created_at"`
	Info        map[string]string `json:"info,omitempty"`
}

// Clone returns a deep copy of the occurrence.
func (e ErrorOccurrence) Clone() ErrorOccurrence {
	out := e
	out.Info = maps.Clone(e.Info)
	return out
}

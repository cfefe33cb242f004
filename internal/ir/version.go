package ir

// Version constants for the data model and engine.
const (
	// SchemaVersion is the version of the command/action wire shape.
	SchemaVersion = "1"

	// EngineVersion is the protocol engine version.
	EngineVersion = "0.1.0"
)

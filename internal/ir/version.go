package ir

// Version constants for record schema and engine.
const (
	// SchemaVersion is the persisted fact record schema version.
	SchemaVersion = "1"

	// EngineVersion is the ledgerline engine version.
	EngineVersion = "0.3.0"
)

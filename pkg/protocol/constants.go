package protocol

// Identifiers and on-disk names.
const (
	// OperationIDPrefix prefixes every minted operation id.
	OperationIDPrefix = "op_"

	// ProjectConfigFile is the per-project override file read from a
	// working directory.
	ProjectConfigFile = ".asyncbuild.yaml"

	// ServerName is the name advertised to protocol clients.
	ServerName = "asyncbuild"
)

// Reply markers. Callers and tests key on these substrings, so their text is
// part of the external interface.
const (
	MarkerBackground  = "started in background"
	MarkerCompleted   = "OPERATION COMPLETED"
	MarkerFailed      = "OPERATION FAILED"
	MarkerTimedOut    = "OPERATION TIMED OUT"
	MarkerCancelled   = "OPERATION CANCELLED"
	MarkerWaitTimeout = "WAIT TIMED OUT"
	MarkerNotFound    = "OPERATION NOT FOUND"
	MarkerFullOutput  = "=== FULL OUTPUT ==="
)

// Tool names that are not build-tool commands.
const (
	ToolStatus = "status"
	ToolWait   = "wait"
	ToolCancel = "cancel"
	ToolSleep  = "sleep"
	ToolStats  = "stats"
)

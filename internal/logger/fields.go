package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, propagated through the call chain via context.
const (
	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldArtifactID is the candidate or accepted artifact id
	FieldArtifactID = "artifact_id"

	// FieldSignature is the short form of the artifact signature
	FieldSignature = "signature"

	// FieldBatchID identifies a batch check run
	FieldBatchID = "batch_id"
)

// Result fields, attached to the line that reports a decision.
const (
	FieldSignal     = "signal"
	FieldOutcome    = "outcome"
	FieldSimilarity = "similarity"
	FieldHybrid     = "hybrid_score"
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
)

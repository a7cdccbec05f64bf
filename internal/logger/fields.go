package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, propagated through the call chain via context.
const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldTaskID is the queue task ID
	FieldTaskID = "task_id"

	// FieldTaskType is the queue task type, e.g. index:embedding
	FieldTaskType = "task_type"

	// FieldRunID is the ingest run ID
	FieldRunID = "run_id"

	FieldComponent = "component"

	// FieldSource is the source adapter name
	FieldSource = "source"

	// FieldArtworkID is the content hash of the artwork being processed
	FieldArtworkID = "artwork_id"
)

// Metric fields, used for aggregation and alerting.
const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	FieldCount = "count"

	// FieldSize is the data size in bytes
	FieldSize = "size"

	FieldStatus = "status"

	// FieldRetry is the retry attempt of a task
	FieldRetry = "retry"
)

package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields. These are attached to a context logger and propagate
// through the call chain.
const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldBatchID is the collection batch ID
	FieldBatchID = "batch_id"

	// FieldSupplier is the supplier code
	FieldSupplier = "supplier"

	// FieldAccount is the supplier account a run collects for
	FieldAccount = "account"

	// FieldMarketplace is the marketplace a price is computed for
	FieldMarketplace = "marketplace"

	// FieldComponent is the component/module name
	FieldComponent = "component"
)

// Metric fields, used on Entry for aggregation and alerting.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldSize       = "size"
	FieldStatus     = "status"
)

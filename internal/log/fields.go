package log

import "time"

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRunID      = "run_id"
	FieldDatabaseID = "database_id"
	FieldParentID   = "parent_id"
	FieldSummaryID  = "summary_id"
	FieldBackend    = "backend"
	FieldRecordID   = "record_id"
	FieldMonth      = "month"
	FieldHabits     = "habits"
	FieldRecords    = "records"
	FieldRows       = "rows"
	FieldMonths     = "months"
	FieldDuration   = "duration_ms"
	FieldSuccess    = "success"
	FieldError      = "error"
	FieldOperation  = "operation"
)

// Components defines standard component names
const (
	ComponentApp      = "app"
	ComponentCLI      = "cli"
	ComponentNotion   = "notion"
	ComponentHabits   = "habits"
	ComponentSummary  = "summary"
	ComponentPipeline = "pipeline"
	ComponentAMQP     = "amqp"
	ComponentBackend  = "backend"
)

// Operations defines standard operation names
const (
	OpFetch     = "fetch"
	OpTabulate  = "tabulate"
	OpAggregate = "aggregate"
	OpUpsert    = "upsert"
	OpPublish   = "publish"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithDuration(d time.Duration) LogFields {
	f[FieldDuration] = d.Milliseconds()
	return f
}

// WithOutcome records success and, on failure, the error.
func (f LogFields) WithOutcome(err error) LogFields {
	f[FieldSuccess] = err == nil
	return f.WithError(err)
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}

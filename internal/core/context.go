package core

// ProcessingContext is the mutable record carried stage-to-stage for a
// single pipeline run. A single run owns its context exclusively; it is
// serialized into the error record when a stage fails. Only Metadata and
// ProcessingConfig are free-form. Everything else is a typed field the
// core understands.
type ProcessingContext struct {
	DocumentID   string
	FilePath     string
	DocumentType DocumentType
	Manufacturer string
	Model        string
	Series       string
	Version      string
	Language     string
	FileHash     string
	FileSize     int64

	// ForceReprocess bypasses the content-hash duplicate check in the
	// upload stage. Gated externally by config's force_reprocess_allowed.
	ForceReprocess bool

	RequestID     string
	CorrelationID string
	RetryAttempt  int

	// Metadata and ProcessingConfig are opaque to the core: stage
	// processors read and write them freely, the scheduler never
	// inspects their contents beyond passing them through and
	// redacting them before they reach a durable error record.
	Metadata         map[string]interface{}
	ProcessingConfig map[string]interface{}
}

// Clone returns a shallow-copied context for a new attempt: the
// processing context is never shared across attempts, each retry gets
// a fresh copy derived from the previous one.
func (c *ProcessingContext) Clone() *ProcessingContext {
	clone := *c
	clone.Metadata = cloneMap(c.Metadata)
	clone.ProcessingConfig = cloneMap(c.ProcessingConfig)
	return &clone
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// AsErrorContext flattens the context fields the error logger persists
// alongside a PipelineError, prior to redaction.
func (c *ProcessingContext) AsErrorContext() map[string]interface{} {
	return map[string]interface{}{
		"document_id":       c.DocumentID,
		"file_path":         c.FilePath,
		"document_type":     string(c.DocumentType),
		"manufacturer":      c.Manufacturer,
		"model":             c.Model,
		"series":            c.Series,
		"version":           c.Version,
		"language":          c.Language,
		"file_hash":         c.FileHash,
		"file_size":         c.FileSize,
		"force_reprocess":   c.ForceReprocess,
		"request_id":        c.RequestID,
		"correlation_id":    c.CorrelationID,
		"retry_attempt":     c.RetryAttempt,
		"metadata":          c.Metadata,
		"processing_config": c.ProcessingConfig,
	}
}

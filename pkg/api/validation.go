package api

import "fmt"

const (
	// MaxBatchRows caps the number of records accepted in one batch request.
	MaxBatchRows = 10000

	// MaxTimeoutSeconds caps the per-batch dispatch deadline.
	MaxTimeoutSeconds = 600

	// MaxWorkersLimit caps the concurrency a request may ask for.
	MaxWorkersLimit = 256
)

// ValidateBatchRequest checks a batch completion request for structural
// problems before any processing starts. Returns nil if the request is valid.
//
// Template syntax itself is not checked here; the template compiler reports
// a template_error with more context when it runs.
func ValidateBatchRequest(req *BatchRequest) *APIError {
	switch req.Mode {
	case "", BatchModeCompletion, BatchModeConversational:
	default:
		return NewInvalidRequestError("mode",
			fmt.Sprintf("unknown mode %q", req.Mode))
	}
	if req.Template == "" && !req.Conversational() {
		return NewInvalidRequestError("template", "template is required")
	}
	if len(req.Rows) == 0 {
		return NewInvalidRequestError("rows", "at least one row is required")
	}
	if len(req.Rows) > MaxBatchRows {
		return NewInvalidRequestError("rows",
			fmt.Sprintf("too many rows (max %d)", MaxBatchRows))
	}
	if req.TimeoutSeconds < 0 {
		return NewInvalidRequestError("timeout_seconds", "timeout_seconds must not be negative")
	}
	if req.TimeoutSeconds > MaxTimeoutSeconds {
		return NewInvalidRequestError("timeout_seconds",
			fmt.Sprintf("timeout_seconds too large (max %d)", MaxTimeoutSeconds))
	}
	if req.MaxWorkers < 0 {
		return NewInvalidRequestError("max_workers", "max_workers must not be negative")
	}
	if req.MaxWorkers > MaxWorkersLimit {
		return NewInvalidRequestError("max_workers",
			fmt.Sprintf("max_workers too large (max %d)", MaxWorkersLimit))
	}
	return nil
}

// ValidateStreamRequest checks a streaming completion request.
// Message sequence legality (roles, transitions) is the chat validator's
// job; this only rejects requests that are structurally unusable.
func ValidateStreamRequest(req *StreamRequest) *APIError {
	if len(req.Messages) == 0 {
		return NewInvalidRequestError("messages", "at least one message is required")
	}
	for i, m := range req.Messages {
		if m.Role == "" {
			return NewInvalidRequestError("messages",
				fmt.Sprintf("message #%d: role is required", i+1))
		}
	}
	return nil
}

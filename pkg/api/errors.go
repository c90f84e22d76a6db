package api

import "fmt"

// ErrorType represents the category of an API error.
type ErrorType string

const (
	ErrorTypeServerError     ErrorType = "server_error"
	ErrorTypeInvalidRequest  ErrorType = "invalid_request"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeTemplate        ErrorType = "template_error"
	ErrorTypeChatFormat      ErrorType = "chat_format_error"
	ErrorTypeDuplicateID     ErrorType = "duplicate_id"
	ErrorTypeInvocation      ErrorType = "invocation_error"
	ErrorTypeTooManyRequests ErrorType = "too_many_requests"
)

// APIError represents a structured API error with type, code, param, and message.
type APIError struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code,omitempty"`
	Param   string    `json:"param,omitempty"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param: %s)", e.Type, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorResponse wraps an APIError for JSON serialization as the top-level error response.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// NewInvalidRequestError creates an APIError for invalid request parameters.
func NewInvalidRequestError(param, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeInvalidRequest,
		Param:   param,
		Message: message,
	}
}

// NewNotFoundError creates an APIError for resources that cannot be found.
func NewNotFoundError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// NewServerError creates an APIError for internal server errors.
func NewServerError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeServerError,
		Message: message,
	}
}

// NewTemplateError creates an APIError for prompt template problems, such
// as a template that binds no fields.
func NewTemplateError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeTemplate,
		Message: message,
	}
}

// NewChatFormatError creates an APIError for a structural or transition
// violation in a chat sequence. The message carries the 1-based position
// of the offending message or chat.
func NewChatFormatError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeChatFormat,
		Message: message,
	}
}

// NewDuplicateIDError creates an APIError for non-unique identifiers in
// single-chat aggregation mode.
func NewDuplicateIDError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeDuplicateID,
		Message: message,
	}
}

// NewInvocationError creates an APIError for a completion backend failure
// that could not be salvaged.
func NewInvocationError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeInvocation,
		Message: message,
	}
}

// NewTooManyRequestsError creates an APIError for rate limiting.
func NewTooManyRequestsError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeTooManyRequests,
		Message: message,
	}
}

// Package models defines the core data structures for FlowDesk.
//
// It includes the WhatsApp Flow request/response shapes, template and contact
// records, and the persisted send log and flow submission records shared
// across modules.
package models

import (
	"errors"
	"time"
)

// Error variables for better error handling and testability
var (
	ErrEmptyRecipient       = errors.New("recipient cannot be empty")
	ErrMissingTemplate      = errors.New("template is required")
	ErrMissingTemplateName  = errors.New("template name is required")
	ErrMissingLanguage      = errors.New("template language is required")
	ErrInvalidParamFormat   = errors.New("invalid parameter format")
	ErrMissingContacts      = errors.New("at least one contact is required")
	ErrTooManyContacts      = errors.New("too many contacts in a single batch")
	ErrMissingPrivateKey    = errors.New("private key is required")
	ErrSettingNotFound      = errors.New("setting not found")
	ErrMissingDraftPurpose  = errors.New("draft purpose is required")
	ErrMissingPreviewTarget = errors.New("preview recipient is required")
)

// Validation constants for input validation
const (
	// MaxBatchContacts bounds the number of contacts accepted by one send request
	MaxBatchContacts = 5000
	// MaxDraftCount bounds the number of drafts generated per request
	MaxDraftCount = 5
)

// SendStatus represents the outcome of one contact in a template send batch.
type SendStatus string

const (
	// SendStatusSent indicates the payload was accepted by the messaging provider.
	SendStatusSent SendStatus = "sent"
	// SendStatusSkipped indicates the contact failed precheck and nothing was sent.
	SendStatusSkipped SendStatus = "skipped"
	// SendStatusFailed indicates the provider or the payload builder rejected the send.
	SendStatusFailed SendStatus = "failed"
)

// SendRecord is one row of the template send log.
type SendRecord struct {
	ID           string     `json:"id"`
	BatchID      string     `json:"batch_id"`
	ContactID    string     `json:"contact_id"`
	Phone        string     `json:"phone"`
	TemplateName string     `json:"template_name"`
	Status       SendStatus `json:"status"`
	SkipCode     string     `json:"skip_code,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	MessageID    string     `json:"message_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// FlowSubmission is a completed WhatsApp Flow, persisted when the final screen is submitted.
type FlowSubmission struct {
	ID        string            `json:"id"`
	FlowToken string            `json:"flow_token"`
	Screen    string            `json:"screen"`
	Fields    map[string]string `json:"fields"`
	CreatedAt time.Time         `json:"created_at"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusSkipped indicates the request was valid but the contact was not eligible.
	APIStatusSkipped APIStatus = "skipped"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Skipped creates a response for a precheck that excluded the contact.
func Skipped(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusSkipped).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}

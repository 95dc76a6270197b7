package pipeline

import (
	"errors"
	"net/http"

	"github.com/mattjoyce/deployhook/internal/webhook"
)

// Status is the terminal state of a pipeline run.
type Status string

const (
	StatusRejected  Status = "rejected"
	StatusFailed    Status = "failed"
	StatusSucceeded Status = "succeeded"
)

var (
	// ErrNotConfigured means the pushed repository has no configuration.
	ErrNotConfigured = errors.New("server-side webhook not configured")
	// ErrBadSignature means the signature header is missing or wrong.
	ErrBadSignature = errors.New("incorrect signature")
)

// Outcome is the result of one pipeline run.
type Outcome struct {
	Status Status
	// Code is the HTTP status to answer the delivery with.
	Code int
	// Message is the diagnostic text; empty on success.
	Message string
	// Err is the typed cause for Rejected and Failed outcomes.
	Err error
	// Skipped is set when the push was not to the production branch.
	Skipped bool
	RunID   string
}

// OutcomeFor classifies err. A nil error is a success; client errors reject
// the delivery; everything else fails it.
func OutcomeFor(err error) Outcome {
	switch {
	case err == nil:
		return Outcome{Status: StatusSucceeded, Code: http.StatusOK}
	case errors.Is(err, webhook.ErrBodyTooLarge):
		return Outcome{Status: StatusRejected, Code: http.StatusRequestEntityTooLarge, Message: err.Error(), Err: err}
	case IsClientError(err):
		return Outcome{Status: StatusRejected, Code: http.StatusBadRequest, Message: err.Error(), Err: err}
	default:
		return Outcome{Status: StatusFailed, Code: http.StatusInternalServerError, Message: err.Error(), Err: err}
	}
}

// IsClientError reports whether err rejects the delivery rather than failing it.
func IsClientError(err error) bool {
	return webhook.IsClientError(err) ||
		errors.Is(err, ErrNotConfigured) ||
		errors.Is(err, ErrBadSignature)
}

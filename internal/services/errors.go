package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPaymentNotFound        = errors.New("payment attempt not found")
	ErrNoInstrumentOnFile     = errors.New("no payment instrument on file")
	ErrRenewalInProgress      = errors.New("a recurring charge for this business is already in progress")
	ErrChallengeNotRenderable = errors.New("challenge content could not be decoded into renderable markup")
	ErrSourceNotFullyPaid     = errors.New("source event is not fully paid")
	ErrPaymentNotCompleted    = errors.New("payment attempt is not completed")
	ErrReceiptSourceNotFound  = errors.New("receipt source not found")
	ErrReceiptNotFound        = errors.New("receipt not found")
	ErrUnsupportedSourceType  = errors.New("unsupported receipt source type")
	ErrReceiptNotActive       = errors.New("receipt is not active")
	ErrInvalidReceiptTemplate = errors.New("invalid receipt number template")
	ErrBusinessNotFound       = errors.New("business not found")
)

// FieldError describes one rejected input field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned before any network or database call is made
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// GatewayError is a failure talking to the payment gateway. It is never a decline.
type GatewayError struct {
	Op         string
	StatusCode int
	Timeout    bool
	Body       string
	Err        error
}

func (e *GatewayError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("gateway %s timed out: %v", e.Op, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("gateway %s failed with status %d: %s", e.Op, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("gateway %s failed: %v", e.Op, e.Err)
	}
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the same call may succeed
func (e *GatewayError) Retryable() bool {
	return e.Timeout || e.StatusCode == 0 || e.StatusCode >= 500 || e.StatusCode == 429
}

// IsGatewayError reports whether err came from the gateway boundary
func IsGatewayError(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr)
}

// IsValidationError reports whether err is an input validation failure
func IsValidationError(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}

package model

import (
	"errors"
	"fmt"
)

var (
	ErrKeyRequired          = errors.New("api key required")
	ErrNoFiles              = errors.New("no files selected")
	ErrInvalidTransition    = errors.New("operation not allowed in current state")
	ErrConfirmationRequired = errors.New("confirmation required")
	ErrStoreNotFound        = errors.New("rag store not found")
	ErrNotInitialized       = errors.New("client not initialized")
)

// ProviderError is a failure reported by the remote RAG service. StatusCode
// is zero when the failure did not come from an HTTP response.
type ProviderError struct {
	Code       string
	Message    string
	Retryable  bool
	StatusCode int
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return e.Code + ": " + e.Message
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

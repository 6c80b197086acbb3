// Package errors provides standardized error handling for the TPR derivation pipeline.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Ingest / validation (fatal to the request)
	ErrCodeDataValidationFailed ErrorCode = "DATA_VALIDATION_FAILED"
	ErrCodeRegionNotRecognized  ErrorCode = "REGION_NOT_RECOGNIZED"
	ErrCodeDatasetNotFound      ErrorCode = "DATASET_NOT_FOUND"

	// Calculation (local, absorbed into the data model)
	ErrCodeInsufficientDenominator ErrorCode = "INSUFFICIENT_DENOMINATOR"
	ErrCodeUnresolvableWard        ErrorCode = "UNRESOLVABLE_WARD"
	ErrCodeRasterExtractionFailed  ErrorCode = "RASTER_EXTRACTION_FAILED"

	// Session lifecycle
	ErrCodeSessionNotFound   ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeSessionStateError ErrorCode = "SESSION_STATE_ERROR"
	ErrCodeSessionBusy       ErrorCode = "SESSION_BUSY"
	ErrCodeSessionCancelled  ErrorCode = "SESSION_CANCELLED"
	ErrCodeSessionStoreError ErrorCode = "SESSION_STORE_FAILED"

	// Infrastructure
	ErrCodeBoundaryQueryFailed ErrorCode = "BOUNDARY_QUERY_FAILED"
	ErrCodeBundleWriteFailed   ErrorCode = "BUNDLE_WRITE_FAILED"
	ErrCodeArtifactNotReady    ErrorCode = "ARTIFACT_NOT_READY"
	ErrCodeRegistryInvalid     ErrorCode = "REGISTRY_INVALID"

	// Fallback for errors that carry no code of their own.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewDataValidationError creates a non-retryable ingest validation error listing
// every missing or malformed column so the caller can correct the upload.
func NewDataValidationError(problems []string) *StandardError {
	return &StandardError{
		Code:      ErrCodeDataValidationFailed,
		Message:   "Dataset failed schema validation",
		Details:   strings.Join(problems, "; "),
		Retryable: false,
		Metadata:  map[string]interface{}{"problems": problems},
		Timestamp: time.Now().UTC(),
	}
}

// NewRegionNotRecognizedError creates a non-retryable region resolution error.
func NewRegionNotRecognizedError(region string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRegionNotRecognized,
		Message:   "Region name does not match any known state",
		Details:   fmt.Sprintf("region: %s", region),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatasetNotFoundError indicates the session points at a dataset that is no
// longer in the store.
func NewDatasetNotFoundError(ref string) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatasetNotFound,
		Message:   "Referenced dataset not found in store",
		Details:   fmt.Sprintf("datasetRef: %s", ref),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSessionNotFoundError creates a non-retryable session lookup error.
func NewSessionNotFoundError(sessionID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSessionNotFound,
		Message:   "Session not found",
		Details:   fmt.Sprintf("sessionId: %s", sessionID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSessionStateError creates an error for a message that cannot be interpreted
// at the current stage. The session itself is untouched and remains resumable.
func NewSessionStateError(stage, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSessionStateError,
		Message:   "Message cannot be interpreted at current stage",
		Details:   details,
		Retryable: false,
		Metadata:  map[string]interface{}{"stage": stage},
		Timestamp: time.Now().UTC(),
	}
}

// NewSessionBusyError indicates another message is in flight for the session.
func NewSessionBusyError(sessionID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSessionBusy,
		Message:   "Session is processing another message",
		Details:   fmt.Sprintf("sessionId: %s", sessionID),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSessionCancelledError indicates the session reached the cancelled terminal stage.
func NewSessionCancelledError(sessionID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSessionCancelled,
		Message:   "Session has been cancelled",
		Details:   fmt.Sprintf("sessionId: %s", sessionID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSessionStoreError creates a retryable persistence error.
func NewSessionStoreError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSessionStoreError,
		Message:   "Session store operation failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewBoundaryQueryFailedError creates a retryable boundary lookup error.
func NewBoundaryQueryFailedError(region string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeBoundaryQueryFailed,
		Message:   "Ward boundary lookup failed",
		Details:   fmt.Sprintf("region: %s, error: %s", region, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewBundleWriteFailedError creates a retryable output packaging error.
func NewBundleWriteFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeBundleWriteFailed,
		Message:   "Output bundle write failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewArtifactNotReadyError indicates a download was requested before the
// session reached the complete stage.
func NewArtifactNotReadyError(sessionID, artifactType string) *StandardError {
	return &StandardError{
		Code:      ErrCodeArtifactNotReady,
		Message:   "Artifacts are only available once the session is complete",
		Details:   fmt.Sprintf("sessionId: %s, artifactType: %s", sessionID, artifactType),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRegistryInvalidError creates a non-retryable covariate registry error.
func NewRegistryInvalidError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRegistryInvalid,
		Message:   "Covariate registry failed schema validation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRasterExtractionError records an isolated extraction failure. It is
// absorbed into the output as a covariate gap, never raised to the caller.
func NewRasterExtractionError(ward, covariate, reason string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRasterExtractionFailed,
		Message:   "Raster extraction failed for covariate",
		Details:   fmt.Sprintf("ward: %s, covariate: %s, reason: %s", ward, covariate, reason),
		Retryable: false,
		Metadata:  map[string]interface{}{"ward": ward, "covariate": covariate, "reason": reason},
		Timestamp: time.Now().UTC(),
	}
}

// IsCode reports whether err is, or wraps, a StandardError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var stdErr *StandardError
	return errors.As(err, &stdErr) && stdErr.Code == code
}

// Code returns the code carried by err, or INTERNAL_ERROR when err is not a
// StandardError. Used for metric labels and HTTP status mapping.
func Code(err error) ErrorCode {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ErrCodeInternal
}

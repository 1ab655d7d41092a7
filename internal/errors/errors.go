// Package errors holds the error taxonomy of the ingestion pipeline.
//
// This file provides:
// - Sentinel errors for every pipeline failure class
// - Category checks (recoverable per-sample vs. terminal)
// - ErrorToStatus mapping for the HTTP surface
// - Wrapping helpers

package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Per-sample failures. The ingestion loop drops the sample and continues.
	ErrParse      = errors.New("parse error")
	ErrDerivation = errors.New("derivation error")

	// Persistence failure on append. Fatal to that sample, surfaced to the
	// operator through the ingest health level.
	ErrStoreIO = errors.New("store I/O error")

	// Transport failure. Moves the ingestion loop to stopped.
	ErrSource = errors.New("source error")

	// Failure inside a read-side query. Recovered at the request boundary.
	ErrQuery = errors.New("query error")

	// Lookups
	ErrNoData = errors.New("no data")

	// Validation
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnknownProfile = errors.New("unknown profile")

	// State
	ErrStopped        = errors.New("stopped")
	ErrAlreadyRunning = errors.New("already running")
	ErrClosed         = errors.New("closed")
)

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// New is a convenience wrapper for errors.New
var New = errors.New

// ============================================================================
// Categories
// ============================================================================

// IsTerminal returns true if err must stop the ingestion loop.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrSource) || errors.Is(err, ErrStopped)
}

// IsValidation returns true if err is caused by bad input from a caller.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrUnknownProfile)
}

// ============================================================================
// HTTP mapping
// ============================================================================

// ErrorToStatus maps an error to the HTTP status returned to clients.
func ErrorToStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsValidation(err):
		return http.StatusBadRequest
	case Is(err, ErrNoData):
		return http.StatusNotFound
	case Is(err, ErrStopped), Is(err, ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ============================================================================
// Wrapping
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// NewParse creates a parse error with context.
func NewParse(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrParse)
}

// NewInvalidRequest creates an invalid-request error for a query parameter.
func NewInvalidRequest(param string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", param, value, reason, ErrInvalidRequest)
}

// NewValidation creates a configuration validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// StoreIO marks err as a persistence failure.
func StoreIO(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrStoreIO, err)
}

// Source marks err as a terminal transport failure.
func Source(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrSource, err)
}

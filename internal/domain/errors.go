package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrEventNotFound is returned when the event does not exist
	ErrEventNotFound = errors.New("event not found")
	// ErrPromoterNotAssigned is returned when the promoter has no commission model for the event
	ErrPromoterNotAssigned = errors.New("promoter not assigned to event")
	// ErrConcurrentModification is returned when a write transaction lost a serialization race
	ErrConcurrentModification = errors.New("closeout was modified concurrently")
)

// ValidationError is malformed input. It never mutates state.
type ValidationError struct {
	Message string
	Details map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+e.Details[k])
	}
	return e.Message + ": " + strings.Join(parts, "; ")
}

// NewValidationError builds a ValidationError for a single field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Message: message,
		Details: map[string]string{field: message},
	}
}

// ClosedEventError rejects a mutation on an event that has been finalized
type ClosedEventError struct {
	EventID  string
	ClosedAt time.Time
}

func (e *ClosedEventError) Error() string {
	return fmt.Sprintf("event %s was closed at %s", e.EventID, e.ClosedAt.UTC().Format(time.RFC3339))
}

// AlreadyClosedError is returned by a repeated finalize and carries the
// closure written by the first one
type AlreadyClosedError struct {
	Record *ClosureRecord
}

func (e *AlreadyClosedError) Error() string {
	if e.Record == nil {
		return "event already closed"
	}
	return fmt.Sprintf("event %s already closed by closure %s", e.Record.EventID, e.Record.ID)
}

// InconsistentCurrencyError means a commission model is tagged with a currency
// that differs from the event's
type InconsistentCurrencyError struct {
	EventID       string
	EventCurrency string
	PromoterID    string
	ModelCurrency string
}

func (e *InconsistentCurrencyError) Error() string {
	return fmt.Sprintf("promoter %s commission currency %q does not match event %s currency %q",
		e.PromoterID, e.ModelCurrency, e.EventID, e.EventCurrency)
}

// ConfigurationError means the commission model lacks a field its type requires
type ConfigurationError struct {
	PromoterID string
	Message    string
}

func (e *ConfigurationError) Error() string {
	if e.PromoterID == "" {
		return "commission configuration: " + e.Message
	}
	return fmt.Sprintf("promoter %s commission configuration: %s", e.PromoterID, e.Message)
}

// ResourceLockedError is returned when another mutation holds the event lock
type ResourceLockedError struct {
	EventID string
}

func (e *ResourceLockedError) Error() string {
	return fmt.Sprintf("closeout for event %s is locked by another operation", e.EventID)
}

// Line error codes
const (
	LineErrorConfiguration = "CONFIGURATION_ERROR"
	LineErrorInvalidModel  = "INVALID_COMMISSION_MODEL"
)

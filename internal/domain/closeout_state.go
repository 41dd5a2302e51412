package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// CloseoutStatus is the step an event's closeout is at
type CloseoutStatus string

const (
	CloseoutOpen             CloseoutStatus = "OPEN"
	CloseoutConfirming       CloseoutStatus = "CONFIRMING"
	CloseoutReviewingPayouts CloseoutStatus = "REVIEWING_PAYOUTS"
	CloseoutClosed           CloseoutStatus = "CLOSED"
)

// ErrInvalidTransition is returned when a status change is not allowed
var ErrInvalidTransition = errors.New("invalid closeout status transition")

// validTransitions defines allowed status changes.
// The working steps move freely; CLOSED is terminal.
var validTransitions = map[CloseoutStatus][]CloseoutStatus{
	CloseoutOpen:             {CloseoutConfirming, CloseoutReviewingPayouts, CloseoutClosed},
	CloseoutConfirming:       {CloseoutOpen, CloseoutReviewingPayouts, CloseoutClosed},
	CloseoutReviewingPayouts: {CloseoutOpen, CloseoutConfirming, CloseoutClosed},
	CloseoutClosed:           {}, // Terminal state
}

// IsValid returns true if s is a known status
func (s CloseoutStatus) IsValid() bool {
	_, exists := validTransitions[s]
	return exists
}

// IsTerminal returns true once the closeout is finalized
func (s CloseoutStatus) IsTerminal() bool {
	return s == CloseoutClosed
}

// CanTransitionTo returns true if moving to target is allowed
func (s CloseoutStatus) CanTransitionTo(target CloseoutStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// CloseoutTransition records one status change
type CloseoutTransition struct {
	ID         string         `json:"id"`
	EventID    string         `json:"event_id"`
	FromStatus CloseoutStatus `json:"from_status"`
	ToStatus   CloseoutStatus `json:"to_status"`
	Reason     string         `json:"reason,omitempty"`
	Actor      string         `json:"actor"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewTransition validates and builds a transition record
func NewTransition(eventID string, from, to CloseoutStatus, reason, actor string, at time.Time) (*CloseoutTransition, error) {
	if !from.CanTransitionTo(to) {
		return nil, ErrInvalidTransition
	}
	return &CloseoutTransition{
		ID:         uuid.New().String(),
		EventID:    eventID,
		FromStatus: from,
		ToStatus:   to,
		Reason:     reason,
		Actor:      actor,
		CreatedAt:  at,
	}, nil
}

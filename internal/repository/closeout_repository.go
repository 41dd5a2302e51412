package repository

import (
	"context"

	"github.com/kaeldominion/CrowdStack-sub002/internal/domain"
)

// EventSource reads events. GetEvent returns nil, nil when the event does not exist.
type EventSource interface {
	GetEvent(ctx context.Context, eventID string) (*domain.Event, error)
}

// CommissionSource lists the promoters assigned to an event with their commission terms
type CommissionSource interface {
	ListCommissionModels(ctx context.Context, eventID string) ([]domain.CommissionModel, error)
}

// CheckinSource lists check-in records attributed to one promoter
type CheckinSource interface {
	ListCheckins(ctx context.Context, eventID, promoterID string) ([]domain.CheckinRecord, error)
}

// CloseoutReader is everything needed to build a closeout summary
type CloseoutReader interface {
	EventSource
	CommissionSource
	CheckinSource

	// ListAdjustments returns the operator input recorded for the event
	ListAdjustments(ctx context.Context, eventID string) ([]domain.PromoterAdjustment, error)
	// GetStatus returns the current step, OPEN when nothing has been recorded
	GetStatus(ctx context.Context, eventID string) (domain.CloseoutStatus, error)
	// GetClosure returns the closure record, nil while the event is open
	GetClosure(ctx context.Context, eventID string) (*domain.ClosureRecord, error)
}

// CloseoutTx is a write transaction scoped to one event
type CloseoutTx interface {
	CloseoutReader

	// SaveAdjustment upserts the promoter's adjustment row
	SaveAdjustment(ctx context.Context, adj *domain.PromoterAdjustment) error
	// SaveTransition appends to the history and moves the current status
	SaveTransition(ctx context.Context, t *domain.CloseoutTransition) error
	// InsertClosure writes the closure and its payout lines
	InsertClosure(ctx context.Context, rec *domain.ClosureRecord) error
}

// CloseoutRepository persists closeout state
type CloseoutRepository interface {
	CloseoutReader

	// ListTransitions returns the status history, oldest first
	ListTransitions(ctx context.Context, eventID string) ([]domain.CloseoutTransition, error)
	// WithinEventTx runs fn in a transaction that holds the event's closeout row.
	// Nothing fn wrote is kept when it returns an error.
	WithinEventTx(ctx context.Context, eventID string, fn func(ctx context.Context, tx CloseoutTx) error) error
}

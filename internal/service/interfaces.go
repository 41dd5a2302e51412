package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/kaeldominion/CrowdStack-sub002/internal/domain"
)

// CloseoutService defines the event closeout operations
type CloseoutService interface {
	// GetCloseoutSummary returns the live summary, or the frozen one once closed
	GetCloseoutSummary(ctx context.Context, eventID string) (*domain.CloseoutSummary, error)
	// SetCheckinOverride sets or clears a promoter's manual check-in count
	SetCheckinOverride(ctx context.Context, eventID, promoterID string, count *int, reason *string, actor string) (*domain.PromoterCloseoutLine, error)
	// SetPayoutAdjustment sets or clears a promoter's manual payout adjustment
	SetPayoutAdjustment(ctx context.Context, eventID, promoterID string, amount *decimal.Decimal, reason *string, actor string) (*domain.PromoterCloseoutLine, error)
	// SetStep moves the closeout between its working steps
	SetStep(ctx context.Context, eventID string, status domain.CloseoutStatus, reason, actor string) (*domain.CloseoutSummary, error)
	// Finalize freezes the closeout and writes the payout snapshot
	Finalize(ctx context.Context, eventID string, in domain.FinalizeInput, actor string) (*domain.ClosureRecord, error)
	// ListTransitions returns the closeout status history
	ListTransitions(ctx context.Context, eventID string) ([]domain.CloseoutTransition, error)
}

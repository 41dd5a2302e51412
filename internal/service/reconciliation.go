package service

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kaeldominion/CrowdStack-sub002/internal/domain"
)

// CheckinCounts is the reconciled count for one promoter
type CheckinCounts struct {
	Actual    int
	Effective int
}

// CountActual counts the promoter's check-ins that were not undone
func CountActual(records []domain.CheckinRecord, promoterID string) int {
	n := 0
	for _, rec := range records {
		if rec.PromoterID == promoterID && !rec.Undone {
			n++
		}
	}
	return n
}

// Reconcile derives actual and effective counts. The override wins when set.
func Reconcile(records []domain.CheckinRecord, promoterID string, override *int) CheckinCounts {
	counts := CheckinCounts{Actual: CountActual(records, promoterID)}
	counts.Effective = counts.Actual
	if override != nil {
		counts.Effective = *override
	}
	return counts
}

// NormalizeOverride validates an override write. A nil count clears the
// override together with its reason.
func NormalizeOverride(count *int, reason *string) (*int, *string, error) {
	if count == nil {
		return nil, nil, nil
	}
	if *count < 0 {
		return nil, nil, domain.NewValidationError("count", "override count must not be negative")
	}
	r := trimmed(reason)
	if r == nil {
		return nil, nil, domain.NewValidationError("reason", "reason required")
	}
	c := *count
	return &c, r, nil
}

// NormalizeAdjustment validates an adjustment write. A reason is required for
// any non-zero amount; a nil amount clears both.
func NormalizeAdjustment(amount *decimal.Decimal, reason *string) (*decimal.Decimal, *string, error) {
	if amount == nil {
		return nil, nil, nil
	}
	r := trimmed(reason)
	if !amount.IsZero() && r == nil {
		return nil, nil, domain.NewValidationError("reason", "reason required")
	}
	a := *amount
	return &a, r, nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event is the slice of an event the closeout needs
type Event struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
	Closed   bool   `json:"closed"`
}

// CheckinRecord is an immutable check-in fact. Undone check-ins do not count.
type CheckinRecord struct {
	RegistrationID string    `json:"registration_id"`
	PromoterID     string    `json:"promoter_id"`
	CheckedInAt    time.Time `json:"checked_in_at"`
	Undone         bool      `json:"undone"`
}

// PromoterAdjustment holds the operator input for one promoter at one event.
// Each count/amount travels with its reason.
type PromoterAdjustment struct {
	EventID                string           `json:"event_id"`
	PromoterID             string           `json:"promoter_id"`
	ManualCheckinsOverride *int             `json:"manual_checkins_override"`
	ManualCheckinsReason   *string          `json:"manual_checkins_reason"`
	ManualAdjustmentAmount *decimal.Decimal `json:"manual_adjustment_amount"`
	ManualAdjustmentReason *string          `json:"manual_adjustment_reason"`
	UpdatedBy              string           `json:"updated_by"`
	UpdatedAt              time.Time        `json:"updated_at"`
}

// LineItemKind identifies the payout component that produced a line item
type LineItemKind string

// LineItemKind constants
const (
	LineItemPerHead  LineItemKind = "per_head"
	LineItemFixedFee LineItemKind = "fixed_fee"
	LineItemBonus    LineItemKind = "bonus"
	LineItemTier     LineItemKind = "bonus_tier"
)

// LineItem is one labeled component of a payout
type LineItem struct {
	Kind   LineItemKind    `json:"kind"`
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`

	// per_head
	Counted *int             `json:"counted,omitempty"`
	Rate    *decimal.Decimal `json:"rate,omitempty"`

	// fixed_fee
	FullFee *decimal.Decimal `json:"full_fee,omitempty"`
	Percent *decimal.Decimal `json:"percent,omitempty"`

	// bonus and bonus_tier
	Threshold   *int          `json:"threshold,omitempty"`
	TierType    BonusTierType `json:"tier_type,omitempty"`
	TimesEarned *int          `json:"times_earned,omitempty"`

	Note string `json:"note,omitempty"`
}

// PayoutBreakdown is the calculator output for one promoter
type PayoutBreakdown struct {
	Items            []LineItem       `json:"items"`
	CalculatedPayout decimal.Decimal  `json:"calculated_payout"`
	ManualAdjustment *decimal.Decimal `json:"manual_adjustment,omitempty"`
	FinalPayout      decimal.Decimal  `json:"final_payout"`
}

// LineError marks a closeout line that could not be priced
type LineError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PromoterCloseoutLine is the derived closeout row for one promoter
type PromoterCloseoutLine struct {
	PromoterID             string           `json:"promoter_id"`
	PromoterName           string           `json:"promoter_name,omitempty"`
	CommissionType         CommissionType   `json:"commission_type"`
	ActualCheckinsCount    int              `json:"actual_checkins_count"`
	ManualCheckinsOverride *int             `json:"manual_checkins_override"`
	ManualCheckinsReason   *string          `json:"manual_checkins_reason"`
	EffectiveCheckinsCount int              `json:"effective_checkins_count"`
	Breakdown              []LineItem       `json:"breakdown"`
	CalculatedPayout       decimal.Decimal  `json:"calculated_payout"`
	ManualAdjustmentAmount *decimal.Decimal `json:"manual_adjustment_amount"`
	ManualAdjustmentReason *string          `json:"manual_adjustment_reason"`
	FinalPayout            decimal.Decimal  `json:"final_payout"`
	Error                  *LineError       `json:"error,omitempty"`
}

// CloseoutSummary is the per-event closeout view
type CloseoutSummary struct {
	EventID       string                 `json:"event_id"`
	Status        CloseoutStatus         `json:"status"`
	Currency      string                 `json:"currency"`
	Lines         []PromoterCloseoutLine `json:"lines"`
	TotalCheckins int                    `json:"total_checkins"`
	TotalPayout   decimal.Decimal        `json:"total_payout"`
	HasErrors     bool                   `json:"has_errors"`
	ClosureID     string                 `json:"closure_id,omitempty"`
	ClosedAt      *time.Time             `json:"closed_at,omitempty"`
	ClosedBy      string                 `json:"closed_by,omitempty"`
}

// LineFor returns the line for promoterID
func (s *CloseoutSummary) LineFor(promoterID string) (*PromoterCloseoutLine, bool) {
	for i := range s.Lines {
		if s.Lines[i].PromoterID == promoterID {
			return &s.Lines[i], true
		}
	}
	return nil, false
}

// ErroredPromoters lists the promoters whose lines carry an error marker
func (s *CloseoutSummary) ErroredPromoters() []string {
	var ids []string
	for _, line := range s.Lines {
		if line.Error != nil {
			ids = append(ids, line.PromoterID)
		}
	}
	return ids
}

// ClosureRecord is the immutable snapshot written when an event is finalized.
// Its existence is what makes an event closed.
type ClosureRecord struct {
	ID            string                 `json:"id"`
	EventID       string                 `json:"event_id"`
	ClosedAt      time.Time              `json:"closed_at"`
	ClosedBy      string                 `json:"closed_by"`
	TotalRevenue  *decimal.Decimal       `json:"total_revenue,omitempty"`
	CloseoutNotes *string                `json:"closeout_notes,omitempty"`
	Currency      string                 `json:"currency"`
	TotalCheckins int                    `json:"total_checkins"`
	TotalPayout   decimal.Decimal        `json:"total_payout"`
	Lines         []PromoterCloseoutLine `json:"lines"`
}

// Summary renders the frozen record as a closed CloseoutSummary
func (r *ClosureRecord) Summary() *CloseoutSummary {
	closedAt := r.ClosedAt
	return &CloseoutSummary{
		EventID:       r.EventID,
		Status:        CloseoutClosed,
		Currency:      r.Currency,
		Lines:         r.Lines,
		TotalCheckins: r.TotalCheckins,
		TotalPayout:   r.TotalPayout,
		ClosureID:     r.ID,
		ClosedAt:      &closedAt,
		ClosedBy:      r.ClosedBy,
	}
}

// FinalizeInput carries the optional figures recorded with a closure
type FinalizeInput struct {
	TotalRevenue  *decimal.Decimal
	CloseoutNotes *string
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Clone returns a copy that shares no pointers with a
func (a PromoterAdjustment) Clone() PromoterAdjustment {
	a.ManualCheckinsOverride = clonePtr(a.ManualCheckinsOverride)
	a.ManualCheckinsReason = clonePtr(a.ManualCheckinsReason)
	a.ManualAdjustmentAmount = clonePtr(a.ManualAdjustmentAmount)
	a.ManualAdjustmentReason = clonePtr(a.ManualAdjustmentReason)
	return a
}

// Clone returns a copy that shares no pointers with i
func (i LineItem) Clone() LineItem {
	i.Counted = clonePtr(i.Counted)
	i.Rate = clonePtr(i.Rate)
	i.FullFee = clonePtr(i.FullFee)
	i.Percent = clonePtr(i.Percent)
	i.Threshold = clonePtr(i.Threshold)
	i.TimesEarned = clonePtr(i.TimesEarned)
	return i
}

// Clone returns a copy that shares no pointers or slices with l
func (l PromoterCloseoutLine) Clone() PromoterCloseoutLine {
	l.ManualCheckinsOverride = clonePtr(l.ManualCheckinsOverride)
	l.ManualCheckinsReason = clonePtr(l.ManualCheckinsReason)
	l.ManualAdjustmentAmount = clonePtr(l.ManualAdjustmentAmount)
	l.ManualAdjustmentReason = clonePtr(l.ManualAdjustmentReason)
	l.Error = clonePtr(l.Error)
	if l.Breakdown != nil {
		items := make([]LineItem, len(l.Breakdown))
		for i, item := range l.Breakdown {
			items[i] = item.Clone()
		}
		l.Breakdown = items
	}
	return l
}

// Clone deep-copies the record. A nil record clones to nil.
func (r *ClosureRecord) Clone() *ClosureRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.TotalRevenue = clonePtr(r.TotalRevenue)
	out.CloseoutNotes = clonePtr(r.CloseoutNotes)
	if r.Lines != nil {
		out.Lines = make([]PromoterCloseoutLine, len(r.Lines))
		for i, line := range r.Lines {
			out.Lines[i] = line.Clone()
		}
	}
	return &out
}

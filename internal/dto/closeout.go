package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kaeldominion/CrowdStack-sub002/internal/domain"
)

// SetCheckinOverrideRequest sets or clears a promoter's check-in override.
// A null count clears the override and its reason.
type SetCheckinOverrideRequest struct {
	Count  *int    `json:"count"`
	Reason *string `json:"reason"`
}

// SetPayoutAdjustmentRequest sets or clears a promoter's payout adjustment.
// Amount is a decimal string, e.g. "-20.00".
type SetPayoutAdjustmentRequest struct {
	Amount *decimal.Decimal `json:"amount"`
	Reason *string          `json:"reason"`
}

// SetCloseoutStepRequest moves the closeout to another working step
type SetCloseoutStepRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason" binding:"max=500"`
}

// Validate validates the SetCloseoutStepRequest
func (r *SetCloseoutStepRequest) Validate() (bool, string) {
	if r.Status == "" {
		return false, "Status is required"
	}
	return true, ""
}

// FinalizeCloseoutRequest carries the optional figures recorded at close
type FinalizeCloseoutRequest struct {
	TotalRevenue  *decimal.Decimal `json:"total_revenue"`
	CloseoutNotes *string          `json:"closeout_notes" binding:"omitempty,max=2000"`
}

// ToInput converts the request to the service input
func (r *FinalizeCloseoutRequest) ToInput() domain.FinalizeInput {
	return domain.FinalizeInput{
		TotalRevenue:  r.TotalRevenue,
		CloseoutNotes: r.CloseoutNotes,
	}
}

// LineItemResponse is one payout component
type LineItemResponse struct {
	Kind        string  `json:"kind"`
	Label       string  `json:"label"`
	Amount      string  `json:"amount"`
	Counted     *int    `json:"counted,omitempty"`
	Rate        *string `json:"rate,omitempty"`
	FullFee     *string `json:"full_fee,omitempty"`
	Percent     *string `json:"percent,omitempty"`
	Threshold   *int    `json:"threshold,omitempty"`
	TierType    string  `json:"tier_type,omitempty"`
	TimesEarned *int    `json:"times_earned,omitempty"`
	Note        string  `json:"note,omitempty"`
}

// LineErrorResponse flags a line that could not be priced
type LineErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PromoterLineResponse is one promoter's closeout row
type PromoterLineResponse struct {
	PromoterID             string              `json:"promoter_id"`
	PromoterName           string              `json:"promoter_name"`
	CommissionType         string              `json:"commission_type"`
	ActualCheckinsCount    int                 `json:"actual_checkins_count"`
	ManualCheckinsOverride *int                `json:"manual_checkins_override"`
	ManualCheckinsReason   *string             `json:"manual_checkins_reason"`
	EffectiveCheckinsCount int                 `json:"effective_checkins_count"`
	Breakdown              []*LineItemResponse `json:"breakdown"`
	CalculatedPayout       string              `json:"calculated_payout"`
	ManualAdjustmentAmount *string             `json:"manual_adjustment_amount"`
	ManualAdjustmentReason *string             `json:"manual_adjustment_reason"`
	FinalPayout            string              `json:"final_payout"`
	Error                  *LineErrorResponse  `json:"error,omitempty"`
}

// CloseoutSummaryResponse is the per-event closeout view
type CloseoutSummaryResponse struct {
	EventID       string                  `json:"event_id"`
	Status        string                  `json:"status"`
	Currency      string                  `json:"currency"`
	Lines         []*PromoterLineResponse `json:"lines"`
	TotalCheckins int                     `json:"total_checkins"`
	TotalPayout   string                  `json:"total_payout"`
	HasErrors     bool                    `json:"has_errors"`
	ClosureID     string                  `json:"closure_id,omitempty"`
	ClosedAt      string                  `json:"closed_at,omitempty"`
	ClosedBy      string                  `json:"closed_by,omitempty"`
}

// ClosureResponse is the frozen closeout snapshot
type ClosureResponse struct {
	ID            string                  `json:"id"`
	EventID       string                  `json:"event_id"`
	ClosedAt      string                  `json:"closed_at"`
	ClosedBy      string                  `json:"closed_by"`
	TotalRevenue  *string                 `json:"total_revenue"`
	CloseoutNotes *string                 `json:"closeout_notes"`
	Currency      string                  `json:"currency"`
	TotalCheckins int                     `json:"total_checkins"`
	TotalPayout   string                  `json:"total_payout"`
	Lines         []*PromoterLineResponse `json:"lines"`
}

// TransitionResponse is one closeout status change
type TransitionResponse struct {
	ID         string `json:"id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	Reason     string `json:"reason,omitempty"`
	Actor      string `json:"actor"`
	CreatedAt  string `json:"created_at"`
}

// NewCloseoutSummaryResponse converts a domain summary
func NewCloseoutSummaryResponse(s *domain.CloseoutSummary) *CloseoutSummaryResponse {
	resp := &CloseoutSummaryResponse{
		EventID:       s.EventID,
		Status:        string(s.Status),
		Currency:      s.Currency,
		Lines:         NewPromoterLineResponses(s.Lines),
		TotalCheckins: s.TotalCheckins,
		TotalPayout:   money(s.TotalPayout),
		HasErrors:     s.HasErrors,
		ClosureID:     s.ClosureID,
		ClosedBy:      s.ClosedBy,
	}
	if s.ClosedAt != nil {
		resp.ClosedAt = s.ClosedAt.UTC().Format(time.RFC3339Nano)
	}
	return resp
}

// NewClosureResponse converts a closure record
func NewClosureResponse(r *domain.ClosureRecord) *ClosureResponse {
	return &ClosureResponse{
		ID:            r.ID,
		EventID:       r.EventID,
		ClosedAt:      r.ClosedAt.UTC().Format(time.RFC3339Nano),
		ClosedBy:      r.ClosedBy,
		TotalRevenue:  moneyPtr(r.TotalRevenue),
		CloseoutNotes: r.CloseoutNotes,
		Currency:      r.Currency,
		TotalCheckins: r.TotalCheckins,
		TotalPayout:   money(r.TotalPayout),
		Lines:         NewPromoterLineResponses(r.Lines),
	}
}

// NewPromoterLineResponses converts closeout lines
func NewPromoterLineResponses(lines []domain.PromoterCloseoutLine) []*PromoterLineResponse {
	out := make([]*PromoterLineResponse, len(lines))
	for i := range lines {
		out[i] = NewPromoterLineResponse(&lines[i])
	}
	return out
}

// NewPromoterLineResponse converts one closeout line
func NewPromoterLineResponse(l *domain.PromoterCloseoutLine) *PromoterLineResponse {
	resp := &PromoterLineResponse{
		PromoterID:             l.PromoterID,
		PromoterName:           l.PromoterName,
		CommissionType:         string(l.CommissionType),
		ActualCheckinsCount:    l.ActualCheckinsCount,
		ManualCheckinsOverride: l.ManualCheckinsOverride,
		ManualCheckinsReason:   l.ManualCheckinsReason,
		EffectiveCheckinsCount: l.EffectiveCheckinsCount,
		Breakdown:              make([]*LineItemResponse, len(l.Breakdown)),
		CalculatedPayout:       money(l.CalculatedPayout),
		ManualAdjustmentAmount: moneyPtr(l.ManualAdjustmentAmount),
		ManualAdjustmentReason: l.ManualAdjustmentReason,
		FinalPayout:            money(l.FinalPayout),
	}
	for i, item := range l.Breakdown {
		resp.Breakdown[i] = &LineItemResponse{
			Kind:        string(item.Kind),
			Label:       item.Label,
			Amount:      money(item.Amount),
			Counted:     item.Counted,
			Rate:        moneyPtr(item.Rate),
			FullFee:     moneyPtr(item.FullFee),
			Percent:     plainPtr(item.Percent),
			Threshold:   item.Threshold,
			TierType:    string(item.TierType),
			TimesEarned: item.TimesEarned,
			Note:        item.Note,
		}
	}
	if l.Error != nil {
		resp.Error = &LineErrorResponse{Code: l.Error.Code, Message: l.Error.Message}
	}
	return resp
}

// NewTransitionResponses converts the status history
func NewTransitionResponses(transitions []domain.CloseoutTransition) []*TransitionResponse {
	out := make([]*TransitionResponse, len(transitions))
	for i, tr := range transitions {
		out[i] = &TransitionResponse{
			ID:         tr.ID,
			FromStatus: string(tr.FromStatus),
			ToStatus:   string(tr.ToStatus),
			Reason:     tr.Reason,
			Actor:      tr.Actor,
			CreatedAt:  tr.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
	}
	return out
}

// money renders an amount with at least two decimal places, never rounding
func money(d decimal.Decimal) string {
	if d.Equal(d.Round(2)) {
		return d.StringFixed(2)
	}
	return d.String()
}

func moneyPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := money(*d)
	return &s
}

func plainPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

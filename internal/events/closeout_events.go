package events

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kaeldominion/CrowdStack-sub002/internal/domain"
)

// Event types
const (
	EventTypeCloseoutFinalized = "closeout.finalized"
)

// FinalizedLine is the per-promoter amount owed in a finalized closeout
type FinalizedLine struct {
	PromoterID             string          `json:"promoter_id"`
	EffectiveCheckinsCount int             `json:"effective_checkins_count"`
	FinalPayout            decimal.Decimal `json:"final_payout"`
}

// CloseoutFinalizedEvent announces a closure to the disbursement system
type CloseoutFinalizedEvent struct {
	EventType     string          `json:"event_type"`
	EventID       string          `json:"event_id"`
	ClosureID     string          `json:"closure_id"`
	ClosedAt      time.Time       `json:"closed_at"`
	ClosedBy      string          `json:"closed_by"`
	Currency      string          `json:"currency"`
	TotalPayout   decimal.Decimal `json:"total_payout"`
	TotalCheckins int             `json:"total_checkins"`
	Lines         []FinalizedLine `json:"lines"`
}

// NewCloseoutFinalizedEvent builds the event from a closure record
func NewCloseoutFinalizedEvent(rec *domain.ClosureRecord) *CloseoutFinalizedEvent {
	lines := make([]FinalizedLine, 0, len(rec.Lines))
	for _, line := range rec.Lines {
		lines = append(lines, FinalizedLine{
			PromoterID:             line.PromoterID,
			EffectiveCheckinsCount: line.EffectiveCheckinsCount,
			FinalPayout:            line.FinalPayout,
		})
	}

	return &CloseoutFinalizedEvent{
		EventType:     EventTypeCloseoutFinalized,
		EventID:       rec.EventID,
		ClosureID:     rec.ID,
		ClosedAt:      rec.ClosedAt,
		ClosedBy:      rec.ClosedBy,
		Currency:      rec.Currency,
		TotalPayout:   rec.TotalPayout,
		TotalCheckins: rec.TotalCheckins,
		Lines:         lines,
	}
}

// Key partitions by event so all messages for an event stay ordered
func (e *CloseoutFinalizedEvent) Key() string {
	return e.EventID
}

// Headers returns the record headers published with the event
func (e *CloseoutFinalizedEvent) Headers() map[string]string {
	return map[string]string{
		"event_type": e.EventType,
		"closure_id": e.ClosureID,
	}
}

package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaeldominion/CrowdStack-sub002/internal/domain"
	"github.com/kaeldominion/CrowdStack-sub002/pkg/kafka"
)

func TestNewCloseoutFinalizedEvent(t *testing.T) {
	closedAt := time.Date(2026, 3, 2, 4, 30, 0, 0, time.UTC)
	rec := &domain.ClosureRecord{
		ID:            "c-1",
		EventID:       "evt-1",
		ClosedAt:      closedAt,
		ClosedBy:      "user-1",
		Currency:      "EUR",
		TotalCheckins: 20,
		TotalPayout:   decimal.RequireFromString("370.5"),
		Lines: []domain.PromoterCloseoutLine{
			{PromoterID: "p-1", EffectiveCheckinsCount: 12, FinalPayout: decimal.RequireFromString("120")},
			{PromoterID: "p-2", EffectiveCheckinsCount: 8, FinalPayout: decimal.RequireFromString("250.5")},
		},
	}

	evt := NewCloseoutFinalizedEvent(rec)
	assert.Equal(t, "evt-1", evt.Key())
	assert.Equal(t, map[string]string{"event_type": "closeout.finalized", "closure_id": "c-1"}, evt.Headers())

	record, err := kafka.NewRecord("closeout.finalized", evt, evt.Headers())
	require.NoError(t, err)
	assert.Equal(t, []byte("evt-1"), record.Key)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(record.Value, &payload))
	assert.Equal(t, "closeout.finalized", payload["event_type"])
	assert.Equal(t, "c-1", payload["closure_id"])
	assert.Equal(t, "EUR", payload["currency"])
	assert.Equal(t, "370.5", payload["total_payout"])
	assert.Equal(t, float64(20), payload["total_checkins"])
	assert.Equal(t, "2026-03-02T04:30:00Z", payload["closed_at"])

	lines, ok := payload["lines"].([]interface{})
	require.True(t, ok)
	require.Len(t, lines, 2)
	second := lines[1].(map[string]interface{})
	assert.Equal(t, "p-2", second["promoter_id"])
	assert.Equal(t, "250.5", second["final_payout"])
}

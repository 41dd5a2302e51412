package dto

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaeldominion/CrowdStack-sub002/internal/domain"
)

func TestMoney(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "0.00"},
		{"120", "120.00"},
		{"250.5", "250.50"},
		{"-20", "-20.00"},
		{"33.333", "33.333"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, money(decimal.RequireFromString(tt.in)))
		})
	}

	third := decimal.NewFromInt(500).Mul(decimal.NewFromInt(50)).Div(decimal.NewFromInt(100))
	assert.Equal(t, "250.00", money(third))
}

func TestSetPayoutAdjustmentRequest_DecodesDecimalString(t *testing.T) {
	var req SetPayoutAdjustmentRequest
	require.NoError(t, json.Unmarshal([]byte(`{"amount":"-20.00","reason":"bar tab"}`), &req))
	require.NotNil(t, req.Amount)
	assert.True(t, req.Amount.Equal(decimal.NewFromInt(-20)))
	assert.Equal(t, "bar tab", *req.Reason)

	var clear SetPayoutAdjustmentRequest
	require.NoError(t, json.Unmarshal([]byte(`{"amount":null,"reason":null}`), &clear))
	assert.Nil(t, clear.Amount)
	assert.Nil(t, clear.Reason)
}

func TestNewCloseoutSummaryResponse(t *testing.T) {
	counted := 12
	rate := decimal.NewFromInt(10)
	closedAt := time.Date(2026, 3, 2, 4, 30, 0, 0, time.UTC)
	summary := &domain.CloseoutSummary{
		EventID:  "evt-1",
		Status:   domain.CloseoutClosed,
		Currency: "USD",
		Lines: []domain.PromoterCloseoutLine{
			{
				PromoterID:             "p-1",
				CommissionType:         domain.CommissionPerHead,
				ActualCheckinsCount:    12,
				EffectiveCheckinsCount: 12,
				Breakdown: []domain.LineItem{
					{Kind: domain.LineItemPerHead, Label: "Per head", Amount: decimal.NewFromInt(120), Counted: &counted, Rate: &rate},
				},
				CalculatedPayout: decimal.NewFromInt(120),
				FinalPayout:      decimal.NewFromInt(120),
			},
			{
				PromoterID:       "p-2",
				CommissionType:   domain.CommissionFixedFee,
				Breakdown:        []domain.LineItem{},
				CalculatedPayout: decimal.Zero,
				FinalPayout:      decimal.Zero,
				Error:            &domain.LineError{Code: domain.LineErrorConfiguration, Message: "fixed_fee commission has no fixed_fee"},
			},
		},
		TotalCheckins: 12,
		TotalPayout:   decimal.NewFromInt(120),
		HasErrors:     true,
		ClosureID:     "c-1",
		ClosedAt:      &closedAt,
		ClosedBy:      "user-1",
	}

	resp := NewCloseoutSummaryResponse(summary)
	assert.Equal(t, "CLOSED", resp.Status)
	assert.Equal(t, "120.00", resp.TotalPayout)
	assert.Equal(t, "2026-03-02T04:30:00Z", resp.ClosedAt)
	require.Len(t, resp.Lines, 2)

	first := resp.Lines[0]
	require.Len(t, first.Breakdown, 1)
	assert.Equal(t, "per_head", first.Breakdown[0].Kind)
	assert.Equal(t, "10.00", *first.Breakdown[0].Rate)
	assert.Nil(t, first.ManualAdjustmentAmount)

	second := resp.Lines[1]
	require.NotNil(t, second.Error)
	assert.Equal(t, "CONFIGURATION_ERROR", second.Error.Code)
	assert.NotNil(t, second.Breakdown)
	assert.Empty(t, second.Breakdown)
}

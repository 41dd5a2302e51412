package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CommissionType selects which payout components apply to a promoter
type CommissionType string

// CommissionType constants
const (
	CommissionPerHead  CommissionType = "per_head"
	CommissionFixedFee CommissionType = "fixed_fee"
	CommissionHybrid   CommissionType = "hybrid"
)

// IsValid reports whether t is a known commission type
func (t CommissionType) IsValid() bool {
	switch t {
	case CommissionPerHead, CommissionFixedFee, CommissionHybrid:
		return true
	}
	return false
}

// UsesPerHead reports whether the per-head component is considered
func (t CommissionType) UsesPerHead() bool {
	return t == CommissionPerHead || t == CommissionHybrid
}

// UsesFixedFee reports whether the fixed-fee component is considered
func (t CommissionType) UsesFixedFee() bool {
	return t == CommissionFixedFee || t == CommissionHybrid
}

// BonusTierType controls how often a tier pays
type BonusTierType string

// BonusTierType constants
const (
	BonusOneTime    BonusTierType = "one_time"
	BonusRepeatable BonusTierType = "repeatable"
)

// BonusTier pays Amount once the count reaches Threshold. Repeatable tiers pay
// once per full multiple of Threshold.
type BonusTier struct {
	Threshold int             `json:"threshold"`
	Amount    decimal.Decimal `json:"amount"`
	Type      BonusTierType   `json:"type"`
}

// CommissionModel is one promoter's commission terms for one event.
// Nil pointer fields are "not configured".
type CommissionModel struct {
	PromoterID     string         `json:"promoter_id"`
	PromoterName   string         `json:"promoter_name,omitempty"`
	CommissionType CommissionType `json:"commission_type"`

	PerHeadRate *decimal.Decimal `json:"per_head_rate,omitempty"`
	PerHeadMin  *int             `json:"per_head_min,omitempty"`
	PerHeadMax  *int             `json:"per_head_max,omitempty"`

	FixedFee            *decimal.Decimal `json:"fixed_fee,omitempty"`
	MinimumGuests       *int             `json:"minimum_guests,omitempty"`
	BelowMinimumPercent *decimal.Decimal `json:"below_minimum_percent,omitempty"`

	BonusThreshold *int             `json:"bonus_threshold,omitempty"`
	BonusAmount    *decimal.Decimal `json:"bonus_amount,omitempty"`
	BonusTiers     []BonusTier      `json:"bonus_tiers,omitempty"`

	Currency string `json:"currency,omitempty"`
}

var hundred = decimal.NewFromInt(100)

// Clone returns a copy that shares no pointers or slices with m
func (m CommissionModel) Clone() CommissionModel {
	m.PerHeadRate = clonePtr(m.PerHeadRate)
	m.PerHeadMin = clonePtr(m.PerHeadMin)
	m.PerHeadMax = clonePtr(m.PerHeadMax)
	m.FixedFee = clonePtr(m.FixedFee)
	m.MinimumGuests = clonePtr(m.MinimumGuests)
	m.BelowMinimumPercent = clonePtr(m.BelowMinimumPercent)
	m.BonusThreshold = clonePtr(m.BonusThreshold)
	m.BonusAmount = clonePtr(m.BonusAmount)
	if m.BonusTiers != nil {
		tiers := make([]BonusTier, len(m.BonusTiers))
		copy(tiers, m.BonusTiers)
		m.BonusTiers = tiers
	}
	return m
}

// Validate checks the field-level invariants of the model. Structural gaps
// (a per_head model with no rate) are not validation failures; the calculator
// reports those as ConfigurationError.
func (m *CommissionModel) Validate() error {
	details := make(map[string]string)

	if m.PromoterID == "" {
		details["promoter_id"] = "is required"
	}
	if !m.CommissionType.IsValid() {
		details["commission_type"] = fmt.Sprintf("unknown commission type %q", m.CommissionType)
	}

	checkAmount(details, "per_head_rate", m.PerHeadRate)
	checkAmount(details, "fixed_fee", m.FixedFee)
	checkAmount(details, "bonus_amount", m.BonusAmount)
	checkCount(details, "per_head_min", m.PerHeadMin)
	checkCount(details, "per_head_max", m.PerHeadMax)
	checkCount(details, "minimum_guests", m.MinimumGuests)

	if m.PerHeadMin != nil && m.PerHeadMax != nil && *m.PerHeadMin > *m.PerHeadMax {
		details["per_head_max"] = "must be greater than or equal to per_head_min"
	}

	if p := m.BelowMinimumPercent; p != nil && (p.IsNegative() || p.GreaterThan(hundred)) {
		details["below_minimum_percent"] = "must be between 0 and 100"
	}

	if m.BonusThreshold != nil && *m.BonusThreshold <= 0 {
		details["bonus_threshold"] = "must be positive"
	}

	for i, tier := range m.BonusTiers {
		key := fmt.Sprintf("bonus_tiers[%d]", i)
		switch {
		case tier.Threshold <= 0:
			details[key] = "threshold must be positive"
		case tier.Amount.IsNegative():
			details[key] = "amount must not be negative"
		case tier.Type != BonusOneTime && tier.Type != BonusRepeatable:
			details[key] = fmt.Sprintf("unknown tier type %q", tier.Type)
		}
	}

	if len(details) > 0 {
		return &ValidationError{Message: "invalid commission model", Details: details}
	}
	return nil
}

func checkAmount(details map[string]string, field string, d *decimal.Decimal) {
	if d != nil && d.IsNegative() {
		details[field] = "must not be negative"
	}
}

func checkCount(details map[string]string, field string, n *int) {
	if n != nil && *n < 0 {
		details[field] = "must not be negative"
	}
}

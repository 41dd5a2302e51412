// Package calculator prices a promoter's commission for a check-in count.
// It is pure: no I/O, no clock, no rounding.
package calculator

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/kaeldominion/CrowdStack-sub002/internal/domain"
)

// Line item notes
const (
	NoteBelowMinimum      = "below minimum threshold"
	NoteCappedAtMaximum   = "capped at maximum"
	NoteBelowMinimumGuest = "below minimum guests"
)

var hundred = decimal.NewFromInt(100)

// Calculate returns the itemized payout for model at effectiveCount.
// Components are applied in a fixed order: per-head, fixed fee, single bonus,
// then bonus tiers by ascending threshold.
func Calculate(model *domain.CommissionModel, effectiveCount int, adjustment *decimal.Decimal) (*domain.PayoutBreakdown, error) {
	if effectiveCount < 0 {
		return nil, domain.NewValidationError("effective_checkins_count", "effective check-in count must not be negative")
	}
	if err := checkStructure(model); err != nil {
		return nil, err
	}

	items := make([]domain.LineItem, 0, 4)
	if item, ok := perHead(model, effectiveCount); ok {
		items = append(items, item)
	}
	if item, ok := fixedFee(model, effectiveCount); ok {
		items = append(items, item)
	}
	if item, ok := singleBonus(model, effectiveCount); ok {
		items = append(items, item)
	}
	items = append(items, tiers(model, effectiveCount)...)

	calculated := decimal.Zero
	for _, item := range items {
		calculated = calculated.Add(item.Amount)
	}

	b := &domain.PayoutBreakdown{
		Items:            items,
		CalculatedPayout: calculated,
		FinalPayout:      calculated,
	}
	if adjustment != nil {
		adj := *adjustment
		b.ManualAdjustment = &adj
		b.FinalPayout = calculated.Add(adj)
	}
	return b, nil
}

// checkStructure reports a model whose type needs a field that is absent.
// A zero per-head rate is present, so it only disables the component.
func checkStructure(m *domain.CommissionModel) error {
	cfgErr := func(msg string) error {
		return &domain.ConfigurationError{PromoterID: m.PromoterID, Message: msg}
	}

	switch m.CommissionType {
	case domain.CommissionPerHead:
		if m.PerHeadRate == nil {
			return cfgErr("per_head commission has no per_head_rate")
		}
	case domain.CommissionFixedFee:
		if m.FixedFee == nil {
			return cfgErr("fixed_fee commission has no fixed_fee")
		}
	case domain.CommissionHybrid:
		if m.PerHeadRate == nil && m.FixedFee == nil {
			return cfgErr("hybrid commission has neither per_head_rate nor fixed_fee")
		}
	default:
		return cfgErr(fmt.Sprintf("unknown commission type %q", m.CommissionType))
	}
	return nil
}

func perHead(m *domain.CommissionModel, count int) (domain.LineItem, bool) {
	if !m.CommissionType.UsesPerHead() || m.PerHeadRate == nil || m.PerHeadRate.IsZero() {
		return domain.LineItem{}, false
	}

	counted := count
	note := ""
	switch {
	case m.PerHeadMin != nil && count < *m.PerHeadMin:
		counted = 0
		note = NoteBelowMinimum
	case m.PerHeadMax != nil && count > *m.PerHeadMax:
		counted = *m.PerHeadMax
		note = NoteCappedAtMaximum
	}

	rate := *m.PerHeadRate
	return domain.LineItem{
		Kind:    domain.LineItemPerHead,
		Label:   fmt.Sprintf("Per-head: %d x %s", counted, rate.String()),
		Amount:  rate.Mul(decimal.NewFromInt(int64(counted))),
		Counted: &counted,
		Rate:    &rate,
		Note:    note,
	}, true
}

func fixedFee(m *domain.CommissionModel, count int) (domain.LineItem, bool) {
	if !m.CommissionType.UsesFixedFee() || m.FixedFee == nil {
		return domain.LineItem{}, false
	}

	fee := *m.FixedFee
	item := domain.LineItem{
		Kind:    domain.LineItemFixedFee,
		FullFee: &fee,
	}

	if m.MinimumGuests != nil && count < *m.MinimumGuests {
		percent := decimal.Zero
		if m.BelowMinimumPercent != nil {
			percent = *m.BelowMinimumPercent
		}
		item.Percent = &percent
		item.Amount = fee.Mul(percent).Div(hundred)
		item.Label = fmt.Sprintf("Fixed fee: %s%% of %s", percent.String(), fee.String())
		item.Note = fmt.Sprintf("%s (%d of %d)", NoteBelowMinimumGuest, count, *m.MinimumGuests)
		return item, true
	}

	full := hundred
	item.Percent = &full
	item.Amount = fee
	item.Label = fmt.Sprintf("Fixed fee: %s", fee.String())
	return item, true
}

func singleBonus(m *domain.CommissionModel, count int) (domain.LineItem, bool) {
	if m.BonusThreshold == nil || m.BonusAmount == nil || count < *m.BonusThreshold {
		return domain.LineItem{}, false
	}
	threshold := *m.BonusThreshold
	return domain.LineItem{
		Kind:      domain.LineItemBonus,
		Label:     fmt.Sprintf("Bonus: %d+ check-ins", threshold),
		Amount:    *m.BonusAmount,
		Threshold: &threshold,
	}, true
}

func tiers(m *domain.CommissionModel, count int) []domain.LineItem {
	if len(m.BonusTiers) == 0 {
		return nil
	}

	sorted := make([]domain.BonusTier, len(m.BonusTiers))
	copy(sorted, m.BonusTiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Threshold < sorted[j].Threshold
	})

	var items []domain.LineItem
	for _, tier := range sorted {
		if tier.Threshold <= 0 || count < tier.Threshold {
			continue
		}
		threshold := tier.Threshold

		switch tier.Type {
		case domain.BonusRepeatable:
			times := count / tier.Threshold
			items = append(items, domain.LineItem{
				Kind:        domain.LineItemTier,
				Label:       fmt.Sprintf("Tier bonus: %s x %d (every %d)", tier.Amount.String(), times, threshold),
				Amount:      tier.Amount.Mul(decimal.NewFromInt(int64(times))),
				Threshold:   &threshold,
				TierType:    domain.BonusRepeatable,
				TimesEarned: &times,
			})
		default:
			items = append(items, domain.LineItem{
				Kind:      domain.LineItemTier,
				Label:     fmt.Sprintf("Tier bonus: %d+ check-ins", threshold),
				Amount:    tier.Amount,
				Threshold: &threshold,
				TierType:  domain.BonusOneTime,
			})
		}
	}
	return items
}

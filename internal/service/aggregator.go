package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kaeldominion/CrowdStack-sub002/internal/calculator"
	"github.com/kaeldominion/CrowdStack-sub002/internal/domain"
	"github.com/kaeldominion/CrowdStack-sub002/internal/repository"
)

// Aggregator builds closeout summaries. It reads through whatever
// CloseoutReader it is given and never writes or caches.
type Aggregator struct{}

// NewAggregator creates a new Aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Summarize returns one line per assigned promoter plus event totals.
// A closed event is summarized from its frozen closure record.
func (a *Aggregator) Summarize(ctx context.Context, r repository.CloseoutReader, eventID string) (*domain.CloseoutSummary, error) {
	event, err := r.GetEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	if event == nil {
		return nil, domain.ErrEventNotFound
	}

	closure, err := r.GetClosure(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("get closure: %w", err)
	}
	if closure != nil {
		return closure.Summary(), nil
	}

	status, err := r.GetStatus(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("get closeout status: %w", err)
	}
	models, err := r.ListCommissionModels(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list commission models: %w", err)
	}
	adjustments, err := r.ListAdjustments(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list adjustments: %w", err)
	}
	byPromoter := make(map[string]*domain.PromoterAdjustment, len(adjustments))
	for i := range adjustments {
		byPromoter[adjustments[i].PromoterID] = &adjustments[i]
	}

	summary := &domain.CloseoutSummary{
		EventID:     eventID,
		Status:      status,
		Currency:    event.Currency,
		Lines:       make([]domain.PromoterCloseoutLine, 0, len(models)),
		TotalPayout: decimal.Zero,
	}
	for i := range models {
		line, err := a.BuildLine(ctx, r, event, &models[i], byPromoter[models[i].PromoterID])
		if err != nil {
			return nil, err
		}

		summary.TotalCheckins += line.EffectiveCheckinsCount
		if line.Error != nil {
			summary.HasErrors = true
		} else {
			summary.TotalPayout = summary.TotalPayout.Add(line.FinalPayout)
		}
		summary.Lines = append(summary.Lines, line)
	}
	return summary, nil
}

// BuildLine prices one promoter. Configuration problems are reported on the
// line; a currency mismatch fails the call.
func (a *Aggregator) BuildLine(ctx context.Context, src repository.CheckinSource, event *domain.Event, model *domain.CommissionModel, adj *domain.PromoterAdjustment) (domain.PromoterCloseoutLine, error) {
	if model.Currency != "" && model.Currency != event.Currency {
		return domain.PromoterCloseoutLine{}, &domain.InconsistentCurrencyError{
			EventID:       event.ID,
			EventCurrency: event.Currency,
			PromoterID:    model.PromoterID,
			ModelCurrency: model.Currency,
		}
	}

	records, err := src.ListCheckins(ctx, event.ID, model.PromoterID)
	if err != nil {
		return domain.PromoterCloseoutLine{}, fmt.Errorf("list checkins for promoter %s: %w", model.PromoterID, err)
	}

	line := domain.PromoterCloseoutLine{
		PromoterID:       model.PromoterID,
		PromoterName:     model.PromoterName,
		CommissionType:   model.CommissionType,
		Breakdown:        []domain.LineItem{},
		CalculatedPayout: decimal.Zero,
		FinalPayout:      decimal.Zero,
	}
	var override *int
	if adj != nil {
		override = adj.ManualCheckinsOverride
		line.ManualCheckinsOverride = adj.ManualCheckinsOverride
		line.ManualCheckinsReason = adj.ManualCheckinsReason
		line.ManualAdjustmentAmount = adj.ManualAdjustmentAmount
		line.ManualAdjustmentReason = adj.ManualAdjustmentReason
	}

	counts := Reconcile(records, model.PromoterID, override)
	line.ActualCheckinsCount = counts.Actual
	line.EffectiveCheckinsCount = counts.Effective

	if err := model.Validate(); err != nil {
		line.Error = &domain.LineError{Code: domain.LineErrorInvalidModel, Message: err.Error()}
		return line, nil
	}

	breakdown, err := calculator.Calculate(model, counts.Effective, line.ManualAdjustmentAmount)
	if err != nil {
		var cfgErr *domain.ConfigurationError
		if errors.As(err, &cfgErr) {
			line.Error = &domain.LineError{Code: domain.LineErrorConfiguration, Message: cfgErr.Message}
			return line, nil
		}
		return domain.PromoterCloseoutLine{}, err
	}

	line.Breakdown = breakdown.Items
	line.CalculatedPayout = breakdown.CalculatedPayout
	line.FinalPayout = breakdown.FinalPayout
	return line, nil
}

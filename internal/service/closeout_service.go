package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/kaeldominion/CrowdStack-sub002/internal/domain"
	"github.com/kaeldominion/CrowdStack-sub002/internal/events"
	"github.com/kaeldominion/CrowdStack-sub002/internal/repository"
	"github.com/kaeldominion/CrowdStack-sub002/pkg/kafka"
	"github.com/kaeldominion/CrowdStack-sub002/pkg/lock"
	"github.com/kaeldominion/CrowdStack-sub002/pkg/logger"
	"github.com/kaeldominion/CrowdStack-sub002/pkg/telemetry"
)

const (
	lockKeyPrefix     = "closeout:"
	lockRetryInterval = 25 * time.Millisecond

	defaultLockTTL        = 30 * time.Second
	defaultFinalizedTopic = events.EventTypeCloseoutFinalized
)

// CloseoutServiceConfig holds the collaborators of the closeout service
type CloseoutServiceConfig struct {
	Repo      repository.CloseoutRepository
	Locker    lock.Locker
	Publisher kafka.Publisher
	Metrics   *telemetry.CloseoutMetrics
	Logger    *logger.Logger

	FinalizedTopic string
	LockTTL        time.Duration
	// LockWait is how long a mutation retries a held event lock. Zero fails at once.
	LockWait time.Duration
	Clock    func() time.Time
}

// closeoutService implements the CloseoutService interface
type closeoutService struct {
	repo       repository.CloseoutRepository
	aggregator *Aggregator
	locker     lock.Locker
	publisher  kafka.Publisher
	metrics    *telemetry.CloseoutMetrics
	log        *logger.Logger

	topic    string
	lockTTL  time.Duration
	lockWait time.Duration
	clock    func() time.Time
}

// NewCloseoutService creates a new CloseoutService
func NewCloseoutService(cfg *CloseoutServiceConfig) CloseoutService {
	s := &closeoutService{
		repo:       cfg.Repo,
		aggregator: NewAggregator(),
		locker:     cfg.Locker,
		publisher:  cfg.Publisher,
		metrics:    cfg.Metrics,
		log:        cfg.Logger,
		topic:      cfg.FinalizedTopic,
		lockTTL:    cfg.LockTTL,
		lockWait:   cfg.LockWait,
		clock:      cfg.Clock,
	}

	if s.locker == nil {
		s.locker = lock.NewLocalLocker()
	}
	if s.publisher == nil {
		s.publisher = kafka.NoopPublisher{}
	}
	if s.metrics == nil {
		// instruments on a no-op meter cannot fail to register
		s.metrics, _ = telemetry.NewCloseoutMetrics(noop.NewMeterProvider().Meter("closeout"))
	}
	if s.log == nil {
		s.log = logger.NewNop()
	}
	if s.topic == "" {
		s.topic = defaultFinalizedTopic
	}
	if s.lockTTL <= 0 {
		s.lockTTL = defaultLockTTL
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s
}

// GetCloseoutSummary returns the live summary, or the frozen one once closed
func (s *closeoutService) GetCloseoutSummary(ctx context.Context, eventID string) (*domain.CloseoutSummary, error) {
	ctx, span := telemetry.StartSpan(ctx, "closeout.GetCloseoutSummary")
	defer span.End()
	span.SetAttributes(telemetry.EventIDAttr(eventID))

	start := time.Now()
	summary, err := s.aggregator.Summarize(ctx, s.repo, eventID)
	if err != nil {
		telemetry.SetSpanError(span, err)
		var currencyErr *domain.InconsistentCurrencyError
		if errors.As(err, &currencyErr) {
			s.log.WithContext(ctx).Error("inconsistent commission currency",
				zap.String("event_id", eventID),
				zap.String("promoter_id", currencyErr.PromoterID),
				zap.String("event_currency", currencyErr.EventCurrency),
				zap.String("model_currency", currencyErr.ModelCurrency),
			)
		}
		return nil, err
	}

	attrs := []attribute.KeyValue{telemetry.CloseoutStatusAttr(string(summary.Status))}
	s.metrics.Summaries.Inc(ctx, attrs...)
	s.metrics.SummarizeDuration.Record(ctx, time.Since(start).Seconds(), attrs...)

	if errored := summary.ErroredPromoters(); len(errored) > 0 {
		s.metrics.ConfigurationLines.Add(ctx, int64(len(errored)))
		s.log.WithContext(ctx).Warn("closeout has unpriced promoter lines",
			zap.String("event_id", eventID),
			zap.Strings("promoter_ids", errored),
		)
	}
	return summary, nil
}

// SetCheckinOverride sets or clears a promoter's manual check-in count
func (s *closeoutService) SetCheckinOverride(ctx context.Context, eventID, promoterID string, count *int, reason *string, actor string) (*domain.PromoterCloseoutLine, error) {
	ctx, span := telemetry.StartSpan(ctx, "closeout.SetCheckinOverride")
	defer span.End()
	span.SetAttributes(telemetry.EventIDAttr(eventID), telemetry.PromoterIDAttr(promoterID))

	line, err := s.updateAdjustment(ctx, eventID, promoterID, actor,
		func() error {
			var err error
			count, reason, err = NormalizeOverride(count, reason)
			return err
		},
		func(adj *domain.PromoterAdjustment) {
			adj.ManualCheckinsOverride = count
			adj.ManualCheckinsReason = reason
		},
	)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	s.metrics.Overrides.Inc(ctx, telemetry.ReasonAttr(overrideAction(count != nil)))
	s.log.WithContext(ctx).Info("checkin override updated",
		zap.String("event_id", eventID),
		zap.String("promoter_id", promoterID),
		zap.String("actor", actor),
		zap.Int("actual_checkins", line.ActualCheckinsCount),
		zap.Int("effective_checkins", line.EffectiveCheckinsCount),
	)
	return line, nil
}

// SetPayoutAdjustment sets or clears a promoter's manual payout adjustment
func (s *closeoutService) SetPayoutAdjustment(ctx context.Context, eventID, promoterID string, amount *decimal.Decimal, reason *string, actor string) (*domain.PromoterCloseoutLine, error) {
	ctx, span := telemetry.StartSpan(ctx, "closeout.SetPayoutAdjustment")
	defer span.End()
	span.SetAttributes(telemetry.EventIDAttr(eventID), telemetry.PromoterIDAttr(promoterID))

	line, err := s.updateAdjustment(ctx, eventID, promoterID, actor,
		func() error {
			var err error
			amount, reason, err = NormalizeAdjustment(amount, reason)
			return err
		},
		func(adj *domain.PromoterAdjustment) {
			adj.ManualAdjustmentAmount = amount
			adj.ManualAdjustmentReason = reason
		},
	)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	s.metrics.Adjustments.Inc(ctx, telemetry.ReasonAttr(overrideAction(amount != nil)))
	s.log.WithContext(ctx).Info("payout adjustment updated",
		zap.String("event_id", eventID),
		zap.String("promoter_id", promoterID),
		zap.String("actor", actor),
		zap.String("calculated_payout", line.CalculatedPayout.String()),
		zap.String("final_payout", line.FinalPayout.String()),
	)
	return line, nil
}

// updateAdjustment runs the shared write path for overrides and adjustments:
// guard, validate, lock, then apply inside the event transaction.
func (s *closeoutService) updateAdjustment(ctx context.Context, eventID, promoterID, actor string, validate func() error, apply func(adj *domain.PromoterAdjustment)) (*domain.PromoterCloseoutLine, error) {
	if _, _, err := s.ensureOpen(ctx, s.repo, eventID); err != nil {
		return nil, err
	}
	if err := validate(); err != nil {
		return nil, err
	}

	var line domain.PromoterCloseoutLine
	err := s.inEventTx(ctx, eventID, func(ctx context.Context, tx repository.CloseoutTx) error {
		event, _, err := s.ensureOpen(ctx, tx, eventID)
		if err != nil {
			return err
		}

		model, err := findModel(ctx, tx, eventID, promoterID)
		if err != nil {
			return err
		}
		adj, err := findAdjustment(ctx, tx, eventID, promoterID)
		if err != nil {
			return err
		}

		apply(adj)
		adj.UpdatedBy = actor
		adj.UpdatedAt = s.now()
		if err := tx.SaveAdjustment(ctx, adj); err != nil {
			return fmt.Errorf("save adjustment: %w", err)
		}

		line, err = s.aggregator.BuildLine(ctx, tx, event, model, adj)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &line, nil
}

// SetStep moves the closeout between its working steps. CLOSED is only
// reachable through Finalize.
func (s *closeoutService) SetStep(ctx context.Context, eventID string, status domain.CloseoutStatus, reason, actor string) (*domain.CloseoutSummary, error) {
	ctx, span := telemetry.StartSpan(ctx, "closeout.SetStep")
	defer span.End()
	span.SetAttributes(telemetry.EventIDAttr(eventID), telemetry.CloseoutStatusAttr(string(status)))

	if _, _, err := s.ensureOpen(ctx, s.repo, eventID); err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}
	if !status.IsValid() {
		return nil, domain.NewValidationError("status", fmt.Sprintf("unknown closeout status %q", status))
	}
	if status.IsTerminal() {
		return nil, domain.NewValidationError("status", "closeout can only be closed by finalizing")
	}

	var summary *domain.CloseoutSummary
	var from domain.CloseoutStatus
	err := s.inEventTx(ctx, eventID, func(ctx context.Context, tx repository.CloseoutTx) error {
		if _, _, err := s.ensureOpen(ctx, tx, eventID); err != nil {
			return err
		}

		current, err := tx.GetStatus(ctx, eventID)
		if err != nil {
			return fmt.Errorf("get closeout status: %w", err)
		}
		from = current

		if current != status {
			tr, err := domain.NewTransition(eventID, current, status, reason, actor, s.now())
			if err != nil {
				return fmt.Errorf("%w: %s to %s", err, current, status)
			}
			if err := tx.SaveTransition(ctx, tr); err != nil {
				return fmt.Errorf("save transition: %w", err)
			}
		}

		summary, err = s.aggregator.Summarize(ctx, tx, eventID)
		return err
	})
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	if from != status {
		s.log.WithContext(ctx).Info("closeout step changed",
			zap.String("event_id", eventID),
			zap.String("from", string(from)),
			zap.String("to", string(status)),
			zap.String("actor", actor),
		)
	}
	return summary, nil
}

// Finalize freezes the closeout. It succeeds once per event; later calls get
// AlreadyClosedError carrying the first closure.
func (s *closeoutService) Finalize(ctx context.Context, eventID string, in domain.FinalizeInput, actor string) (*domain.ClosureRecord, error) {
	ctx, span := telemetry.StartSpan(ctx, "closeout.Finalize")
	defer span.End()
	span.SetAttributes(telemetry.EventIDAttr(eventID), telemetry.UserIDAttr(actor))

	rec, err := s.finalize(ctx, eventID, in, actor)
	if err != nil {
		telemetry.SetSpanError(span, err)
		s.metrics.FinalizeRejected.Inc(ctx, telemetry.ErrorTypeAttr(errorType(err)))
		return nil, err
	}

	s.metrics.Finalizations.Inc(ctx)
	log := s.log.WithContext(ctx).WithFields(
		zap.String("event_id", eventID),
		zap.String("closure_id", rec.ID),
	)
	log.Info("closeout finalized",
		zap.String("closed_by", actor),
		zap.Int("total_checkins", rec.TotalCheckins),
		zap.String("total_payout", rec.TotalPayout.String()),
		zap.String("currency", rec.Currency),
	)

	evt := events.NewCloseoutFinalizedEvent(rec)
	if err := s.publisher.Publish(ctx, s.topic, evt, evt.Headers()); err != nil {
		// the closure is committed; downstream can resync from event_closures
		log.Error("failed to publish finalized closeout", zap.Error(err))
		telemetry.AddSpanEvent(ctx, "publish_failed", telemetry.ErrorTypeAttr("publish"))
	}
	return rec, nil
}

func (s *closeoutService) finalize(ctx context.Context, eventID string, in domain.FinalizeInput, actor string) (*domain.ClosureRecord, error) {
	if _, closure, err := s.ensureOpen(ctx, s.repo, eventID); err != nil {
		if closure != nil {
			return nil, &domain.AlreadyClosedError{Record: closure}
		}
		return nil, err
	}
	if in.TotalRevenue != nil && in.TotalRevenue.IsNegative() {
		return nil, domain.NewValidationError("total_revenue", "total revenue must not be negative")
	}
	notes := trimmed(in.CloseoutNotes)

	var rec *domain.ClosureRecord
	err := s.inEventTx(ctx, eventID, func(ctx context.Context, tx repository.CloseoutTx) error {
		if _, closure, err := s.ensureOpen(ctx, tx, eventID); err != nil {
			if closure != nil {
				return &domain.AlreadyClosedError{Record: closure}
			}
			return err
		}

		summary, err := s.aggregator.Summarize(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if summary.HasErrors {
			details := make(map[string]string)
			for _, line := range summary.Lines {
				if line.Error != nil {
					details[line.PromoterID] = line.Error.Message
				}
			}
			return &domain.ValidationError{
				Message: "cannot finalize while promoter commission models have configuration errors",
				Details: details,
			}
		}

		now := s.now()
		closure := &domain.ClosureRecord{
			ID:            uuid.New().String(),
			EventID:       eventID,
			ClosedAt:      now,
			ClosedBy:      actor,
			TotalRevenue:  in.TotalRevenue,
			CloseoutNotes: notes,
			Currency:      summary.Currency,
			TotalCheckins: summary.TotalCheckins,
			TotalPayout:   summary.TotalPayout,
			Lines:         summary.Lines,
		}

		tr, err := domain.NewTransition(eventID, summary.Status, domain.CloseoutClosed, "finalized", actor, now)
		if err != nil {
			return fmt.Errorf("%w: %s to %s", err, summary.Status, domain.CloseoutClosed)
		}
		if err := tx.SaveTransition(ctx, tr); err != nil {
			return fmt.Errorf("save transition: %w", err)
		}
		if err := tx.InsertClosure(ctx, closure); err != nil {
			var already *domain.AlreadyClosedError
			if errors.As(err, &already) {
				return err
			}
			return fmt.Errorf("insert closure: %w", err)
		}

		rec = closure
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListTransitions returns the closeout status history, oldest first
func (s *closeoutService) ListTransitions(ctx context.Context, eventID string) ([]domain.CloseoutTransition, error) {
	event, err := s.repo.GetEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	if event == nil {
		return nil, domain.ErrEventNotFound
	}

	transitions, err := s.repo.ListTransitions(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	if transitions == nil {
		transitions = []domain.CloseoutTransition{}
	}
	return transitions, nil
}

// ensureOpen is the gate every mutation passes through, once before taking the
// lock and again inside the write transaction. A closed event yields
// ClosedEventError together with its closure record.
func (s *closeoutService) ensureOpen(ctx context.Context, r repository.CloseoutReader, eventID string) (*domain.Event, *domain.ClosureRecord, error) {
	event, err := r.GetEvent(ctx, eventID)
	if err != nil {
		return nil, nil, fmt.Errorf("get event: %w", err)
	}
	if event == nil {
		return nil, nil, domain.ErrEventNotFound
	}

	closure, err := r.GetClosure(ctx, eventID)
	if err != nil {
		return nil, nil, fmt.Errorf("get closure: %w", err)
	}
	if closure != nil {
		return event, closure, &domain.ClosedEventError{EventID: eventID, ClosedAt: closure.ClosedAt}
	}
	return event, nil, nil
}

// inEventTx serializes fn with other mutations of the event, first through the
// distributed lock and then through the repository transaction
func (s *closeoutService) inEventTx(ctx context.Context, eventID string, fn func(ctx context.Context, tx repository.CloseoutTx) error) error {
	held, err := s.acquire(ctx, eventID)
	if err != nil {
		return err
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			s.log.WithContext(ctx).Warn("failed to release closeout lock",
				zap.String("event_id", eventID),
				zap.Error(err),
			)
		}
	}()

	return s.repo.WithinEventTx(ctx, eventID, fn)
}

func (s *closeoutService) acquire(ctx context.Context, eventID string) (lock.Lock, error) {
	key := lockKeyPrefix + eventID
	deadline := time.Now().Add(s.lockWait)

	for {
		held, err := s.locker.Acquire(ctx, key, s.lockTTL)
		if err == nil {
			return held, nil
		}
		if !errors.Is(err, lock.ErrNotAcquired) {
			return nil, fmt.Errorf("acquire closeout lock: %w", err)
		}
		if !time.Now().Before(deadline) {
			s.metrics.LockContention.Inc(ctx, telemetry.EventIDAttr(eventID))
			return nil, &domain.ResourceLockedError{EventID: eventID}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

func (s *closeoutService) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

func findModel(ctx context.Context, r repository.CommissionSource, eventID, promoterID string) (*domain.CommissionModel, error) {
	models, err := r.ListCommissionModels(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list commission models: %w", err)
	}
	for i := range models {
		if models[i].PromoterID == promoterID {
			return &models[i], nil
		}
	}
	return nil, domain.ErrPromoterNotAssigned
}

func findAdjustment(ctx context.Context, r repository.CloseoutReader, eventID, promoterID string) (*domain.PromoterAdjustment, error) {
	adjustments, err := r.ListAdjustments(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list adjustments: %w", err)
	}
	for i := range adjustments {
		if adjustments[i].PromoterID == promoterID {
			return &adjustments[i], nil
		}
	}
	return &domain.PromoterAdjustment{EventID: eventID, PromoterID: promoterID}, nil
}

func overrideAction(set bool) string {
	if set {
		return "set"
	}
	return "cleared"
}

// errorType names err for metric attributes
func errorType(err error) string {
	var (
		validation *domain.ValidationError
		closed     *domain.ClosedEventError
		already    *domain.AlreadyClosedError
		locked     *domain.ResourceLockedError
		currency   *domain.InconsistentCurrencyError
	)
	switch {
	case errors.As(err, &already):
		return "already_closed"
	case errors.As(err, &closed):
		return "closed"
	case errors.As(err, &validation):
		return "validation"
	case errors.As(err, &locked):
		return "locked"
	case errors.As(err, &currency):
		return "inconsistent_currency"
	case errors.Is(err, domain.ErrEventNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrConcurrentModification):
		return "conflict"
	}
	return "internal"
}

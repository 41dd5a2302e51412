package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kaeldominion/CrowdStack-sub002/internal/domain"
	"github.com/kaeldominion/CrowdStack-sub002/pkg/database"
)

const closureEventConstraint = "event_closures_event_id_key"

// maxTxAttempts bounds retries of a transaction that lost a serialization race
const maxTxAttempts = 3

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresCloseoutRepository implements CloseoutRepository using PostgreSQL
type PostgresCloseoutRepository struct {
	pgReader
	pool *pgxpool.Pool
}

// NewPostgresCloseoutRepository creates a new PostgresCloseoutRepository
func NewPostgresCloseoutRepository(pool *pgxpool.Pool) *PostgresCloseoutRepository {
	return &PostgresCloseoutRepository{pgReader: pgReader{q: pool}, pool: pool}
}

// WithinEventTx runs fn at SERIALIZABLE isolation after locking the event's
// closeout row. fn is re-run when the transaction loses a serialization race,
// so it must not have side effects outside tx.
func (r *PostgresCloseoutRepository) WithinEventTx(ctx context.Context, eventID string, fn func(ctx context.Context, tx CloseoutTx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = database.WithTx(ctx, r.pool, database.Serializable, func(tx pgx.Tx) error {
			if err := lockCloseoutRow(ctx, tx, eventID); err != nil {
				return err
			}
			return fn(ctx, &pgTx{pgReader: pgReader{q: tx}, tx: tx})
		})
		if !database.IsSerializationFailure(err) {
			break
		}
	}

	switch {
	case err == nil:
		return nil
	case database.IsUniqueViolation(err, closureEventConstraint):
		rec, getErr := r.GetClosure(ctx, eventID)
		if getErr != nil {
			return fmt.Errorf("load existing closure: %w", getErr)
		}
		return &domain.AlreadyClosedError{Record: rec}
	case database.IsSerializationFailure(err):
		return fmt.Errorf("%w: %v", domain.ErrConcurrentModification, err)
	}
	return err
}

func lockCloseoutRow(ctx context.Context, tx pgx.Tx, eventID string) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO event_closeouts (event_id) VALUES ($1) ON CONFLICT (event_id) DO NOTHING`, eventID)
	if err != nil {
		return fmt.Errorf("ensure closeout row: %w", err)
	}

	var status string
	err = tx.QueryRow(ctx,
		`SELECT status FROM event_closeouts WHERE event_id = $1 FOR UPDATE`, eventID).Scan(&status)
	if err != nil {
		return fmt.Errorf("lock closeout row: %w", err)
	}
	return nil
}

// ListTransitions returns the status history, oldest first
func (r *PostgresCloseoutRepository) ListTransitions(ctx context.Context, eventID string) ([]domain.CloseoutTransition, error) {
	query := `
		SELECT id, event_id, from_status, to_status, reason, actor, created_at
		FROM closeout_transitions
		WHERE event_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.pool.Query(ctx, query, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transitions []domain.CloseoutTransition
	for rows.Next() {
		var t domain.CloseoutTransition
		var from, to string
		if err := rows.Scan(&t.ID, &t.EventID, &from, &to, &t.Reason, &t.Actor, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.FromStatus = domain.CloseoutStatus(from)
		t.ToStatus = domain.CloseoutStatus(to)
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}

// pgReader implements CloseoutReader over a pool or a transaction
type pgReader struct {
	q querier
}

// GetEvent retrieves the event and whether a closure exists for it
func (r pgReader) GetEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	query := `
		SELECT e.id, e.name, e.currency,
			EXISTS (SELECT 1 FROM event_closures c WHERE c.event_id = e.id)
		FROM events e
		WHERE e.id = $1
	`
	event := &domain.Event{}
	err := r.q.QueryRow(ctx, query, eventID).Scan(&event.ID, &event.Name, &event.Currency, &event.Closed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return event, nil
}

// ListCommissionModels lists assigned promoters ordered by promoter id
func (r pgReader) ListCommissionModels(ctx context.Context, eventID string) ([]domain.CommissionModel, error) {
	query := `
		SELECT promoter_id, promoter_name, commission_type,
			per_head_rate::text, per_head_min, per_head_max,
			fixed_fee::text, minimum_guests, below_minimum_percent::text,
			bonus_threshold, bonus_amount::text, bonus_tiers, currency
		FROM event_promoters
		WHERE event_id = $1
		ORDER BY promoter_id ASC
	`
	rows, err := r.q.Query(ctx, query, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var models []domain.CommissionModel
	for rows.Next() {
		var m domain.CommissionModel
		var commissionType string
		var rate, fee, belowPct, bonusAmount *string
		var tiers []byte
		err := rows.Scan(
			&m.PromoterID,
			&m.PromoterName,
			&commissionType,
			&rate,
			&m.PerHeadMin,
			&m.PerHeadMax,
			&fee,
			&m.MinimumGuests,
			&belowPct,
			&m.BonusThreshold,
			&bonusAmount,
			&tiers,
			&m.Currency,
		)
		if err != nil {
			return nil, err
		}
		m.CommissionType = domain.CommissionType(commissionType)

		if m.PerHeadRate, err = parseDecimal(rate); err != nil {
			return nil, fmt.Errorf("promoter %s per_head_rate: %w", m.PromoterID, err)
		}
		if m.FixedFee, err = parseDecimal(fee); err != nil {
			return nil, fmt.Errorf("promoter %s fixed_fee: %w", m.PromoterID, err)
		}
		if m.BelowMinimumPercent, err = parseDecimal(belowPct); err != nil {
			return nil, fmt.Errorf("promoter %s below_minimum_percent: %w", m.PromoterID, err)
		}
		if m.BonusAmount, err = parseDecimal(bonusAmount); err != nil {
			return nil, fmt.Errorf("promoter %s bonus_amount: %w", m.PromoterID, err)
		}
		if len(tiers) > 0 {
			if err := json.Unmarshal(tiers, &m.BonusTiers); err != nil {
				return nil, fmt.Errorf("promoter %s bonus_tiers: %w", m.PromoterID, err)
			}
		}

		models = append(models, m)
	}
	return models, rows.Err()
}

// ListCheckins lists check-ins attributed to promoterID, including undone ones
func (r pgReader) ListCheckins(ctx context.Context, eventID, promoterID string) ([]domain.CheckinRecord, error) {
	query := `
		SELECT registration_id, promoter_id, checked_in_at, undone
		FROM checkins
		WHERE event_id = $1 AND promoter_id = $2
		ORDER BY checked_in_at ASC
	`
	rows, err := r.q.Query(ctx, query, eventID, promoterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.CheckinRecord
	for rows.Next() {
		var rec domain.CheckinRecord
		if err := rows.Scan(&rec.RegistrationID, &rec.PromoterID, &rec.CheckedInAt, &rec.Undone); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListAdjustments returns the operator input recorded for the event
func (r pgReader) ListAdjustments(ctx context.Context, eventID string) ([]domain.PromoterAdjustment, error) {
	query := `
		SELECT event_id, promoter_id, manual_checkins_override, manual_checkins_reason,
			manual_adjustment_amount::text, manual_adjustment_reason, updated_by, updated_at
		FROM promoter_closeout_adjustments
		WHERE event_id = $1
		ORDER BY promoter_id ASC
	`
	rows, err := r.q.Query(ctx, query, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var adjustments []domain.PromoterAdjustment
	for rows.Next() {
		var adj domain.PromoterAdjustment
		var amount *string
		err := rows.Scan(
			&adj.EventID,
			&adj.PromoterID,
			&adj.ManualCheckinsOverride,
			&adj.ManualCheckinsReason,
			&amount,
			&adj.ManualAdjustmentReason,
			&adj.UpdatedBy,
			&adj.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		if adj.ManualAdjustmentAmount, err = parseDecimal(amount); err != nil {
			return nil, fmt.Errorf("promoter %s manual_adjustment_amount: %w", adj.PromoterID, err)
		}
		adjustments = append(adjustments, adj)
	}
	return adjustments, rows.Err()
}

// GetStatus returns the current step, OPEN when no row exists yet
func (r pgReader) GetStatus(ctx context.Context, eventID string) (domain.CloseoutStatus, error) {
	var status string
	err := r.q.QueryRow(ctx, `SELECT status FROM event_closeouts WHERE event_id = $1`, eventID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CloseoutOpen, nil
		}
		return "", err
	}
	return domain.CloseoutStatus(status), nil
}

// GetClosure retrieves the closure and its frozen lines, nil while the event is open
func (r pgReader) GetClosure(ctx context.Context, eventID string) (*domain.ClosureRecord, error) {
	query := `
		SELECT id, event_id, closed_at, closed_by, total_revenue::text, closeout_notes,
			currency, total_checkins, total_payout::text
		FROM event_closures
		WHERE event_id = $1
	`
	rec := &domain.ClosureRecord{}
	var revenue *string
	var totalPayout string
	err := r.q.QueryRow(ctx, query, eventID).Scan(
		&rec.ID,
		&rec.EventID,
		&rec.ClosedAt,
		&rec.ClosedBy,
		&revenue,
		&rec.CloseoutNotes,
		&rec.Currency,
		&rec.TotalCheckins,
		&totalPayout,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if rec.TotalRevenue, err = parseDecimal(revenue); err != nil {
		return nil, fmt.Errorf("closure total_revenue: %w", err)
	}
	if rec.TotalPayout, err = decimal.NewFromString(totalPayout); err != nil {
		return nil, fmt.Errorf("closure total_payout: %w", err)
	}

	rows, err := r.q.Query(ctx,
		`SELECT line FROM closure_payout_lines WHERE closure_id = $1 ORDER BY position ASC`, rec.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rec.Lines = []domain.PromoterCloseoutLine{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var line domain.PromoterCloseoutLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return nil, fmt.Errorf("decode payout line: %w", err)
		}
		rec.Lines = append(rec.Lines, line)
	}
	return rec, rows.Err()
}

// pgTx implements CloseoutTx
type pgTx struct {
	pgReader
	tx pgx.Tx
}

// SaveAdjustment upserts the promoter's adjustment row
func (t *pgTx) SaveAdjustment(ctx context.Context, adj *domain.PromoterAdjustment) error {
	query := `
		INSERT INTO promoter_closeout_adjustments (
			event_id, promoter_id, manual_checkins_override, manual_checkins_reason,
			manual_adjustment_amount, manual_adjustment_reason, updated_by, updated_at
		) VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7, $8)
		ON CONFLICT (event_id, promoter_id) DO UPDATE SET
			manual_checkins_override = EXCLUDED.manual_checkins_override,
			manual_checkins_reason = EXCLUDED.manual_checkins_reason,
			manual_adjustment_amount = EXCLUDED.manual_adjustment_amount,
			manual_adjustment_reason = EXCLUDED.manual_adjustment_reason,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at
	`
	_, err := t.tx.Exec(ctx, query,
		adj.EventID,
		adj.PromoterID,
		adj.ManualCheckinsOverride,
		adj.ManualCheckinsReason,
		decimalArg(adj.ManualAdjustmentAmount),
		adj.ManualAdjustmentReason,
		adj.UpdatedBy,
		adj.UpdatedAt,
	)
	return err
}

// SaveTransition appends to the history and moves the current status
func (t *pgTx) SaveTransition(ctx context.Context, tr *domain.CloseoutTransition) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO closeout_transitions (id, event_id, from_status, to_status, reason, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, tr.ID, tr.EventID, string(tr.FromStatus), string(tr.ToStatus), tr.Reason, tr.Actor, tr.CreatedAt)
	if err != nil {
		return err
	}

	_, err = t.tx.Exec(ctx,
		`UPDATE event_closeouts SET status = $2, updated_at = $3 WHERE event_id = $1`,
		tr.EventID, string(tr.ToStatus), tr.CreatedAt)
	return err
}

// InsertClosure writes the closure row and one payout line per promoter
func (t *pgTx) InsertClosure(ctx context.Context, rec *domain.ClosureRecord) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO event_closures (
			id, event_id, closed_at, closed_by, total_revenue, closeout_notes,
			currency, total_checkins, total_payout
		) VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7, $8, $9::text::numeric)
	`,
		rec.ID,
		rec.EventID,
		rec.ClosedAt,
		rec.ClosedBy,
		decimalArg(rec.TotalRevenue),
		rec.CloseoutNotes,
		rec.Currency,
		rec.TotalCheckins,
		rec.TotalPayout.String(),
	)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for i, line := range rec.Lines {
		raw, err := json.Marshal(line)
		if err != nil {
			return fmt.Errorf("encode payout line for promoter %s: %w", line.PromoterID, err)
		}
		batch.Queue(`
			INSERT INTO closure_payout_lines (
				id, closure_id, event_id, promoter_id, position,
				effective_checkins_count, final_payout, line
			) VALUES ($1, $2, $3, $4, $5, $6, $7::text::numeric, $8)
		`, uuid.New().String(), rec.ID, rec.EventID, line.PromoterID, i,
			line.EffectiveCheckinsCount, line.FinalPayout.String(), raw)
	}
	if batch.Len() == 0 {
		return nil
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func parseDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func decimalArg(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

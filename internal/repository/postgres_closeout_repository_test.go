package repository

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaeldominion/CrowdStack-sub002/internal/domain"
	"github.com/kaeldominion/CrowdStack-sub002/migrations"
	"github.com/kaeldominion/CrowdStack-sub002/pkg/database"
)

func TestParseDecimal(t *testing.T) {
	got, err := parseDecimal(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	s := "12.50"
	got, err = parseDecimal(&s)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("12.5")))

	bad := "twelve"
	_, err = parseDecimal(&bad)
	assert.Error(t, err)

	assert.Nil(t, decimalArg(nil))
	d := decimal.RequireFromString("-20")
	assert.Equal(t, "-20", *decimalArg(&d))
}

func setupPostgres(t *testing.T) *database.PostgresDB {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}

	cfg := database.DefaultPostgresConfig()
	if host := os.Getenv("TEST_POSTGRES_HOST"); host != "" {
		cfg.Host = host
	}
	if port, err := strconv.Atoi(os.Getenv("TEST_POSTGRES_PORT")); err == nil {
		cfg.Port = port
	}
	if user := os.Getenv("TEST_POSTGRES_USER"); user != "" {
		cfg.User = user
	}
	if password := os.Getenv("TEST_POSTGRES_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if dbname := os.Getenv("TEST_POSTGRES_DATABASE"); dbname != "" {
		cfg.Database = dbname
	}

	ctx := context.Background()
	db, err := database.NewPostgres(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, migrations.Apply(ctx, db.Pool()))
	return db
}

func TestPostgresCloseoutRepository_Integration(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	repo := NewPostgresCloseoutRepository(db.Pool())
	eventID := "evt-" + uuid.New().String()

	require.NoError(t, db.Exec(ctx, `INSERT INTO events (id, name, currency) VALUES ($1, 'Integration', 'USD')`, eventID))
	require.NoError(t, db.Exec(ctx, `
		INSERT INTO event_promoters (event_id, promoter_id, commission_type, per_head_rate, per_head_min, bonus_tiers)
		VALUES ($1, 'p-1', 'per_head', 10, 2, '[{"threshold": 10, "amount": "5", "type": "repeatable"}]')
	`, eventID))
	require.NoError(t, db.Exec(ctx, `
		INSERT INTO checkins (registration_id, event_id, promoter_id, checked_in_at, undone)
		VALUES ('r-1', $1, 'p-1', NOW(), FALSE), ('r-2', $1, 'p-1', NOW(), TRUE)
	`, eventID))

	event, err := repo.GetEvent(ctx, eventID)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, "USD", event.Currency)
	assert.False(t, event.Closed)

	models, err := repo.ListCommissionModels(ctx, eventID)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, domain.CommissionPerHead, models[0].CommissionType)
	require.NotNil(t, models[0].PerHeadRate)
	assert.True(t, models[0].PerHeadRate.Equal(decimal.NewFromInt(10)))
	require.NotNil(t, models[0].PerHeadMin)
	assert.Equal(t, 2, *models[0].PerHeadMin)
	assert.Nil(t, models[0].FixedFee)
	require.Len(t, models[0].BonusTiers, 1)
	assert.Equal(t, domain.BonusRepeatable, models[0].BonusTiers[0].Type)

	records, err := repo.ListCheckins(ctx, eventID, "p-1")
	require.NoError(t, err)
	assert.Len(t, records, 2)

	count := 8
	reason := "door miscount"
	closedAt := time.Now().UTC().Truncate(time.Microsecond)
	err = repo.WithinEventTx(ctx, eventID, func(ctx context.Context, tx CloseoutTx) error {
		if err := tx.SaveAdjustment(ctx, &domain.PromoterAdjustment{
			EventID:                eventID,
			PromoterID:             "p-1",
			ManualCheckinsOverride: &count,
			ManualCheckinsReason:   &reason,
			UpdatedBy:              "user-1",
			UpdatedAt:              closedAt,
		}); err != nil {
			return err
		}
		tr, err := domain.NewTransition(eventID, domain.CloseoutOpen, domain.CloseoutClosed, "", "user-1", closedAt)
		if err != nil {
			return err
		}
		if err := tx.SaveTransition(ctx, tr); err != nil {
			return err
		}
		return tx.InsertClosure(ctx, &domain.ClosureRecord{
			ID:            uuid.New().String(),
			EventID:       eventID,
			ClosedAt:      closedAt,
			ClosedBy:      "user-1",
			Currency:      "USD",
			TotalCheckins: 8,
			TotalPayout:   decimal.NewFromInt(80),
			Lines: []domain.PromoterCloseoutLine{{
				PromoterID:             "p-1",
				EffectiveCheckinsCount: 8,
				CalculatedPayout:       decimal.NewFromInt(80),
				FinalPayout:            decimal.NewFromInt(80),
			}},
		})
	})
	require.NoError(t, err)

	closure, err := repo.GetClosure(ctx, eventID)
	require.NoError(t, err)
	require.NotNil(t, closure)
	assert.True(t, closure.ClosedAt.Equal(closedAt))
	assert.True(t, closure.TotalPayout.Equal(decimal.NewFromInt(80)))
	require.Len(t, closure.Lines, 1)
	assert.Equal(t, 8, closure.Lines[0].EffectiveCheckinsCount)

	status, err := repo.GetStatus(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, domain.CloseoutClosed, status)

	// the unique constraint backs up the in-transaction check
	err = repo.WithinEventTx(ctx, eventID, func(ctx context.Context, tx CloseoutTx) error {
		return tx.InsertClosure(ctx, &domain.ClosureRecord{
			ID:          uuid.New().String(),
			EventID:     eventID,
			ClosedAt:    time.Now(),
			ClosedBy:    "user-2",
			Currency:    "USD",
			TotalPayout: decimal.Zero,
		})
	})
	var already *domain.AlreadyClosedError
	require.True(t, errors.As(err, &already))
	assert.Equal(t, closure.ID, already.Record.ID)
}

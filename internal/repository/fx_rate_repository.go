package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finmetrics/grounding/internal/apperrors"
	"github.com/finmetrics/grounding/internal/model"
)

// FXRateRepository persists reference rates. A stored rate is never
// overwritten; a conflicting publication for the same pair and date is
// reported as a data_integrity error.
type FXRateRepository struct {
	db *sql.DB
	tx *sql.Tx
}

// NewFXRateRepository creates a new FXRateRepository with the provided database connection.
func NewFXRateRepository(db *sql.DB) *FXRateRepository {
	return &FXRateRepository{db: db}
}

func (r *FXRateRepository) WithTx(tx *sql.Tx) *FXRateRepository {
	return &FXRateRepository{
		db: r.db,
		tx: tx,
	}
}

func (r *FXRateRepository) getQuerier() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

// GetRate returns the rate published for exactly date.
// Returns apperrors.ErrFXRateNotFound when none is stored.
func (r *FXRateRepository) GetRate(ctx context.Context, base, quote string, date time.Time) (model.FXRate, error) {
	query := `
		SELECT base_currency, quote_currency, date, rate, source_dataset, method, fetched_at
		FROM fx_rate
		WHERE base_currency = ? AND quote_currency = ? AND date = ?
	`
	return r.scanOne(r.getQuerier().QueryRowContext(ctx, query, base, quote, formatDate(date)))
}

// LatestOnOrBefore returns the newest stored rate dated within [earliest, date].
// Returns apperrors.ErrFXRateNotFound when the window holds no rate.
func (r *FXRateRepository) LatestOnOrBefore(ctx context.Context, base, quote string, date, earliest time.Time) (model.FXRate, error) {
	query := `
		SELECT base_currency, quote_currency, date, rate, source_dataset, method, fetched_at
		FROM fx_rate
		WHERE base_currency = ? AND quote_currency = ? AND date <= ? AND date >= ?
		ORDER BY date DESC
		LIMIT 1
	`
	return r.scanOne(r.getQuerier().QueryRowContext(ctx, query, base, quote, formatDate(date), formatDate(earliest)))
}

func (r *FXRateRepository) scanOne(row *sql.Row) (model.FXRate, error) {
	var (
		rate              model.FXRate
		date, value, when string
	)
	err := row.Scan(&rate.BaseCurrency, &rate.QuoteCurrency, &date, &value, &rate.SourceDataset, &rate.Method, &when)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FXRate{}, apperrors.ErrFXRateNotFound
	}
	if err != nil {
		return model.FXRate{}, fmt.Errorf("failed to query fx_rate: %w", err)
	}

	if rate.Rate, err = decimal.NewFromString(value); err != nil {
		return model.FXRate{}, apperrors.Wrap(apperrors.KindDataIntegrity, err, "stored fx rate is not numeric")
	}
	if rate.Date, err = ParseTime(date); err != nil {
		return model.FXRate{}, err
	}
	if rate.FetchedAt, err = ParseTime(when); err != nil {
		return model.FXRate{}, err
	}
	return rate, nil
}

// SaveRates stores rates in one transaction. Rates already stored with the
// same value are skipped.
func (r *FXRateRepository) SaveRates(ctx context.Context, rates []model.FXRate) error {
	if len(rates) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	txRepo := r.WithTx(tx)
	for _, rate := range rates {
		if err := txRepo.SaveRate(ctx, rate); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit fx rates: %w", err)
	}
	return nil
}

// SaveRate stores one rate.
func (r *FXRateRepository) SaveRate(ctx context.Context, rate model.FXRate) error {
	existing, err := r.GetRate(ctx, rate.BaseCurrency, rate.QuoteCurrency, rate.Date)
	switch {
	case err == nil:
		if existing.Rate.Equal(rate.Rate) {
			return nil
		}
		return apperrors.New(apperrors.KindDataIntegrity,
			fmt.Sprintf("%s/%s on %s already stored as %s", rate.BaseCurrency, rate.QuoteCurrency,
				formatDate(rate.Date), existing.Rate)).
			With("stored_rate", existing.Rate.String()).
			With("incoming_rate", rate.Rate.String())
	case !errors.Is(err, apperrors.ErrFXRateNotFound):
		return err
	}

	fetched := rate.FetchedAt
	if fetched.IsZero() {
		fetched = time.Now()
	}
	_, err = r.getQuerier().ExecContext(ctx, `
		INSERT INTO fx_rate (base_currency, quote_currency, date, rate, source_dataset, method, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rate.BaseCurrency, rate.QuoteCurrency, formatDate(rate.Date), rate.Rate.String(),
		rate.SourceDataset, rate.Method, formatTimestamp(fetched),
	)
	if err != nil {
		return fmt.Errorf("failed to insert fx rate: %w", err)
	}
	return nil
}

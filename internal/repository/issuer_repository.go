package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/finmetrics/grounding/internal/apperrors"
	"github.com/finmetrics/grounding/internal/model"
)

// IssuerRepository provides data access methods for the issuer table.
type IssuerRepository struct {
	db *sql.DB
	tx *sql.Tx
}

// NewIssuerRepository creates a new IssuerRepository with the provided database connection.
func NewIssuerRepository(db *sql.DB) *IssuerRepository {
	return &IssuerRepository{db: db}
}

func (r *IssuerRepository) WithTx(tx *sql.Tx) *IssuerRepository {
	return &IssuerRepository{
		db: r.db,
		tx: tx,
	}
}

func (r *IssuerRepository) getQuerier() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

// GetIssuer retrieves one issuer by ID.
// Returns apperrors.ErrIssuerNotFound when no row exists.
func (r *IssuerRepository) GetIssuer(ctx context.Context, id string) (model.Issuer, error) {
	query := `
		SELECT id, name, cik, taxonomy, reporting_currency, source
		FROM issuer
		WHERE id = ?
	`

	var i model.Issuer
	err := r.getQuerier().QueryRowContext(ctx, query, id).Scan(
		&i.ID,
		&i.Name,
		&i.CIK,
		&i.Taxonomy,
		&i.ReportingCurrency,
		&i.Source,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Issuer{}, apperrors.ErrIssuerNotFound
	}
	if err != nil {
		return model.Issuer{}, fmt.Errorf("failed to query issuer: %w", err)
	}
	return i, nil
}

// ListIssuers returns every issuer ordered by ID.
// Returns an empty slice if none are registered.
func (r *IssuerRepository) ListIssuers(ctx context.Context) ([]model.Issuer, error) {
	query := `
		SELECT id, name, cik, taxonomy, reporting_currency, source
		FROM issuer
		ORDER BY id
	`

	rows, err := r.getQuerier().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query issuer table: %w", err)
	}
	defer rows.Close()

	issuers := []model.Issuer{}
	for rows.Next() {
		var i model.Issuer
		if err := rows.Scan(&i.ID, &i.Name, &i.CIK, &i.Taxonomy, &i.ReportingCurrency, &i.Source); err != nil {
			return nil, fmt.Errorf("failed to scan issuer table results: %w", err)
		}
		issuers = append(issuers, i)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating issuer table: %w", err)
	}
	return issuers, nil
}

// UpsertIssuer inserts the issuer or refreshes its descriptive fields.
func (r *IssuerRepository) UpsertIssuer(ctx context.Context, i model.Issuer) error {
	query := `
		INSERT INTO issuer (id, name, cik, taxonomy, reporting_currency, source)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			cik = excluded.cik,
			taxonomy = excluded.taxonomy,
			reporting_currency = excluded.reporting_currency,
			source = excluded.source
	`

	_, err := r.getQuerier().ExecContext(ctx, query,
		i.ID, i.Name, i.CIK, i.Taxonomy, i.ReportingCurrency, i.Source)
	if err != nil {
		return fmt.Errorf("failed to upsert issuer %s: %w", i.ID, err)
	}
	return nil
}

// CountIssuers returns the number of registered issuers.
func (r *IssuerRepository) CountIssuers(ctx context.Context) (int, error) {
	var n int
	if err := r.getQuerier().QueryRowContext(ctx, `SELECT COUNT(*) FROM issuer`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count issuers: %w", err)
	}
	return n, nil
}

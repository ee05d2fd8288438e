package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finmetrics/grounding/internal/apperrors"
	"github.com/finmetrics/grounding/internal/model"
)

// FactRepository provides data access methods for the fact table.
// Facts are write-once: a row is never updated after insertion.
type FactRepository struct {
	db *sql.DB
	tx *sql.Tx
}

// NewFactRepository creates a new FactRepository with the provided database connection.
func NewFactRepository(db *sql.DB) *FactRepository {
	return &FactRepository{db: db}
}

func (r *FactRepository) WithTx(tx *sql.Tx) *FactRepository {
	return &FactRepository{
		db: r.db,
		tx: tx,
	}
}

func (r *FactRepository) getQuerier() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

// FactFilter narrows FindFacts. Zero fields do not filter, except Dimension:
// a nil Dimension selects consolidated facts unless AnyDimension is set.
type FactFilter struct {
	IssuerID     string
	Concept      string
	Frequency    model.Frequency
	Dimension    *model.Dimension
	AnyDimension bool
	Accession    string
	From         time.Time
	To           time.Time
	Limit        int
}

const factColumns = `
	id, issuer_id, concept, tag, taxonomy, raw_value, unit, scale, currency,
	period_start, period_end, fiscal_year, fiscal_period, frequency, accession,
	form, amendment_status, filed_at, dimension_axis, dimension_member, url, source`

// FindFacts returns facts matching the filter, newest period first. Within a
// period the most recently filed fact comes first and ties fall back to the
// accession number, so callers can rely on a stable order.
func (r *FactRepository) FindFacts(ctx context.Context, f FactFilter) ([]model.Fact, error) {
	var where []string
	var args []any

	if f.IssuerID != "" {
		where = append(where, "issuer_id = ?")
		args = append(args, f.IssuerID)
	}
	if f.Concept != "" {
		where = append(where, "concept = ?")
		args = append(args, f.Concept)
	}
	if f.Frequency != "" {
		where = append(where, "frequency = ?")
		args = append(args, string(f.Frequency))
	}
	switch {
	case f.Dimension != nil:
		where = append(where, "dimension_axis = ?")
		args = append(args, f.Dimension.Axis)
		if f.Dimension.Member != "" {
			where = append(where, "dimension_member = ?")
			args = append(args, f.Dimension.Member)
		}
	case !f.AnyDimension:
		where = append(where, "dimension_axis = ''")
	}
	if f.Accession != "" {
		where = append(where, "accession = ?")
		args = append(args, f.Accession)
	}
	if !f.From.IsZero() {
		where = append(where, "period_end >= ?")
		args = append(args, formatDate(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "period_end <= ?")
		args = append(args, formatDate(f.To))
	}

	//#nosec G202 -- Safe: conditions are fixed strings, values are bound parameters
	query := `SELECT ` + factColumns + ` FROM fact`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY period_end DESC, filed_at DESC, accession DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := r.getQuerier().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query fact table: %w", err)
	}
	defer rows.Close()

	facts := []model.Fact{}
	for rows.Next() {
		fact, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, fact)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fact table: %w", err)
	}
	return facts, nil
}

func scanFact(rows *sql.Rows) (model.Fact, error) {
	var (
		f                          model.Fact
		rawValue, periodEnd, filed string
		periodStart                sql.NullString
		axis, member               string
	)
	err := rows.Scan(
		&f.ID,
		&f.IssuerID,
		&f.Concept,
		&f.Tag,
		&f.Taxonomy,
		&rawValue,
		&f.Unit,
		&f.Scale,
		&f.Currency,
		&periodStart,
		&periodEnd,
		&f.FiscalYear,
		&f.FiscalPeriod,
		&f.Frequency,
		&f.Accession,
		&f.Form,
		&f.AmendmentStatus,
		&filed,
		&axis,
		&member,
		&f.URL,
		&f.Source,
	)
	if err != nil {
		return model.Fact{}, fmt.Errorf("failed to scan fact table results: %w", err)
	}

	if f.RawValue, err = decimal.NewFromString(rawValue); err != nil {
		return model.Fact{}, apperrors.Wrap(apperrors.KindDataIntegrity, err,
			fmt.Sprintf("fact %s has a non-numeric value", f.ID))
	}
	if f.PeriodEnd, err = ParseTime(periodEnd); err != nil {
		return model.Fact{}, fmt.Errorf("fact %s period_end: %w", f.ID, err)
	}
	if periodStart.Valid && periodStart.String != "" {
		start, err := ParseTime(periodStart.String)
		if err != nil {
			return model.Fact{}, fmt.Errorf("fact %s period_start: %w", f.ID, err)
		}
		f.PeriodStart = &start
	}
	if f.FiledAt, err = ParseTime(filed); err != nil {
		return model.Fact{}, fmt.Errorf("fact %s filed_at: %w", f.ID, err)
	}
	if axis != "" {
		f.Dimension = &model.Dimension{Axis: axis, Member: member}
	}
	return f, nil
}

// InsertFacts stores facts in one transaction and returns how many rows were
// new. Re-inserting an identical fact is a no-op; a fact whose key already
// exists with a different value aborts the batch with a data_integrity error.
func (r *FactRepository) InsertFacts(ctx context.Context, facts []model.Fact) (int, error) {
	if len(facts) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	inserted := 0
	for _, f := range facts {
		ok, err := insertFact(ctx, tx, f)
		if err != nil {
			return 0, err
		}
		if ok {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit facts: %w", err)
	}
	return inserted, nil
}

func insertFact(ctx context.Context, tx *sql.Tx, f model.Fact) (bool, error) {
	axis, member := "", ""
	if f.Dimension != nil {
		axis, member = f.Dimension.Axis, f.Dimension.Member
	}
	periodEnd := formatDate(f.PeriodEnd)

	var existingValue, existingUnit string
	var existingScale int
	err := tx.QueryRowContext(ctx, `
		SELECT raw_value, unit, scale FROM fact
		WHERE issuer_id = ? AND concept = ? AND period_end = ? AND frequency = ?
		  AND dimension_axis = ? AND dimension_member = ? AND accession = ?`,
		f.IssuerID, f.Concept, periodEnd, string(f.Frequency), axis, member, f.Accession,
	).Scan(&existingValue, &existingUnit, &existingScale)

	switch {
	case err == nil:
		existing, perr := decimal.NewFromString(existingValue)
		if perr == nil && existing.Equal(f.RawValue) && existingUnit == f.Unit && existingScale == f.Scale {
			return false, nil
		}
		return false, apperrors.New(apperrors.KindDataIntegrity,
			fmt.Sprintf("fact %s/%s %s in %s already stored with a different value", f.IssuerID, f.Concept, periodEnd, f.Accession)).
			With("stored_value", existingValue).
			With("incoming_value", f.RawValue.String())
	case !errors.Is(err, sql.ErrNoRows):
		return false, fmt.Errorf("failed to check existing fact: %w", err)
	}

	id := f.ID
	if id == "" {
		id = uuid.New().String()
	}
	var periodStart any
	if f.PeriodStart != nil {
		periodStart = formatDate(*f.PeriodStart)
	}
	amendment := f.AmendmentStatus
	if amendment == "" {
		amendment = model.AmendmentOriginal
	}
	source := f.Source
	if source == "" {
		source = model.SourceRegulatorFiling
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO fact (`+factColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, f.IssuerID, f.Concept, f.Tag, string(f.Taxonomy), f.RawValue.String(), f.Unit, f.Scale, f.Currency,
		periodStart, periodEnd, f.FiscalYear, f.FiscalPeriod, string(f.Frequency), f.Accession,
		f.Form, string(amendment), formatTimestamp(f.FiledAt), axis, member, f.URL, source,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert fact %s/%s: %w", f.IssuerID, f.Concept, err)
	}
	return true, nil
}

// ListConcepts returns the distinct canonical concepts stored for an issuer.
func (r *FactRepository) ListConcepts(ctx context.Context, issuerID string) ([]string, error) {
	return r.distinct(ctx, `
		SELECT DISTINCT concept FROM fact
		WHERE issuer_id = ? AND dimension_axis = ''
		ORDER BY concept`, issuerID)
}

// ListDimensionAxes returns the segment axes reported for an issuer's concept.
func (r *FactRepository) ListDimensionAxes(ctx context.Context, issuerID, concept string) ([]string, error) {
	return r.distinct(ctx, `
		SELECT DISTINCT dimension_axis FROM fact
		WHERE issuer_id = ? AND concept = ? AND dimension_axis != ''
		ORDER BY dimension_axis`, issuerID, concept)
}

func (r *FactRepository) distinct(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.getQuerier().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query fact table: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan fact table results: %w", err)
		}
		out = append(out, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fact table: %w", err)
	}
	return out, nil
}

// CountFacts returns the number of stored facts.
func (r *FactRepository) CountFacts(ctx context.Context) (int, error) {
	var n int
	if err := r.getQuerier().QueryRowContext(ctx, `SELECT COUNT(*) FROM fact`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count facts: %w", err)
	}
	return n, nil
}

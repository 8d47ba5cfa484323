package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/assessment-stats-api/internal/models"
)

// AggregationRepository persists aggregation documents in
// statistical_aggregations, keyed by (batch_code, aggregation_level, school_id).
// REGIONAL rows carry an empty school_id.
type AggregationRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewAggregationRepository instantiates the repository.
func NewAggregationRepository(db *sqlx.DB) *AggregationRepository {
	return &AggregationRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const aggregationColumns = `batch_code, aggregation_level, school_id, school_name, statistics_data,
calculation_status, error_message, run_id, created_at, updated_at`

// MarkPending records that a run started. A COMPLETED row is left untouched
// so the previous document stays readable while the run is in progress.
func (r *AggregationRepository) MarkPending(ctx context.Context, key models.AggregationKey, schoolName, runID string) error {
	const query = `INSERT INTO statistical_aggregations
(batch_code, aggregation_level, school_id, school_name, calculation_status, run_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
ON CONFLICT (batch_code, aggregation_level, school_id)
DO UPDATE SET calculation_status = EXCLUDED.calculation_status, run_id = EXCLUDED.run_id,
              error_message = NULL, updated_at = EXCLUDED.updated_at
WHERE statistical_aggregations.calculation_status <> 'COMPLETED'`
	now := r.now()
	if _, err := r.db.ExecContext(ctx, query, key.BatchCode, key.Level, key.SchoolID, schoolName,
		models.CalculationStatusPending, runID, now); err != nil {
		return fmt.Errorf("mark aggregation pending: %w", err)
	}
	return nil
}

// SaveCompleted upserts a finished document. Concurrent saves for the same
// key are last writer wins.
func (r *AggregationRepository) SaveCompleted(ctx context.Context, record *models.AggregationRecord) error {
	const query = `INSERT INTO statistical_aggregations
(batch_code, aggregation_level, school_id, school_name, statistics_data, calculation_status, error_message, run_id, created_at, updated_at)
VALUES (:batch_code, :aggregation_level, :school_id, :school_name, :statistics_data, :calculation_status, NULL, :run_id, :created_at, :updated_at)
ON CONFLICT (batch_code, aggregation_level, school_id)
DO UPDATE SET school_name = EXCLUDED.school_name, statistics_data = EXCLUDED.statistics_data,
              calculation_status = EXCLUDED.calculation_status, error_message = NULL,
              run_id = EXCLUDED.run_id, updated_at = EXCLUDED.updated_at`
	now := r.now()
	record.CalculationStatus = models.CalculationStatusCompleted
	record.ErrorMessage = nil
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("save aggregation: %w", err)
	}
	return nil
}

// MarkFailed flags a run as failed unless a COMPLETED document exists for
// the key. It reports whether a row was changed.
func (r *AggregationRepository) MarkFailed(ctx context.Context, key models.AggregationKey, runID, message string) (bool, error) {
	const query = `UPDATE statistical_aggregations
SET calculation_status = $1, error_message = $2, run_id = $3, updated_at = $4
WHERE batch_code = $5 AND aggregation_level = $6 AND school_id = $7 AND calculation_status <> 'COMPLETED'`
	res, err := r.db.ExecContext(ctx, query, models.CalculationStatusFailed, message, runID, r.now(),
		key.BatchCode, key.Level, key.SchoolID)
	if err != nil {
		return false, fmt.Errorf("mark aggregation failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark aggregation failed rows: %w", err)
	}
	return affected > 0, nil
}

// Get returns the stored row for key; sql.ErrNoRows when absent.
func (r *AggregationRepository) Get(ctx context.Context, key models.AggregationKey) (*models.AggregationRecord, error) {
	query := `SELECT ` + aggregationColumns + ` FROM statistical_aggregations
WHERE batch_code = $1 AND aggregation_level = $2 AND school_id = $3`
	var record models.AggregationRecord
	if err := r.db.GetContext(ctx, &record, query, key.BatchCode, key.Level, key.SchoolID); err != nil {
		return nil, err
	}
	return &record, nil
}

// ListByBatch returns every stored row of a batch without the document body.
func (r *AggregationRepository) ListByBatch(ctx context.Context, batchCode string) ([]models.AggregationRecord, error) {
	const query = `SELECT batch_code, aggregation_level, school_id, school_name, NULL AS statistics_data,
calculation_status, error_message, run_id, created_at, updated_at
FROM statistical_aggregations
WHERE batch_code = $1
ORDER BY aggregation_level ASC, school_id ASC`
	var records []models.AggregationRecord
	if err := r.db.SelectContext(ctx, &records, query, batchCode); err != nil {
		return nil, fmt.Errorf("list aggregations of batch %s: %w", batchCode, err)
	}
	return records, nil
}

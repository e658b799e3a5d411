package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stwalsh4118/appraisal/internal/database"
	"github.com/stwalsh4118/appraisal/internal/models"
)

// JobRepository defines data access for job metadata, per-job normalization
// settings and the reviewed time-normalized sales list.
type JobRepository interface {
	// GetJob returns nil, nil when the job does not exist.
	GetJob(ctx context.Context, id int64) (*models.Job, error)

	// CreateJob inserts job and fills in its ID and CreatedAt.
	CreateJob(ctx context.Context, job *models.Job) error

	// DeleteJob removes a job and, by cascade, everything it owns.
	DeleteJob(ctx context.Context, id int64) error

	// AdvanceFileVersion moves the job from expected to expected+1 and stamps
	// the source file upload time. It reports false when the stored version
	// no longer equals expected.
	AdvanceFileVersion(ctx context.Context, jobID int64, expected int, uploadedAt time.Time) (bool, error)

	// GetNormalizationConfig returns nil, nil when the job has no saved config.
	GetNormalizationConfig(ctx context.Context, jobID int64) (*models.NormalizationConfig, error)

	// SaveNormalizationConfig inserts or replaces a job's config.
	SaveNormalizationConfig(ctx context.Context, jobID int64, cfg models.NormalizationConfig) error

	// UpsertTimeNormalizedSales inserts or replaces entries of the sales list.
	UpsertTimeNormalizedSales(ctx context.Context, sales []models.TimeNormalizedSale) error

	// DeleteTimeNormalizedSales removes keys from a job's sales list.
	DeleteTimeNormalizedSales(ctx context.Context, jobID int64, keys []string) error

	// ListTimeNormalizedSales returns a job's sales list ordered by key.
	ListTimeNormalizedSales(ctx context.Context, jobID int64) ([]models.TimeNormalizedSale, error)
}

// jobRepository is the concrete implementation of JobRepository.
type jobRepository struct {
	db *database.Database
}

// NewJobRepository creates a new instance of JobRepository.
func NewJobRepository(db *database.Database) JobRepository {
	return &jobRepository{
		db: db,
	}
}

// GetJob looks a job up by ID.
func (r *jobRepository) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	query := `
		SELECT id, name, vendor, ccdd, county, year, file_version, source_file_uploaded_at, created_at
		FROM jobs
		WHERE id = $1
	`

	var job models.Job
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&job.ID,
		&job.Name,
		&job.Vendor,
		&job.CCDD,
		&job.County,
		&job.Year,
		&job.FileVersion,
		&job.SourceFileUploadedAt,
		&job.CreatedAt,
	)

	// Handle no rows found - this is not an error at the repository level
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query job %d: %w", id, err)
	}

	return &job, nil
}

// CreateJob inserts a new job.
func (r *jobRepository) CreateJob(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (name, vendor, ccdd, county, year, file_version, source_file_uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		job.Name, job.Vendor, job.CCDD, job.County, job.Year, job.FileVersion, job.SourceFileUploadedAt,
	).Scan(&job.ID, &job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job %q: %w", job.Name, err)
	}
	return nil
}

// DeleteJob deletes a job.
func (r *jobRepository) DeleteJob(ctx context.Context, id int64) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete job %d: %w", id, err)
	}
	return nil
}

// AdvanceFileVersion is a compare-and-swap on jobs.file_version.
func (r *jobRepository) AdvanceFileVersion(ctx context.Context, jobID int64, expected int, uploadedAt time.Time) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE jobs
		SET file_version = file_version + 1, source_file_uploaded_at = $3
		WHERE id = $1 AND file_version = $2`,
		jobID, expected, uploadedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to advance file version of job %d: %w", jobID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetNormalizationConfig reads a job's normalization settings.
func (r *jobRepository) GetNormalizationConfig(ctx context.Context, jobID int64) (*models.NormalizationConfig, error) {
	query := `
		SELECT normalize_to_year, sales_from_year, min_sale_price, equalization_ratio, outlier_threshold
		FROM normalization_configs
		WHERE job_id = $1
	`

	var cfg models.NormalizationConfig
	err := r.db.Pool.QueryRow(ctx, query, jobID).Scan(
		&cfg.NormalizeToYear,
		&cfg.SalesFromYear,
		&cfg.MinSalePrice,
		&cfg.EqualizationRatio,
		&cfg.OutlierThreshold,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query normalization config of job %d: %w", jobID, err)
	}

	return &cfg, nil
}

// SaveNormalizationConfig upserts a job's normalization settings.
func (r *jobRepository) SaveNormalizationConfig(ctx context.Context, jobID int64, cfg models.NormalizationConfig) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO normalization_configs
			(job_id, normalize_to_year, sales_from_year, min_sale_price, equalization_ratio, outlier_threshold)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id) DO UPDATE SET
			normalize_to_year = EXCLUDED.normalize_to_year,
			sales_from_year = EXCLUDED.sales_from_year,
			min_sale_price = EXCLUDED.min_sale_price,
			equalization_ratio = EXCLUDED.equalization_ratio,
			outlier_threshold = EXCLUDED.outlier_threshold,
			updated_at = NOW()`,
		jobID, cfg.NormalizeToYear, cfg.SalesFromYear, cfg.MinSalePrice, cfg.EqualizationRatio, cfg.OutlierThreshold,
	)
	if err != nil {
		return fmt.Errorf("failed to save normalization config of job %d: %w", jobID, err)
	}
	return nil
}

// UpsertTimeNormalizedSales writes entries of the sales list in one batch.
func (r *jobRepository) UpsertTimeNormalizedSales(ctx context.Context, sales []models.TimeNormalizedSale) error {
	if len(sales) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, s := range sales {
		batch.Queue(`
			INSERT INTO time_normalized_sales (
				job_id, composite_key, sale_price, sale_date, sale_nu, time_normalized_price,
				hpi_multiplier, sales_ratio, is_outlier, decision, decided_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (job_id, composite_key) DO UPDATE SET
				sale_price = EXCLUDED.sale_price,
				sale_date = EXCLUDED.sale_date,
				sale_nu = EXCLUDED.sale_nu,
				time_normalized_price = EXCLUDED.time_normalized_price,
				hpi_multiplier = EXCLUDED.hpi_multiplier,
				sales_ratio = EXCLUDED.sales_ratio,
				is_outlier = EXCLUDED.is_outlier,
				decision = EXCLUDED.decision,
				decided_at = EXCLUDED.decided_at`,
			s.JobID, s.CompositeKey, s.SalePrice, s.SaleDate, s.SaleNU, s.TimeNormalizedPrice,
			s.HPIMultiplier, s.SalesRatio, s.IsOutlier, s.Decision, s.DecidedAt,
		)
	}

	return execBatch(ctx, r.db, batch, "upsert time-normalized sales")
}

// DeleteTimeNormalizedSales removes keys from the sales list.
func (r *jobRepository) DeleteTimeNormalizedSales(ctx context.Context, jobID int64, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM time_normalized_sales WHERE job_id = $1 AND composite_key = ANY($2)`,
		jobID, keys,
	)
	if err != nil {
		return fmt.Errorf("failed to delete time-normalized sales of job %d: %w", jobID, err)
	}
	return nil
}

// ListTimeNormalizedSales reads a job's sales list.
func (r *jobRepository) ListTimeNormalizedSales(ctx context.Context, jobID int64) ([]models.TimeNormalizedSale, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT job_id, composite_key, sale_price, sale_date, sale_nu, time_normalized_price,
			hpi_multiplier, sales_ratio, is_outlier, decision, decided_at
		FROM time_normalized_sales
		WHERE job_id = $1
		ORDER BY composite_key`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query time-normalized sales of job %d: %w", jobID, err)
	}
	defer rows.Close()

	sales := []models.TimeNormalizedSale{}
	for rows.Next() {
		var s models.TimeNormalizedSale
		if err := rows.Scan(
			&s.JobID, &s.CompositeKey, &s.SalePrice, &s.SaleDate, &s.SaleNU, &s.TimeNormalizedPrice,
			&s.HPIMultiplier, &s.SalesRatio, &s.IsOutlier, &s.Decision, &s.DecidedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan time-normalized sale: %w", err)
		}
		sales = append(sales, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating time-normalized sales: %w", err)
	}

	return sales, nil
}

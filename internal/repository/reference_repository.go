package repository

import (
	"context"
	"fmt"

	"github.com/stwalsh4118/appraisal/internal/database"
	"github.com/stwalsh4118/appraisal/internal/models"
)

// HPIRepository reads county Housing Price Index reference data.
type HPIRepository interface {
	// ListByCounty returns every observation of a county ordered by year.
	// An empty slice means the county has no data.
	ListByCounty(ctx context.Context, county string) ([]models.HPIRecord, error)

	// UpsertRecords loads reference rows. Used by tests and seed tooling.
	UpsertRecords(ctx context.Context, records []models.HPIRecord) error
}

type hpiRepository struct {
	db *database.Database
}

// NewHPIRepository creates a new instance of HPIRepository.
func NewHPIRepository(db *database.Database) HPIRepository {
	return &hpiRepository{db: db}
}

func (r *hpiRepository) ListByCounty(ctx context.Context, county string) ([]models.HPIRecord, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT county, observation_year, hpi_index
		FROM county_hpi
		WHERE county = $1
		ORDER BY observation_year`,
		county,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query HPI for county %q: %w", county, err)
	}
	defer rows.Close()

	records := []models.HPIRecord{}
	for rows.Next() {
		var rec models.HPIRecord
		if err := rows.Scan(&rec.County, &rec.ObservationYear, &rec.HPIIndex); err != nil {
			return nil, fmt.Errorf("failed to scan HPI record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating HPI rows: %w", err)
	}

	return records, nil
}

func (r *hpiRepository) UpsertRecords(ctx context.Context, records []models.HPIRecord) error {
	for _, rec := range records {
		_, err := r.db.Pool.Exec(ctx, `
			INSERT INTO county_hpi (county, observation_year, hpi_index)
			VALUES ($1, $2, $3)
			ON CONFLICT (county, observation_year) DO UPDATE SET hpi_index = EXCLUDED.hpi_index`,
			rec.County, rec.ObservationYear, rec.HPIIndex,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert HPI %s/%d: %w", rec.County, rec.ObservationYear, err)
		}
	}
	return nil
}

// ReportRepository persists comparison reports. Reports are append-only.
type ReportRepository interface {
	InsertReport(ctx context.Context, r *models.ComparisonReport) error

	// ListByJob returns the newest reports of a job first.
	ListByJob(ctx context.Context, jobID int64, limit int) ([]models.ComparisonReport, error)
}

type reportRepository struct {
	db *database.Database
}

// NewReportRepository creates a new instance of ReportRepository.
func NewReportRepository(db *database.Database) ReportRepository {
	return &reportRepository{db: db}
}

func (r *reportRepository) InsertReport(ctx context.Context, rep *models.ComparisonReport) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO comparison_reports (
			id, run_id, job_id, file_version, report_date, status, summary,
			added_keys, removed_keys, modified_keys, decisions
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rep.ID, rep.RunID, rep.JobID, rep.FileVersion, rep.ReportDate, rep.Status, rep.Summary,
		rep.AddedKeys, rep.RemovedKeys, rep.ModifiedKeys, string(rep.Decisions),
	)
	if err != nil {
		return fmt.Errorf("failed to insert comparison report %s: %w", rep.ID, err)
	}
	return nil
}

func (r *reportRepository) ListByJob(ctx context.Context, jobID int64, limit int) ([]models.ComparisonReport, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, run_id, job_id, file_version, report_date, status, summary,
			added_keys, removed_keys, modified_keys, decisions
		FROM comparison_reports
		WHERE job_id = $1
		ORDER BY report_date DESC
		LIMIT $2`,
		jobID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports of job %d: %w", jobID, err)
	}
	defer rows.Close()

	reports := []models.ComparisonReport{}
	for rows.Next() {
		var rep models.ComparisonReport
		var decisions []byte
		if err := rows.Scan(
			&rep.ID, &rep.RunID, &rep.JobID, &rep.FileVersion, &rep.ReportDate, &rep.Status, &rep.Summary,
			&rep.AddedKeys, &rep.RemovedKeys, &rep.ModifiedKeys, &decisions,
		); err != nil {
			return nil, fmt.Errorf("failed to scan comparison report: %w", err)
		}
		rep.Decisions = decisions
		reports = append(reports, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating report rows: %w", err)
	}

	return reports, nil
}

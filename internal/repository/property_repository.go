package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/stwalsh4118/appraisal/internal/database"
	"github.com/stwalsh4118/appraisal/internal/models"
)

// PropertyRepository defines data access for versioned property records.
type PropertyRepository interface {
	// ListSnapshotPage returns one page of the records of a file version,
	// ordered by composite key. An empty slice means the version is exhausted.
	ListSnapshotPage(ctx context.Context, jobID int64, fileVersion, limit, offset int) ([]models.PropertyRecord, error)

	// UpsertRecords inserts or replaces records keyed by
	// (job_id, composite_key, file_version) in a single round trip.
	UpsertRecords(ctx context.Context, records []models.PropertyRecord) error

	// UpdateNormalizedValues sets or clears values_norm_time per record version.
	UpdateNormalizedValues(ctx context.Context, jobID int64, updates []models.NormalizedValueUpdate) error

	// CountByVersion returns the number of records stored for a file version.
	CountByVersion(ctx context.Context, jobID int64, fileVersion int) (int, error)

	// DeleteByJob removes every record of a job and returns the number deleted.
	// Only initial import compensation uses it.
	DeleteByJob(ctx context.Context, jobID int64) (int64, error)
}

// propertyRepository is the concrete implementation of PropertyRepository.
type propertyRepository struct {
	db *database.Database
}

// NewPropertyRepository creates a new instance of PropertyRepository.
func NewPropertyRepository(db *database.Database) PropertyRepository {
	return &propertyRepository{
		db: db,
	}
}

const propertyColumns = `
	job_id,
	composite_key,
	file_version,
	block,
	lot,
	qualifier,
	card,
	location,
	sale_price,
	sale_date,
	sale_nu,
	sale_book,
	sale_page,
	prior_sale_price,
	prior_sale_date,
	property_class,
	building_class,
	type_use,
	design_style,
	classification,
	assessed_value,
	improvement_value,
	land_value,
	finished_area,
	year_built,
	values_norm_time,
	is_assigned_property,
	created_at,
	updated_at`

// ListSnapshotPage reads a page of one file version. Older versions are
// filtered out in SQL, never in memory.
func (r *propertyRepository) ListSnapshotPage(ctx context.Context, jobID int64, fileVersion, limit, offset int) ([]models.PropertyRecord, error) {
	query := `SELECT ` + propertyColumns + `
		FROM property_records
		WHERE job_id = $1 AND file_version = $2
		ORDER BY composite_key
		LIMIT $3 OFFSET $4`

	rows, err := r.db.Pool.Query(ctx, query, jobID, fileVersion, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot page (job=%d, version=%d, offset=%d): %w", jobID, fileVersion, offset, err)
	}
	defer rows.Close()

	records := make([]models.PropertyRecord, 0, limit)
	for rows.Next() {
		var rec models.PropertyRecord
		if err := scanPropertyRecord(rows, &rec); err != nil {
			return nil, fmt.Errorf("failed to scan property record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot rows: %w", err)
	}

	return records, nil
}

func scanPropertyRecord(row pgx.Row, rec *models.PropertyRecord) error {
	return row.Scan(
		&rec.JobID,
		&rec.CompositeKey,
		&rec.FileVersion,
		&rec.Block,
		&rec.Lot,
		&rec.Qualifier,
		&rec.Card,
		&rec.Location,
		&rec.SalePrice,
		&rec.SaleDate,
		&rec.SaleNU,
		&rec.SaleBook,
		&rec.SalePage,
		&rec.PriorSalePrice,
		&rec.PriorSaleDate,
		&rec.PropertyClass,
		&rec.BuildingClass,
		&rec.TypeUse,
		&rec.DesignStyle,
		&rec.Classification,
		&rec.AssessedValue,
		&rec.ImprovementValue,
		&rec.LandValue,
		&rec.FinishedArea,
		&rec.YearBuilt,
		&rec.ValuesNormTime,
		&rec.IsAssignedProperty,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
}

const upsertPropertySQL = `
	INSERT INTO property_records (
		job_id, composite_key, file_version, block, lot, qualifier, card, location,
		sale_price, sale_date, sale_nu, sale_book, sale_page,
		prior_sale_price, prior_sale_date,
		property_class, building_class, type_use, design_style, classification,
		assessed_value, improvement_value, land_value, finished_area, year_built,
		values_norm_time, is_assigned_property
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8,
		$9, $10, $11, $12, $13,
		$14, $15,
		$16, $17, $18, $19, $20,
		$21, $22, $23, $24, $25,
		$26, $27
	)
	ON CONFLICT (job_id, composite_key, file_version) DO UPDATE SET
		block = EXCLUDED.block,
		lot = EXCLUDED.lot,
		qualifier = EXCLUDED.qualifier,
		card = EXCLUDED.card,
		location = EXCLUDED.location,
		sale_price = EXCLUDED.sale_price,
		sale_date = EXCLUDED.sale_date,
		sale_nu = EXCLUDED.sale_nu,
		sale_book = EXCLUDED.sale_book,
		sale_page = EXCLUDED.sale_page,
		prior_sale_price = EXCLUDED.prior_sale_price,
		prior_sale_date = EXCLUDED.prior_sale_date,
		property_class = EXCLUDED.property_class,
		building_class = EXCLUDED.building_class,
		type_use = EXCLUDED.type_use,
		design_style = EXCLUDED.design_style,
		classification = EXCLUDED.classification,
		assessed_value = EXCLUDED.assessed_value,
		improvement_value = EXCLUDED.improvement_value,
		land_value = EXCLUDED.land_value,
		finished_area = EXCLUDED.finished_area,
		year_built = EXCLUDED.year_built,
		values_norm_time = EXCLUDED.values_norm_time,
		is_assigned_property = EXCLUDED.is_assigned_property,
		updated_at = NOW()`

// UpsertRecords queues one statement per record on a pgx batch. A failing
// statement fails the whole call so the batch writer can retry the chunk.
func (r *propertyRepository) UpsertRecords(ctx context.Context, records []models.PropertyRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range records {
		rec := &records[i]
		classification := rec.Classification
		if classification == nil {
			classification = map[string]string{}
		}
		batch.Queue(upsertPropertySQL,
			rec.JobID, rec.CompositeKey, rec.FileVersion, rec.Block, rec.Lot, rec.Qualifier, rec.Card, rec.Location,
			rec.SalePrice, rec.SaleDate, rec.SaleNU, rec.SaleBook, rec.SalePage,
			rec.PriorSalePrice, rec.PriorSaleDate,
			rec.PropertyClass, rec.BuildingClass, rec.TypeUse, rec.DesignStyle, classification,
			rec.AssessedValue, rec.ImprovementValue, rec.LandValue, rec.FinishedArea, rec.YearBuilt,
			rec.ValuesNormTime, rec.IsAssignedProperty,
		)
	}

	return execBatch(ctx, r.db, batch, "upsert property records")
}

// UpdateNormalizedValues writes values_norm_time. A nil Value clears it.
func (r *propertyRepository) UpdateNormalizedValues(ctx context.Context, jobID int64, updates []models.NormalizedValueUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(`
			UPDATE property_records
			SET values_norm_time = $4, updated_at = NOW()
			WHERE job_id = $1 AND composite_key = $2 AND file_version = $3`,
			jobID, u.CompositeKey, u.FileVersion, u.Value,
		)
	}

	return execBatch(ctx, r.db, batch, "update normalized values")
}

// CountByVersion counts the records of one file version.
func (r *propertyRepository) CountByVersion(ctx context.Context, jobID int64, fileVersion int) (int, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM property_records WHERE job_id = $1 AND file_version = $2`,
		jobID, fileVersion,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count property records (job=%d, version=%d): %w", jobID, fileVersion, err)
	}
	return n, nil
}

// DeleteByJob deletes all records of a job.
func (r *propertyRepository) DeleteByJob(ctx context.Context, jobID int64) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM property_records WHERE job_id = $1`, jobID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete property records for job %d: %w", jobID, err)
	}
	return tag.RowsAffected(), nil
}

// execBatch sends b and drains every result so the first failing statement
// is reported.
func execBatch(ctx context.Context, db *database.Database, b *pgx.Batch, op string) error {
	results := db.Pool.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("failed to %s (statement %d of %d): %w", op, i+1, b.Len(), err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return nil
}

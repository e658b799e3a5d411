package repository

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stwalsh4118/appraisal/internal/config"
	"github.com/stwalsh4118/appraisal/internal/database"
	"github.com/stwalsh4118/appraisal/internal/models"
)

// getTestConfig returns database configuration for integration tests.
func getTestConfig() config.DatabaseConfig {
	return config.DatabaseConfig{
		Host:     getEnvOrDefault("DB_HOST", "host.docker.internal"),
		Port:     getEnvOrDefault("DB_PORT", "5432"),
		Name:     getEnvOrDefault("DB_NAME", "appraisal"),
		User:     getEnvOrDefault("DB_USER", "postgres"),
		Password: getEnvOrDefault("DB_PASSWORD", "postgres"),
		PoolMin:  2,
		PoolMax:  5,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// setupTestDatabase connects, migrates and creates a throwaway job that is
// deleted when the test finishes.
func setupTestDatabase(t *testing.T) (*database.Database, *models.Job) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	db, err := database.NewPostgresPool(ctx, getTestConfig())
	if err != nil {
		t.Fatalf("Failed to create database connection: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		t.Fatalf("Failed to migrate: %v", err)
	}

	jobs := NewJobRepository(db)
	job := &models.Job{Name: "repo-test-" + uuid.NewString(), Vendor: "BRT", CCDD: "1306", County: "Ocean", Year: 2025, FileVersion: 1}
	if err := jobs.CreateJob(ctx, job); err != nil {
		db.Close()
		t.Fatalf("Failed to create job: %v", err)
	}

	t.Cleanup(func() {
		_ = jobs.DeleteJob(context.Background(), job.ID)
		db.Close()
	})
	return db, job
}

func price(v float64) *float64 { return &v }

func TestJobRepository_GetJob(t *testing.T) {
	db, job := setupTestDatabase(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	got, err := repo.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got == nil || got.Name != job.Name || got.FileVersion != 1 {
		t.Fatalf("Unexpected job: %+v", got)
	}

	missing, err := repo.GetJob(ctx, -1)
	if err != nil {
		t.Errorf("GetJob should not return error for not found, got: %v", err)
	}
	if missing != nil {
		t.Errorf("Expected nil job, got %+v", missing)
	}
}

func TestJobRepository_AdvanceFileVersionIsCompareAndSwap(t *testing.T) {
	db, job := setupTestDatabase(t)
	repo := NewJobRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	ok, err := repo.AdvanceFileVersion(ctx, job.ID, 1, now)
	if err != nil || !ok {
		t.Fatalf("Expected first advance to succeed, ok=%v err=%v", ok, err)
	}

	ok, err = repo.AdvanceFileVersion(ctx, job.ID, 1, now)
	if err != nil {
		t.Fatalf("AdvanceFileVersion failed: %v", err)
	}
	if ok {
		t.Error("Expected stale advance to report false")
	}

	got, _ := repo.GetJob(ctx, job.ID)
	if got.FileVersion != 2 {
		t.Errorf("Expected file version 2, got %d", got.FileVersion)
	}
	if got.SourceFileUploadedAt == nil {
		t.Error("Expected source file timestamp to be set")
	}
}

func TestJobRepository_NormalizationConfig(t *testing.T) {
	db, job := setupTestDatabase(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	cfg, err := repo.GetNormalizationConfig(ctx, job.ID)
	if err != nil || cfg != nil {
		t.Fatalf("Expected nil config before save, got %+v err=%v", cfg, err)
	}

	want := models.DefaultNormalizationConfig()
	want.EqualizationRatio = price(87.5)
	if err := repo.SaveNormalizationConfig(ctx, job.ID, want); err != nil {
		t.Fatalf("SaveNormalizationConfig failed: %v", err)
	}

	cfg, err = repo.GetNormalizationConfig(ctx, job.ID)
	if err != nil || cfg == nil {
		t.Fatalf("GetNormalizationConfig failed: %v", err)
	}
	if cfg.NormalizeToYear != 2025 || cfg.EqualizationRatio == nil || *cfg.EqualizationRatio != 87.5 || cfg.OutlierThreshold != nil {
		t.Errorf("Unexpected config: %+v", cfg)
	}
}

func TestPropertyRepository_SnapshotIsVersionScoped(t *testing.T) {
	db, job := setupTestDatabase(t)
	repo := NewPropertyRepository(db)
	ctx := context.Background()

	var records []models.PropertyRecord
	for _, key := range []string{"k1", "k2", "k3"} {
		records = append(records, models.PropertyRecord{
			JobID: job.ID, CompositeKey: key, FileVersion: 1,
			PropertyAttributes: models.PropertyAttributes{Block: "1", Lot: key, SalePrice: price(1000)},
		})
	}
	records = append(records, models.PropertyRecord{
		JobID: job.ID, CompositeKey: "k1", FileVersion: 2,
		PropertyAttributes: models.PropertyAttributes{Block: "1", Lot: "k1", Classification: map[string]string{"BLDGCLASS": "21"}},
	})
	if err := repo.UpsertRecords(ctx, records); err != nil {
		t.Fatalf("UpsertRecords failed: %v", err)
	}

	page, err := repo.ListSnapshotPage(ctx, job.ID, 1, 2, 0)
	if err != nil {
		t.Fatalf("ListSnapshotPage failed: %v", err)
	}
	if len(page) != 2 || page[0].CompositeKey != "k1" || page[1].CompositeKey != "k2" {
		t.Fatalf("Unexpected first page: %+v", page)
	}
	page, _ = repo.ListSnapshotPage(ctx, job.ID, 1, 2, 2)
	if len(page) != 1 || page[0].CompositeKey != "k3" {
		t.Fatalf("Unexpected second page: %+v", page)
	}

	v2, _ := repo.ListSnapshotPage(ctx, job.ID, 2, 10, 0)
	if len(v2) != 1 || v2[0].Classification["BLDGCLASS"] != "21" {
		t.Fatalf("Unexpected version 2 snapshot: %+v", v2)
	}

	n, err := repo.CountByVersion(ctx, job.ID, 1)
	if err != nil || n != 3 {
		t.Errorf("Expected 3 records at version 1, got %d err=%v", n, err)
	}
}

func TestPropertyRepository_UpdateNormalizedValues(t *testing.T) {
	db, job := setupTestDatabase(t)
	repo := NewPropertyRepository(db)
	ctx := context.Background()

	rec := models.PropertyRecord{JobID: job.ID, CompositeKey: "k", FileVersion: 1, ValuesNormTime: price(5000),
		PropertyAttributes: models.PropertyAttributes{Block: "1", Lot: "2"}}
	if err := repo.UpsertRecords(ctx, []models.PropertyRecord{rec}); err != nil {
		t.Fatalf("UpsertRecords failed: %v", err)
	}

	if err := repo.UpdateNormalizedValues(ctx, job.ID, []models.NormalizedValueUpdate{{CompositeKey: "k", FileVersion: 1}}); err != nil {
		t.Fatalf("UpdateNormalizedValues failed: %v", err)
	}

	page, _ := repo.ListSnapshotPage(ctx, job.ID, 1, 10, 0)
	if len(page) != 1 || page[0].ValuesNormTime != nil {
		t.Errorf("Expected values_norm_time to be cleared, got %+v", page)
	}
}

func TestJobRepository_TimeNormalizedSales(t *testing.T) {
	db, job := setupTestDatabase(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	sales := []models.TimeNormalizedSale{
		{JobID: job.ID, CompositeKey: "a", SalePrice: price(250000), TimeNormalizedPrice: price(261375), HPIMultiplier: 1.0455, Decision: "keep", DecidedAt: time.Now().UTC()},
		{JobID: job.ID, CompositeKey: "b", Decision: "reject", DecidedAt: time.Now().UTC()},
	}
	if err := repo.UpsertTimeNormalizedSales(ctx, sales); err != nil {
		t.Fatalf("UpsertTimeNormalizedSales failed: %v", err)
	}
	if err := repo.DeleteTimeNormalizedSales(ctx, job.ID, []string{"b"}); err != nil {
		t.Fatalf("DeleteTimeNormalizedSales failed: %v", err)
	}

	got, err := repo.ListTimeNormalizedSales(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListTimeNormalizedSales failed: %v", err)
	}
	if len(got) != 1 || got[0].CompositeKey != "a" || *got[0].TimeNormalizedPrice != 261375 {
		t.Errorf("Unexpected sales list: %+v", got)
	}
}

func TestHPIRepository_ListByCounty(t *testing.T) {
	db, _ := setupTestDatabase(t)
	repo := NewHPIRepository(db)
	ctx := context.Background()
	county := "test-" + uuid.NewString()

	t.Cleanup(func() {
		_, _ = db.Pool.Exec(context.Background(), `DELETE FROM county_hpi WHERE county = $1`, county)
	})

	if err := repo.UpsertRecords(ctx, []models.HPIRecord{
		{County: county, ObservationYear: 2024, HPIIndex: 1.15},
		{County: county, ObservationYear: 2023, HPIIndex: 1.10},
	}); err != nil {
		t.Fatalf("UpsertRecords failed: %v", err)
	}

	got, err := repo.ListByCounty(ctx, county)
	if err != nil {
		t.Fatalf("ListByCounty failed: %v", err)
	}
	if len(got) != 2 || got[0].ObservationYear != 2023 || got[1].HPIIndex != 1.15 {
		t.Errorf("Unexpected HPI rows: %+v", got)
	}

	empty, err := repo.ListByCounty(ctx, "nowhere-"+uuid.NewString())
	if err != nil || len(empty) != 0 {
		t.Errorf("Expected no rows, got %+v err=%v", empty, err)
	}
}

func TestReportRepository_InsertAndList(t *testing.T) {
	db, job := setupTestDatabase(t)
	repo := NewReportRepository(db)
	ctx := context.Background()

	rep := &models.ComparisonReport{
		ID:           uuid.New(),
		RunID:        uuid.New(),
		JobID:        job.ID,
		FileVersion:  2,
		ReportDate:   time.Now().UTC(),
		Status:       models.ReportStatusCompleted,
		Summary:      models.ReportSummary{Added: 1, Removed: 2},
		AddedKeys:    []string{"a"},
		RemovedKeys:  []string{"b", "c"},
		ModifiedKeys: []string{},
		Decisions:    json.RawMessage(`{"sales":{"x":"keep_old"}}`),
	}
	if err := repo.InsertReport(ctx, rep); err != nil {
		t.Fatalf("InsertReport failed: %v", err)
	}

	got, err := repo.ListByJob(ctx, job.ID, 10)
	if err != nil {
		t.Fatalf("ListByJob failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 report, got %d", len(got))
	}
	if got[0].Summary.Removed != 2 || len(got[0].RemovedKeys) != 2 {
		t.Errorf("Unexpected report: %+v", got[0])
	}

	var dm map[string]map[string]string
	if err := json.Unmarshal(got[0].Decisions, &dm); err != nil || dm["sales"]["x"] != "keep_old" {
		t.Errorf("Unexpected decisions %s (err=%v)", got[0].Decisions, err)
	}
}

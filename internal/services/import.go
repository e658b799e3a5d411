package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stwalsh4118/appraisal/internal/batch"
	"github.com/stwalsh4118/appraisal/internal/decisions"
	"github.com/stwalsh4118/appraisal/internal/models"
	"github.com/stwalsh4118/appraisal/internal/vendor"
)

// ImportRequest describes a new job and its first vendor file.
type ImportRequest struct {
	Name    string
	Vendor  string
	CCDD    string
	County  string
	Content string
	Year    int
}

// ImportResult summarizes a successful initial import.
type ImportResult struct {
	Job           *models.Job         `json:"job"`
	Write         *batch.Result       `json:"write"`
	SkippedRows   []vendor.SkippedRow `json:"skippedRows"`
	DuplicateKeys []string            `json:"duplicateKeys"`
	Records       int                 `json:"records"`
}

// InitialImport writes file version 1 of a new job. A failed chunk, a
// timeout or a cancellation deletes everything written so far, the job row
// included.
func (s *reconciliationService) InitialImport(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	profile, err := vendor.ProfileFor(req.Vendor)
	if err != nil {
		return nil, err
	}
	if err := validateImport(req); err != nil {
		return nil, err
	}

	parsed, err := vendor.Parse(req.Content, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to parse upload: %w", err)
	}
	upload := keyRecords(parsed, req.Year, req.CCDD)
	if len(upload.source) == 0 {
		return nil, &vendor.ParseError{Reason: "no row produced a composite key"}
	}

	now := time.Now().UTC()
	job := &models.Job{
		Name:                 req.Name,
		Vendor:               string(profile.Tag()),
		CCDD:                 strings.TrimSpace(req.CCDD),
		County:               req.County,
		Year:                 req.Year,
		FileVersion:          1,
		SourceFileUploadedAt: &now,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	log := s.log.WithRun(uuid.NewString(), job.ID)
	log.Info("Initial import started", map[string]interface{}{
		"vendor":         job.Vendor,
		"records":        len(upload.source),
		"skipped_rows":   len(upload.skipped),
		"duplicate_keys": len(upload.duplicates),
	})

	records := buildRecords(job.ID, 1, upload.source, nil, decisions.SalesLedger{})
	writer := batch.NewWriter(s.batchConfig(), log, batch.WithRecorder(s.metrics))
	res, err := batch.Write(ctx, writer, OpInitialImport, records, s.props.UpsertRecords)

	var cause error
	switch {
	case err != nil:
		cause = err
	case res.Cancelled:
		cause = context.Canceled
	case res.Errors > 0:
		cause = fmt.Errorf("%d of %d records failed in %d chunks", res.Errors, res.Total, len(res.FailedChunks))
	}
	if cause != nil {
		log.Error("Initial import failed, rolling back", cause, map[string]interface{}{"processed": res.Processed})
		if rbErr := s.rollbackImport(ctx, job.ID); rbErr != nil {
			return nil, errors.Join(fmt.Errorf("%w: %w", ErrImportFailed, cause), rbErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrImportFailed, cause)
	}

	log.Info("Initial import completed", map[string]interface{}{"processed": res.Processed, "duration": res.Duration.String()})
	return &ImportResult{
		Job:           job,
		Write:         res,
		Records:       res.Processed,
		SkippedRows:   nonNilRows(upload.skipped),
		DuplicateKeys: nonNilKeys(upload.duplicates),
	}, nil
}

// rollbackImport ignores cancellation of ctx so compensation always runs.
func (s *reconciliationService) rollbackImport(ctx context.Context, jobID int64) error {
	ctx = context.WithoutCancel(ctx)
	deleted, err := s.props.DeleteByJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete imported records: %w", err)
	}
	if err := s.jobs.DeleteJob(ctx, jobID); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	s.log.Warn("Initial import rolled back", map[string]interface{}{"job_id": jobID, "deleted_records": deleted})
	return nil
}

func validateImport(req ImportRequest) error {
	switch {
	case strings.TrimSpace(req.Name) == "":
		return fmt.Errorf("%w: job name is required", ErrInvalidImport)
	case strings.TrimSpace(req.CCDD) == "":
		return fmt.Errorf("%w: ccdd is required", ErrInvalidImport)
	case strings.TrimSpace(req.County) == "":
		return fmt.Errorf("%w: county is required", ErrInvalidImport)
	case req.Year <= 0:
		return fmt.Errorf("%w: year must be positive", ErrInvalidImport)
	}
	return nil
}

func nonNilRows(rows []vendor.SkippedRow) []vendor.SkippedRow {
	if rows == nil {
		return []vendor.SkippedRow{}
	}
	return rows
}

func nonNilKeys(keys []string) []string {
	if keys == nil {
		return []string{}
	}
	return keys
}

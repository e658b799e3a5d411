package services

import (
	"context"
	"fmt"

	"github.com/stwalsh4118/appraisal/internal/differ"
	"github.com/stwalsh4118/appraisal/internal/vendor"
)

// Preview is a dry-run diff of an upload against a job's current snapshot.
type Preview struct {
	ChangeSet     *differ.ChangeSet   `json:"changeSet"`
	Vendor        vendor.Tag          `json:"vendor"`
	SkippedRows   []vendor.SkippedRow `json:"skippedRows"`
	DuplicateKeys []string            `json:"duplicateKeys"`
	Counts        differ.Counts       `json:"counts"`
	JobID         int64               `json:"jobId"`
	FileVersion   int                 `json:"fileVersion"`
	SourceRecords int                 `json:"sourceRecords"`
}

// Preview parses, keys and diffs content without reserving the job or
// writing anything. vendorTag overrides the job's vendor when non-empty.
func (s *reconciliationService) Preview(ctx context.Context, jobID int64, content, vendorTag string) (*Preview, error) {
	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	tag := job.Vendor
	if vendorTag != "" {
		tag = vendorTag
	}
	profile, err := vendor.ProfileFor(tag)
	if err != nil {
		return nil, err
	}

	parsed, err := vendor.Parse(content, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to parse upload: %w", err)
	}
	upload := keyRecords(parsed, job.Year, job.CCDD)

	snap, err := differ.LoadSnapshot(ctx, s.props, job.ID, job.FileVersion, s.cfg.SnapshotPageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	changes := differ.Diff(upload.source, snap, profile)

	return &Preview{
		ChangeSet:     changes,
		Vendor:        profile.Tag(),
		SkippedRows:   nonNilRows(upload.skipped),
		DuplicateKeys: nonNilKeys(upload.duplicates),
		Counts:        changes.Counts(),
		JobID:         job.ID,
		FileVersion:   job.FileVersion,
		SourceRecords: len(upload.source),
	}, nil
}

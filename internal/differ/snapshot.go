// Package differ compares an uploaded vendor file against the persisted
// snapshot of a job's current file version.
package differ

import (
	"context"
	"fmt"

	"github.com/stwalsh4118/appraisal/internal/models"
)

// DefaultPageSize is the number of snapshot rows fetched per read.
const DefaultPageSize = 1000

// SnapshotReader pages through the property records of one file version.
type SnapshotReader interface {
	ListSnapshotPage(ctx context.Context, jobID int64, fileVersion, limit, offset int) ([]models.PropertyRecord, error)
}

// Snapshot is the persisted state of one job at one file version.
type Snapshot struct {
	Records     map[string]*models.PropertyRecord
	JobID       int64
	FileVersion int
}

// Len returns the number of records in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}

// LoadSnapshot reads every record of fileVersion in fixed-size pages.
// Older versions are never read.
func LoadSnapshot(ctx context.Context, r SnapshotReader, jobID int64, fileVersion, pageSize int) (*Snapshot, error) {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}

	snap := &Snapshot{
		JobID:       jobID,
		FileVersion: fileVersion,
		Records:     make(map[string]*models.PropertyRecord),
	}

	for offset := 0; ; offset += pageSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := r.ListSnapshotPage(ctx, jobID, fileVersion, pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to read snapshot page at offset %d: %w", offset, err)
		}

		for i := range page {
			rec := page[i]
			if rec.FileVersion != fileVersion {
				continue
			}
			snap.Records[rec.CompositeKey] = &rec
		}

		if len(page) < pageSize {
			break
		}
	}

	return snap, nil
}

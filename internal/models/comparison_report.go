package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Report statuses recorded on a ComparisonReport.
const (
	ReportStatusCompleted = "completed"
	ReportStatusCancelled = "cancelled"
	ReportStatusFailed    = "failed"
	ReportStatusPartial   = "partial"
)

// ReportSummary holds the per-category counts of one reconciliation run.
type ReportSummary struct {
	Added                int `json:"added"`
	Removed              int `json:"removed"`
	SalesChanges         int `json:"salesChanges"`
	ClassChanges         int `json:"classChanges"`
	FuzzyMatches         int `json:"fuzzyMatches"`
	SkippedRows          int `json:"skippedRows"`
	DuplicateKeys        int `json:"duplicateKeys"`
	RecordsWritten       int `json:"recordsWritten"`
	WriteErrors          int `json:"writeErrors"`
	NormalizationKept    int `json:"normalizationKept"`
	NormalizationReject  int `json:"normalizationRejected"`
	NormalizationCleared int `json:"normalizationCleared"`
}

// ComparisonReport is the immutable audit record of one reconciliation run.
type ComparisonReport struct {
	ReportDate   time.Time       `json:"reportDate"`
	Decisions    json.RawMessage `json:"decisions"`
	AddedKeys    []string        `json:"addedKeys"`
	RemovedKeys  []string        `json:"removedKeys"`
	ModifiedKeys []string        `json:"modifiedKeys"`
	Status       string          `json:"status"`
	Summary      ReportSummary   `json:"summary"`
	JobID        int64           `json:"jobId"`
	FileVersion  int             `json:"fileVersion"`
	ID           uuid.UUID       `json:"id"`
	RunID        uuid.UUID       `json:"runId"`
}

// TableName is the PostgreSQL table holding comparison reports.
func (ComparisonReport) TableName() string {
	return "comparison_reports"
}

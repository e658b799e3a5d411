// Package report builds and persists the immutable audit record of a
// reconciliation run.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/stwalsh4118/appraisal/internal/batch"
	"github.com/stwalsh4118/appraisal/internal/decisions"
	"github.com/stwalsh4118/appraisal/internal/differ"
	"github.com/stwalsh4118/appraisal/internal/logger"
	"github.com/stwalsh4118/appraisal/internal/models"
)

// Store persists comparison reports.
type Store interface {
	InsertReport(ctx context.Context, r *models.ComparisonReport) error
}

// Input is everything a run knows when it finishes, successfully or not.
type Input struct {
	ReportDate             time.Time
	ChangeSet              *differ.ChangeSet
	RecordWrite            *batch.Result
	NormalizedWrite        *batch.Result
	SalesDecisions         map[string]decisions.SalesDecision
	NormalizationDecisions map[string]decisions.NormalizationDecision
	Status                 string
	ClearedKeys            []string
	JobID                  int64
	FileVersion            int
	SkippedRows            int
	DuplicateKeys          int
	RunID                  uuid.UUID
}

// decisionMap is the serialized form stored in ComparisonReport.Decisions.
type decisionMap struct {
	Sales         map[string]decisions.SalesDecision         `json:"sales"`
	Normalization map[string]decisions.NormalizationDecision `json:"normalization"`
	Cleared       []string                                   `json:"cleared"`
}

// Build assembles a report. Key lists are deduplicated and sorted.
func Build(in Input) (*models.ComparisonReport, error) {
	sales := in.SalesDecisions
	if sales == nil {
		sales = map[string]decisions.SalesDecision{}
	}
	norm := in.NormalizationDecisions
	if norm == nil {
		norm = map[string]decisions.NormalizationDecision{}
	}
	cleared := dedupe(in.ClearedKeys)

	raw, err := json.Marshal(decisionMap{Sales: sales, Normalization: norm, Cleared: cleared})
	if err != nil {
		return nil, fmt.Errorf("failed to encode decision map: %w", err)
	}

	date := in.ReportDate
	if date.IsZero() {
		date = time.Now().UTC()
	}
	status := in.Status
	if status == "" {
		status = models.ReportStatusCompleted
	}

	r := &models.ComparisonReport{
		ID:           uuid.New(),
		RunID:        in.RunID,
		JobID:        in.JobID,
		FileVersion:  in.FileVersion,
		ReportDate:   date,
		Status:       status,
		Decisions:    raw,
		AddedKeys:    []string{},
		RemovedKeys:  []string{},
		ModifiedKeys: []string{},
	}

	s := &r.Summary
	s.SkippedRows = in.SkippedRows
	s.DuplicateKeys = in.DuplicateKeys
	s.NormalizationCleared = len(cleared)
	for _, d := range norm {
		if d == decisions.KeepNormalized {
			s.NormalizationKept++
		} else {
			s.NormalizationReject++
		}
	}

	if cs := in.ChangeSet; cs != nil {
		r.AddedKeys = dedupe(cs.Added)
		r.RemovedKeys = dedupe(cs.Removed)
		r.ModifiedKeys = cs.ModifiedKeys()
		if r.ModifiedKeys == nil {
			r.ModifiedKeys = []string{}
		}
		s.Added = len(r.AddedKeys)
		s.Removed = len(r.RemovedKeys)
		s.SalesChanges = len(cs.SalesChanges)
		s.ClassChanges = len(cs.ClassChanges)
		s.FuzzyMatches = len(cs.FuzzyMatches)
	}

	for _, w := range []*batch.Result{in.RecordWrite, in.NormalizedWrite} {
		if w == nil {
			continue
		}
		s.RecordsWritten += w.Processed
		s.WriteErrors += w.Errors
	}

	return r, nil
}

// Writer persists reports.
type Writer struct {
	store Store
	log   *logger.Logger
}

// NewWriter returns a Writer backed by store.
func NewWriter(store Store, log *logger.Logger) *Writer {
	if log == nil {
		log = logger.Nop()
	}
	return &Writer{store: store, log: log.WithComponent("report_writer")}
}

// Write builds and inserts the report for in. The insert ignores
// cancellation of ctx so cancelled and failed runs still leave an audit record.
func (w *Writer) Write(ctx context.Context, in Input) (*models.ComparisonReport, error) {
	r, err := Build(in)
	if err != nil {
		return nil, err
	}

	if err := w.store.InsertReport(context.WithoutCancel(ctx), r); err != nil {
		w.log.Error("Failed to persist comparison report", err, map[string]interface{}{
			"run_id": in.RunID.String(),
			"job_id": in.JobID,
			"status": r.Status,
		})
		return r, fmt.Errorf("failed to persist comparison report: %w", err)
	}

	w.log.Info("Comparison report saved", map[string]interface{}{
		"report_id": r.ID.String(),
		"run_id":    in.RunID.String(),
		"job_id":    in.JobID,
		"status":    r.Status,
		"added":     r.Summary.Added,
		"removed":   r.Summary.Removed,
		"modified":  len(r.ModifiedKeys),
	})
	return r, nil
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

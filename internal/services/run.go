package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stwalsh4118/appraisal/internal/batch"
	"github.com/stwalsh4118/appraisal/internal/decisions"
	"github.com/stwalsh4118/appraisal/internal/differ"
	"github.com/stwalsh4118/appraisal/internal/logger"
	"github.com/stwalsh4118/appraisal/internal/models"
	"github.com/stwalsh4118/appraisal/internal/normalization"
	"github.com/stwalsh4118/appraisal/internal/report"
	"github.com/stwalsh4118/appraisal/internal/vendor"
)

// RunState is the phase of a reconciliation run.
type RunState string

const (
	StateReviewingSales         RunState = "reviewing_sales"
	StateApplying               RunState = "applying"
	StateReviewingNormalization RunState = "reviewing_normalization"
	StateSaving                 RunState = "saving"
	StateCompleted              RunState = "completed"
	StateCancelled              RunState = "cancelled"
	StateFailed                 RunState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s RunState) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// RunView is a read-only copy of a run for callers.
type RunView struct {
	StartedAt              time.Time                                  `json:"startedAt"`
	FinishedAt             *time.Time                                 `json:"finishedAt,omitempty"`
	ChangeSet              *differ.ChangeSet                          `json:"changeSet"`
	RecordWrite            *batch.Result                              `json:"recordWrite,omitempty"`
	NormalizedWrite        *batch.Result                              `json:"normalizedWrite,omitempty"`
	ReportID               *uuid.UUID                                 `json:"reportId,omitempty"`
	SalesDecisions         map[string]decisions.SalesDecision         `json:"salesDecisions"`
	NormalizationDecisions map[string]decisions.NormalizationDecision `json:"normalizationDecisions"`
	NormalizationResults   []normalization.Result                     `json:"normalizationResults"`
	SkippedRows            []vendor.SkippedRow                        `json:"skippedRows"`
	DuplicateKeys          []string                                   `json:"duplicateKeys"`
	State                  RunState                                   `json:"state"`
	Vendor                 vendor.Tag                                 `json:"vendor"`
	Error                  string                                     `json:"error,omitempty"`
	Counts                 differ.Counts                              `json:"counts"`
	JobID                  int64                                      `json:"jobId"`
	FileVersion            int                                        `json:"fileVersion"`
	NewFileVersion         int                                        `json:"newFileVersion,omitempty"`
	SourceRecords          int                                        `json:"sourceRecords"`
	Undecided              int                                        `json:"undecided"`
	ID                     uuid.UUID                                  `json:"id"`
}

// run is the mutable state of one reconciliation. Fields below mu are
// guarded by it; the rest are set once at creation.
type run struct {
	ctx      context.Context
	cancel   context.CancelFunc
	profile  vendor.Profile
	engine   *normalization.Engine
	events   *eventHub
	log      *logger.Logger
	source   map[string]*models.SourceRecord
	snapshot *differ.Snapshot
	changes  *differ.ChangeSet
	job      models.Job
	id       uuid.UUID

	mu              sync.Mutex
	startedAt       time.Time
	finishedAt      time.Time
	lastActivity    time.Time
	sales           decisions.SalesLedger
	norm            decisions.NormalizationLedger
	results         []normalization.Result
	skipped         []vendor.SkippedRow
	duplicates      []string
	cleared         []string
	recordWrite     *batch.Result
	normalizedWrite *batch.Result
	report          *models.ComparisonReport
	state           RunState
	lastErr         string
	newVersion      int
	cancelRequested bool
}

func (r *run) view() *RunView {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := &RunView{
		ID:                     r.id,
		JobID:                  r.job.ID,
		Vendor:                 r.profile.Tag(),
		State:                  r.state,
		StartedAt:              r.startedAt,
		ChangeSet:              r.changes,
		Counts:                 r.changes.Counts(),
		FileVersion:            r.job.FileVersion,
		NewFileVersion:         r.newVersion,
		SourceRecords:          len(r.source),
		SkippedRows:            r.skipped,
		DuplicateKeys:          r.duplicates,
		SalesDecisions:         r.sales.Decided(),
		NormalizationResults:   r.results,
		NormalizationDecisions: r.norm.Decided(),
		Undecided:              len(r.norm.Undecided()),
		RecordWrite:            r.recordWrite,
		NormalizedWrite:        r.normalizedWrite,
		Error:                  r.lastErr,
	}
	if !r.finishedAt.IsZero() {
		t := r.finishedAt
		v.FinishedAt = &t
	}
	if r.report != nil {
		id := r.report.ID
		v.ReportID = &id
	}
	if v.SkippedRows == nil {
		v.SkippedRows = []vendor.SkippedRow{}
	}
	if v.DuplicateKeys == nil {
		v.DuplicateKeys = []string{}
	}
	if v.NormalizationResults == nil {
		v.NormalizationResults = []normalization.Result{}
	}
	return v
}

// awaitingReview reports whether the run is waiting on its client.
func (s RunState) awaitingReview() bool {
	return s == StateReviewingSales || s == StateReviewingNormalization
}

// touchLocked marks client activity. r.mu must be held.
func (r *run) touchLocked(now time.Time) {
	r.lastActivity = now
}

// idleLocked reports whether the run has waited on its client longer than
// timeout. r.mu must be held.
func (r *run) idleLocked(now time.Time, timeout time.Duration) bool {
	return r.state.awaitingReview() && now.Sub(r.lastActivity) > timeout
}

func (r *run) publishState(msg string) {
	r.mu.Lock()
	state := r.state
	r.mu.Unlock()
	r.events.publish(Event{Kind: EventState, State: state, Message: msg, RunID: r.id})
}

func (r *run) publishBatch(e batch.Event) {
	r.mu.Lock()
	state := r.state
	r.mu.Unlock()
	r.events.publish(Event{Kind: EventBatch, State: state, Batch: &e, RunID: r.id, Time: e.Time})
}

// terminateLocked moves the run into a terminal state and returns the report
// input to persist. It reports false if the run had already ended. r.mu must
// be held.
func (r *run) terminateLocked(state RunState, cause error) (report.Input, bool) {
	if r.state.Terminal() {
		return report.Input{}, false
	}
	r.state = state
	r.finishedAt = time.Now().UTC()
	if cause != nil {
		r.lastErr = cause.Error()
	}

	version := r.newVersion
	if version == 0 {
		version = r.job.FileVersion
	}

	return report.Input{
		RunID:                  r.id,
		JobID:                  r.job.ID,
		FileVersion:            version,
		ReportDate:             r.finishedAt,
		Status:                 r.reportStatusLocked(),
		ChangeSet:              r.changes,
		RecordWrite:            r.recordWrite,
		NormalizedWrite:        r.normalizedWrite,
		SalesDecisions:         r.resolvedSalesLocked(),
		NormalizationDecisions: r.norm.Decided(),
		ClearedKeys:            r.cleared,
		SkippedRows:            len(r.skipped),
		DuplicateKeys:          len(r.duplicates),
	}, true
}

func (r *run) reportStatusLocked() string {
	switch r.state {
	case StateCancelled:
		return models.ReportStatusCancelled
	case StateFailed:
		return models.ReportStatusFailed
	}
	for _, w := range []*batch.Result{r.recordWrite, r.normalizedWrite} {
		if w != nil && w.Errors > 0 {
			return models.ReportStatusPartial
		}
	}
	return models.ReportStatusCompleted
}

// resolvedSalesLocked records the effective decision of every sales change,
// so undecided changes appear as keep_new once records have been written.
func (r *run) resolvedSalesLocked() map[string]decisions.SalesDecision {
	if r.recordWrite == nil {
		return r.sales.Decided()
	}
	out := make(map[string]decisions.SalesDecision, len(r.changes.SalesChanges))
	for _, sc := range r.changes.SalesChanges {
		d, _ := r.sales.Resolve(sc.CompositeKey)
		out[sc.CompositeKey] = d
	}
	return out
}

// registry tracks runs and allows one active run per job.
type registry struct {
	runs      map[uuid.UUID]*run
	active    map[int64]uuid.UUID
	retention time.Duration
	mu        sync.Mutex
}

func newRegistry(retention time.Duration) *registry {
	return &registry{
		runs:      make(map[uuid.UUID]*run),
		active:    make(map[int64]uuid.UUID),
		retention: retention,
	}
}

func (g *registry) reserve(jobID int64, runID uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if active, busy := g.active[jobID]; busy {
		return &RunInProgressError{JobID: jobID, RunID: active}
	}
	g.active[jobID] = runID
	return nil
}

func (g *registry) release(jobID int64, runID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active[jobID] == runID {
		delete(g.active, jobID)
	}
}

func (g *registry) add(r *run) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.runs[r.id] = r
}

func (g *registry) get(id uuid.UUID) (*run, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return r, nil
}

// idle returns the runs that have waited on their client longer than timeout.
func (g *registry) idle(now time.Time, timeout time.Duration) []*run {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []*run
	for _, r := range g.runs {
		r.mu.Lock()
		stale := r.idleLocked(now, timeout)
		r.mu.Unlock()
		if stale {
			out = append(out, r)
		}
	}
	return out
}

// prune forgets terminal runs that finished longer than the retention ago.
func (g *registry) prune(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := 0
	for id, r := range g.runs {
		r.mu.Lock()
		expired := r.state.Terminal() && now.Sub(r.finishedAt) > g.retention
		r.mu.Unlock()
		if expired {
			delete(g.runs, id)
			n++
		}
	}
	return n
}

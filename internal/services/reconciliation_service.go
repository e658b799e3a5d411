// Package services orchestrates reconciliation runs: upload, diff, sales
// review, record writes, normalization review and save.
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/stwalsh4118/appraisal/internal/batch"
	"github.com/stwalsh4118/appraisal/internal/config"
	"github.com/stwalsh4118/appraisal/internal/decisions"
	"github.com/stwalsh4118/appraisal/internal/differ"
	"github.com/stwalsh4118/appraisal/internal/logger"
	"github.com/stwalsh4118/appraisal/internal/metrics"
	"github.com/stwalsh4118/appraisal/internal/models"
	"github.com/stwalsh4118/appraisal/internal/normalization"
	"github.com/stwalsh4118/appraisal/internal/report"
	"github.com/stwalsh4118/appraisal/internal/repository"
	"github.com/stwalsh4118/appraisal/internal/vendor"
)

// Batch operation names, used in events, logs and metrics labels.
const (
	OpUpsertRecords  = "upsert_records"
	OpSaveNormalized = "save_normalized"
	OpInitialImport  = "initial_import"
)

// DefaultRunRetention is how long finished runs stay readable.
const DefaultRunRetention = time.Hour

// DefaultRunIdleTimeout is how long a run may wait on its client before it
// is cancelled, when the config leaves it unset.
const DefaultRunIdleTimeout = 30 * time.Minute

// ReconciliationService defines the business logic of the reconciliation workflow.
type ReconciliationService interface {
	// StartRun parses content with the job's vendor profile, keys every row,
	// reads the current snapshot and diffs it. Nothing is written.
	// Returns a LookupError for unknown jobs or missing HPI data, a
	// *vendor.ParseError for unreadable files and a *RunInProgressError
	// when the job already has an active run. Runs idle longer than the run
	// idle timeout are cancelled first.
	StartRun(ctx context.Context, jobID int64, content string) (*RunView, error)

	// Preview diffs content against the job's snapshot without starting a
	// run. vendorTag overrides the job's vendor when non-empty.
	Preview(ctx context.Context, jobID int64, content, vendorTag string) (*Preview, error)

	// GetRun returns the current view of a run or ErrRunNotFound.
	GetRun(runID uuid.UUID) (*RunView, error)

	// DecideSales records sales decisions. Undecided changes take the new values.
	DecideSales(runID uuid.UUID, ds map[string]decisions.SalesDecision) (*RunView, error)

	// ApplyRecords advances the job's file version, writes every source record
	// at the new version and computes the normalization results to review.
	// Returns ErrStaleSnapshot when another writer advanced the job first and
	// a *batch.TimeoutError when the write budget runs out.
	ApplyRecords(ctx context.Context, runID uuid.UUID) (*RunView, error)

	// DecideNormalization records keep or reject per key.
	DecideNormalization(runID uuid.UUID, ds map[string]decisions.NormalizationDecision) (*RunView, error)

	// DecideAllNormalization applies d to every undecided key. Keeping skips
	// keys whose value cannot be kept.
	DecideAllNormalization(runID uuid.UUID, d decisions.NormalizationDecision) (*RunView, error)

	// SaveNormalization persists reviewed values and the comparison report.
	// Returns ErrDecisionsPending while any result is undecided.
	SaveNormalization(ctx context.Context, runID uuid.UUID) (*RunView, error)

	// Cancel stops a run. Chunks already written stay written and a report
	// with status cancelled is persisted.
	Cancel(runID uuid.UUID) (*RunView, error)

	// Subscribe streams run events until the run ends or the returned
	// function is called.
	Subscribe(runID uuid.UUID) (<-chan Event, func(), error)

	// InitialImport creates a job with its first file version. It writes
	// every record or none.
	InitialImport(ctx context.Context, req ImportRequest) (*ImportResult, error)

	// ListReports returns a job's reports, newest first.
	ListReports(ctx context.Context, jobID int64, limit int) ([]models.ComparisonReport, error)

	// ListTimeNormalizedSales returns a job's reviewed sales list.
	ListTimeNormalizedSales(ctx context.Context, jobID int64) ([]models.TimeNormalizedSale, error)
}

// Dependencies are the collaborators of the reconciliation service.
type Dependencies struct {
	Properties repository.PropertyRepository
	Jobs       repository.JobRepository
	HPI        repository.HPIRepository
	Reports    repository.ReportRepository
	Metrics    *metrics.Metrics
	Log        *logger.Logger
	Config     config.ReconcileConfig
	// Retention overrides DefaultRunRetention when positive.
	Retention time.Duration
}

// reconciliationService is the concrete implementation of ReconciliationService.
type reconciliationService struct {
	props   repository.PropertyRepository
	jobs    repository.JobRepository
	hpi     repository.HPIRepository
	reports repository.ReportRepository
	audit   *report.Writer
	metrics *metrics.Metrics
	log     *logger.Logger
	runs    *registry
	cfg     config.ReconcileConfig
	idle    time.Duration
}

// NewReconciliationService creates a new instance of ReconciliationService.
func NewReconciliationService(deps Dependencies) ReconciliationService {
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	retention := deps.Retention
	if retention <= 0 {
		retention = DefaultRunRetention
	}
	idle := deps.Config.RunIdleTimeout
	if idle <= 0 {
		idle = DefaultRunIdleTimeout
	}
	return &reconciliationService{
		props:   deps.Properties,
		jobs:    deps.Jobs,
		hpi:     deps.HPI,
		reports: deps.Reports,
		audit:   report.NewWriter(deps.Reports, log),
		metrics: deps.Metrics,
		log:     log.WithComponent("reconciliation"),
		runs:    newRegistry(retention),
		cfg:     deps.Config,
		idle:    idle,
	}
}

// StartRun runs Phase 1 up to the diff.
func (s *reconciliationService) StartRun(ctx context.Context, jobID int64, content string) (*RunView, error) {
	now := time.Now().UTC()
	s.expireIdle(now)
	if n := s.runs.prune(now); n > 0 {
		s.log.Debug("Pruned finished runs", map[string]interface{}{"count": n})
	}

	runID := uuid.New()
	if err := s.runs.reserve(jobID, runID); err != nil {
		fields := map[string]interface{}{"job_id": jobID}
		var busy *RunInProgressError
		if errors.As(err, &busy) {
			fields["active_run_id"] = busy.RunID.String()
		}
		s.log.Warn("Rejected concurrent reconciliation run", fields)
		return nil, err
	}

	r, err := s.prepareRun(ctx, runID, jobID, content)
	if err != nil {
		s.runs.release(jobID, runID)
		return nil, err
	}

	s.runs.add(r)
	s.metrics.RunStarted()

	counts := r.changes.Counts()
	r.log.Info("Reconciliation run started", map[string]interface{}{
		"vendor":         string(r.profile.Tag()),
		"file_version":   r.job.FileVersion,
		"source_records": len(r.source),
		"added":          counts.Added,
		"removed":        counts.Removed,
		"sales_changes":  counts.SalesChanges,
		"class_changes":  counts.ClassChanges,
		"fuzzy_matches":  counts.FuzzyMatches,
		"skipped_rows":   len(r.skipped),
		"duplicate_keys": len(r.duplicates),
	})
	r.publishState("diff ready")

	return r.view(), nil
}

func (s *reconciliationService) prepareRun(ctx context.Context, runID uuid.UUID, jobID int64, content string) (*run, error) {
	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	profile, err := vendor.ProfileFor(job.Vendor)
	if err != nil {
		return nil, fmt.Errorf("job %d has an unusable vendor: %w", job.ID, err)
	}

	parsed, err := vendor.Parse(content, profile)
	if err != nil {
		s.log.Warn("Upload could not be parsed", map[string]interface{}{"job_id": job.ID, "error": err.Error()})
		return nil, fmt.Errorf("failed to parse upload: %w", err)
	}

	engine, err := s.loadEngine(ctx, job, profile)
	if err != nil {
		return nil, err
	}

	upload := keyRecords(parsed, job.Year, job.CCDD)

	snap, err := differ.LoadSnapshot(ctx, s.props, job.ID, job.FileVersion, s.cfg.SnapshotPageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	changes := differ.Diff(upload.source, snap, profile)
	salesKeys := make([]string, 0, len(changes.SalesChanges))
	for _, sc := range changes.SalesChanges {
		salesKeys = append(salesKeys, sc.CompositeKey)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	now := time.Now().UTC()
	return &run{
		ctx:          runCtx,
		cancel:       cancel,
		id:           runID,
		job:          *job,
		profile:      profile,
		engine:       engine,
		events:       newEventHub(),
		log:          s.log.WithRun(runID.String(), job.ID),
		source:       upload.source,
		snapshot:     snap,
		changes:      changes,
		startedAt:    now,
		lastActivity: now,
		state:        StateReviewingSales,
		sales:        decisions.NewSalesLedger(salesKeys),
		skipped:      upload.skipped,
		duplicates:   upload.duplicates,
	}, nil
}

func (s *reconciliationService) loadJob(ctx context.Context, jobID int64) (*models.Job, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		s.log.Error("Failed to load job", err, map[string]interface{}{"job_id": jobID})
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	if job == nil {
		return nil, &LookupError{Resource: "job", Key: strconv.FormatInt(jobID, 10), Err: ErrJobNotFound}
	}
	return job, nil
}

// loadEngine fails before any write when the county has no HPI data.
func (s *reconciliationService) loadEngine(ctx context.Context, job *models.Job, p vendor.Profile) (*normalization.Engine, error) {
	cfg, err := s.jobs.GetNormalizationConfig(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load normalization config: %w", err)
	}
	if cfg == nil {
		def := models.DefaultNormalizationConfig()
		cfg = &def
	}

	records, err := s.hpi.ListByCounty(ctx, job.County)
	if err != nil {
		return nil, fmt.Errorf("failed to load HPI data: %w", err)
	}
	series, err := normalization.NewSeries(job.County, records)
	if err != nil {
		s.log.Warn("County has no HPI data", map[string]interface{}{"job_id": job.ID, "county": job.County})
		return nil, &LookupError{Resource: "hpi county", Key: job.County, Err: err}
	}

	return normalization.NewEngine(series, p, *cfg), nil
}

// GetRun returns a run view.
func (s *reconciliationService) GetRun(runID uuid.UUID) (*RunView, error) {
	r, err := s.runs.get(runID)
	if err != nil {
		return nil, err
	}
	return r.view(), nil
}

// DecideSales updates the sales ledger of a run under review.
func (s *reconciliationService) DecideSales(runID uuid.UUID, ds map[string]decisions.SalesDecision) (*RunView, error) {
	r, err := s.runs.get(runID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.state != StateReviewingSales {
		state := r.state
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: sales decisions need state %s, run is %s", ErrInvalidState, StateReviewingSales, state)
	}
	next, err := r.sales.SetAll(ds)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.sales = next
	r.touchLocked(time.Now().UTC())
	r.mu.Unlock()

	r.log.Debug("Sales decisions recorded", map[string]interface{}{"count": len(ds)})
	return r.view(), nil
}

// ApplyRecords runs the write half of Phase 1 and opens Phase 2.
func (s *reconciliationService) ApplyRecords(ctx context.Context, runID uuid.UUID) (*RunView, error) {
	r, err := s.runs.get(runID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.state != StateReviewingSales {
		state := r.state
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: apply needs state %s, run is %s", ErrInvalidState, StateReviewingSales, state)
	}
	r.state = StateApplying
	sales := r.sales
	r.mu.Unlock()
	r.publishState("writing records")

	opCtx, stop := joinContext(ctx, r.ctx)
	defer stop()

	base := r.job.FileVersion
	advanced, err := s.jobs.AdvanceFileVersion(opCtx, r.job.ID, base, time.Now().UTC())
	if err != nil {
		if s.stoppedByCancel(r, opCtx) {
			return r.view(), nil
		}
		r.log.Error("Failed to advance file version", err, nil)
		s.finish(r, StateFailed, err)
		return r.view(), fmt.Errorf("failed to advance file version: %w", err)
	}
	if !advanced {
		r.log.Warn("Snapshot is stale", map[string]interface{}{"expected_version": base})
		s.finish(r, StateFailed, ErrStaleSnapshot)
		return r.view(), ErrStaleSnapshot
	}

	version := base + 1
	r.mu.Lock()
	r.newVersion = version
	r.mu.Unlock()

	records := buildRecords(r.job.ID, version, r.source, r.snapshot, sales)
	res, err := batch.Write(opCtx, s.newWriter(r), OpUpsertRecords, records, s.props.UpsertRecords)
	r.mu.Lock()
	r.recordWrite = res
	r.mu.Unlock()

	var timeout *batch.TimeoutError
	switch {
	case errors.As(err, &timeout):
		s.finish(r, StateFailed, err)
		return r.view(), err
	case err != nil:
		s.finish(r, StateFailed, err)
		return r.view(), fmt.Errorf("failed to write records: %w", err)
	case res.Cancelled:
		s.finish(r, StateCancelled, nil)
		return r.view(), nil
	}

	written := batch.Succeeded(records, res)
	if unwritten := len(records) - len(written); unwritten > 0 {
		r.log.Warn("Records from failed chunks are left out of normalization review", map[string]interface{}{
			"unwritten": unwritten,
		})
	}
	results, err := r.engine.Compute(opCtx, normalizationInputs(r.changes, written, r.snapshot))
	if err != nil {
		if s.stoppedByCancel(r, opCtx) {
			return r.view(), nil
		}
		s.finish(r, StateFailed, err)
		return r.view(), fmt.Errorf("failed to compute normalization: %w", err)
	}

	keys := make([]string, 0, len(results))
	keepable := make(map[string]bool, len(results))
	for i := range results {
		if results[i].Removed {
			continue
		}
		keys = append(keys, results[i].CompositeKey)
		keepable[results[i].CompositeKey] = results[i].Keepable()
	}

	r.mu.Lock()
	if r.cancelRequested {
		r.mu.Unlock()
		s.finish(r, StateCancelled, nil)
		return r.view(), nil
	}
	r.results = results
	r.norm = decisions.NewNormalizationLedger(keys, func(k string) bool { return keepable[k] })
	r.state = StateReviewingNormalization
	r.touchLocked(time.Now().UTC())
	r.mu.Unlock()

	r.log.Info("Records applied", map[string]interface{}{
		"file_version":          version,
		"processed":             res.Processed,
		"errors":                res.Errors,
		"normalization_results": len(results),
	})
	r.publishState("records written")

	if len(results) == 0 {
		s.finish(r, StateCompleted, nil)
	}
	return r.view(), nil
}

// DecideNormalization updates the normalization ledger of a run under review.
func (s *reconciliationService) DecideNormalization(runID uuid.UUID, ds map[string]decisions.NormalizationDecision) (*RunView, error) {
	return s.updateNormalization(runID, func(l decisions.NormalizationLedger) (decisions.NormalizationLedger, error) {
		return l.SetAll(ds)
	})
}

// DecideAllNormalization is the bulk action over undecided keys.
func (s *reconciliationService) DecideAllNormalization(runID uuid.UUID, d decisions.NormalizationDecision) (*RunView, error) {
	return s.updateNormalization(runID, func(l decisions.NormalizationLedger) (decisions.NormalizationLedger, error) {
		switch d {
		case decisions.KeepNormalized:
			return l.KeepAllUndecided(), nil
		case decisions.RejectNormalized:
			return l.RejectAllUndecided(), nil
		}
		return l, fmt.Errorf("%w: %q", decisions.ErrInvalidDecision, d)
	})
}

func (s *reconciliationService) updateNormalization(runID uuid.UUID, fn func(decisions.NormalizationLedger) (decisions.NormalizationLedger, error)) (*RunView, error) {
	r, err := s.runs.get(runID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.state != StateReviewingNormalization {
		state := r.state
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: normalization decisions need state %s, run is %s", ErrInvalidState, StateReviewingNormalization, state)
	}
	next, err := fn(r.norm)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.norm = next
	r.touchLocked(time.Now().UTC())
	r.mu.Unlock()

	return r.view(), nil
}

// SaveNormalization runs the write half of Phase 2 and completes the run.
func (s *reconciliationService) SaveNormalization(ctx context.Context, runID uuid.UUID) (*RunView, error) {
	r, err := s.runs.get(runID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.state != StateReviewingNormalization {
		state := r.state
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: save needs state %s, run is %s", ErrInvalidState, StateReviewingNormalization, state)
	}
	if pending := len(r.norm.Undecided()); pending > 0 {
		r.mu.Unlock()
		return nil, &PendingError{Undecided: pending}
	}
	r.state = StateSaving
	results, ledger, version := r.results, r.norm, r.newVersion
	r.mu.Unlock()
	r.publishState("saving normalized values")

	opCtx, stop := joinContext(ctx, r.ctx)
	defer stop()

	saves, cleared := saveSet(r.job.ID, r.job.FileVersion, version, results, ledger, time.Now().UTC())
	res, err := batch.Write(opCtx, s.newWriter(r), OpSaveNormalized, saves, func(ctx context.Context, chunk []normalizedSave) error {
		return s.persistNormalized(ctx, r.job.ID, chunk)
	})
	r.mu.Lock()
	r.normalizedWrite = res
	r.mu.Unlock()

	var timeout *batch.TimeoutError
	switch {
	case errors.As(err, &timeout):
		s.finish(r, StateFailed, err)
		return r.view(), err
	case err != nil:
		s.finish(r, StateFailed, err)
		return r.view(), fmt.Errorf("failed to save normalized values: %w", err)
	case res.Cancelled:
		s.finish(r, StateCancelled, nil)
		return r.view(), nil
	}

	r.mu.Lock()
	r.cleared = cleared
	r.mu.Unlock()

	kept, rejected := ledger.Tally()
	r.log.Info("Normalization saved", map[string]interface{}{
		"kept":     kept,
		"rejected": rejected,
		"cleared":  len(cleared),
		"errors":   res.Errors,
	})
	s.finish(r, StateCompleted, nil)
	return r.view(), nil
}

// persistNormalized writes one chunk of Phase 2 outcomes. Every statement
// is idempotent so the batch writer may retry the chunk.
func (s *reconciliationService) persistNormalized(ctx context.Context, jobID int64, chunk []normalizedSave) error {
	updates := make([]models.NormalizedValueUpdate, 0, len(chunk))
	sales := make([]models.TimeNormalizedSale, 0, len(chunk))
	var drop []string
	for _, c := range chunk {
		updates = append(updates, c.update)
		if c.sale != nil {
			sales = append(sales, *c.sale)
		}
		if c.drop {
			drop = append(drop, c.update.CompositeKey)
		}
	}

	if err := s.props.UpdateNormalizedValues(ctx, jobID, updates); err != nil {
		return err
	}
	if err := s.jobs.UpsertTimeNormalizedSales(ctx, sales); err != nil {
		return err
	}
	return s.jobs.DeleteTimeNormalizedSales(ctx, jobID, drop)
}

// Cancel is the emergency stop. In-flight writes stop at the next chunk
// boundary and finish the run themselves.
func (s *reconciliationService) Cancel(runID uuid.UUID) (*RunView, error) {
	r, err := s.runs.get(runID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	switch {
	case r.state.Terminal():
		state := r.state
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: run already %s", ErrInvalidState, state)
	case r.state == StateApplying || r.state == StateSaving:
		r.cancelRequested = true
		r.mu.Unlock()
		r.log.Warn("Cancellation requested during write", nil)
		r.cancel()
		return r.view(), nil
	}
	r.cancelRequested = true
	in, ok := r.terminateLocked(StateCancelled, nil)
	r.mu.Unlock()

	r.log.Warn("Run cancelled", nil)
	if ok {
		s.complete(r, in)
	}
	return r.view(), nil
}

// Subscribe attaches to a run's event stream.
func (s *reconciliationService) Subscribe(runID uuid.UUID) (<-chan Event, func(), error) {
	r, err := s.runs.get(runID)
	if err != nil {
		return nil, nil, err
	}
	ch, unsubscribe := r.events.subscribe()
	return ch, unsubscribe, nil
}

// ListReports returns report history of an existing job.
func (s *reconciliationService) ListReports(ctx context.Context, jobID int64, limit int) ([]models.ComparisonReport, error) {
	if _, err := s.loadJob(ctx, jobID); err != nil {
		return nil, err
	}
	reports, err := s.reports.ListByJob(ctx, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	return reports, nil
}

// ListTimeNormalizedSales returns the sales list of an existing job.
func (s *reconciliationService) ListTimeNormalizedSales(ctx context.Context, jobID int64) ([]models.TimeNormalizedSale, error) {
	if _, err := s.loadJob(ctx, jobID); err != nil {
		return nil, err
	}
	sales, err := s.jobs.ListTimeNormalizedSales(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list time-normalized sales: %w", err)
	}
	return sales, nil
}

// expireIdle cancels every run that has waited on its client longer than
// the idle timeout. Each gets a cancelled report and releases its job.
func (s *reconciliationService) expireIdle(now time.Time) int {
	n := 0
	for _, r := range s.runs.idle(now, s.idle) {
		r.mu.Lock()
		if !r.idleLocked(now, s.idle) {
			r.mu.Unlock()
			continue
		}
		idleFor, state := now.Sub(r.lastActivity), r.state
		r.cancelRequested = true
		in, ok := r.terminateLocked(StateCancelled, ErrRunIdle)
		r.mu.Unlock()
		if !ok {
			continue
		}

		r.log.Warn("Idle run cancelled", map[string]interface{}{
			"state":    string(state),
			"idle_for": idleFor.String(),
			"timeout":  s.idle.String(),
		})
		s.complete(r, in)
		n++
	}
	return n
}

// finish ends a run unless it already ended.
func (s *reconciliationService) finish(r *run, state RunState, cause error) {
	r.mu.Lock()
	in, ok := r.terminateLocked(state, cause)
	r.mu.Unlock()
	if ok {
		s.complete(r, in)
	}
}

// complete persists the report of a terminated run and releases its job.
func (s *reconciliationService) complete(r *run, in report.Input) {
	r.cancel()

	rep, err := s.audit.Write(context.Background(), in)
	r.mu.Lock()
	r.report = rep
	if err != nil && r.lastErr == "" {
		r.lastErr = err.Error()
	}
	state, duration := r.state, r.finishedAt.Sub(r.startedAt)
	r.mu.Unlock()

	s.runs.release(r.job.ID, r.id)
	s.metrics.RunFinished(in.Status, duration)

	r.log.Info("Reconciliation run finished", map[string]interface{}{
		"state":    string(state),
		"status":   in.Status,
		"duration": duration.String(),
	})
	r.publishState("run " + string(state))
	r.events.close()
}

// stoppedByCancel finishes the run as cancelled when opCtx ended because
// the run or its caller was cancelled.
func (s *reconciliationService) stoppedByCancel(r *run, opCtx context.Context) bool {
	if opCtx.Err() == nil {
		return false
	}
	s.finish(r, StateCancelled, nil)
	return true
}

func (s *reconciliationService) newWriter(r *run) *batch.Writer {
	return batch.NewWriter(s.batchConfig(), r.log,
		batch.WithRecorder(s.metrics),
		batch.WithEvents(r.publishBatch),
	)
}

func (s *reconciliationService) batchConfig() batch.Config {
	return batch.Config{
		ChunkSize:         s.cfg.ChunkSize,
		ChunkPause:        s.cfg.ChunkPause,
		Timeout:           s.cfg.OperationTimeout,
		MaxAttempts:       s.cfg.MaxChunkAttempts,
		RetryBaseDelay:    s.cfg.RetryBaseDelay,
		HeartbeatInterval: s.cfg.HeartbeatInterval,
	}
}

// joinContext returns a context that ends when either parent ends.
func joinContext(ctx, runCtx context.Context) (context.Context, context.CancelFunc) {
	joined, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(runCtx, cancel)
	return joined, func() {
		stop()
		cancel()
	}
}

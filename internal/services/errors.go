package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors returned by ReconciliationService.
var (
	// ErrJobNotFound is wrapped by a LookupError when a job id is unknown.
	ErrJobNotFound = errors.New("job not found")

	// ErrRunNotFound is returned for unknown or expired run ids.
	ErrRunNotFound = errors.New("reconciliation run not found")

	// ErrRunInProgress is returned when a job already has an active run.
	ErrRunInProgress = errors.New("a reconciliation run is already in progress for this job")

	// ErrInvalidState is returned when an operation does not fit the run's phase.
	ErrInvalidState = errors.New("operation not allowed in the current run state")

	// ErrDecisionsPending is returned by save while normalization results are undecided.
	ErrDecisionsPending = errors.New("every normalization result needs a decision before save")

	// ErrStaleSnapshot is returned when the job's file version moved after the snapshot was read.
	ErrStaleSnapshot = errors.New("job file version changed since the snapshot was read")

	// ErrInvalidImport is returned for an initial import request missing job metadata.
	ErrInvalidImport = errors.New("invalid initial import request")

	// ErrRunIdle is recorded on runs cancelled for inactivity.
	ErrRunIdle = errors.New("reconciliation run expired after being idle")

	// ErrImportFailed is returned when an initial import could not write every record.
	ErrImportFailed = errors.New("initial import failed and was rolled back")
)

// LookupError reports missing reference data. It is fatal to a run and is
// raised before any write.
type LookupError struct {
	Err      error
	Resource string
	Key      string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup error: %s %q: %v", e.Resource, e.Key, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// PendingError is returned by save while normalization results are
// undecided. It matches ErrDecisionsPending.
type PendingError struct {
	Undecided int
}

func (e *PendingError) Error() string {
	return fmt.Sprintf("%v: %d undecided", ErrDecisionsPending, e.Undecided)
}

func (e *PendingError) Is(target error) bool { return target == ErrDecisionsPending }

// RunInProgressError names the run holding a job. It matches ErrRunInProgress.
type RunInProgressError struct {
	JobID int64
	RunID uuid.UUID
}

func (e *RunInProgressError) Error() string {
	return fmt.Sprintf("%v: job %d is held by run %s", ErrRunInProgress, e.JobID, e.RunID)
}

func (e *RunInProgressError) Is(target error) bool { return target == ErrRunInProgress }

// Package batch persists records in fixed-size sequential chunks with
// retries, a wall-clock budget and run-scoped cancellation. A failed chunk
// never aborts the remaining chunks, and completed chunks are never rolled
// back.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stwalsh4118/appraisal/internal/logger"
	"github.com/stwalsh4118/appraisal/internal/metrics"
)

// Defaults used for zero-valued Config fields.
const (
	DefaultChunkSize         = 500
	DefaultChunkPause        = 100 * time.Millisecond
	DefaultTimeout           = 15 * time.Minute
	DefaultMaxAttempts       = 3
	DefaultRetryBaseDelay    = 500 * time.Millisecond
	DefaultHeartbeatInterval = 10 * time.Second
)

// errBudgetExceeded is the cancellation cause set by the writer's own timeout.
var errBudgetExceeded = errors.New("batch operation budget exceeded")

// Config controls chunking, pacing and retries. A negative Timeout disables
// the budget.
type Config struct {
	ChunkSize         int
	ChunkPause        time.Duration
	Timeout           time.Duration
	MaxAttempts       int
	RetryBaseDelay    time.Duration
	HeartbeatInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.ChunkSize < 1 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ChunkPause < 0 {
		c.ChunkPause = 0
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return c
}

// Recorder receives per-chunk outcomes. *metrics.Metrics implements it.
type Recorder interface {
	RecordChunk(operation, status string, records int, duration time.Duration)
}

// ChunkError is a single chunk that failed every attempt. It is aggregated
// into Result and never returned from Write.
type ChunkError struct {
	Err       error
	Operation string
	Index     int
	Records   int
	Attempts  int
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("%s chunk %d (%d records) failed after %d attempts: %v",
		e.Operation, e.Index, e.Records, e.Attempts, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// TimeoutError reports that the wall-clock budget ran out. Chunks written
// before the deadline stay written.
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
	Processed int
	Remaining int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s with %d records written and %d not attempted",
		e.Operation, e.Timeout, e.Processed, e.Remaining)
}

// Unwrap lets callers match context.DeadlineExceeded.
func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// FailedChunk describes one chunk that could not be written. Offset is the
// position of its first item in the slice passed to Write.
type FailedChunk struct {
	Err      string `json:"error"`
	Index    int    `json:"index"`
	Offset   int    `json:"offset"`
	Records  int    `json:"records"`
	Attempts int    `json:"attempts"`
}

// Result aggregates the outcome of one Write call. Errors counts records in
// failed chunks.
type Result struct {
	FailedChunks []FailedChunk `json:"failedChunks"`
	Operation    string        `json:"operation"`
	Duration     time.Duration `json:"duration"`
	Total        int           `json:"total"`
	Processed    int           `json:"processed"`
	Errors       int           `json:"errors"`
	Chunks       int           `json:"chunks"`
	Cancelled    bool          `json:"cancelled"`
	TimedOut     bool          `json:"timedOut"`
}

// Failed reports whether item i of the written slice belongs to a failed chunk.
func (r *Result) Failed(i int) bool {
	for _, fc := range r.FailedChunks {
		if i >= fc.Offset && i < fc.Offset+fc.Records {
			return true
		}
	}
	return false
}

// Succeeded returns the items whose chunk was written. Items after the point
// where a cancelled or timed out write stopped are not included.
func Succeeded[T any](items []T, r *Result) []T {
	if r == nil {
		return nil
	}
	out := make([]T, 0, r.Processed)
	for i := range items {
		if len(out) == r.Processed {
			break
		}
		if !r.Failed(i) {
			out = append(out, items[i])
		}
	}
	return out
}

// Writer runs chunked writes. It is safe for concurrent use; events of
// concurrent writes interleave on the same callback.
type Writer struct {
	log      *logger.Logger
	recorder Recorder
	onEvent  func(Event)
	cfg      Config
}

// Option configures a Writer.
type Option func(*Writer)

// WithRecorder attaches a chunk outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(w *Writer) { w.recorder = r }
}

// WithEvents attaches a progress callback. The callback is never invoked
// concurrently by a single Write call.
func WithEvents(fn func(Event)) Option {
	return func(w *Writer) { w.onEvent = fn }
}

// NewWriter returns a Writer. Zero config fields take the package defaults.
func NewWriter(cfg Config, log *logger.Logger, opts ...Option) *Writer {
	if log == nil {
		log = logger.Nop()
	}
	w := &Writer{cfg: cfg.withDefaults(), log: log.WithComponent("batch_writer")}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Config returns the effective configuration.
func (w *Writer) Config() Config { return w.cfg }

// Write splits items into chunks and hands each to fn in order.
//
// The returned error is nil on completion and on cancellation (Result.Cancelled),
// and a *TimeoutError when the budget runs out. Per-chunk failures are only
// reported through Result.
func Write[T any](ctx context.Context, w *Writer, operation string, items []T, fn func(context.Context, []T) error) (*Result, error) {
	cfg := w.cfg
	start := time.Now()
	chunks := chunkCount(len(items), cfg.ChunkSize)
	res := &Result{Operation: operation, Total: len(items), Chunks: chunks}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, cfg.Timeout, errBudgetExceeded)
		defer cancel()
	}

	sink := &eventSink{fn: w.onEvent, operation: operation}
	var processed atomic.Int64
	stopHeartbeat := w.heartbeat(sink, &processed, chunks)
	defer stopHeartbeat()

	log := w.log.With(map[string]interface{}{"operation": operation})
	log.Info("Batch write started", map[string]interface{}{
		"records":    len(items),
		"chunks":     chunks,
		"chunk_size": cfg.ChunkSize,
	})

	next, interrupted := 0, false
	for i := 0; i < chunks; i++ {
		if ctx.Err() != nil {
			break
		}

		lo := i * cfg.ChunkSize
		hi := min(lo+cfg.ChunkSize, len(items))
		chunk := items[lo:hi]

		sink.emit(Event{Kind: EventChunkStart, Chunk: i + 1, Chunks: chunks, Records: len(chunk)})

		attempts, err := writeChunk(ctx, w, sink, operation, i+1, chunks, chunk, fn)
		next = i + 1
		if err == nil {
			res.Processed += len(chunk)
			processed.Store(int64(res.Processed))
			sink.emit(Event{Kind: EventChunkSuccess, Chunk: i + 1, Chunks: chunks, Records: len(chunk), Attempt: attempts, Processed: res.Processed})
		} else {
			interrupted = ctx.Err() != nil
			chunkErr := &ChunkError{Err: err, Operation: operation, Index: i + 1, Records: len(chunk), Attempts: attempts}
			res.Errors += len(chunk)
			res.FailedChunks = append(res.FailedChunks, FailedChunk{Err: err.Error(), Index: i + 1, Offset: lo, Records: len(chunk), Attempts: attempts})
			log.Error("Batch chunk failed", chunkErr, map[string]interface{}{
				"chunk":    i + 1,
				"records":  len(chunk),
				"attempts": attempts,
			})
			sink.emit(Event{Kind: EventChunkFailure, Chunk: i + 1, Chunks: chunks, Records: len(chunk), Attempt: attempts, Err: err.Error()})
		}

		if i < chunks-1 && !sleep(ctx, cfg.ChunkPause) {
			break
		}
	}

	res.Duration = time.Since(start)
	remaining := 0
	for i := next; i < chunks; i++ {
		remaining += min((i+1)*cfg.ChunkSize, len(items)) - i*cfg.ChunkSize
	}

	var err error
	switch {
	case stopped(ctx, remaining, interrupted) && errors.Is(context.Cause(ctx), errBudgetExceeded):
		res.TimedOut = true
		err = &TimeoutError{Operation: operation, Timeout: cfg.Timeout, Processed: res.Processed, Remaining: remaining}
		log.Error("Batch write timed out", err, map[string]interface{}{"processed": res.Processed, "remaining": remaining})
	case stopped(ctx, remaining, interrupted):
		res.Cancelled = true
		log.Warn("Batch write cancelled", map[string]interface{}{"processed": res.Processed, "remaining": remaining})
	default:
		log.Info("Batch write completed", map[string]interface{}{
			"processed":     res.Processed,
			"errors":        res.Errors,
			"failed_chunks": len(res.FailedChunks),
			"duration":      res.Duration.String(),
		})
	}

	stopHeartbeat()
	sink.emit(Event{Kind: EventComplete, Chunks: chunks, Records: res.Total, Processed: res.Processed, Errors: res.Errors, Cancelled: res.Cancelled, TimedOut: res.TimedOut})
	return res, err
}

// writeChunk retries fn with exponential back-off. It stops early once ctx is done.
func writeChunk[T any](ctx context.Context, w *Writer, sink *eventSink, operation string, index, chunks int, chunk []T, fn func(context.Context, []T) error) (int, error) {
	delay := w.cfg.RetryBaseDelay
	var lastErr error

	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		started := time.Now()
		lastErr = fn(ctx, chunk)
		if lastErr == nil {
			w.record(operation, metrics.StatusSuccess, len(chunk), time.Since(started))
			return attempt, nil
		}

		if ctx.Err() != nil {
			w.record(operation, metrics.StatusFailed, len(chunk), time.Since(started))
			return attempt, lastErr
		}

		if attempt < w.cfg.MaxAttempts {
			w.record(operation, metrics.StatusRetry, len(chunk), time.Since(started))
			w.log.Warn("Batch chunk failed, retrying", map[string]interface{}{
				"operation": operation,
				"chunk":     index,
				"attempt":   attempt,
				"max":       w.cfg.MaxAttempts,
				"delay":     delay.String(),
				"error":     lastErr.Error(),
			})
			sink.emit(Event{Kind: EventChunkRetry, Chunk: index, Chunks: chunks, Records: len(chunk), Attempt: attempt, Err: lastErr.Error()})
			if !sleep(ctx, delay) {
				return attempt, lastErr
			}
			delay *= 2
		} else {
			w.record(operation, metrics.StatusFailed, len(chunk), time.Since(started))
		}
	}

	return w.cfg.MaxAttempts, lastErr
}

func (w *Writer) record(operation, status string, records int, d time.Duration) {
	if w.recorder != nil {
		w.recorder.RecordChunk(operation, status, records, d)
	}
}

// stopped reports whether ctx ended the write before every chunk was attempted.
func stopped(ctx context.Context, remaining int, interrupted bool) bool {
	return ctx.Err() != nil && (remaining > 0 || interrupted)
}

func chunkCount(n, size int) int {
	if n == 0 {
		return 0
	}
	return (n + size - 1) / size
}

// sleep waits d or until ctx is done, reporting whether it waited the full duration.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// heartbeat emits periodic progress until the returned stop function is called.
func (w *Writer) heartbeat(sink *eventSink, processed *atomic.Int64, chunks int) func() {
	if w.cfg.HeartbeatInterval <= 0 || sink.fn == nil {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(w.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				sink.emit(Event{Kind: EventHeartbeat, Chunks: chunks, Processed: int(processed.Load())})
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

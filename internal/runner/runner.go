// Package runner drives exactly one job from dispatch to filing: it
// invokes the registered worker under a timeout, persists the terminal
// status and result, files the job into the day-indexed success/failure
// list, deletes its pending entry, records metrics, and dispatches finish
// reporters.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/docjobs/internal/common"
	"github.com/ternarybob/docjobs/internal/errkind"
	"github.com/ternarybob/docjobs/internal/job"
	"github.com/ternarybob/docjobs/internal/paths"
	"github.com/ternarybob/docjobs/internal/store"
)

// Context is what a worker function receives: the job's identifier, a
// store handle scoped to this service, and the update logger for posting
// progress.
type Context struct {
	context.Context
	JobID   string
	Store   store.Client
	Updates *UpdateLogger
}

// Worker is a registered job handler: given the job and a Context, it
// returns the JSON result to store on success, or an error (optionally
// errkind.Tag'd) to file as a failure.
type Worker func(ctx Context, j job.Document) (result json.RawMessage, err error)

// WorkerSpec pairs a Worker with its per-invocation timeout.
type WorkerSpec struct {
	Work    Worker
	Timeout time.Duration
}

// WorkerLookup resolves a job type to its registered worker. Runner takes
// this as a narrow interface (rather than importing the service package
// outright) to keep the service -> queue -> runner dependency a one-way
// chain, per the no-ownership-cycle design note.
type WorkerLookup interface {
	GetWorker(jobType string) (WorkerSpec, bool)
}

// MetricsRecorder is the subset of service.Metrics the Runner needs.
type MetricsRecorder interface {
	StartRunning(serviceName, jobType string)
	Finish(serviceName, jobType, status string, durationSeconds float64)
}

// ReporterDispatcher invokes every configured finish reporter whose
// target status matches status, after filing has already happened.
type ReporterDispatcher interface {
	Dispatch(ctx context.Context, status string, finalJob job.Document, filedPath, jobID string)
}

// Runner drives one job. A fresh Runner is created per dispatched job-key
// by the Queue.
type Runner struct {
	ServiceName string
	JobKey      string
	JobPath     string
	Client      store.Client
	Workers     WorkerLookup
	Metrics     MetricsRecorder
	Reporters   ReporterDispatcher
	Logger      arbor.ILogger
	DebugUpdates bool
	TraceUpdates bool
}

// Run loads the job, drives it to a terminal state, and files it. It
// never returns an error for job-level failures (those are filed as
// failures); it only returns an error when the filing/store operations
// themselves are unrecoverable, which the Queue logs and which leaves the
// pending entry in place for retry on the next observation.
func (r *Runner) Run(ctx context.Context) error {
	logger := r.Logger
	if logger == nil {
		logger = common.GetLogger()
	}
	start := nowFunc()

	rec, err := job.Load(ctx, r.Client, r.JobPath)
	if err != nil {
		return fmt.Errorf("run %s: %w", r.JobKey, err)
	}

	if !rec.IsJob {
		return r.finish(ctx, "", job.StatusFailure, json.RawMessage("{}"), start, nowFunc(), errkind.Invalid)
	}

	if rec.Doc.Status == job.StatusSuccess || rec.Doc.Status == job.StatusFailure {
		finishTime := lastUpdateTime(rec.Doc, string(rec.Doc.Status))
		return r.finish(ctx, rec.Doc.Type, rec.Doc.Status, rec.Doc.Result, finishTime, finishTime, "")
	}

	worker, ok := r.Workers.GetWorker(rec.Doc.Type)
	if !ok {
		logger.Error().Str("job", r.JobKey).Str("type", rec.Doc.Type).Msg("no worker registered for job type")
		noWorkerResult, _ := json.Marshal(job.NewErrorResult(string(errkind.NoWorker), "no worker registered for job type", ""))
		return r.finish(ctx, rec.Doc.Type, job.StatusFailure, noWorkerResult, start, nowFunc(), errkind.NoWorker)
	}

	r.Metrics.StartRunning(r.ServiceName, rec.Doc.Type)

	updates := newUpdateLogger(r.Client, r.JobPath, r.DebugUpdates, r.TraceUpdates)
	if err := updates.Info(ctx, "started", map[string]string{"message": "Runner started"}); err != nil {
		logger.Warn().Err(err).Str("job", r.JobKey).Msg("failed to post started update")
	}

	result, workErr, timedOut := r.invoke(ctx, worker, rec, updates)

	switch {
	case timedOut:
		errResult := job.NewErrorResult(string(errkind.Timeout), "worker exceeded its configured timeout", "")
		body, _ := json.Marshal(errResult)
		return r.finish(ctx, rec.Doc.Type, job.StatusFailure, body, start, nowFunc(), errkind.Timeout)

	case workErr != nil:
		kind, ok := errkind.KindOf(workErr)
		if !ok {
			kind = errkind.WorkerFailure
		}
		errResult := job.NewErrorResult(string(kind), workErr.Error(), "")
		body, _ := json.Marshal(errResult)
		return r.finish(ctx, rec.Doc.Type, job.StatusFailure, body, start, nowFunc(), kind)

	default:
		return r.finish(ctx, rec.Doc.Type, job.StatusSuccess, result, start, nowFunc(), "")
	}
}

// invoke runs worker.Work under its configured timeout, recovering a
// panic as a WorkerFailure rather than crashing the Queue's executor.
func (r *Runner) invoke(ctx context.Context, worker WorkerSpec, rec job.Record, updates *UpdateLogger) (result json.RawMessage, err error, timedOut bool) {
	timeout := worker.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	workCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result json.RawMessage
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("worker panic: %v\n%s", p, debug.Stack())}
			}
		}()
		res, workErr := worker.Work(Context{Context: workCtx, JobID: rec.ID, Store: r.Client, Updates: updates}, rec.Doc)
		done <- outcome{result: res, err: workErr}
	}()

	select {
	case out := <-done:
		return out.result, out.err, false
	case <-workCtx.Done():
		if errors.Is(workCtx.Err(), context.DeadlineExceeded) {
			return nil, nil, true
		}
		return nil, workCtx.Err(), false
	}
}

// lastUpdateTime returns the time of the most recent update whose status
// matches want, or now if none is found (used for the already-terminal
// short-circuit in Run).
func lastUpdateTime(doc job.Document, want string) time.Time {
	var latest time.Time
	for _, u := range doc.Updates {
		if u.Status != want {
			continue
		}
		if t, err := time.Parse(time.RFC3339Nano, u.Time); err == nil && t.After(latest) {
			latest = t
		}
	}
	if latest.IsZero() {
		return nowFunc()
	}
	return latest
}

// finish is the critical-path procedure described in the finish
// contract: write status/result, append the final update, file into the
// day index (and typed-failure mirror), delete the pending entry, record
// metrics, and dispatch finish reporters. Filing steps are idempotent
// writes to stable keys, so re-invocation with the same inputs is safe.
func (r *Runner) finish(ctx context.Context, jobType string, status job.Status, result json.RawMessage, startTime, finishTime time.Time, failKind errkind.Kind) error {
	logger := r.Logger
	if logger == nil {
		logger = common.GetLogger()
	}

	// 1. Write {status, result} to the job document.
	statusUpdate := map[string]any{"status": status, "result": result}
	if err := r.Client.Put(ctx, r.JobPath, statusUpdate, nil); err != nil {
		return fmt.Errorf("%w: write terminal status for %s: %v", errkind.ErrStoreTransient, r.JobKey, err)
	}

	// 2. Append the final update.
	updates := newUpdateLogger(r.Client, r.JobPath, true, true)
	if err := updates.Info(ctx, string(status), map[string]string{"message": "Runner finished"}); err != nil {
		logger.Warn().Err(err).Str("job", r.JobKey).Msg("failed to post finished update")
	}

	// 3. Compute the calendar day.
	day := common.DayIndex(finishTime)

	// 4. Ensure the day-index container exists and link the job in.
	dayIndexPath := paths.DayIndex(r.ServiceName, string(status), day)
	if err := r.Client.Ensure(ctx, dayIndexPath, paths.DayIndexTree()); err != nil {
		return fmt.Errorf("%w: ensure day index %s: %v", errkind.ErrStoreTransient, dayIndexPath, err)
	}
	link := map[string]any{r.JobKey: map[string]string{"_id": r.JobPath}}
	if err := r.Client.Put(ctx, dayIndexPath, link, nil); err != nil {
		return fmt.Errorf("%w: link %s into day index: %v", errkind.ErrStoreTransient, r.JobKey, err)
	}
	filedPath := paths.DayIndexEntry(r.ServiceName, string(status), day, r.JobKey)

	if status == job.StatusFailure && failKind != "" {
		typedPath := paths.TypedFailureDayIndex(r.ServiceName, string(failKind), day)
		if err := r.Client.Ensure(ctx, typedPath, paths.DayIndexTree()); err != nil {
			logger.Warn().Err(err).Str("job", r.JobKey).Msg("failed to ensure typed-failure day index")
		} else if err := r.Client.Put(ctx, typedPath, link, nil); err != nil {
			logger.Warn().Err(err).Str("job", r.JobKey).Msg("failed to mirror typed-failure filing")
		}
	}

	// 5. Delete the pending entry.
	pendingEntry := paths.PendingEntry(r.ServiceName, r.JobKey)
	if err := r.Client.Delete(ctx, pendingEntry); err != nil {
		return fmt.Errorf("%w: delete pending entry %s: %v", errkind.ErrStoreTransient, pendingEntry, err)
	}

	// 6. Metrics.
	r.Metrics.Finish(r.ServiceName, jobType, string(status), finishTime.Sub(startTime).Seconds())

	// 7. Finish reporters.
	if r.Reporters != nil {
		if finalDoc, err := r.filedDoc(ctx, r.JobPath); err == nil {
			r.Reporters.Dispatch(ctx, string(status), finalDoc, filedPath, r.JobKey)
		} else {
			logger.Warn().Err(err).Str("job", r.JobKey).Msg("failed to reload filed job for finish reporters")
		}
	}

	return nil
}

func (r *Runner) filedDoc(ctx context.Context, path string) (job.Document, error) {
	res, err := r.Client.Get(ctx, path)
	if err != nil {
		return job.Document{}, err
	}
	var doc job.Document
	if err := json.Unmarshal(res.Data, &doc); err != nil {
		return job.Document{}, err
	}
	return doc, nil
}

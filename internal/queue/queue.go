// Package queue subscribes to one service's pending-jobs list and drives a
// Runner per observed entry through a bounded-concurrency executor, never
// blocking or reordering the change-stream consumer.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/docjobs/internal/common"
	"github.com/ternarybob/docjobs/internal/paths"
	"github.com/ternarybob/docjobs/internal/runner"
	"github.com/ternarybob/docjobs/internal/store"
)

// link is the shape of one pending entry: a job-key mapped to a document
// link, stripped of store meta keys.
type link struct {
	ID string `json:"_id"`
}

// RunnerFactory builds the Runner for one observed job-key; Service supplies
// this so Queue never has to import the service/runner wiring itself.
type RunnerFactory func(jobKey, jobPath string) *runner.Runner

// MetricsRecorder is the subset of service.Metrics Queue needs to mark a job
// queued the moment it's observed, before the Runner it dispatches to ever
// calls StartRunning.
type MetricsRecorder interface {
	IncQueued(serviceName, jobType string)
}

// Queue watches pending for one service namespace and dispatches a Runner
// per entry onto a bounded-concurrency executor.
type Queue struct {
	ServiceName   string
	QueueID       string
	Client        store.Client
	Concurrency   int
	NewRunner     RunnerFactory
	Metrics       MetricsRecorder
	Logger        arbor.ILogger

	sem      chan struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	unwatch  func() error
	stopOnce sync.Once
}

// New constructs a Queue for service/queueID. queueID distinguishes
// concurrently-running queue instances in logs; the store path contract
// itself has no notion of it (a service has exactly one pending list).
func New(serviceName, queueID string, client store.Client, concurrency int, factory RunnerFactory, metrics MetricsRecorder, logger arbor.ILogger) *Queue {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Queue{
		ServiceName: serviceName,
		QueueID:     queueID,
		Client:      client,
		Concurrency: concurrency,
		NewRunner:   factory,
		Metrics:     metrics,
		Logger:      logger,
		sem:         make(chan struct{}, concurrency),
	}
}

// Start ensures the jobs tree exists, reads the current pending snapshot,
// subscribes to future changes, and (unless skipExisting) dispatches the
// pre-existing entries through the same path as merges. Failure of the
// initial read is fatal; individual-job failures after that never stop
// the queue.
func (q *Queue) Start(ctx context.Context, skipExisting bool) error {
	jobsRoot := paths.JobsRoot(q.ServiceName)
	if err := q.Client.Ensure(ctx, jobsRoot, paths.JobsTree()); err != nil {
		return fmt.Errorf("ensure jobs tree for %s: %w", q.ServiceName, err)
	}

	pendingPath := paths.Pending(q.ServiceName)
	snapshot, err := q.Client.Get(ctx, pendingPath)
	if err != nil {
		return fmt.Errorf("read pending for %s: %w", q.ServiceName, err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	changes, unwatch, err := q.Client.Watch(watchCtx, pendingPath, snapshot.Rev)
	if err != nil {
		cancel()
		return fmt.Errorf("watch pending for %s: %w", q.ServiceName, err)
	}
	q.unwatch = unwatch

	common.SafeGo(q.Logger, "queue-consumer:"+q.ServiceName, func() {
		q.consume(watchCtx, changes)
	})

	if !skipExisting {
		q.dispatch(watchCtx, snapshot.Data)
	}

	return nil
}

// Stop unsubscribes the watch and waits for in-flight Runners to drain. No
// new Runners are started once Stop has been called.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		if q.cancel != nil {
			q.cancel()
		}
		if q.unwatch != nil {
			if err := q.unwatch(); err != nil {
				q.Logger.Warn().Err(err).Str("service", q.ServiceName).Msg("failed to unwatch pending")
			}
		}
		q.wg.Wait()
	})
}

// consume is the single long-running change-stream task. It never blocks
// on dispatch: submission to the executor is itself non-blocking (a
// buffered semaphore plus an unbounded goroutine-per-job model), so a slow
// worker pool cannot stall the consumption of new change events.
func (q *Queue) consume(ctx context.Context, changes <-chan store.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-changes:
			if !ok {
				return
			}
			if ev.Type != store.ChangeMerge {
				continue
			}
			q.dispatch(ctx, ev.Body)
		}
	}
}

// dispatch strips meta keys from body and submits a Runner for each
// remaining job-key entry that carries a link.
func (q *Queue) dispatch(ctx context.Context, body json.RawMessage) {
	entries, err := stripMetaKeys(body)
	if err != nil {
		q.Logger.Warn().Err(err).Str("service", q.ServiceName).Msg("failed to parse pending change body")
		return
	}

	for jobKey, raw := range entries {
		var l link
		if err := json.Unmarshal(raw, &l); err != nil || l.ID == "" {
			continue
		}
		q.submit(ctx, jobKey, l.ID)
	}
}

// submit runs one job's Runner on a goroutine gated by Queue.Concurrency.
// Acquiring the semaphore happens inside the goroutine so that submit
// itself never blocks the caller (the change-stream consumer).
func (q *Queue) submit(ctx context.Context, jobKey, jobPath string) {
	q.wg.Add(1)
	common.SafeGo(q.Logger, "queue-job:"+q.ServiceName+":"+jobKey, func() {
		defer q.wg.Done()

		if q.Metrics != nil {
			if jobType, ok := q.peekJobType(ctx, jobPath); ok {
				q.Metrics.IncQueued(q.ServiceName, jobType)
			}
		}

		select {
		case q.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-q.sem }()

		r := q.NewRunner(jobKey, jobPath)
		if err := r.Run(context.WithoutCancel(ctx)); err != nil {
			q.Logger.Warn().Err(err).Str("service", q.ServiceName).Str("job", jobKey).Msg("runner failed")
		}
	})
}

// peekJobType reads just enough of the job document at jobPath to label the
// queued-gauge increment; a read failure or missing type simply skips the
// increment rather than failing dispatch.
func (q *Queue) peekJobType(ctx context.Context, jobPath string) (string, bool) {
	res, err := q.Client.Get(ctx, jobPath)
	if err != nil {
		return "", false
	}
	var doc struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(res.Data, &doc); err != nil || doc.Type == "" {
		return "", false
	}
	return doc.Type, true
}

func stripMetaKeys(body json.RawMessage) (map[string]json.RawMessage, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal pending body: %w", err)
	}
	for _, meta := range []string{"_id", "_rev", "_meta", "_type"} {
		delete(doc, meta)
	}
	return doc, nil
}

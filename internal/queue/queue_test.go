package queue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/docjobs/internal/job"
	"github.com/ternarybob/docjobs/internal/paths"
	"github.com/ternarybob/docjobs/internal/runner"
	"github.com/ternarybob/docjobs/internal/storetest"
)

type countingMetrics struct{}

func (countingMetrics) StartRunning(string, string)             {}
func (countingMetrics) Finish(string, string, string, float64) {}

// recordingMetrics implements queue.MetricsRecorder and records every
// IncQueued call for assertions.
type recordingMetrics struct {
	mu     sync.Mutex
	queued []string
}

func (m *recordingMetrics) IncQueued(service, jobType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = append(m.queued, service+"/"+jobType)
}

type noopReporters struct{}

func (noopReporters) Dispatch(context.Context, string, job.Document, string, string) {}

type recordingWorkers struct {
	mu   sync.Mutex
	seen []string
}

func (w *recordingWorkers) GetWorker(jobType string) (runner.WorkerSpec, bool) {
	if jobType != "fetch" {
		return runner.WorkerSpec{}, false
	}
	return runner.WorkerSpec{
		Timeout: time.Second,
		Work: func(ctx runner.Context, doc job.Document) (json.RawMessage, error) {
			w.mu.Lock()
			w.seen = append(w.seen, ctx.JobID)
			w.mu.Unlock()
			return json.RawMessage(`{"ok":true}`), nil
		},
	}, true
}

func newTestQueue(t *testing.T, svc string, concurrency int) (*Queue, *storetest.FakeClient, *recordingWorkers) {
	t.Helper()
	q, client, workers, _ := newTestQueueWithMetrics(t, svc, concurrency)
	return q, client, workers
}

func newTestQueueWithMetrics(t *testing.T, svc string, concurrency int) (*Queue, *storetest.FakeClient, *recordingWorkers, *recordingMetrics) {
	t.Helper()
	client, err := storetest.NewFakeClient(t.TempDir(), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	workers := &recordingWorkers{}
	metrics := &recordingMetrics{}
	factory := func(jobKey, jobPath string) *runner.Runner {
		return &runner.Runner{
			ServiceName: svc,
			JobKey:      jobKey,
			JobPath:     jobPath,
			Client:      client,
			Workers:     workers,
			Metrics:     countingMetrics{},
			Reporters:   noopReporters{},
		}
	}
	q := New(svc, "q1", client, concurrency, factory, metrics, nil)
	return q, client, workers, metrics
}

func postPendingJob(t *testing.T, client *storetest.FakeClient, svc, jobKey string) string {
	t.Helper()
	ctx := context.Background()
	jobPath := paths.PendingEntry(svc, jobKey) + "-doc"
	require.NoError(t, client.Put(ctx, jobPath, job.Document{
		ID: jobKey, Service: svc, Type: "fetch", Config: json.RawMessage(`{}`),
	}, nil))
	require.NoError(t, client.Put(ctx, paths.Pending(svc), map[string]any{jobKey: map[string]string{"_id": jobPath}}, paths.JobsTree()))
	return jobPath
}

func TestQueue_DispatchesExistingSnapshotOnStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := "crawler"
	q, client, workers := newTestQueue(t, svc, 2)
	postPendingJob(t, client, svc, "job-1")

	require.NoError(t, q.Start(ctx, false))
	defer q.Stop()

	require.Eventually(t, func() bool {
		workers.mu.Lock()
		defer workers.mu.Unlock()
		return len(workers.seen) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestQueue_SkipExistingDoesNotDispatchSnapshot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := "crawler"
	q, client, workers := newTestQueue(t, svc, 2)
	postPendingJob(t, client, svc, "job-1")

	require.NoError(t, q.Start(ctx, true))
	defer q.Stop()

	time.Sleep(50 * time.Millisecond)
	workers.mu.Lock()
	assert.Empty(t, workers.seen)
	workers.mu.Unlock()
}

func TestQueue_DispatchesNewlyLinkedJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := "crawler"
	q, client, workers := newTestQueue(t, svc, 2)

	require.NoError(t, q.Start(ctx, true))
	defer q.Stop()

	postPendingJob(t, client, svc, "job-2")

	require.Eventually(t, func() bool {
		workers.mu.Lock()
		defer workers.mu.Unlock()
		return len(workers.seen) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestQueue_IncrementsQueuedGaugeBeforeDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := "crawler"
	q, client, _, metrics := newTestQueueWithMetrics(t, svc, 2)
	postPendingJob(t, client, svc, "job-1")

	require.NoError(t, q.Start(ctx, false))
	defer q.Stop()

	require.Eventually(t, func() bool {
		metrics.mu.Lock()
		defer metrics.mu.Unlock()
		return len(metrics.queued) == 1
	}, time.Second, 5*time.Millisecond)

	metrics.mu.Lock()
	assert.Equal(t, []string{"crawler/fetch"}, metrics.queued)
	metrics.mu.Unlock()
}

func TestQueue_BoundsConcurrency(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := "crawler"
	client, err := storetest.NewFakeClient(t.TempDir(), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0
	release := make(chan struct{})

	workers := blockingWorkers{inFlight: &inFlight, maxInFlight: &maxInFlight, mu: &mu, release: release}
	factory := func(jobKey, jobPath string) *runner.Runner {
		return &runner.Runner{
			ServiceName: svc, JobKey: jobKey, JobPath: jobPath, Client: client,
			Workers: workers, Metrics: countingMetrics{}, Reporters: noopReporters{},
		}
	}
	q := New(svc, "q1", client, 1, factory, &recordingMetrics{}, nil)

	for i := 0; i < 3; i++ {
		postPendingJob(t, client, svc, "job-"+string(rune('a'+i)))
	}

	require.NoError(t, q.Start(ctx, false))
	defer func() {
		close(release)
		q.Stop()
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return inFlight > 0
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.LessOrEqual(t, maxInFlight, 1)
	mu.Unlock()
}

type blockingWorkers struct {
	inFlight    *int
	maxInFlight *int
	mu          *sync.Mutex
	release     chan struct{}
}

func (b blockingWorkers) GetWorker(jobType string) (runner.WorkerSpec, bool) {
	return runner.WorkerSpec{
		Timeout: 5 * time.Second,
		Work: func(ctx runner.Context, doc job.Document) (json.RawMessage, error) {
			b.mu.Lock()
			*b.inFlight++
			if *b.inFlight > *b.maxInFlight {
				*b.maxInFlight = *b.inFlight
			}
			b.mu.Unlock()

			<-b.release

			b.mu.Lock()
			*b.inFlight--
			b.mu.Unlock()
			return json.RawMessage(`{}`), nil
		},
	}, true
}

package runner

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/docjobs/internal/errkind"
	"github.com/ternarybob/docjobs/internal/job"
	"github.com/ternarybob/docjobs/internal/paths"
	"github.com/ternarybob/docjobs/internal/storetest"
)

// fakeWorkers is a minimal WorkerLookup backed by a map, standing in for
// service.Service in isolation.
type fakeWorkers map[string]WorkerSpec

func (f fakeWorkers) GetWorker(jobType string) (WorkerSpec, bool) {
	spec, ok := f[jobType]
	return spec, ok
}

// fakeMetrics records every StartRunning/Finish call for assertions.
type fakeMetrics struct {
	mu      sync.Mutex
	started []string
	finishes []finishCall
}

type finishCall struct {
	service, jobType, status string
	duration                 float64
}

func (m *fakeMetrics) StartRunning(service, jobType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, service+"/"+jobType)
}

func (m *fakeMetrics) Finish(service, jobType, status string, duration float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finishes = append(m.finishes, finishCall{service, jobType, status, duration})
}

// fakeReporters records every Dispatch call.
type fakeReporters struct {
	mu    sync.Mutex
	calls []string
}

func (r *fakeReporters) Dispatch(_ context.Context, status string, _ job.Document, filedPath, jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, status+":"+jobID+":"+filedPath)
}

func newTestClient(t *testing.T) *storetest.FakeClient {
	t.Helper()
	client, err := storetest.NewFakeClient(t.TempDir(), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func postJob(t *testing.T, client *storetest.FakeClient, svc, jobKey string, doc job.Document) string {
	t.Helper()
	ctx := context.Background()
	jobPath := paths.PendingEntry(svc, jobKey) + "-doc"
	require.NoError(t, client.Put(ctx, jobPath, doc, nil))
	require.NoError(t, client.Put(ctx, paths.Pending(svc), map[string]any{jobKey: map[string]string{"_id": jobPath}}, paths.JobsTree()))
	return jobPath
}

func newRunner(svc, jobKey, jobPath string, client *storetest.FakeClient, workers fakeWorkers, metrics *fakeMetrics, reporters *fakeReporters) *Runner {
	return &Runner{
		ServiceName: svc,
		JobKey:      jobKey,
		JobPath:     jobPath,
		Client:      client,
		Workers:     workers,
		Metrics:     metrics,
		Reporters:   reporters,
	}
}

func TestRun_SuccessPath(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	jobPath := postJob(t, client, "crawler", "job-1", job.Document{
		Service: "crawler", Type: "fetch", Config: json.RawMessage(`{}`),
	})

	workers := fakeWorkers{"fetch": {Timeout: time.Second, Work: func(_ Context, _ job.Document) (json.RawMessage, error) {
		return json.RawMessage(`{"ok":true}`), nil
	}}}
	metrics := &fakeMetrics{}
	reporters := &fakeReporters{}

	r := newRunner("crawler", "job-1", jobPath, client, workers, metrics, reporters)
	require.NoError(t, r.Run(ctx))

	today := time.Now().UTC().Format("2006-01-02")
	filedPath := paths.DayIndexEntry("crawler", "success", today, "job-1")
	res, err := client.Get(ctx, filedPath)
	require.NoError(t, err)
	assert.NotEqual(t, "{}", string(res.Data))

	pendingGone, err := client.Head(ctx, paths.PendingEntry("crawler", "job-1"))
	require.NoError(t, err)
	assert.False(t, pendingGone)

	require.Len(t, metrics.finishes, 1)
	assert.Equal(t, "success", metrics.finishes[0].status)
	require.Len(t, reporters.calls, 1)
	assert.Contains(t, reporters.calls[0], "success:job-1")
}

func TestRun_WorkerFailureFilesTypedFailureMirror(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	jobPath := postJob(t, client, "crawler", "job-2", job.Document{
		Service: "crawler", Type: "fetch", Config: json.RawMessage(`{}`),
	})

	workers := fakeWorkers{"fetch": {Timeout: time.Second, Work: func(_ Context, _ job.Document) (json.RawMessage, error) {
		return nil, errors.New("fetch failed")
	}}}
	metrics := &fakeMetrics{}
	r := newRunner("crawler", "job-2", jobPath, client, workers, metrics, &fakeReporters{})
	require.NoError(t, r.Run(ctx))

	today := time.Now().UTC().Format("2006-01-02")
	typedPath := paths.TypedFailureEntry("crawler", string(errkind.WorkerFailure), today, "job-2")
	exists, err := client.Head(ctx, typedPath)
	require.NoError(t, err)
	assert.True(t, exists, "generic worker failures must mirror under typed-failure/worker-failure")

	require.Len(t, metrics.finishes, 1)
	assert.Equal(t, "failure", metrics.finishes[0].status)
}

func TestRun_TaggedWorkerErrorUsesDeclaredKind(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	jobPath := postJob(t, client, "crawler", "job-3", job.Document{
		Service: "crawler", Type: "fetch", Config: json.RawMessage(`{}`),
	})

	workers := fakeWorkers{"fetch": {Timeout: time.Second, Work: func(_ Context, _ job.Document) (json.RawMessage, error) {
		return nil, errkind.Tag(errors.New("store down"), errkind.StoreTransient)
	}}}
	r := newRunner("crawler", "job-3", jobPath, client, workers, &fakeMetrics{}, &fakeReporters{})
	require.NoError(t, r.Run(ctx))

	today := time.Now().UTC().Format("2006-01-02")
	typedPath := paths.TypedFailureEntry("crawler", string(errkind.StoreTransient), today, "job-3")
	exists, err := client.Head(ctx, typedPath)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRun_TimeoutFilesTimeoutKind(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	jobPath := postJob(t, client, "crawler", "job-4", job.Document{
		Service: "crawler", Type: "slow", Config: json.RawMessage(`{}`),
	})

	workers := fakeWorkers{"slow": {Timeout: 10 * time.Millisecond, Work: func(ctx Context, _ job.Document) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}}
	r := newRunner("crawler", "job-4", jobPath, client, workers, &fakeMetrics{}, &fakeReporters{})
	require.NoError(t, r.Run(ctx))

	today := time.Now().UTC().Format("2006-01-02")
	typedPath := paths.TypedFailureEntry("crawler", string(errkind.Timeout), today, "job-4")
	exists, err := client.Head(ctx, typedPath)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRun_NoWorkerRegisteredFilesNoWorkerKind(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	jobPath := postJob(t, client, "crawler", "job-5", job.Document{
		Service: "crawler", Type: "unregistered", Config: json.RawMessage(`{}`),
	})

	r := newRunner("crawler", "job-5", jobPath, client, fakeWorkers{}, &fakeMetrics{}, &fakeReporters{})
	require.NoError(t, r.Run(ctx))

	today := time.Now().UTC().Format("2006-01-02")
	typedPath := paths.TypedFailureEntry("crawler", string(errkind.NoWorker), today, "job-5")
	exists, err := client.Head(ctx, typedPath)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRun_InvalidJobFilesInvalidKind(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	jobPath := "bookmarks/services/crawler/jobs/pending/job-6-doc"
	require.NoError(t, client.Put(ctx, jobPath, map[string]string{}, nil))
	require.NoError(t, client.Put(ctx, paths.Pending("crawler"), map[string]any{"job-6": map[string]string{"_id": jobPath}}, paths.JobsTree()))

	r := newRunner("crawler", "job-6", jobPath, client, fakeWorkers{}, &fakeMetrics{}, &fakeReporters{})
	require.NoError(t, r.Run(ctx))

	today := time.Now().UTC().Format("2006-01-02")
	typedPath := paths.TypedFailureEntry("crawler", string(errkind.Invalid), today, "job-6")
	exists, err := client.Head(ctx, typedPath)
	require.NoError(t, err)
	assert.True(t, exists)

	jobRes, err := client.Get(ctx, jobPath)
	require.NoError(t, err)
	var stored struct {
		Result json.RawMessage `json:"result"`
	}
	require.NoError(t, json.Unmarshal(jobRes.Data, &stored))
	assert.JSONEq(t, "{}", string(stored.Result), "an invalid job must file with an empty result, not an error body")
}

func TestRun_WorkerPanicIsRecoveredAsFailure(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	jobPath := postJob(t, client, "crawler", "job-7", job.Document{
		Service: "crawler", Type: "panicky", Config: json.RawMessage(`{}`),
	})

	workers := fakeWorkers{"panicky": {Timeout: time.Second, Work: func(_ Context, _ job.Document) (json.RawMessage, error) {
		panic("boom")
	}}}
	metrics := &fakeMetrics{}
	r := newRunner("crawler", "job-7", jobPath, client, workers, metrics, &fakeReporters{})
	require.NoError(t, r.Run(ctx))

	require.Len(t, metrics.finishes, 1)
	assert.Equal(t, "failure", metrics.finishes[0].status)
}

func TestRun_AlreadyTerminalJobShortCircuits(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	workerCalled := false
	jobPath := postJob(t, client, "crawler", "job-8", job.Document{
		Service: "crawler", Type: "fetch", Config: json.RawMessage(`{}`), Status: job.StatusSuccess,
		Result: json.RawMessage(`{"ok":true}`),
	})

	workers := fakeWorkers{"fetch": {Timeout: time.Second, Work: func(_ Context, _ job.Document) (json.RawMessage, error) {
		workerCalled = true
		return json.RawMessage(`{}`), nil
	}}}
	r := newRunner("crawler", "job-8", jobPath, client, workers, &fakeMetrics{}, &fakeReporters{})
	require.NoError(t, r.Run(ctx))

	assert.False(t, workerCalled, "an already-terminal job must not re-invoke its worker")
}

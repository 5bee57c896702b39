package reporter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/docjobs/internal/job"
)

func TestDispatcher_DispatchesOnlyMatchingStatus(t *testing.T) {
	d := NewDispatcher(nil)

	var mu sync.Mutex
	var calls int
	d.Register("test-kind", func(ctx context.Context, params map[string]any, finalJob job.Document, filedPath, jobID string) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})
	d.Add(Reporter{TargetStatus: "success", Kind: "test-kind"})
	d.Add(Reporter{TargetStatus: "failure", Kind: "test-kind"})

	d.Dispatch(context.Background(), "success", job.Document{}, "path", "job-1")

	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}

func TestDispatcher_UnregisteredKindIsSkippedWithoutPanic(t *testing.T) {
	d := NewDispatcher(nil)
	d.Add(Reporter{TargetStatus: "success", Kind: "unregistered-kind"})

	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), "success", job.Document{}, "path", "job-1")
	})
}

func TestDispatcher_HandlerErrorIsSwallowed(t *testing.T) {
	d := NewDispatcher(nil)
	d.Register("failing-kind", func(ctx context.Context, params map[string]any, finalJob job.Document, filedPath, jobID string) error {
		return assert.AnError
	})
	d.Add(Reporter{TargetStatus: "success", Kind: "failing-kind"})

	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), "success", job.Document{}, "path", "job-1")
	})
}

func TestDispatcher_InvokesInRegistrationOrder(t *testing.T) {
	d := NewDispatcher(nil)
	var order []string
	d.Register("first", func(ctx context.Context, params map[string]any, finalJob job.Document, filedPath, jobID string) error {
		order = append(order, "first")
		return nil
	})
	d.Register("second", func(ctx context.Context, params map[string]any, finalJob job.Document, filedPath, jobID string) error {
		order = append(order, "second")
		return nil
	})
	d.Add(Reporter{TargetStatus: "success", Kind: "first"})
	d.Add(Reporter{TargetStatus: "success", Kind: "second"})

	d.Dispatch(context.Background(), "success", job.Document{}, "path", "job-1")

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestChatWebhookHandler_MissingURLFails(t *testing.T) {
	err := chatWebhookHandler(context.Background(), map[string]any{}, job.Document{}, "path", "job-1")
	require.Error(t, err)
}

func TestChatWebhookHandler_PostsSummaryToConfiguredURL(t *testing.T) {
	var receivedBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(body)
		receivedBody = body
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := chatWebhookHandler(context.Background(), map[string]any{"url": server.URL}, job.Document{
		Service: "crawler", Type: "fetch", Status: job.StatusSuccess,
	}, "crawler/success/day-index/2026-07-31/job-1", "job-1")

	require.NoError(t, err)
	assert.Contains(t, string(receivedBody), "job-1")
}

func TestChatWebhookHandler_NonTwoXXIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := chatWebhookHandler(context.Background(), map[string]any{"url": server.URL}, job.Document{}, "path", "job-1")
	require.Error(t, err)
}

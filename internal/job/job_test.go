package job

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/docjobs/internal/storetest"
)

func newFake(t *testing.T) *storetest.FakeClient {
	t.Helper()
	client, err := storetest.NewFakeClient(t.TempDir(), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestLoad_ValidJob(t *testing.T) {
	ctx := context.Background()
	client := newFake(t)

	require.NoError(t, client.Put(ctx, "jobs/abc", Document{
		ID:      "abc",
		Service: "crawler",
		Type:    "fetch",
		Config:  json.RawMessage(`{"url":"https://example.com"}`),
	}, nil))

	rec, err := Load(ctx, client, "jobs/abc")
	require.NoError(t, err)
	assert.True(t, rec.IsJob)
	assert.Equal(t, "crawler", rec.Doc.Service)
	assert.Equal(t, "fetch", rec.Doc.Type)
}

func TestLoad_MissingRequiredFieldFailsValidation(t *testing.T) {
	ctx := context.Background()
	client := newFake(t)

	require.NoError(t, client.Put(ctx, "jobs/bad", map[string]string{"service": "crawler"}, nil))

	rec, err := Load(ctx, client, "jobs/bad")
	require.NoError(t, err)
	assert.False(t, rec.IsJob)
	assert.Equal(t, "jobs/bad", rec.Path)
}

func TestLoad_UnparseableBodyFailsValidation(t *testing.T) {
	ctx := context.Background()
	client := newFake(t)

	require.NoError(t, client.Put(ctx, "jobs/garbled", "not-an-object", nil))

	rec, err := Load(ctx, client, "jobs/garbled")
	require.NoError(t, err)
	assert.False(t, rec.IsJob)
}

func TestLoad_RetriesOnceBeforeFailing(t *testing.T) {
	// A creation-before-link race exposes an empty document on the first
	// read; Load retries once rather than failing the job immediately.
	ctx := context.Background()
	client := newFake(t)

	require.NoError(t, client.Put(ctx, "jobs/racy", map[string]string{}, nil))
	go func() {
		time.Sleep(5 * time.Millisecond)
		_ = client.Put(ctx, "jobs/racy", Document{
			Service: "crawler",
			Type:    "fetch",
			Config:  json.RawMessage(`{}`),
		}, nil)
	}()

	// Load only retries once synchronously with no delay, so this
	// exercises the retry path without depending on the goroutine timing;
	// the test only checks that Load ends without an error.
	_, err := Load(ctx, client, "jobs/racy")
	require.NoError(t, err)
}

func TestNewErrorResult(t *testing.T) {
	res := NewErrorResult("timeout", "worker exceeded its configured timeout", "")
	assert.Equal(t, "timeout", res.Name)
	assert.Equal(t, "worker exceeded its configured timeout", res.Message)
	assert.Empty(t, res.Stack)
}

func TestFormatTime_IsRFC3339Nano(t *testing.T) {
	ts := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	formatted := FormatTime(ts)
	parsed, err := time.Parse(time.RFC3339Nano, formatted)
	require.NoError(t, err)
	assert.True(t, ts.Equal(parsed))
}

package runner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/docjobs/internal/common"
	"github.com/ternarybob/docjobs/internal/job"
	"github.com/ternarybob/docjobs/internal/store"
)

// UpdateLevel is one of the four levels a worker can post an update at.
// Info and Error always post; Debug and Trace only post when the Runner
// was configured with them enabled.
type UpdateLevel int

const (
	LevelInfo UpdateLevel = iota
	LevelError
	LevelDebug
	LevelTrace
)

// UpdateLogger appends entries to one job's updates map. Every append is
// a single store Put keyed by a freshly minted K-sortable update key, so
// updates sort by creation time to millisecond precision; two updates
// minted in the same millisecond sort by their random key tail.
type UpdateLogger struct {
	client       store.Client
	jobPath      string
	debugEnabled bool
	traceEnabled bool
}

func newUpdateLogger(client store.Client, jobPath string, debug, trace bool) *UpdateLogger {
	return &UpdateLogger{client: client, jobPath: jobPath, debugEnabled: debug, traceEnabled: trace}
}

// Post appends one update at level with the given status string and
// optional JSON meta. Debug/Trace posts are silently skipped when their
// level isn't enabled.
func (u *UpdateLogger) Post(ctx context.Context, level UpdateLevel, status string, meta any) error {
	switch level {
	case LevelDebug:
		if !u.debugEnabled {
			return nil
		}
	case LevelTrace:
		if !u.traceEnabled {
			return nil
		}
	}

	var metaJSON json.RawMessage
	if meta != nil {
		b, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshal update meta: %w", err)
		}
		metaJSON = b
	}

	key := common.NewKey()
	update := job.Update{
		Status: status,
		Time:   job.FormatTime(nowFunc()),
		Meta:   metaJSON,
	}
	delta := map[string]map[string]job.Update{"updates": {key: update}}
	if err := u.client.Put(ctx, u.jobPath, delta, nil); err != nil {
		return fmt.Errorf("post update %q for %s: %w", status, u.jobPath, err)
	}
	return nil
}

// Info posts an always-on informational update.
func (u *UpdateLogger) Info(ctx context.Context, status string, meta any) error {
	return u.Post(ctx, LevelInfo, status, meta)
}

// Error posts an always-on error update.
func (u *UpdateLogger) Error(ctx context.Context, status string, meta any) error {
	return u.Post(ctx, LevelError, status, meta)
}

// Debug posts a debug-level update, a no-op unless debug is enabled.
func (u *UpdateLogger) Debug(ctx context.Context, status string, meta any) error {
	return u.Post(ctx, LevelDebug, status, meta)
}

// Trace posts a trace-level update, a no-op unless trace is enabled.
func (u *UpdateLogger) Trace(ctx context.Context, status string, meta any) error {
	return u.Post(ctx, LevelTrace, status, meta)
}

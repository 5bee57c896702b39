// Package job defines the typed view of one job document and the
// validate-with-retry load used by the Runner.
package job

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/docjobs/internal/errkind"
	"github.com/ternarybob/docjobs/internal/store"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Update is one append-only entry in a job's updates log.
type Update struct {
	Status string          `json:"status"`
	Time   string          `json:"time"` // ISO-8601
	Meta   json.RawMessage `json:"meta,omitempty"`
}

// ErrorResult is the serialized-error shape written to result for
// failures: {name, message, stack, cause?}.
type ErrorResult struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
	Cause   string `json:"cause,omitempty"`
}

// Document is the authoritative job record as stored.
type Document struct {
	ID      string                    `json:"id"`
	Service string                    `json:"service"`
	Type    string                    `json:"type"`
	Config  json.RawMessage           `json:"config"`
	Status  Status                    `json:"status,omitempty"`
	Result  json.RawMessage           `json:"result,omitempty"`
	Updates map[string]Update         `json:"updates,omitempty"`
}

// Record is a loaded job document plus whether it passed validation.
type Record struct {
	ID     string
	Path   string
	Doc    Document
	IsJob  bool
}

// Load fetches the job document at path and validates it has
// {service, type, config}. A creation-before-link race can momentarily
// expose an empty document, so a validation failure is retried once
// before the record is flagged IsJob=false (to be filed as a failure
// with empty result, kind=errkind.Invalid).
func Load(ctx context.Context, client store.Client, path string) (Record, error) {
	rec, ok, err := loadOnce(ctx, client, path)
	if err != nil {
		return Record{}, fmt.Errorf("load job %s: %w", path, err)
	}
	if ok {
		return rec, nil
	}

	// Validation failed; re-read once before giving up.
	rec, ok, err = loadOnce(ctx, client, path)
	if err != nil {
		return Record{}, fmt.Errorf("load job %s (retry): %w", path, err)
	}
	if ok {
		return rec, nil
	}

	return Record{Path: path, IsJob: false}, nil
}

func loadOnce(ctx context.Context, client store.Client, path string) (Record, bool, error) {
	result, err := client.Get(ctx, path)
	if err != nil {
		return Record{}, false, fmt.Errorf("%w: %v", errkind.ErrStoreTransient, err)
	}

	var doc Document
	if err := json.Unmarshal(result.Data, &doc); err != nil {
		return Record{Path: path, IsJob: false}, false, nil
	}

	if doc.Service == "" || doc.Type == "" || doc.Config == nil {
		return Record{Path: path, IsJob: false}, false, nil
	}

	return Record{ID: doc.ID, Path: path, Doc: doc, IsJob: true}, true, nil
}

// NewErrorResult builds the serialized-error form for a failure result.
func NewErrorResult(name, message, stack string) ErrorResult {
	return ErrorResult{Name: name, Message: message, Stack: stack}
}

// FormatTime renders t as the ISO-8601 string jobs store in updates and
// use as their finish time.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

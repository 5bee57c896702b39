package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/docjobs/internal/common"
	"github.com/ternarybob/docjobs/internal/paths"
	"github.com/ternarybob/docjobs/internal/store"
)

// runRetry copies {service, type, config} from a failed job into a fresh
// document and links it under pending, giving the job a new run without
// mutating the original failed record. The failed job may have been filed
// on any past day, so its entry is located by scanning the failure day
// index backward from today.
func runRetry(ctx context.Context, client store.Client, svc, jobID string, logger arbor.ILogger) error {
	linkPath, err := findFiledEntry(ctx, client, svc, "failure", jobID)
	if err != nil {
		return err
	}
	logger.Debug().Str("path", linkPath).Msg("retrying job")
	linkRes, err := client.Get(ctx, linkPath)
	if err != nil {
		return fmt.Errorf("get %s: %w", linkPath, err)
	}

	var link struct {
		ID string `json:"_id"`
	}
	if err := json.Unmarshal(linkRes.Data, &link); err != nil || link.ID == "" {
		return fmt.Errorf("%s has no job link", linkPath)
	}

	failedRes, err := client.Get(ctx, link.ID)
	if err != nil {
		return fmt.Errorf("get failed job %s: %w", link.ID, err)
	}

	var failed struct {
		Service string          `json:"service"`
		Type    string          `json:"type"`
		Config  json.RawMessage `json:"config"`
	}
	if err := json.Unmarshal(failedRes.Data, &failed); err != nil {
		return fmt.Errorf("parse failed job %s: %w", link.ID, err)
	}

	retryDoc := map[string]any{
		"service": failed.Service,
		"type":    failed.Type,
		"config":  failed.Config,
	}

	posted, err := client.Post(ctx, "resources", retryDoc)
	if err != nil {
		return fmt.Errorf("post retry job: %w", err)
	}

	newKey := common.NewKey()
	retryLink := map[string]any{newKey: map[string]string{"_id": posted.Location}}
	pendingPath := paths.Pending(svc)
	if err := client.Put(ctx, pendingPath, retryLink, paths.JobsTree()); err != nil {
		return fmt.Errorf("link retry job under %s: %w", pendingPath, err)
	}

	fmt.Printf("retried %s as %s\n", jobID, newKey)
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/docjobs/internal/paths"
	"github.com/ternarybob/docjobs/internal/store"
)

// runPrint resolves jobID's link under the named list (pending, success,
// or failure) and pretty-prints the job document it points to. For the
// filed lists, the entry may have been written on any past day, so it's
// located by scanning the status's day index backward from today.
func runPrint(ctx context.Context, client store.Client, svc, list, jobID string, logger arbor.ILogger) error {
	var linkPath string
	switch list {
	case "pending":
		linkPath = paths.PendingEntry(svc, jobID)
	case "success", "failure":
		found, err := findFiledEntry(ctx, client, svc, list, jobID)
		if err != nil {
			return err
		}
		linkPath = found
	default:
		return fmt.Errorf("unknown list %q (want pending, success, or failure)", list)
	}

	logger.Debug().Str("path", linkPath).Msg("printing job")
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

	jobRes, err := client.Get(ctx, link.ID)
	if err != nil {
		return fmt.Errorf("get job %s: %w", link.ID, err)
	}

	var pretty map[string]any
	if err := json.Unmarshal(jobRes.Data, &pretty); err != nil {
		return fmt.Errorf("parse job %s: %w", link.ID, err)
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return fmt.Errorf("format job %s: %w", link.ID, err)
	}
	fmt.Println(string(out))
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/docjobs/internal/paths"
	"github.com/ternarybob/docjobs/internal/store"
)

// runList prints every job-key currently under svc's pending list.
func runList(ctx context.Context, client store.Client, svc string, logger arbor.ILogger) error {
	pendingPath := paths.Pending(svc)
	logger.Debug().Str("path", pendingPath).Msg("listing pending jobs")
	res, err := client.Get(ctx, pendingPath)
	if err != nil {
		return fmt.Errorf("list pending for %s: %w", svc, err)
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(res.Data, &entries); err != nil {
		return fmt.Errorf("parse pending list for %s: %w", svc, err)
	}
	for _, meta := range []string{"_id", "_rev", "_meta", "_type"} {
		delete(entries, meta)
	}

	if len(entries) == 0 {
		fmt.Println("pending: (empty)")
		return nil
	}
	fmt.Printf("pending (%d):\n", len(entries))
	for jobKey := range entries {
		fmt.Printf("  %s\n", jobKey)
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/docjobs/internal/common"
	"github.com/ternarybob/docjobs/internal/paths"
	"github.com/ternarybob/docjobs/internal/store"
)

// dayLookbackLimit bounds how many calendar days print/retry scan backward
// looking for a filed job, so an unknown jobId fails in bounded time rather
// than scanning the index forever.
const dayLookbackLimit = 90

// findFiledEntry scans status's day index backward from today for jobID,
// returning the path of the first day whose entry exists. Jobs normally
// finish on a day other than today, so a caller can't assume "today" is
// where a past success/failure was filed.
func findFiledEntry(ctx context.Context, client store.Client, svc, status, jobID string) (string, error) {
	now := time.Now().UTC()
	for i := 0; i < dayLookbackLimit; i++ {
		day := common.DayIndex(now.AddDate(0, 0, -i))
		entryPath := paths.DayIndexEntry(svc, status, day, jobID)
		exists, err := client.Head(ctx, entryPath)
		if err != nil {
			return "", fmt.Errorf("head %s: %w", entryPath, err)
		}
		if exists {
			return entryPath, nil
		}
	}
	return "", fmt.Errorf("%s/%s not found in the last %d days", status, jobID, dayLookbackLimit)
}

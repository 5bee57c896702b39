package report

import "time"

// nowFunc is swapped out in tests that need deterministic cron windows.
var nowFunc = time.Now

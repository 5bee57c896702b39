package runner

import "time"

// nowFunc is swapped out in tests that need deterministic timestamps.
var nowFunc = time.Now

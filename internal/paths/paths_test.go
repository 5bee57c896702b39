package paths

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPending_IsUnderJobsRoot(t *testing.T) {
	assert.Equal(t, "bookmarks/services/crawler/jobs/pending", Pending("crawler"))
}

func TestPendingEntry_AppendsJobKey(t *testing.T) {
	assert.Equal(t, "bookmarks/services/crawler/jobs/pending/job-1", PendingEntry("crawler", "job-1"))
}

func TestDayIndexEntry_BuildsFullPath(t *testing.T) {
	assert.Equal(t, "bookmarks/services/crawler/jobs/success/day-index/2026-07-31/job-1",
		DayIndexEntry("crawler", "success", "2026-07-31", "job-1"))
}

func TestTypedFailureEntry_MirrorsUnderFailureKind(t *testing.T) {
	assert.Equal(t, "bookmarks/services/crawler/jobs/typed-failure/timeout/day-index/2026-07-31/job-1",
		TypedFailureEntry("crawler", "timeout", "2026-07-31", "job-1"))
}

func TestReportEntry_BuildsFullPath(t *testing.T) {
	assert.Equal(t, "bookmarks/services/crawler/jobs/reports/daily-summary/day-index/2026-07-31/job-1",
		ReportEntry("crawler", "daily-summary", "2026-07-31", "job-1"))
}

func TestJobsTree_HasPendingSuccessFailureChildren(t *testing.T) {
	tree := JobsTree()
	assert.Equal(t, MediaTypeJobsContainer, tree.MediaType)
	assert.Contains(t, tree.Children, "pending")
	assert.Contains(t, tree.Children, "success")
	assert.Contains(t, tree.Children, "failure")
}

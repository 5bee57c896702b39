// Package paths builds the store paths and ensure-templates the job
// engine's layout contract fixes: one service namespace holding pending,
// success/failure day indexes, typed-failure mirrors, and per-report day
// indexes.
package paths

import (
	"path"

	"github.com/ternarybob/docjobs/internal/store"
)

// Media types stamped on containers during Ensure, per the store path
// contract.
const (
	MediaTypeServicesRoot     = "application/vnd.oada.services.1+json"
	MediaTypeService          = "application/vnd.oada.service.1+json"
	MediaTypeJobsContainer    = "application/vnd.oada.service.jobs.1+json"
	MediaTypeJob              = "application/vnd.oada.service.job.1+json"
	MediaTypeReportsContainer = "application/vnd.oada.service.reports.1+json"
	MediaTypeReport           = "application/vnd.oada.service.report.1+json"
)

// ServiceRoot is /bookmarks/services/<svc>.
func ServiceRoot(svc string) string { return path.Join("bookmarks", "services", svc) }

// JobsRoot is /bookmarks/services/<svc>/jobs.
func JobsRoot(svc string) string { return path.Join(ServiceRoot(svc), "jobs") }

// Pending is the pending-jobs list for svc.
func Pending(svc string) string { return path.Join(JobsRoot(svc), "pending") }

// PendingEntry is one job-key's slot under Pending.
func PendingEntry(svc, jobKey string) string { return path.Join(Pending(svc), jobKey) }

// DayIndexRoot is "success" or "failure"'s day-index container for svc.
func DayIndexRoot(svc, status string) string { return path.Join(JobsRoot(svc), status, "day-index") }

// DayIndex is the container for one calendar day under status's index.
func DayIndex(svc, status, day string) string { return path.Join(DayIndexRoot(svc, status), day) }

// DayIndexEntry is one job-key's filed slot for a given day.
func DayIndexEntry(svc, status, day, jobKey string) string {
	return path.Join(DayIndex(svc, status, day), jobKey)
}

// TypedFailureRoot is the secondary failure index keyed by failure kind.
func TypedFailureRoot(svc, kind string) string {
	return path.Join(JobsRoot(svc), "typed-failure", kind, "day-index")
}

// TypedFailureDayIndex is the container for one calendar day under a
// failure kind's secondary index.
func TypedFailureDayIndex(svc, kind, day string) string {
	return path.Join(TypedFailureRoot(svc, kind), day)
}

// TypedFailureEntry mirrors a failed job's filing under its failure kind.
func TypedFailureEntry(svc, kind, day, jobKey string) string {
	return path.Join(TypedFailureDayIndex(svc, kind, day), jobKey)
}

// ReportsRoot is the container for all of svc's reports.
func ReportsRoot(svc string) string { return path.Join(JobsRoot(svc), "reports") }

// ReportDayIndex is one report's container for a given day.
func ReportDayIndex(svc, reportName, day string) string {
	return path.Join(ReportsRoot(svc), reportName, "day-index", day)
}

// ReportEntry is one job's row under a report's day index.
func ReportEntry(svc, reportName, day, jobKey string) string {
	return path.Join(ReportDayIndex(svc, reportName, day), jobKey)
}

// JobsTree describes the container hierarchy Queue.Start ensures exists
// before it reads or watches pending: the jobs container and its
// pending/success/failure children.
func JobsTree() *store.TreeNode {
	return &store.TreeNode{
		MediaType: MediaTypeJobsContainer,
		Children: map[string]*store.TreeNode{
			"pending": {MediaType: MediaTypeJobsContainer},
			"success": {MediaType: MediaTypeJobsContainer},
			"failure": {MediaType: MediaTypeJobsContainer},
		},
	}
}

// ReportTree describes the container Report.Start ensures exists for one
// report's row collection.
func ReportTree() *store.TreeNode {
	return &store.TreeNode{MediaType: MediaTypeReport}
}

// DayIndexTree describes the single container Runner.finish ensures for
// one status's day-index bucket.
func DayIndexTree() *store.TreeNode {
	return &store.TreeNode{MediaType: MediaTypeJobsContainer}
}

// Package report implements the per-report row emission and cron
// aggregation subsystem: two list-watches over a service's success and
// failure day-indexes emit a row per finished job, and a cron timer
// periodically renders the rows accumulated since the last tick into a
// CSV attachment mailed via a downstream email-send job.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/docjobs/internal/common"
	"github.com/ternarybob/docjobs/internal/job"
	"github.com/ternarybob/docjobs/internal/paths"
	"github.com/ternarybob/docjobs/internal/store"
)

// state is the Report lifecycle state, per §4.6.3: only running consumes
// events and fires timers.
type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopped
)

// EmailAttachment is one attachment on the email-job template produced
// per cron tick; Content is filled in with the base64 CSV by Report.
type EmailAttachment struct {
	Filename string `json:"filename"`
	Type     string `json:"type"`
	Content  string `json:"content"`
}

// EmailTemplate is the caller-supplied shape for the downstream email-job
// config; Report sets Attachments[0].Content and posts it as-is.
type EmailTemplate struct {
	From        string            `json:"from"`
	To          EmailRecipient    `json:"to"`
	Subject     string            `json:"subject"`
	Text        string            `json:"text"`
	Attachments []EmailAttachment `json:"attachments"`
}

type EmailRecipient struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Config describes one report's behavior.
type Config struct {
	Name string

	// Schedule is a six-field, seconds-precision cron expression.
	Schedule string

	// Columns lists the jobMappings in output order; JobMappings maps
	// each column name to either a JSON pointer into the job document,
	// or the literal "errorMappings" sentinel.
	Columns     []string
	JobMappings map[string]string

	// ErrorMappings maps a failure kind to its displayed label; "success"
	// and "unknown" are conventional keys consulted for success rows and
	// failures whose kind has no explicit mapping.
	ErrorMappings map[string]string

	// TypeFilter, if non-empty, restricts row emission to jobs whose
	// type is in the set.
	TypeFilter map[string]bool

	// Filter, if set, is an additional user predicate over the job.
	Filter func(job.Document) bool

	// SendEmpty forces an email even when zero rows accumulated in a
	// window; the default is to skip sending.
	SendEmpty bool

	// DownstreamService is the service namespace an email-job is linked
	// under (its jobs/pending list).
	DownstreamService string

	// Email builds the email-job template for one cron tick, before its
	// CSV attachment content is filled in.
	Email func() EmailTemplate
}

// Report drives one named report's row emission and cron aggregation for
// one service namespace.
type Report struct {
	serviceName string
	client      store.Client
	cfg         Config
	logger      arbor.ILogger
	schedule    cron.Schedule

	mu       sync.Mutex
	st       state
	lastCron time.Time
	cancel   context.CancelFunc
	unwatch  []func() error
	wg       sync.WaitGroup
}

// New constructs a Report for serviceName bound to client. cfg.Schedule
// must already have passed common.ValidateSchedule.
func New(serviceName string, client store.Client, cfg Config, logger arbor.ILogger) (*Report, error) {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse report %s schedule: %w", cfg.Name, err)
	}
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Report{
		serviceName: serviceName,
		client:      client,
		cfg:         cfg,
		logger:      logger,
		schedule:    schedule,
		st:          stateIdle,
	}, nil
}

// Start ensures the report's container exists, begins watching the
// success and failure day-index roots for new items, and arms the cron
// timer. Only a running Report consumes events.
func (r *Report) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.st == stateRunning {
		r.mu.Unlock()
		return fmt.Errorf("report %s already running", r.cfg.Name)
	}
	reportsRoot := paths.ReportsRoot(r.serviceName)
	if err := r.client.Ensure(ctx, reportsRoot+"/"+r.cfg.Name, paths.ReportTree()); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("ensure report container %s: %w", r.cfg.Name, err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.lastCron = nowFunc()
	r.st = stateRunning
	r.mu.Unlock()

	for _, status := range []string{"success", "failure"} {
		if err := r.watchStatus(runCtx, status); err != nil {
			return fmt.Errorf("watch %s day index for report %s: %w", status, r.cfg.Name, err)
		}
	}

	r.wg.Add(1)
	common.SafeGo(r.logger, "report-cron:"+r.cfg.Name, func() {
		defer r.wg.Done()
		r.runCron(runCtx)
	})

	return nil
}

// Stop transitions the Report to stopped: its watches and cron timer
// shut down, and any in-flight cron handler is allowed to complete.
func (r *Report) Stop() {
	r.mu.Lock()
	if r.st != stateRunning {
		r.mu.Unlock()
		return
	}
	r.st = stateStopped
	cancel := r.cancel
	unwatch := append([]func() error(nil), r.unwatch...)
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, u := range unwatch {
		if err := u(); err != nil {
			r.logger.Warn().Err(err).Str("report", r.cfg.Name).Msg("failed to unwatch report source")
		}
	}
	r.wg.Wait()
}

func (r *Report) watchStatus(ctx context.Context, status string) error {
	root := paths.DayIndexRoot(r.serviceName, status)
	events, unwatch, err := r.client.Watch(ctx, root, "")
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.unwatch = append(r.unwatch, unwatch)
	r.mu.Unlock()

	r.wg.Add(1)
	common.SafeGo(r.logger, "report-watch:"+r.cfg.Name+":"+status, func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.Type != store.ChangeMerge {
					continue
				}
				r.emitRows(ctx, status, ev)
			}
		}
	})
	return nil
}

// emitRows handles one merge event on a day-index root: ev.Path carries
// the day the items were filed under, and ev.Body maps jobKey -> link.
func (r *Report) emitRows(ctx context.Context, status string, ev store.ChangeEvent) {
	day := lastPathSegment(ev.Path)
	if day == "" {
		return
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(ev.Body, &entries); err != nil {
		r.logger.Warn().Err(err).Str("report", r.cfg.Name).Msg("failed to parse day-index merge body")
		return
	}

	for jobKey := range entries {
		if err := r.emitRow(ctx, status, day, jobKey); err != nil {
			r.logger.Warn().Err(err).Str("report", r.cfg.Name).Str("job", jobKey).Msg("failed to emit report row")
		}
	}
}

func (r *Report) emitRow(ctx context.Context, status, day, jobKey string) error {
	filedPath := paths.DayIndexEntry(r.serviceName, status, day, jobKey)
	linkRes, err := r.client.Get(ctx, filedPath)
	if err != nil {
		return fmt.Errorf("get filed link %s: %w", filedPath, err)
	}
	var l struct {
		ID string `json:"_id"`
	}
	if err := json.Unmarshal(linkRes.Data, &l); err != nil || l.ID == "" {
		return fmt.Errorf("filed entry %s missing job link", filedPath)
	}

	jobRes, err := r.client.Get(ctx, l.ID)
	if err != nil {
		return fmt.Errorf("get job %s: %w", l.ID, err)
	}
	var doc job.Document
	if err := json.Unmarshal(jobRes.Data, &doc); err != nil {
		return fmt.Errorf("unmarshal job %s: %w", l.ID, err)
	}

	if r.cfg.TypeFilter != nil && !r.cfg.TypeFilter[doc.Type] {
		return nil
	}
	if r.cfg.Filter != nil && !r.cfg.Filter(doc) {
		return nil
	}

	failKind := failKindOf(doc)
	row := r.buildRow(jobRes.Data, status, failKind)

	rowPath := paths.ReportEntry(r.serviceName, r.cfg.Name, day, jobKey)
	return r.client.Put(ctx, rowPath, row, nil)
}

// buildRow resolves every configured column against the job document,
// special-casing the "errorMappings" pointer per §4.6.1.
func (r *Report) buildRow(docRaw json.RawMessage, status, failKind string) map[string]string {
	row := make(map[string]string, len(r.cfg.Columns))
	for _, col := range r.cfg.Columns {
		pointer := r.cfg.JobMappings[col]
		if pointer == "errorMappings" {
			row[col] = r.errorMappingFor(status, failKind)
			continue
		}
		row[col] = resolvePointer(docRaw, pointer)
	}
	return row
}

func (r *Report) errorMappingFor(status, failKind string) string {
	if status == "success" {
		if v, ok := r.cfg.ErrorMappings["success"]; ok {
			return v
		}
		return "Success"
	}
	if failKind != "" {
		if v, ok := r.cfg.ErrorMappings[failKind]; ok {
			return v
		}
	}
	if v, ok := r.cfg.ErrorMappings["unknown"]; ok {
		return v
	}
	return "Other Error"
}

// failKindOf returns the failure kind recorded in the job's result.name,
// which Runner.finish sets to the filed kind. The job document itself
// carries no top-level failKind. It returns "" if result is not an object.
func failKindOf(doc job.Document) string {
	var result struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(doc.Result, &result); err != nil {
		return ""
	}
	return result.Name
}

func lastPathSegment(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}

// runCron fires Report.schedule, never letting a slow aggregation delay
// arming the next tick: each fire computes its own window and runs its
// aggregation and email-job post on a separate goroutine, which Stop
// waits for and does not cancel.
func (r *Report) runCron(ctx context.Context) {
	for {
		r.mu.Lock()
		last := r.lastCron
		r.mu.Unlock()

		next := r.schedule.Next(last)
		wait := next.Sub(nowFunc())
		if wait < 0 {
			wait = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		windowStart, windowEnd := last, next
		r.wg.Add(1)
		common.SafeGo(r.logger, "report-cron-fire:"+r.cfg.Name, func() {
			defer r.wg.Done()
			if err := r.fireCron(context.WithoutCancel(ctx), windowStart, windowEnd); err != nil {
				r.logger.Warn().Err(err).Str("report", r.cfg.Name).Msg("cron aggregation failed")
			}
		})

		r.mu.Lock()
		r.lastCron = next
		r.mu.Unlock()
	}
}

// fireCron implements §4.6.2: aggregate rows in [windowStart, windowEnd),
// render to CSV, and post an email-job to the downstream service.
func (r *Report) fireCron(ctx context.Context, windowStart, windowEnd time.Time) error {
	rows, err := r.collectRows(ctx, windowStart, windowEnd)
	if err != nil {
		return err
	}

	if len(rows) == 0 && !r.cfg.SendEmpty {
		return nil
	}

	encoded, err := RenderCSV(r.cfg.Columns, rows)
	if err != nil {
		return fmt.Errorf("render csv: %w", err)
	}

	tmpl := r.cfg.Email()
	if len(tmpl.Attachments) == 0 {
		tmpl.Attachments = []EmailAttachment{{Filename: r.cfg.Name + ".csv", Type: "text/csv"}}
	}
	tmpl.Attachments[0].Content = encoded
	if tmpl.Attachments[0].Type == "" {
		tmpl.Attachments[0].Type = "text/csv"
	}

	return r.postEmailJob(ctx, tmpl)
}

// collectRows reads every calendar day overlapping [windowStart, windowEnd)
// and concatenates their rows in day order, excluding entries whose
// embedded key timestamp falls at or after midnight of the day after d
// (a late write that arrived after the day's window had already closed).
func (r *Report) collectRows(ctx context.Context, windowStart, windowEnd time.Time) ([]map[string]string, error) {
	days := daysBetween(windowStart, windowEnd)
	var rows []map[string]string

	for _, day := range days {
		dayPath := paths.ReportDayIndex(r.serviceName, r.cfg.Name, day)
		res, err := r.client.Get(ctx, dayPath)
		if err != nil {
			return nil, fmt.Errorf("get report day index %s: %w", dayPath, err)
		}

		var entries map[string]json.RawMessage
		if err := json.Unmarshal(res.Data, &entries); err != nil {
			continue
		}

		cutoff := dayAfter(day)
		keys := make([]string, 0, len(entries))
		for k := range entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			if keyTime(k).After(cutoff) || keyTime(k).Equal(cutoff) {
				continue
			}
			var row map[string]string
			if err := json.Unmarshal(entries[k], &row); err != nil {
				continue
			}
			rows = append(rows, row)
		}
	}

	return rows, nil
}

// postEmailJob creates the email-job document under the downstream
// service's resources and links it into that service's pending list.
func (r *Report) postEmailJob(ctx context.Context, tmpl EmailTemplate) error {
	doc := map[string]any{
		"service": r.cfg.DownstreamService,
		"type":    "email",
		"config":  tmpl,
	}

	resourcesRoot := "resources"
	posted, err := r.client.Post(ctx, resourcesRoot, doc)
	if err != nil {
		return fmt.Errorf("post email job document: %w", err)
	}

	jobKey := common.NewKey()
	link := map[string]any{jobKey: map[string]string{"_id": posted.Location}}
	pendingPath := paths.Pending(r.cfg.DownstreamService)
	if err := r.client.Put(ctx, pendingPath, link, paths.JobsTree()); err != nil {
		return fmt.Errorf("link email job under %s: %w", pendingPath, err)
	}
	return nil
}

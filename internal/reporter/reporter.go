// Package reporter implements finish-reporter dispatch: an ordered,
// registration-based table of post-terminal notifiers keyed by target
// status, invoked by the Runner after filing.
package reporter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/docjobs/internal/common"
	"github.com/ternarybob/docjobs/internal/job"
)

// Kind names a finish-reporter transport. The set is open: new kinds
// register a Handler under a new Kind string rather than requiring a type
// switch anywhere in this package.
type Kind string

const KindChatWebhook Kind = "chat-webhook"

// Handler invokes one finish reporter's transport for a finalized job.
type Handler func(ctx context.Context, params map[string]any, finalJob job.Document, filedPath, jobID string) error

// Reporter is one configured finish reporter: the terminal status it
// fires for, its kind, and kind-specific parameters.
type Reporter struct {
	TargetStatus string
	Kind         Kind
	Params       map[string]any
}

// Dispatcher holds the ordered list of configured Reporters plus the
// registry of Kind -> Handler, and implements runner.ReporterDispatcher.
type Dispatcher struct {
	logger arbor.ILogger

	mu        sync.RWMutex
	reporters []Reporter
	handlers  map[Kind]Handler
}

// NewDispatcher builds a Dispatcher with the built-in chat-webhook kind
// registered.
func NewDispatcher(logger arbor.ILogger) *Dispatcher {
	if logger == nil {
		logger = common.GetLogger()
	}
	d := &Dispatcher{
		logger:   logger,
		handlers: make(map[Kind]Handler),
	}
	d.Register(KindChatWebhook, chatWebhookHandler)
	return d
}

// Register adds or replaces the Handler for kind.
func (d *Dispatcher) Register(kind Kind, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = handler
}

// Add appends r to the ordered list of configured reporters.
func (d *Dispatcher) Add(r Reporter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reporters = append(d.reporters, r)
}

// Dispatch implements runner.ReporterDispatcher: it invokes, in
// registration order, every reporter whose TargetStatus matches status.
// A reporter whose kind isn't registered, or whose Handler returns an
// error, is logged and skipped; dispatch failures never re-enter the
// finish procedure or affect job state.
func (d *Dispatcher) Dispatch(ctx context.Context, status string, finalJob job.Document, filedPath, jobID string) {
	d.mu.RLock()
	reporters := append([]Reporter(nil), d.reporters...)
	handlers := d.handlers
	d.mu.RUnlock()

	for _, r := range reporters {
		if r.TargetStatus != status {
			continue
		}
		handler, ok := handlers[r.Kind]
		if !ok {
			d.logger.Warn().Str("job", jobID).Str("kind", string(r.Kind)).Msg("finish reporter kind not registered, skipping")
			continue
		}
		if err := handler(ctx, r.Params, finalJob, filedPath, jobID); err != nil {
			d.logger.Warn().Err(err).Str("job", jobID).Str("kind", string(r.Kind)).Msg("finish reporter failed")
		}
	}
}

// chatBlock is one Slack-style block in a chat-webhook payload.
type chatBlock struct {
	Type string `json:"type"`
	Text any    `json:"text,omitempty"`
}

type chatAttachment struct {
	Blocks []chatBlock `json:"blocks"`
}

type chatPayload struct {
	Blocks      []chatBlock      `json:"blocks"`
	Attachments []chatAttachment `json:"attachments"`
}

// chatWebhookHandler POSTs a {blocks, attachments} JSON body describing
// the finalized job to params["url"]. A missing url is a missing
// required param and the reporter is skipped.
func chatWebhookHandler(ctx context.Context, params map[string]any, finalJob job.Document, filedPath, jobID string) error {
	url, _ := params["url"].(string)
	if url == "" {
		return fmt.Errorf("chat-webhook reporter missing required param %q", "url")
	}

	summary := fmt.Sprintf("Job %s (%s/%s) finished as %s", jobID, finalJob.Service, finalJob.Type, finalJob.Status)
	payload := chatPayload{
		Blocks: []chatBlock{{Type: "section", Text: map[string]string{"type": "mrkdwn", "text": summary}}},
		Attachments: []chatAttachment{{
			Blocks: []chatBlock{{Type: "section", Text: map[string]string{"type": "mrkdwn", "text": "Filed at " + filedPath}}},
		}},
	}

	return postJSON(ctx, url, payload)
}

func postJSON(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal chat-webhook payload: %w", err)
	}
	return doPost(ctx, url, body)
}

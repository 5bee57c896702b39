package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/docjobs/internal/common"
)

// Config describes how to reach the store: the oada-style connection
// parameters {domain, token} plus a per-request timeout.
type Config struct {
	BaseURL             string // e.g. "https://api.example.com"
	Token               string
	Timeout             time.Duration
	WatchReconnectDelay time.Duration // backoff before re-dialing a dropped watch socket
}

// HTTPClient is a REST+websocket-backed Client: ordinary document
// operations go over HTTP, and Watch opens a long-lived websocket
// subscription, reconnecting with backoff if the connection drops.
type HTTPClient struct {
	cfg        Config
	httpClient *http.Client
	logger     arbor.ILogger
}

// NewHTTPClient builds a store client bound to cfg. logger may be nil, in
// which case internal/common.GetLogger() is used.
func NewHTTPClient(cfg Config, logger arbor.ILogger) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.WatchReconnectDelay <= 0 {
		cfg.WatchReconnectDelay = 1 * time.Second
	}
	if logger == nil {
		logger = common.GetLogger()
	}
	return &HTTPClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

func (c *HTTPClient) url(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, fmt.Errorf("build %s request for %s: %w", method, path, err)
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *HTTPClient) Head(ctx context.Context, path string) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodHead, path, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("head %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("head %s: unexpected status %d", path, resp.StatusCode)
	}
	return true, nil
}

func (c *HTTPClient) Get(ctx context.Context, path string) (GetResult, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return GetResult{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return GetResult{}, fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return GetResult{}, fmt.Errorf("read body for %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		return GetResult{}, fmt.Errorf("get %s: unexpected status %d: %s", path, resp.StatusCode, string(data))
	}
	return GetResult{Data: json.RawMessage(data), Rev: resp.Header.Get("X-Rev")}, nil
}

func (c *HTTPClient) Put(ctx context.Context, path string, data any, tree *TreeNode) error {
	if tree != nil {
		if err := c.Ensure(ctx, path, tree); err != nil {
			return fmt.Errorf("ensure before put %s: %w", path, err)
		}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal put body for %s: %w", path, err)
	}
	req, err := c.newRequest(ctx, http.MethodPut, path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("put %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("put %s: unexpected status %d: %s", path, resp.StatusCode, string(body))
	}
	return nil
}

func (c *HTTPClient) Post(ctx context.Context, path string, data any) (PostResult, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return PostResult{}, fmt.Errorf("marshal post body for %s: %w", path, err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(payload))
	if err != nil {
		return PostResult{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return PostResult{}, fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return PostResult{}, fmt.Errorf("post %s: unexpected status %d: %s", path, resp.StatusCode, string(body))
	}
	return PostResult{Location: resp.Header.Get("Location")}, nil
}

func (c *HTTPClient) Delete(ctx context.Context, path string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("delete %s: unexpected status %d: %s", path, resp.StatusCode, string(body))
	}
	return nil
}

// Ensure walks tree depth-first, issuing a conditional PUT (via Head-then-
// Put) for any container the store doesn't already have, stamping each
// with its media type. Existing containers are left untouched.
func (c *HTTPClient) Ensure(ctx context.Context, path string, tree *TreeNode) error {
	if tree == nil {
		return nil
	}
	exists, err := c.Head(ctx, path)
	if err != nil {
		return fmt.Errorf("ensure head %s: %w", path, err)
	}
	if !exists {
		req, err := c.newRequest(ctx, http.MethodPut, path, bytes.NewReader([]byte("{}")))
		if err != nil {
			return err
		}
		if tree.MediaType != "" {
			req.Header.Set("Content-Type", tree.MediaType)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("ensure create %s: %w", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("ensure create %s: unexpected status %d", path, resp.StatusCode)
		}
	}
	for segment, child := range tree.Children {
		if err := c.Ensure(ctx, strings.TrimRight(path, "/")+"/"+segment, child); err != nil {
			return err
		}
	}
	return nil
}

// subscribeMessage is the one frame the client sends right after dialing
// the watch socket.
type subscribeMessage struct {
	Path string `json:"path"`
	Rev  string `json:"rev,omitempty"`
}

// wireChangeEvent is the frame shape the store streams back over the
// watch socket.
type wireChangeEvent struct {
	Type ChangeType      `json:"type"`
	Path string          `json:"path"`
	Body json.RawMessage `json:"body"`
	Rev  string          `json:"rev"`
}

// Watch opens a websocket subscription on path and reconnects with the
// configured backoff if the connection drops, per the design note that
// a collapsed subscription is a restart condition, not a silent exit.
func (c *HTTPClient) Watch(ctx context.Context, path string, fromRev string) (<-chan ChangeEvent, func() error, error) {
	events := make(chan ChangeEvent, 64)
	watchCtx, cancel := context.WithCancel(ctx)
	id := uuid.New().String()

	common.SafeGo(c.logger, "store-watch-"+id, func() {
		defer close(events)
		c.runWatch(watchCtx, path, fromRev, events)
	})

	unwatch := func() error {
		cancel()
		return nil
	}
	return events, unwatch, nil
}

func (c *HTTPClient) wsURL(path string) string {
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + "/watch/" + strings.TrimLeft(path, "/")
}

func (c *HTTPClient) runWatch(ctx context.Context, path, fromRev string, events chan<- ChangeEvent) {
	delay := c.cfg.WatchReconnectDelay
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.watchOnce(ctx, path, fromRev, events); err != nil {
			c.logger.Warn().Err(err).Str("path", path).Msg("store watch connection dropped, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (c *HTTPClient) watchOnce(ctx context.Context, path, fromRev string, events chan<- ChangeEvent) error {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL(path), header)
	if err != nil {
		return fmt.Errorf("dial watch socket: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeMessage{Path: path, Rev: fromRev}); err != nil {
		return fmt.Errorf("send subscribe frame: %w", err)
	}

	done := make(chan struct{})
	var once sync.Once
	closeDone := func() { once.Do(func() { close(done) }) }

	go func() {
		<-ctx.Done()
		conn.Close()
		closeDone()
	}()
	defer closeDone()

	for {
		var wire wireChangeEvent
		if err := conn.ReadJSON(&wire); err != nil {
			return fmt.Errorf("read watch frame: %w", err)
		}
		select {
		case events <- ChangeEvent{Type: wire.Type, Path: wire.Path, Body: wire.Body, Rev: wire.Rev}:
		case <-ctx.Done():
			return nil
		}
	}
}

// Package storetest provides an in-process, badger-backed fake of
// store.Client for unit and integration tests, so job/runner/queue/report
// tests don't need a live document store.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/docjobs/internal/store"
)

// record is the badgerhold-persisted row for one addressable path: its
// current body and the revision it was last written at.
type record struct {
	Path string `boltholdKey:"Path"`
	Data json.RawMessage
	Rev  string
}

// FakeClient implements store.Client over an embedded badger database,
// following the open/close lifecycle of the teacher's
// internal/storage/badger.BadgerDB. Merge-puts into a path update that
// path's own document (recursive merge of nested objects) and, for each merged
// key, also write a directly addressable child document at path/key —
// matching how the real store lets every node in the tree be fetched by
// its own path.
type FakeClient struct {
	dir   string
	db    *badger.DB
	store *badgerhold.Store

	mu       sync.Mutex
	watchers map[string][]chan store.ChangeEvent

	rev int64
}

// NewFakeClient opens (and, if resetOnStartup is set, first wipes) a
// badger database at dir to back the fake store.
func NewFakeClient(dir string, resetOnStartup bool) (*FakeClient, error) {
	if resetOnStartup {
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("reset fake store dir %s: %w", dir, err)
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create fake store dir %s: %w", dir, err)
	}

	opts := badgerhold.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	opts.Logger = nil

	st, err := badgerhold.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open fake store at %s: %w", dir, err)
	}

	return &FakeClient{
		dir:      dir,
		db:       st.Badger(),
		store:    st,
		watchers: make(map[string][]chan store.ChangeEvent),
	}, nil
}

// Close releases the underlying badger database.
func (f *FakeClient) Close() error {
	return f.store.Close()
}

func (f *FakeClient) nextRev() string {
	return fmt.Sprintf("%d", atomic.AddInt64(&f.rev, 1))
}

func (f *FakeClient) get(path string) (record, bool, error) {
	var rec record
	err := f.store.Get(path, &rec)
	if err == badgerhold.ErrNotFound {
		return record{}, false, nil
	}
	if err != nil {
		return record{}, false, fmt.Errorf("fake store get %s: %w", path, err)
	}
	return rec, true, nil
}

func (f *FakeClient) Head(_ context.Context, p string) (bool, error) {
	_, ok, err := f.get(p)
	return ok, err
}

func (f *FakeClient) Get(_ context.Context, p string) (store.GetResult, error) {
	rec, ok, err := f.get(p)
	if err != nil {
		return store.GetResult{}, err
	}
	if !ok {
		return store.GetResult{Data: json.RawMessage("{}"), Rev: "0"}, nil
	}
	return store.GetResult{Data: rec.Data, Rev: rec.Rev}, nil
}

// Put performs a recursive JSON-object merge of data into the document at
// path, creating it if absent, then notifies any watchers of path and of
// each ancestor path with a merge event whose body is just the delta that was written
// (not the whole merged document) — the shape the Queue's dispatch loop
// expects.
func (f *FakeClient) Put(ctx context.Context, p string, data any, tree *store.TreeNode) error {
	if tree != nil {
		if err := f.Ensure(ctx, p, tree); err != nil {
			return fmt.Errorf("ensure before put %s: %w", p, err)
		}
	}

	delta, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal put body for %s: %w", p, err)
	}

	merged, err := f.mergeDocument(p, delta)
	if err != nil {
		return err
	}

	rev := f.nextRev()
	if err := f.store.Upsert(p, &record{Path: p, Data: merged, Rev: rev}); err != nil {
		return fmt.Errorf("fake store put %s: %w", p, err)
	}

	if err := f.indexChildren(p, delta, rev); err != nil {
		return err
	}

	f.bubbleNotify(p, store.ChangeEvent{Type: store.ChangeMerge, Path: p, Body: delta, Rev: rev})
	return nil
}

// mergeDocument reads the existing document at p (if any) and recursively
// merges delta on top of it, matching the real store's deep merge-PUT
// semantics (so e.g. posting one new key under "updates" doesn't clobber
// previously posted ones). If either side isn't a JSON object, delta
// simply replaces the document.
func (f *FakeClient) mergeDocument(p string, delta json.RawMessage) (json.RawMessage, error) {
	var deltaMap map[string]json.RawMessage
	if err := json.Unmarshal(delta, &deltaMap); err != nil {
		return delta, nil
	}

	existing := map[string]json.RawMessage{}
	rec, ok, err := f.get(p)
	if err != nil {
		return nil, err
	}
	if ok {
		_ = json.Unmarshal(rec.Data, &existing)
	}

	merged, err := json.Marshal(deepMerge(existing, deltaMap))
	if err != nil {
		return nil, fmt.Errorf("marshal merged document %s: %w", p, err)
	}
	return merged, nil
}

// deepMerge merges delta on top of existing: for any key present as a
// JSON object on both sides, the two objects are merged recursively;
// otherwise delta's value wins outright.
func deepMerge(existing, delta map[string]json.RawMessage) map[string]json.RawMessage {
	for k, v := range delta {
		var deltaSub, existingSub map[string]json.RawMessage
		if err := json.Unmarshal(v, &deltaSub); err == nil {
			if prev, ok := existing[k]; ok {
				if err := json.Unmarshal(prev, &existingSub); err == nil {
					mergedSub := deepMerge(existingSub, deltaSub)
					if b, err := json.Marshal(mergedSub); err == nil {
						existing[k] = b
						continue
					}
				}
			}
		}
		existing[k] = v
	}
	return existing
}

// indexChildren makes each top-level key of delta independently
// addressable at path/key, mirroring oada's tree addressing.
func (f *FakeClient) indexChildren(p string, delta json.RawMessage, rev string) error {
	var deltaMap map[string]json.RawMessage
	if err := json.Unmarshal(delta, &deltaMap); err != nil {
		return nil
	}
	for key, val := range deltaMap {
		childPath := path.Join(p, key)
		if err := f.store.Upsert(childPath, &record{Path: childPath, Data: val, Rev: rev}); err != nil {
			return fmt.Errorf("fake store index child %s: %w", childPath, err)
		}
	}
	return nil
}

// Post creates a new document under a synthetic resources path and
// returns its location; used for job documents and email-job documents,
// which are created detached and then linked by a Put elsewhere.
func (f *FakeClient) Post(_ context.Context, p string, data any) (store.PostResult, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return store.PostResult{}, fmt.Errorf("marshal post body for %s: %w", p, err)
	}
	rev := f.nextRev()
	location := path.Join(p, rev)
	if err := f.store.Upsert(location, &record{Path: location, Data: body, Rev: rev}); err != nil {
		return store.PostResult{}, fmt.Errorf("fake store post %s: %w", p, err)
	}
	return store.PostResult{Location: location}, nil
}

// Delete removes the document at p. If p has a parent document that
// itself merged p's last segment as a key (the pending/<jobKey> case),
// that key is also removed from the parent so Get(parent) stops
// reporting it, and a delete change event fires on the parent.
func (f *FakeClient) Delete(_ context.Context, p string) error {
	if err := f.store.Delete(p, &record{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("fake store delete %s: %w", p, err)
	}

	parent := path.Dir(p)
	key := path.Base(p)
	rec, ok, err := f.get(parent)
	if err != nil || !ok {
		return err
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(rec.Data, &doc); err != nil {
		return nil
	}
	if _, present := doc[key]; !present {
		return nil
	}
	delete(doc, key)
	merged, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document after delete %s: %w", p, err)
	}
	rev := f.nextRev()
	if err := f.store.Upsert(parent, &record{Path: parent, Data: merged, Rev: rev}); err != nil {
		return fmt.Errorf("fake store update parent after delete %s: %w", p, err)
	}
	f.notify(parent, store.ChangeEvent{Type: store.ChangeDelete, Path: p, Body: json.RawMessage(fmt.Sprintf(`{%q:null}`, key)), Rev: rev})
	return nil
}

// Ensure creates p (and, recursively, tree's children) if missing,
// stamping a media-type marker but never touching existing content.
func (f *FakeClient) Ensure(ctx context.Context, p string, tree *store.TreeNode) error {
	if tree == nil {
		return nil
	}
	_, ok, err := f.get(p)
	if err != nil {
		return err
	}
	if !ok {
		body, _ := json.Marshal(map[string]string{"_type": tree.MediaType})
		if err := f.store.Upsert(p, &record{Path: p, Data: body, Rev: f.nextRev()}); err != nil {
			return fmt.Errorf("fake store ensure %s: %w", p, err)
		}
	}
	for segment, child := range tree.Children {
		if err := f.Ensure(ctx, path.Join(p, segment), child); err != nil {
			return err
		}
	}
	return nil
}

// Watch registers a channel for future merge/delete events on p. Unlike
// the real store, the fake never replays history — callers that need the
// current snapshot must Get it themselves, which matches how Queue.Start
// already separates "read current pending" from "watch for new changes".
func (f *FakeClient) Watch(ctx context.Context, p string, _ string) (<-chan store.ChangeEvent, func() error, error) {
	ch := make(chan store.ChangeEvent, 64)

	f.mu.Lock()
	f.watchers[p] = append(f.watchers[p], ch)
	f.mu.Unlock()

	unwatch := func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		chans := f.watchers[p]
		for i, c := range chans {
			if c == ch {
				f.watchers[p] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		close(ch)
		return nil
	}

	go func() {
		<-ctx.Done()
		_ = unwatch()
	}()

	return ch, unwatch, nil
}

func (f *FakeClient) notify(p string, ev store.ChangeEvent) {
	f.mu.Lock()
	chans := append([]chan store.ChangeEvent(nil), f.watchers[p]...)
	f.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- ev:
		default:
			// A slow watcher would otherwise block every future Put;
			// the fake drops in that case rather than deadlocking tests.
		}
	}
}

// bubbleNotify notifies watchers of p and every ancestor container of p,
// matching a real hierarchical store's container-subscription semantics:
// subscribing to a container observes merges anywhere in its subtree, not
// only puts to the container's own document. The event body stays the
// delta actually written at p; ancestor watchers (e.g. a Report watching
// a day-index root) only need the body's shape, not its position.
func (f *FakeClient) bubbleNotify(p string, ev store.ChangeEvent) {
	for cur := p; ; cur = path.Dir(cur) {
		f.notify(cur, ev)
		if cur == "." || cur == "/" || cur == "" {
			return
		}
		if path.Dir(cur) == cur {
			return
		}
	}
}

// StripMetaKeys removes the store's reserved top-level keys from a change
// body, per the Queue dispatch contract (§4.4): "strip meta keys (_id,
// _rev, _meta, _type)".
func StripMetaKeys(body json.RawMessage) (map[string]json.RawMessage, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal change body: %w", err)
	}
	for _, meta := range []string{"_id", "_rev", "_meta", "_type"} {
		delete(doc, meta)
	}
	return doc, nil
}

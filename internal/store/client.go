// Package store abstracts the remote hierarchical document store the job
// engine is built on: get/put/post/delete/head, a watch subscription for
// incremental changes, and ensure for idempotent container creation.
package store

import (
	"context"
	"encoding/json"
)

// ChangeType distinguishes the two change-body shapes the store emits.
// The core only acts on Merge; the Queue and Report consumers skip Delete
// and any other type without logging it.
type ChangeType string

const (
	ChangeMerge  ChangeType = "merge"
	ChangeDelete ChangeType = "delete"
)

// ChangeEvent is one item off a Watch subscription's stream. Path is the
// document the change was actually written to, which may be at or below
// the path a container subscription was opened on (a subscription to a
// container observes merges anywhere in its subtree).
type ChangeEvent struct {
	Type ChangeType
	Path string
	Body json.RawMessage
	Rev  string
}

// GetResult is the body and revision returned by Get.
type GetResult struct {
	Data json.RawMessage
	Rev  string
}

// PostResult carries the location of a newly created resource.
type PostResult struct {
	Location string
}

// TreeNode describes one level of a container template for Ensure: the
// media type to stamp on the container if it must be created, and the
// children keyed by path segment (a nil map means "leaf", i.e. ensure
// only creates the node itself, not a child collection).
type TreeNode struct {
	MediaType string
	Children  map[string]*TreeNode
}

// Client is the capability set the job engine needs from the store.
// Every method takes a path relative to the store root, e.g.
// "bookmarks/services/svc/jobs/pending".
type Client interface {
	// Head reports whether path exists, without fetching its body.
	Head(ctx context.Context, path string) (bool, error)

	// Get fetches path's current body and revision.
	Get(ctx context.Context, path string) (GetResult, error)

	// Put writes data at path. If tree is non-nil, intermediate
	// containers are created first per Ensure's contract.
	Put(ctx context.Context, path string, data any, tree *TreeNode) error

	// Post creates a new resource under path (typically a resources
	// collection) and returns its location.
	Post(ctx context.Context, path string, data any) (PostResult, error)

	// Delete removes path.
	Delete(ctx context.Context, path string) error

	// Watch subscribes to incremental changes on path starting after
	// fromRev (empty means "from now"). The returned channel is closed
	// when Unwatch is called or the subscription is torn down by the
	// client (e.g. on Close); callers must keep draining it until then.
	Watch(ctx context.Context, path string, fromRev string) (events <-chan ChangeEvent, unwatch func() error, err error)

	// Ensure idempotently creates path and any missing intermediate
	// containers described by tree, stamping each with its media type.
	// It must succeed whether path already exists or not, and must never
	// overwrite existing content.
	Ensure(ctx context.Context, path string, tree *TreeNode) error
}

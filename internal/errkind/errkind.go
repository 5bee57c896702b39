// Package errkind defines the closed set of error kinds the job engine
// files against a terminal job, and the sentinel errors workers and the
// Runner use to signal them.
package errkind

import "errors"

// Kind is a closed tag describing why a job reached a terminal failure
// state. It is carried in a job's result as failKind and, when set,
// mirrors the filing under typed-failure/<kind>/day-index/<d>/<k>.
type Kind string

const (
	// NoWorker: no worker registered for the job's type.
	NoWorker Kind = "no-worker"
	// Timeout: worker exceeded its configured timeout.
	Timeout Kind = "timeout"
	// Invalid: job document failed validation after a retry.
	Invalid Kind = "invalid"
	// WorkerFailure: the worker returned an error; Tag, if present on the
	// error, overrides this generic kind.
	WorkerFailure Kind = "worker-failure"
	// StoreTransient: a store I/O error during updates or filing.
	StoreTransient Kind = "store-transient"
	// FinishReporterFailure: a finish reporter failed. Never filed as a
	// job's failKind — logged and ignored by the Runner.
	FinishReporterFailure Kind = "finish-reporter-failure"
)

// Sentinel errors for the kinds the Runner itself raises (as opposed to
// kinds a worker's own error declares via Tag).
var (
	ErrNoWorker       = errors.New("no worker registered for job type")
	ErrTimeout        = errors.New("worker exceeded its configured timeout")
	ErrInvalid        = errors.New("job document failed validation")
	ErrStoreTransient = errors.New("store I/O error")
)

// tagged is an error that declares which Kind should be filed as a job's
// failKind when it escapes a worker.
type tagged struct {
	kind Kind
	err  error
}

func (t *tagged) Error() string { return t.err.Error() }
func (t *tagged) Unwrap() error { return t.err }

// Tag wraps err so that KindOf(Tag(err, k)) == k. Workers that want a
// specific failKind recorded (rather than the generic WorkerFailure)
// should return errors constructed this way.
func Tag(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return &tagged{kind: kind, err: err}
}

// KindOf extracts the Kind declared on err via Tag, if any. ok is false
// when err carries no declared kind — callers should fall back to
// WorkerFailure for a non-nil err in that case.
func KindOf(err error) (kind Kind, ok bool) {
	var t *tagged
	if errors.As(err, &t) {
		return t.kind, true
	}
	return "", false
}

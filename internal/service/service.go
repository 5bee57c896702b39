// Package service owns the store client, worker registry, report registry,
// and metrics for one job-engine namespace, and starts/stops its Queue and
// Reports.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/docjobs/internal/common"
	"github.com/ternarybob/docjobs/internal/queue"
	"github.com/ternarybob/docjobs/internal/reporter"
	"github.com/ternarybob/docjobs/internal/runner"
	"github.com/ternarybob/docjobs/internal/store"
)

// workerEntry pairs a registered worker with its timeout.
type workerEntry struct {
	work    runner.Worker
	timeout time.Duration
}

// ReportHandle is the narrow surface Service needs from a report.Report,
// avoiding a direct import cycle back into the report package's need for a
// store client that Service itself owns.
type ReportHandle interface {
	Start(ctx context.Context) error
	Stop()
}

// Service is the top-level entry point an application constructs: it wires
// together a store client, a worker registry, reports, and metrics, and
// owns exactly one Queue.
type Service struct {
	Name        string
	Client      store.Client
	Concurrency int
	Logger      arbor.ILogger
	Metrics     *Metrics
	Reporters   *reporter.Dispatcher

	mu       sync.RWMutex
	workers  map[string]workerEntry
	reports  map[string]ReportHandle
	queue    *queue.Queue
	started  bool
}

// New constructs a Service. registry may be prometheus.DefaultRegisterer,
// or a fresh prometheus.NewRegistry() when multiple Services coexist in a
// test binary.
func New(name string, client store.Client, concurrency int, registry prometheus.Registerer, logger arbor.ILogger) *Service {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Service{
		Name:        name,
		Client:      client,
		Concurrency: concurrency,
		Logger:      logger,
		Metrics:     NewMetrics(registry),
		Reporters:   reporter.NewDispatcher(logger),
		workers:     make(map[string]workerEntry),
		reports:     make(map[string]ReportHandle),
	}
}

// On registers a worker for jobType, replacing any existing registration,
// and zero-initializes its metric labels. Registration after Start is
// permitted; the worker map is read-mostly and safe for concurrent access.
func (s *Service) On(jobType string, timeout time.Duration, work runner.Worker) {
	s.mu.Lock()
	s.workers[jobType] = workerEntry{work: work, timeout: timeout}
	s.mu.Unlock()
	s.Metrics.InitLabels(s.Name, jobType)
}

// Off removes jobType's registered worker.
func (s *Service) Off(jobType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workers, jobType)
}

// GetWorker implements runner.WorkerLookup.
func (s *Service) GetWorker(jobType string) (runner.WorkerSpec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.workers[jobType]
	if !ok {
		return runner.WorkerSpec{}, false
	}
	return runner.WorkerSpec{Work: entry.work, Timeout: entry.timeout}, true
}

// AddReport registers a report handle under name, replacing any existing
// registration of the same name.
func (s *Service) AddReport(name string, r ReportHandle) ReportHandle {
	s.mu.Lock()
	s.reports[name] = r
	s.mu.Unlock()
	return r
}

// GetReport returns the report registered under name, if any.
func (s *Service) GetReport(name string) (ReportHandle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[name]
	return r, ok
}

// newRunner builds a Runner for one dispatched job-key; passed to Queue as
// its RunnerFactory so Queue never imports service or reporter directly.
func (s *Service) newRunner(jobKey, jobPath string) *runner.Runner {
	return &runner.Runner{
		ServiceName: s.Name,
		JobKey:      jobKey,
		JobPath:     jobPath,
		Client:      s.Client,
		Workers:     s,
		Metrics:     s.Metrics,
		Reporters:   s.Reporters,
		Logger:      s.Logger,
	}
}

// Start starts the Queue (enforcing at most one active Queue per Service)
// and then every registered Report.
func (s *Service) Start(ctx context.Context, skipExisting bool) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("service %s already started", s.Name)
	}
	s.queue = queue.New(s.Name, common.NewKey(), s.Client, s.Concurrency, s.newRunner, s.Metrics, s.Logger)
	q := s.queue
	reports := make([]ReportHandle, 0, len(s.reports))
	for _, r := range s.reports {
		reports = append(reports, r)
	}
	s.started = true
	s.mu.Unlock()

	if err := q.Start(ctx, skipExisting); err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return fmt.Errorf("start queue for %s: %w", s.Name, err)
	}

	for _, r := range reports {
		if err := r.Start(ctx); err != nil {
			s.Logger.Warn().Err(err).Str("service", s.Name).Msg("failed to start report")
		}
	}

	return nil
}

// Stop stops the Queue, then every registered Report.
func (s *Service) Stop() {
	s.mu.Lock()
	q := s.queue
	reports := make([]ReportHandle, 0, len(s.reports))
	for _, r := range s.reports {
		reports = append(reports, r)
	}
	s.started = false
	s.mu.Unlock()

	if q != nil {
		q.Stop()
	}
	for _, r := range reports {
		r.Stop()
	}
}

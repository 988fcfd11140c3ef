// Package scheduler accepts backtest submissions, enforces admission
// control, owns the job registry, and supervises one simulation engine per
// job from data fetch through terminal result.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openbt/openbt/internal/analytics"
	"github.com/openbt/openbt/internal/engine"
	"github.com/openbt/openbt/internal/events"
	"github.com/openbt/openbt/internal/logger"
	"github.com/openbt/openbt/internal/marketdata"
	"github.com/openbt/openbt/internal/portfolio"
)

// DefaultMaxConcurrent is the admission ceiling on simultaneously running
// jobs.
const DefaultMaxConcurrent = 3

// Config carries the scheduler's dependencies and limits.
type Config struct {
	// Provider is the market data configuration handed to the provider
	// factory per job.
	Provider marketdata.Config
	// MaxConcurrent caps running jobs; zero means DefaultMaxConcurrent.
	MaxConcurrent int
	// Bus receives job lifecycle and engine events. May be nil.
	Bus *events.Bus
	// Signals builds the signal source for a job. May be nil, which runs
	// pure replays.
	Signals func(req Request) portfolio.SignalSource
}

// Scheduler owns the job registry and the live-engine registry.
type Scheduler struct {
	cfg Config
	bus *events.Bus
	log *logger.Logger

	mu      sync.RWMutex
	jobs    map[string]*Job
	engines map[string]*engine.Engine

	// wg tracks execution goroutines so tests and shutdown can drain.
	wg sync.WaitGroup
}

// New creates a scheduler.
func New(cfg Config) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	return &Scheduler{
		cfg:     cfg,
		bus:     cfg.Bus,
		log:     logger.Component("scheduler"),
		jobs:    make(map[string]*Job),
		engines: make(map[string]*engine.Engine),
	}
}

// Submit validates the request, applies admission control, registers a
// PENDING job, and starts execution in the background. It returns
// immediately; by the time the caller reads the response the job may
// already be RUNNING.
func (s *Scheduler) Submit(req Request) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	running := 0
	for _, j := range s.jobs {
		if j.Status == StatusRunning {
			running++
		}
	}
	if running >= s.cfg.MaxConcurrent {
		current := running
		s.mu.Unlock()
		return nil, &AdmissionError{MaxConcurrent: s.cfg.MaxConcurrent, CurrentRunning: current}
	}

	job := &Job{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Status:    StatusPending,
		StartTime: time.Now(),
		Request:   req,
	}
	s.jobs[job.ID] = job
	snapshot := job.clone()
	s.mu.Unlock()

	s.log.Job(job.ID).WithField("name", req.Name).Info("Backtest job submitted")
	s.publishJob(snapshot)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(job.ID)
	}()

	return snapshot, nil
}

// Wait blocks until all execution goroutines have finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// execute drives one job from fetch to terminal state.
func (s *Scheduler) execute(jobID string) {
	log := s.log.Job(jobID)

	req, ok := s.markRunning(jobID)
	if !ok {
		// Cancelled before execution started.
		return
	}

	defer func() {
		s.mu.Lock()
		delete(s.engines, jobID)
		s.mu.Unlock()
	}()

	ctx := context.Background()

	provider, err := marketdata.NewProvider(req.DataProvider, s.cfg.Provider)
	if err != nil {
		s.markFailed(jobID, fmt.Errorf("creating data provider: %w", err))
		return
	}

	dataRequests := make([]marketdata.Request, 0, len(req.Symbols))
	for _, symbol := range req.Symbols {
		dataRequests = append(dataRequests, marketdata.Request{
			Symbol:   symbol,
			Start:    req.StartDate,
			End:      req.EndDate,
			Interval: marketdata.IntervalDaily,
		})
	}
	data := marketdata.FetchMultipleSymbols(ctx, provider, dataRequests)

	manager := portfolio.NewSimulatedManager(
		decimal.NewFromFloat(req.InitialCapital),
		decimal.NewFromFloat(req.CommissionRate),
		decimal.NewFromFloat(req.SlippageRate),
	)

	var signals portfolio.SignalSource
	if s.cfg.Signals != nil {
		signals = s.cfg.Signals(req)
	}

	eng := engine.New(engine.Config{
		Symbols:        req.Symbols,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		InitialCapital: decimal.NewFromFloat(req.InitialCapital),
	}, manager, signals, s.bus)

	s.mu.Lock()
	if job, ok := s.jobs[jobID]; !ok || job.Status != StatusRunning {
		// Cancelled while fetching.
		s.mu.Unlock()
		return
	}
	s.engines[jobID] = eng
	s.mu.Unlock()

	var unsubscribe func()
	if s.bus != nil {
		runID := eng.ID()
		handler := func(p engine.Progress) {
			if p.RunID == runID {
				s.setProgress(jobID, int(p.Fraction*100))
			}
		}
		if err := s.bus.Subscribe(events.TopicBacktestProgress, handler); err == nil {
			unsubscribe = func() {
				_ = s.bus.Unsubscribe(events.TopicBacktestProgress, handler)
			}
		}
	}
	if unsubscribe != nil {
		defer unsubscribe()
	}

	if err := eng.LoadData(data); err != nil {
		s.markFailed(jobID, err)
		return
	}

	result, err := eng.Run(ctx)
	if err != nil {
		s.markFailed(jobID, err)
		return
	}

	metrics := s.trackPerformance(eng, req.Benchmark)

	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if job.Status == StatusCancelled {
		// Cancel stopped the engine mid-run; keep the terminal status and
		// attach the partial result for inspection.
		job.Result = result
		job.Metrics = metrics
		snapshot := job.clone()
		s.mu.Unlock()
		s.publishJob(snapshot)
		return
	}
	now := time.Now()
	job.Status = StatusCompleted
	job.Progress = 100
	job.EndTime = &now
	job.Result = result
	job.Metrics = metrics
	snapshot := job.clone()
	s.mu.Unlock()

	log.WithField("total_trades", result.TotalTrades).Info("Backtest job completed")
	s.publishJob(snapshot)
}

// trackPerformance replays the finished run's snapshots through a tracker
// and returns the terminal metric bundle. The replay happens after the run
// because step events on a shared bus carry no job identity; the engine's
// snapshot history does. Trades are fed before the step's portfolio state so
// the final bundle covers the whole ledger.
func (s *Scheduler) trackPerformance(eng *engine.Engine, benchmark []float64) *analytics.PortfolioMetrics {
	tracker := analytics.NewTracker(s.bus)
	if len(benchmark) > 0 {
		tracker.SetBenchmark(benchmark)
	}
	for _, snap := range eng.Snapshots() {
		for _, trade := range snap.Trades {
			tracker.AddTrade(trade)
		}
		tracker.UpdatePortfolio(snap.Portfolio)
	}
	metrics, ok := tracker.LatestMetrics()
	if !ok {
		return nil
	}
	return &metrics
}

// markRunning advances a PENDING job to RUNNING. It returns false when the
// job was cancelled or deleted before execution began.
func (s *Scheduler) markRunning(jobID string) (Request, bool) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status != StatusPending {
		s.mu.Unlock()
		return Request{}, false
	}
	job.Status = StatusRunning
	req := job.Request
	snapshot := job.clone()
	s.mu.Unlock()

	s.publishJob(snapshot)
	return req, true
}

// markFailed moves a job to FAILED with the captured error, unless it was
// already cancelled.
func (s *Scheduler) markFailed(jobID string, cause error) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	now := time.Now()
	job.Status = StatusFailed
	job.Error = cause.Error()
	job.EndTime = &now
	snapshot := job.clone()
	s.mu.Unlock()

	s.log.Job(jobID).WithError(cause).Error("Backtest job failed")
	s.publishJob(snapshot)
}

func (s *Scheduler) setProgress(jobID string, progress int) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status != StatusRunning || job.Progress == progress {
		s.mu.Unlock()
		return
	}
	job.Progress = progress
	snapshot := job.clone()
	s.mu.Unlock()

	s.publishJob(snapshot)
}

// Cancel stops a PENDING or RUNNING job. The engine stop is cooperative;
// the job is marked CANCELLED immediately.
func (s *Scheduler) Cancel(jobID string) (*Job, error) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return nil, &NotFoundError{JobID: jobID}
	}
	if job.Status.Terminal() {
		status := job.Status
		s.mu.Unlock()
		return nil, &StateConflictError{
			JobID:   jobID,
			Status:  status,
			Message: fmt.Sprintf("cannot cancel backtest in %s status", status),
		}
	}
	now := time.Now()
	job.Status = StatusCancelled
	job.EndTime = &now
	eng := s.engines[jobID]
	snapshot := job.clone()
	s.mu.Unlock()

	if eng != nil {
		eng.Stop()
	}
	s.log.Job(jobID).Info("Backtest job cancelled")
	s.publishJob(snapshot)
	return snapshot, nil
}

// Delete removes a non-running job from the registry.
func (s *Scheduler) Delete(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return &NotFoundError{JobID: jobID}
	}
	if job.Status == StatusRunning {
		return &StateConflictError{
			JobID:   jobID,
			Status:  job.Status,
			Message: "cannot delete a running backtest",
		}
	}
	delete(s.jobs, jobID)
	return nil
}

// Status returns a copy of the job record.
func (s *Scheduler) Status(jobID string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, &NotFoundError{JobID: jobID}
	}
	return job.clone(), nil
}

// Result returns the terminal result of a COMPLETED job. For any other
// status the error carries the job's current status and progress.
func (s *Scheduler) Result(jobID string) (*engine.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, &NotFoundError{JobID: jobID}
	}
	if job.Status != StatusCompleted {
		return nil, &StateConflictError{
			JobID:    jobID,
			Status:   job.Status,
			Progress: job.Progress,
			Message:  fmt.Sprintf("backtest not completed: status %s, progress %d%%", job.Status, job.Progress),
		}
	}
	return job.Result, nil
}

// List returns job copies, most recent first by start time, optionally
// filtered by status and limited, plus aggregate counts by status over the
// whole registry.
func (s *Scheduler) List(status Status, limit int) ([]*Job, map[Status]int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[Status]int)
	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		counts[job.Status]++
		if status != "" && job.Status != status {
			continue
		}
		out = append(out, job.clone())
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, counts
}

func (s *Scheduler) publishJob(job *Job) {
	if s.bus != nil {
		s.bus.Publish(events.TopicJobUpdated, job)
	}
}

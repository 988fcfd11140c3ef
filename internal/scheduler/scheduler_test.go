package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbt/openbt/internal/engine"
	"github.com/openbt/openbt/internal/marketdata"
	"github.com/openbt/openbt/internal/portfolio"
)

func validRequest() Request {
	return Request{
		Name:           "momentum test",
		Symbols:        []string{"AAPL", "MSFT"},
		StartDate:      time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC),
		InitialCapital: 100000,
		DataProvider:   marketdata.KindSynthetic,
		AgentConfigs:   []AgentConfig{{Name: "momentum"}},
	}
}

func newTestScheduler(cfg Config) *Scheduler {
	if cfg.Provider.Seed == 0 {
		cfg.Provider = marketdata.Config{Seed: 42}
	}
	return New(cfg)
}

// blockingSource parks every run until released, keeping jobs RUNNING for
// admission and cancellation tests.
type blockingSource struct {
	release chan struct{}
}

func (b *blockingSource) GenerateSignals(ctx context.Context, bars map[string]marketdata.Bar) []portfolio.Signal {
	<-b.release
	return nil
}

func waitForStatus(t *testing.T, s *Scheduler, jobID string, want Status) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := s.Status(jobID)
		require.NoError(t, err)
		if job.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", jobID, want)
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Request)
		wantMsg string
	}{
		{"missing name", func(r *Request) { r.Name = "" }, "Backtest name is required"},
		{"no symbols", func(r *Request) { r.Symbols = nil }, "At least one symbol is required"},
		{"zero dates", func(r *Request) { r.StartDate = time.Time{} }, "Start and end dates are required"},
		{"start after end", func(r *Request) { r.StartDate = r.EndDate.AddDate(0, 0, 1) }, "Start date must be before end date"},
		{"start equals end", func(r *Request) { r.StartDate = r.EndDate }, "Start date must be before end date"},
		{"zero capital", func(r *Request) { r.InitialCapital = 0 }, "Initial capital must be positive"},
		{"no agents", func(r *Request) { r.AgentConfigs = nil }, "At least one agent configuration is required"},
		{"no provider", func(r *Request) { r.DataProvider = "" }, "Data provider type is required"},
		{"bad provider", func(r *Request) { r.DataProvider = "quantum" }, "Unknown data provider type: quantum"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(&req)
			err := req.Validate()
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.wantMsg, verr.Message)
		})
	}

	req := validRequest()
	assert.NoError(t, req.Validate())
}

func TestSubmitRunsToCompletion(t *testing.T) {
	s := newTestScheduler(Config{})

	job, err := s.Submit(validRequest())
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)

	s.Wait()

	done, err := s.Status(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	require.NotNil(t, done.EndTime)
	require.NotNil(t, done.Result)
	assert.True(t, done.Result.InitialCapital.IsPositive())

	result, err := s.Result(job.ID)
	require.NoError(t, err)
	assert.Equal(t, done.Result.RunID, result.RunID)
}

func TestCompletedJobCarriesPerformanceMetrics(t *testing.T) {
	s := newTestScheduler(Config{})

	req := validRequest()
	req.Benchmark = []float64{0.01, -0.02, 0.015, -0.01, 0.02}
	job, err := s.Submit(req)
	require.NoError(t, err)
	s.Wait()

	done, err := s.Status(job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.Metrics)
	// Pure replay: no trades, so the value series is flat.
	assert.Zero(t, done.Metrics.TotalReturn)
	assert.GreaterOrEqual(t, done.Metrics.MaxDrawdown, 0.0)

	plain, err := s.Submit(validRequest())
	require.NoError(t, err)
	s.Wait()

	donePlain, err := s.Status(plain.ID)
	require.NoError(t, err)
	require.NotNil(t, donePlain.Metrics)
	assert.Zero(t, donePlain.Metrics.Beta)
	assert.Zero(t, donePlain.Metrics.Alpha)
	assert.Zero(t, donePlain.Metrics.InformationRatio)
}

func TestSubmitInvalidRequestCreatesNoJob(t *testing.T) {
	s := newTestScheduler(Config{})

	req := validRequest()
	req.InitialCapital = -1
	_, err := s.Submit(req)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	jobs, counts := s.List("", 0)
	assert.Empty(t, jobs)
	assert.Empty(t, counts)
}

func TestAdmissionControl(t *testing.T) {
	gate := &blockingSource{release: make(chan struct{})}
	s := newTestScheduler(Config{
		Signals: func(Request) portfolio.SignalSource { return gate },
	})
	defer func() {
		close(gate.release)
		s.Wait()
	}()

	var ids []string
	for i := 0; i < 3; i++ {
		job, err := s.Submit(validRequest())
		require.NoError(t, err, "submission %d within the ceiling must succeed", i+1)
		ids = append(ids, job.ID)
	}
	for _, id := range ids {
		waitForStatus(t, s, id, StatusRunning)
	}

	_, err := s.Submit(validRequest())
	var aerr *AdmissionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, 3, aerr.MaxConcurrent)
	assert.Equal(t, 3, aerr.CurrentRunning)
}

func TestCancelRunningJob(t *testing.T) {
	gate := &blockingSource{release: make(chan struct{})}
	s := newTestScheduler(Config{
		Signals: func(Request) portfolio.SignalSource { return gate },
	})

	job, err := s.Submit(validRequest())
	require.NoError(t, err)
	waitForStatus(t, s, job.ID, StatusRunning)

	cancelled, err := s.Cancel(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.EndTime)

	close(gate.release)
	s.Wait()

	// Terminal status survives the run winding down.
	final, err := s.Status(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, final.Status)

	_, err = s.Cancel(job.ID)
	var serr *StateConflictError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, StatusCancelled, serr.Status)
}

func TestDeleteRules(t *testing.T) {
	gate := &blockingSource{release: make(chan struct{})}
	s := newTestScheduler(Config{
		Signals: func(Request) portfolio.SignalSource { return gate },
	})

	job, err := s.Submit(validRequest())
	require.NoError(t, err)
	waitForStatus(t, s, job.ID, StatusRunning)

	err = s.Delete(job.ID)
	var serr *StateConflictError
	require.ErrorAs(t, err, &serr)

	close(gate.release)
	s.Wait()
	waitForStatus(t, s, job.ID, StatusCompleted)

	require.NoError(t, s.Delete(job.ID))
	_, err = s.Status(job.ID)
	var nferr *NotFoundError
	assert.ErrorAs(t, err, &nferr)
}

func TestResultBeforeCompletion(t *testing.T) {
	gate := &blockingSource{release: make(chan struct{})}
	s := newTestScheduler(Config{
		Signals: func(Request) portfolio.SignalSource { return gate },
	})
	defer func() {
		close(gate.release)
		s.Wait()
	}()

	job, err := s.Submit(validRequest())
	require.NoError(t, err)
	waitForStatus(t, s, job.ID, StatusRunning)

	_, err = s.Result(job.ID)
	var serr *StateConflictError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, StatusRunning, serr.Status)
}

func TestUnknownJobID(t *testing.T) {
	s := newTestScheduler(Config{})

	var nferr *NotFoundError
	_, err := s.Status("missing")
	assert.ErrorAs(t, err, &nferr)
	_, err = s.Result("missing")
	assert.ErrorAs(t, err, &nferr)
	_, err = s.Cancel("missing")
	assert.ErrorAs(t, err, &nferr)
	assert.ErrorAs(t, s.Delete("missing"), &nferr)
}

func TestFetchFailureMarksJobFailed(t *testing.T) {
	s := New(Config{
		// CSV provider pointed at an empty directory: every symbol fetch
		// fails, yielding empty series that trip the integrity check.
		Provider: marketdata.Config{CSVDir: t.TempDir()},
	})

	req := validRequest()
	req.DataProvider = marketdata.KindCSV
	job, err := s.Submit(req)
	require.NoError(t, err)

	s.Wait()

	failed, err := s.Status(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.NotEmpty(t, failed.Error)
	require.NotNil(t, failed.EndTime)
}

func TestListFilteringAndCounts(t *testing.T) {
	s := newTestScheduler(Config{})

	var ids []string
	for i := 0; i < 3; i++ {
		req := validRequest()
		job, err := s.Submit(req)
		require.NoError(t, err)
		ids = append(ids, job.ID)
		time.Sleep(2 * time.Millisecond)
	}
	s.Wait()

	jobs, counts := s.List("", 0)
	require.Len(t, jobs, 3)
	assert.Equal(t, 3, counts[StatusCompleted])
	// Most recent first by start time.
	assert.Equal(t, ids[2], jobs[0].ID)
	assert.Equal(t, ids[0], jobs[2].ID)

	limited, _ := s.List("", 2)
	assert.Len(t, limited, 2)

	none, counts := s.List(StatusFailed, 0)
	assert.Empty(t, none)
	assert.Equal(t, 3, counts[StatusCompleted])
}

func completedJob(id, name string, totalReturn, sharpe, maxDD, winRate float64) *Job {
	now := time.Now()
	return &Job{
		ID:        id,
		Name:      name,
		Status:    StatusCompleted,
		Progress:  100,
		StartTime: now,
		EndTime:   &now,
		Result: &engine.Result{
			RunID:       id,
			TotalReturn: totalReturn,
			SharpeRatio: sharpe,
			MaxDrawdown: maxDD,
			WinRate:     winRate,
			TotalTrades: 10,
		},
	}
}

func TestCompare(t *testing.T) {
	s := newTestScheduler(Config{})
	s.jobs["a"] = completedJob("a", "alpha", 0.10, 1.2, 0.08, 0.6)
	s.jobs["b"] = completedJob("b", "beta", 0.25, 0.9, 0.15, 0.4)
	s.jobs["c"] = completedJob("c", "gamma", -0.05, -0.2, 0.30, 0.3)

	cmp, err := s.Compare([]string{"a", "b", "c"})
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "a", "c"}, cmp.ByReturn)
	assert.Equal(t, []string{"a", "b", "c"}, cmp.BySharpe)
	// Drawdown ranks ascending: smaller is better.
	assert.Equal(t, []string{"a", "b", "c"}, cmp.ByDrawdown)
	assert.Equal(t, []string{"a", "b", "c"}, cmp.ByWinRate)

	assert.Equal(t, "b", cmp.BestByReturn)
	assert.Equal(t, "a", cmp.BestBySharpe)
	assert.InDelta(t, 0.10, cmp.AverageReturn, 1e-9)
	assert.InDelta(t, (1.2+0.9-0.2)/3, cmp.AverageSharpe, 1e-9)

	rendered := cmp.RenderTable()
	assert.Contains(t, rendered, "alpha")
	assert.Contains(t, rendered, "10.00%")
}

func TestCompareRequirements(t *testing.T) {
	s := newTestScheduler(Config{})
	s.jobs["a"] = completedJob("a", "alpha", 0.1, 1, 0.1, 0.5)
	pending := completedJob("p", "pending", 0, 0, 0, 0)
	pending.Status = StatusPending
	pending.Result = nil
	s.jobs["p"] = pending

	_, err := s.Compare([]string{"a"})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = s.Compare([]string{"a", "missing"})
	var nferr *NotFoundError
	assert.ErrorAs(t, err, &nferr)

	_, err = s.Compare([]string{"a", "p"})
	var serr *StateConflictError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, StatusPending, serr.Status)
}

func TestExportResult(t *testing.T) {
	s := newTestScheduler(Config{})

	job, err := s.Submit(validRequest())
	require.NoError(t, err)
	s.Wait()

	exp, err := s.ExportResult(job.ID, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "backtest_"+job.ID+".json", exp.Filename)
	assert.Equal(t, "application/json", exp.ContentType)
	assert.Contains(t, string(exp.Data), `"run_id"`)

	exp, err = s.ExportResult(job.ID, FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "backtest_"+job.ID+".csv", exp.Filename)
	assert.Contains(t, string(exp.Data), "total_return")

	_, err = s.ExportResult(job.ID, "xml")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = s.ExportResult("missing", FormatJSON)
	var nferr *NotFoundError
	assert.True(t, errors.As(err, &nferr))
}

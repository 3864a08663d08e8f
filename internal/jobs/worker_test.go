package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veriflow-io/veriflow/internal/model"
)

type memChecks struct {
	checks map[string]*model.Check
}

func (s *memChecks) GetByID(_ context.Context, id string) (*model.Check, error) {
	check, ok := s.checks[id]
	if !ok {
		return nil, model.NotFoundf("check %s", id)
	}

	return check, nil
}

type memResults struct {
	mu      sync.Mutex
	results []*model.CheckResult
	err     error
}

func (s *memResults) Insert(_ context.Context, result *model.CheckResult) (*model.CheckResult, error) {
	if s.err != nil {
		return nil, s.err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)

	return result, nil
}

type stubExecutor struct {
	result *model.CheckResult
}

func (e *stubExecutor) Execute(_ context.Context, check *model.Check) *model.CheckResult {
	result := *e.result
	result.CheckID = check.ID

	return &result
}

type memIncidents struct {
	mu       sync.Mutex
	opened   int
	resolved int
}

func (s *memIncidents) OpenOrUpdate(_ context.Context, _ *model.Check, _ *model.CheckResult) (*model.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened++

	return &model.Incident{}, nil
}

func (s *memIncidents) Resolve(_ context.Context, _, _, _ string) (*model.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved++

	return nil, nil
}

type runnerEnv struct {
	jobs      *memJobs
	results   *memResults
	incidents *memIncidents
	runner    *CheckRunner
}

func newRunnerEnv(t *testing.T, result *model.CheckResult) *runnerEnv {
	t.Helper()

	env := &runnerEnv{
		jobs:      newMemJobs(),
		results:   &memResults{},
		incidents: &memIncidents{},
	}

	checks := &memChecks{checks: map[string]*model.Check{
		"chk-1": {ID: "chk-1", ConnectionID: "conn-1", CheckType: "row_count", TargetSchema: "public", TargetTable: "orders"},
	}}

	sessions := func(context.Context) (*Session, error) {
		return &Session{
			Jobs:      env.jobs,
			Checks:    checks,
			Executor:  &stubExecutor{result: result},
			Results:   env.results,
			Incidents: env.incidents,
		}, nil
	}

	env.runner = NewCheckRunner(sessions, testLogger())

	return env
}

func passingResult() *model.CheckResult {
	v := 20.0
	return &model.CheckResult{Passed: true, Severity: model.SeverityPassed, ActualValue: &v}
}

func failingResult() *model.CheckResult {
	v := 5.0
	return &model.CheckResult{Passed: false, Severity: model.SeverityError, ActualValue: &v}
}

func TestCheckRunnerRun(t *testing.T) {
	ctx := context.Background()

	t.Run("passing check resolves and completes", func(t *testing.T) {
		env := newRunnerEnv(t, passingResult())
		job, err := env.jobs.Create(ctx, "chk-1", nil)
		require.NoError(t, err)

		require.NoError(t, env.runner.Run(ctx, job.ID))

		final, err := env.jobs.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobCompleted, final.Status)
		assert.NotNil(t, final.StartedAt)
		assert.NotNil(t, final.CompletedAt)

		require.Len(t, env.results.results, 1)
		assert.Equal(t, job.ID, env.results.results[0].JobID)

		assert.Equal(t, 1, env.incidents.resolved)
		assert.Zero(t, env.incidents.opened)
	})

	t.Run("failing check still completes the job", func(t *testing.T) {
		env := newRunnerEnv(t, failingResult())
		job, err := env.jobs.Create(ctx, "chk-1", nil)
		require.NoError(t, err)

		require.NoError(t, env.runner.Run(ctx, job.ID))

		final, err := env.jobs.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobCompleted, final.Status)

		assert.Equal(t, 1, env.incidents.opened)
		assert.Zero(t, env.incidents.resolved)
	})

	t.Run("cancelled job is not runnable", func(t *testing.T) {
		env := newRunnerEnv(t, passingResult())
		job, err := env.jobs.Create(ctx, "chk-1", nil)
		require.NoError(t, err)

		_, err = env.jobs.Transition(ctx, job.ID, []model.JobStatus{model.JobPending}, model.JobCancelled, "")
		require.NoError(t, err)

		err = env.runner.Run(ctx, job.ID)
		require.ErrorIs(t, err, model.ErrConflict)

		final, _ := env.jobs.GetByID(ctx, job.ID)
		assert.Equal(t, model.JobCancelled, final.Status)
		assert.Empty(t, env.results.results)
	})

	t.Run("persistence error surfaces for retry", func(t *testing.T) {
		env := newRunnerEnv(t, passingResult())
		env.results.err = errors.New("disk full")

		job, err := env.jobs.Create(ctx, "chk-1", nil)
		require.NoError(t, err)

		err = env.runner.Run(ctx, job.ID)
		require.Error(t, err)
		assert.NotErrorIs(t, err, model.ErrValidation)

		// The job is left running for the retry.
		final, _ := env.jobs.GetByID(ctx, job.ID)
		assert.Equal(t, model.JobRunning, final.Status)
	})
}

type flakyRunner struct {
	mu       sync.Mutex
	failures int
	runs     int
	failed   []string
}

func (r *flakyRunner) Run(_ context.Context, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.runs++
	if r.runs <= r.failures {
		return errors.New("transient")
	}

	return nil
}

func (r *flakyRunner) Fail(_ context.Context, jobID, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failed = append(r.failed, jobID+": "+message)
}

func (r *flakyRunner) snapshot() (int, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.runs, append([]string(nil), r.failed...)
}

func poolConfig() PoolConfig {
	return PoolConfig{
		MaxWorkers:    2,
		JobTimeout:    time.Second,
		MaxRetries:    3,
		RetryInterval: time.Millisecond,
	}
}

func startPool(t *testing.T, queue Queue, runner Runner) (context.CancelFunc, chan struct{}) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	pool := NewPool(queue, runner, poolConfig(), testLogger())
	go func() {
		pool.Start(ctx)
		close(done)
	}()

	return cancel, done
}

func TestPoolRetries(t *testing.T) {
	t.Run("recovers within the retry budget", func(t *testing.T) {
		queue := NewChannelQueue(4)
		runner := &flakyRunner{failures: 2}
		cancel, done := startPool(t, queue, runner)

		_, err := queue.Enqueue(context.Background(), "job-1")
		require.NoError(t, err)

		assert.Eventually(t, func() bool {
			runs, _ := runner.snapshot()
			return runs == 3
		}, 5*time.Second, 10*time.Millisecond)

		cancel()
		<-done

		_, failed := runner.snapshot()
		assert.Empty(t, failed)
	})

	t.Run("marks failed after the last attempt", func(t *testing.T) {
		queue := NewChannelQueue(4)
		runner := &flakyRunner{failures: 100}
		cancel, done := startPool(t, queue, runner)

		_, err := queue.Enqueue(context.Background(), "job-1")
		require.NoError(t, err)

		assert.Eventually(t, func() bool {
			_, failed := runner.snapshot()
			return len(failed) == 1
		}, 5*time.Second, 10*time.Millisecond)

		// 1 initial attempt + 3 retries.
		runs, failed := runner.snapshot()
		assert.Equal(t, 4, runs)
		assert.Contains(t, failed[0], "job-1")
		assert.Contains(t, failed[0], "transient")

		cancel()
		<-done
	})

	t.Run("validation errors are not retried", func(t *testing.T) {
		queue := NewChannelQueue(4)
		runner := &permanentRunner{}
		cancel, done := startPool(t, queue, runner)

		_, err := queue.Enqueue(context.Background(), "job-1")
		require.NoError(t, err)

		assert.Eventually(t, func() bool {
			runner.mu.Lock()
			defer runner.mu.Unlock()
			return runner.runs == 1
		}, 5*time.Second, 10*time.Millisecond)

		// Give a potential retry a chance to happen, then confirm it did not.
		time.Sleep(50 * time.Millisecond)

		runner.mu.Lock()
		assert.Equal(t, 1, runner.runs)
		assert.Zero(t, runner.fails)
		runner.mu.Unlock()

		cancel()
		<-done
	})
}

type permanentRunner struct {
	mu    sync.Mutex
	runs  int
	fails int
}

func (r *permanentRunner) Run(context.Context, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs++

	return model.Conflictf("job cancelled")
}

func (r *permanentRunner) Fail(context.Context, string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fails++
}

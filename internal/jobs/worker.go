package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/veriflow-io/veriflow/internal/model"
)

const (
	defaultMaxWorkers = 10
	defaultJobTimeout = 300 * time.Second

	// A failed run is retried this many times, one minute apart, before the
	// job ends in failed.
	defaultMaxRetries    = 3
	defaultRetryInterval = 60 * time.Second
)

// Runner executes one job end to end. Run returns an error only for
// infrastructure problems; a check that merely fails its rule is still a
// clean run.
type Runner interface {
	Run(ctx context.Context, jobID string) error

	// Fail marks the job failed with the final error after retries are
	// exhausted.
	Fail(ctx context.Context, jobID, message string)
}

// PoolConfig tunes the worker pool. Zero values select the defaults.
type PoolConfig struct {
	MaxWorkers    int
	JobTimeout    time.Duration
	MaxRetries    uint64
	RetryInterval time.Duration
}

// Pool consumes the queue with bounded concurrency. Workers share nothing
// but the database; each job gets its own runner session.
type Pool struct {
	queue  Queue
	runner Runner
	cfg    PoolConfig
	logger *slog.Logger

	slots chan struct{}
	wg    sync.WaitGroup
}

// NewPool creates a worker pool over a queue.
func NewPool(queue Queue, runner Runner, cfg PoolConfig, logger *slog.Logger) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = defaultMaxWorkers
	}

	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}

	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}

	return &Pool{
		queue:  queue,
		runner: runner,
		cfg:    cfg,
		logger: logger,
		slots:  make(chan struct{}, cfg.MaxWorkers),
	}
}

// Start consumes the queue until ctx is cancelled, then waits for in-flight
// jobs to finish.
func (p *Pool) Start(ctx context.Context) {
	err := p.queue.Consume(ctx, p.dispatch)
	if err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Error("queue consumer stopped", "error", err)
	}

	p.wg.Wait()
}

func (p *Pool) dispatch(ctx context.Context, jobID string) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return
	}

	p.wg.Add(1)

	go func() {
		defer func() {
			<-p.slots
			p.wg.Done()
		}()

		p.process(ctx, jobID)
	}()
}

// process runs one job with the retry policy. Validation, conflict and
// not-found errors are permanent: they mean the job was cancelled, deleted or
// is otherwise not runnable, which retrying cannot fix.
func (p *Pool) process(ctx context.Context, jobID string) {
	attempt := func() error {
		runCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
		defer cancel()

		err := p.runner.Run(runCtx, jobID)
		if err != nil && notRunnable(err) {
			return backoff.Permanent(err)
		}

		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.cfg.RetryInterval), p.cfg.MaxRetries), ctx)

	err := backoff.Retry(attempt, policy)
	if err == nil {
		return
	}

	p.logger.Error("job failed", "job_id", jobID, "error", err)

	if notRunnable(err) {
		// Not runnable; the job record already reflects why.
		return
	}

	failCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p.runner.Fail(failCtx, jobID, err.Error())
}

func notRunnable(err error) bool {
	return errors.Is(err, model.ErrValidation) ||
		errors.Is(err, model.ErrConflict) ||
		errors.Is(err, model.ErrNotFound)
}

// CheckSource loads the check a job executes.
type CheckSource interface {
	GetByID(ctx context.Context, id string) (*model.Check, error)
}

// ResultSink persists one execution result.
type ResultSink interface {
	Insert(ctx context.Context, result *model.CheckResult) (*model.CheckResult, error)
}

// Executor turns a check into a result. Execution never raises; failures
// come back as failed results.
type Executor interface {
	Execute(ctx context.Context, check *model.Check) *model.CheckResult
}

// IncidentManager folds results into incidents.
type IncidentManager interface {
	OpenOrUpdate(ctx context.Context, check *model.Check, result *model.CheckResult) (*model.Incident, error)
	Resolve(ctx context.Context, checkID, resolvedBy, notes string) (*model.Incident, error)
}

// Session bundles the per-job dependencies. Close releases the job's
// database connection.
type Session struct {
	Jobs      JobStore
	Checks    CheckSource
	Executor  Executor
	Results   ResultSink
	Incidents IncidentManager

	close func() error
}

// Close releases the session.
func (s *Session) Close() error {
	if s.close == nil {
		return nil
	}

	return s.close()
}

// SessionFactory opens a fresh session for one job.
type SessionFactory func(ctx context.Context) (*Session, error)

// CheckRunner is the production Runner: per job it opens a session, executes
// the check, persists the result, and settles the incident state.
type CheckRunner struct {
	sessions SessionFactory
	logger   *slog.Logger
}

// NewCheckRunner creates a runner over a session factory.
func NewCheckRunner(sessions SessionFactory, logger *slog.Logger) *CheckRunner {
	return &CheckRunner{sessions: sessions, logger: logger}
}

// Run executes one job. The job completes even when the check fails its
// rule; only infrastructure errors surface to the pool's retry policy.
func (r *CheckRunner) Run(ctx context.Context, jobID string) error {
	sess, err := r.sessions(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	// Re-running after a retry finds the job already in running.
	job, err := sess.Jobs.Transition(ctx, jobID,
		[]model.JobStatus{model.JobPending, model.JobRunning}, model.JobRunning, "")
	if err != nil {
		return err
	}

	check, err := sess.Checks.GetByID(ctx, job.CheckID)
	if err != nil {
		return err
	}

	result := sess.Executor.Execute(ctx, check)
	result.JobID = job.ID

	persisted, err := sess.Results.Insert(ctx, result)
	if err != nil {
		return fmt.Errorf("persisting result for job %s: %w", jobID, err)
	}

	if persisted.Passed {
		_, err = sess.Incidents.Resolve(ctx, check.ID, "system", "check passed")
	} else {
		_, err = sess.Incidents.OpenOrUpdate(ctx, check, persisted)
	}
	if err != nil {
		return fmt.Errorf("settling incident for job %s: %w", jobID, err)
	}

	_, err = sess.Jobs.Transition(ctx, jobID,
		[]model.JobStatus{model.JobRunning}, model.JobCompleted, "")

	return err
}

// Fail marks the job failed with the final error message.
func (r *CheckRunner) Fail(ctx context.Context, jobID, message string) {
	sess, err := r.sessions(ctx)
	if err != nil {
		r.logger.Error("cannot open session to fail job", "job_id", jobID, "error", err)
		return
	}
	defer sess.Close()

	_, err = sess.Jobs.Transition(ctx, jobID,
		[]model.JobStatus{model.JobPending, model.JobRunning}, model.JobFailed, message)
	if err != nil {
		r.logger.Error("cannot mark job failed", "job_id", jobID, "error", err)
	}
}

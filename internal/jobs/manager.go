package jobs

import (
	"context"
	"log/slog"

	"github.com/veriflow-io/veriflow/internal/model"
)

// JobStore is the persistence surface the manager and workers need.
type JobStore interface {
	Create(ctx context.Context, checkID string, metadata map[string]any) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	Transition(ctx context.Context, id string, from []model.JobStatus, next model.JobStatus, errorMessage string) (*model.Job, error)
	SetTaskID(ctx context.Context, id, taskID string) error
}

// Manager drives the job state machine and hands submitted jobs to the
// queue. Transition legality is double-checked by the store's compare-and-set
// so a racing worker cannot resurrect a cancelled job.
type Manager struct {
	jobs   JobStore
	queue  Queue
	logger *slog.Logger
}

// NewManager creates a job manager.
func NewManager(jobs JobStore, queue Queue, logger *slog.Logger) *Manager {
	return &Manager{jobs: jobs, queue: queue, logger: logger}
}

// Create records a pending job for a check. triggeredBy names the origin
// (manual, scheduler, batch); scheduleID is set for scheduler-created jobs.
func (m *Manager) Create(ctx context.Context, checkID, triggeredBy, scheduleID string) (*model.Job, error) {
	metadata := map[string]any{"triggered_by": triggeredBy}
	if scheduleID != "" {
		metadata["schedule_id"] = scheduleID
	}

	return m.jobs.Create(ctx, checkID, metadata)
}

// Submit enqueues a pending job and records the task id it rides on.
func (m *Manager) Submit(ctx context.Context, jobID string) (string, error) {
	job, err := m.jobs.GetByID(ctx, jobID)
	if err != nil {
		return "", err
	}

	if job.Status != model.JobPending {
		return "", model.Validationf("job %s is %s, only pending jobs can be submitted", jobID, job.Status)
	}

	taskID, err := m.queue.Enqueue(ctx, jobID)
	if err != nil {
		return "", err
	}

	if err := m.jobs.SetTaskID(ctx, jobID, taskID); err != nil {
		return "", err
	}

	m.logger.Info("job submitted", "job_id", jobID, "task_id", taskID)

	return taskID, nil
}

// Run is Create followed by Submit.
func (m *Manager) Run(ctx context.Context, checkID, triggeredBy, scheduleID string) (*model.Job, string, error) {
	job, err := m.Create(ctx, checkID, triggeredBy, scheduleID)
	if err != nil {
		return nil, "", err
	}

	taskID, err := m.Submit(ctx, job.ID)
	if err != nil {
		return nil, "", err
	}

	return job, taskID, nil
}

// UpdateStatus applies one legal state-machine step. started_at is stamped
// on the first move to running and completed_at on terminal moves, both by
// the store.
func (m *Manager) UpdateStatus(ctx context.Context, jobID string, status model.JobStatus, errorMessage string) (*model.Job, error) {
	var from []model.JobStatus

	switch status {
	case model.JobRunning:
		from = []model.JobStatus{model.JobPending}
	case model.JobCompleted, model.JobFailed:
		from = []model.JobStatus{model.JobRunning}
	case model.JobCancelled:
		from = []model.JobStatus{model.JobPending, model.JobRunning}
	default:
		return nil, model.Validationf("cannot transition a job to %s", status)
	}

	return m.jobs.Transition(ctx, jobID, from, status, errorMessage)
}

// Cancel aborts a pending or running job. Terminal jobs reject the move.
func (m *Manager) Cancel(ctx context.Context, jobID string) (*model.Job, error) {
	return m.UpdateStatus(ctx, jobID, model.JobCancelled, "")
}

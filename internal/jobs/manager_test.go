package jobs

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veriflow-io/veriflow/internal/model"
)

// memJobs mirrors the store's compare-and-set transition semantics in
// memory, including the started_at/completed_at stamps.
type memJobs struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: map[string]*model.Job{}}
}

func (s *memJobs) Create(_ context.Context, checkID string, metadata map[string]any) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := &model.Job{
		ID:        uuid.NewString(),
		CheckID:   checkID,
		Status:    model.JobPending,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}

	clone := *job
	s.jobs[job.ID] = &clone

	return job, nil
}

func (s *memJobs) GetByID(_ context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, model.NotFoundf("job %s", id)
	}

	clone := *job
	return &clone, nil
}

func (s *memJobs) Transition(_ context.Context, id string, from []model.JobStatus, next model.JobStatus, errorMessage string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, model.NotFoundf("job %s", id)
	}

	allowed := false
	for _, f := range from {
		if job.Status == f {
			allowed = true
			break
		}
	}

	if !allowed {
		return nil, model.Conflictf("job %s cannot transition from %s to %s", id, job.Status, next)
	}

	now := time.Now().UTC()
	job.Status = next

	if next == model.JobRunning && job.StartedAt == nil {
		job.StartedAt = &now
	}

	if next.Terminal() {
		job.CompletedAt = &now
	}

	if errorMessage != "" {
		job.ErrorMessage = errorMessage
	}

	clone := *job
	return &clone, nil
}

func (s *memJobs) SetTaskID(_ context.Context, id, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return model.NotFoundf("job %s", id)
	}

	if job.Metadata == nil {
		job.Metadata = map[string]any{}
	}

	job.Metadata["task_id"] = taskID

	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestManagerCreate(t *testing.T) {
	store := newMemJobs()
	m := NewManager(store, NewChannelQueue(8), testLogger())

	job, err := m.Create(context.Background(), "chk-1", "scheduler", "sched-1")
	require.NoError(t, err)

	assert.Equal(t, model.JobPending, job.Status)
	assert.Equal(t, "scheduler", job.TriggeredBy())
	assert.Equal(t, "sched-1", job.ScheduleID())

	manual, err := m.Create(context.Background(), "chk-1", "manual", "")
	require.NoError(t, err)
	assert.Equal(t, "", manual.ScheduleID())
}

func TestManagerSubmit(t *testing.T) {
	store := newMemJobs()
	queue := NewChannelQueue(8)
	m := NewManager(store, queue, testLogger())
	ctx := context.Background()

	job, err := m.Create(ctx, "chk-1", "manual", "")
	require.NoError(t, err)

	taskID, err := m.Submit(ctx, job.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, taskID)

	stored, err := store.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, taskID, stored.Metadata["task_id"])

	// The job ID is on the queue.
	received := make(chan string, 1)
	consumeCtx, cancel := context.WithCancel(ctx)
	go queue.Consume(consumeCtx, func(_ context.Context, jobID string) {
		received <- jobID
	})

	select {
	case got := <-received:
		assert.Equal(t, job.ID, got)
	case <-time.After(time.Second):
		t.Fatal("job was not enqueued")
	}
	cancel()

	// A job can only be submitted while pending.
	_, err = store.Transition(ctx, job.ID, []model.JobStatus{model.JobPending}, model.JobRunning, "")
	require.NoError(t, err)

	_, err = m.Submit(ctx, job.ID)
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestManagerStatusTransitions(t *testing.T) {
	ctx := context.Background()

	newJob := func(t *testing.T, m *Manager) *model.Job {
		t.Helper()

		job, err := m.Create(ctx, "chk-1", "manual", "")
		require.NoError(t, err)

		return job
	}

	t.Run("linear lifecycle stamps timestamps", func(t *testing.T) {
		m := NewManager(newMemJobs(), NewChannelQueue(1), testLogger())
		job := newJob(t, m)

		running, err := m.UpdateStatus(ctx, job.ID, model.JobRunning, "")
		require.NoError(t, err)
		assert.NotNil(t, running.StartedAt)
		assert.Nil(t, running.CompletedAt)

		done, err := m.UpdateStatus(ctx, job.ID, model.JobCompleted, "")
		require.NoError(t, err)
		assert.NotNil(t, done.CompletedAt)
	})

	t.Run("failed records the error", func(t *testing.T) {
		m := NewManager(newMemJobs(), NewChannelQueue(1), testLogger())
		job := newJob(t, m)

		_, err := m.UpdateStatus(ctx, job.ID, model.JobRunning, "")
		require.NoError(t, err)

		failed, err := m.UpdateStatus(ctx, job.ID, model.JobFailed, "connection refused")
		require.NoError(t, err)
		assert.Equal(t, "connection refused", failed.ErrorMessage)
	})

	t.Run("cancel from pending and running", func(t *testing.T) {
		m := NewManager(newMemJobs(), NewChannelQueue(1), testLogger())

		pending := newJob(t, m)
		cancelled, err := m.Cancel(ctx, pending.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobCancelled, cancelled.Status)

		running := newJob(t, m)
		_, err = m.UpdateStatus(ctx, running.ID, model.JobRunning, "")
		require.NoError(t, err)

		cancelled, err = m.Cancel(ctx, running.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobCancelled, cancelled.Status)
	})

	t.Run("terminal states are sticky", func(t *testing.T) {
		m := NewManager(newMemJobs(), NewChannelQueue(1), testLogger())
		job := newJob(t, m)

		_, err := m.UpdateStatus(ctx, job.ID, model.JobRunning, "")
		require.NoError(t, err)
		_, err = m.UpdateStatus(ctx, job.ID, model.JobCompleted, "")
		require.NoError(t, err)

		_, err = m.Cancel(ctx, job.ID)
		require.ErrorIs(t, err, model.ErrConflict)

		_, err = m.UpdateStatus(ctx, job.ID, model.JobRunning, "")
		require.ErrorIs(t, err, model.ErrConflict)
	})

	t.Run("skipping running is rejected", func(t *testing.T) {
		m := NewManager(newMemJobs(), NewChannelQueue(1), testLogger())
		job := newJob(t, m)

		_, err := m.UpdateStatus(ctx, job.ID, model.JobCompleted, "")
		require.ErrorIs(t, err, model.ErrConflict)
	})
}

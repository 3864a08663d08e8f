package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veriflow-io/veriflow/internal/model"
)

// JobFilter narrows job listings.
type JobFilter struct {
	CheckID string
	Status  model.JobStatus
	Limit   int
	Offset  int
}

// JobStore persists job records. Status transition legality is enforced by the
// job manager; the store additionally guards with a compare-and-set so stale
// writers cannot resurrect terminal jobs.
type JobStore struct {
	conn *Connection
}

// NewJobStore creates a job store.
func NewJobStore(conn *Connection) (*JobStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &JobStore{conn: conn}, nil
}

// Create inserts a pending job.
func (s *JobStore) Create(ctx context.Context, checkID string, metadata map[string]any) (*model.Job, error) {
	job := &model.Job{
		ID:        uuid.NewString(),
		CheckID:   checkID,
		Status:    model.JobPending,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}

	metadataJSON, err := marshalJSON(job.Metadata)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO jobs (id, check_id, status, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err = s.conn.ExecContext(ctx, query,
		job.ID, job.CheckID, string(job.Status), metadataJSON, job.CreatedAt)
	if err != nil {
		return nil, translateError(err, "job")
	}

	return job, nil
}

// GetByID fetches a job by ID.
func (s *JobStore) GetByID(ctx context.Context, id string) (*model.Job, error) {
	rows, err := s.conn.QueryContext(ctx, jobSelect+` WHERE id = $1`, id)
	if err != nil {
		return nil, translateError(err, "job")
	}

	defer func() {
		_ = rows.Close()
	}()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, translateError(err, "job")
		}

		return nil, model.NotFoundf("job %s", id)
	}

	return scanJob(rows)
}

// List returns jobs matching the filter, newest first.
func (s *JobStore) List(ctx context.Context, filter JobFilter) ([]*model.Job, error) {
	var (
		conditions []string
		args       []any
	)

	if filter.CheckID != "" {
		args = append(args, filter.CheckID)
		conditions = append(conditions, fmt.Sprintf("check_id = $%d", len(args)))
	}

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	query := jobSelect
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateError(err, "jobs")
	}

	defer func() {
		_ = rows.Close()
	}()

	var jobs []*model.Job

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}

		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, translateError(err, "jobs")
	}

	return jobs, nil
}

// SetTaskID records the queue task id a submitted job rides on.
func (s *JobStore) SetTaskID(ctx context.Context, id, taskID string) error {
	query := `
		UPDATE jobs
		SET metadata = COALESCE(metadata, '{}'::jsonb) || jsonb_build_object('task_id', $2::text)
		WHERE id = $1
	`

	result, err := s.conn.ExecContext(ctx, query, id, taskID)
	if err != nil {
		return translateError(err, "job")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return translateError(err, "job")
	}

	if affected == 0 {
		return model.NotFoundf("job %s", id)
	}

	return nil
}

// Transition atomically moves a job from one of the allowed source states to
// next, stamping started_at on the first move to running and completed_at on
// terminal moves. Returns ErrConflict when the job is no longer in an allowed
// source state (terminal states are sticky).
func (s *JobStore) Transition(
	ctx context.Context,
	id string,
	from []model.JobStatus,
	next model.JobStatus,
	errorMessage string,
) (*model.Job, error) {
	fromStates := make([]string, len(from))
	for i, f := range from {
		fromStates[i] = string(f)
	}

	set := []string{"status = $2"}
	args := []any{id, string(next)}

	if next == model.JobRunning {
		set = append(set, "started_at = COALESCE(started_at, NOW())")
	}

	if next.Terminal() {
		set = append(set, "completed_at = NOW()")
	}

	if errorMessage != "" {
		args = append(args, errorMessage)
		set = append(set, fmt.Sprintf("error_message = $%d", len(args)))
	}

	args = append(args, pqStringArray(fromStates))

	query := fmt.Sprintf(
		`UPDATE jobs SET %s WHERE id = $1 AND status = ANY($%d)`,
		strings.Join(set, ", "), len(args),
	)

	result, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, translateError(err, "job")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, translateError(err, "job")
	}

	if affected == 0 {
		// Distinguish a missing job from an illegal transition.
		job, getErr := s.GetByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}

		return nil, model.Conflictf(
			"job %s cannot transition from %s to %s", id, job.Status, next)
	}

	return s.GetByID(ctx, id)
}

const jobSelect = `
	SELECT id, check_id, status, started_at, completed_at, error_message, metadata, created_at
	FROM jobs
`

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		job          model.Job
		status       string
		startedAt    *time.Time
		completedAt  *time.Time
		errorMessage []byte
		metadataJSON []byte
	)

	err := row.Scan(
		&job.ID, &job.CheckID, &status, &startedAt, &completedAt,
		&errorMessage, &metadataJSON, &job.CreatedAt,
	)
	if err != nil {
		return nil, translateError(err, "job")
	}

	job.Status = model.JobStatus(status)
	job.StartedAt = startedAt
	job.CompletedAt = completedAt
	job.ErrorMessage = string(errorMessage)

	if err := unmarshalJSON(metadataJSON, &job.Metadata); err != nil {
		return nil, err
	}

	return &job, nil
}

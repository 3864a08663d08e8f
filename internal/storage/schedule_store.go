package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/veriflow-io/veriflow/internal/model"
)

// ScheduleStore persists cron schedules.
type ScheduleStore struct {
	conn *Connection
}

// NewScheduleStore creates a schedule store.
func NewScheduleStore(conn *Connection) (*ScheduleStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &ScheduleStore{conn: conn}, nil
}

// Create inserts a new schedule. Cron validation and next_run_at computation
// happen in the scheduler package before this is called.
func (s *ScheduleStore) Create(ctx context.Context, schedule *model.Schedule) (*model.Schedule, error) {
	if schedule.ID == "" {
		schedule.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	schedule.CreatedAt = now
	schedule.UpdatedAt = now

	query := `
		INSERT INTO schedules (
			id, check_id, cron_expression, timezone, is_active,
			last_run_at, next_run_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.conn.ExecContext(ctx, query,
		schedule.ID, schedule.CheckID, schedule.CronExpression, schedule.Timezone,
		schedule.IsActive, nullTime(schedule.LastRunAt), nullTime(schedule.NextRunAt),
		schedule.CreatedAt, schedule.UpdatedAt,
	)
	if err != nil {
		return nil, translateError(err, "schedule")
	}

	return schedule, nil
}

// GetByID fetches a schedule by ID.
func (s *ScheduleStore) GetByID(ctx context.Context, id string) (*model.Schedule, error) {
	rows, err := s.conn.QueryContext(ctx, scheduleSelect+` WHERE id = $1`, id)
	if err != nil {
		return nil, translateError(err, "schedule")
	}

	defer func() {
		_ = rows.Close()
	}()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, translateError(err, "schedule")
		}

		return nil, model.NotFoundf("schedule %s", id)
	}

	return scanSchedule(rows)
}

// List returns all schedules, optionally only active ones.
func (s *ScheduleStore) List(ctx context.Context, onlyActive bool) ([]*model.Schedule, error) {
	query := scheduleSelect
	if onlyActive {
		query += ` WHERE is_active = TRUE`
	}

	query += ` ORDER BY created_at DESC`

	return s.queryMany(ctx, query)
}

// Due returns active schedules whose next_run_at has passed.
func (s *ScheduleStore) Due(ctx context.Context, now time.Time) ([]*model.Schedule, error) {
	query := scheduleSelect + `
		WHERE is_active = TRUE AND next_run_at IS NOT NULL AND next_run_at <= $1
		ORDER BY next_run_at ASC
	`

	return s.queryMany(ctx, query, now)
}

// Update replaces the mutable schedule fields.
func (s *ScheduleStore) Update(ctx context.Context, schedule *model.Schedule) (*model.Schedule, error) {
	schedule.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE schedules SET
			cron_expression = $2, timezone = $3, is_active = $4,
			last_run_at = $5, next_run_at = $6, updated_at = $7
		WHERE id = $1
	`

	result, err := s.conn.ExecContext(ctx, query,
		schedule.ID, schedule.CronExpression, schedule.Timezone, schedule.IsActive,
		nullTime(schedule.LastRunAt), nullTime(schedule.NextRunAt), schedule.UpdatedAt,
	)
	if err != nil {
		return nil, translateError(err, "schedule")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, translateError(err, "schedule")
	}

	if affected == 0 {
		return nil, model.NotFoundf("schedule %s", schedule.ID)
	}

	return schedule, nil
}

// MarkRun advances the run bookkeeping after a firing.
func (s *ScheduleStore) MarkRun(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	result, err := s.conn.ExecContext(ctx, `
		UPDATE schedules
		SET last_run_at = $2, next_run_at = $3, updated_at = NOW()
		WHERE id = $1
	`, id, lastRun, nextRun)
	if err != nil {
		return translateError(err, "schedule")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return translateError(err, "schedule")
	}

	if affected == 0 {
		return model.NotFoundf("schedule %s", id)
	}

	return nil
}

// Delete removes a schedule.
func (s *ScheduleStore) Delete(ctx context.Context, id string) error {
	result, err := s.conn.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return translateError(err, "schedule")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return translateError(err, "schedule")
	}

	if affected == 0 {
		return model.NotFoundf("schedule %s", id)
	}

	return nil
}

func (s *ScheduleStore) queryMany(ctx context.Context, query string, args ...any) ([]*model.Schedule, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateError(err, "schedules")
	}

	defer func() {
		_ = rows.Close()
	}()

	var schedules []*model.Schedule

	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}

		schedules = append(schedules, schedule)
	}

	if err := rows.Err(); err != nil {
		return nil, translateError(err, "schedules")
	}

	return schedules, nil
}

const scheduleSelect = `
	SELECT id, check_id, cron_expression, timezone, is_active,
		last_run_at, next_run_at, created_at, updated_at
	FROM schedules
`

func scanSchedule(row rowScanner) (*model.Schedule, error) {
	var schedule model.Schedule

	err := row.Scan(
		&schedule.ID, &schedule.CheckID, &schedule.CronExpression, &schedule.Timezone,
		&schedule.IsActive, &schedule.LastRunAt, &schedule.NextRunAt,
		&schedule.CreatedAt, &schedule.UpdatedAt,
	)
	if err != nil {
		return nil, translateError(err, "schedule")
	}

	return &schedule, nil
}

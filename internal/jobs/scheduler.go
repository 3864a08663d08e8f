package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/veriflow-io/veriflow/internal/model"
)

// tickInterval is how often the scheduler looks for due schedules. A missed
// tick fires the schedule once on the next tick; missed intervals are not
// replayed.
const tickInterval = 60 * time.Second

// ScheduleStore is the persistence surface the scheduler needs.
type ScheduleStore interface {
	Due(ctx context.Context, now time.Time) ([]*model.Schedule, error)
	MarkRun(ctx context.Context, id string, lastRun, nextRun time.Time) error
}

// Submitter creates and enqueues a job for a due schedule.
type Submitter interface {
	Run(ctx context.Context, checkID, triggeredBy, scheduleID string) (*model.Job, string, error)
}

// Scheduler fires active schedules whose next_run_at has passed.
type Scheduler struct {
	schedules ScheduleStore
	manager   Submitter
	logger    *slog.Logger
	now       func() time.Time
}

// NewScheduler creates a scheduler over the schedule store and job manager.
func NewScheduler(schedules ScheduleStore, manager Submitter, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		schedules: schedules,
		manager:   manager,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start ticks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Tick fires every due schedule once. A schedule that fails to submit keeps
// its next_run_at and is retried on the next tick.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()

	due, err := s.schedules.Due(ctx, now)
	if err != nil {
		s.logger.Error("cannot load due schedules", "error", err)
		return
	}

	for _, schedule := range due {
		job, taskID, err := s.manager.Run(ctx, schedule.CheckID, "scheduler", schedule.ID)
		if err != nil {
			s.logger.Error("cannot fire schedule",
				"schedule_id", schedule.ID, "check_id", schedule.CheckID, "error", err)
			continue
		}

		next, err := NextRun(schedule.CronExpression, schedule.Timezone, now)
		if err != nil {
			// The expression was validated at write time; log and park the
			// schedule rather than firing it every tick.
			s.logger.Error("cannot compute next run",
				"schedule_id", schedule.ID, "cron", schedule.CronExpression, "error", err)
			continue
		}

		if err := s.schedules.MarkRun(ctx, schedule.ID, now, next); err != nil {
			s.logger.Error("cannot mark schedule run", "schedule_id", schedule.ID, "error", err)
			continue
		}

		s.logger.Info("schedule fired",
			"schedule_id", schedule.ID, "job_id", job.ID, "task_id", taskID,
			"next_run_at", next.Format(time.RFC3339))
	}
}

// ValidateCron rejects anything but a parseable standard 5-field expression.
func ValidateCron(expression string) error {
	if _, err := cron.ParseStandard(expression); err != nil {
		return model.Validationf("invalid cron expression %q: %v", expression, err)
	}

	return nil
}

// NextRun computes the next firing strictly after now, evaluated in the
// schedule's timezone (UTC when unset) and returned in UTC.
func NextRun(expression, timezone string, now time.Time) (time.Time, error) {
	schedule, err := cron.ParseStandard(expression)
	if err != nil {
		return time.Time{}, model.Validationf("invalid cron expression %q: %v", expression, err)
	}

	loc := time.UTC
	if timezone != "" {
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return time.Time{}, model.Validationf("invalid timezone %q: %v", timezone, err)
		}
	}

	return schedule.Next(now.In(loc)).UTC(), nil
}

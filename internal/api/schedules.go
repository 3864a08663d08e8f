package api

import (
	"net/http"
	"time"

	"github.com/veriflow-io/veriflow/internal/jobs"
	"github.com/veriflow-io/veriflow/internal/model"
)

type (
	// CreateScheduleRequest binds a cron expression to a check.
	CreateScheduleRequest struct {
		CheckID        string `json:"check_id"`
		CronExpression string `json:"cron_expression"`
		Timezone       string `json:"timezone"`
	}

	// UpdateScheduleRequest replaces a schedule's cron settings. Nil fields
	// keep the stored values.
	UpdateScheduleRequest struct {
		CronExpression *string `json:"cron_expression"`
		Timezone       *string `json:"timezone"`
		IsActive       *bool   `json:"is_active"`
	}
)

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	if req.CheckID == "" {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity("check_id is required"))

		return
	}

	if err := jobs.ValidateCron(req.CronExpression); err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	timezone := req.Timezone
	if timezone == "" {
		timezone = "UTC"
	}

	nextRun, err := jobs.NextRun(req.CronExpression, timezone, time.Now())
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	// The check must exist before the schedule is stored.
	if _, err := s.deps.Checks.GetByID(r.Context(), req.CheckID); err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	schedule := &model.Schedule{
		CheckID:        req.CheckID,
		CronExpression: req.CronExpression,
		Timezone:       timezone,
		IsActive:       true,
		NextRunAt:      &nextRun,
	}

	created, err := s.deps.Schedules.Create(r.Context(), schedule)
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	s.writeJSON(w, r, http.StatusCreated, created)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	onlyActive := false
	if v := queryBool(r, "only_active"); v != nil {
		onlyActive = *v
	}

	list, err := s.deps.Schedules.List(r.Context(), onlyActive)
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	if list == nil {
		list = []*model.Schedule{}
	}

	s.writeJSON(w, r, http.StatusOK, list)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	schedule, err := s.deps.Schedules.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, schedule)
}

// handleUpdateSchedule rewrites cron settings and recomputes the next firing
// so a paused-then-resumed schedule never replays missed runs.
func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var req UpdateScheduleRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	schedule, err := s.deps.Schedules.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	if req.CronExpression != nil {
		if err := jobs.ValidateCron(*req.CronExpression); err != nil {
			WriteDomainError(w, r, s.logger, err)

			return
		}

		schedule.CronExpression = *req.CronExpression
	}

	if req.Timezone != nil {
		schedule.Timezone = *req.Timezone
	}

	if req.IsActive != nil {
		schedule.IsActive = *req.IsActive
	}

	nextRun, err := jobs.NextRun(schedule.CronExpression, schedule.Timezone, time.Now())
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	schedule.NextRunAt = &nextRun

	updated, err := s.deps.Schedules.Update(r.Context(), schedule)
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, updated)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Schedules.Delete(r.Context(), r.PathValue("id")); err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

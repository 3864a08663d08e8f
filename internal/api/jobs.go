package api

import (
	"net/http"

	"github.com/veriflow-io/veriflow/internal/model"
	"github.com/veriflow-io/veriflow/internal/storage"
)

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := storage.JobFilter{
		CheckID: r.URL.Query().Get("check_id"),
		Status:  model.JobStatus(r.URL.Query().Get("status")),
		Limit:   queryInt(r, "limit", 0),
		Offset:  queryInt(r, "offset", 0),
	}

	list, err := s.deps.Jobs.List(r.Context(), filter)
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	if list == nil {
		list = []*model.Job{}
	}

	s.writeJSON(w, r, http.StatusOK, list)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, job)
}

// handleCancelJob cancels a pending or running job. Jobs already in a
// terminal state come back as a conflict.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Runner.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, job)
}

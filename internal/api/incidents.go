package api

import (
	"net/http"

	"github.com/veriflow-io/veriflow/internal/model"
	"github.com/veriflow-io/veriflow/internal/storage"
)

// PatchIncidentRequest transitions an incident through its lifecycle.
// By records who acknowledged or resolved it; Notes only applies when
// resolving.
type PatchIncidentRequest struct {
	Status string `json:"status"`
	By     string `json:"by"`
	Notes  string `json:"notes"`
}

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	filter := storage.IncidentFilter{
		CheckID:  r.URL.Query().Get("check_id"),
		Status:   model.IncidentStatus(r.URL.Query().Get("status")),
		Severity: model.IncidentSeverity(r.URL.Query().Get("severity")),
		Limit:    queryInt(r, "limit", 0),
		Offset:   queryInt(r, "offset", 0),
	}

	list, err := s.deps.Incidents.List(r.Context(), filter)
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	if list == nil {
		list = []*model.Incident{}
	}

	s.writeJSON(w, r, http.StatusOK, list)
}

func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	incident, err := s.deps.Incidents.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, incident)
}

// handlePatchIncident applies a lifecycle transition. Illegal transitions
// (e.g. reopening a resolved incident) surface as a conflict.
func (s *Server) handlePatchIncident(w http.ResponseWriter, r *http.Request) {
	var req PatchIncidentRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	status := model.IncidentStatus(req.Status)
	if status != model.IncidentAcknowledged && status != model.IncidentResolved {
		WriteErrorResponse(w, r, s.logger,
			UnprocessableEntity("status must be acknowledged or resolved"))

		return
	}

	incident, err := s.deps.IncidentOps.UpdateStatus(r.Context(), r.PathValue("id"), status, req.By, req.Notes)
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, incident)
}

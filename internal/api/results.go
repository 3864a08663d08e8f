package api

import (
	"net/http"

	"github.com/veriflow-io/veriflow/internal/model"
	"github.com/veriflow-io/veriflow/internal/storage"
)

func resultFilterFromQuery(r *http.Request) storage.ResultFilter {
	return storage.ResultFilter{
		CheckID:      r.URL.Query().Get("check_id"),
		ConnectionID: r.URL.Query().Get("connection_id"),
		Passed:       queryBool(r, "passed"),
		FromDate:     queryTime(r, "from_date"),
		ToDate:       queryTime(r, "to_date"),
		Limit:        queryInt(r, "limit", 0),
		Offset:       queryInt(r, "offset", 0),
	}
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Results.List(r.Context(), resultFilterFromQuery(r))
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	if list == nil {
		list = []*model.CheckResult{}
	}

	s.writeJSON(w, r, http.StatusOK, list)
}

// handleResultsSummary aggregates pass rate, counts and average execution
// time over the filtered result window.
func (s *Server) handleResultsSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Results.Summary(r.Context(), resultFilterFromQuery(r))
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, summary)
}

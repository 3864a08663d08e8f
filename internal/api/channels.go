package api

import (
	"net/http"

	"github.com/veriflow-io/veriflow/internal/model"
)

type (
	// CreateChannelRequest registers a webhook notification channel.
	CreateChannelRequest struct {
		Name        string              `json:"name"`
		ChannelType string              `json:"channel_type"`
		Config      model.ChannelConfig `json:"config"`
		Events      []string            `json:"events"`
		MinSeverity string              `json:"min_severity"`
	}

	// TestChannelResponse reports the outcome of a synchronous test delivery.
	TestChannelResponse struct {
		Success    bool   `json:"success"`
		StatusCode int    `json:"status_code,omitempty"`
		Message    string `json:"message,omitempty"`
	}
)

// buildChannel validates a channel definition and assembles the model.
func buildChannel(req CreateChannelRequest) (*model.NotificationChannel, error) {
	if req.Name == "" {
		return nil, model.Validationf("name is required")
	}

	if req.Config.URL == "" {
		return nil, model.Validationf("config.url is required")
	}

	channelType := req.ChannelType
	if channelType == "" {
		channelType = "webhook"
	}

	events := make([]model.EventType, 0, len(req.Events))

	for _, raw := range req.Events {
		event := model.EventType(raw)
		switch event {
		case model.EventIncidentOpened, model.EventIncidentResolved, model.EventTest:
			events = append(events, event)
		default:
			return nil, model.Validationf("unknown event type: %s", raw)
		}
	}

	// Channels with no explicit subscription receive every incident event.
	if len(events) == 0 {
		events = []model.EventType{model.EventIncidentOpened, model.EventIncidentResolved}
	}

	var minSeverity *model.ResultSeverity

	if req.MinSeverity != "" {
		severity := model.ResultSeverity(req.MinSeverity)
		if !severity.Valid() {
			return nil, model.Validationf("invalid min_severity: %s", req.MinSeverity)
		}

		minSeverity = &severity
	}

	return &model.NotificationChannel{
		Name:        req.Name,
		ChannelType: channelType,
		Config:      req.Config,
		Events:      events,
		MinSeverity: minSeverity,
		IsActive:    true,
	}, nil
}

func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	var req CreateChannelRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	channel, err := buildChannel(req)
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	created, err := s.deps.Channels.Create(r.Context(), channel)
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	s.writeJSON(w, r, http.StatusCreated, created)
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Channels.List(r.Context())
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	if list == nil {
		list = []*model.NotificationChannel{}
	}

	s.writeJSON(w, r, http.StatusOK, list)
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	channel, err := s.deps.Channels.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, channel)
}

// handleUpdateChannel replaces the channel definition. The stored active
// flag and creation timestamp survive the rewrite.
func (s *Server) handleUpdateChannel(w http.ResponseWriter, r *http.Request) {
	var req CreateChannelRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	existing, err := s.deps.Channels.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	channel, err := buildChannel(req)
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	channel.ID = existing.ID
	channel.IsActive = existing.IsActive
	channel.CreatedAt = existing.CreatedAt

	updated, err := s.deps.Channels.Update(r.Context(), channel)
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, updated)
}

func (s *Server) handleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Channels.Delete(r.Context(), r.PathValue("id")); err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleTestChannel delivers a synchronous test event to the channel's
// webhook. Delivery failures come back as a 200 with success=false so the
// caller sees the upstream status code rather than a generic 5xx.
func (s *Server) handleTestChannel(w http.ResponseWriter, r *http.Request) {
	channel, err := s.deps.Channels.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	if s.deps.Notifier == nil {
		WriteErrorResponse(w, r, s.logger, NewProblemDetail(
			http.StatusServiceUnavailable,
			"Service Unavailable",
			"Notification dispatch is not configured",
		))

		return
	}

	statusCode, err := s.deps.Notifier.TestSend(r.Context(), channel)
	if err != nil {
		s.writeJSON(w, r, http.StatusOK, TestChannelResponse{
			Success:    false,
			StatusCode: statusCode,
			Message:    err.Error(),
		})

		return
	}

	s.writeJSON(w, r, http.StatusOK, TestChannelResponse{
		Success:    true,
		StatusCode: statusCode,
		Message:    "test event delivered",
	})
}

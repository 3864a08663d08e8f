package api

import (
	"net/http"

	"github.com/veriflow-io/veriflow/internal/connector"

	"github.com/veriflow-io/veriflow/internal/model"
)

type (
	// CreateConnectionRequest is the payload for registering a data source.
	CreateConnectionRequest struct {
		Name   string         `json:"name"`
		Type   string         `json:"type"`
		Config map[string]any `json:"config"`
	}

	// UpdateConnectionRequest carries a partial connection update. A nil
	// Config keeps the stored configuration.
	UpdateConnectionRequest struct {
		Name   string         `json:"name"`
		Config map[string]any `json:"config"`
	}

	// TestConnectionResponse reports the outcome of a connectivity probe.
	TestConnectionResponse struct {
		Success bool   `json:"success"`
		Message string `json:"message,omitempty"`
	}
)

func (s *Server) handleCreateConnection(w http.ResponseWriter, r *http.Request) {
	var req CreateConnectionRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	if req.Name == "" {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity("name is required"))

		return
	}

	connType := model.ConnectionType(req.Type)
	if !connType.Valid() {
		WriteErrorResponse(w, r, s.logger,
			UnprocessableEntity("unsupported connection type: "+req.Type))

		return
	}

	connection, err := s.deps.Connections.Create(r.Context(), req.Name, connType, req.Config)
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	s.writeJSON(w, r, http.StatusCreated, connection)
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	includeInactive := false
	if v := queryBool(r, "include_inactive"); v != nil {
		includeInactive = *v
	}

	connections, err := s.deps.Connections.List(r.Context(), includeInactive)
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	if connections == nil {
		connections = []*model.Connection{}
	}

	s.writeJSON(w, r, http.StatusOK, connections)
}

func (s *Server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	connection, err := s.deps.Connections.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, connection)
}

func (s *Server) handleUpdateConnection(w http.ResponseWriter, r *http.Request) {
	var req UpdateConnectionRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	connection, err := s.deps.Connections.Update(r.Context(), r.PathValue("id"), req.Name, req.Config)
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, connection)
}

func (s *Server) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Connections.SoftDelete(r.Context(), r.PathValue("id")); err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleTestConnection opens a live session against the stored configuration
// and probes reachability. Failures come back as a 200 with success=false;
// only missing connections or config decryption problems surface as errors.
func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.deps.Connections.Config(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	conn, err := s.deps.OpenConnector(r.Context(), cfg)
	if err != nil {
		s.writeJSON(w, r, http.StatusOK, TestConnectionResponse{Success: false, Message: err.Error()})

		return
	}

	defer func() {
		_ = conn.Close()
	}()

	if err := conn.Test(r.Context()); err != nil {
		s.writeJSON(w, r, http.StatusOK, TestConnectionResponse{Success: false, Message: err.Error()})

		return
	}

	s.writeJSON(w, r, http.StatusOK, TestConnectionResponse{Success: true, Message: "connection successful"})
}

func (s *Server) handleListSchemas(w http.ResponseWriter, r *http.Request) {
	s.withConnector(w, r, func(w http.ResponseWriter, r *http.Request, conn connector.Connector) {
		schemas, err := conn.ListSchemas(r.Context())
		if err != nil {
			WriteDomainError(w, r, s.logger, err)

			return
		}

		if schemas == nil {
			schemas = []string{}
		}

		s.writeJSON(w, r, http.StatusOK, map[string]any{"schemas": schemas})
	})
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	s.withConnector(w, r, func(w http.ResponseWriter, r *http.Request, conn connector.Connector) {
		tables, err := conn.ListTables(r.Context(), r.PathValue("schema"))
		if err != nil {
			WriteDomainError(w, r, s.logger, err)

			return
		}

		if tables == nil {
			tables = []string{}
		}

		s.writeJSON(w, r, http.StatusOK, map[string]any{"tables": tables})
	})
}

func (s *Server) handleListColumns(w http.ResponseWriter, r *http.Request) {
	s.withConnector(w, r, func(w http.ResponseWriter, r *http.Request, conn connector.Connector) {
		columns, err := conn.ListColumns(r.Context(), r.PathValue("schema"), r.PathValue("table"))
		if err != nil {
			WriteDomainError(w, r, s.logger, err)

			return
		}

		s.writeJSON(w, r, http.StatusOK, map[string]any{"columns": columns})
	})
}

// withConnector opens a connector session for the connection in the path,
// hands it to fn, and closes it afterwards.
func (s *Server) withConnector(
	w http.ResponseWriter,
	r *http.Request,
	fn func(http.ResponseWriter, *http.Request, connector.Connector),
) {
	cfg, err := s.deps.Connections.Config(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	conn, err := s.deps.OpenConnector(r.Context(), cfg)
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	defer func() {
		_ = conn.Close()
	}()

	fn(w, r, conn)
}

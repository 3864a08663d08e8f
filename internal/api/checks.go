package api

import (
	"net/http"

	"github.com/veriflow-io/veriflow/internal/checks"
	"github.com/veriflow-io/veriflow/internal/model"
	"github.com/veriflow-io/veriflow/internal/storage"
)

type (
	// CreateCheckRequest is the payload for defining a check.
	CreateCheckRequest struct {
		ConnectionID      string                    `json:"connection_id"`
		CheckType         string                    `json:"check_type"`
		CheckMode         string                    `json:"check_mode"`
		TimeScale         string                    `json:"time_scale"`
		TargetSchema      string                    `json:"target_schema"`
		TargetTable       string                    `json:"target_table"`
		TargetColumn      string                    `json:"target_column"`
		PartitionByColumn string                    `json:"partition_by_column"`
		Parameters        map[string]any            `json:"parameters"`
		RuleParameters    map[string]map[string]any `json:"rule_parameters"`
	}

	// PatchCheckRequest carries a partial check update. Nil fields keep the
	// stored values.
	PatchCheckRequest struct {
		TargetSchema      *string                   `json:"target_schema"`
		TargetTable       *string                   `json:"target_table"`
		TargetColumn      *string                   `json:"target_column"`
		PartitionByColumn *string                   `json:"partition_by_column"`
		Parameters        map[string]any            `json:"parameters"`
		RuleParameters    map[string]map[string]any `json:"rule_parameters"`
		IsActive          *bool                     `json:"is_active"`
	}

	// RunCheckResponse acknowledges an asynchronous check execution.
	RunCheckResponse struct {
		JobID  string `json:"job_id"`
		TaskID string `json:"task_id,omitempty"`
		Status string `json:"status"`
	}

	// BatchRunRequest triggers several checks in one call.
	BatchRunRequest struct {
		CheckIDs []string `json:"check_ids"`
	}

	// BatchRunResult is the per-check outcome of a batch trigger. A failed
	// submission carries Error instead of JobID.
	BatchRunResult struct {
		CheckID string `json:"check_id"`
		JobID   string `json:"job_id,omitempty"`
		TaskID  string `json:"task_id,omitempty"`
		Status  string `json:"status,omitempty"`
		Error   string `json:"error,omitempty"`
	}

	// ValidatePreviewRequest runs a transient check definition against an
	// unsaved connection configuration. Nothing is persisted.
	ValidatePreviewRequest struct {
		Check            CreateCheckRequest `json:"check"`
		ConnectionConfig map[string]any     `json:"connection_config"`
	}

	// CheckTypeInfo describes one registry entry for the discovery endpoints.
	CheckTypeInfo struct {
		CheckType     string         `json:"check_type"`
		Category      string         `json:"category,omitempty"`
		SensorType    string         `json:"sensor_type,omitempty"`
		RuleType      string         `json:"rule_type,omitempty"`
		IsColumnLevel bool           `json:"is_column_level"`
		DefaultParams map[string]any `json:"default_parameters,omitempty"`
		Legacy        bool           `json:"legacy,omitempty"`
	}
)

// buildCheck validates a check definition and assembles the model. Invalid
// definitions come back as a validation error with a human-readable reason.
func buildCheck(req CreateCheckRequest) (*model.Check, error) {
	if req.CheckType == "" {
		return nil, model.Validationf("check_type is required")
	}

	columnLevel := false

	entry, registered := checks.Lookup(req.CheckType)
	if registered {
		columnLevel = entry.IsColumnLevel
	} else {
		legacyEntry, isLegacy := checks.LegacyLookup(req.CheckType)
		if !isLegacy {
			return nil, model.Validationf("unknown check type: %s", req.CheckType)
		}

		columnLevel = legacyEntry.IsColumnLevel
	}

	mode := model.CheckMode(req.CheckMode)
	if req.CheckMode == "" {
		mode = model.ModeMonitoring
	}

	scale := model.TimeScale(req.TimeScale)

	if mode == model.ModePartitioned && !scale.Valid() {
		return nil, model.Validationf("invalid time_scale %q", req.TimeScale)
	}

	if mode != model.ModePartitioned && req.TimeScale != "" {
		return nil, model.Validationf("time_scale only applies to partitioned checks")
	}

	ruleParams, err := parseRuleParameters(req.RuleParameters)
	if err != nil {
		return nil, err
	}

	check := &model.Check{
		ConnectionID:      req.ConnectionID,
		CheckType:         req.CheckType,
		CheckMode:         mode,
		TimeScale:         scale,
		TargetSchema:      req.TargetSchema,
		TargetTable:       req.TargetTable,
		TargetColumn:      req.TargetColumn,
		PartitionByColumn: req.PartitionByColumn,
		Parameters:        req.Parameters,
		RuleParameters:    ruleParams,
		IsActive:          true,
	}

	if err := check.Validate(columnLevel); err != nil {
		return nil, err
	}

	return check, nil
}

// parseRuleParameters converts string-keyed threshold records into the
// severity-keyed form, rejecting unknown severities.
func parseRuleParameters(raw map[string]map[string]any) (model.RuleParameters, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	params := make(model.RuleParameters, len(raw))

	for key, record := range raw {
		severity := model.ResultSeverity(key)
		if !severity.Valid() {
			return nil, model.Validationf("invalid rule parameter severity: %s", key)
		}

		params[severity] = record
	}

	return params, nil
}

func (s *Server) handleCreateCheck(w http.ResponseWriter, r *http.Request) {
	var req CreateCheckRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	if req.ConnectionID == "" {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity("connection_id is required"))

		return
	}

	check, err := buildCheck(req)
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	// The connection must exist and be active before the check is stored.
	if _, err := s.deps.Connections.GetByID(r.Context(), req.ConnectionID); err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	created, err := s.deps.Checks.Create(r.Context(), check)
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	s.writeJSON(w, r, http.StatusCreated, created)
}

func (s *Server) handleListChecks(w http.ResponseWriter, r *http.Request) {
	filter := storage.CheckFilter{
		ConnectionID: r.URL.Query().Get("connection_id"),
		CheckType:    r.URL.Query().Get("check_type"),
		CheckMode:    model.CheckMode(r.URL.Query().Get("check_mode")),
		TargetTable:  r.URL.Query().Get("target_table"),
		IsActive:     queryBool(r, "is_active"),
		Limit:        queryInt(r, "limit", 0),
		Offset:       queryInt(r, "offset", 0),
	}

	list, err := s.deps.Checks.List(r.Context(), filter)
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	if list == nil {
		list = []*model.Check{}
	}

	s.writeJSON(w, r, http.StatusOK, list)
}

func (s *Server) handleGetCheck(w http.ResponseWriter, r *http.Request) {
	check, err := s.deps.Checks.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, check)
}

func (s *Server) handlePatchCheck(w http.ResponseWriter, r *http.Request) {
	var req PatchCheckRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	ruleParams, err := parseRuleParameters(req.RuleParameters)
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	patch := storage.CheckPatch{
		TargetSchema:      req.TargetSchema,
		TargetTable:       req.TargetTable,
		TargetColumn:      req.TargetColumn,
		PartitionByColumn: req.PartitionByColumn,
		Parameters:        req.Parameters,
		RuleParameters:    ruleParams,
		IsActive:          req.IsActive,
	}

	check, err := s.deps.Checks.Update(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, check)
}

func (s *Server) handleDeleteCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Checks.SoftDelete(r.Context(), r.PathValue("id")); err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleRunCheck enqueues an asynchronous execution of a stored check and
// responds 202 with the job that tracks it.
func (s *Server) handleRunCheck(w http.ResponseWriter, r *http.Request) {
	job, taskID, err := s.deps.Runner.Run(r.Context(), r.PathValue("id"), "manual", "")
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	s.writeJSON(w, r, http.StatusAccepted, RunCheckResponse{
		JobID:  job.ID,
		TaskID: taskID,
		Status: string(job.Status),
	})
}

// handlePreviewCheck runs a stored check synchronously without persisting
// the result, recording an incident or firing notifications.
func (s *Server) handlePreviewCheck(w http.ResponseWriter, r *http.Request) {
	check, err := s.deps.Checks.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	result := s.deps.Executor.Execute(r.Context(), check)

	s.writeJSON(w, r, http.StatusOK, result)
}

// handleBatchRun triggers many checks in one call. Individual failures do not
// abort the batch; each entry reports its own outcome.
func (s *Server) handleBatchRun(w http.ResponseWriter, r *http.Request) {
	var req BatchRunRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	if len(req.CheckIDs) == 0 {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity("check_ids must not be empty"))

		return
	}

	results := make([]BatchRunResult, 0, len(req.CheckIDs))

	for _, checkID := range req.CheckIDs {
		job, taskID, err := s.deps.Runner.Run(r.Context(), checkID, "manual", "")
		if err != nil {
			results = append(results, BatchRunResult{CheckID: checkID, Error: err.Error()})

			continue
		}

		results = append(results, BatchRunResult{
			CheckID: checkID,
			JobID:   job.ID,
			TaskID:  taskID,
			Status:  string(job.Status),
		})
	}

	s.writeJSON(w, r, http.StatusAccepted, map[string]any{"results": results})
}

// handleValidatePreview executes a transient check definition against an
// unsaved connection configuration. Used by clients to validate a check
// before storing either the check or the connection.
func (s *Server) handleValidatePreview(w http.ResponseWriter, r *http.Request) {
	var req ValidatePreviewRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	if len(req.ConnectionConfig) == 0 {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity("connection_config is required"))

		return
	}

	// The transient check resolves its source from the supplied config, not
	// from a stored connection.
	if req.Check.ConnectionID == "" {
		req.Check.ConnectionID = "transient"
	}

	check, err := buildCheck(req.Check)
	if err != nil {
		WriteDomainError(w, r, s.logger, err)

		return
	}

	result := s.deps.Executor.ExecuteWithConfig(r.Context(), check, req.ConnectionConfig)

	s.writeJSON(w, r, http.StatusOK, result)
}

// handleCheckTypes lists every supported check type: the registry entries
// plus the legacy expectation names.
func (s *Server) handleCheckTypes(w http.ResponseWriter, r *http.Request) {
	names := checks.Names()
	types := make([]CheckTypeInfo, 0, len(names)+len(checks.LegacyNames()))

	for _, name := range names {
		entry, _ := checks.Lookup(name)

		types = append(types, CheckTypeInfo{
			CheckType:     entry.CheckType,
			Category:      entry.Category,
			SensorType:    entry.SensorType,
			RuleType:      string(entry.RuleType),
			IsColumnLevel: entry.IsColumnLevel,
			DefaultParams: entry.DefaultParams,
		})
	}

	for _, name := range checks.LegacyNames() {
		entry, _ := checks.LegacyLookup(name)

		types = append(types, CheckTypeInfo{
			CheckType:     entry.Name,
			IsColumnLevel: entry.IsColumnLevel,
			Legacy:        true,
		})
	}

	s.writeJSON(w, r, http.StatusOK, map[string]any{"check_types": types})
}

func (s *Server) handleCheckCategories(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]any{"categories": checks.Categories()})
}

func (s *Server) handleCheckModes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"check_modes": []model.CheckMode{model.ModeProfiling, model.ModeMonitoring, model.ModePartitioned},
	})
}

func (s *Server) handleCheckTimeScales(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"time_scales": []model.TimeScale{model.ScaleDaily, model.ScaleMonthly},
	})
}

package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veriflow-io/veriflow/internal/model"
)

// IncidentFilter narrows incident listings.
type IncidentFilter struct {
	CheckID  string
	Status   model.IncidentStatus
	Severity model.IncidentSeverity
	Limit    int
	Offset   int
}

// IncidentStore persists incidents. The one-open-per-check invariant is backed
// by a unique partial index on (check_id) WHERE status <> 'resolved'; a racing
// insert surfaces as ErrConflict so the caller can degrade to an increment.
type IncidentStore struct {
	conn *Connection
}

// NewIncidentStore creates an incident store.
func NewIncidentStore(conn *Connection) (*IncidentStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &IncidentStore{conn: conn}, nil
}

// Create inserts a new open incident. A unique-index collision maps to
// ErrConflict.
func (s *IncidentStore) Create(ctx context.Context, incident *model.Incident) (*model.Incident, error) {
	if incident.ID == "" {
		incident.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	incident.CreatedAt = now
	incident.UpdatedAt = now

	query := `
		INSERT INTO incidents (
			id, check_id, result_id, status, severity, title, description,
			first_failure_at, last_failure_at, failure_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := s.conn.ExecContext(ctx, query,
		incident.ID, incident.CheckID, incident.ResultID, string(incident.Status),
		string(incident.Severity), incident.Title, nullString(incident.Description),
		incident.FirstFailureAt, incident.LastFailureAt, incident.FailureCount,
		incident.CreatedAt, incident.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, model.Conflictf("non-resolved incident already exists for check %s", incident.CheckID)
		}

		return nil, translateError(err, "incident")
	}

	return incident, nil
}

// GetNonResolvedByCheck returns the single open or acknowledged incident for a
// check, or ErrNotFound.
func (s *IncidentStore) GetNonResolvedByCheck(ctx context.Context, checkID string) (*model.Incident, error) {
	query := incidentSelect + ` WHERE check_id = $1 AND status <> 'resolved'`

	rows, err := s.conn.QueryContext(ctx, query, checkID)
	if err != nil {
		return nil, translateError(err, "incident")
	}

	defer func() {
		_ = rows.Close()
	}()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, translateError(err, "incident")
		}

		return nil, model.NotFoundf("open incident for check %s", checkID)
	}

	return scanIncident(rows)
}

// IncrementFailure bumps failure_count and advances last_failure_at on an
// existing non-resolved incident. Severity is left unchanged; it is allocated
// at open time only.
func (s *IncidentStore) IncrementFailure(
	ctx context.Context,
	id, description string,
	resultID *string,
	failedAt time.Time,
) (*model.Incident, error) {
	query := `
		UPDATE incidents SET
			failure_count = failure_count + 1,
			last_failure_at = $2,
			description = $3,
			result_id = COALESCE($4, result_id),
			updated_at = NOW()
		WHERE id = $1 AND status <> 'resolved'
	`

	result, err := s.conn.ExecContext(ctx, query, id, failedAt, nullString(description), resultID)
	if err != nil {
		return nil, translateError(err, "incident")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, translateError(err, "incident")
	}

	if affected == 0 {
		return nil, model.NotFoundf("open incident %s", id)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches an incident by ID.
func (s *IncidentStore) GetByID(ctx context.Context, id string) (*model.Incident, error) {
	rows, err := s.conn.QueryContext(ctx, incidentSelect+` WHERE id = $1`, id)
	if err != nil {
		return nil, translateError(err, "incident")
	}

	defer func() {
		_ = rows.Close()
	}()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, translateError(err, "incident")
		}

		return nil, model.NotFoundf("incident %s", id)
	}

	return scanIncident(rows)
}

// List returns incidents matching the filter, newest first.
func (s *IncidentStore) List(ctx context.Context, filter IncidentFilter) ([]*model.Incident, error) {
	var (
		conditions []string
		args       []any
	)

	addCondition := func(clause string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if filter.CheckID != "" {
		addCondition("check_id = $%d", filter.CheckID)
	}

	if filter.Status != "" {
		addCondition("status = $%d", string(filter.Status))
	}

	if filter.Severity != "" {
		addCondition("severity = $%d", string(filter.Severity))
	}

	query := incidentSelect
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
		return nil, translateError(err, "incidents")
	}

	defer func() {
		_ = rows.Close()
	}()

	var incidents []*model.Incident

	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}

		incidents = append(incidents, incident)
	}

	if err := rows.Err(); err != nil {
		return nil, translateError(err, "incidents")
	}

	return incidents, nil
}

// Save writes back mutable incident fields after a status transition.
func (s *IncidentStore) Save(ctx context.Context, incident *model.Incident) (*model.Incident, error) {
	incident.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE incidents SET
			status = $2, resolved_at = $3, resolved_by = $4, resolution_notes = $5,
			acknowledged_at = $6, acknowledged_by = $7, updated_at = $8
		WHERE id = $1
	`

	result, err := s.conn.ExecContext(ctx, query,
		incident.ID, string(incident.Status),
		nullTime(incident.ResolvedAt), nullString(incident.ResolvedBy), nullString(incident.ResolutionNotes),
		nullTime(incident.AcknowledgedAt), nullString(incident.AcknowledgedBy), incident.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// Reopening while another non-resolved incident exists for the check.
			return nil, model.Conflictf("non-resolved incident already exists for check %s", incident.CheckID)
		}

		return nil, translateError(err, "incident")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, translateError(err, "incident")
	}

	if affected == 0 {
		return nil, model.NotFoundf("incident %s", incident.ID)
	}

	return incident, nil
}

const incidentSelect = `
	SELECT id, check_id, result_id, status, severity, title, description,
		first_failure_at, last_failure_at, failure_count,
		resolved_at, resolved_by, resolution_notes,
		acknowledged_at, acknowledged_by, created_at, updated_at
	FROM incidents
`

func scanIncident(row rowScanner) (*model.Incident, error) {
	var (
		incident    model.Incident
		status      string
		severity    string
		description []byte
		resolvedBy  []byte
		notes       []byte
		ackedBy     []byte
	)

	err := row.Scan(
		&incident.ID, &incident.CheckID, &incident.ResultID, &status, &severity,
		&incident.Title, &description,
		&incident.FirstFailureAt, &incident.LastFailureAt, &incident.FailureCount,
		&incident.ResolvedAt, &resolvedBy, &notes,
		&incident.AcknowledgedAt, &ackedBy, &incident.CreatedAt, &incident.UpdatedAt,
	)
	if err != nil {
		return nil, translateError(err, "incident")
	}

	incident.Status = model.IncidentStatus(status)
	incident.Severity = model.IncidentSeverity(severity)
	incident.Description = string(description)
	incident.ResolvedBy = string(resolvedBy)
	incident.ResolutionNotes = string(notes)
	incident.AcknowledgedBy = string(ackedBy)

	return &incident, nil
}

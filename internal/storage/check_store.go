package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veriflow-io/veriflow/internal/model"
)

const defaultPageSize = 50

// CheckFilter narrows List results. Nil pointer fields are not applied.
type CheckFilter struct {
	ConnectionID string
	CheckType    string
	CheckMode    model.CheckMode
	TargetTable  string
	IsActive     *bool
	Limit        int
	Offset       int
}

// CheckPatch carries partial updates for a check. Nil fields are left unchanged.
type CheckPatch struct {
	TargetSchema      *string
	TargetTable       *string
	TargetColumn      *string
	PartitionByColumn *string
	Parameters        map[string]any
	RuleParameters    model.RuleParameters
	IsActive          *bool
}

// CheckStore persists check definitions.
type CheckStore struct {
	conn *Connection
}

// NewCheckStore creates a check store.
func NewCheckStore(conn *Connection) (*CheckStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &CheckStore{conn: conn}, nil
}

// Create inserts a new check. Validation against the check registry happens in
// the API layer; the store only enforces referential shape.
func (s *CheckStore) Create(ctx context.Context, check *model.Check) (*model.Check, error) {
	if check.ID == "" {
		check.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	check.CreatedAt = now
	check.UpdatedAt = now
	check.IsActive = true

	params, err := marshalJSON(check.Parameters)
	if err != nil {
		return nil, err
	}

	ruleParams, err := marshalJSON(check.RuleParameters)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO checks (
			id, connection_id, check_type, check_mode, time_scale,
			target_schema, target_table, target_column, partition_by_column,
			parameters, rule_parameters, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = s.conn.ExecContext(ctx, query,
		check.ID, check.ConnectionID, check.CheckType, string(check.CheckMode),
		nullString(string(check.TimeScale)), check.TargetSchema, check.TargetTable,
		nullString(check.TargetColumn), nullString(check.PartitionByColumn),
		params, ruleParams, check.IsActive, check.CreatedAt, check.UpdatedAt,
	)
	if err != nil {
		return nil, translateError(err, "check")
	}

	return check, nil
}

// GetByID fetches a check by ID.
func (s *CheckStore) GetByID(ctx context.Context, id string) (*model.Check, error) {
	query := checkSelect + ` WHERE id = $1`

	rows, err := s.conn.QueryContext(ctx, query, id)
	if err != nil {
		return nil, translateError(err, "check")
	}

	defer func() {
		_ = rows.Close()
	}()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, translateError(err, "check")
		}

		return nil, model.NotFoundf("check %s", id)
	}

	return scanCheck(rows)
}

// List returns checks matching the filter, newest first.
func (s *CheckStore) List(ctx context.Context, filter CheckFilter) ([]*model.Check, error) {
	var (
		conditions []string
		args       []any
	)

	addCondition := func(clause string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if filter.ConnectionID != "" {
		addCondition("connection_id = $%d", filter.ConnectionID)
	}

	if filter.CheckType != "" {
		addCondition("check_type = $%d", filter.CheckType)
	}

	if filter.CheckMode != "" {
		addCondition("check_mode = $%d", string(filter.CheckMode))
	}

	if filter.TargetTable != "" {
		addCondition("target_table = $%d", filter.TargetTable)
	}

	if filter.IsActive != nil {
		addCondition("is_active = $%d", *filter.IsActive)
	}

	query := checkSelect
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
		return nil, translateError(err, "checks")
	}

	defer func() {
		_ = rows.Close()
	}()

	var checks []*model.Check

	for rows.Next() {
		check, err := scanCheck(rows)
		if err != nil {
			return nil, err
		}

		checks = append(checks, check)
	}

	if err := rows.Err(); err != nil {
		return nil, translateError(err, "checks")
	}

	return checks, nil
}

// Update applies a partial patch and returns the updated check.
func (s *CheckStore) Update(ctx context.Context, id string, patch CheckPatch) (*model.Check, error) {
	check, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.TargetSchema != nil {
		check.TargetSchema = *patch.TargetSchema
	}

	if patch.TargetTable != nil {
		check.TargetTable = *patch.TargetTable
	}

	if patch.TargetColumn != nil {
		check.TargetColumn = *patch.TargetColumn
	}

	if patch.PartitionByColumn != nil {
		check.PartitionByColumn = *patch.PartitionByColumn
	}

	if patch.Parameters != nil {
		check.Parameters = patch.Parameters
	}

	if patch.RuleParameters != nil {
		check.RuleParameters = patch.RuleParameters
	}

	if patch.IsActive != nil {
		check.IsActive = *patch.IsActive
	}

	check.UpdatedAt = time.Now().UTC()

	params, err := marshalJSON(check.Parameters)
	if err != nil {
		return nil, err
	}

	ruleParams, err := marshalJSON(check.RuleParameters)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE checks SET
			target_schema = $2, target_table = $3, target_column = $4,
			partition_by_column = $5, parameters = $6, rule_parameters = $7,
			is_active = $8, updated_at = $9
		WHERE id = $1
	`

	_, err = s.conn.ExecContext(ctx, query,
		check.ID, check.TargetSchema, check.TargetTable, nullString(check.TargetColumn),
		nullString(check.PartitionByColumn), params, ruleParams, check.IsActive, check.UpdatedAt,
	)
	if err != nil {
		return nil, translateError(err, "check")
	}

	return check, nil
}

// SoftDelete marks a check inactive.
func (s *CheckStore) SoftDelete(ctx context.Context, id string) error {
	result, err := s.conn.ExecContext(ctx,
		`UPDATE checks SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return translateError(err, "check")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return translateError(err, "check")
	}

	if affected == 0 {
		return model.NotFoundf("check %s", id)
	}

	return nil
}

const checkSelect = `
	SELECT id, connection_id, check_type, check_mode, time_scale,
		target_schema, target_table, target_column, partition_by_column,
		parameters, rule_parameters, is_active, created_at, updated_at
	FROM checks
`

func scanCheck(row rowScanner) (*model.Check, error) {
	var (
		check          model.Check
		checkMode      string
		timeScale      []byte
		targetColumn   []byte
		partitionBy    []byte
		paramsJSON     []byte
		ruleParamsJSON []byte
	)

	err := row.Scan(
		&check.ID, &check.ConnectionID, &check.CheckType, &checkMode, &timeScale,
		&check.TargetSchema, &check.TargetTable, &targetColumn, &partitionBy,
		&paramsJSON, &ruleParamsJSON, &check.IsActive, &check.CreatedAt, &check.UpdatedAt,
	)
	if err != nil {
		return nil, translateError(err, "check")
	}

	check.CheckMode = model.CheckMode(checkMode)
	check.TimeScale = model.TimeScale(timeScale)
	check.TargetColumn = string(targetColumn)
	check.PartitionByColumn = string(partitionBy)

	if err := unmarshalJSON(paramsJSON, &check.Parameters); err != nil {
		return nil, err
	}

	if err := unmarshalJSON(ruleParamsJSON, &check.RuleParameters); err != nil {
		return nil, err
	}

	return &check, nil
}

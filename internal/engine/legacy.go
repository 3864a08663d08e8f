package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/veriflow-io/veriflow/internal/checks"
	"github.com/veriflow-io/veriflow/internal/model"
)

// runLegacy handles check types that only the expectation registry knows.
// Expectations judge inline, so the result severity is binary: passed or
// error.
func (e *Executor) runLegacy(ctx context.Context, check *model.Check, cfg map[string]any) *model.CheckResult {
	entry, ok := checks.LegacyLookup(check.CheckType)
	if !ok {
		return e.failed(check, fmt.Errorf("unknown check type: %s", check.CheckType))
	}

	conn, err := e.open(ctx, cfg)
	if err != nil {
		return e.failed(check, err)
	}
	defer conn.Close()

	params := map[string]any{}
	for k, v := range check.Parameters {
		params[k] = v
	}
	if _, tierParams, ok := check.RuleParameters.HighestSeverity(); ok {
		for k, v := range tierParams {
			params[k] = v
		}
	}

	target := checks.LegacyTarget{
		SchemaName:  check.TargetSchema,
		TableName:   check.TargetTable,
		ColumnName:  check.TargetColumn,
		WhereClause: whereClause(check, e.now()),
	}

	obs, err := entry.Evaluate(ctx, conn, target, params)
	if err != nil {
		return e.failed(check, err)
	}

	severity := model.SeverityError
	if obs.Passed {
		severity = model.SeverityPassed
	}

	return &model.CheckResult{
		ID:           uuid.NewString(),
		CheckID:      check.ID,
		ConnectionID: check.ConnectionID,
		TargetTable:  check.TargetTable,
		TargetColumn: check.TargetColumn,
		CheckType:    check.CheckType,
		ActualValue:  obs.ObservedValue,
		Passed:       obs.Passed,
		Severity:     severity,
		ResultDetails: map[string]any{
			"observed_value": floatOrNil(obs.ObservedValue),
			"comment":        obs.Comment,
		},
		ExecutedSQL: obs.ExecutedSQL,
		ExecutedAt:  e.now(),
	}
}

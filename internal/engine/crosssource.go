package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/veriflow-io/veriflow/internal/checks"
	"github.com/veriflow-io/veriflow/internal/model"
	"github.com/veriflow-io/veriflow/internal/rule"
	"github.com/veriflow-io/veriflow/internal/sensor"
)

// runCrossSource renders the same sensor for the source and the reference
// connection, executes both, and judges the reconciled match percent with
// the check's rule.
func (e *Executor) runCrossSource(ctx context.Context, check *model.Check, entry checks.Entry, cfg, params map[string]any) *model.CheckResult {
	refCfg, err := e.configs.Config(ctx, referenceConnectionID(check))
	if err != nil {
		return e.failed(check, err)
	}

	s, ok := sensor.Get(entry.SensorType)
	if !ok {
		return e.failed(check, fmt.Errorf("check type %s references unknown sensor %s", check.CheckType, entry.SensorType))
	}

	src, err := e.open(ctx, cfg)
	if err != nil {
		return e.failed(check, err)
	}
	defer src.Close()

	ref, err := e.open(ctx, refCfg)
	if err != nil {
		return e.failed(check, err)
	}
	defer ref.Close()

	srcSQL, err := sensor.Render(s, params, src.QuoteIdentifier)
	if err != nil {
		return e.failed(check, err)
	}

	refSQL, err := sensor.Render(s, referenceParams(check, params), ref.QuoteIdentifier)
	if err != nil {
		return e.failed(check, err)
	}

	executedSQL := "-- source\n" + srcSQL + "\n-- reference\n" + refSQL

	srcValue, err := src.ExecuteSensorSQL(ctx, srcSQL)
	if err != nil {
		result := e.failed(check, err)
		result.ExecutedSQL = executedSQL

		return result
	}

	refValue, err := ref.ExecuteSensorSQL(ctx, refSQL)
	if err != nil {
		result := e.failed(check, err)
		result.ExecutedSQL = executedSQL

		return result
	}

	match := matchPercent(srcValue, refValue)
	evaluated := rule.Evaluate(entry.RuleType, match, params)
	evaluated.Message = fmt.Sprintf("source=%s reference=%s: %s",
		formatValue(srcValue), formatValue(refValue), evaluated.Message)

	details := map[string]any{
		"source_value":    floatOrNil(srcValue),
		"reference_value": floatOrNil(refValue),
		"match_percent":   floatOrNil(match),
	}

	return e.resultOf(check, evaluated, match, executedSQL, details)
}

// referenceParams rebinds the target onto the reference side; unset
// reference names fall back to the source names.
func referenceParams(check *model.Check, params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}

	if v := stringParam(check.Parameters, "reference_schema"); v != "" {
		out["schema_name"] = v
		out["schema_literal"] = v
	}
	if v := stringParam(check.Parameters, "reference_table"); v != "" {
		out["table_name"] = v
		out["table_literal"] = v
	}
	if v := stringParam(check.Parameters, "reference_column"); v != "" {
		out["column_name"] = v
		out["column_literal"] = v
	}

	return out
}

// matchPercent reconciles two scalars into an agreement percentage.
// A null on either side is unreconcilable and stays null; two exact zeros
// agree fully.
func matchPercent(a, b *float64) *float64 {
	if a == nil || b == nil {
		return nil
	}

	x, y := math.Abs(*a), math.Abs(*b)
	if x == 0 && y == 0 {
		v := 100.0
		return &v
	}

	v := math.Min(x, y) / math.Max(x, y) * 100

	return &v
}

func formatValue(v *float64) string {
	if v == nil {
		return "null"
	}

	return fmt.Sprintf("%g", *v)
}

func floatOrNil(v *float64) any {
	if v == nil {
		return nil
	}

	return *v
}

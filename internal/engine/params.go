package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/veriflow-io/veriflow/internal/checks"
	"github.com/veriflow-io/veriflow/internal/model"
)

// mergeParams layers the parameter bags: registry defaults, then check
// parameters, then the strictest configured severity tier. Target names and
// the assembled WHERE clause ride along so sensors can reference them.
func mergeParams(check *model.Check, entry checks.Entry, tierParams map[string]any, severity model.ResultSeverity) map[string]any {
	params := map[string]any{}

	for k, v := range entry.DefaultParams {
		params[k] = v
	}
	for k, v := range check.Parameters {
		params[k] = v
	}
	for k, v := range tierParams {
		params[k] = v
	}

	if severity != "" {
		params["severity"] = string(severity)
	}

	params["schema_name"] = check.TargetSchema
	params["table_name"] = check.TargetTable
	if check.TargetColumn != "" {
		params["column_name"] = check.TargetColumn
	}

	// Catalog sensors compare against information_schema strings, not
	// quoted identifiers.
	params["schema_literal"] = check.TargetSchema
	params["table_literal"] = check.TargetTable
	if check.TargetColumn != "" {
		params["column_literal"] = check.TargetColumn
	}

	// The raw where_clause slot always belongs to the clause assembled by
	// whereClause. Whatever the check's parameter bag carried under that
	// key is discarded, so the filter condition and the partition window
	// are the only paths into it.
	params["where_clause"] = whereClause(check, time.Now().UTC())

	return params
}

// whereClause combines the check's optional row filter with the current
// partition window for partitioned checks.
func whereClause(check *model.Check, now time.Time) string {
	var conds []string

	if filter := stringParam(check.Parameters, "filter"); filter != "" {
		conds = append(conds, "("+filter+")")
	}

	if check.CheckMode == model.ModePartitioned && check.PartitionByColumn != "" {
		start := partitionStart(now, check.TimeScale)
		conds = append(conds, fmt.Sprintf("%s >= '%s'",
			check.PartitionByColumn, start.Format("2006-01-02 15:04:05")))
	}

	if len(conds) == 0 {
		return ""
	}

	return "WHERE " + strings.Join(conds, " AND ")
}

// partitionStart is the inclusive lower bound of the current partition
// window in UTC.
func partitionStart(now time.Time, scale model.TimeScale) time.Time {
	now = now.UTC()

	if scale == model.ScaleMonthly {
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}

	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func referenceConnectionID(check *model.Check) string {
	return stringParam(check.Parameters, "reference_connection_id")
}

func stringParam(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return strings.TrimSpace(v)
	}

	return ""
}

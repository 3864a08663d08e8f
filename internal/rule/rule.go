// Package rule implements the pure evaluators that turn a sensor value plus
// merged parameters into a pass/fail with severity. Evaluators never touch
// the database; historical context for the anomaly rule is injected by the
// executor under the _historical_values parameter.
package rule

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/veriflow-io/veriflow/internal/model"
)

// Type enumerates the closed set of rule evaluators.
type Type string

// Supported rule types.
const (
	MinValue          Type = "min_value"
	MaxValue          Type = "max_value"
	MinMaxValue       Type = "min_max_value"
	MinPercent        Type = "min_percent"
	MaxPercent        Type = "max_percent"
	MinMaxPercent     Type = "min_max_percent"
	MinCount          Type = "min_count"
	MaxCount          Type = "max_count"
	MinMaxCount       Type = "min_max_count"
	MaxChangePercent  Type = "max_change_percent"
	EqualTo           Type = "equal_to"
	NotEqualTo        Type = "not_equal_to"
	IsTrue            Type = "is_true"
	IsFalse           Type = "is_false"
	AnomalyPercentile Type = "anomaly_percentile"
)

// Result is the outcome of one rule evaluation.
type Result struct {
	Passed   bool
	Severity model.ResultSeverity
	Expected string
	Actual   *float64
	Message  string
}

// Evaluate runs the rule of the given type over a sensor value. A nil value
// fails every rule except anomaly_percentile's insufficient-history path.
// The params map carries the merged sensor defaults, check defaults and the
// selected severity tier; params["severity"] tags the failure severity.
func Evaluate(ruleType Type, value *float64, params map[string]any) Result {
	severity := failureSeverity(params)

	if ruleType == AnomalyPercentile {
		return evaluateAnomaly(value, params, severity)
	}

	if value == nil {
		return Result{
			Passed:   false,
			Severity: severity,
			Message:  "sensor returned null",
		}
	}

	v := *value

	switch ruleType {
	case MinValue:
		return boundCheck(v, severity, lowerBound(params, "min_value"), nil)
	case MaxValue:
		return boundCheck(v, severity, nil, upperBound(params, "max_value"))
	case MinMaxValue:
		return boundCheck(v, severity, lowerBound(params, "min_value"), upperBound(params, "max_value"))
	case MinPercent:
		return boundCheck(v, severity, lowerBound(params, "min_percent"), nil)
	case MaxPercent:
		return boundCheck(v, severity, nil, upperBound(params, "max_percent"))
	case MinMaxPercent:
		return boundCheck(v, severity, lowerBound(params, "min_percent"), upperBound(params, "max_percent"))
	case MinCount:
		return boundCheck(v, severity, lowerBound(params, "min_count"), nil)
	case MaxCount:
		return boundCheck(v, severity, nil, upperBound(params, "max_count"))
	case MinMaxCount:
		return boundCheck(v, severity, lowerBound(params, "min_count"), upperBound(params, "max_count"))
	case MaxChangePercent:
		return evaluateMaxChange(v, params, severity)
	case EqualTo:
		return evaluateEqual(v, params, severity, true)
	case NotEqualTo:
		return evaluateEqual(v, params, severity, false)
	case IsTrue:
		return evaluateBool(v, severity, true)
	case IsFalse:
		return evaluateBool(v, severity, false)
	default:
		return Result{
			Passed:   false,
			Severity: severity,
			Actual:   value,
			Message:  fmt.Sprintf("unknown rule type: %s", ruleType),
		}
	}
}

// boundCheck evaluates v against an optional lower and upper bound.
func boundCheck(v float64, severity model.ResultSeverity, lower, upper *float64) Result {
	result := Result{Actual: &v, Expected: boundsLabel(lower, upper)}

	switch {
	case lower != nil && v < *lower:
		result.Severity = severity
		result.Message = fmt.Sprintf("value %s is below minimum %s", formatFloat(v), formatFloat(*lower))
	case upper != nil && v > *upper:
		result.Severity = severity
		result.Message = fmt.Sprintf("value %s is above maximum %s", formatFloat(v), formatFloat(*upper))
	default:
		result.Passed = true
		result.Severity = model.SeverityPassed
		result.Message = fmt.Sprintf("value %s is within bounds", formatFloat(v))
	}

	return result
}

func evaluateMaxChange(v float64, params map[string]any, severity model.ResultSeverity) Result {
	maxChange, ok := paramFloat(params, "max_change", "max_change_percent")
	if !ok {
		maxChange = 0
	}

	var change float64

	if _, present := params[HistoricalValuesParam]; present {
		// Change relative to the most recent prior observation. The first
		// run of a check has nothing to compare against and passes, like
		// the anomaly rule with insufficient history.
		history := historicalValues(params)
		if len(history) == 0 {
			return Result{
				Passed:   true,
				Severity: model.SeverityPassed,
				Actual:   &v,
				Message:  "no prior observation",
			}
		}

		prev := history[0]
		switch {
		case prev == 0 && v == 0:
			change = 0
		case prev == 0:
			change = 100
		default:
			change = abs(v-prev) / abs(prev) * 100
		}
	} else {
		// Cross-source path: v is a match percent, so change is the gap to 100.
		change = 100 - v
	}

	result := Result{
		Actual:   &v,
		Expected: fmt.Sprintf("change <= %s%%", formatFloat(maxChange)),
	}

	if change > maxChange {
		result.Severity = severity
		result.Message = fmt.Sprintf("change %s%% exceeds maximum %s%%", formatFloat(change), formatFloat(maxChange))

		return result
	}

	result.Passed = true
	result.Severity = model.SeverityPassed
	result.Message = fmt.Sprintf("change %s%% is within maximum %s%%", formatFloat(change), formatFloat(maxChange))

	return result
}

func evaluateEqual(v float64, params map[string]any, severity model.ResultSeverity, wantEqual bool) Result {
	expected, ok := paramFloat(params, "expected_value", "equal_to", "value")
	if !ok {
		return Result{
			Passed:   false,
			Severity: severity,
			Actual:   &v,
			Message:  "missing expected_value parameter",
		}
	}

	equal := v == expected

	op := "=="
	if !wantEqual {
		op = "!="
	}

	result := Result{
		Actual:   &v,
		Expected: fmt.Sprintf("%s %s", op, formatFloat(expected)),
	}

	if equal == wantEqual {
		result.Passed = true
		result.Severity = model.SeverityPassed
		result.Message = fmt.Sprintf("value %s satisfies %s %s", formatFloat(v), op, formatFloat(expected))
	} else {
		result.Severity = severity
		result.Message = fmt.Sprintf("value %s violates %s %s", formatFloat(v), op, formatFloat(expected))
	}

	return result
}

func evaluateBool(v float64, severity model.ResultSeverity, wantTrue bool) Result {
	truthy := v != 0

	label := "true"
	if !wantTrue {
		label = "false"
	}

	result := Result{Actual: &v, Expected: label}

	if truthy == wantTrue {
		result.Passed = true
		result.Severity = model.SeverityPassed
		result.Message = fmt.Sprintf("value is %s", label)
	} else {
		result.Severity = severity
		result.Message = fmt.Sprintf("value %s is not %s", formatFloat(v), label)
	}

	return result
}

// failureSeverity reads the tier tag set by the executor; error by default.
func failureSeverity(params map[string]any) model.ResultSeverity {
	if s, ok := params["severity"].(string); ok {
		severity := model.ResultSeverity(s)
		if severity.Valid() && severity != model.SeverityPassed {
			return severity
		}
	}

	if s, ok := params["severity"].(model.ResultSeverity); ok && s.Valid() && s != model.SeverityPassed {
		return s
	}

	return model.SeverityError
}

// paramFloat reads the first present numeric parameter among keys.
func paramFloat(params map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		v, present := params[key]
		if !present {
			continue
		}

		switch value := v.(type) {
		case float64:
			return value, true
		case float32:
			return float64(value), true
		case int:
			return float64(value), true
		case int64:
			return float64(value), true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
				return f, true
			}
		}
	}

	return 0, false
}

func lowerBound(params map[string]any, keys ...string) *float64 {
	if v, ok := paramFloat(params, keys...); ok {
		return &v
	}

	return nil
}

func upperBound(params map[string]any, keys ...string) *float64 {
	if v, ok := paramFloat(params, keys...); ok {
		return &v
	}

	return nil
}

func boundsLabel(lower, upper *float64) string {
	switch {
	case lower != nil && upper != nil:
		return fmt.Sprintf("between %s and %s", formatFloat(*lower), formatFloat(*upper))
	case lower != nil:
		return ">= " + formatFloat(*lower)
	case upper != nil:
		return "<= " + formatFloat(*upper)
	default:
		return "no bounds"
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}

	return v
}

package rule

import (
	"fmt"
	"math"
	"sort"

	"github.com/veriflow-io/veriflow/internal/model"
)

// minHistorySize is the fewest historical observations the anomaly rule
// needs before it will judge a value.
const minHistorySize = 7

// HistoricalValuesParam is the parameter key under which the executor injects
// prior sensor values, most recent first.
const HistoricalValuesParam = "_historical_values"

// evaluateAnomaly applies a widened Tukey fence over historical sensor
// values. anomaly_percent (p, default 5) widens the fence multiplier to
// k = 1.5 * (1 + p/100).
func evaluateAnomaly(value *float64, params map[string]any, severity model.ResultSeverity) Result {
	history := historicalValues(params)

	if len(history) < minHistorySize {
		return Result{
			Passed:   true,
			Severity: model.SeverityPassed,
			Actual:   value,
			Message:  "insufficient history",
		}
	}

	if value == nil {
		return Result{
			Passed:   false,
			Severity: severity,
			Message:  "sensor returned null",
		}
	}

	p, ok := paramFloat(params, "anomaly_percent")
	if !ok {
		p = 5
	}

	sorted := append([]float64(nil), history...)
	sort.Float64s(sorted)

	q1 := quantile(sorted, 0.25)
	q3 := quantile(sorted, 0.75)
	iqr := q3 - q1
	k := 1.5 * (1 + p/100)

	lower := q1 - k*iqr
	upper := q3 + k*iqr

	v := *value
	result := Result{
		Actual:   value,
		Expected: fmt.Sprintf("between %s and %s", formatFloat(lower), formatFloat(upper)),
	}

	if v < lower || v > upper {
		result.Severity = severity
		result.Message = fmt.Sprintf(
			"value %s is outside the expected range [%s, %s] (Q1=%s, Q3=%s, history=%d)",
			formatFloat(v), formatFloat(lower), formatFloat(upper),
			formatFloat(q1), formatFloat(q3), len(history))

		return result
	}

	result.Passed = true
	result.Severity = model.SeverityPassed
	result.Message = fmt.Sprintf("value %s is within the expected range [%s, %s]",
		formatFloat(v), formatFloat(lower), formatFloat(upper))

	return result
}

// quantile computes the q-th quantile of sorted values with linear
// interpolation between closest ranks (inclusive method).
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}

	pos := q * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	frac := pos - float64(lower)

	if lower+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	return sorted[lower] + frac*(sorted[lower+1]-sorted[lower])
}

// historicalValues reads the injected history, dropping null entries before
// the size threshold is applied.
func historicalValues(params map[string]any) []float64 {
	raw, present := params[HistoricalValuesParam]
	if !present {
		return nil
	}

	switch values := raw.(type) {
	case []float64:
		return values
	case []*float64:
		out := make([]float64, 0, len(values))
		for _, v := range values {
			if v != nil {
				out = append(out, *v)
			}
		}

		return out
	case []any:
		out := make([]float64, 0, len(values))
		for _, v := range values {
			if v == nil {
				continue
			}

			if f, ok := paramFloat(map[string]any{"v": v}, "v"); ok {
				out = append(out, f)
			}
		}

		return out
	default:
		return nil
	}
}

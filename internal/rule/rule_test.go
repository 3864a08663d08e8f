package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veriflow-io/veriflow/internal/model"
)

func fptr(v float64) *float64 { return &v }

func TestBoundRules(t *testing.T) {
	tests := []struct {
		name     string
		ruleType Type
		value    float64
		params   map[string]any
		passed   bool
	}{
		{"min_value pass", MinValue, 20, map[string]any{"min_value": 1.0}, true},
		{"min_value fail", MinValue, 0, map[string]any{"min_value": 1.0}, false},
		{"max_value pass", MaxValue, 5, map[string]any{"max_value": 10.0}, true},
		{"max_value fail", MaxValue, 11, map[string]any{"max_value": 10.0}, false},
		{"min_max_value inside", MinMaxValue, 5, map[string]any{"min_value": 1.0, "max_value": 10.0}, true},
		{"min_max_value below", MinMaxValue, 0, map[string]any{"min_value": 1.0, "max_value": 10.0}, false},
		{"min_max_value above", MinMaxValue, 11, map[string]any{"min_value": 1.0, "max_value": 10.0}, false},
		{"min_percent boundary", MinPercent, 99, map[string]any{"min_percent": 99.0}, true},
		{"max_percent fail", MaxPercent, 5, map[string]any{"max_percent": 3.0}, false},
		{"min_count pass", MinCount, 20, map[string]any{"min_count": 1}, true},
		{"max_count fail", MaxCount, 20, map[string]any{"max_count": 10}, false},
		{"min_max_count inside", MinMaxCount, 5, map[string]any{"min_count": 1, "max_count": 10}, true},
		{"integer params accepted", MinValue, 20, map[string]any{"min_value": 1}, true},
		{"string params accepted", MinValue, 0, map[string]any{"min_value": "1.5"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Evaluate(tt.ruleType, fptr(tt.value), tt.params)
			assert.Equal(t, tt.passed, result.Passed)

			// R1: passed and severity are mutually consistent.
			if tt.passed {
				assert.Equal(t, model.SeverityPassed, result.Severity)
			} else {
				assert.Equal(t, model.SeverityError, result.Severity)
			}

			require.NotNil(t, result.Actual)
			assert.Equal(t, tt.value, *result.Actual)
		})
	}
}

func TestSeverityTag(t *testing.T) {
	result := Evaluate(MaxPercent, fptr(5), map[string]any{
		"max_percent": 3.0,
		"severity":    "fatal",
	})
	assert.False(t, result.Passed)
	assert.Equal(t, model.SeverityFatal, result.Severity)

	// A passing evaluation ignores the tag.
	result = Evaluate(MaxPercent, fptr(1), map[string]any{
		"max_percent": 3.0,
		"severity":    "fatal",
	})
	assert.True(t, result.Passed)
	assert.Equal(t, model.SeverityPassed, result.Severity)
}

func TestNullSensorValue(t *testing.T) {
	result := Evaluate(MinValue, nil, map[string]any{"min_value": 1.0})
	assert.False(t, result.Passed)
	assert.Equal(t, model.SeverityError, result.Severity)
	assert.Equal(t, "sensor returned null", result.Message)

	result = Evaluate(MinValue, nil, map[string]any{"min_value": 1.0, "severity": "warning"})
	assert.Equal(t, model.SeverityWarning, result.Severity)
}

func TestEqualityRules(t *testing.T) {
	assert.True(t, Evaluate(EqualTo, fptr(5), map[string]any{"expected_value": 5.0}).Passed)
	assert.False(t, Evaluate(EqualTo, fptr(5), map[string]any{"expected_value": 6.0}).Passed)
	assert.True(t, Evaluate(NotEqualTo, fptr(5), map[string]any{"expected_value": 6.0}).Passed)
	assert.False(t, Evaluate(NotEqualTo, fptr(5), map[string]any{"expected_value": 5.0}).Passed)

	missing := Evaluate(EqualTo, fptr(5), map[string]any{})
	assert.False(t, missing.Passed)
	assert.Contains(t, missing.Message, "expected_value")
}

func TestBoolRules(t *testing.T) {
	assert.True(t, Evaluate(IsTrue, fptr(1), nil).Passed)
	assert.False(t, Evaluate(IsTrue, fptr(0), nil).Passed)
	assert.True(t, Evaluate(IsFalse, fptr(0), nil).Passed)
	assert.False(t, Evaluate(IsFalse, fptr(1), nil).Passed)
}

func TestMaxChangePercent(t *testing.T) {
	t.Run("against previous observation", func(t *testing.T) {
		params := map[string]any{
			"max_change":          10.0,
			HistoricalValuesParam: []float64{100},
		}

		assert.True(t, Evaluate(MaxChangePercent, fptr(105), params).Passed)
		assert.False(t, Evaluate(MaxChangePercent, fptr(120), params).Passed)
	})

	t.Run("zero previous", func(t *testing.T) {
		params := map[string]any{
			"max_change":          10.0,
			HistoricalValuesParam: []float64{0},
		}

		assert.True(t, Evaluate(MaxChangePercent, fptr(0), params).Passed)
		assert.False(t, Evaluate(MaxChangePercent, fptr(5), params).Passed)
	})

	t.Run("first run with empty history passes", func(t *testing.T) {
		params := map[string]any{
			"max_change":          10.0,
			HistoricalValuesParam: []float64{},
		}

		result := Evaluate(MaxChangePercent, fptr(200), params)
		assert.True(t, result.Passed)
		assert.Equal(t, "no prior observation", result.Message)
	})

	t.Run("against a match percent without history", func(t *testing.T) {
		params := map[string]any{"max_change": 5.0}

		assert.True(t, Evaluate(MaxChangePercent, fptr(100), params).Passed)
		assert.True(t, Evaluate(MaxChangePercent, fptr(96), params).Passed)
		assert.False(t, Evaluate(MaxChangePercent, fptr(90), params).Passed)
	})
}

func TestAnomalyPercentile(t *testing.T) {
	params := func(history []float64) map[string]any {
		return map[string]any{
			"anomaly_percent":     5.0,
			"severity":            "error",
			HistoricalValuesParam: history,
		}
	}

	t.Run("stable history accepts a typical value", func(t *testing.T) {
		history := []float64{19, 20, 21, 20, 19, 21, 20, 20, 19, 21}

		result := Evaluate(AnomalyPercentile, fptr(20), params(history))
		assert.True(t, result.Passed)
		assert.Equal(t, model.SeverityPassed, result.Severity)
	})

	t.Run("distant value is anomalous", func(t *testing.T) {
		history := []float64{1000, 1005, 1010, 995, 1002, 1008, 997, 1003, 1001, 998}

		result := Evaluate(AnomalyPercentile, fptr(20), params(history))
		assert.False(t, result.Passed)
		assert.Equal(t, model.SeverityError, result.Severity)
	})

	t.Run("insufficient history passes", func(t *testing.T) {
		result := Evaluate(AnomalyPercentile, fptr(20), params([]float64{1, 2, 3}))
		assert.True(t, result.Passed)
		assert.Equal(t, "insufficient history", result.Message)
	})

	t.Run("zero iqr collapses bounds to a point", func(t *testing.T) {
		history := []float64{5, 5, 5, 5, 5, 5, 5, 5}

		assert.True(t, Evaluate(AnomalyPercentile, fptr(5), params(history)).Passed)
		assert.False(t, Evaluate(AnomalyPercentile, fptr(6), params(history)).Passed)
	})

	t.Run("null history entries dropped before threshold", func(t *testing.T) {
		history := []any{1.0, nil, 2.0, nil, 3.0, 4.0, 5.0, nil, 6.0}

		// 6 non-null entries remain, which is under the threshold.
		result := Evaluate(AnomalyPercentile, fptr(100), map[string]any{
			"anomaly_percent":     5.0,
			HistoricalValuesParam: history,
		})
		assert.True(t, result.Passed)
		assert.Equal(t, "insufficient history", result.Message)
	})

	t.Run("null sensor value fails at configured severity", func(t *testing.T) {
		history := []float64{1, 2, 3, 4, 5, 6, 7, 8}

		result := Evaluate(AnomalyPercentile, nil, map[string]any{
			"severity":            "fatal",
			HistoricalValuesParam: history,
		})
		assert.False(t, result.Passed)
		assert.Equal(t, model.SeverityFatal, result.Severity)
	})
}

func TestQuantile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4}

	assert.InDelta(t, 1.75, quantile(sorted, 0.25), 1e-9)
	assert.InDelta(t, 2.5, quantile(sorted, 0.5), 1e-9)
	assert.InDelta(t, 3.25, quantile(sorted, 0.75), 1e-9)
	assert.Equal(t, 1.0, quantile(sorted, 0))
	assert.Equal(t, 4.0, quantile(sorted, 1))
	assert.Equal(t, 9.0, quantile([]float64{9}, 0.75))
}

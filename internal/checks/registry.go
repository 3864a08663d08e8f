package checks

import (
	"fmt"

	"github.com/veriflow-io/veriflow/internal/rule"
)

// Check categories. These track the sensor families but stay their own
// vocabulary so the API can evolve them independently.
const (
	CategoryVolume      = "volume"
	CategorySchema      = "schema"
	CategoryTimeliness  = "timeliness"
	CategoryNulls       = "nulls"
	CategoryUniqueness  = "uniqueness"
	CategoryNumeric     = "numeric"
	CategoryStatistical = "statistical"
	CategoryPercentile  = "percentile"
	CategoryText        = "text"
	CategoryPattern     = "patterns"
	CategoryPII         = "pii"
	CategoryGeographic  = "geographic"
	CategoryBoolean     = "bool"
	CategoryDatetime    = "datetime"
	CategoryReferential = "integrity"
	CategoryCustomSQL   = "custom_sql"
	CategoryComparisons = "comparisons"
	CategoryAnomaly     = "anomaly"
)

var registry = map[string]Entry{}

// def declares one sensor's check family. The base check type carries the
// sensor's name; bounds fans out _min and _max variants, and every
// def also gets _anomaly and _change variants unless static is set (catalog
// lookups such as column_exists have no meaningful history).
type def struct {
	sensor   string
	category string
	column   bool
	base     rule.Type
	defaults map[string]any
	bounds   string // "count", "percent", "value" or ""
	static   bool
}

func add(e Entry) {
	if _, dup := registry[e.CheckType]; dup {
		panic(fmt.Sprintf("checks: duplicate check type %s", e.CheckType))
	}

	registry[e.CheckType] = e
}

func declare(d def) {
	add(Entry{
		CheckType:     d.sensor,
		SensorType:    d.sensor,
		RuleType:      d.base,
		Category:      d.category,
		IsColumnLevel: d.column,
		DefaultParams: d.defaults,
	})

	switch d.bounds {
	case "count":
		boundVariants(d, rule.MinCount, rule.MaxCount)
	case "percent":
		boundVariants(d, rule.MinPercent, rule.MaxPercent)
	case "value":
		boundVariants(d, rule.MinValue, rule.MaxValue)
	}

	if d.static {
		return
	}

	add(Entry{
		CheckType:     d.sensor + "_anomaly",
		SensorType:    d.sensor,
		RuleType:      rule.AnomalyPercentile,
		Category:      CategoryAnomaly,
		IsColumnLevel: d.column,
	})
	add(Entry{
		CheckType:     d.sensor + "_change",
		SensorType:    d.sensor,
		RuleType:      rule.MaxChangePercent,
		Category:      d.category,
		IsColumnLevel: d.column,
	})
}

func boundVariants(d def, min, max rule.Type) {
	for suffix, r := range map[string]rule.Type{
		"_min": min,
		"_max": max,
	} {
		add(Entry{
			CheckType:     d.sensor + suffix,
			SensorType:    d.sensor,
			RuleType:      r,
			Category:      d.category,
			IsColumnLevel: d.column,
		})
	}
}

// crossSource registers a dual-connection match check. The rule judges the
// computed match percent, so a full match is 100.
func crossSource(checkType, sensor string, column bool) {
	add(Entry{
		CheckType:     checkType,
		SensorType:    sensor,
		RuleType:      rule.MinPercent,
		Category:      CategoryComparisons,
		IsColumnLevel: column,
		DefaultParams: map[string]any{"min_percent": 100.0},
	})
}

func init() {
	defs := []def{
		// volume
		{sensor: "row_count", category: CategoryVolume, base: rule.MinCount,
			defaults: map[string]any{"min_count": 1}, bounds: "count"},
		{sensor: "total_row_count", category: CategoryVolume, base: rule.MinCount, bounds: "count"},

		// schema
		{sensor: "column_count", category: CategorySchema, base: rule.EqualTo, bounds: "count", static: true},
		{sensor: "column_exists", category: CategorySchema, column: true, base: rule.IsTrue, static: true},

		// timeliness
		{sensor: "data_freshness", category: CategoryTimeliness, column: true, base: rule.MinValue, bounds: "value"},

		// nulls
		{sensor: "nulls_count", category: CategoryNulls, column: true, base: rule.MaxCount,
			defaults: map[string]any{"max_count": 0}, bounds: "count"},
		{sensor: "nulls_percent", category: CategoryNulls, column: true, base: rule.MaxPercent, bounds: "percent"},
		{sensor: "not_nulls_count", category: CategoryNulls, column: true, base: rule.MinCount, bounds: "count"},
		{sensor: "not_nulls_percent", category: CategoryNulls, column: true, base: rule.MinPercent,
			defaults: map[string]any{"min_percent": 100.0}, bounds: "percent"},
		{sensor: "empty_text_count", category: CategoryNulls, column: true, base: rule.MaxCount,
			defaults: map[string]any{"max_count": 0}, bounds: "count"},

		// uniqueness
		{sensor: "distinct_count", category: CategoryUniqueness, column: true, base: rule.MinCount, bounds: "count"},
		{sensor: "distinct_percent", category: CategoryUniqueness, column: true, base: rule.MinPercent, bounds: "percent"},
		{sensor: "duplicate_count", category: CategoryUniqueness, column: true, base: rule.MaxCount,
			defaults: map[string]any{"max_count": 0}, bounds: "count"},
		{sensor: "duplicate_percent", category: CategoryUniqueness, column: true, base: rule.MaxPercent, bounds: "percent"},

		// numeric
		{sensor: "min_value", category: CategoryNumeric, column: true, base: rule.MinValue, bounds: "value"},
		{sensor: "max_value", category: CategoryNumeric, column: true, base: rule.MaxValue, bounds: "value"},
		{sensor: "sum_value", category: CategoryNumeric, column: true, base: rule.MinMaxValue, bounds: "value"},
		{sensor: "mean_value", category: CategoryNumeric, column: true, base: rule.MinMaxValue, bounds: "value"},
		{sensor: "negative_count", category: CategoryNumeric, column: true, base: rule.MaxCount,
			defaults: map[string]any{"max_count": 0}, bounds: "count"},
		{sensor: "negative_percent", category: CategoryNumeric, column: true, base: rule.MaxPercent, bounds: "percent"},
		{sensor: "zero_count", category: CategoryNumeric, column: true, base: rule.MaxCount, bounds: "count"},
		{sensor: "values_in_range_percent", category: CategoryNumeric, column: true, base: rule.MinPercent, bounds: "percent"},
		{sensor: "values_in_set_percent", category: CategoryNumeric, column: true, base: rule.MinPercent, bounds: "percent"},

		// statistical
		{sensor: "stddev_value", category: CategoryStatistical, column: true, base: rule.MinMaxValue, bounds: "value"},
		{sensor: "variance_value", category: CategoryStatistical, column: true, base: rule.MinMaxValue, bounds: "value"},

		// percentile
		{sensor: "median_value", category: CategoryPercentile, column: true, base: rule.MinMaxValue, bounds: "value"},
		{sensor: "percentile_value", category: CategoryPercentile, column: true, base: rule.MinMaxValue, bounds: "value"},

		// text
		{sensor: "text_min_length", category: CategoryText, column: true, base: rule.MinValue, bounds: "value"},
		{sensor: "text_max_length", category: CategoryText, column: true, base: rule.MaxValue, bounds: "value"},
		{sensor: "text_mean_length", category: CategoryText, column: true, base: rule.MinMaxValue, bounds: "value"},

		// patterns
		{sensor: "texts_matching_like_percent", category: CategoryPattern, column: true, base: rule.MinPercent, bounds: "percent"},
		{sensor: "texts_not_matching_like_count", category: CategoryPattern, column: true, base: rule.MaxCount,
			defaults: map[string]any{"max_count": 0}, bounds: "count"},
		{sensor: "invalid_email_count", category: CategoryPattern, column: true, base: rule.MaxCount,
			defaults: map[string]any{"max_count": 0}, bounds: "count"},
		{sensor: "invalid_uuid_count", category: CategoryPattern, column: true, base: rule.MaxCount,
			defaults: map[string]any{"max_count": 0}, bounds: "count"},

		// pii
		{sensor: "contains_email_percent", category: CategoryPII, column: true, base: rule.MaxPercent,
			defaults: map[string]any{"max_percent": 0.0}, bounds: "percent"},

		// geographic
		{sensor: "valid_latitude_percent", category: CategoryGeographic, column: true, base: rule.MinPercent,
			defaults: map[string]any{"min_percent": 100.0}, bounds: "percent"},
		{sensor: "valid_longitude_percent", category: CategoryGeographic, column: true, base: rule.MinPercent,
			defaults: map[string]any{"min_percent": 100.0}, bounds: "percent"},

		// bool
		{sensor: "true_percent", category: CategoryBoolean, column: true, base: rule.MinMaxPercent, bounds: "percent"},
		{sensor: "false_percent", category: CategoryBoolean, column: true, base: rule.MinMaxPercent, bounds: "percent"},

		// datetime
		{sensor: "future_date_count", category: CategoryDatetime, column: true, base: rule.MaxCount,
			defaults: map[string]any{"max_count": 0}, bounds: "count"},
		{sensor: "date_in_range_percent", category: CategoryDatetime, column: true, base: rule.MinPercent, bounds: "percent"},

		// referential integrity
		{sensor: "foreign_key_not_found_count", category: CategoryReferential, column: true, base: rule.MaxCount,
			defaults: map[string]any{"max_count": 0}, bounds: "count"},
		{sensor: "foreign_key_match_percent", category: CategoryReferential, column: true, base: rule.MinPercent,
			defaults: map[string]any{"min_percent": 100.0}, bounds: "percent"},

		// custom SQL
		{sensor: "custom_sql", category: CategoryCustomSQL, base: rule.MinMaxValue, bounds: "value"},
	}

	for _, d := range defs {
		declare(d)
	}

	// equality variants for exact reconciliation against a known figure
	for _, sensor := range []string{"row_count", "column_count", "distinct_count", "sum_value"} {
		add(Entry{
			CheckType:     sensor + "_equals",
			SensorType:    sensor,
			RuleType:      rule.EqualTo,
			Category:      registry[sensor].Category,
			IsColumnLevel: registry[sensor].IsColumnLevel,
		})
	}

	// cross-source match checks, table level
	for _, sensor := range []string{"row_count", "column_count"} {
		crossSource(sensor+"_match", sensor, false)
	}

	// cross-source match checks, column level
	for _, sensor := range []string{
		"min_value", "max_value", "sum_value", "mean_value",
		"nulls_count", "not_nulls_count", "distinct_count", "duplicate_count",
	} {
		crossSource(sensor+"_match", sensor, true)
	}
}

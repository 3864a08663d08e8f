package checks

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/veriflow-io/veriflow/internal/connector"
	"github.com/veriflow-io/veriflow/internal/sensor"
)

// Observation is the outcome of one legacy expectation: a bare pass/fail
// with the value that was observed. The executor wraps it into a full
// check result at passed or error severity.
type Observation struct {
	Passed        bool
	ObservedValue *float64
	Comment       string
	ExecutedSQL   string
}

// LegacyTarget names the relation a legacy expectation runs against.
type LegacyTarget struct {
	SchemaName  string
	TableName   string
	ColumnName  string
	WhereClause string
}

// LegacyEntry is one expectation in the fallback registry. Expectations are
// dialect-neutral: they measure through the sensor catalog and judge the
// measurement inline instead of going through the rule evaluators.
type LegacyEntry struct {
	Name          string
	IsColumnLevel bool
	Evaluate      func(ctx context.Context, conn connector.Connector, target LegacyTarget, params map[string]any) (Observation, error)
}

// LegacyLookup returns the fallback expectation for a check type.
func LegacyLookup(checkType string) (LegacyEntry, bool) {
	e, ok := legacyRegistry[checkType]
	return e, ok
}

// LegacyNames returns all fallback expectation names, sorted.
func LegacyNames() []string {
	names := make([]string, 0, len(legacyRegistry))
	for name := range legacyRegistry {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

var legacyRegistry = map[string]LegacyEntry{}

func legacy(e LegacyEntry) {
	if _, dup := legacyRegistry[e.Name]; dup {
		panic(fmt.Sprintf("checks: duplicate legacy expectation %s", e.Name))
	}

	legacyRegistry[e.Name] = e
}

func init() {
	legacy(LegacyEntry{
		Name:     "expect_table_row_count_to_be_between",
		Evaluate: betweenExpectation("row_count", "rows"),
	})
	legacy(LegacyEntry{
		Name:          "expect_column_values_to_not_be_null",
		IsColumnLevel: true,
		Evaluate:      mostlyExpectation("not_nulls_percent", "non-null"),
	})
	legacy(LegacyEntry{
		Name:          "expect_column_values_to_be_unique",
		IsColumnLevel: true,
		Evaluate:      mostlyExpectation("distinct_percent", "unique"),
	})
	legacy(LegacyEntry{
		Name:          "expect_column_values_to_be_in_set",
		IsColumnLevel: true,
		Evaluate:      mostlyExpectation("values_in_set_percent", "in the value set"),
	})
	legacy(LegacyEntry{
		Name:          "expect_column_values_to_be_between",
		IsColumnLevel: true,
		Evaluate:      mostlyRangeExpectation(),
	})
	legacy(LegacyEntry{
		Name:          "expect_column_values_to_match_like_pattern",
		IsColumnLevel: true,
		Evaluate:      mostlyExpectation("texts_matching_like_percent", "matching the pattern"),
	})
	legacy(LegacyEntry{
		Name:          "expect_column_min_to_be_between",
		IsColumnLevel: true,
		Evaluate:      betweenExpectation("min_value", "column minimum"),
	})
	legacy(LegacyEntry{
		Name:          "expect_column_max_to_be_between",
		IsColumnLevel: true,
		Evaluate:      betweenExpectation("max_value", "column maximum"),
	})
	legacy(LegacyEntry{
		Name:          "expect_column_mean_to_be_between",
		IsColumnLevel: true,
		Evaluate:      betweenExpectation("mean_value", "column mean"),
	})
	legacy(LegacyEntry{
		Name:          "expect_column_sum_to_be_between",
		IsColumnLevel: true,
		Evaluate:      betweenExpectation("sum_value", "column sum"),
	})
}

// betweenExpectation measures a sensor and accepts the observation when it
// lies within the optional min_value/max_value bounds.
func betweenExpectation(sensorName, noun string) func(context.Context, connector.Connector, LegacyTarget, map[string]any) (Observation, error) {
	return func(ctx context.Context, conn connector.Connector, target LegacyTarget, params map[string]any) (Observation, error) {
		observed, sql, err := measure(ctx, conn, sensorName, target, params)
		if err != nil {
			return Observation{}, err
		}

		obs := Observation{ObservedValue: observed, ExecutedSQL: sql}
		if observed == nil {
			obs.Comment = fmt.Sprintf("no %s observed", noun)
			return obs, nil
		}

		min, hasMin := legacyFloat(params, "min_value")
		max, hasMax := legacyFloat(params, "max_value")

		obs.Passed = (!hasMin || *observed >= min) && (!hasMax || *observed <= max)
		obs.Comment = fmt.Sprintf("%s observed: %s", noun, legacyFormat(*observed))

		return obs, nil
	}
}

// mostlyExpectation measures a percent-valued sensor and accepts when at
// least mostly (a 0..1 proportion, default 1) of values qualify.
func mostlyExpectation(sensorName, noun string) func(context.Context, connector.Connector, LegacyTarget, map[string]any) (Observation, error) {
	return func(ctx context.Context, conn connector.Connector, target LegacyTarget, params map[string]any) (Observation, error) {
		observed, sql, err := measure(ctx, conn, sensorName, target, params)
		if err != nil {
			return Observation{}, err
		}

		mostly, ok := legacyFloat(params, "mostly")
		if !ok {
			mostly = 1
		}

		obs := Observation{ObservedValue: observed, ExecutedSQL: sql}
		if observed == nil {
			// An empty relation trivially satisfies any proportion.
			obs.Passed = true
			obs.Comment = "no values observed"

			return obs, nil
		}

		obs.Passed = *observed >= mostly*100
		obs.Comment = fmt.Sprintf("%s%% of values are %s (mostly=%s)",
			legacyFormat(*observed), noun, legacyFormat(mostly))

		return obs, nil
	}
}

// mostlyRangeExpectation is the between-values expectation: min_value and
// max_value bound the column values themselves, with a mostly proportion.
func mostlyRangeExpectation() func(context.Context, connector.Connector, LegacyTarget, map[string]any) (Observation, error) {
	inner := mostlyExpectation("values_in_range_percent", "in range")

	return func(ctx context.Context, conn connector.Connector, target LegacyTarget, params map[string]any) (Observation, error) {
		ranged := make(map[string]any, len(params)+2)
		for k, v := range params {
			ranged[k] = v
		}

		if v, ok := legacyFloat(params, "min_value"); ok {
			ranged["min_range"] = v
		}
		if v, ok := legacyFloat(params, "max_value"); ok {
			ranged["max_range"] = v
		}

		return inner(ctx, conn, target, ranged)
	}
}

func measure(ctx context.Context, conn connector.Connector, sensorName string, target LegacyTarget, params map[string]any) (*float64, string, error) {
	s, ok := sensor.Get(sensorName)
	if !ok {
		return nil, "", fmt.Errorf("checks: legacy expectation references unknown sensor %s", sensorName)
	}

	rendered := make(map[string]any, len(params)+4)
	for k, v := range params {
		rendered[k] = v
	}

	rendered["schema_name"] = target.SchemaName
	rendered["table_name"] = target.TableName
	if target.ColumnName != "" {
		rendered["column_name"] = target.ColumnName
	}
	if target.WhereClause != "" {
		rendered["where_clause"] = target.WhereClause
	}

	sql, err := sensor.Render(s, rendered, conn.QuoteIdentifier)
	if err != nil {
		return nil, "", err
	}

	value, err := conn.ExecuteSensorSQL(ctx, sql)
	if err != nil {
		return nil, sql, err
	}

	return value, sql, nil
}

func legacyFloat(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f, true
		}
	}

	return 0, false
}

func legacyFormat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

package checks

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veriflow-io/veriflow/internal/connector"
	"github.com/veriflow-io/veriflow/internal/model"
	"github.com/veriflow-io/veriflow/internal/rule"
	"github.com/veriflow-io/veriflow/internal/sensor"
)

func TestRegistryContract(t *testing.T) {
	names := Names()
	assert.GreaterOrEqual(t, len(names), 200)
	assert.IsIncreasing(t, names)

	// Every entry must resolve to a cataloged sensor and a real rule type.
	for _, name := range names {
		e, ok := Lookup(name)
		require.True(t, ok)
		assert.Equal(t, name, e.CheckType)
		assert.NotEmpty(t, e.Category)

		_, ok = sensor.Get(e.SensorType)
		assert.True(t, ok, "check %s references unknown sensor %s", name, e.SensorType)
	}
}

func TestLookup(t *testing.T) {
	tests := []struct {
		checkType string
		sensor    string
		ruleType  rule.Type
		category  string
		column    bool
	}{
		{"row_count", "row_count", rule.MinCount, CategoryVolume, false},
		{"row_count_anomaly", "row_count", rule.AnomalyPercentile, CategoryAnomaly, false},
		{"row_count_change", "row_count", rule.MaxChangePercent, CategoryVolume, false},
		{"row_count_match", "row_count", rule.MinPercent, CategoryComparisons, false},
		{"nulls_percent", "nulls_percent", rule.MaxPercent, CategoryNulls, true},
		{"nulls_percent_min", "nulls_percent", rule.MinPercent, CategoryNulls, true},
		{"column_exists", "column_exists", rule.IsTrue, CategorySchema, true},
		{"column_count_equals", "column_count", rule.EqualTo, CategorySchema, false},
		{"distinct_count_match", "distinct_count", rule.MinPercent, CategoryComparisons, true},
		{"custom_sql", "custom_sql", rule.MinMaxValue, CategoryCustomSQL, false},
	}

	for _, tt := range tests {
		t.Run(tt.checkType, func(t *testing.T) {
			e, ok := Lookup(tt.checkType)
			require.True(t, ok)
			assert.Equal(t, tt.sensor, e.SensorType)
			assert.Equal(t, tt.ruleType, e.RuleType)
			assert.Equal(t, tt.category, e.Category)
			assert.Equal(t, tt.column, e.IsColumnLevel)
		})
	}

	_, ok := Lookup("expect_column_values_to_not_be_null")
	assert.False(t, ok, "legacy expectations live in their own registry")
}

func TestDefaults(t *testing.T) {
	e, _ := Lookup("row_count")
	assert.Equal(t, map[string]any{"min_count": 1}, e.DefaultParams)

	e, _ = Lookup("row_count_match")
	assert.Equal(t, map[string]any{"min_percent": 100.0}, e.DefaultParams)

	e, _ = Lookup("mean_value")
	assert.Nil(t, e.DefaultParams)
}

func TestStaticEntriesHaveNoHistoryVariants(t *testing.T) {
	for _, name := range []string{"column_exists_anomaly", "column_count_change"} {
		_, ok := Lookup(name)
		assert.False(t, ok, name)
	}
}

func TestByCategoryAndLevel(t *testing.T) {
	volume := ByCategory(CategoryVolume)
	require.NotEmpty(t, volume)
	for _, e := range volume {
		assert.Equal(t, CategoryVolume, e.Category)
	}

	tableLevel := ByLevel(false)
	columnLevel := ByLevel(true)
	assert.Equal(t, len(Names()), len(tableLevel)+len(columnLevel))

	assert.Contains(t, Categories(), CategoryAnomaly)
	assert.Contains(t, Categories(), CategoryComparisons)
}

func mockConnector(t *testing.T) (*connector.SQLConnector, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	conn, err := connector.WrapDB(model.ConnectionPostgreSQL, db)
	require.NoError(t, err)

	return conn, mock
}

func TestLegacyNotNullExpectation(t *testing.T) {
	conn, mock := mockConnector(t)
	target := LegacyTarget{SchemaName: "public", TableName: "orders", ColumnName: "email"}

	entry, ok := LegacyLookup("expect_column_values_to_not_be_null")
	require.True(t, ok)
	assert.True(t, entry.IsColumnLevel)

	t.Run("mostly satisfied", func(t *testing.T) {
		mock.ExpectQuery("COUNT").WillReturnRows(
			sqlmock.NewRows([]string{"sensor_value"}).AddRow(97.5))

		obs, err := entry.Evaluate(context.Background(), conn, target, map[string]any{"mostly": 0.95})
		require.NoError(t, err)
		assert.True(t, obs.Passed)
		require.NotNil(t, obs.ObservedValue)
		assert.Equal(t, 97.5, *obs.ObservedValue)
		assert.Contains(t, obs.Comment, "97.5")
		assert.Contains(t, obs.ExecutedSQL, `"public"."orders"`)
	})

	t.Run("mostly defaults to all values", func(t *testing.T) {
		mock.ExpectQuery("COUNT").WillReturnRows(
			sqlmock.NewRows([]string{"sensor_value"}).AddRow(97.5))

		obs, err := entry.Evaluate(context.Background(), conn, target, nil)
		require.NoError(t, err)
		assert.False(t, obs.Passed)
	})

	t.Run("empty relation passes", func(t *testing.T) {
		mock.ExpectQuery("COUNT").WillReturnRows(
			sqlmock.NewRows([]string{"sensor_value"}).AddRow(nil))

		obs, err := entry.Evaluate(context.Background(), conn, target, nil)
		require.NoError(t, err)
		assert.True(t, obs.Passed)
		assert.Nil(t, obs.ObservedValue)
	})
}

func TestLegacyRowCountExpectation(t *testing.T) {
	conn, mock := mockConnector(t)
	target := LegacyTarget{SchemaName: "public", TableName: "orders"}

	entry, ok := LegacyLookup("expect_table_row_count_to_be_between")
	require.True(t, ok)
	assert.False(t, entry.IsColumnLevel)

	tests := []struct {
		name   string
		params map[string]any
		rows   float64
		passed bool
	}{
		{"within bounds", map[string]any{"min_value": 10.0, "max_value": 100.0}, 50, true},
		{"below min", map[string]any{"min_value": 10.0}, 5, false},
		{"above max", map[string]any{"max_value": 100.0}, 500, false},
		{"no bounds always passes", map[string]any{}, 5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock.ExpectQuery("COUNT").WillReturnRows(
				sqlmock.NewRows([]string{"sensor_value"}).AddRow(tt.rows))

			obs, err := entry.Evaluate(context.Background(), conn, target, tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.passed, obs.Passed)
		})
	}
}

func TestLegacyValuesBetweenExpectation(t *testing.T) {
	conn, mock := mockConnector(t)
	target := LegacyTarget{SchemaName: "public", TableName: "orders", ColumnName: "amount"}

	entry, ok := LegacyLookup("expect_column_values_to_be_between")
	require.True(t, ok)

	mock.ExpectQuery("BETWEEN 1 AND 99").WillReturnRows(
		sqlmock.NewRows([]string{"sensor_value"}).AddRow(100.0))

	obs, err := entry.Evaluate(context.Background(), conn, target, map[string]any{
		"min_value": 1.0,
		"max_value": 99.0,
	})
	require.NoError(t, err)
	assert.True(t, obs.Passed)
	assert.Contains(t, obs.ExecutedSQL, "BETWEEN 1 AND 99")
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veriflow-io/veriflow/internal/connector"
	"github.com/veriflow-io/veriflow/internal/model"
)

// stubConnector answers sensor queries from a canned value per connection.
type stubConnector struct {
	value   *float64
	execErr error
	queries []string
	closed  bool
}

func (c *stubConnector) Open(context.Context) error { return nil }
func (c *stubConnector) Close() error               { c.closed = true; return nil }
func (c *stubConnector) Test(context.Context) error { return nil }

func (c *stubConnector) Execute(context.Context, string) ([]map[string]any, error) {
	return nil, nil
}

func (c *stubConnector) ExecuteScalar(context.Context, string) (any, error) { return nil, nil }

func (c *stubConnector) ExecuteSensorSQL(_ context.Context, query string) (*float64, error) {
	c.queries = append(c.queries, query)
	if c.execErr != nil {
		return nil, c.execErr
	}

	return c.value, nil
}

func (c *stubConnector) ListSchemas(context.Context) ([]string, error)        { return nil, nil }
func (c *stubConnector) ListTables(context.Context, string) ([]string, error) { return nil, nil }
func (c *stubConnector) ListColumns(context.Context, string, string) ([]connector.Column, error) {
	return nil, nil
}
func (c *stubConnector) QuoteIdentifier(name string) string { return `"` + name + `"` }
func (c *stubConnector) Dialect() model.ConnectionType      { return model.ConnectionPostgreSQL }

type stubConfigs struct {
	configs map[string]map[string]any
}

func (s *stubConfigs) Config(_ context.Context, id string) (map[string]any, error) {
	cfg, ok := s.configs[id]
	if !ok {
		return nil, model.NotFoundf("connection %s", id)
	}

	return cfg, nil
}

type stubHistory struct {
	values []float64
	err    error
}

func (s *stubHistory) History(context.Context, string, time.Time) ([]float64, error) {
	return s.values, s.err
}

// testExecutor wires an executor whose opener hands out stub connectors
// keyed by the config's host field.
func testExecutor(t *testing.T, conns map[string]*stubConnector, history *stubHistory) *Executor {
	t.Helper()

	configs := &stubConfigs{configs: map[string]map[string]any{}}
	for id := range conns {
		configs.configs[id] = map[string]any{"host": id}
	}

	e := New(configs, history, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.open = func(_ context.Context, cfg map[string]any) (connector.Connector, error) {
		host, _ := cfg["host"].(string)
		conn, ok := conns[host]
		if !ok {
			return nil, fmt.Errorf("no stub for %q", host)
		}

		return conn, nil
	}

	return e
}

func fptr(v float64) *float64 { return &v }

func baseCheck(checkType string) *model.Check {
	return &model.Check{
		ID:           "chk-1",
		ConnectionID: "src",
		CheckType:    checkType,
		CheckMode:    model.ModeMonitoring,
		TargetSchema: "public",
		TargetTable:  "orders",
	}
}

func TestExecutePassing(t *testing.T) {
	conn := &stubConnector{value: fptr(20)}
	e := testExecutor(t, map[string]*stubConnector{"src": conn}, nil)

	check := baseCheck("row_count")
	check.RuleParameters = model.RuleParameters{
		model.SeverityError: {"min_count": 1.0},
	}

	result := e.Execute(context.Background(), check)

	assert.True(t, result.Passed)
	assert.Equal(t, model.SeverityPassed, result.Severity)
	require.NotNil(t, result.ActualValue)
	assert.Equal(t, 20.0, *result.ActualValue)
	assert.Contains(t, result.ExecutedSQL, `FROM "public"."orders"`)
	assert.True(t, conn.closed)
	assert.Empty(t, result.ErrorMessage)
}

func TestExecuteSeverityTierSelection(t *testing.T) {
	// 5% nulls against warning max 1 and error max 3: the strictest
	// configured tier wins and tags the failure.
	conn := &stubConnector{value: fptr(5)}
	e := testExecutor(t, map[string]*stubConnector{"src": conn}, nil)

	check := baseCheck("nulls_percent")
	check.TargetColumn = "email"
	check.RuleParameters = model.RuleParameters{
		model.SeverityWarning: {"max_percent": 1.0},
		model.SeverityError:   {"max_percent": 3.0},
	}

	result := e.Execute(context.Background(), check)

	assert.False(t, result.Passed)
	assert.Equal(t, model.SeverityError, result.Severity)
	assert.Equal(t, "email", result.TargetColumn)
}

func TestExecuteNullSensorValue(t *testing.T) {
	conn := &stubConnector{value: nil}
	e := testExecutor(t, map[string]*stubConnector{"src": conn}, nil)

	check := baseCheck("row_count")
	result := e.Execute(context.Background(), check)

	assert.False(t, result.Passed)
	assert.Equal(t, "sensor returned null", result.ResultDetails["message"])
}

func TestExecuteNeverRaises(t *testing.T) {
	t.Run("unknown check type", func(t *testing.T) {
		e := testExecutor(t, map[string]*stubConnector{"src": {}}, nil)

		result := e.Execute(context.Background(), baseCheck("no_such_check"))

		assert.False(t, result.Passed)
		assert.Equal(t, model.SeverityError, result.Severity)
		assert.Contains(t, result.ErrorMessage, "Execution failed:")
		assert.Contains(t, result.ErrorMessage, "no_such_check")
	})

	t.Run("unknown connection", func(t *testing.T) {
		e := testExecutor(t, map[string]*stubConnector{}, nil)

		result := e.Execute(context.Background(), baseCheck("row_count"))

		assert.Contains(t, result.ErrorMessage, "Execution failed:")
	})

	t.Run("sensor sql error", func(t *testing.T) {
		conn := &stubConnector{execErr: errors.New("relation does not exist")}
		e := testExecutor(t, map[string]*stubConnector{"src": conn}, nil)

		result := e.Execute(context.Background(), baseCheck("row_count"))

		assert.False(t, result.Passed)
		assert.Contains(t, result.ErrorMessage, "relation does not exist")
		assert.NotEmpty(t, result.ExecutedSQL)
	})
}

func TestExecuteAnomalyInjectsHistory(t *testing.T) {
	history := &stubHistory{values: []float64{19, 20, 21, 20, 19, 21, 20, 20, 19, 21}}
	conn := &stubConnector{value: fptr(20)}
	e := testExecutor(t, map[string]*stubConnector{"src": conn}, history)

	check := baseCheck("row_count_anomaly")
	check.RuleParameters = model.RuleParameters{
		model.SeverityError: {"anomaly_percent": 5.0},
	}

	result := e.Execute(context.Background(), check)
	assert.True(t, result.Passed)

	// The same value against a distant history is anomalous.
	history.values = []float64{1000, 1005, 1010, 995, 1002, 1008, 997, 1003, 1001, 998}
	result = e.Execute(context.Background(), check)
	assert.False(t, result.Passed)
	assert.Equal(t, model.SeverityError, result.Severity)
}

func TestExecuteChangeUsesHistory(t *testing.T) {
	// A change check judges the delta against the previous observation, not
	// against a match percent.
	history := &stubHistory{values: []float64{100}}
	conn := &stubConnector{value: fptr(200)}
	e := testExecutor(t, map[string]*stubConnector{"src": conn}, history)

	check := baseCheck("row_count_change")
	check.RuleParameters = model.RuleParameters{
		model.SeverityError: {"max_change": 10.0},
	}

	result := e.Execute(context.Background(), check)

	assert.False(t, result.Passed, "a 100%% jump must fail a 10%% threshold")
	assert.Equal(t, model.SeverityError, result.Severity)

	// Within the threshold the same check passes.
	conn.value = fptr(105)
	result = e.Execute(context.Background(), check)
	assert.True(t, result.Passed)

	// First run of a fresh check has no history to compare against.
	history.values = nil
	conn.value = fptr(200)
	result = e.Execute(context.Background(), check)
	assert.True(t, result.Passed)
	assert.Equal(t, "no prior observation", result.ResultDetails["message"])
}

func TestExecuteIgnoresSuppliedWhereClause(t *testing.T) {
	conn := &stubConnector{value: fptr(20)}
	e := testExecutor(t, map[string]*stubConnector{"src": conn}, nil)

	check := baseCheck("row_count")
	check.Parameters = map[string]any{
		"where_clause": "WHERE 1=1; DROP TABLE orders; --",
	}

	result := e.Execute(context.Background(), check)

	assert.NotContains(t, result.ExecutedSQL, "DROP TABLE")
	assert.Equal(t, `SELECT COUNT(*) AS sensor_value FROM "public"."orders"`, result.ExecutedSQL)

	// The filter parameter remains the supported way to scope rows.
	check.Parameters = map[string]any{
		"filter":       "status = 'shipped'",
		"where_clause": "WHERE 1=1; DROP TABLE orders; --",
	}

	result = e.Execute(context.Background(), check)
	assert.Contains(t, result.ExecutedSQL, "WHERE (status = 'shipped')")
	assert.NotContains(t, result.ExecutedSQL, "DROP TABLE")
}

func TestExecuteCrossSource(t *testing.T) {
	newCheck := func() *model.Check {
		check := baseCheck("row_count_match")
		check.Parameters = map[string]any{
			"reference_connection_id": "ref",
			"reference_table":         "orders_mirror",
		}
		check.RuleParameters = model.RuleParameters{
			model.SeverityError: {"min_percent": 99.0},
		}

		return check
	}

	t.Run("full match", func(t *testing.T) {
		src := &stubConnector{value: fptr(1000)}
		ref := &stubConnector{value: fptr(1000)}
		e := testExecutor(t, map[string]*stubConnector{"src": src, "ref": ref}, nil)

		result := e.Execute(context.Background(), newCheck())

		assert.True(t, result.Passed)
		require.NotNil(t, result.ActualValue)
		assert.Equal(t, 100.0, *result.ActualValue)
		assert.Equal(t, 1000.0, result.ResultDetails["source_value"])
		assert.Equal(t, 1000.0, result.ResultDetails["reference_value"])

		// Both statements ship in one executed_sql, reference side renamed.
		assert.Contains(t, result.ExecutedSQL, "-- source")
		assert.Contains(t, result.ExecutedSQL, "-- reference")
		assert.Contains(t, ref.queries[0], "orders_mirror")
		assert.Contains(t, src.queries[0], `"orders"`)

		assert.Contains(t, result.ResultDetails["message"], "source=1000")
		assert.Contains(t, result.ResultDetails["message"], "reference=1000")
	})

	t.Run("partial match fails threshold", func(t *testing.T) {
		src := &stubConnector{value: fptr(900)}
		ref := &stubConnector{value: fptr(1000)}
		e := testExecutor(t, map[string]*stubConnector{"src": src, "ref": ref}, nil)

		result := e.Execute(context.Background(), newCheck())

		assert.False(t, result.Passed)
		assert.InDelta(t, 90.0, *result.ActualValue, 1e-9)
	})

	t.Run("null side yields null match", func(t *testing.T) {
		src := &stubConnector{value: nil}
		ref := &stubConnector{value: fptr(1000)}
		e := testExecutor(t, map[string]*stubConnector{"src": src, "ref": ref}, nil)

		result := e.Execute(context.Background(), newCheck())

		assert.False(t, result.Passed)
		assert.Nil(t, result.ActualValue)
		assert.Nil(t, result.ResultDetails["match_percent"])
	})

	t.Run("both zero is a full match", func(t *testing.T) {
		src := &stubConnector{value: fptr(0)}
		ref := &stubConnector{value: fptr(0)}
		e := testExecutor(t, map[string]*stubConnector{"src": src, "ref": ref}, nil)

		result := e.Execute(context.Background(), newCheck())

		assert.True(t, result.Passed)
		assert.Equal(t, 100.0, *result.ActualValue)
	})

	t.Run("zero against nonzero matches nothing", func(t *testing.T) {
		src := &stubConnector{value: fptr(0)}
		ref := &stubConnector{value: fptr(50)}
		e := testExecutor(t, map[string]*stubConnector{"src": src, "ref": ref}, nil)

		result := e.Execute(context.Background(), newCheck())

		assert.False(t, result.Passed)
		assert.Equal(t, 0.0, *result.ActualValue)
	})
}

func TestExecuteLegacyExpectation(t *testing.T) {
	conn := &stubConnector{value: fptr(97.5)}
	e := testExecutor(t, map[string]*stubConnector{"src": conn}, nil)

	check := baseCheck("expect_column_values_to_not_be_null")
	check.TargetColumn = "email"
	check.Parameters = map[string]any{"mostly": 0.95}

	result := e.Execute(context.Background(), check)

	assert.True(t, result.Passed)
	assert.Equal(t, model.SeverityPassed, result.Severity)
	assert.Equal(t, 97.5, result.ResultDetails["observed_value"])
	assert.Contains(t, result.ResultDetails["comment"], "97.5")

	conn.value = fptr(80)
	result = e.Execute(context.Background(), check)

	assert.False(t, result.Passed)
	assert.Equal(t, model.SeverityError, result.Severity)
}

func TestWhereClause(t *testing.T) {
	now := time.Date(2026, 8, 24, 15, 30, 0, 0, time.UTC)

	t.Run("empty without filter or partition", func(t *testing.T) {
		assert.Empty(t, whereClause(baseCheck("row_count"), now))
	})

	t.Run("filter only", func(t *testing.T) {
		check := baseCheck("row_count")
		check.Parameters = map[string]any{"filter": "status = 'shipped'"}

		assert.Equal(t, "WHERE (status = 'shipped')", whereClause(check, now))
	})

	t.Run("daily partition window", func(t *testing.T) {
		check := baseCheck("row_count")
		check.CheckMode = model.ModePartitioned
		check.TimeScale = model.ScaleDaily
		check.PartitionByColumn = "created_at"

		assert.Equal(t, "WHERE created_at >= '2026-08-24 00:00:00'", whereClause(check, now))
	})

	t.Run("monthly partition window with filter", func(t *testing.T) {
		check := baseCheck("row_count")
		check.CheckMode = model.ModePartitioned
		check.TimeScale = model.ScaleMonthly
		check.PartitionByColumn = "created_at"
		check.Parameters = map[string]any{"filter": "region = 'eu'"}

		assert.Equal(t,
			"WHERE (region = 'eu') AND created_at >= '2026-08-01 00:00:00'",
			whereClause(check, now))
	})
}

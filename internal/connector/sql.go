package connector

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/veriflow-io/veriflow/internal/model"
)

const openPingTimeout = 10 * time.Second

// SQLConnector implements Connector over database/sql for every dialect,
// parameterized by a dialectSpec. Sessions are single-use: Open once, run
// queries, Close.
type SQLConnector struct {
	dialect model.ConnectionType
	spec    dialectSpec
	dsn     string
	db      *sql.DB
}

// newSQLConnector builds a connector from a decrypted config bag. The DSN is
// constructed eagerly so config errors surface before any network activity.
func newSQLConnector(dialect model.ConnectionType, spec dialectSpec, cfg map[string]any) (*SQLConnector, error) {
	dsn, err := spec.buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	return &SQLConnector{dialect: dialect, spec: spec, dsn: dsn}, nil
}

// WrapDB adapts an existing *sql.DB into a connector for the given dialect.
// Used by tests that drive the connector through a mock driver.
func WrapDB(dialect model.ConnectionType, db *sql.DB) (*SQLConnector, error) {
	spec, ok := dialects[dialect]
	if !ok {
		return nil, model.Validationf("unsupported connection type: %s", dialect)
	}

	return &SQLConnector{dialect: dialect, spec: spec, db: db}, nil
}

// Dialect reports the connection type this connector speaks.
func (c *SQLConnector) Dialect() model.ConnectionType {
	return c.dialect
}

// Open establishes and verifies the session.
func (c *SQLConnector) Open(ctx context.Context) error {
	if c.db != nil {
		return nil
	}

	db, err := sql.Open(c.spec.driverName, c.dsn)
	if err != nil {
		return connectionErrorf("failed to open %s connection: %v", c.dialect, err)
	}

	// One session per job; no pooling across jobs.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, openPingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()

		return connectionErrorf("failed to reach %s source: %v", c.dialect, err)
	}

	c.db = db

	return nil
}

// Close releases the session. Safe without a prior Open.
func (c *SQLConnector) Close() error {
	if c.db == nil {
		return nil
	}

	err := c.db.Close()
	c.db = nil

	return err
}

// Test verifies reachability, opening a session if necessary.
func (c *SQLConnector) Test(ctx context.Context) error {
	if c.db == nil {
		return c.Open(ctx)
	}

	if err := c.db.PingContext(ctx); err != nil {
		return connectionErrorf("failed to reach %s source: %v", c.dialect, err)
	}

	return nil
}

// Execute runs a query and returns rows as column-name-to-value maps.
func (c *SQLConnector) Execute(ctx context.Context, query string) ([]map[string]any, error) {
	if c.db == nil {
		return nil, connectionErrorf("%s session is not open", c.dialect)
	}

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, executionErrorf("query failed on %s: %v", c.dialect, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	columns, err := rows.Columns()
	if err != nil {
		return nil, executionErrorf("query failed on %s: %v", c.dialect, err)
	}

	var results []map[string]any

	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))

		for i := range values {
			pointers[i] = &values[i]
		}

		if err := rows.Scan(pointers...); err != nil {
			return nil, executionErrorf("row scan failed on %s: %v", c.dialect, err)
		}

		row := make(map[string]any, len(columns))
		for i, name := range columns {
			row[name] = normalizeValue(values[i])
		}

		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		return nil, executionErrorf("query failed on %s: %v", c.dialect, err)
	}

	return results, nil
}

// ExecuteScalar returns the first cell of the first row, or nil when the
// query yields no rows.
func (c *SQLConnector) ExecuteScalar(ctx context.Context, query string) (any, error) {
	if c.db == nil {
		return nil, connectionErrorf("%s session is not open", c.dialect)
	}

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, executionErrorf("query failed on %s: %v", c.dialect, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, executionErrorf("query failed on %s: %v", c.dialect, err)
		}

		return nil, nil
	}

	columns, err := rows.Columns()
	if err != nil {
		return nil, executionErrorf("query failed on %s: %v", c.dialect, err)
	}

	values := make([]any, len(columns))
	pointers := make([]any, len(columns))

	for i := range values {
		pointers[i] = &values[i]
	}

	if err := rows.Scan(pointers...); err != nil {
		return nil, executionErrorf("row scan failed on %s: %v", c.dialect, err)
	}

	return normalizeValue(values[0]), nil
}

// ExecuteSensorSQL runs rendered sensor SQL and coerces the sensor_value
// projection to a float. SQL NULL returns (nil, nil); a non-numeric value is
// an execution error.
func (c *SQLConnector) ExecuteSensorSQL(ctx context.Context, query string) (*float64, error) {
	value, err := c.ExecuteScalar(ctx, query)
	if err != nil {
		return nil, err
	}

	if value == nil {
		return nil, nil
	}

	f, ok := coerceFloat(value)
	if !ok {
		return nil, executionErrorf(
			"sensor_value is not numeric on %s: %T", c.dialect, value)
	}

	return &f, nil
}

// ListSchemas enumerates schemas visible to the session.
func (c *SQLConnector) ListSchemas(ctx context.Context) ([]string, error) {
	return c.stringColumn(ctx, c.spec.schemasSQL)
}

// ListTables enumerates tables in a schema.
func (c *SQLConnector) ListTables(ctx context.Context, schema string) ([]string, error) {
	return c.stringColumn(ctx, c.spec.tablesSQL(schema))
}

// ListColumns enumerates columns of a table with type and nullability.
func (c *SQLConnector) ListColumns(ctx context.Context, schema, table string) ([]Column, error) {
	rows, err := c.Execute(ctx, c.spec.columnsSQL(schema, table))
	if err != nil {
		return nil, err
	}

	columns := make([]Column, 0, len(rows))

	for _, row := range rows {
		col := Column{
			Name:     stringValue(row["column_name"]),
			DataType: stringValue(row["data_type"]),
		}

		switch nullable := stringValue(row["is_nullable"], row["nullable"]); strings.ToUpper(nullable) {
		case "YES", "Y", "TRUE", "1":
			col.Nullable = true
		}

		columns = append(columns, col)
	}

	return columns, nil
}

// QuoteIdentifier applies the dialect's identifier quoting.
func (c *SQLConnector) QuoteIdentifier(name string) string {
	return quoteIdentifier(name, c.spec.quoting)
}

func (c *SQLConnector) stringColumn(ctx context.Context, query string) ([]string, error) {
	rows, err := c.Execute(ctx, query)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(rows))

	for _, row := range rows {
		for _, v := range row {
			out = append(out, stringValue(v))

			break // single-column query
		}
	}

	return out, nil
}

// normalizeValue converts driver byte slices into strings so row maps are
// JSON-friendly.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}

	return v
}

// coerceFloat converts the scalar types drivers hand back into a float64.
func coerceFloat(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int64:
		return float64(value), true
	case int32:
		return float64(value), true
	case int:
		return float64(value), true
	case uint64:
		return float64(value), true
	case bool:
		if value {
			return 1, true
		}

		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)

		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(value)), 64)

		return f, err == nil
	case time.Time:
		return float64(value.Unix()), true
	default:
		f, err := strconv.ParseFloat(fmt.Sprint(value), 64)

		return f, err == nil
	}
}

// stringValue returns the first non-empty stringification among values.
func stringValue(values ...any) string {
	for _, v := range values {
		if v == nil {
			continue
		}

		if s := fmt.Sprint(normalizeValue(v)); s != "" {
			return s
		}
	}

	return ""
}

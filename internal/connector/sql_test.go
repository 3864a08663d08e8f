package connector

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veriflow-io/veriflow/internal/model"
)

func mockConnector(t *testing.T, dialect model.ConnectionType) (*SQLConnector, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
	})

	conn, err := WrapDB(dialect, db)
	require.NoError(t, err)

	return conn, mock
}

func TestExecuteSensorSQL(t *testing.T) {
	ctx := context.Background()
	query := `SELECT COUNT(*) AS sensor_value FROM "public"."orders"`

	t.Run("numeric value", func(t *testing.T) {
		conn, mock := mockConnector(t, model.ConnectionPostgreSQL)
		mock.ExpectQuery(query).WillReturnRows(
			sqlmock.NewRows([]string{"sensor_value"}).AddRow(int64(20)))

		value, err := conn.ExecuteSensorSQL(ctx, query)
		require.NoError(t, err)
		require.NotNil(t, value)
		assert.Equal(t, 20.0, *value)
	})

	t.Run("sql null", func(t *testing.T) {
		conn, mock := mockConnector(t, model.ConnectionPostgreSQL)
		mock.ExpectQuery(query).WillReturnRows(
			sqlmock.NewRows([]string{"sensor_value"}).AddRow(nil))

		value, err := conn.ExecuteSensorSQL(ctx, query)
		require.NoError(t, err)
		assert.Nil(t, value)
	})

	t.Run("no rows behaves as null", func(t *testing.T) {
		conn, mock := mockConnector(t, model.ConnectionPostgreSQL)
		mock.ExpectQuery(query).WillReturnRows(sqlmock.NewRows([]string{"sensor_value"}))

		value, err := conn.ExecuteSensorSQL(ctx, query)
		require.NoError(t, err)
		assert.Nil(t, value)
	})

	t.Run("numeric string coerced", func(t *testing.T) {
		conn, mock := mockConnector(t, model.ConnectionPostgreSQL)
		mock.ExpectQuery(query).WillReturnRows(
			sqlmock.NewRows([]string{"sensor_value"}).AddRow("42.5"))

		value, err := conn.ExecuteSensorSQL(ctx, query)
		require.NoError(t, err)
		require.NotNil(t, value)
		assert.Equal(t, 42.5, *value)
	})

	t.Run("non-numeric value is an execution error", func(t *testing.T) {
		conn, mock := mockConnector(t, model.ConnectionPostgreSQL)
		mock.ExpectQuery(query).WillReturnRows(
			sqlmock.NewRows([]string{"sensor_value"}).AddRow("not a number"))

		_, err := conn.ExecuteSensorSQL(ctx, query)
		assert.ErrorIs(t, err, model.ErrExecutionFailure)
	})

	t.Run("query failure is an execution error", func(t *testing.T) {
		conn, mock := mockConnector(t, model.ConnectionPostgreSQL)
		mock.ExpectQuery(query).WillReturnError(assert.AnError)

		_, err := conn.ExecuteSensorSQL(ctx, query)
		assert.ErrorIs(t, err, model.ErrExecutionFailure)
	})
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	conn, mock := mockConnector(t, model.ConnectionPostgreSQL)

	mock.ExpectQuery(`SELECT id, name FROM widgets`).WillReturnRows(
		sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), []byte("anvil")).
			AddRow(int64(2), []byte("rocket")))

	rows, err := conn.Execute(ctx, `SELECT id, name FROM widgets`)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, int64(1), rows[0]["id"])
	assert.Equal(t, "anvil", rows[0]["name"]) // byte slices become strings
	assert.Equal(t, "rocket", rows[1]["name"])
}

func TestListColumns(t *testing.T) {
	ctx := context.Background()
	conn, mock := mockConnector(t, model.ConnectionPostgreSQL)

	mock.ExpectQuery(informationSchemaColumns("public", "orders")).WillReturnRows(
		sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable"}).
			AddRow("id", "uuid", "NO").
			AddRow("amount", "numeric", "YES"))

	columns, err := conn.ListColumns(ctx, "public", "orders")
	require.NoError(t, err)
	require.Len(t, columns, 2)

	assert.Equal(t, Column{Name: "id", DataType: "uuid", Nullable: false}, columns[0])
	assert.Equal(t, Column{Name: "amount", DataType: "numeric", Nullable: true}, columns[1])
}

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		dialect model.ConnectionType
		name    string
		want    string
	}{
		{model.ConnectionPostgreSQL, "orders", `"orders"`},
		{model.ConnectionRedshift, "orders", `"orders"`},
		{model.ConnectionSnowflake, "orders", `"orders"`},
		{model.ConnectionDuckDB, "orders", `"orders"`},
		{model.ConnectionMySQL, "orders", "`orders`"},
		{model.ConnectionBigQuery, "orders", "`orders`"},
		{model.ConnectionDatabricks, "orders", "`orders`"},
		{model.ConnectionSQLServer, "orders", "[orders]"},
		{model.ConnectionOracle, "orders", `"ORDERS"`},
		{model.ConnectionPostgreSQL, `bad"name`, `"bad""name"`},
		{model.ConnectionMySQL, "bad`name", "`bad``name`"},
		{model.ConnectionSQLServer, "bad]name", "[bad]]name]"},
	}

	for _, tt := range tests {
		t.Run(string(tt.dialect)+"/"+tt.name, func(t *testing.T) {
			db, _, err := sqlmock.New()
			require.NoError(t, err)

			defer func() {
				_ = db.Close()
			}()

			conn, err := WrapDB(tt.dialect, db)
			require.NoError(t, err)
			assert.Equal(t, tt.want, conn.QuoteIdentifier(tt.name))
		})
	}
}

func TestNew(t *testing.T) {
	t.Run("every supported dialect constructs", func(t *testing.T) {
		cfg := map[string]any{
			"host": "db.internal", "username": "u", "password": "p", "database": "d",
			"account": "acct", "project_id": "proj", "path": "/tmp/x.duckdb",
			"service_name": "orcl", "http_path": "/sql/1.0/endpoints/abc",
		}

		for _, dialect := range model.ConnectionTypes() {
			cfg["connection_type"] = string(dialect)

			conn, err := New(cfg)
			require.NoError(t, err, dialect)
			assert.Equal(t, dialect, conn.Dialect())
		}
	})

	t.Run("unsupported dialect", func(t *testing.T) {
		_, err := New(map[string]any{"connection_type": "mongodb"})
		assert.ErrorIs(t, err, model.ErrValidation)
	})

	t.Run("missing host", func(t *testing.T) {
		_, err := New(map[string]any{"connection_type": "postgresql"})
		assert.ErrorIs(t, err, model.ErrValidation)
	})
}

func TestBuildDSN(t *testing.T) {
	t.Run("postgres", func(t *testing.T) {
		dsn, err := postgresDSN(map[string]any{
			"host": "db.internal", "port": float64(5433),
			"username": "veriflow", "password": "pw", "database": "warehouse",
		})
		require.NoError(t, err)
		assert.Equal(t, "postgres://veriflow:pw@db.internal:5433/warehouse?sslmode=prefer", dsn)
	})

	t.Run("mysql", func(t *testing.T) {
		dsn, err := mysqlDSN(map[string]any{
			"host": "db.internal", "username": "veriflow", "password": "pw", "database": "warehouse",
		})
		require.NoError(t, err)
		assert.Contains(t, dsn, "veriflow:pw@tcp(db.internal:3306)/warehouse")
		assert.Contains(t, dsn, "parseTime=true")
	})

	t.Run("snowflake requires account", func(t *testing.T) {
		_, err := snowflakeDSN(map[string]any{"username": "u"})
		assert.ErrorIs(t, err, model.ErrValidation)
	})

	t.Run("bigquery requires project", func(t *testing.T) {
		_, err := bigqueryDSN(map[string]any{})
		assert.ErrorIs(t, err, model.ErrValidation)

		dsn, err := bigqueryDSN(map[string]any{"project_id": "proj", "dataset": "analytics"})
		require.NoError(t, err)
		assert.Equal(t, "bigquery://proj/analytics", dsn)
	})
}

func TestSessionNotOpen(t *testing.T) {
	conn, err := NewForDialect(model.ConnectionPostgreSQL, map[string]any{"host": "db"})
	require.NoError(t, err)

	_, execErr := conn.Execute(context.Background(), "SELECT 1")
	assert.ErrorIs(t, execErr, model.ErrConnectionFailure)
}

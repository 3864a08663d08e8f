package connector

import (
	"fmt"
	"net/url"

	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/veriflow-io/veriflow/internal/model"
)

// dialectSpec captures everything that differs between dialects: the
// database/sql driver name, DSN construction, identifier quoting, and the
// metadata queries behind schema/table/column enumeration.
//
// Only the postgres and mysql drivers are linked into the binary; the other
// driver names resolve when the corresponding driver package is imported by
// the deployment build. An unlinked driver fails at Open with a connection
// error, never at construction.
type dialectSpec struct {
	driverName string
	quoting    quoteStyle
	buildDSN   func(cfg map[string]any) (string, error)
	schemasSQL string
	tablesSQL  func(schema string) string
	columnsSQL func(schema, table string) string
}

var dialects = map[model.ConnectionType]dialectSpec{
	model.ConnectionPostgreSQL: {
		driverName: "postgres",
		quoting:    quoteDouble,
		buildDSN:   postgresDSN,
		schemasSQL: `SELECT schema_name FROM information_schema.schemata
			WHERE schema_name NOT IN ('pg_catalog', 'information_schema') ORDER BY schema_name`,
		tablesSQL:  informationSchemaTables,
		columnsSQL: informationSchemaColumns,
	},
	model.ConnectionRedshift: {
		driverName: "postgres", // Redshift speaks the postgres wire protocol
		quoting:    quoteDouble,
		buildDSN:   postgresDSN,
		schemasSQL: `SELECT schema_name FROM information_schema.schemata
			WHERE schema_name NOT IN ('pg_catalog', 'information_schema') ORDER BY schema_name`,
		tablesSQL:  informationSchemaTables,
		columnsSQL: informationSchemaColumns,
	},
	model.ConnectionMySQL: {
		driverName: "mysql",
		quoting:    quoteBacktick,
		buildDSN:   mysqlDSN,
		schemasSQL: `SELECT schema_name FROM information_schema.schemata
			WHERE schema_name NOT IN ('mysql', 'sys', 'performance_schema', 'information_schema')
			ORDER BY schema_name`,
		tablesSQL:  informationSchemaTables,
		columnsSQL: informationSchemaColumns,
	},
	model.ConnectionSQLServer: {
		driverName: "sqlserver",
		quoting:    quoteBracket,
		buildDSN:   sqlserverDSN,
		schemasSQL: `SELECT name FROM sys.schemas
			WHERE name NOT IN ('sys', 'INFORMATION_SCHEMA', 'guest') ORDER BY name`,
		tablesSQL:  informationSchemaTables,
		columnsSQL: informationSchemaColumns,
	},
	model.ConnectionBigQuery: {
		driverName: "bigquery",
		quoting:    quoteBacktick,
		buildDSN:   bigqueryDSN,
		schemasSQL: `SELECT schema_name FROM INFORMATION_SCHEMA.SCHEMATA ORDER BY schema_name`,
		tablesSQL: func(schema string) string {
			return fmt.Sprintf(
				"SELECT table_name FROM `%s`.INFORMATION_SCHEMA.TABLES ORDER BY table_name",
				escapeLiteral(schema))
		},
		columnsSQL: func(schema, table string) string {
			return fmt.Sprintf(
				"SELECT column_name, data_type, is_nullable FROM `%s`.INFORMATION_SCHEMA.COLUMNS "+
					"WHERE table_name = '%s' ORDER BY ordinal_position",
				escapeLiteral(schema), escapeLiteral(table))
		},
	},
	model.ConnectionSnowflake: {
		driverName: "snowflake",
		quoting:    quoteDouble,
		buildDSN:   snowflakeDSN,
		schemasSQL: `SELECT schema_name FROM information_schema.schemata ORDER BY schema_name`,
		tablesSQL:  informationSchemaTables,
		columnsSQL: informationSchemaColumns,
	},
	model.ConnectionDuckDB: {
		driverName: "duckdb",
		quoting:    quoteDouble,
		buildDSN: func(cfg map[string]any) (string, error) {
			// File-backed or in-memory; an empty path means in-memory.
			return configStr(cfg, "path", "database"), nil
		},
		schemasSQL: `SELECT schema_name FROM information_schema.schemata ORDER BY schema_name`,
		tablesSQL:  informationSchemaTables,
		columnsSQL: informationSchemaColumns,
	},
	model.ConnectionOracle: {
		driverName: "oracle",
		quoting:    quoteUpper,
		buildDSN:   oracleDSN,
		schemasSQL: `SELECT username FROM all_users ORDER BY username`,
		tablesSQL: func(schema string) string {
			return fmt.Sprintf(
				"SELECT table_name FROM all_tables WHERE owner = '%s' ORDER BY table_name",
				escapeLiteral(schema))
		},
		columnsSQL: func(schema, table string) string {
			return fmt.Sprintf(
				"SELECT column_name, data_type, nullable FROM all_tab_columns "+
					"WHERE owner = '%s' AND table_name = '%s' ORDER BY column_id",
				escapeLiteral(schema), escapeLiteral(table))
		},
	},
	model.ConnectionDatabricks: {
		driverName: "databricks",
		quoting:    quoteBacktick,
		buildDSN:   databricksDSN,
		schemasSQL: `SELECT schema_name FROM information_schema.schemata ORDER BY schema_name`,
		tablesSQL:  informationSchemaTables,
		columnsSQL: informationSchemaColumns,
	},
}

func informationSchemaTables(schema string) string {
	return fmt.Sprintf(
		"SELECT table_name FROM information_schema.tables WHERE table_schema = '%s' ORDER BY table_name",
		escapeLiteral(schema))
}

func informationSchemaColumns(schema, table string) string {
	return fmt.Sprintf(
		"SELECT column_name, data_type, is_nullable FROM information_schema.columns "+
			"WHERE table_schema = '%s' AND table_name = '%s' ORDER BY ordinal_position",
		escapeLiteral(schema), escapeLiteral(table))
}

func postgresDSN(cfg map[string]any) (string, error) {
	host := configStr(cfg, "host")
	if host == "" {
		return "", model.Validationf("connection config missing host")
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, configInt(cfg, 5432, "port")),
		Path:   "/" + configStr(cfg, "database", "dbname"),
	}

	user := configStr(cfg, "username", "user")
	if user != "" {
		u.User = url.UserPassword(user, configStr(cfg, "password"))
	}

	q := u.Query()
	q.Set("sslmode", configStrDefault(cfg, "prefer", "sslmode", "ssl_mode"))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func mysqlDSN(cfg map[string]any) (string, error) {
	host := configStr(cfg, "host")
	if host == "" {
		return "", model.Validationf("connection config missing host")
	}

	mc := mysqldriver.NewConfig()
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", host, configInt(cfg, 3306, "port"))
	mc.User = configStr(cfg, "username", "user")
	mc.Passwd = configStr(cfg, "password")
	mc.DBName = configStr(cfg, "database", "dbname")
	mc.ParseTime = true

	return mc.FormatDSN(), nil
}

func sqlserverDSN(cfg map[string]any) (string, error) {
	host := configStr(cfg, "host")
	if host == "" {
		return "", model.Validationf("connection config missing host")
	}

	u := &url.URL{
		Scheme: "sqlserver",
		Host:   fmt.Sprintf("%s:%d", host, configInt(cfg, 1433, "port")),
	}

	user := configStr(cfg, "username", "user")
	if user != "" {
		u.User = url.UserPassword(user, configStr(cfg, "password"))
	}

	q := u.Query()
	q.Set("database", configStr(cfg, "database", "dbname"))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func bigqueryDSN(cfg map[string]any) (string, error) {
	project := configStr(cfg, "project_id", "project")
	if project == "" {
		return "", model.Validationf("connection config missing project_id")
	}

	dataset := configStr(cfg, "dataset", "database")
	if dataset == "" {
		return "bigquery://" + project, nil
	}

	return fmt.Sprintf("bigquery://%s/%s", project, dataset), nil
}

func snowflakeDSN(cfg map[string]any) (string, error) {
	account := configStr(cfg, "account")
	if account == "" {
		return "", model.Validationf("connection config missing account")
	}

	user := configStr(cfg, "username", "user")
	password := configStr(cfg, "password")
	database := configStr(cfg, "database", "dbname")

	dsn := fmt.Sprintf("%s:%s@%s/%s", user, password, account, database)

	if warehouse := configStr(cfg, "warehouse"); warehouse != "" {
		dsn += "?warehouse=" + url.QueryEscape(warehouse)
	}

	return dsn, nil
}

func oracleDSN(cfg map[string]any) (string, error) {
	host := configStr(cfg, "host")
	if host == "" {
		return "", model.Validationf("connection config missing host")
	}

	u := &url.URL{
		Scheme: "oracle",
		Host:   fmt.Sprintf("%s:%d", host, configInt(cfg, 1521, "port")),
		Path:   "/" + configStr(cfg, "service_name", "database"),
	}

	user := configStr(cfg, "username", "user")
	if user != "" {
		u.User = url.UserPassword(user, configStr(cfg, "password"))
	}

	return u.String(), nil
}

func databricksDSN(cfg map[string]any) (string, error) {
	host := configStr(cfg, "host")
	if host == "" {
		return "", model.Validationf("connection config missing host")
	}

	token := configStr(cfg, "access_token", "token")
	httpPath := configStr(cfg, "http_path")

	return fmt.Sprintf("token:%s@%s:%d%s",
		token, host, configInt(cfg, 443, "port"), httpPath), nil
}

// configStr returns the first non-empty string value among keys.
func configStr(cfg map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := cfg[key].(string); ok && v != "" {
			return v
		}
	}

	return ""
}

// configStrDefault is configStr with a fallback.
func configStrDefault(cfg map[string]any, fallback string, keys ...string) string {
	if v := configStr(cfg, keys...); v != "" {
		return v
	}

	return fallback
}

// configInt reads an integer config value; JSON round-trips numbers as
// float64, so both are accepted.
func configInt(cfg map[string]any, fallback int, keys ...string) int {
	for _, key := range keys {
		switch v := cfg[key].(type) {
		case int:
			return v
		case float64:
			return int(v)
		}
	}

	return fallback
}

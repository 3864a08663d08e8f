// Package connector provides the heterogeneous SQL dispatch layer: one
// adapter per supported dialect behind a uniform capability set. The engine
// renders dialect-neutral sensor SQL and hands it to a Connector; connectors
// never leak raw driver errors past their boundary.
package connector

import (
	"context"

	"github.com/veriflow-io/veriflow/internal/model"
)

// Column describes one column of a source table.
type Column struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
	Nullable bool   `json:"nullable"`
}

// Connector is the per-dialect capability set. Implementations are not safe
// for concurrent use; each job opens its own connector and closes it on exit.
type Connector interface {
	// Open establishes the underlying session. Auth, network and timeout
	// failures surface as ErrConnectionFailure.
	Open(ctx context.Context) error

	// Close releases the session. Safe to call without a prior Open.
	Close() error

	// Test verifies reachability of the source.
	Test(ctx context.Context) error

	// Execute runs a query and returns rows as ordered name-to-value maps.
	Execute(ctx context.Context, query string) ([]map[string]any, error)

	// ExecuteScalar runs a query and returns the first cell of the first row.
	ExecuteScalar(ctx context.Context, query string) (any, error)

	// ExecuteSensorSQL runs rendered sensor SQL. The statement must project a
	// single column aliased sensor_value; the return is its float value, or
	// nil when the source produced SQL NULL.
	ExecuteSensorSQL(ctx context.Context, query string) (*float64, error)

	// ListSchemas enumerates schemas visible to the session.
	ListSchemas(ctx context.Context) ([]string, error)

	// ListTables enumerates tables in a schema.
	ListTables(ctx context.Context, schema string) ([]string, error)

	// ListColumns enumerates columns of a table.
	ListColumns(ctx context.Context, schema, table string) ([]Column, error)

	// QuoteIdentifier applies dialect-specific identifier quoting.
	QuoteIdentifier(name string) string

	// Dialect reports the connection type this connector speaks.
	Dialect() model.ConnectionType
}

// SensorValueColumn is the alias every sensor SQL statement must project.
const SensorValueColumn = "sensor_value"

package connector

import (
	_ "github.com/go-sql-driver/mysql" // mysql driver
	_ "github.com/lib/pq"              // postgres driver, also used for redshift

	"github.com/veriflow-io/veriflow/internal/model"
)

// New constructs a connector for the dialect named in the decrypted config
// bag's connection_type key. The session is not opened.
func New(cfg map[string]any) (Connector, error) {
	dialect := model.ConnectionType(configStr(cfg, "connection_type", "type"))

	return NewForDialect(dialect, cfg)
}

// NewForDialect constructs a connector for an explicit dialect.
func NewForDialect(dialect model.ConnectionType, cfg map[string]any) (Connector, error) {
	spec, ok := dialects[dialect]
	if !ok {
		return nil, model.Validationf("unsupported connection type: %s", dialect)
	}

	return newSQLConnector(dialect, spec, cfg)
}

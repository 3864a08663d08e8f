package sensor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/veriflow-io/veriflow/internal/model"
)

var placeholderRegex = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// identifierParams are placeholders rendered as quoted identifiers by the
// target connector.
var identifierParams = map[string]bool{
	"schema_name":         true,
	"table_name":          true,
	"column_name":         true,
	"partition_by_column": true,
	"reference_column":    true,
	"foreign_table":       true,
	"foreign_column":      true,
	"foreign_schema":      true,
}

// rawParams pass through without quoting. custom_sql is confined to sensors
// explicitly marked custom; where_clause is assembled by the executor from
// filter_condition and the partition filter.
var rawParams = map[string]bool{
	"custom_sql":   true,
	"where_clause": true,
}

// optionalParams default to the empty string when absent.
var optionalParams = map[string]bool{
	"where_clause": true,
}

// Render expands a sensor template with merged parameters. Sensor defaults
// apply first, then the supplied params. quote is the target connector's
// identifier quoting.
func Render(s Sensor, params map[string]any, quote func(string) string) (string, error) {
	merged := make(map[string]any, len(s.DefaultParams)+len(params))
	for k, v := range s.DefaultParams {
		merged[k] = v
	}

	for k, v := range params {
		merged[k] = v
	}

	var renderErr error

	rendered := placeholderRegex.ReplaceAllStringFunc(s.Template, func(match string) string {
		name := placeholderRegex.FindStringSubmatch(match)[1]

		value, present := merged[name]
		if !present || value == nil {
			if optionalParams[name] {
				return ""
			}

			if renderErr == nil {
				renderErr = model.Validationf("sensor %s missing parameter %s", s.Name, name)
			}

			return match
		}

		switch {
		case identifierParams[name]:
			return quote(fmt.Sprint(value))
		case rawParams[name]:
			return fmt.Sprint(value)
		default:
			return renderLiteral(value)
		}
	})

	if renderErr != nil {
		return "", renderErr
	}

	return strings.TrimSpace(collapseSpace(rendered)), nil
}

// renderLiteral inlines a parameter value as a SQL literal.
func renderLiteral(value any) string {
	switch v := value.(type) {
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case bool:
		if v {
			return "TRUE"
		}

		return "FALSE"
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = renderLiteral(item)
		}

		return "(" + strings.Join(parts, ", ") + ")"
	case []string:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = renderLiteral(item)
		}

		return "(" + strings.Join(parts, ", ") + ")"
	default:
		return fmt.Sprint(v)
	}
}

var spaceRegex = regexp.MustCompile(`[ \t]+`)

func collapseSpace(s string) string {
	return spaceRegex.ReplaceAllString(s, " ")
}

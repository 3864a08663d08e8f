package sensor

// Sensor families.
const (
	FamilyVolume      = "volume"
	FamilySchema      = "schema"
	FamilyTimeliness  = "timeliness"
	FamilyNulls       = "nulls"
	FamilyUniqueness  = "uniqueness"
	FamilyNumeric     = "numeric"
	FamilyStatistical = "statistical"
	FamilyPercentile  = "percentile"
	FamilyText        = "text"
	FamilyPattern     = "patterns"
	FamilyPII         = "pii"
	FamilyGeographic  = "geographic"
	FamilyBoolean     = "bool"
	FamilyDatetime    = "datetime"
	FamilyReferential = "integrity"
	FamilyCustomSQL   = "custom_sql"
	FamilyCrossSource = "comparisons"
	FamilyAnomaly     = "anomaly"
)

const fromTarget = `FROM {{schema_name}}.{{table_name}} {{where_clause}}`

// catalog is the closed sensor set. Registering a new sensor is a code
// change; templates must project exactly one column aliased sensor_value.
var catalog = map[string]Sensor{
	// volume
	"row_count": table(FamilyVolume,
		`SELECT COUNT(*) AS sensor_value `+fromTarget),
	"total_row_count": table(FamilyCrossSource,
		`SELECT COUNT(*) AS sensor_value `+fromTarget),

	// schema; these query the catalog, so target names are inlined as literals
	"column_count": table(FamilySchema,
		`SELECT COUNT(*) AS sensor_value FROM information_schema.columns
		 WHERE table_schema = {{schema_literal}} AND table_name = {{table_literal}}`),
	"column_exists": column(FamilySchema,
		`SELECT COUNT(*) AS sensor_value FROM information_schema.columns
		 WHERE table_schema = {{schema_literal}} AND table_name = {{table_literal}}
		   AND column_name = {{column_literal}}`),

	// timeliness; MAX of a timestamp column coerces to epoch seconds
	"data_freshness": column(FamilyTimeliness,
		`SELECT MAX({{column_name}}) AS sensor_value `+fromTarget),

	// nulls
	"nulls_count": column(FamilyNulls,
		`SELECT COUNT(*) - COUNT({{column_name}}) AS sensor_value `+fromTarget),
	"nulls_percent": column(FamilyNulls,
		`SELECT 100.0 * (COUNT(*) - COUNT({{column_name}})) / NULLIF(COUNT(*), 0) AS sensor_value `+fromTarget),
	"not_nulls_count": column(FamilyNulls,
		`SELECT COUNT({{column_name}}) AS sensor_value `+fromTarget),
	"not_nulls_percent": column(FamilyNulls,
		`SELECT 100.0 * COUNT({{column_name}}) / NULLIF(COUNT(*), 0) AS sensor_value `+fromTarget),
	"empty_text_count": column(FamilyNulls,
		`SELECT SUM(CASE WHEN {{column_name}} = '' THEN 1 ELSE 0 END) AS sensor_value `+fromTarget),

	// uniqueness
	"distinct_count": column(FamilyUniqueness,
		`SELECT COUNT(DISTINCT {{column_name}}) AS sensor_value `+fromTarget),
	"distinct_percent": column(FamilyUniqueness,
		`SELECT 100.0 * COUNT(DISTINCT {{column_name}}) / NULLIF(COUNT({{column_name}}), 0) AS sensor_value `+fromTarget),
	"duplicate_count": column(FamilyUniqueness,
		`SELECT COUNT({{column_name}}) - COUNT(DISTINCT {{column_name}}) AS sensor_value `+fromTarget),
	"duplicate_percent": column(FamilyUniqueness,
		`SELECT 100.0 * (COUNT({{column_name}}) - COUNT(DISTINCT {{column_name}})) / NULLIF(COUNT({{column_name}}), 0) AS sensor_value `+fromTarget),

	// numeric
	"min_value": column(FamilyNumeric,
		`SELECT MIN({{column_name}}) AS sensor_value `+fromTarget),
	"max_value": column(FamilyNumeric,
		`SELECT MAX({{column_name}}) AS sensor_value `+fromTarget),
	"sum_value": column(FamilyNumeric,
		`SELECT SUM({{column_name}}) AS sensor_value `+fromTarget),
	"mean_value": column(FamilyNumeric,
		`SELECT AVG({{column_name}}) AS sensor_value `+fromTarget),
	"negative_count": column(FamilyNumeric,
		`SELECT SUM(CASE WHEN {{column_name}} < 0 THEN 1 ELSE 0 END) AS sensor_value `+fromTarget),
	"negative_percent": column(FamilyNumeric,
		`SELECT 100.0 * SUM(CASE WHEN {{column_name}} < 0 THEN 1 ELSE 0 END) / NULLIF(COUNT({{column_name}}), 0) AS sensor_value `+fromTarget),
	"zero_count": column(FamilyNumeric,
		`SELECT SUM(CASE WHEN {{column_name}} = 0 THEN 1 ELSE 0 END) AS sensor_value `+fromTarget),
	"values_in_range_percent": columnWith(FamilyNumeric,
		`SELECT 100.0 * SUM(CASE WHEN {{column_name}} BETWEEN {{min_range}} AND {{max_range}} THEN 1 ELSE 0 END) / NULLIF(COUNT({{column_name}}), 0) AS sensor_value `+fromTarget,
		map[string]any{"min_range": 0, "max_range": 0}),
	"values_in_set_percent": column(FamilyNumeric,
		`SELECT 100.0 * SUM(CASE WHEN {{column_name}} IN {{value_set}} THEN 1 ELSE 0 END) / NULLIF(COUNT({{column_name}}), 0) AS sensor_value `+fromTarget),

	// statistical
	"stddev_value": column(FamilyStatistical,
		`SELECT STDDEV({{column_name}}) AS sensor_value `+fromTarget),
	"variance_value": column(FamilyStatistical,
		`SELECT VARIANCE({{column_name}}) AS sensor_value `+fromTarget),

	// percentile
	"median_value": column(FamilyPercentile,
		`SELECT PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY {{column_name}}) AS sensor_value `+fromTarget),
	"percentile_value": columnWith(FamilyPercentile,
		`SELECT PERCENTILE_CONT({{percentile}}) WITHIN GROUP (ORDER BY {{column_name}}) AS sensor_value `+fromTarget,
		map[string]any{"percentile": 0.5}),

	// text
	"text_min_length": column(FamilyText,
		`SELECT MIN(LENGTH({{column_name}})) AS sensor_value `+fromTarget),
	"text_max_length": column(FamilyText,
		`SELECT MAX(LENGTH({{column_name}})) AS sensor_value `+fromTarget),
	"text_mean_length": column(FamilyText,
		`SELECT AVG(LENGTH({{column_name}})) AS sensor_value `+fromTarget),

	// patterns; LIKE keeps the templates portable across dialects
	"texts_matching_like_percent": column(FamilyPattern,
		`SELECT 100.0 * SUM(CASE WHEN {{column_name}} LIKE {{like_pattern}} THEN 1 ELSE 0 END) / NULLIF(COUNT({{column_name}}), 0) AS sensor_value `+fromTarget),
	"texts_not_matching_like_count": column(FamilyPattern,
		`SELECT SUM(CASE WHEN {{column_name}} NOT LIKE {{like_pattern}} THEN 1 ELSE 0 END) AS sensor_value `+fromTarget),
	"invalid_email_count": columnWith(FamilyPattern,
		`SELECT SUM(CASE WHEN {{column_name}} NOT LIKE {{like_pattern}} THEN 1 ELSE 0 END) AS sensor_value `+fromTarget,
		map[string]any{"like_pattern": "%_@_%.__%"}),
	"invalid_uuid_count": columnWith(FamilyPattern,
		`SELECT SUM(CASE WHEN {{column_name}} NOT LIKE {{like_pattern}} THEN 1 ELSE 0 END) AS sensor_value `+fromTarget,
		map[string]any{"like_pattern": "________-____-____-____-____________"}),

	// pii detection heuristics
	"contains_email_percent": columnWith(FamilyPII,
		`SELECT 100.0 * SUM(CASE WHEN {{column_name}} LIKE {{like_pattern}} THEN 1 ELSE 0 END) / NULLIF(COUNT({{column_name}}), 0) AS sensor_value `+fromTarget,
		map[string]any{"like_pattern": "%_@_%.__%"}),

	// geographic
	"valid_latitude_percent": column(FamilyGeographic,
		`SELECT 100.0 * SUM(CASE WHEN {{column_name}} BETWEEN -90 AND 90 THEN 1 ELSE 0 END) / NULLIF(COUNT({{column_name}}), 0) AS sensor_value `+fromTarget),
	"valid_longitude_percent": column(FamilyGeographic,
		`SELECT 100.0 * SUM(CASE WHEN {{column_name}} BETWEEN -180 AND 180 THEN 1 ELSE 0 END) / NULLIF(COUNT({{column_name}}), 0) AS sensor_value `+fromTarget),

	// bool
	"true_percent": column(FamilyBoolean,
		`SELECT 100.0 * SUM(CASE WHEN {{column_name}} = TRUE THEN 1 ELSE 0 END) / NULLIF(COUNT({{column_name}}), 0) AS sensor_value `+fromTarget),
	"false_percent": column(FamilyBoolean,
		`SELECT 100.0 * SUM(CASE WHEN {{column_name}} = FALSE THEN 1 ELSE 0 END) / NULLIF(COUNT({{column_name}}), 0) AS sensor_value `+fromTarget),

	// datetime
	"future_date_count": column(FamilyDatetime,
		`SELECT SUM(CASE WHEN {{column_name}} > CURRENT_TIMESTAMP THEN 1 ELSE 0 END) AS sensor_value `+fromTarget),
	"date_in_range_percent": column(FamilyDatetime,
		`SELECT 100.0 * SUM(CASE WHEN {{column_name}} BETWEEN {{min_date}} AND {{max_date}} THEN 1 ELSE 0 END) / NULLIF(COUNT({{column_name}}), 0) AS sensor_value `+fromTarget),

	// referential integrity within one connection
	"foreign_key_not_found_count": column(FamilyReferential,
		`SELECT COUNT(*) AS sensor_value
		 FROM {{schema_name}}.{{table_name}} src
		 LEFT JOIN {{foreign_schema}}.{{foreign_table}} ref ON src.{{column_name}} = ref.{{foreign_column}}
		 WHERE src.{{column_name}} IS NOT NULL AND ref.{{foreign_column}} IS NULL`),
	"foreign_key_match_percent": column(FamilyReferential,
		`SELECT 100.0 * SUM(CASE WHEN ref.{{foreign_column}} IS NOT NULL THEN 1 ELSE 0 END) / NULLIF(COUNT(src.{{column_name}}), 0) AS sensor_value
		 FROM {{schema_name}}.{{table_name}} src
		 LEFT JOIN {{foreign_schema}}.{{foreign_table}} ref ON src.{{column_name}} = ref.{{foreign_column}}`),

	// custom SQL passes through untouched; the only sensor allowed to do so
	"custom_sql": table(FamilyCustomSQL, `{{custom_sql}}`),
}

func table(family, template string) Sensor {
	return Sensor{Family: family, IsColumnLevel: false, Template: template}
}

func column(family, template string) Sensor {
	return Sensor{Family: family, IsColumnLevel: true, Template: template}
}

func columnWith(family, template string, defaults map[string]any) Sensor {
	return Sensor{Family: family, IsColumnLevel: true, Template: template, DefaultParams: defaults}
}

func init() {
	// Backfill names so Get and the registry agree without repeating them.
	for name, s := range catalog {
		s.Name = name
		catalog[name] = s
	}
}

// Package sensor holds the static catalog of SQL sensor templates and the
// renderer that turns a template plus check parameters into executable SQL.
// Every sensor projects exactly one column aliased sensor_value.
package sensor

// Sensor is one parameterized SQL template. Templates use {{name}}
// placeholders; identifier placeholders are quoted by the target connector at
// render time, literal placeholders are inlined as SQL literals, and the few
// raw placeholders (custom_sql, where_clause) pass through unmodified.
type Sensor struct {
	Name          string
	Family        string
	IsColumnLevel bool
	Template      string
	DefaultParams map[string]any
}

// Get returns the sensor registered under name.
func Get(name string) (Sensor, bool) {
	s, ok := catalog[name]

	return s, ok
}

// Names returns all registered sensor names in undefined order.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}

	return names
}

// Families returns the distinct sensor families.
func Families() []string {
	seen := make(map[string]bool)

	var families []string

	for _, s := range catalog {
		if !seen[s.Family] {
			seen[s.Family] = true

			families = append(families, s.Family)
		}
	}

	return families
}

// Package checks holds the static table that binds a check type to the
// sensor that measures it and the rule that judges the measurement. The set
// is closed: a new check type is a code change here, and anything outside
// the table is handled by the legacy expectation registry or rejected by
// the executor.
package checks

import (
	"sort"

	"github.com/veriflow-io/veriflow/internal/rule"
)

// Entry binds one check type to its sensor, rule and classification.
type Entry struct {
	CheckType     string
	SensorType    string
	RuleType      rule.Type
	Category      string
	IsColumnLevel bool
	DefaultParams map[string]any
}

// Lookup returns the registry entry for a check type.
func Lookup(checkType string) (Entry, bool) {
	e, ok := registry[checkType]
	return e, ok
}

// Names returns all registered check types, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Categories returns the distinct categories in the registry, sorted.
func Categories() []string {
	seen := map[string]struct{}{}
	for _, e := range registry {
		seen[e.Category] = struct{}{}
	}

	categories := make([]string, 0, len(seen))
	for c := range seen {
		categories = append(categories, c)
	}

	sort.Strings(categories)

	return categories
}

// ByCategory returns all entries in a category, sorted by check type.
func ByCategory(category string) []Entry {
	return filter(func(e Entry) bool { return e.Category == category })
}

// ByLevel returns the column-level or table-level entries.
func ByLevel(columnLevel bool) []Entry {
	return filter(func(e Entry) bool { return e.IsColumnLevel == columnLevel })
}

func filter(keep func(Entry) bool) []Entry {
	var out []Entry
	for _, e := range registry {
		if keep(e) {
			out = append(out, e)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CheckType < out[j].CheckType })

	return out
}

package model

import "strings"

// Validate enforces the structural invariants of a check definition.
// Column-level checks require a target column; partitioned checks require a
// partition column. Whether the check type is column-level is decided by the
// check registry and passed in by the caller.
func (c *Check) Validate(isColumnLevel bool) error {
	if strings.TrimSpace(c.ConnectionID) == "" {
		return Validationf("connection_id is required")
	}

	if strings.TrimSpace(c.CheckType) == "" {
		return Validationf("check_type is required")
	}

	if !c.CheckMode.Valid() {
		return Validationf("invalid check_mode %q", c.CheckMode)
	}

	if c.TimeScale != "" && !c.TimeScale.Valid() {
		return Validationf("invalid time_scale %q", c.TimeScale)
	}

	if strings.TrimSpace(c.TargetTable) == "" {
		return Validationf("target_table is required")
	}

	if isColumnLevel && strings.TrimSpace(c.TargetColumn) == "" {
		return Validationf("check type %q is column-level and requires target_column", c.CheckType)
	}

	if c.CheckMode == ModePartitioned && strings.TrimSpace(c.PartitionByColumn) == "" {
		return Validationf("partitioned checks require partition_by_column")
	}

	return nil
}

// ReferenceConnectionID extracts the cross-source reference connection from
// check parameters, or "" when the check is single-source.
func (c *Check) ReferenceConnectionID() string {
	if c.Parameters == nil {
		return ""
	}

	if v, ok := c.Parameters["reference_connection_id"].(string); ok {
		return strings.TrimSpace(v)
	}

	return ""
}

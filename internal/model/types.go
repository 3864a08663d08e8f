// Package model defines the domain entities shared across the Veriflow engine.
//
// Entities reference each other through opaque string IDs rather than pointers,
// so there are no cyclic object graphs between Check, Job, Incident and CheckResult.
package model

import (
	"time"
)

// ConnectionType identifies a SQL dialect a connection speaks.
type ConnectionType string

// Supported connection dialects.
const (
	ConnectionPostgreSQL ConnectionType = "postgresql"
	ConnectionMySQL      ConnectionType = "mysql"
	ConnectionSQLServer  ConnectionType = "sqlserver"
	ConnectionBigQuery   ConnectionType = "bigquery"
	ConnectionSnowflake  ConnectionType = "snowflake"
	ConnectionRedshift   ConnectionType = "redshift"
	ConnectionDuckDB     ConnectionType = "duckdb"
	ConnectionOracle     ConnectionType = "oracle"
	ConnectionDatabricks ConnectionType = "databricks"
)

// ConnectionTypes lists every supported dialect in stable order.
func ConnectionTypes() []ConnectionType {
	return []ConnectionType{
		ConnectionPostgreSQL,
		ConnectionMySQL,
		ConnectionSQLServer,
		ConnectionBigQuery,
		ConnectionSnowflake,
		ConnectionRedshift,
		ConnectionDuckDB,
		ConnectionOracle,
		ConnectionDatabricks,
	}
}

// Valid reports whether t is one of the supported dialects.
func (t ConnectionType) Valid() bool {
	for _, known := range ConnectionTypes() {
		if t == known {
			return true
		}
	}

	return false
}

// CheckMode controls how a check interprets its target table.
type CheckMode string

// Check modes.
const (
	ModeProfiling   CheckMode = "profiling"
	ModeMonitoring  CheckMode = "monitoring"
	ModePartitioned CheckMode = "partitioned"
)

// Valid reports whether m is a known check mode.
func (m CheckMode) Valid() bool {
	switch m {
	case ModeProfiling, ModeMonitoring, ModePartitioned:
		return true
	default:
		return false
	}
}

// TimeScale is the partition granularity for partitioned checks.
type TimeScale string

// Time scales.
const (
	ScaleDaily   TimeScale = "daily"
	ScaleMonthly TimeScale = "monthly"
)

// Valid reports whether s is a known time scale.
func (s TimeScale) Valid() bool {
	return s == ScaleDaily || s == ScaleMonthly
}

// JobStatus is the lifecycle state of a Job.
type JobStatus string

// Job statuses. Completed, failed and cancelled are terminal.
const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	case JobPending, JobRunning:
		return false
	default:
		return false
	}
}

// CanTransitionTo reports whether the job state machine allows moving from s to next.
//
// Allowed transitions:
//
//	pending  -> running | cancelled
//	running  -> completed | failed | cancelled
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobRunning || next == JobCancelled
	case JobRunning:
		return next == JobCompleted || next == JobFailed || next == JobCancelled
	case JobCompleted, JobFailed, JobCancelled:
		return false
	default:
		return false
	}
}

// ResultSeverity grades the outcome of a single check execution.
type ResultSeverity string

// Result severities, ordered passed < warning < error < fatal.
const (
	SeverityPassed  ResultSeverity = "passed"
	SeverityWarning ResultSeverity = "warning"
	SeverityError   ResultSeverity = "error"
	SeverityFatal   ResultSeverity = "fatal"
)

// Valid reports whether s is a known result severity.
func (s ResultSeverity) Valid() bool {
	switch s {
	case SeverityPassed, SeverityWarning, SeverityError, SeverityFatal:
		return true
	default:
		return false
	}
}

// Rank returns a comparable ordering for result severities.
// Unknown severities rank below passed.
func (s ResultSeverity) Rank() int {
	switch s {
	case SeverityPassed:
		return 0
	case SeverityWarning:
		return 1
	case SeverityError:
		return 2
	case SeverityFatal:
		return 3
	default:
		return -1
	}
}

// IncidentSeverity is distinct from result severity; it is allocated when an
// incident opens and never updated afterwards.
type IncidentSeverity string

// Incident severities. Critical is reserved for operator escalation and is
// never produced by the severity mapping.
const (
	IncidentLow      IncidentSeverity = "low"
	IncidentMedium   IncidentSeverity = "medium"
	IncidentHigh     IncidentSeverity = "high"
	IncidentCritical IncidentSeverity = "critical"
)

// MapResultSeverity maps a failing result severity to the incident severity
// assigned at open time: warning->low, error->medium, fatal->high.
func MapResultSeverity(s ResultSeverity) IncidentSeverity {
	switch s {
	case SeverityWarning:
		return IncidentLow
	case SeverityError:
		return IncidentMedium
	case SeverityFatal:
		return IncidentHigh
	case SeverityPassed:
		return IncidentLow
	default:
		return IncidentMedium
	}
}

// ResultThreshold maps an incident severity back onto the result severity scale,
// used by notification channels filtering on min_severity.
// low->warning, medium->error, high->fatal, critical->fatal.
func (s IncidentSeverity) ResultThreshold() ResultSeverity {
	switch s {
	case IncidentLow:
		return SeverityWarning
	case IncidentMedium:
		return SeverityError
	case IncidentHigh, IncidentCritical:
		return SeverityFatal
	default:
		return SeverityWarning
	}
}

// IncidentStatus is the lifecycle state of an Incident.
type IncidentStatus string

// Incident statuses.
const (
	IncidentOpen         IncidentStatus = "open"
	IncidentAcknowledged IncidentStatus = "acknowledged"
	IncidentResolved     IncidentStatus = "resolved"
)

// CanTransitionTo reports whether the incident state machine allows moving from
// s to next: open<->acknowledged, {open,acknowledged}->resolved, resolved->open.
func (s IncidentStatus) CanTransitionTo(next IncidentStatus) bool {
	switch s {
	case IncidentOpen:
		return next == IncidentAcknowledged || next == IncidentResolved
	case IncidentAcknowledged:
		return next == IncidentOpen || next == IncidentResolved
	case IncidentResolved:
		return next == IncidentOpen
	default:
		return false
	}
}

// EventType names an incident lifecycle event delivered to notification channels.
type EventType string

// Notification event types.
const (
	EventIncidentOpened   EventType = "incident.opened"
	EventIncidentResolved EventType = "incident.resolved"
	EventTest             EventType = "test"
)

type (
	// Connection is a registered SQL data source. The dialect-specific
	// configuration is held encrypted at rest and never leaves the storage
	// layer in plaintext.
	Connection struct {
		ID              string         `json:"id"`
		Name            string         `json:"name"`
		Type            ConnectionType `json:"type"`
		EncryptedConfig []byte         `json:"-"`
		IsActive        bool           `json:"is_active"`
		CreatedAt       time.Time      `json:"created_at"`
		UpdatedAt       time.Time      `json:"updated_at"`
	}

	// Check is a persistent data-quality assertion against a table or column.
	Check struct {
		ID                string         `json:"id"`
		ConnectionID      string         `json:"connection_id"`
		CheckType         string         `json:"check_type"`
		CheckMode         CheckMode      `json:"check_mode"`
		TimeScale         TimeScale      `json:"time_scale,omitempty"`
		TargetSchema      string         `json:"target_schema"`
		TargetTable       string         `json:"target_table"`
		TargetColumn      string         `json:"target_column,omitempty"`
		PartitionByColumn string         `json:"partition_by_column,omitempty"`
		Parameters        map[string]any `json:"parameters,omitempty"`
		RuleParameters    RuleParameters `json:"rule_parameters,omitempty"`
		IsActive          bool           `json:"is_active"`
		CreatedAt         time.Time      `json:"created_at"`
		UpdatedAt         time.Time      `json:"updated_at"`
	}

	// RuleParameters carries up to three severity-keyed threshold records.
	// Each record is a partial parameter bag merged over sensor and check defaults.
	RuleParameters map[ResultSeverity]map[string]any

	// Job is a single execution attempt of a check.
	Job struct {
		ID           string         `json:"id"`
		CheckID      string         `json:"check_id"`
		Status       JobStatus      `json:"status"`
		StartedAt    *time.Time     `json:"started_at,omitempty"`
		CompletedAt  *time.Time     `json:"completed_at,omitempty"`
		ErrorMessage string         `json:"error_message,omitempty"`
		Metadata     map[string]any `json:"metadata,omitempty"`
		CreatedAt    time.Time      `json:"created_at"`
	}

	// CheckResult is the immutable record of one check execution.
	// The composite key is (ID, ExecutedAt); check_results is time-partitioned
	// on ExecutedAt and rows are append-only.
	CheckResult struct {
		ID              string         `json:"id"`
		CheckID         string         `json:"check_id"`
		JobID           string         `json:"job_id,omitempty"`
		ConnectionID    string         `json:"connection_id"`
		TargetTable     string         `json:"target_table"`
		TargetColumn    string         `json:"target_column,omitempty"`
		CheckType       string         `json:"check_type"`
		ActualValue     *float64       `json:"actual_value,omitempty"`
		ExpectedValue   string         `json:"expected_value,omitempty"`
		Passed          bool           `json:"passed"`
		Severity        ResultSeverity `json:"severity"`
		ExecutionTimeMS int64          `json:"execution_time_ms"`
		RowsScanned     *int64         `json:"rows_scanned,omitempty"`
		ResultDetails   map[string]any `json:"result_details,omitempty"`
		ErrorMessage    string         `json:"error_message,omitempty"`
		ExecutedSQL     string         `json:"executed_sql,omitempty"`
		ExecutedAt      time.Time      `json:"executed_at"`
	}

	// Incident aggregates consecutive failures of one check.
	// At most one incident per check is non-resolved at any time.
	Incident struct {
		ID              string           `json:"id"`
		CheckID         string           `json:"check_id"`
		ResultID        *string          `json:"result_id,omitempty"`
		Status          IncidentStatus   `json:"status"`
		Severity        IncidentSeverity `json:"severity"`
		Title           string           `json:"title"`
		Description     string           `json:"description,omitempty"`
		FirstFailureAt  time.Time        `json:"first_failure_at"`
		LastFailureAt   time.Time        `json:"last_failure_at"`
		FailureCount    int              `json:"failure_count"`
		ResolvedAt      *time.Time       `json:"resolved_at,omitempty"`
		ResolvedBy      string           `json:"resolved_by,omitempty"`
		ResolutionNotes string           `json:"resolution_notes,omitempty"`
		AcknowledgedAt  *time.Time       `json:"acknowledged_at,omitempty"`
		AcknowledgedBy  string           `json:"acknowledged_by,omitempty"`
		CreatedAt       time.Time        `json:"created_at"`
		UpdatedAt       time.Time        `json:"updated_at"`
	}

	// Schedule binds a cron expression to a check. While active, NextRunAt is
	// always the next cron firing at or after max(now, LastRunAt).
	Schedule struct {
		ID             string     `json:"id"`
		CheckID        string     `json:"check_id"`
		CronExpression string     `json:"cron_expression"`
		Timezone       string     `json:"timezone"`
		IsActive       bool       `json:"is_active"`
		LastRunAt      *time.Time `json:"last_run_at,omitempty"`
		NextRunAt      *time.Time `json:"next_run_at,omitempty"`
		CreatedAt      time.Time  `json:"created_at"`
		UpdatedAt      time.Time  `json:"updated_at"`
	}

	// NotificationChannel is a webhook destination subscribed to incident events.
	NotificationChannel struct {
		ID          string          `json:"id"`
		Name        string          `json:"name"`
		ChannelType string          `json:"channel_type"`
		Config      ChannelConfig   `json:"config"`
		Events      []EventType     `json:"events"`
		MinSeverity *ResultSeverity `json:"min_severity,omitempty"`
		IsActive    bool            `json:"is_active"`
		CreatedAt   time.Time       `json:"created_at"`
		UpdatedAt   time.Time       `json:"updated_at"`
	}

	// ChannelConfig holds webhook delivery settings.
	ChannelConfig struct {
		URL     string            `json:"url"`
		Headers map[string]string `json:"headers,omitempty"`
	}
)

// HighestSeverity returns the highest-severity threshold record present
// (fatal > error > warning) together with its tag. Evaluation always runs the
// rule with the strictest configured tier; the result severity on failure is
// that tier's tag.
func (rp RuleParameters) HighestSeverity() (ResultSeverity, map[string]any, bool) {
	for _, severity := range []ResultSeverity{SeverityFatal, SeverityError, SeverityWarning} {
		if params, ok := rp[severity]; ok {
			return severity, params, true
		}
	}

	return "", nil, false
}

// TriggeredBy extracts the metadata field recording who enqueued the job.
func (j *Job) TriggeredBy() string {
	if j.Metadata == nil {
		return ""
	}

	if v, ok := j.Metadata["triggered_by"].(string); ok {
		return v
	}

	return ""
}

// ScheduleID extracts the originating schedule ID from job metadata, if any.
func (j *Job) ScheduleID() string {
	if j.Metadata == nil {
		return ""
	}

	if v, ok := j.Metadata["schedule_id"].(string); ok {
		return v
	}

	return ""
}

// SubscribedTo reports whether the channel subscribes to the given event type.
func (c *NotificationChannel) SubscribedTo(event EventType) bool {
	for _, e := range c.Events {
		if e == event {
			return true
		}
	}

	return false
}

// WantsSeverity reports whether an incident of the given severity passes the
// channel's min_severity filter. A nil filter accepts everything.
func (c *NotificationChannel) WantsSeverity(severity IncidentSeverity) bool {
	if c.MinSeverity == nil {
		return true
	}

	return severity.ResultThreshold().Rank() >= c.MinSeverity.Rank()
}

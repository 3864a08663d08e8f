// Package api provides the HTTP API server for the Veriflow service.
package api

import (
	"context"

	"github.com/veriflow-io/veriflow/internal/connector"
	"github.com/veriflow-io/veriflow/internal/model"
	"github.com/veriflow-io/veriflow/internal/storage"
)

// The handler layer depends on narrow interfaces rather than the concrete
// stores and services, so tests can run the full HTTP surface against
// in-memory fakes.
type (
	// ConnectionStore is the persistence surface the connection handlers need.
	ConnectionStore interface {
		Create(ctx context.Context, name string, connType model.ConnectionType, cfg map[string]any) (*model.Connection, error)
		GetByID(ctx context.Context, id string) (*model.Connection, error)
		List(ctx context.Context, includeInactive bool) ([]*model.Connection, error)
		Update(ctx context.Context, id, name string, cfg map[string]any) (*model.Connection, error)
		SoftDelete(ctx context.Context, id string) error
		Config(ctx context.Context, id string) (map[string]any, error)
	}

	// CheckStore is the persistence surface the check handlers need.
	CheckStore interface {
		Create(ctx context.Context, check *model.Check) (*model.Check, error)
		GetByID(ctx context.Context, id string) (*model.Check, error)
		List(ctx context.Context, filter storage.CheckFilter) ([]*model.Check, error)
		Update(ctx context.Context, id string, patch storage.CheckPatch) (*model.Check, error)
		SoftDelete(ctx context.Context, id string) error
	}

	// JobStore is the read surface the job handlers need.
	JobStore interface {
		GetByID(ctx context.Context, id string) (*model.Job, error)
		List(ctx context.Context, filter storage.JobFilter) ([]*model.Job, error)
	}

	// JobRunner creates, enqueues and cancels jobs.
	JobRunner interface {
		Run(ctx context.Context, checkID, triggeredBy, scheduleID string) (*model.Job, string, error)
		Cancel(ctx context.Context, jobID string) (*model.Job, error)
	}

	// ResultStore is the read surface the result handlers need.
	ResultStore interface {
		List(ctx context.Context, filter storage.ResultFilter) ([]*model.CheckResult, error)
		Summary(ctx context.Context, filter storage.ResultFilter) (*storage.ResultSummary, error)
	}

	// IncidentStore is the read surface the incident handlers need.
	IncidentStore interface {
		GetByID(ctx context.Context, id string) (*model.Incident, error)
		List(ctx context.Context, filter storage.IncidentFilter) ([]*model.Incident, error)
	}

	// IncidentUpdater applies incident status transitions.
	IncidentUpdater interface {
		UpdateStatus(ctx context.Context, incidentID string, status model.IncidentStatus, by, notes string) (*model.Incident, error)
	}

	// ScheduleStore is the persistence surface the schedule handlers need.
	ScheduleStore interface {
		Create(ctx context.Context, schedule *model.Schedule) (*model.Schedule, error)
		GetByID(ctx context.Context, id string) (*model.Schedule, error)
		List(ctx context.Context, onlyActive bool) ([]*model.Schedule, error)
		Update(ctx context.Context, schedule *model.Schedule) (*model.Schedule, error)
		Delete(ctx context.Context, id string) error
	}

	// ChannelStore is the persistence surface the notification channel
	// handlers need.
	ChannelStore interface {
		Create(ctx context.Context, channel *model.NotificationChannel) (*model.NotificationChannel, error)
		GetByID(ctx context.Context, id string) (*model.NotificationChannel, error)
		List(ctx context.Context) ([]*model.NotificationChannel, error)
		Update(ctx context.Context, channel *model.NotificationChannel) (*model.NotificationChannel, error)
		Delete(ctx context.Context, id string) error
	}

	// WebhookTester sends a synchronous test event to a channel.
	WebhookTester interface {
		TestSend(ctx context.Context, channel *model.NotificationChannel) (int, error)
	}

	// CheckExecutor runs a check synchronously, without persistence. Used by
	// the preview endpoints.
	CheckExecutor interface {
		Execute(ctx context.Context, check *model.Check) *model.CheckResult
		ExecuteWithConfig(ctx context.Context, check *model.Check, cfg map[string]any) *model.CheckResult
	}

	// ConnectorOpener opens a live connector session from a plaintext
	// configuration bag. The default implementation dials the source;
	// tests substitute a fake.
	ConnectorOpener func(ctx context.Context, cfg map[string]any) (connector.Connector, error)

	// HealthCheck is a named readiness probe of one backing dependency.
	HealthCheck struct {
		Name  string
		Check func(ctx context.Context) error
	}

	// Dependencies bundles everything the HTTP surface is wired to.
	// Nil optional fields (APIKeys, RateLimiter, Notifier) degrade the
	// corresponding feature rather than failing at startup.
	Dependencies struct {
		Connections ConnectionStore
		Checks      CheckStore
		Jobs        JobStore
		Runner      JobRunner
		Results     ResultStore
		Incidents   IncidentStore
		IncidentOps IncidentUpdater
		Schedules   ScheduleStore
		Channels    ChannelStore
		Notifier    WebhookTester
		Executor    CheckExecutor

		// OpenConnector defaults to dialing through the connector factory.
		OpenConnector ConnectorOpener

		// Health lists the backing services the deep health endpoints probe
		// (database, broker).
		Health []HealthCheck
	}
)

// openConnector is the production ConnectorOpener.
func openConnector(ctx context.Context, cfg map[string]any) (connector.Connector, error) {
	conn, err := connector.New(cfg)
	if err != nil {
		return nil, err
	}

	if err := conn.Open(ctx); err != nil {
		return nil, err
	}

	return conn, nil
}

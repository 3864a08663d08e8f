package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/veriflow-io/veriflow/internal/config"
	"github.com/veriflow-io/veriflow/internal/model"
)

// setupStores boots a postgres container with migrations applied and returns a
// wrapped connection shared by all stores under test.
func setupStores(ctx context.Context, t *testing.T) *Connection {
	t.Helper()

	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	return WrapDB(testDB.Connection)
}

func testCipher(t *testing.T) *ConfigCipher {
	t.Helper()

	cipher, err := NewConfigCipher(strings.Repeat("ab", 32))
	require.NoError(t, err)

	return cipher
}

func seedConnectionAndCheck(ctx context.Context, t *testing.T, conn *Connection) (*model.Connection, *model.Check) {
	t.Helper()

	connections, err := NewConnectionStore(conn, testCipher(t))
	require.NoError(t, err)

	source, err := connections.Create(ctx, "warehouse", model.ConnectionPostgreSQL, map[string]any{
		"host": "db.internal", "port": float64(5432), "database": "analytics",
	})
	require.NoError(t, err)

	checks, err := NewCheckStore(conn)
	require.NoError(t, err)

	check, err := checks.Create(ctx, &model.Check{
		ConnectionID: source.ID,
		CheckType:    "row_count_min",
		CheckMode:    model.ModeMonitoring,
		TargetSchema: "public",
		TargetTable:  "orders",
		RuleParameters: model.RuleParameters{
			model.SeverityError: {"min_count": float64(100)},
		},
	})
	require.NoError(t, err)

	return source, check
}

func TestConnectionStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupStores(ctx, t)

	store, err := NewConnectionStore(conn, testCipher(t))
	require.NoError(t, err)

	created, err := store.Create(ctx, "warehouse", model.ConnectionPostgreSQL, map[string]any{
		"host": "db.internal", "password": "hunter2",
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.True(t, created.IsActive)

	fetched, err := store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "warehouse", fetched.Name)
	assert.Equal(t, model.ConnectionPostgreSQL, fetched.Type)

	// Config must round-trip through the cipher, plaintext never stored.
	cfg, err := store.Config(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg["password"])

	var raw []byte
	err = conn.QueryRowContext(ctx,
		`SELECT encrypted_config FROM connections WHERE id = $1`, created.ID,
	).Scan(&raw)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter2")

	require.NoError(t, store.SoftDelete(ctx, created.ID))

	active, err := store.List(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := store.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].IsActive)
}

func TestJobLifecycleIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupStores(ctx, t)
	_, check := seedConnectionAndCheck(ctx, t, conn)

	store, err := NewJobStore(conn)
	require.NoError(t, err)

	job, err := store.Create(ctx, check.ID, map[string]any{"triggered_by": "manual"})
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, job.Status)

	require.NoError(t, store.SetTaskID(ctx, job.ID, "task-1"))

	running, err := store.Transition(ctx, job.ID,
		[]model.JobStatus{model.JobPending}, model.JobRunning, "")
	require.NoError(t, err)
	assert.Equal(t, model.JobRunning, running.Status)
	assert.NotNil(t, running.StartedAt)

	done, err := store.Transition(ctx, job.ID,
		[]model.JobStatus{model.JobRunning}, model.JobCompleted, "")
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, done.Status)
	assert.NotNil(t, done.CompletedAt)
	assert.Equal(t, "manual", done.TriggeredBy())
	assert.Equal(t, "task-1", done.Metadata["task_id"])

	// Terminal states are sticky.
	_, err = store.Transition(ctx, job.ID,
		[]model.JobStatus{model.JobPending, model.JobRunning}, model.JobCancelled, "")
	require.ErrorIs(t, err, model.ErrConflict)

	jobs, err := store.List(ctx, JobFilter{CheckID: check.ID, Status: model.JobCompleted})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestResultAndIncidentIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupStores(ctx, t)
	source, check := seedConnectionAndCheck(ctx, t, conn)

	results, err := NewResultStore(conn, time.Hour, 90*24*time.Hour)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = results.Close()
	})

	passedValue := 150.0
	failedValue := 42.0
	now := time.Now().UTC()

	_, err = results.Insert(ctx, &model.CheckResult{
		CheckID: check.ID, ConnectionID: source.ID,
		TargetTable: "orders", CheckType: "row_count_min",
		ActualValue: &passedValue, Passed: true, Severity: model.SeverityPassed,
		ExecutedAt: now.Add(-time.Minute),
	})
	require.NoError(t, err)

	failed, err := results.Insert(ctx, &model.CheckResult{
		CheckID: check.ID, ConnectionID: source.ID,
		TargetTable: "orders", CheckType: "row_count_min",
		ActualValue: &failedValue, ExpectedValue: ">=100",
		Passed: false, Severity: model.SeverityError,
		ExecutedAt: now,
	})
	require.NoError(t, err)

	listed, err := results.List(ctx, ResultFilter{CheckID: check.ID})
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, failed.ID, listed[0].ID, "newest result first")

	summary, err := results.Summary(ctx, ResultFilter{CheckID: check.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.BySeverity[string(model.SeverityError)])

	incidents, err := NewIncidentStore(conn)
	require.NoError(t, err)

	incident, err := incidents.Create(ctx, &model.Incident{
		CheckID: check.ID, ResultID: &failed.ID,
		Status: model.IncidentOpen, Severity: model.IncidentMedium,
		Title:          "row_count_min failed on orders",
		FirstFailureAt: now, LastFailureAt: now, FailureCount: 1,
	})
	require.NoError(t, err)

	// The partial unique index allows at most one non-resolved incident per check.
	_, err = incidents.Create(ctx, &model.Incident{
		CheckID: check.ID,
		Status:  model.IncidentOpen, Severity: model.IncidentMedium,
		Title:          "duplicate",
		FirstFailureAt: now, LastFailureAt: now, FailureCount: 1,
	})
	require.ErrorIs(t, err, model.ErrConflict)

	bumped, err := incidents.IncrementFailure(ctx, incident.ID, "still failing", nil, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, bumped.FailureCount)
	assert.Equal(t, model.IncidentMedium, bumped.Severity, "severity frozen at open")

	resolvedAt := time.Now().UTC()
	bumped.Status = model.IncidentResolved
	bumped.ResolvedAt = &resolvedAt
	bumped.ResolvedBy = "ops"
	bumped.ResolutionNotes = "backfilled"

	_, err = incidents.Save(ctx, bumped)
	require.NoError(t, err)

	_, err = incidents.GetNonResolvedByCheck(ctx, check.ID)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestScheduleStoreDueIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupStores(ctx, t)
	_, check := seedConnectionAndCheck(ctx, t, conn)

	store, err := NewScheduleStore(conn)
	require.NoError(t, err)

	past := time.Now().UTC().Add(-time.Minute)
	schedule, err := store.Create(ctx, &model.Schedule{
		CheckID:        check.ID,
		CronExpression: "0 6 * * *",
		Timezone:       "UTC",
		IsActive:       true,
		NextRunAt:      &past,
	})
	require.NoError(t, err)

	due, err := store.Due(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, schedule.ID, due[0].ID)

	next := time.Now().UTC().Add(24 * time.Hour)
	require.NoError(t, store.MarkRun(ctx, schedule.ID, time.Now().UTC(), next))

	due, err = store.Due(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, due, "claimed schedules are not due again until next_run_at")

	fetched, err := store.GetByID(ctx, schedule.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched.LastRunAt)
	assert.WithinDuration(t, next, *fetched.NextRunAt, time.Second)
}

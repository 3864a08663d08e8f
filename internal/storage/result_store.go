package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veriflow-io/veriflow/internal/config"
	"github.com/veriflow-io/veriflow/internal/model"
)

const (
	// cleanupQueryTimeout bounds a single retention sweep query.
	cleanupQueryTimeout = 30 * time.Second
	// cleanupShutdownTimeout bounds the wait for the sweep goroutine on Close.
	cleanupShutdownTimeout = 5 * time.Second
	// cleanupBatchSize caps rows deleted per batch to avoid long-running locks.
	cleanupBatchSize = 10000
	// batchSleepDuration spaces out deletion batches.
	batchSleepDuration = 100 * time.Millisecond

	// historyWindow and historyLimit bound the anomaly-rule history read.
	historyWindow = 90 * 24 * time.Hour
	historyLimit  = 1000
)

// ResultFilter narrows result listings.
type ResultFilter struct {
	CheckID      string
	ConnectionID string
	Passed       *bool
	FromDate     *time.Time
	ToDate       *time.Time
	Limit        int
	Offset       int
}

// ResultSummary aggregates results for the summary endpoint.
type ResultSummary struct {
	Total              int            `json:"total"`
	Passed             int            `json:"passed"`
	Failed             int            `json:"failed"`
	PassRate           float64        `json:"pass_rate"`
	AvgExecutionTimeMS float64        `json:"avg_execution_time_ms"`
	BySeverity         map[string]int `json:"by_severity"`
}

// ResultStore persists check results. Rows are append-only; there is no update
// path. A background goroutine sweeps rows older than the retention window in
// batches, mirroring partition drops in deployments without pg_partman.
type ResultStore struct {
	conn        *Connection
	logger      *slog.Logger
	retention   time.Duration
	cleanupStop chan struct{}
	cleanupDone chan struct{}
	closeOnce   sync.Once
}

// NewResultStore creates a result store and starts the retention sweeper when
// cleanupInterval is positive.
func NewResultStore(conn *Connection, cleanupInterval, retention time.Duration) (*ResultStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	store := &ResultStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
		retention:   retention,
		cleanupStop: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	if cleanupInterval > 0 && retention > 0 {
		go store.cleanupLoop(cleanupInterval)
	} else {
		close(store.cleanupDone)
	}

	return store, nil
}

// Close stops the retention sweeper. Safe to call multiple times.
func (s *ResultStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.cleanupStop)

		select {
		case <-s.cleanupDone:
		case <-time.After(cleanupShutdownTimeout):
			s.logger.Warn("retention sweeper did not stop in time")
		}
	})

	return nil
}

// Insert appends one result row.
func (s *ResultStore) Insert(ctx context.Context, result *model.CheckResult) (*model.CheckResult, error) {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}

	if result.ExecutedAt.IsZero() {
		result.ExecutedAt = time.Now().UTC()
	}

	details, err := marshalJSON(result.ResultDetails)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO check_results (
			id, executed_at, check_id, job_id, connection_id,
			target_table, target_column, check_type,
			actual_value, expected_value, passed, severity,
			execution_time_ms, rows_scanned, result_details, error_message, executed_sql
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err = s.conn.ExecContext(ctx, query,
		result.ID, result.ExecutedAt, result.CheckID, nullString(result.JobID),
		result.ConnectionID, result.TargetTable, nullString(result.TargetColumn),
		result.CheckType, result.ActualValue, nullString(result.ExpectedValue),
		result.Passed, string(result.Severity), result.ExecutionTimeMS,
		result.RowsScanned, details, nullString(result.ErrorMessage),
		nullString(result.ExecutedSQL),
	)
	if err != nil {
		return nil, translateError(err, "check result")
	}

	return result, nil
}

// List returns results matching the filter, newest first.
func (s *ResultStore) List(ctx context.Context, filter ResultFilter) ([]*model.CheckResult, error) {
	conditions, args := filter.clauses()

	query := resultSelect
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY executed_at DESC LIMIT $%d", len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateError(err, "check results")
	}

	defer func() {
		_ = rows.Close()
	}()

	var results []*model.CheckResult

	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, err
		}

		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, translateError(err, "check results")
	}

	return results, nil
}

// Summary aggregates results matching the filter.
func (s *ResultStore) Summary(ctx context.Context, filter ResultFilter) (*ResultSummary, error) {
	conditions, args := filter.clauses()

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	query := `
		SELECT severity, COUNT(*), COALESCE(AVG(execution_time_ms), 0)
		FROM check_results` + where + `
		GROUP BY severity
	`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateError(err, "result summary")
	}

	defer func() {
		_ = rows.Close()
	}()

	summary := &ResultSummary{BySeverity: make(map[string]int)}

	var (
		weightedTime float64
	)

	for rows.Next() {
		var (
			severity string
			count    int
			avgTime  float64
		)

		if err := rows.Scan(&severity, &count, &avgTime); err != nil {
			return nil, translateError(err, "result summary")
		}

		summary.BySeverity[severity] = count
		summary.Total += count
		weightedTime += avgTime * float64(count)

		if severity == string(model.SeverityPassed) {
			summary.Passed += count
		} else {
			summary.Failed += count
		}
	}

	if err := rows.Err(); err != nil {
		return nil, translateError(err, "result summary")
	}

	if summary.Total > 0 {
		summary.PassRate = float64(summary.Passed) / float64(summary.Total) * 100
		summary.AvgExecutionTimeMS = weightedTime / float64(summary.Total)
	}

	return summary, nil
}

// History returns up to 1000 non-null actual values for a check over the last
// 90 days, most recent first. The anomaly rule consumes this slice; it is
// cached at job scope by the executor and never memoized across jobs.
func (s *ResultStore) History(ctx context.Context, checkID string, now time.Time) ([]float64, error) {
	query := `
		SELECT actual_value
		FROM check_results
		WHERE check_id = $1
		  AND actual_value IS NOT NULL
		  AND executed_at >= $2
		ORDER BY executed_at DESC
		LIMIT $3
	`

	rows, err := s.conn.QueryContext(ctx, query, checkID, now.Add(-historyWindow), historyLimit)
	if err != nil {
		return nil, translateError(err, "result history")
	}

	defer func() {
		_ = rows.Close()
	}()

	var values []float64

	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, translateError(err, "result history")
		}

		values = append(values, v)
	}

	if err := rows.Err(); err != nil {
		return nil, translateError(err, "result history")
	}

	return values, nil
}

// NullifyIncidentReferences clears incident pointers at a deleted result.
// Deleting a result never cascades into incidents.
func (s *ResultStore) NullifyIncidentReferences(ctx context.Context, resultID string) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE incidents SET result_id = NULL WHERE result_id = $1`, resultID)
	if err != nil {
		return translateError(err, "incident references")
	}

	return nil
}

func (f ResultFilter) clauses() ([]string, []any) {
	var (
		conditions []string
		args       []any
	)

	addCondition := func(clause string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if f.CheckID != "" {
		addCondition("check_id = $%d", f.CheckID)
	}

	if f.ConnectionID != "" {
		addCondition("connection_id = $%d", f.ConnectionID)
	}

	if f.Passed != nil {
		addCondition("passed = $%d", *f.Passed)
	}

	if f.FromDate != nil {
		addCondition("executed_at >= $%d", *f.FromDate)
	}

	if f.ToDate != nil {
		addCondition("executed_at <= $%d", *f.ToDate)
	}

	return conditions, args
}

func (s *ResultStore) cleanupLoop(interval time.Duration) {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.cleanupStop:
			return
		case <-ticker.C:
			s.sweepExpired()
		}
	}
}

// sweepExpired deletes expired result rows in bounded batches.
func (s *ResultStore) sweepExpired() {
	cutoff := time.Now().UTC().Add(-s.retention)

	for {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupQueryTimeout)

		result, err := s.conn.ExecContext(ctx, `
			DELETE FROM check_results
			WHERE (id, executed_at) IN (
				SELECT id, executed_at FROM check_results
				WHERE executed_at < $1
				LIMIT $2
			)
		`, cutoff, cleanupBatchSize)

		cancel()

		if err != nil {
			s.logger.Error("result retention sweep failed", slog.String("error", err.Error()))

			return
		}

		deleted, err := result.RowsAffected()
		if err != nil || deleted == 0 {
			return
		}

		s.logger.Debug("result retention sweep batch",
			slog.Int64("deleted", deleted),
			slog.Time("cutoff", cutoff),
		)

		select {
		case <-s.cleanupStop:
			return
		case <-time.After(batchSleepDuration):
		}
	}
}

const resultSelect = `
	SELECT id, executed_at, check_id, job_id, connection_id,
		target_table, target_column, check_type,
		actual_value, expected_value, passed, severity,
		execution_time_ms, rows_scanned, result_details, error_message, executed_sql
	FROM check_results
`

func scanResult(row rowScanner) (*model.CheckResult, error) {
	var (
		result       model.CheckResult
		jobID        []byte
		targetColumn []byte
		expected     []byte
		severity     string
		detailsJSON  []byte
		errorMessage []byte
		executedSQL  []byte
	)

	err := row.Scan(
		&result.ID, &result.ExecutedAt, &result.CheckID, &jobID, &result.ConnectionID,
		&result.TargetTable, &targetColumn, &result.CheckType,
		&result.ActualValue, &expected, &result.Passed, &severity,
		&result.ExecutionTimeMS, &result.RowsScanned, &detailsJSON, &errorMessage, &executedSQL,
	)
	if err != nil {
		return nil, translateError(err, "check result")
	}

	result.JobID = string(jobID)
	result.TargetColumn = string(targetColumn)
	result.ExpectedValue = string(expected)
	result.Severity = model.ResultSeverity(severity)
	result.ErrorMessage = string(errorMessage)
	result.ExecutedSQL = string(executedSQL)

	if err := unmarshalJSON(detailsJSON, &result.ResultDetails); err != nil {
		return nil, err
	}

	return &result, nil
}

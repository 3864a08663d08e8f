// Package engine executes checks: it resolves the check type to a sensor and
// rule, renders the sensor SQL for the target connection, runs it, and turns
// the measurement into one CheckResult. Execution never raises; every failure
// mode ends as a failed result with an error message.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/veriflow-io/veriflow/internal/checks"
	"github.com/veriflow-io/veriflow/internal/connector"
	"github.com/veriflow-io/veriflow/internal/model"
	"github.com/veriflow-io/veriflow/internal/rule"
	"github.com/veriflow-io/veriflow/internal/sensor"
)

// ConfigSource resolves a connection ID to its decrypted dialect config.
type ConfigSource interface {
	Config(ctx context.Context, id string) (map[string]any, error)
}

// HistorySource reads prior sensor values for the anomaly rule, most
// recent first.
type HistorySource interface {
	History(ctx context.Context, checkID string, now time.Time) ([]float64, error)
}

// OpenFunc builds and opens a connector for a decrypted connection config.
type OpenFunc func(ctx context.Context, cfg map[string]any) (connector.Connector, error)

// Executor runs checks against source connections. It is stateless across
// runs; its only reads are connection configs and, for anomaly rules, the
// result history.
type Executor struct {
	configs ConfigSource
	history HistorySource
	open    OpenFunc
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an executor that opens connectors through the registry.
func New(configs ConfigSource, history HistorySource, logger *slog.Logger) *Executor {
	return &Executor{
		configs: configs,
		history: history,
		open:    openConnector,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

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

// Execute runs a check against its stored connection. The returned result is
// not persisted; callers decide whether the run is a real execution or a
// preview.
func (e *Executor) Execute(ctx context.Context, check *model.Check) *model.CheckResult {
	cfg, err := e.configs.Config(ctx, check.ConnectionID)
	if err != nil {
		return e.failed(check, err)
	}

	return e.ExecuteWithConfig(ctx, check, cfg)
}

// ExecuteWithConfig runs a check against an explicit connection config,
// which lets previews validate a connection that was never saved.
func (e *Executor) ExecuteWithConfig(ctx context.Context, check *model.Check, cfg map[string]any) *model.CheckResult {
	started := e.now()

	result := e.run(ctx, check, cfg)
	result.ExecutionTimeMS = e.now().Sub(started).Milliseconds()

	e.logger.Info("check executed",
		"check_id", check.ID,
		"check_type", check.CheckType,
		"passed", result.Passed,
		"severity", string(result.Severity),
		"duration_ms", result.ExecutionTimeMS)

	return result
}

func (e *Executor) run(ctx context.Context, check *model.Check, cfg map[string]any) *model.CheckResult {
	entry, ok := checks.Lookup(check.CheckType)
	if !ok {
		return e.runLegacy(ctx, check, cfg)
	}

	severity, tierParams, _ := check.RuleParameters.HighestSeverity()
	params := mergeParams(check, entry, tierParams, severity)

	if e.history != nil && needsHistory(entry.RuleType, check) {
		history, err := e.history.History(ctx, check.ID, e.now())
		if err != nil {
			return e.failed(check, err)
		}

		params[rule.HistoricalValuesParam] = history
	}

	if referenceConnectionID(check) != "" {
		return e.runCrossSource(ctx, check, entry, cfg, params)
	}

	s, ok := sensor.Get(entry.SensorType)
	if !ok {
		return e.failed(check, fmt.Errorf("check type %s references unknown sensor %s", check.CheckType, entry.SensorType))
	}

	conn, err := e.open(ctx, cfg)
	if err != nil {
		return e.failed(check, err)
	}
	defer conn.Close()

	rendered, err := sensor.Render(s, params, conn.QuoteIdentifier)
	if err != nil {
		return e.failed(check, err)
	}

	value, err := conn.ExecuteSensorSQL(ctx, rendered)
	if err != nil {
		result := e.failed(check, err)
		result.ExecutedSQL = rendered

		return result
	}

	evaluated := rule.Evaluate(entry.RuleType, value, params)

	return e.resultOf(check, evaluated, value, rendered, nil)
}

// needsHistory reports whether the rule compares against prior observations.
// Change rules only do so on single-source checks; cross-source change judges
// the gap between the two live values instead.
func needsHistory(ruleType rule.Type, check *model.Check) bool {
	switch ruleType {
	case rule.AnomalyPercentile:
		return true
	case rule.MaxChangePercent:
		return referenceConnectionID(check) == ""
	default:
		return false
	}
}

// resultOf assembles the immutable result row from a rule evaluation.
func (e *Executor) resultOf(check *model.Check, evaluated rule.Result, value *float64, executedSQL string, details map[string]any) *model.CheckResult {
	if details == nil {
		details = map[string]any{}
	}

	details["message"] = evaluated.Message

	return &model.CheckResult{
		ID:            uuid.NewString(),
		CheckID:       check.ID,
		ConnectionID:  check.ConnectionID,
		TargetTable:   check.TargetTable,
		TargetColumn:  check.TargetColumn,
		CheckType:     check.CheckType,
		ActualValue:   value,
		ExpectedValue: evaluated.Expected,
		Passed:        evaluated.Passed,
		Severity:      evaluated.Severity,
		ResultDetails: details,
		ExecutedSQL:   executedSQL,
		ExecutedAt:    e.now(),
	}
}

// failed is the terminal error boundary: executor problems become failed
// results at error severity and never propagate.
func (e *Executor) failed(check *model.Check, err error) *model.CheckResult {
	e.logger.Warn("check execution failed",
		"check_id", check.ID,
		"check_type", check.CheckType,
		"error", err)

	return &model.CheckResult{
		ID:           uuid.NewString(),
		CheckID:      check.ID,
		ConnectionID: check.ConnectionID,
		TargetTable:  check.TargetTable,
		TargetColumn: check.TargetColumn,
		CheckType:    check.CheckType,
		Passed:       false,
		Severity:     model.SeverityError,
		ErrorMessage: fmt.Sprintf("Execution failed: %v", err),
		ExecutedAt:   e.now(),
	}
}

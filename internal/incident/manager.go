// Package incident maintains the one-non-resolved-incident-per-check
// invariant: consecutive failures of a check fold into a single incident,
// and a passing run resolves it.
package incident

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/veriflow-io/veriflow/internal/model"
)

// Store is the subset of incident persistence the manager needs.
type Store interface {
	GetNonResolvedByCheck(ctx context.Context, checkID string) (*model.Incident, error)
	Create(ctx context.Context, incident *model.Incident) (*model.Incident, error)
	IncrementFailure(ctx context.Context, id, description string, resultID *string, failedAt time.Time) (*model.Incident, error)
	GetByID(ctx context.Context, id string) (*model.Incident, error)
	Save(ctx context.Context, incident *model.Incident) (*model.Incident, error)
}

// Notifier receives incident lifecycle events. Delivery is fire-and-forget;
// implementations must never block or fail the caller.
type Notifier interface {
	Dispatch(event model.EventType, incident *model.Incident)
}

// Manager folds check failures into incidents and drives the incident
// state machine.
type Manager struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager creates an incident manager. The notifier may be nil.
func NewManager(store Store, notifier Notifier, logger *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// OpenOrUpdate records one failing result. An existing non-resolved incident
// absorbs the failure and keeps the severity it opened with; otherwise a new
// open incident is created at the severity mapped from the result.
func (m *Manager) OpenOrUpdate(ctx context.Context, check *model.Check, result *model.CheckResult) (*model.Incident, error) {
	message := failureMessage(result)
	resultID := resultRef(result)
	now := m.now()

	existing, err := m.store.GetNonResolvedByCheck(ctx, check.ID)
	switch {
	case err == nil:
		return m.store.IncrementFailure(ctx, existing.ID, message, resultID, now)
	case !errors.Is(err, model.ErrNotFound):
		return nil, err
	}

	incident := &model.Incident{
		CheckID:        check.ID,
		ResultID:       resultID,
		Status:         model.IncidentOpen,
		Severity:       model.MapResultSeverity(result.Severity),
		Title:          incidentTitle(check),
		Description:    message,
		FirstFailureAt: now,
		LastFailureAt:  now,
		FailureCount:   1,
	}

	created, err := m.store.Create(ctx, incident)
	if errors.Is(err, model.ErrConflict) {
		// Lost the race against a concurrent open; fold into the winner.
		existing, err = m.store.GetNonResolvedByCheck(ctx, check.ID)
		if err != nil {
			return nil, err
		}

		return m.store.IncrementFailure(ctx, existing.ID, message, resultID, now)
	}
	if err != nil {
		return nil, err
	}

	m.dispatch(model.EventIncidentOpened, created)

	return created, nil
}

// Resolve closes the non-resolved incident for a check. A check with no open
// incident is a no-op, so passing runs can call this unconditionally.
func (m *Manager) Resolve(ctx context.Context, checkID, resolvedBy, notes string) (*model.Incident, error) {
	incident, err := m.store.GetNonResolvedByCheck(ctx, checkID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := m.now()
	incident.Status = model.IncidentResolved
	incident.ResolvedAt = &now
	incident.ResolvedBy = resolvedBy
	incident.ResolutionNotes = notes

	saved, err := m.store.Save(ctx, incident)
	if err != nil {
		return nil, err
	}

	m.dispatch(model.EventIncidentResolved, saved)

	return saved, nil
}

// UpdateStatus applies an operator-driven transition. Disallowed moves are
// rejected with a validation error.
func (m *Manager) UpdateStatus(ctx context.Context, incidentID string, status model.IncidentStatus, by, notes string) (*model.Incident, error) {
	incident, err := m.store.GetByID(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	if !incident.Status.CanTransitionTo(status) {
		return nil, model.Validationf("cannot transition incident from %s to %s", incident.Status, status)
	}

	now := m.now()

	switch status {
	case model.IncidentAcknowledged:
		incident.AcknowledgedAt = &now
		incident.AcknowledgedBy = by
	case model.IncidentResolved:
		incident.ResolvedAt = &now
		incident.ResolvedBy = by
		incident.ResolutionNotes = notes
	case model.IncidentOpen:
		// Reopening discards the prior resolution.
		incident.ResolvedAt = nil
		incident.ResolvedBy = ""
		incident.ResolutionNotes = ""
	}

	incident.Status = status

	saved, err := m.store.Save(ctx, incident)
	if err != nil {
		return nil, err
	}

	if status == model.IncidentResolved {
		m.dispatch(model.EventIncidentResolved, saved)
	}

	return saved, nil
}

// dispatch hands an event to the notifier. Notification problems are the
// dispatcher's to log; nothing here can abort the triggering transaction.
func (m *Manager) dispatch(event model.EventType, incident *model.Incident) {
	if m.notifier == nil {
		return
	}

	m.notifier.Dispatch(event, incident)
}

func failureMessage(result *model.CheckResult) string {
	if result.ErrorMessage != "" {
		return result.ErrorMessage
	}

	if msg, ok := result.ResultDetails["message"].(string); ok && msg != "" {
		return msg
	}

	return fmt.Sprintf("check %s failed", result.CheckType)
}

func resultRef(result *model.CheckResult) *string {
	if result.ID == "" {
		return nil
	}

	id := result.ID
	return &id
}

func incidentTitle(check *model.Check) string {
	target := check.TargetTable
	if check.TargetColumn != "" {
		target += "." + check.TargetColumn
	}

	return fmt.Sprintf("%s failing on %s", check.CheckType, target)
}

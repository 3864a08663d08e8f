package incident

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veriflow-io/veriflow/internal/model"
)

// memStore keeps incidents in a map and enforces the one-non-resolved
// invariant the way the unique partial index does.
type memStore struct {
	incidents map[string]*model.Incident
	nextID    int
}

func newMemStore() *memStore {
	return &memStore{incidents: map[string]*model.Incident{}}
}

func (s *memStore) GetNonResolvedByCheck(_ context.Context, checkID string) (*model.Incident, error) {
	for _, inc := range s.incidents {
		if inc.CheckID == checkID && inc.Status != model.IncidentResolved {
			clone := *inc
			return &clone, nil
		}
	}

	return nil, model.NotFoundf("open incident for check %s", checkID)
}

func (s *memStore) Create(_ context.Context, incident *model.Incident) (*model.Incident, error) {
	for _, inc := range s.incidents {
		if inc.CheckID == incident.CheckID && inc.Status != model.IncidentResolved {
			return nil, model.Conflictf("non-resolved incident already exists for check %s", incident.CheckID)
		}
	}

	s.nextID++
	incident.ID = string(rune('a' + s.nextID))
	clone := *incident
	s.incidents[incident.ID] = &clone

	return incident, nil
}

func (s *memStore) IncrementFailure(_ context.Context, id, description string, resultID *string, failedAt time.Time) (*model.Incident, error) {
	inc, ok := s.incidents[id]
	if !ok || inc.Status == model.IncidentResolved {
		return nil, model.NotFoundf("open incident %s", id)
	}

	inc.FailureCount++
	inc.LastFailureAt = failedAt
	inc.Description = description
	if resultID != nil {
		inc.ResultID = resultID
	}

	clone := *inc
	return &clone, nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*model.Incident, error) {
	inc, ok := s.incidents[id]
	if !ok {
		return nil, model.NotFoundf("incident %s", id)
	}

	clone := *inc
	return &clone, nil
}

func (s *memStore) Save(_ context.Context, incident *model.Incident) (*model.Incident, error) {
	if _, ok := s.incidents[incident.ID]; !ok {
		return nil, model.NotFoundf("incident %s", incident.ID)
	}

	clone := *incident
	s.incidents[incident.ID] = &clone

	return incident, nil
}

type recordedEvent struct {
	event    model.EventType
	incident *model.Incident
}

type recordingNotifier struct {
	events []recordedEvent
}

func (n *recordingNotifier) Dispatch(event model.EventType, incident *model.Incident) {
	n.events = append(n.events, recordedEvent{event, incident})
}

func newManager(t *testing.T) (*Manager, *memStore, *recordingNotifier) {
	t.Helper()

	store := newMemStore()
	notifier := &recordingNotifier{}
	m := NewManager(store, notifier, slog.New(slog.NewTextHandler(io.Discard, nil)))

	return m, store, notifier
}

func failedResult(severity model.ResultSeverity, message string) *model.CheckResult {
	return &model.CheckResult{
		ID:        "res-1",
		CheckType: "nulls_percent",
		Passed:    false,
		Severity:  severity,
		ResultDetails: map[string]any{
			"message": message,
		},
	}
}

func testCheck() *model.Check {
	return &model.Check{
		ID:           "chk-1",
		CheckType:    "nulls_percent",
		TargetTable:  "orders",
		TargetColumn: "email",
	}
}

func TestOpenOrUpdate(t *testing.T) {
	t.Run("opens on first failure", func(t *testing.T) {
		m, _, notifier := newManager(t)

		inc, err := m.OpenOrUpdate(context.Background(), testCheck(), failedResult(model.SeverityError, "too many nulls"))
		require.NoError(t, err)

		assert.Equal(t, model.IncidentOpen, inc.Status)
		assert.Equal(t, model.IncidentMedium, inc.Severity)
		assert.Equal(t, 1, inc.FailureCount)
		assert.Equal(t, "too many nulls", inc.Description)
		assert.Equal(t, "nulls_percent failing on orders.email", inc.Title)
		assert.Equal(t, inc.FirstFailureAt, inc.LastFailureAt)

		require.Len(t, notifier.events, 1)
		assert.Equal(t, model.EventIncidentOpened, notifier.events[0].event)
	})

	t.Run("severity mapping at open", func(t *testing.T) {
		tests := []struct {
			result   model.ResultSeverity
			incident model.IncidentSeverity
		}{
			{model.SeverityWarning, model.IncidentLow},
			{model.SeverityError, model.IncidentMedium},
			{model.SeverityFatal, model.IncidentHigh},
		}

		for _, tt := range tests {
			m, _, _ := newManager(t)

			inc, err := m.OpenOrUpdate(context.Background(), testCheck(), failedResult(tt.result, "boom"))
			require.NoError(t, err)
			assert.Equal(t, tt.incident, inc.Severity)
		}
	})

	t.Run("repeat failures fold in and keep severity", func(t *testing.T) {
		m, _, notifier := newManager(t)
		ctx := context.Background()
		check := testCheck()

		first, err := m.OpenOrUpdate(ctx, check, failedResult(model.SeverityWarning, "first"))
		require.NoError(t, err)

		// Escalating result severity does not touch the frozen incident severity.
		second, err := m.OpenOrUpdate(ctx, check, failedResult(model.SeverityFatal, "second"))
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, model.IncidentLow, second.Severity)
		assert.Equal(t, 2, second.FailureCount)
		assert.Equal(t, "second", second.Description)

		// Only the open emitted an event.
		assert.Len(t, notifier.events, 1)
	})

	t.Run("conflict on insert degrades to increment", func(t *testing.T) {
		m, store, _ := newManager(t)
		ctx := context.Background()
		check := testCheck()

		// Another writer opens between our lookup and insert.
		wrapped := &racingStore{memStore: store, check: check}
		m.store = wrapped

		inc, err := m.OpenOrUpdate(ctx, check, failedResult(model.SeverityError, "raced"))
		require.NoError(t, err)
		assert.Equal(t, 2, inc.FailureCount)
	})
}

// racingStore simulates a concurrent open: the first lookup misses, then the
// insert collides with the incident the racer created.
type racingStore struct {
	*memStore
	check  *model.Check
	lookup int
}

func (s *racingStore) GetNonResolvedByCheck(ctx context.Context, checkID string) (*model.Incident, error) {
	s.lookup++
	if s.lookup == 1 {
		return nil, model.NotFoundf("open incident for check %s", checkID)
	}

	return s.memStore.GetNonResolvedByCheck(ctx, checkID)
}

func (s *racingStore) Create(ctx context.Context, incident *model.Incident) (*model.Incident, error) {
	racer := &model.Incident{
		CheckID:      incident.CheckID,
		Status:       model.IncidentOpen,
		Severity:     model.IncidentMedium,
		FailureCount: 1,
	}
	if _, err := s.memStore.Create(ctx, racer); err != nil {
		return nil, err
	}

	return s.memStore.Create(ctx, incident)
}

func TestResolve(t *testing.T) {
	t.Run("resolves the open incident", func(t *testing.T) {
		m, _, notifier := newManager(t)
		ctx := context.Background()
		check := testCheck()

		_, err := m.OpenOrUpdate(ctx, check, failedResult(model.SeverityError, "boom"))
		require.NoError(t, err)

		resolved, err := m.Resolve(ctx, check.ID, "worker", "back under threshold")
		require.NoError(t, err)
		require.NotNil(t, resolved)

		assert.Equal(t, model.IncidentResolved, resolved.Status)
		assert.Equal(t, "worker", resolved.ResolvedBy)
		assert.Equal(t, "back under threshold", resolved.ResolutionNotes)
		assert.NotNil(t, resolved.ResolvedAt)

		require.Len(t, notifier.events, 2)
		assert.Equal(t, model.EventIncidentResolved, notifier.events[1].event)
	})

	t.Run("no open incident is a no-op", func(t *testing.T) {
		m, _, notifier := newManager(t)

		resolved, err := m.Resolve(context.Background(), "chk-unknown", "worker", "")
		require.NoError(t, err)
		assert.Nil(t, resolved)
		assert.Empty(t, notifier.events)
	})

	t.Run("a new incident can open after resolution", func(t *testing.T) {
		m, _, _ := newManager(t)
		ctx := context.Background()
		check := testCheck()

		first, err := m.OpenOrUpdate(ctx, check, failedResult(model.SeverityError, "boom"))
		require.NoError(t, err)

		_, err = m.Resolve(ctx, check.ID, "worker", "")
		require.NoError(t, err)

		second, err := m.OpenOrUpdate(ctx, check, failedResult(model.SeverityError, "again"))
		require.NoError(t, err)

		assert.NotEqual(t, first.ID, second.ID)
		assert.Equal(t, 1, second.FailureCount)
	})
}

func TestUpdateStatus(t *testing.T) {
	open := func(t *testing.T, m *Manager) *model.Incident {
		t.Helper()

		inc, err := m.OpenOrUpdate(context.Background(), testCheck(), failedResult(model.SeverityError, "boom"))
		require.NoError(t, err)

		return inc
	}

	t.Run("acknowledge and back", func(t *testing.T) {
		m, _, _ := newManager(t)
		ctx := context.Background()
		inc := open(t, m)

		acked, err := m.UpdateStatus(ctx, inc.ID, model.IncidentAcknowledged, "oncall", "")
		require.NoError(t, err)
		assert.Equal(t, model.IncidentAcknowledged, acked.Status)
		assert.Equal(t, "oncall", acked.AcknowledgedBy)
		assert.NotNil(t, acked.AcknowledgedAt)

		reopened, err := m.UpdateStatus(ctx, inc.ID, model.IncidentOpen, "oncall", "")
		require.NoError(t, err)
		assert.Equal(t, model.IncidentOpen, reopened.Status)
	})

	t.Run("resolve from acknowledged", func(t *testing.T) {
		m, _, notifier := newManager(t)
		ctx := context.Background()
		inc := open(t, m)

		_, err := m.UpdateStatus(ctx, inc.ID, model.IncidentAcknowledged, "oncall", "")
		require.NoError(t, err)

		resolved, err := m.UpdateStatus(ctx, inc.ID, model.IncidentResolved, "oncall", "fixed upstream")
		require.NoError(t, err)
		assert.Equal(t, "fixed upstream", resolved.ResolutionNotes)

		assert.Equal(t, model.EventIncidentResolved, notifier.events[len(notifier.events)-1].event)
	})

	t.Run("reopen clears resolution", func(t *testing.T) {
		m, _, _ := newManager(t)
		ctx := context.Background()
		inc := open(t, m)

		_, err := m.UpdateStatus(ctx, inc.ID, model.IncidentResolved, "oncall", "done")
		require.NoError(t, err)

		reopened, err := m.UpdateStatus(ctx, inc.ID, model.IncidentOpen, "oncall", "")
		require.NoError(t, err)
		assert.Nil(t, reopened.ResolvedAt)
		assert.Empty(t, reopened.ResolvedBy)
		assert.Empty(t, reopened.ResolutionNotes)
	})

	t.Run("invalid transitions rejected", func(t *testing.T) {
		m, _, _ := newManager(t)
		ctx := context.Background()
		inc := open(t, m)

		_, err := m.UpdateStatus(ctx, inc.ID, model.IncidentResolved, "oncall", "")
		require.NoError(t, err)

		_, err = m.UpdateStatus(ctx, inc.ID, model.IncidentAcknowledged, "oncall", "")
		require.ErrorIs(t, err, model.ErrValidation)
	})

	t.Run("unknown incident", func(t *testing.T) {
		m, _, _ := newManager(t)

		_, err := m.UpdateStatus(context.Background(), "nope", model.IncidentResolved, "oncall", "")
		require.ErrorIs(t, err, model.ErrNotFound)
	})
}

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    JobStatus
		to      JobStatus
		allowed bool
	}{
		{"pending to running", JobPending, JobRunning, true},
		{"pending to cancelled", JobPending, JobCancelled, true},
		{"pending to completed", JobPending, JobCompleted, false},
		{"running to completed", JobRunning, JobCompleted, true},
		{"running to failed", JobRunning, JobFailed, true},
		{"running to cancelled", JobRunning, JobCancelled, true},
		{"completed is terminal", JobCompleted, JobRunning, false},
		{"failed is terminal", JobFailed, JobPending, false},
		{"cancelled is terminal", JobCancelled, JobRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobPending.Terminal())
	assert.False(t, JobRunning.Terminal())
	assert.True(t, JobCompleted.Terminal())
	assert.True(t, JobFailed.Terminal())
	assert.True(t, JobCancelled.Terminal())
}

func TestIncidentStatusTransitions(t *testing.T) {
	assert.True(t, IncidentOpen.CanTransitionTo(IncidentAcknowledged))
	assert.True(t, IncidentAcknowledged.CanTransitionTo(IncidentOpen))
	assert.True(t, IncidentOpen.CanTransitionTo(IncidentResolved))
	assert.True(t, IncidentAcknowledged.CanTransitionTo(IncidentResolved))
	assert.True(t, IncidentResolved.CanTransitionTo(IncidentOpen))
	assert.False(t, IncidentResolved.CanTransitionTo(IncidentAcknowledged))
	assert.False(t, IncidentOpen.CanTransitionTo(IncidentOpen))
}

func TestMapResultSeverity(t *testing.T) {
	assert.Equal(t, IncidentLow, MapResultSeverity(SeverityWarning))
	assert.Equal(t, IncidentMedium, MapResultSeverity(SeverityError))
	assert.Equal(t, IncidentHigh, MapResultSeverity(SeverityFatal))
}

func TestIncidentSeverityResultThreshold(t *testing.T) {
	assert.Equal(t, SeverityWarning, IncidentLow.ResultThreshold())
	assert.Equal(t, SeverityError, IncidentMedium.ResultThreshold())
	assert.Equal(t, SeverityFatal, IncidentHigh.ResultThreshold())
	assert.Equal(t, SeverityFatal, IncidentCritical.ResultThreshold())
}

func TestRuleParametersHighestSeverity(t *testing.T) {
	t.Run("fatal wins over error and warning", func(t *testing.T) {
		rp := RuleParameters{
			SeverityWarning: {"max_percent": 1.0},
			SeverityError:   {"max_percent": 3.0},
			SeverityFatal:   {"max_percent": 10.0},
		}

		severity, params, ok := rp.HighestSeverity()
		require.True(t, ok)
		assert.Equal(t, SeverityFatal, severity)
		assert.Equal(t, 10.0, params["max_percent"])
	})

	t.Run("error wins over warning", func(t *testing.T) {
		rp := RuleParameters{
			SeverityWarning: {"max_percent": 1.0},
			SeverityError:   {"max_percent": 3.0},
		}

		severity, params, ok := rp.HighestSeverity()
		require.True(t, ok)
		assert.Equal(t, SeverityError, severity)
		assert.Equal(t, 3.0, params["max_percent"])
	})

	t.Run("empty yields no record", func(t *testing.T) {
		_, _, ok := RuleParameters{}.HighestSeverity()
		assert.False(t, ok)
	})
}

func TestCheckValidate(t *testing.T) {
	base := func() Check {
		return Check{
			ConnectionID: "conn-1",
			CheckType:    "row_count",
			CheckMode:    ModeMonitoring,
			TargetSchema: "public",
			TargetTable:  "orders",
		}
	}

	t.Run("table-level check passes without column", func(t *testing.T) {
		c := base()
		require.NoError(t, c.Validate(false))
	})

	t.Run("column-level check requires column", func(t *testing.T) {
		c := base()
		err := c.Validate(true)
		require.ErrorIs(t, err, ErrValidation)

		c.TargetColumn = "amount"
		require.NoError(t, c.Validate(true))
	})

	t.Run("partitioned mode requires partition column", func(t *testing.T) {
		c := base()
		c.CheckMode = ModePartitioned
		require.ErrorIs(t, c.Validate(false), ErrValidation)

		c.PartitionByColumn = "created_at"
		require.NoError(t, c.Validate(false))
	})

	t.Run("missing table rejected", func(t *testing.T) {
		c := base()
		c.TargetTable = ""
		require.ErrorIs(t, c.Validate(false), ErrValidation)
	})
}

func TestChannelFilters(t *testing.T) {
	fatal := SeverityFatal
	ch := NotificationChannel{
		Events:      []EventType{EventIncidentResolved},
		MinSeverity: &fatal,
	}

	assert.True(t, ch.SubscribedTo(EventIncidentResolved))
	assert.False(t, ch.SubscribedTo(EventIncidentOpened))

	// medium maps to error which ranks below fatal
	assert.False(t, ch.WantsSeverity(IncidentMedium))
	assert.True(t, ch.WantsSeverity(IncidentHigh))
	assert.True(t, ch.WantsSeverity(IncidentCritical))

	ch.MinSeverity = nil
	assert.True(t, ch.WantsSeverity(IncidentLow))
}

func TestConnectionTypeValid(t *testing.T) {
	for _, ct := range ConnectionTypes() {
		assert.True(t, ct.Valid(), string(ct))
	}

	assert.False(t, ConnectionType("sqlite").Valid())
}

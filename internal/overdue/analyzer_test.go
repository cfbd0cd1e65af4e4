package overdue

import (
	"testing"
	"time"

	"github.com/BearBump/WareBox/internal/models"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestAnalyze_OverdueInDispatched(t *testing.T) {
	// 8 часов в dispatched при ожидаемых 4 => просрочка на 4 часа.
	now := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	a := NewWithClock(fixedClock(now))

	p := &models.Package{ID: 1, Status: models.PackageStatusDispatched, Priority: models.PriorityHigh}
	history := []*models.StatusHistoryEntry{
		{Status: models.PackageStatusPending, CreatedAt: now.Add(-30 * time.Hour)},
		{Status: models.PackageStatusDispatched, CreatedAt: now.Add(-8 * time.Hour)},
	}

	res, err := a.Analyze(p, history)
	require.NoError(t, err)
	require.True(t, res.HasHistory)
	require.True(t, res.IsOverdue)
	require.InDelta(t, 8, res.ElapsedHours, 0.01)
	require.InDelta(t, 4, res.OverdueByHours, 0.01)
	require.Equal(t, models.PackageStatusInTransit, res.RecommendedNextStatus)
}

func TestAnalyze_OnSchedule(t *testing.T) {
	now := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	a := NewWithClock(fixedClock(now))

	p := &models.Package{ID: 1, Status: models.PackageStatusDispatched}
	history := []*models.StatusHistoryEntry{
		{Status: models.PackageStatusDispatched, CreatedAt: now.Add(-1 * time.Hour)},
	}

	res, err := a.Analyze(p, history)
	require.NoError(t, err)
	require.True(t, res.HasHistory)
	require.False(t, res.IsOverdue)
	require.Zero(t, res.OverdueByHours)
}

func TestAnalyze_NoHistory_SoftFail(t *testing.T) {
	a := New()
	p := &models.Package{ID: 1, Status: models.PackageStatusProcessing}

	res, err := a.Analyze(p, nil)
	require.NoError(t, err)
	require.False(t, res.HasHistory)
	require.False(t, res.IsOverdue)
	require.NotEmpty(t, res.Recommendation)
}

func TestAnalyze_PicksMostRecentMatchingEntry(t *testing.T) {
	// Посылка повторно вошла в processing — считаем от последнего входа.
	now := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	a := NewWithClock(fixedClock(now))

	p := &models.Package{ID: 1, Status: models.PackageStatusProcessing}
	history := []*models.StatusHistoryEntry{
		{Status: models.PackageStatusProcessing, CreatedAt: now.Add(-100 * time.Hour)},
		{Status: models.PackageStatusProcessing, CreatedAt: now.Add(-2 * time.Hour)},
	}

	res, err := a.Analyze(p, history)
	require.NoError(t, err)
	require.True(t, res.HasHistory)
	require.False(t, res.IsOverdue)
	require.InDelta(t, 2, res.ElapsedHours, 0.01)
}

func TestAnalyze_TerminalStatus_NeverOverdue(t *testing.T) {
	now := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	a := NewWithClock(fixedClock(now))

	p := &models.Package{ID: 1, Status: models.PackageStatusDelivered}
	history := []*models.StatusHistoryEntry{
		{Status: models.PackageStatusDelivered, CreatedAt: now.Add(-500 * time.Hour)},
	}

	res, err := a.Analyze(p, history)
	require.NoError(t, err)
	require.False(t, res.IsOverdue)
}

func TestAnalyze_UnknownStatus_Error(t *testing.T) {
	a := New()
	_, err := a.Analyze(&models.Package{ID: 1, Status: "misrouted"}, nil)
	require.Error(t, err)
}

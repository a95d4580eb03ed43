package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/codeready-toolchain/crawlwatch/pkg/models"
	"github.com/codeready-toolchain/crawlwatch/test/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHistoryService(t *testing.T) *HistoryService {
	t.Helper()
	client := util.SetupTestDatabase(t)
	return NewHistoryService(client.DB())
}

func terminalSession(id string, phase models.Phase, endedAt time.Time) *models.CrawlSession {
	cs := models.NewIdleSession()
	started := endedAt.Add(-time.Minute)
	cs.SessionID = id
	cs.Phase = phase
	cs.TargetURL = "https://docs.example.com"
	cs.StartedAt = &started
	cs.EndedAt = &endedAt
	cs.Results["https://docs.example.com/a"] = models.ResultItem{
		URL: "https://docs.example.com/a", Status: models.ResultSuccess, Documents: []string{"a.md", "a2.md"},
	}
	cs.Results["https://docs.example.com/b"] = models.ResultItem{
		URL: "https://docs.example.com/b", Status: models.ResultError, Documents: []string{}, Error: "timeout",
	}
	if phase == models.PhaseFailed {
		cs.Error = "engine crashed"
	}
	return cs
}

func TestHistoryService_Record(t *testing.T) {
	svc := setupHistoryService(t)
	ctx := context.Background()
	ended := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, svc.Record(ctx, terminalSession("s-1", models.PhaseCompleted, ended)))

	entry, err := svc.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "https://docs.example.com", entry.StartURL)
	assert.Equal(t, models.PhaseCompleted, entry.Status)
	assert.Equal(t, 2, entry.TotalPages)
	assert.Equal(t, 2, entry.TotalDocuments)
	assert.Equal(t, 1, entry.ErrorCount)
	assert.WithinDuration(t, ended, entry.EndedAt, time.Millisecond)
	assert.WithinDuration(t, ended.Add(-time.Minute), entry.StartedAt, time.Millisecond)
	assert.Empty(t, entry.Error)

	t.Run("second record keeps the first row", func(t *testing.T) {
		again := terminalSession("s-1", models.PhaseFailed, ended.Add(time.Hour))
		require.NoError(t, svc.Record(ctx, again))

		entry, err := svc.Get(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, models.PhaseCompleted, entry.Status)
	})
}

func TestHistoryService_RecordValidation(t *testing.T) {
	svc := setupHistoryService(t)
	ctx := context.Background()

	running := terminalSession("s-1", models.PhaseRunning, time.Now())
	noID := terminalSession("", models.PhaseCompleted, time.Now())

	for name, cs := range map[string]*models.CrawlSession{
		"nil session":  nil,
		"missing id":   noID,
		"non-terminal": running,
	} {
		t.Run(name, func(t *testing.T) {
			err := svc.Record(ctx, cs)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestHistoryService_RecordWithoutTimestamps(t *testing.T) {
	svc := setupHistoryService(t)
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	cs := terminalSession("s-2", models.PhaseFailed, fixed)
	cs.StartedAt = nil
	cs.EndedAt = nil
	require.NoError(t, svc.Record(ctx, cs))

	entry, err := svc.Get(ctx, "s-2")
	require.NoError(t, err)
	assert.True(t, entry.StartedAt.IsZero())
	assert.True(t, entry.EndedAt.Equal(fixed))
	assert.Equal(t, "engine crashed", entry.Error)
}

func TestHistoryService_GetNotFound(t *testing.T) {
	svc := setupHistoryService(t)
	_, err := svc.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestHistoryService_ListRecent(t *testing.T) {
	svc := setupHistoryService(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i, id := range []string{"old", "middle", "new"} {
		require.NoError(t, svc.Record(ctx, terminalSession(id, models.PhaseCompleted, base.Add(time.Duration(i)*time.Minute))))
	}

	entries, err := svc.ListRecent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "new", entries[0].SessionID)
	assert.Equal(t, "middle", entries[1].SessionID)
	assert.Equal(t, "old", entries[2].SessionID)

	limited, err := svc.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "new", limited[0].SessionID)
}

func TestHistoryService_ListRecentEmpty(t *testing.T) {
	svc := setupHistoryService(t)
	entries, err := svc.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestHistoryService_DeleteOlderThan(t *testing.T) {
	svc := setupHistoryService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, svc.Record(ctx, terminalSession("ancient", models.PhaseCompleted, now.Add(-100*24*time.Hour))))
	require.NoError(t, svc.Record(ctx, terminalSession("stale", models.PhaseFailed, now.Add(-91*24*time.Hour))))
	require.NoError(t, svc.Record(ctx, terminalSession("fresh", models.PhaseCompleted, now.Add(-time.Hour))))

	n, err := svc.DeleteOlderThan(ctx, now.Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = svc.Get(ctx, "ancient")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Get(ctx, "fresh")
	assert.NoError(t, err)

	n, err = svc.DeleteOlderThan(ctx, now.Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

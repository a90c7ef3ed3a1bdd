package repository

import (
	"context"
	"testing"
	"time"

	"wisefido-fall/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEvent(id, userID string, detectedAt time.Time) *models.FallEvent {
	return &models.FallEvent{
		EventID:         id,
		UserID:          userID,
		SessionID:       "session-1",
		DetectedAt:      detectedAt,
		Severity:        models.SeverityCritical,
		ConfidenceScore: 1,
		Status:          models.FallStatusDetected,
		CreatedAt:       detectedAt,
		UpdatedAt:       detectedAt,
	}
}

func TestMemoryFallEventsRepo_Queries(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryFallEventsRepo()
	now := time.Now()

	require.NoError(t, repo.SaveFallEvent(ctx, newEvent("e1", "user-1", now.Add(-2*time.Hour))))
	require.NoError(t, repo.SaveFallEvent(ctx, newEvent("e2", "user-1", now.Add(-time.Minute))))
	require.NoError(t, repo.SaveFallEvent(ctx, newEvent("e3", "user-2", now)))
	assert.Error(t, repo.SaveFallEvent(ctx, newEvent("e3", "user-2", now)))

	recent, err := repo.FindRecentFallEvents(ctx, "user-1", now.Add(-24*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "e2", recent[0].EventID)

	limited, err := repo.FindRecentFallEvents(ctx, "user-1", now.Add(-24*time.Hour), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	since, err := repo.FindFallEventsSince(ctx, "user-1", now.Add(-30*time.Second))
	require.NoError(t, err)
	assert.Empty(t, since)

	_, err = repo.GetFallEvent(ctx, "missing")
	assert.ErrorIs(t, err, ErrFallEventNotFound)
}

func TestMemoryFallEventsRepo_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryFallEventsRepo()
	require.NoError(t, repo.SaveFallEvent(ctx, newEvent("e1", "user-1", time.Now())))

	got, err := repo.GetFallEvent(ctx, "e1")
	require.NoError(t, err)
	got.Status = models.FallStatusFalsePositive

	again, err := repo.GetFallEvent(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, models.FallStatusDetected, again.Status)
}

func TestMemoryFallEventsRepo_NotifyAndFeedback(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryFallEventsRepo()
	now := time.Now()
	require.NoError(t, repo.SaveFallEvent(ctx, newEvent("e1", "user-1", now)))

	require.NoError(t, repo.MarkNotified(ctx, "e1", now.Add(time.Second)))
	event, _ := repo.GetFallEvent(ctx, "e1")
	assert.Equal(t, models.FallStatusNotified, event.Status)
	assert.True(t, event.NotificationSent)

	comment := "false alarm"
	first, err := repo.UpdateFeedback(ctx, "e1", true, &comment, now.Add(time.Minute))
	require.NoError(t, err)
	second, err := repo.UpdateFeedback(ctx, "e1", true, &comment, now.Add(2*time.Minute))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, models.FallStatusFalsePositive, second.Status)
	assert.True(t, second.FalsePositive)
	assert.Equal(t, now.Add(time.Minute), *second.FeedbackAt)

	// 撤销误报后回到 NOTIFIED
	undone, err := repo.UpdateFeedback(ctx, "e1", false, nil, now.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.FallStatusNotified, undone.Status)
	assert.Nil(t, undone.FeedbackComment)

	// 误报事件之后的通知不改变状态
	require.NoError(t, repo.SaveFallEvent(ctx, newEvent("e2", "user-1", now)))
	_, err = repo.UpdateFeedback(ctx, "e2", true, nil, now)
	require.NoError(t, err)
	require.NoError(t, repo.MarkNotified(ctx, "e2", now))
	e2, _ := repo.GetFallEvent(ctx, "e2")
	assert.Equal(t, models.FallStatusFalsePositive, e2.Status)

	assert.ErrorIs(t, repo.MarkNotified(ctx, "missing", now), ErrFallEventNotFound)
}

func TestMemoryPoseFramesRepo_Limit(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryPoseFramesRepo(3)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.SavePoseFrame(ctx, &models.PoseFrame{SessionID: "s1", FrameNumber: int64(i)}))
	}
	assert.Equal(t, 3, repo.CountFrames("s1"))

	repo.RemoveSession("s1")
	assert.Equal(t, 0, repo.CountFrames("s1"))
}

func TestMemorySessionsRepo_Upsert(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySessionsRepo()
	s := &models.Session{SessionID: "s1", UserID: "user-1", Status: models.SessionActive}
	require.NoError(t, repo.SaveSession(ctx, s))

	s.Status = models.SessionEnded
	s.TotalFrames = 10
	require.NoError(t, repo.SaveSession(ctx, s))

	got, ok := repo.GetSession("s1")
	require.True(t, ok)
	assert.Equal(t, models.SessionEnded, got.Status)
	assert.Equal(t, int64(10), got.TotalFrames)
}

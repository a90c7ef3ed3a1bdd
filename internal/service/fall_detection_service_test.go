package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"wisefido-fall/internal/models"
	"wisefido-fall/internal/repository"
	"wisefido-fall/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestProcessFrame_FallSequenceCreatesSingleCriticalEvent(t *testing.T) {
	h := newHarness(t)
	results := h.feed(t, fallRequests("user-1", baseTime, 30, 30))

	require.Equal(t, []int{37}, detectedIndexes(results))
	hit := results[37]
	require.NotNil(t, hit.EventID)
	require.NotNil(t, hit.Severity)
	assert.Equal(t, models.SeverityCritical, *hit.Severity)
	assert.Equal(t, 1.0, *hit.Confidence)
	assert.Equal(t, int64(38), hit.FrameCount)
	assert.Equal(t, "Fall detected", hit.Message)

	// 后续静止帧仍达到阈值，但在冷却期内
	last := results[len(results)-1]
	assert.False(t, last.FallDetected)
	assert.Equal(t, string(models.ReasonCooldown), last.Message)
	require.NotNil(t, last.Confidence)
	assert.GreaterOrEqual(t, *last.Confidence, 0.7)

	for i, r := range results {
		assert.Equal(t, results[0].SessionID, r.SessionID, "frame %d", i)
		assert.Equal(t, int64(i+1), r.FrameCount, "frame %d", i)
	}

	// 通知发送后事件转为 NOTIFIED
	h.detection.Close()
	assert.Equal(t, 1, h.notifier.count())
	event, err := h.fallEvents.GetFallEvent(context.Background(), *hit.EventID)
	require.NoError(t, err)
	assert.Equal(t, models.FallStatusNotified, event.Status)
	assert.True(t, event.NotificationSent)
	assert.Equal(t, models.FallTypeLateral, event.FallType)
	assert.Equal(t, results[0].SessionID, event.SessionID)

	events, err := h.fallEvents.FindFallEventsSince(context.Background(), "user-1", time.Time{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

// 无站立前导的 40 帧：10 帧下降 + 30 帧静止
// 第 30 帧之前缓冲不足不评估，下降阶段的速度信号因此不计分，结果为 HIGH 而非 CRITICAL
func TestProcessFrame_FortyFrameFallWithoutLeadIn(t *testing.T) {
	t.Run("upright descent then lying", func(t *testing.T) {
		h := newHarness(t)
		results := h.feed(t, fallRequests("user-1", baseTime, 0, 30))
		require.Len(t, results, 40)

		require.Equal(t, []int{29}, detectedIndexes(results))
		hit := results[29]
		require.NotNil(t, hit.Severity)
		assert.Equal(t, models.SeverityHigh, *hit.Severity)
		assert.Equal(t, 0.75, *hit.Confidence)

		for i := 0; i < 29; i++ {
			assert.Equal(t, string(models.ReasonInsufficientHistory), results[i].Message, "frame %d", i)
		}
	})

	t.Run("lying throughout", func(t *testing.T) {
		h := newHarness(t)
		var reqs []*models.FrameRequest
		for k := 1; k <= 10; k++ {
			reqs = append(reqs, frameRequest("user-1", baseTime, len(reqs), horizontalLandmarks(0.2+0.065*float64(k))))
		}
		for i := 0; i < 30; i++ {
			reqs = append(reqs, frameRequest("user-1", baseTime, len(reqs), horizontalLandmarks(0.85)))
		}
		results := h.feed(t, reqs)

		// 静止达到 no-motion 阈值后才检测到，0.75 不足 CRITICAL
		require.Equal(t, []int{34}, detectedIndexes(results))
		hit := results[34]
		require.NotNil(t, hit.Severity)
		assert.Equal(t, models.SeverityHigh, *hit.Severity)
		assert.Equal(t, 0.75, *hit.Confidence)
	})
}

func TestProcessFrame_StandingNeverDetects(t *testing.T) {
	h := newHarness(t)
	results := h.feed(t, standingRequests("user-1", baseTime, 40))

	assert.Empty(t, detectedIndexes(results))
	assert.Equal(t, string(models.ReasonInsufficientHistory), results[28].Message)
	assert.Equal(t, string(models.ReasonBelowThreshold), results[39].Message)
}

func TestProcessFrame_ShortHistoryNeverDetects(t *testing.T) {
	h := newHarness(t)
	// 5 帧站立 + 10 帧下降 + 14 帧静止 = 29 帧
	results := h.feed(t, fallRequests("user-1", baseTime, 5, 14))

	require.Len(t, results, 29)
	assert.Empty(t, detectedIndexes(results))
	for _, r := range results {
		assert.Equal(t, string(models.ReasonInsufficientHistory), r.Message)
	}
}

func TestProcessFrame_SquatNeverDetects(t *testing.T) {
	h := newHarness(t)
	results := h.feed(t, squatRequests("user-1", baseTime, 120))
	assert.Empty(t, detectedIndexes(results))
}

func TestProcessFrame_CooldownAcrossIncidents(t *testing.T) {
	h := newHarness(t)

	first := h.feed(t, fallRequests("user-1", baseTime, 30, 10))
	require.Equal(t, []int{37}, detectedIndexes(first))

	// 10 秒后再次跌倒：冷却期内
	second := h.feed(t, fallRequests("user-1", baseTime.Add(10*time.Second), 30, 10))
	assert.Empty(t, detectedIndexes(second))
	assert.Equal(t, string(models.ReasonCooldown), second[37].Message)

	// 31 秒后：新的事件
	third := h.feed(t, fallRequests("user-1", baseTime.Add(41*time.Second), 30, 10))
	require.Equal(t, []int{37}, detectedIndexes(third))

	events, err := h.fallEvents.FindFallEventsSince(context.Background(), "user-1", time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.GreaterOrEqual(t, events[0].DetectedAt.Sub(events[1].DetectedAt), 30*time.Second)
}

func TestProcessFrame_UsersAreIndependent(t *testing.T) {
	h := newHarness(t)
	a := fallRequests("user-a", baseTime, 30, 5)
	b := standingRequests("user-b", baseTime, len(a))

	var resultsA, resultsB []*models.FrameResult
	for i := range a {
		resultsA = append(resultsA, h.feed(t, a[i:i+1])...)
		resultsB = append(resultsB, h.feed(t, b[i:i+1])...)
	}
	assert.Equal(t, []int{37}, detectedIndexes(resultsA))
	assert.Empty(t, detectedIndexes(resultsB))
	assert.NotEqual(t, resultsA[0].SessionID, resultsB[0].SessionID)
}

func TestProcessFrame_MalformedLandmarksDegrade(t *testing.T) {
	h := newHarness(t)
	req := frameRequest("user-1", baseTime, 0, uprightLandmarks(0.2)[:10])

	res, err := h.detection.ProcessFrame(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.FallDetected)
	assert.Equal(t, string(models.ReasonMalformedLandmarks), res.Message)
	assert.Equal(t, int64(1), res.FrameCount)

	bad := uprightLandmarks(0.2)
	bad[models.LeftHip].Y = 1.4
	res, err = h.detection.ProcessFrame(context.Background(), frameRequest("user-1", baseTime, 1, bad))
	require.NoError(t, err)
	assert.Equal(t, string(models.ReasonMalformedLandmarks), res.Message)
	assert.Equal(t, int64(2), res.FrameCount)
}

func TestProcessFrame_InvalidRequest(t *testing.T) {
	h := newHarness(t)

	_, err := h.detection.ProcessFrame(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidFrame)

	_, err = h.detection.ProcessFrame(context.Background(), frameRequest("", baseTime, 0, uprightLandmarks(0.2)))
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestProcessFrame_SaveFailurePropagatesAndReleasesCooldown(t *testing.T) {
	h := newHarness(t)
	reqs := fallRequests("user-1", baseTime, 30, 5)

	h.feed(t, reqs[:37])
	h.fallEvents.setFailSave(true)
	h.clock.Set(time.UnixMilli(reqs[37].Timestamp))
	_, err := h.detection.ProcessFrame(context.Background(), reqs[37])
	require.Error(t, err)

	// 持久化恢复后下一帧可以产生事件
	h.fallEvents.setFailSave(false)
	results := h.feed(t, reqs[38:])
	require.True(t, results[0].FallDetected)
}

func TestProcessFrame_DispatchFailureKeepsDetected(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("gateway unavailable")

	results := h.feed(t, fallRequests("user-1", baseTime, 30, 2))
	idx := detectedIndexes(results)
	require.Len(t, idx, 1)

	h.detection.Close()
	event, err := h.fallEvents.GetFallEvent(context.Background(), *results[idx[0]].EventID)
	require.NoError(t, err)
	assert.Equal(t, models.FallStatusDetected, event.Status)
	assert.False(t, event.NotificationSent)
}

func TestProcessFrameBatch_EvaluatesLastFrameOnly(t *testing.T) {
	h := newHarness(t)
	reqs := fallRequests("user-1", baseTime, 30, 30)
	h.clock.Set(time.UnixMilli(reqs[len(reqs)-1].Timestamp))

	results, err := h.detection.ProcessFrameBatch(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, results, len(reqs))

	for i, r := range results[:len(results)-1] {
		assert.False(t, r.FallDetected, "frame %d", i)
		assert.Equal(t, string(models.ReasonBatchPending), r.Message)
		assert.Equal(t, results[0].SessionID, r.SessionID)
	}
	last := results[len(results)-1]
	assert.True(t, last.FallDetected)
	assert.Equal(t, models.SeverityHigh, *last.Severity)
	assert.Equal(t, int64(len(reqs)), last.FrameCount)
}

func TestProcessFrameBatch_Validation(t *testing.T) {
	h := newHarness(t)

	_, err := h.detection.ProcessFrameBatch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidFrame)

	mixed := []*models.FrameRequest{
		frameRequest("user-1", baseTime, 0, uprightLandmarks(0.2)),
		frameRequest("user-2", baseTime, 1, uprightLandmarks(0.2)),
	}
	_, err = h.detection.ProcessFrameBatch(context.Background(), mixed)
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestGetFallStatus(t *testing.T) {
	h := newHarness(t)

	status, err := h.detection.GetFallStatus(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, status.IsMonitoring)
	assert.False(t, status.SessionActive)
	assert.Nil(t, status.CurrentSessionID)
	assert.NotNil(t, status.RecentFallEvents)
	assert.Empty(t, status.RecentFallEvents)

	results := h.feed(t, fallRequests("user-1", baseTime, 30, 5))
	status, err = h.detection.GetFallStatus(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, status.IsMonitoring)
	assert.True(t, status.SessionActive)
	require.NotNil(t, status.CurrentSessionID)
	assert.Equal(t, results[0].SessionID, *status.CurrentSessionID)
	require.Len(t, status.RecentFallEvents, 1)

	_, err = h.detection.GetFallStatus(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSession_ExplicitIDReplacesActiveSession(t *testing.T) {
	h := newHarness(t)

	first := frameRequest("user-1", baseTime, 0, uprightLandmarks(0.2))
	first.SessionID = "session-a"
	res, err := h.detection.ProcessFrame(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, "session-a", res.SessionID)

	second := frameRequest("user-1", baseTime, 1, uprightLandmarks(0.2))
	second.SessionID = "session-b"
	res, err = h.detection.ProcessFrame(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, "session-b", res.SessionID)
	assert.Equal(t, int64(1), res.FrameCount)

	old, ok := h.sessionsRepo.GetSession("session-a")
	require.True(t, ok)
	assert.Equal(t, models.SessionEnded, old.Status)
	assert.Equal(t, int64(1), old.TotalFrames)
}

func TestEndSession(t *testing.T) {
	h := newHarness(t)
	results := h.feed(t, standingRequests("user-1", baseTime, 12))
	sessionID := results[0].SessionID

	ended, err := h.poseData.EndSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionEnded, ended.Status)
	assert.Equal(t, int64(12), ended.TotalFrames)
	require.NotNil(t, ended.EndTime)

	saved, ok := h.sessionsRepo.GetSession(sessionID)
	require.True(t, ok)
	assert.Equal(t, models.SessionEnded, saved.Status)
	assert.Equal(t, int64(12), saved.TotalFrames)

	status, err := h.detection.GetFallStatus(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, status.IsMonitoring)
	assert.False(t, status.SessionActive)

	_, err = h.poseData.EndSession(context.Background(), sessionID)
	assert.ErrorIs(t, err, store.ErrSessionNotFound)

	_, err = h.poseData.EndSession(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestExpireIdle(t *testing.T) {
	h := newHarness(t)
	results := h.feed(t, standingRequests("user-1", baseTime, 5))

	h.clock.Advance(time.Minute)
	assert.Equal(t, 0, h.poseData.ExpireIdle(context.Background(), 300*time.Second))

	h.clock.Advance(5 * time.Minute)
	assert.Equal(t, 1, h.poseData.ExpireIdle(context.Background(), 300*time.Second))

	saved, ok := h.sessionsRepo.GetSession(results[0].SessionID)
	require.True(t, ok)
	assert.Equal(t, models.SessionEnded, saved.Status)
	assert.Equal(t, int64(5), saved.TotalFrames)

	n, err := h.window.Len(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// 之后的帧开启新会话
	next := h.feed(t, standingRequests("user-1", h.clock.Now(), 1))
	assert.NotEqual(t, results[0].SessionID, next[0].SessionID)
	assert.Equal(t, int64(1), next[0].FrameCount)
}

func TestFramesPersistedAsync(t *testing.T) {
	h := newHarness(t)
	results := h.feed(t, standingRequests("user-1", baseTime, 20))

	h.poseData.Close()
	assert.Equal(t, 20, h.framesRepo.CountFrames(results[0].SessionID))
}

func TestEndSession_WaitsForInFlightFrame(t *testing.T) {
	h := newHarness(t)
	results := h.feed(t, standingRequests("user-1", baseTime, 5))
	sessionID := results[0].SessionID

	endDone := make(chan models.Session, 1)
	h.hooked.setAppendHook(func() {
		go func() {
			ended, err := h.poseData.EndSession(context.Background(), sessionID)
			assert.NoError(t, err)
			endDone <- ended
		}()
		// EndSession 需等待本帧处理完成
		select {
		case <-endDone:
			t.Error("session ended while frame was in flight")
		case <-time.After(50 * time.Millisecond):
		}
	})

	req := standingRequests("user-1", baseTime.Add(time.Second), 1)[0]
	res, err := h.detection.ProcessFrame(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, sessionID, res.SessionID)
	assert.Equal(t, int64(6), res.FrameCount)

	select {
	case ended := <-endDone:
		assert.Equal(t, int64(6), ended.TotalFrames)
	case <-time.After(2 * time.Second):
		t.Fatal("EndSession did not complete")
	}

	next := h.feed(t, standingRequests("user-1", baseTime.Add(2*time.Second), 1))
	assert.NotEqual(t, sessionID, next[0].SessionID)
	assert.Equal(t, int64(1), next[0].FrameCount)
}

func TestAppendFrame_SessionEndedConcurrently(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	session, err := h.poseData.ResolveSession(ctx, "user-1", "")
	require.NoError(t, err)
	// 会话在解析之后被直接结束
	_, err = h.sessions.End(session.SessionID, baseTime)
	require.NoError(t, err)

	frame, err := standingRequests("user-1", baseTime, 1)[0].ToPoseFrame(baseTime)
	require.NoError(t, err)
	frame.SessionID = session.SessionID

	got, err := h.poseData.AppendFrame(ctx, frame)
	require.NoError(t, err)
	assert.NotEqual(t, session.SessionID, got.SessionID)
	assert.Equal(t, got.SessionID, frame.SessionID)
	assert.Equal(t, int64(1), got.TotalFrames)
}

func TestDeliver_EventMissingAfterNotification(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	n := &recordingNotifier{}
	// 仓库中没有该事件
	s := NewFallDetectionService(nil, nil, nil, repository.NewMemoryFallEventsRepo(), n,
		DetectionOptions{NotifyQueueSize: 1}, zap.New(core))

	s.deliver(context.Background(), &models.FallEvent{EventID: "event-gone", UserID: "user-1"})

	assert.Equal(t, 1, n.count())
	entries := logs.FilterMessage("Fall event missing after notification").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "event-gone", entries[0].ContextMap()["event_id"])
}

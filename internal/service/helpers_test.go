package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"wisefido-fall/internal/evaluator"
	"wisefido-fall/internal/models"
	"wisefido-fall/internal/repository"
	"wisefido-fall/internal/store"

	"go.uber.org/zap"
)

var baseTime = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

const frameInterval = 33 * time.Millisecond

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []*models.FallEvent
	err    error
}

func (n *recordingNotifier) NotifyFall(_ context.Context, event *models.FallEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

// flakyFallEvents SaveFallEvent 可按需失败
type flakyFallEvents struct {
	*repository.MemoryFallEventsRepo
	mu       sync.Mutex
	failSave bool
}

func (r *flakyFallEvents) SaveFallEvent(ctx context.Context, event *models.FallEvent) error {
	r.mu.Lock()
	fail := r.failSave
	r.mu.Unlock()
	if fail {
		return errors.New("connection refused")
	}
	return r.MemoryFallEventsRepo.SaveFallEvent(ctx, event)
}

func (r *flakyFallEvents) setFailSave(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failSave = v
}

// hookedWindow Append 之前执行 onAppend
type hookedWindow struct {
	*store.MemoryWindowStore
	mu       sync.Mutex
	onAppend func()
}

func (w *hookedWindow) Append(ctx context.Context, userID string, frame models.PoseFrame) error {
	w.mu.Lock()
	hook := w.onAppend
	w.onAppend = nil
	w.mu.Unlock()
	if hook != nil {
		hook()
	}
	return w.MemoryWindowStore.Append(ctx, userID, frame)
}

// setAppendHook 下一次 Append 时执行一次
func (w *hookedWindow) setAppendHook(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onAppend = fn
}

type harness struct {
	clock        *testClock
	window       *store.MemoryWindowStore
	hooked       *hookedWindow
	sessions     *store.SessionStore
	sessionsRepo *repository.MemorySessionsRepo
	framesRepo   *repository.MemoryPoseFramesRepo
	fallEvents   *flakyFallEvents
	notifier     *recordingNotifier
	poseData     *PoseDataService
	detection    *FallDetectionService
	events       *FallEventService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop()
	h := &harness{
		clock:        &testClock{now: baseTime},
		window:       store.NewMemoryWindowStore(store.DefaultWindowOptions()),
		sessions:     store.NewSessionStore(),
		sessionsRepo: repository.NewMemorySessionsRepo(),
		framesRepo:   repository.NewMemoryPoseFramesRepo(200),
		fallEvents:   &flakyFallEvents{MemoryFallEventsRepo: repository.NewMemoryFallEventsRepo()},
		notifier:     &recordingNotifier{},
	}
	h.window.SetClock(h.clock.Now)
	h.hooked = &hookedWindow{MemoryWindowStore: h.window}

	th := evaluator.DefaultThresholds()
	h.poseData = NewPoseDataService(h.hooked, h.sessions, h.sessionsRepo, h.framesRepo, 150, 256, logger)
	h.poseData.SetClock(h.clock.Now)
	h.detection = NewFallDetectionService(
		h.poseData,
		evaluator.NewEvaluator(th, logger),
		evaluator.NewDeduplicator(h.fallEvents, th.Cooldown),
		h.fallEvents,
		h.notifier,
		DetectionOptions{NotifyQueueSize: 16, StatusLimit: 10},
		logger,
	)
	h.detection.SetClock(h.clock.Now)
	h.events = NewFallEventService(h.fallEvents, logger)
	h.events.SetClock(h.clock.Now)

	h.poseData.Start(context.Background())
	h.detection.Start(context.Background())
	t.Cleanup(func() {
		h.detection.Close()
		h.poseData.Close()
	})
	return h
}

// feed 逐帧处理，每帧之前把时钟拨到帧时间
func (h *harness) feed(t *testing.T, reqs []*models.FrameRequest) []*models.FrameResult {
	t.Helper()
	results := make([]*models.FrameResult, len(reqs))
	for i, req := range reqs {
		h.clock.Set(time.UnixMilli(req.Timestamp).UTC())
		res, err := h.detection.ProcessFrame(context.Background(), req)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		results[i] = res
	}
	return results
}

func floatPtr(v float64) *float64 {
	return &v
}

// uprightLandmarks 站立姿态，鼻子可见度低
func uprightLandmarks(centerY float64) []models.Landmark {
	ls := make([]models.Landmark, models.LandmarkCount)
	for i := range ls {
		ls[i] = models.Landmark{X: 0.5, Y: centerY, Visibility: 0.9}
	}
	ls[models.Nose] = models.Landmark{X: 0.5, Y: math.Max(centerY-0.3, 0), Visibility: 0.3}
	ls[models.LeftShoulder] = models.Landmark{X: 0.45, Y: centerY - 0.2, Visibility: 0.9}
	ls[models.RightShoulder] = models.Landmark{X: 0.55, Y: centerY - 0.2, Visibility: 0.9}
	ls[models.LeftHip] = models.Landmark{X: 0.45, Y: centerY, Visibility: 0.9}
	ls[models.RightHip] = models.Landmark{X: 0.55, Y: centerY, Visibility: 0.9}
	ls[models.LeftAnkle] = models.Landmark{X: 0.45, Y: math.Min(centerY+0.3, 1), Visibility: 0.9}
	ls[models.RightAnkle] = models.Landmark{X: 0.55, Y: math.Min(centerY+0.3, 1), Visibility: 0.9}
	return ls
}

// horizontalLandmarks 平躺姿态
func horizontalLandmarks(centerY float64) []models.Landmark {
	ls := make([]models.Landmark, models.LandmarkCount)
	for i := range ls {
		ls[i] = models.Landmark{X: 0.5, Y: centerY, Visibility: 0.9}
	}
	ls[models.Nose].X = 0.2
	ls[models.LeftShoulder].X = 0.3
	ls[models.RightShoulder].X = 0.3
	ls[models.LeftHip].X = 0.6
	ls[models.RightHip].X = 0.6
	ls[models.LeftAnkle].X = 0.9
	ls[models.RightAnkle].X = 0.9
	return ls
}

func frameRequest(userID string, start time.Time, i int, ls []models.Landmark) *models.FrameRequest {
	return &models.FrameRequest{
		UserID:            userID,
		Timestamp:         start.Add(time.Duration(i) * frameInterval).UnixMilli(),
		FrameNumber:       int64(i),
		Landmarks:         ls,
		OverallConfidence: floatPtr(0.9),
	}
}

func standingRequests(userID string, start time.Time, n int) []*models.FrameRequest {
	reqs := make([]*models.FrameRequest, n)
	for i := range reqs {
		reqs[i] = frameRequest(userID, start, i, uprightLandmarks(0.2))
	}
	return reqs
}

// fallRequests 站立 standing 帧 -> 10 帧下降（0.2 -> 0.85）-> still 帧平躺静止
func fallRequests(userID string, start time.Time, standing, still int) []*models.FrameRequest {
	reqs := standingRequests(userID, start, standing)
	for k := 1; k <= 10; k++ {
		y := 0.2 + 0.065*float64(k)
		ls := uprightLandmarks(y)
		if y > 0.7 {
			ls = horizontalLandmarks(y)
		}
		reqs = append(reqs, frameRequest(userID, start, len(reqs), ls))
	}
	for i := 0; i < still; i++ {
		reqs = append(reqs, frameRequest(userID, start, len(reqs), horizontalLandmarks(0.85)))
	}
	return reqs
}

// squatRequests 周期约 1 秒的深蹲，0.3 <-> 0.6
func squatRequests(userID string, start time.Time, n int) []*models.FrameRequest {
	reqs := make([]*models.FrameRequest, n)
	for i := range reqs {
		y := 0.45 + 0.15*math.Sin(2*math.Pi*float64(i)/30)
		reqs[i] = frameRequest(userID, start, i, uprightLandmarks(y))
	}
	return reqs
}

func detectedIndexes(results []*models.FrameResult) []int {
	var idx []int
	for i, r := range results {
		if r.FallDetected {
			idx = append(idx, i)
		}
	}
	return idx
}

package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"wisefido-fall/internal/models"
)

// MemoryFallEventsRepo 数据库未启用时使用的事件仓库
type MemoryFallEventsRepo struct {
	mu     sync.RWMutex
	events map[string]*models.FallEvent // eventID -> event
}

func NewMemoryFallEventsRepo() *MemoryFallEventsRepo {
	return &MemoryFallEventsRepo{
		events: map[string]*models.FallEvent{},
	}
}

var _ FallEventsRepository = (*MemoryFallEventsRepo)(nil)

func (r *MemoryFallEventsRepo) SaveFallEvent(_ context.Context, event *models.FallEvent) error {
	if event == nil {
		return fmt.Errorf("event is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[event.EventID]; ok {
		return fmt.Errorf("fall event already exists: event_id=%s", event.EventID)
	}
	r.events[event.EventID] = event.Clone()
	return nil
}

func (r *MemoryFallEventsRepo) GetFallEvent(_ context.Context, eventID string) (*models.FallEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	event, ok := r.events[eventID]
	if !ok {
		return nil, fmt.Errorf("%w: event_id=%s", ErrFallEventNotFound, eventID)
	}
	return event.Clone(), nil
}

func (r *MemoryFallEventsRepo) find(userID string, since time.Time, limit int) []*models.FallEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*models.FallEvent{}
	for _, e := range r.events {
		if e.UserID == userID && !e.DetectedAt.Before(since) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *MemoryFallEventsRepo) FindRecentFallEvents(_ context.Context, userID string, since time.Time, limit int) ([]*models.FallEvent, error) {
	return r.find(userID, since, limit), nil
}

func (r *MemoryFallEventsRepo) FindFallEventsSince(_ context.Context, userID string, since time.Time) ([]*models.FallEvent, error) {
	return r.find(userID, since, 0), nil
}

func (r *MemoryFallEventsRepo) MarkNotified(_ context.Context, eventID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.events[eventID]
	if !ok {
		return fmt.Errorf("%w: event_id=%s", ErrFallEventNotFound, eventID)
	}
	sentAt := at
	event.NotificationSent = true
	event.NotificationSentAt = &sentAt
	if event.Status == models.FallStatusDetected {
		event.Status = models.FallStatusNotified
	}
	event.UpdatedAt = at
	return nil
}

func (r *MemoryFallEventsRepo) UpdateFeedback(_ context.Context, eventID string, isFalsePositive bool, comment *string, at time.Time) (*models.FallEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.events[eventID]
	if !ok {
		return nil, fmt.Errorf("%w: event_id=%s", ErrFallEventNotFound, eventID)
	}

	if event.FalsePositive != isFalsePositive || !sameComment(event.FeedbackComment, comment) {
		event.UpdatedAt = at
	}
	event.FalsePositive = isFalsePositive
	event.Status = feedbackStatus(isFalsePositive, event.NotificationSent)
	if comment != nil {
		c := *comment
		event.FeedbackComment = &c
	} else {
		event.FeedbackComment = nil
	}
	if event.FeedbackAt == nil {
		feedbackAt := at
		event.FeedbackAt = &feedbackAt
	}
	return event.Clone(), nil
}

func sameComment(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"wisefido-fall/internal/models"
	"wisefido-fall/internal/repository"
	"wisefido-fall/internal/service"
	"wisefido-fall/internal/store"

	"go.uber.org/zap"
)

const (
	maxFrameBody = 1 << 20
	maxBatchBody = 16 << 20
	maxExport    = 500
)

// FallDetector 帧处理与状态查询（service.FallDetectionService 实现）
type FallDetector interface {
	ProcessFrame(ctx context.Context, req *models.FrameRequest) (*models.FrameResult, error)
	ProcessFrameBatch(ctx context.Context, reqs []*models.FrameRequest) ([]*models.FrameResult, error)
	GetFallStatus(ctx context.Context, userID string) (*models.FallStatus, error)
}

// FallEvents 事件查询与反馈（service.FallEventService 实现）
type FallEvents interface {
	GetFallEvent(ctx context.Context, eventID string) (*models.FallEvent, error)
	ListFallEvents(ctx context.Context, req service.ListFallEventsRequest) ([]*models.FallEvent, error)
	SubmitFeedback(ctx context.Context, req service.SubmitFeedbackRequest) (*models.FallEvent, error)
}

// SessionEnder 结束监测会话（service.PoseDataService 实现）
type SessionEnder interface {
	EndSession(ctx context.Context, sessionID string) (models.Session, error)
}

// FallHandler 跌倒检测 Handler
type FallHandler struct {
	detector FallDetector
	events   FallEvents
	sessions SessionEnder
	logger   *zap.Logger
}

// NewFallHandler 创建跌倒检测 Handler
func NewFallHandler(detector FallDetector, events FallEvents, sessions SessionEnder, logger *zap.Logger) *FallHandler {
	return &FallHandler{
		detector: detector,
		events:   events,
		sessions: sessions,
		logger:   logger,
	}
}

type batchRequest struct {
	Frames []*models.FrameRequest `json:"frames"`
}

type feedbackRequest struct {
	IsFalsePositive bool   `json:"is_false_positive"`
	Comment         string `json:"comment"`
}

// writeError 按错误类型映射 HTTP 状态码
func (h *FallHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidFrame), errors.Is(err, service.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
	case errors.Is(err, repository.ErrFallEventNotFound), errors.Is(err, store.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, Fail(err.Error()))
	default:
		h.logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("internal error"))
	}
}

// ProcessFrame POST /api/v1/fall/frames
func (h *FallHandler) ProcessFrame(w http.ResponseWriter, r *http.Request) {
	var req models.FrameRequest
	if err := readBodyJSON(r, maxFrameBody, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(fmt.Sprintf("invalid body: %v", err)))
		return
	}
	result, err := h.detector.ProcessFrame(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(result))
}

// ProcessFrameBatch POST /api/v1/fall/frames/batch
func (h *FallHandler) ProcessFrameBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := readBodyJSON(r, maxBatchBody, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(fmt.Sprintf("invalid body: %v", err)))
		return
	}
	results, err := h.detector.ProcessFrameBatch(r.Context(), req.Frames)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(results))
}

// GetFallStatus GET /api/v1/fall/status?user_id=
func (h *FallHandler) GetFallStatus(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	status, err := h.detector.GetFallStatus(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(status))
}

// listRequest 解析 user_id / since / limit
func listRequest(r *http.Request, defaultLimit int) (service.ListFallEventsRequest, error) {
	q := r.URL.Query()
	since, err := parseTime(q.Get("since"))
	if err != nil {
		return service.ListFallEventsRequest{}, fmt.Errorf("%w: invalid since", service.ErrInvalidRequest)
	}
	return service.ListFallEventsRequest{
		UserID: strings.TrimSpace(q.Get("user_id")),
		Since:  since,
		Limit:  parseInt(q.Get("limit"), defaultLimit),
	}, nil
}

// ListFallEvents GET /api/v1/fall/events?user_id=&since=&limit=
func (h *FallHandler) ListFallEvents(w http.ResponseWriter, r *http.Request) {
	req, err := listRequest(r, 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	events, err := h.events.ListFallEvents(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(events))
}

// GetFallEvent GET /api/v1/fall/events/{id}
func (h *FallHandler) GetFallEvent(w http.ResponseWriter, r *http.Request, eventID string) {
	event, err := h.events.GetFallEvent(r.Context(), eventID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(event))
}

// SubmitFeedback PUT /api/v1/fall/events/{id}/feedback
func (h *FallHandler) SubmitFeedback(w http.ResponseWriter, r *http.Request, eventID string) {
	var body feedbackRequest
	if err := readBodyJSON(r, maxFrameBody, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(fmt.Sprintf("invalid body: %v", err)))
		return
	}
	event, err := h.events.SubmitFeedback(r.Context(), service.SubmitFeedbackRequest{
		EventID:         eventID,
		IsFalsePositive: body.IsFalsePositive,
		Comment:         body.Comment,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(event))
}

// EndSession POST /api/v1/fall/sessions/{id}/end
func (h *FallHandler) EndSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := h.sessions.EndSession(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(session))
}

// ExportFallEvents GET /api/v1/fall/events/export?user_id=
func (h *FallHandler) ExportFallEvents(w http.ResponseWriter, r *http.Request) {
	req, err := listRequest(r, maxExport)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	events, err := h.events.ListFallEvents(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	data, err := GenerateFallEventsExport(events)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("failed to generate export: %w", err))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=fall-events-%s.xlsx", req.UserID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

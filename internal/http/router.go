package httpapi

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const fallPrefix = "/api/v1/fall/"

// Router 使用标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler 注册 http.Handler（WebSocket 等）
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	r.mux.ServeHTTP(w, req)
	r.logger.Debug("HTTP request",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Duration("duration", time.Since(start)),
	)
}

// RegisterHealthRoutes 存活检查
func (r *Router) RegisterHealthRoutes() {
	r.Handle("/health", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "ok"}))
	})
}

// RegisterFallRoutes 注册跌倒检测路由；ws 为 nil 时不注册实时推送
func (r *Router) RegisterFallRoutes(h *FallHandler, ws http.Handler) {
	r.Handle(fallPrefix+"frames", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.ProcessFrame(w, req)
	})

	r.Handle(fallPrefix+"frames/batch", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.ProcessFrameBatch(w, req)
	})

	r.Handle(fallPrefix+"status", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.GetFallStatus(w, req)
	})

	r.Handle(fallPrefix+"events", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.ListFallEvents(w, req)
	})

	// events/export, events/{id}, events/{id}/feedback
	r.Handle(fallPrefix+"events/", func(w http.ResponseWriter, req *http.Request) {
		rest := strings.TrimPrefix(req.URL.Path, fallPrefix+"events/")
		switch {
		case rest == "export" && req.Method == http.MethodGet:
			h.ExportFallEvents(w, req)
		case strings.HasSuffix(rest, "/feedback") && req.Method == http.MethodPut:
			eventID := strings.TrimSuffix(rest, "/feedback")
			if eventID == "" || strings.Contains(eventID, "/") {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			h.SubmitFeedback(w, req, eventID)
		case rest != "" && !strings.Contains(rest, "/") && req.Method == http.MethodGet:
			h.GetFallEvent(w, req, rest)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	// sessions/{id}/end
	r.Handle(fallPrefix+"sessions/", func(w http.ResponseWriter, req *http.Request) {
		rest := strings.TrimPrefix(req.URL.Path, fallPrefix+"sessions/")
		sessionID := strings.TrimSuffix(rest, "/end")
		if sessionID == rest || sessionID == "" || strings.Contains(sessionID, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.EndSession(w, req, sessionID)
	})

	if ws != nil {
		r.HandleHandler(fallPrefix+"ws", ws)
	}
}

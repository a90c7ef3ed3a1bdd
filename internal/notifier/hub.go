package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"wisefido-fall/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrNoSubscribers 没有订阅该用户事件的 WebSocket 客户端
var ErrNoSubscribers = errors.New("no websocket subscribers")

type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	userID string // 为空表示订阅所有用户
}

// Hub WebSocket 实时广播
type Hub struct {
	clients    map[*wsClient]struct{}
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan broadcastMessage
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

type broadcastMessage struct {
	userID  string
	payload []byte
}

// NewHub 创建广播中心
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*wsClient]struct{}),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan broadcastMessage, 256),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Run 处理注册、注销与广播，ctx 取消后关闭所有连接
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if c.userID != "" && c.userID != msg.userID {
					continue
				}
				select {
				case c.send <- msg.payload:
				default:
					// 客户端过慢，断开
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// hasSubscriber 是否存在接收该用户事件的客户端（含未设置过滤的客户端）
func (h *Hub) hasSubscriber(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.userID == "" || c.userID == userID {
			return true
		}
	}
	return false
}

// NotifyFall 广播事件；没有匹配的订阅者时返回 ErrNoSubscribers
func (h *Hub) NotifyFall(_ context.Context, event *models.FallEvent) error {
	if !h.hasSubscriber(event.UserID) {
		return ErrNoSubscribers
	}
	payload, err := json.Marshal(NewFallMessage(event))
	if err != nil {
		return fmt.Errorf("failed to marshal fall message: %w", err)
	}
	select {
	case h.broadcast <- broadcastMessage{userID: event.UserID, payload: payload}:
		return nil
	default:
		return fmt.Errorf("broadcast channel full")
	}
}

// ServeWS 升级连接并注册客户端，?user_id= 只接收该用户的事件
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	c := &wsClient{
		conn:   conn,
		send:   make(chan []byte, 64),
		userID: r.URL.Query().Get("user_id"),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go func() {
		for msg := range c.send {
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
		c.conn.Close()
	}()

	// 只读取控制帧与关闭
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

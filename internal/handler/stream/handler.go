// Package stream delivers live session messages over SSE and WebSocket.
// Both transports drain the same long-poll dispatcher, so a single append
// reaches every connected client.
package stream

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	chatservice "github.com/zhouzirui/duet/backend/internal/service/chat"
	"github.com/zhouzirui/duet/backend/pkg/utils"
)

// pollSlice keeps each dispatcher wait short so client disconnects are
// noticed promptly.
const pollSlice = 20 * time.Second

// Handler 实时消息推送处理器
type Handler struct {
	chatSvc  *chatservice.Service
	upgrader websocket.Upgrader
}

// New 创建推送处理器
func New(chatSvc *chatservice.Service) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册流式路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/stream", h.handleSSE)
	r.Get("/sessions/{sessionID}/ws", h.handleWebSocket)
}

// handleSSE 通过Server-Sent Events推送新消息
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	if _, err := h.chatSvc.GetSession(r.Context(), sessionID); err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	utils.SetupSSEHeaders(w)
	utils.SendSSEEvent(w, flusher, "status", map[string]string{"message": "stream established"})

	ctx := r.Context()
	var cursor int64
	for {
		messages, err := h.chatSvc.WaitForMessages(ctx, sessionID, cursor, pollSlice)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Printf("[sse] closing stream for session=%s", sessionID)
				return
			}
			utils.SendSSEEvent(w, flusher, "error", map[string]string{"error": err.Error()})
			return
		}
		if len(messages) == 0 {
			utils.SendSSEEvent(w, flusher, "heartbeat", map[string]string{"message": "no new messages"})
			continue
		}
		for _, msg := range messages {
			utils.SendSSEEvent(w, flusher, "message", msg)
			cursor = msg.Seq
		}
	}
}

// handleWebSocket 通过WebSocket推送新消息
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.chatSvc.GetSession(r.Context(), sessionID); err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed for session=%s: %v", sessionID, err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain client frames so pings are answered and closure is noticed.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var cursor int64
	for {
		messages, err := h.chatSvc.WaitForMessages(ctx, sessionID, cursor, pollSlice)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				log.Printf("[ws] wait failed for session=%s: %v", sessionID, err)
			}
			return
		}
		for _, msg := range messages {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("[ws] write failed for session=%s: %v", sessionID, err)
				return
			}
			cursor = msg.Seq
		}
		if len(messages) == 0 {
			if err := conn.WriteJSON(map[string]string{"event": "heartbeat"}); err != nil {
				return
			}
		}
	}
}

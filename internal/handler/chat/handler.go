package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/duet/backend/internal/model/chat"
	"github.com/zhouzirui/duet/backend/internal/model/safety"
	chatservice "github.com/zhouzirui/duet/backend/internal/service/chat"
	"github.com/zhouzirui/duet/backend/pkg/utils"
)

const (
	defaultPollWait = 25 * time.Second
	maxPollWait     = 60 * time.Second

	reflectTimeout = 30 * time.Second
)

// Reflector produces the facilitator turn after both partners have spoken.
// Nil is valid; the session then stays in ai_reflect until one is wired.
type Reflector interface {
	Reflect(ctx context.Context, sessionID string) error
}

// Handler 会话与消息的HTTP处理器
type Handler struct {
	chatSvc   *chatservice.Service
	reflector Reflector
}

// New 创建聊天处理器
func New(chatSvc *chatservice.Service, reflector Reflector) *Handler {
	return &Handler{chatSvc: chatSvc, reflector: reflector}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Post("/sessions/{sessionID}/messages", h.handleSubmitMessage)
	r.Get("/sessions/{sessionID}/messages", h.handlePollMessages)
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Mode == "" {
		payload.Mode = string(chat.ModeCouple)
	}

	session, err := h.chatSvc.CreateSession(r.Context(), chat.Mode(payload.Mode))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusCreated, session)
}

// handleGetSession 查询会话的回合与封锁状态
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"id":           session.ID,
		"mode":         session.Mode,
		"turnState":    session.TurnState,
		"boundaryFlag": session.BoundaryFlag,
	})
}

// handleSubmitMessage 提交一条消息并推进回合
func (h *Handler) handleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var payload struct {
		Sender  string `json:"sender"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sender := chat.Sender(payload.Sender)
	if sender != chat.SenderPartnerA && sender != chat.SenderPartnerB {
		utils.RespondError(w, http.StatusBadRequest, "sender must be partnerA or partnerB")
		return
	}

	result, err := h.chatSvc.SubmitMessage(r.Context(), sessionID, sender, payload.Content)
	if err != nil {
		h.respondSubmitError(w, err)
		return
	}

	response := map[string]any{
		"message":   result.Message,
		"turnState": result.Session.TurnState,
	}
	if result.Classification.Action == safety.ActionWarn && result.Classification.Boundary != nil {
		response["warning"] = result.Classification.Boundary
	}
	utils.RespondJSON(w, http.StatusCreated, response)

	if h.reflector != nil && result.Session.TurnState == chat.AIReflect {
		go h.runReflection(sessionID)
	}
}

// runReflection generates the facilitator turn off the request goroutine.
func (h *Handler) runReflection(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), reflectTimeout)
	defer cancel()
	if err := h.reflector.Reflect(ctx, sessionID); err != nil {
		log.Printf("[chat] reflection error for session=%s: %v", sessionID, err)
	}
}

func (h *Handler) respondSubmitError(w http.ResponseWriter, err error) {
	var turnErr *chatservice.TurnConflictError
	var boundaryErr *chatservice.BoundaryLockedError
	switch {
	case errors.As(err, &boundaryErr):
		payload := map[string]any{"error": "boundary_locked"}
		if boundaryErr.Template != nil {
			payload["message"] = boundaryErr.Template.Message
			if len(boundaryErr.Template.Resources) > 0 {
				payload["resources"] = boundaryErr.Template.Resources
			}
		}
		utils.RespondJSON(w, http.StatusLocked, payload)
	case errors.As(err, &turnErr):
		utils.RespondJSON(w, http.StatusConflict, map[string]any{
			"error":     "turn_conflict",
			"detail":    turnErr.Error(),
			"turnState": turnErr.State,
		})
	case errors.Is(err, chatservice.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, "session not found")
	default:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}

// handlePollMessages 长轮询获取新消息
func (h *Handler) handlePollMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	since := int64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			utils.RespondError(w, http.StatusBadRequest, "invalid since cursor")
			return
		}
		since = parsed
	}

	wait := defaultPollWait
	if raw := r.URL.Query().Get("waitMs"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			utils.RespondError(w, http.StatusBadRequest, "invalid waitMs")
			return
		}
		wait = time.Duration(parsed) * time.Millisecond
		if wait > maxPollWait {
			wait = maxPollWait
		}
	}

	messages, err := h.chatSvc.WaitForMessages(r.Context(), sessionID, since, wait)
	if err != nil {
		if errors.Is(err, chatservice.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Client went away mid-poll; nothing useful to write.
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if messages == nil {
		messages = []chat.Message{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

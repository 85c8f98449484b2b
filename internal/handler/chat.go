// Package handler exposes the chat service over HTTP with gin.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/easeaico/agent-chat/internal/stream"
	"github.com/easeaico/agent-chat/internal/types"
)

// ChatService is the chat API consumed by the HTTP layer.
type ChatService interface {
	Chat(ctx context.Context, req types.ChatRequest) (*stream.Emitter, error)
	Stream(ctx context.Context, sessionID string, wait time.Duration) *stream.Emitter
	CreateSession(ctx context.Context, req types.NewSessionRequest) (*types.Session, error)
	ListSessions(ctx context.Context) ([]types.Session, error)
	HistoryMessages(ctx context.Context, sessionID string) ([]types.Message, error)
	Interrupt(ctx context.Context, sessionID string) (types.InterruptResult, error)
}

// ChatHandler serves the /ai routes.
type ChatHandler struct {
	service    ChatService
	streamWait time.Duration
}

func NewChatHandler(service ChatService, streamWait time.Duration) *ChatHandler {
	return &ChatHandler{service: service, streamWait: streamWait}
}

// Chat starts a turn and answers with its frames as server-sent events.
func (h *ChatHandler) Chat(c *gin.Context) {
	var req types.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, invalidBody(err))
		return
	}

	emitter, err := h.service.Chat(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	stream.ServeSSE(c.Writer, c.Request, emitter)
}

// Stream attaches to the live stream of a session.
func (h *ChatHandler) Stream(c *gin.Context) {
	sessionID := c.Param("sessionId")
	emitter := h.service.Stream(c.Request.Context(), sessionID, h.streamWait)
	stream.ServeSSE(c.Writer, c.Request, emitter)
}

func (h *ChatHandler) CreateSession(c *gin.Context) {
	var req types.NewSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, invalidBody(err))
		return
	}
	session, err := h.service.CreateSession(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *ChatHandler) ListSessions(c *gin.Context) {
	sessions, err := h.service.ListSessions(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if sessions == nil {
		sessions = []types.Session{}
	}
	c.JSON(http.StatusOK, sessions)
}

func (h *ChatHandler) HistoryMessages(c *gin.Context) {
	messages, err := h.service.HistoryMessages(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		respondError(c, err)
		return
	}
	if messages == nil {
		messages = []types.Message{}
	}
	c.JSON(http.StatusOK, messages)
}

// Interrupt answers {"interrupted": bool, "status": ...}. interrupted is true only when the
// stream was closed by this replica; status FORWARDED means the request went to the others.
func (h *ChatHandler) Interrupt(c *gin.Context) {
	sessionID := c.Param("sessionId")
	result, err := h.service.Interrupt(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	slog.Info("interrupt requested", "session_id", sessionID, "status", result)
	c.JSON(http.StatusOK, gin.H{
		"interrupted": result == types.InterruptApplied,
		"status":      result,
	})
}

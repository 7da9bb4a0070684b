package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tenderlens/internal/app"
	"tenderlens/internal/model"
	"tenderlens/internal/transport/http/response"
)

type ChatHandler struct {
	chatService *app.ChatService
}

type CreateSessionRequest struct {
	Title       string `json:"title" binding:"max=128"`
	DocumentIDs []uint `json:"document_ids" binding:"required,min=1"`
}

type SendMessageRequest struct {
	SessionID   uint   `json:"session_id" binding:"required,gt=0"`
	Message     string `json:"message" binding:"required"`
	DocumentIDs []uint `json:"document_ids"`
}

type sessionView struct {
	*model.ChatSession
	DocumentIDs []uint `json:"document_ids"`
}

func NewChatHandler(chatService *app.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

func (h *ChatHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	session, err := h.chatService.CreateSession(app.CreateSessionInput{
		Title:       req.Title,
		DocumentIDs: req.DocumentIDs,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrDocumentNotFound):
			response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "create session failed")
		}
		return
	}

	response.OK(c, sessionView{ChatSession: session, DocumentIDs: session.DocumentIDList()})
}

func (h *ChatHandler) ListSessions(c *gin.Context) {
	sessions, err := h.chatService.ListSessions()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list sessions failed")
		return
	}

	views := make([]sessionView, len(sessions))
	for i := range sessions {
		views[i] = sessionView{ChatSession: &sessions[i], DocumentIDs: sessions[i].DocumentIDList()}
	}
	response.OK(c, views)
}

func (h *ChatHandler) GetSession(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}

	session, err := h.chatService.GetSession(id)
	if err != nil {
		respondChatError(c, err, "get session failed")
		return
	}
	response.OK(c, sessionView{ChatSession: session, DocumentIDs: session.DocumentIDList()})
}

func (h *ChatHandler) DeleteSession(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}

	if err := h.chatService.DeleteSession(c.Request.Context(), id); err != nil {
		respondChatError(c, err, "delete session failed")
		return
	}
	response.OK(c, gin.H{"deleted_session_id": id})
}

func (h *ChatHandler) GetHistory(c *gin.Context) {
	sessionID64, err := strconv.ParseUint(c.Query("session_id"), 10, 64)
	if err != nil || sessionID64 == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid session_id")
		return
	}

	history, err := h.chatService.History(c.Request.Context(), uint(sessionID64))
	if err != nil {
		respondChatError(c, err, "get history failed")
		return
	}

	type messageView struct {
		*model.ChatMessage
		Sources []model.Source `json:"sources,omitempty"`
	}
	views := make([]messageView, len(history))
	for i := range history {
		views[i] = messageView{ChatMessage: &history[i], Sources: history[i].SourceList()}
	}
	response.OK(c, views)
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.chatService.SendMessage(c.Request.Context(), app.SendMessageInput{
		SessionID:   req.SessionID,
		Content:     req.Message,
		DocumentIDs: req.DocumentIDs,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput), errors.Is(err, app.ErrMessageEmpty):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrSessionNotFound):
			response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "send message failed")
		}
		return
	}

	response.OK(c, result)
}

func sessionIDParam(c *gin.Context) (uint, bool) {
	id64, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id64 == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid session id")
		return 0, false
	}
	return uint(id64), true
}

func respondChatError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrSessionNotFound):
		response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}

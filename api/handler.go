package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/Ishu-sri-001/neuro-nest/config"
	"github.com/Ishu-sri-001/neuro-nest/middleware"
	"github.com/Ishu-sri-001/neuro-nest/models"
	"github.com/Ishu-sri-001/neuro-nest/repository"
	"github.com/Ishu-sri-001/neuro-nest/services"
	"github.com/Ishu-sri-001/neuro-nest/utils"
)

// APIHandler holds all dependencies for API handlers.
type APIHandler struct {
	chatService    services.ChatService
	accountService services.AccountService
	cfg            config.Config
}

// NewAPIHandler creates a new APIHandler with necessary dependencies.
func NewAPIHandler(chatService services.ChatService, accountService services.AccountService, cfg config.Config) *APIHandler {
	return &APIHandler{
		chatService:    chatService,
		accountService: accountService,
		cfg:            cfg,
	}
}

// SubmitMessageRequest is the body of POST /api/sessions/:id/messages.
type SubmitMessageRequest struct {
	Message string `json:"message"`
}

func respondOK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"code":    status,
		"message": "success",
		"data":    data,
	})
}

// InitHandler returns the caller's identity and allowance.
func (h *APIHandler) InitHandler(c *gin.Context) {
	identity := middleware.GetIdentity(c)
	allowance, decision, err := h.chatService.ReadAllowance(c.Request.Context(), identity)
	if err != nil {
		h.sendStoreError(c, err, "Could not load your message allowance.")
		return
	}

	respondOK(c, http.StatusOK, models.InitResponse{
		Identity:          identity,
		GuestMessageLimit: h.cfg.Guest.MessageLimit,
		Allowance:         allowance,
		Remaining:         allowance.Remaining(),
		Decision:          decision,
		CreditPlans:       h.cfg.CreditPlans,
	})
}

// CreateSessionHandler starts a new conversation for the caller.
func (h *APIHandler) CreateSessionHandler(c *gin.Context) {
	session, err := h.chatService.StartSession(c.Request.Context(), middleware.GetIdentity(c))
	if err != nil {
		h.sendStoreError(c, err, "Could not start a chat session.")
		return
	}
	respondOK(c, http.StatusCreated, session.Snapshot())
}

// GetSessionHandler returns the session state. ?refresh=true re-reads the allowance.
func (h *APIHandler) GetSessionHandler(c *gin.Context) {
	session, ok := h.loadSession(c)
	if !ok {
		return
	}
	// Pick up balance changes made outside this session
	if c.Query("refresh") == "true" {
		if err := session.SetIdentity(c.Request.Context(), session.Identity()); err != nil {
			h.sendStoreError(c, err, "Could not refresh your message allowance.")
			return
		}
	}
	respondOK(c, http.StatusOK, session.Snapshot())
}

// SubmitMessageHandler meters the message and streams the reply as SSE.
func (h *APIHandler) SubmitMessageHandler(c *gin.Context) {
	session, ok := h.loadSession(c)
	if !ok {
		return
	}

	// 1. Parse request
	var req SubmitMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "Invalid request format.", err)
		return
	}

	// 2. Meter and start the reply; rejected submissions change nothing
	events, err := session.Submit(c.Request.Context(), req.Message)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrEmptyMessage):
		utils.SendJSONError(c, http.StatusBadRequest, "Message cannot be empty.", nil)
		return
	case errors.Is(err, services.ErrSessionBusy):
		utils.SendJSONError(c, http.StatusConflict, "A reply is still streaming. Stop it or wait for it to finish.", nil)
		return
	case errors.Is(err, services.ErrQuotaExceeded):
		h.sendLimitReached(c, session)
		return
	default:
		utils.SendJSONError(c, http.StatusInternalServerError, "", err)
		return
	}

	// 3. Relay the reply as SSE
	streamEvents(c, session, events)
}

// CancelHandler stops the reply that is streaming.
func (h *APIHandler) CancelHandler(c *gin.Context) {
	session, ok := h.loadSession(c)
	if !ok {
		return
	}
	cancelled := session.Cancel()
	respondOK(c, http.StatusOK, gin.H{
		"cancelled": cancelled,
		"session":   session.Snapshot(),
	})
}

// RetryHandler re-issues the last failed request as SSE.
func (h *APIHandler) RetryHandler(c *gin.Context) {
	session, ok := h.loadSession(c)
	if !ok {
		return
	}
	events, err := session.Retry(c.Request.Context())
	if err != nil {
		utils.SendJSONError(c, http.StatusConflict, "There is no failed request to retry.", nil)
		return
	}
	streamEvents(c, session, events)
}

// EndSessionHandler discards a session.
func (h *APIHandler) EndSessionHandler(c *gin.Context) {
	session, ok := h.loadSession(c)
	if !ok {
		return
	}
	if err := h.chatService.EndSession(session.ID()); err != nil {
		utils.SendJSONError(c, http.StatusNotFound, "Chat session not found.", nil)
		return
	}
	c.Status(http.StatusNoContent)
}

// loadSession looks up a session the caller is allowed to use. A guest that
// signed in on the same device takes its session along.
func (h *APIHandler) loadSession(c *gin.Context) (*services.SessionController, bool) {
	session, err := h.chatService.SessionFor(c.Request.Context(), c.Param("id"), middleware.GetIdentity(c), middleware.GetDeviceID(c))
	switch {
	case err == nil:
		return session, true
	case errors.Is(err, services.ErrSessionNotFound):
		utils.SendJSONError(c, http.StatusNotFound, "Chat session not found.", nil)
	default:
		h.sendStoreError(c, err, "Could not load your message allowance.")
	}
	return nil, false
}

func (h *APIHandler) sendLimitReached(c *gin.Context, session *services.SessionController) {
	snapshot := session.Snapshot()
	extra := gin.H{"remaining": snapshot.Remaining, "allowance": snapshot.Allowance}
	if snapshot.Identity.IsGuest() {
		extra["limit_reached"] = "guest"
		utils.SendJSONErrorWith(c, http.StatusForbidden, "You've reached the guest message limit.", nil, extra,
			"Please log in to continue chatting with NeuroNest.")
		return
	}
	extra["limit_reached"] = "credits"
	utils.SendJSONErrorWith(c, http.StatusForbidden, "You've used all your credits.", nil, extra,
		"Please upgrade your plan or purchase more credits to continue chatting.")
}

func (h *APIHandler) sendStoreError(c *gin.Context, err error, publicMsg string) {
	if errors.Is(err, repository.ErrAccountNotFound) {
		utils.SendJSONError(c, http.StatusUnauthorized, "Your account could not be found. Please log in again.", err)
		return
	}
	utils.SendJSONError(c, http.StatusInternalServerError, publicMsg, err)
}

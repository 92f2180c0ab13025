package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Ishu-sri-001/neuro-nest/middleware"
	"github.com/Ishu-sri-001/neuro-nest/models"
	"github.com/Ishu-sri-001/neuro-nest/repository"
	"github.com/Ishu-sri-001/neuro-nest/services"
	"github.com/Ishu-sri-001/neuro-nest/utils"
)

type SignupRequest struct {
	Email     string `json:"email" binding:"required"`
	Password  string `json:"password" binding:"required"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type UpdateAccountRequest struct {
	FirstName   *string `json:"first_name"`
	LastName    *string `json:"last_name"`
	DisplayName *string `json:"display_name"`
}

type PurchaseCreditsRequest struct {
	PlanID string `json:"plan_id" binding:"required"`
}

type authResponse struct {
	Token   string          `json:"token"`
	Account *models.Account `json:"account"`
}

// SignupHandler creates an account with the signup credit grant.
func (h *APIHandler) SignupHandler(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "Invalid request format.", err)
		return
	}

	account, token, err := h.accountService.Signup(c.Request.Context(), services.SignupRequest{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	switch {
	case err == nil:
		respondOK(c, http.StatusCreated, authResponse{Token: token, Account: account})
	case errors.Is(err, services.ErrInvalidSignup):
		utils.SendJSONError(c, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, services.ErrEmailTaken):
		utils.SendJSONError(c, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, services.ErrAuthDisabled):
		utils.SendJSONError(c, http.StatusServiceUnavailable, "Accounts are not available right now.", err)
	default:
		utils.SendJSONError(c, http.StatusInternalServerError, "Could not create your account.", err)
	}
}

// LoginHandler exchanges credentials for a token.
func (h *APIHandler) LoginHandler(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "Invalid request format.", err)
		return
	}

	account, token, err := h.accountService.Login(c.Request.Context(), req.Email, req.Password)
	switch {
	case err == nil:
		respondOK(c, http.StatusOK, authResponse{Token: token, Account: account})
	case errors.Is(err, services.ErrInvalidCredentials):
		utils.SendJSONError(c, http.StatusUnauthorized, err.Error(), nil)
	case errors.Is(err, services.ErrAuthDisabled):
		utils.SendJSONError(c, http.StatusServiceUnavailable, "Accounts are not available right now.", err)
	default:
		utils.SendJSONError(c, http.StatusInternalServerError, "Could not log you in.", err)
	}
}

// GetAccountHandler returns the caller's profile and credits.
func (h *APIHandler) GetAccountHandler(c *gin.Context) {
	account, err := h.accountService.GetProfile(c.Request.Context(), middleware.GetIdentity(c).ID)
	if err != nil {
		h.sendStoreError(c, err, "Could not load your account.")
		return
	}
	respondOK(c, http.StatusOK, account)
}

// UpdateAccountHandler edits the caller's name fields.
func (h *APIHandler) UpdateAccountHandler(c *gin.Context) {
	var req UpdateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "Invalid request format.", err)
		return
	}
	account, err := h.accountService.UpdateProfile(c.Request.Context(), middleware.GetIdentity(c).ID, services.ProfileUpdate{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		h.sendStoreError(c, err, "Could not update your profile.")
		return
	}
	respondOK(c, http.StatusOK, account)
}

// PurchaseCreditsHandler adds a credit plan to the caller's balance.
func (h *APIHandler) PurchaseCreditsHandler(c *gin.Context) {
	var req PurchaseCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "Invalid request format.", err)
		return
	}
	identity := middleware.GetIdentity(c)

	// Live sessions write absolute balances, so their pending writes must land
	// before the purchase reads the balance, and they must re-read it after.
	h.chatService.FlushIdentity(identity)
	account, plan, err := h.accountService.PurchaseCredits(c.Request.Context(), identity.ID, req.PlanID)
	switch {
	case err == nil:
		if _, refreshErr := h.chatService.RefreshIdentity(c.Request.Context(), identity); refreshErr != nil {
			log.Warn().Err(refreshErr).Str("component", "API").Str("account_id", identity.ID).Msg("failed to refresh sessions after purchase")
		}
		respondOK(c, http.StatusOK, gin.H{"account": account, "plan": plan})
	case errors.Is(err, services.ErrUnknownPlan):
		utils.SendJSONError(c, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, repository.ErrAccountNotFound):
		h.sendStoreError(c, err, "")
	default:
		utils.SendJSONError(c, http.StatusInternalServerError, "Failed to purchase credits.", err)
	}
}

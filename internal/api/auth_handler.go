package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/instantchat/backend/internal/auth"
	"github.com/instantchat/backend/internal/middleware"
	"github.com/instantchat/backend/pkg/response"
	"github.com/instantchat/backend/pkg/validator"
)

// AuthHandler issues bearer tokens for local development and reports the
// caller's identity.
type AuthHandler struct {
	jwtManager *auth.JWTManager
	logger     *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(jwtManager *auth.JWTManager, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		jwtManager: jwtManager,
		logger:     logger,
	}
}

// TokenRequest represents the token request body
type TokenRequest struct {
	UserID string `json:"userId"`
}

// TokenResponse represents an issued access token
type TokenResponse struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	ExpiresAt   time.Time `json:"expiresAt"`
	UserID      string    `json:"userId"`
}

// IssueToken handles POST /auth/token. The router only mounts it outside
// production.
func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	req.UserID = strings.TrimSpace(req.UserID)
	if !validator.ValidateUserID(req.UserID) {
		response.BadRequest(w, "userId is required and may only contain letters, digits and _.:@-")
		return
	}

	token, expiresAt, err := h.jwtManager.GenerateAccessToken(req.UserID)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		response.InternalError(w, "failed to issue token")
		return
	}

	h.logger.Info("development token issued", zap.String("user_id", req.UserID))
	response.OK(w, TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
		UserID:      req.UserID,
	})
}

// Me handles GET /me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}
	response.OK(w, map[string]string{"id": userID})
}

package handler

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/partsmart-ledger/internal/middleware"
	"github.com/mmeshcher/partsmart-ledger/internal/model"
	"github.com/mmeshcher/partsmart-ledger/internal/repository"
	"github.com/mmeshcher/partsmart-ledger/internal/service"
)

type credentialsRequest struct {
	Email    string     `json:"email"`
	Password string     `json:"password"`
	Role     model.Role `json:"role,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type authResponse struct {
	UserID int64      `json:"user_id"`
	Role   model.Role `json:"role"`
	middleware.TokenPair
}

// Register регистрирует пользователя и сразу выдаёт пару токенов.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body")
		return
	}

	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_body", "email and password are required")
		return
	}

	role := req.Role
	if role == "" {
		role = model.RoleCustomer
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Email, req.Password, role)
	if err != nil {
		h.writeServiceError(w, r, err, "register user")
		return
	}

	h.issueTokens(w, model.Actor{UserID: userID, Role: role})
}

// Login выполняет аутентификацию пользователя и выдаёт пару токенов.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body")
		return
	}

	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_body", "email and password are required")
		return
	}

	user, err := h.service.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) || errors.Is(err, repository.ErrUserNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", http.StatusText(http.StatusInternalServerError))
		return
	}

	h.issueTokens(w, model.Actor{UserID: user.ID, Role: user.Role})
}

// Refresh обменивает refresh-токен на новую пару. Роль перечитывается из хранилища.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req, false); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_body", "refresh_token is required")
		return
	}

	_, actor, err := h.authMiddleware.Refresh(req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "invalid or expired refresh token")
		return
	}

	user, err := h.service.GetUser(r.Context(), actor.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid_token", "user no longer exists")
			return
		}
		h.logger.Error("refresh token error", zap.Error(err), zap.Int64("userID", actor.UserID))
		writeError(w, http.StatusInternalServerError, "internal_error", http.StatusText(http.StatusInternalServerError))
		return
	}

	h.issueTokens(w, model.Actor{UserID: user.ID, Role: user.Role})
}

func (h *Handler) issueTokens(w http.ResponseWriter, actor model.Actor) {
	pair, err := h.authMiddleware.IssueTokens(actor)
	if err != nil {
		h.logger.Error("issue tokens error", zap.Error(err), zap.Int64("userID", actor.UserID))
		writeError(w, http.StatusInternalServerError, "internal_error", http.StatusText(http.StatusInternalServerError))
		return
	}
	writeJSON(w, http.StatusOK, authResponse{UserID: actor.UserID, Role: actor.Role, TokenPair: pair})
}

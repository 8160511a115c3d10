package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/wolfman30/loan-sales-assistant/internal/auth"
	"github.com/wolfman30/loan-sales-assistant/internal/http/middleware"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

// Accounts is implemented by *auth.Service.
type Accounts interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.Token, error)
	Login(ctx context.Context, email, password string) (*auth.Token, error)
	User(ctx context.Context, id string) (*auth.User, error)
}

type AuthHandler struct {
	accounts Accounts
	logger   *logging.Logger
}

func NewAuthHandler(accounts Accounts, logger *logging.Logger) *AuthHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AuthHandler{accounts: accounts, logger: logger}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	tok, err := h.accounts.Register(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, tok)
	case errors.Is(err, auth.ErrEmailTaken):
		writeError(w, http.StatusConflict, "email already registered")
	case errors.Is(err, auth.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("registration failed", "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
	}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	tok, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, tok)
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, auth.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
	}
}

// Me returns the signed-in user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	u, err := h.accounts.User(r.Context(), claims.UserID())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, u)
	case errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	default:
		h.logger.Error("failed to load user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load user")
	}
}

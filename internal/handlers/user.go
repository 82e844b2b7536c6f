package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/markbates/goth/gothic"

	"github.com/petermazzocco/excel-analytics/internal/auth"
	"github.com/petermazzocco/excel-analytics/internal/store"
	"github.com/petermazzocco/excel-analytics/models"
)

// ProfileStore updates a user's own profile.
type ProfileStore interface {
	UpdateUserName(ctx context.Context, id uint, name string) (*models.User, error)
}

// UserHandler serves registration, login and the caller's own account.
type UserHandler struct {
	auth     *auth.Service
	profiles ProfileStore
	logger   *slog.Logger
}

func NewUserHandler(svc *auth.Service, profiles ProfileStore, logger *slog.Logger) *UserHandler {
	return &UserHandler{auth: svc, profiles: profiles, logger: logger}
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates a password account. Any role in the body is ignored.
// POST /api/register
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req, maxJSONBody); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	_, err := h.auth.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		var verr *auth.ValidationError
		switch {
		case errors.As(err, &verr):
			writeError(w, http.StatusBadRequest, verr.Message)
		case errors.Is(err, store.ErrEmailTaken):
			writeError(w, http.StatusBadRequest, "User already exists")
		default:
			h.logger.Error("registration failed", "error", err)
			writeError(w, http.StatusInternalServerError, "Registration failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "User registered successfully",
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges credentials for a bearer token.
// POST /api/login
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req, maxJSONBody); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, _, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusBadRequest, "Invalid credentials")
			return
		}
		h.logger.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   token,
	})
}

// Protected echoes the decoded token claims.
// GET /api/protected
func (h *UserHandler) Protected(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "This is a protected route.",
		"user":    claims,
	})
}

type profileRequest struct {
	Name string `json:"name"`
}

// UpdateProfile changes the caller's display name.
// PUT /api/profile
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	var req profileRequest
	if err := decodeJSON(w, r, &req, maxJSONBody); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "Name is required")
		return
	}

	user, err := h.profiles.UpdateUserName(r.Context(), claims.UserID, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error("profile update failed", "user_id", claims.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to update profile")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    user.Public(),
	})
}

// OAuthHandler drives the Google sign-in flow through goth.
type OAuthHandler struct {
	accounts    auth.AccountStore
	tokens      *auth.Tokens
	provider    string
	frontendURL string
	logger      *slog.Logger
}

func NewOAuthHandler(accounts auth.AccountStore, tokens *auth.Tokens, provider, frontendURL string, logger *slog.Logger) *OAuthHandler {
	return &OAuthHandler{
		accounts:    accounts,
		tokens:      tokens,
		provider:    provider,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger,
	}
}

// Begin redirects to the provider's consent page.
// GET /auth/google
func (h *OAuthHandler) Begin(w http.ResponseWriter, r *http.Request) {
	gothic.BeginAuthHandler(w, h.withProvider(r))
}

// Callback completes the flow, resolves the local account and hands the
// token to the frontend in the redirect URL.
// GET /auth/google/callback
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	r = h.withProvider(r)

	gu, err := gothic.CompleteUserAuth(w, r)
	if err != nil {
		h.logger.Warn("oauth callback failed", "provider", h.provider, "error", err)
		h.fail(w, r)
		return
	}

	user, res, err := auth.ResolveOAuth(r.Context(), h.accounts, auth.Profile{
		Provider:   gu.Provider,
		ExternalID: gu.UserID,
		Email:      gu.Email,
		Name:       gu.Name,
	})
	if err != nil {
		h.logger.Error("oauth account resolution failed", "provider", h.provider, "error", err)
		h.fail(w, r)
		return
	}

	token, err := h.tokens.Issue(user)
	if err != nil {
		h.logger.Error("token issue failed", "user_id", user.ID, "error", err)
		h.fail(w, r)
		return
	}

	h.logger.Info("oauth login", "user_id", user.ID, "resolution", res.String())
	http.Redirect(w, r, h.frontendURL+"/dashboard?token="+url.QueryEscape(token), http.StatusTemporaryRedirect)
}

// Logout clears the provider session cookie.
// POST /auth/logout
func (h *OAuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := gothic.Logout(w, h.withProvider(r)); err != nil {
		h.logger.Warn("oauth logout failed", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Logged out",
	})
}

func (h *OAuthHandler) fail(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.frontendURL+"/login?error=oauth_failed", http.StatusTemporaryRedirect)
}

// withProvider tells gothic which provider the request is for.
func (h *OAuthHandler) withProvider(r *http.Request) *http.Request {
	r2 := r.Clone(r.Context())
	q := r2.URL.Query()
	q.Set("provider", h.provider)
	r2.URL.RawQuery = q.Encode()
	return r2
}

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/petermazzocco/excel-analytics/internal/stats"
	"github.com/petermazzocco/excel-analytics/internal/store"
	"github.com/petermazzocco/excel-analytics/models"
)

const analyticsMonths = 6

// AdminStore is the storage behind the admin dashboard.
type AdminStore interface {
	ListUsers(ctx context.Context) ([]models.User, error)
	SetUserRole(ctx context.Context, id uint, role models.Role) (*models.User, error)
	DeleteUser(ctx context.Context, id uint) error
	UploadsPerMonth(ctx context.Context, months int, now time.Time) ([]store.MonthCount, error)
}

// StatsSource computes the dashboard counters.
type StatsSource interface {
	Snapshot(ctx context.Context) (stats.Stats, error)
}

// AdminHandler serves the admin-only dashboard API.
type AdminHandler struct {
	store  AdminStore
	stats  StatsSource
	logger *slog.Logger
	now    func() time.Time
}

func NewAdminHandler(s AdminStore, src StatsSource, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{store: s, stats: src, logger: logger, now: time.Now}
}

// ListUsers returns every user, newest first.
// GET /api/dashboard/users
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		h.logger.Error("failed to list users", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch users")
		return
	}

	views := make([]models.UserView, len(users))
	for i := range users {
		views[i] = users[i].Public()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"users":   views,
	})
}

type roleRequest struct {
	Role models.Role `json:"role"`
}

// SetRole changes a user's role.
// PUT /api/dashboard/users/{id}/role
func (h *AdminHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	var req roleRequest
	if err := decodeJSON(w, r, &req, maxJSONBody); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !req.Role.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid role")
		return
	}

	user, err := h.store.SetUserRole(r.Context(), id, req.Role)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error("failed to update role", "user_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to update role")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    user.Public(),
	})
}

// DeleteUser removes another user's account.
// DELETE /api/dashboard/users/{id}
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}
	if id == claims.UserID {
		writeError(w, http.StatusBadRequest, "You cannot delete your own account")
		return
	}

	if err := h.store.DeleteUser(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error("failed to delete user", "user_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to delete user")
		return
	}

	h.logger.Info("user deleted by admin", "user_id", id, "admin_id", claims.UserID)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "User deleted successfully",
	})
}

// Stats returns the live counters.
// GET /api/dashboard/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	s, err := h.stats.Snapshot(r.Context())
	if err != nil {
		h.logger.Error("failed to compute stats", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"stats":   s,
	})
}

// Analytics returns uploads per month for the trailing six months.
// GET /api/dashboard/analytics
func (h *AdminHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.UploadsPerMonth(r.Context(), analyticsMonths, h.now())
	if err != nil {
		h.logger.Error("failed to compute analytics", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch analytics")
		return
	}

	labels := make([]string, len(counts))
	dataset := make([]int, len(counts))
	for i, c := range counts {
		labels[i] = c.Month.Format("Jan 2006")
		dataset[i] = c.Count
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"labels":  labels,
		"dataset": dataset,
	})
}

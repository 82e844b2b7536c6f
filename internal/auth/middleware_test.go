package auth

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/petermazzocco/excel-analytics/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		if claims == nil {
			t.Error("expected claims in context")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestVerify(t *testing.T) {
	t.Parallel()

	tokens := NewTokens("test-secret", time.Hour)
	valid, _ := tokens.Issue(&models.User{ID: 3, Name: "Grace", Role: models.RoleUser})

	expiredIssuer := NewTokens("test-secret", time.Minute)
	expiredIssuer.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, _ := expiredIssuer.Issue(&models.User{ID: 3, Name: "Grace", Role: models.RoleUser})

	forged, _ := NewTokens("other-secret", time.Hour).Issue(&models.User{ID: 3, Role: models.RoleAdmin})

	tests := []struct {
		name       string
		header     string
		query      string
		wantStatus int
		wantMsg    string
	}{
		{name: "missing", wantStatus: http.StatusUnauthorized, wantMsg: "No token provided"},
		{name: "wrong scheme", header: "Basic abc", wantStatus: http.StatusUnauthorized, wantMsg: "No token provided"},
		{name: "malformed", header: "Bearer garbage", wantStatus: http.StatusUnauthorized, wantMsg: "Malformed token"},
		{name: "bad signature", header: "Bearer " + forged, wantStatus: http.StatusForbidden, wantMsg: "Invalid token"},
		{name: "expired", header: "Bearer " + expired, wantStatus: http.StatusForbidden, wantMsg: "Invalid token"},
		{name: "valid header", header: "Bearer " + valid, wantStatus: http.StatusOK},
		{name: "valid query", query: "?token=" + valid, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := Verify(tokens, discardLogger())(okHandler(t))
			req := httptest.NewRequest(http.MethodGet, "/api/protected"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantMsg == "" {
				return
			}
			var body struct {
				Success bool   `json:"success"`
				Message string `json:"message"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Success || body.Message != tt.wantMsg {
				t.Errorf("body = %+v, want message %q", body, tt.wantMsg)
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	t.Parallel()

	tokens := NewTokens("test-secret", time.Hour)
	userToken, _ := tokens.Issue(&models.User{ID: 1, Name: "U", Role: models.RoleUser})
	adminToken, _ := tokens.Issue(&models.User{ID: 2, Name: "A", Role: models.RoleAdmin})

	h := Verify(tokens, discardLogger())(RequireAdmin(okHandler(t)))

	for _, tc := range []struct {
		token string
		want  int
	}{
		{userToken, http.StatusForbidden},
		{adminToken, http.StatusOK},
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/dashboard/users", nil)
		req.Header.Set("Authorization", "Bearer "+tc.token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("status = %d, want %d", rec.Code, tc.want)
		}
	}

	rec := httptest.NewRecorder()
	RequireAdmin(okHandler(t)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("without Verify: status = %d, want 401", rec.Code)
	}
}

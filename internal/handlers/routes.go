package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	gorillahandlers "github.com/gorilla/handlers"

	"github.com/petermazzocco/excel-analytics/internal/auth"
)

// Routes holds everything the router mounts. OAuth and Socket may be nil.
type Routes struct {
	Logger             *slog.Logger
	Tokens             *auth.Tokens
	FrontendURL        string
	RateLimitPerMinute int

	Users    *UserHandler
	OAuth    *OAuthHandler
	Uploads  *UploadHandler
	Admin    *AdminHandler
	Insights *InsightsHandler
	Health   *HealthHandler
	Socket   http.Handler
}

// NewRouter builds the HTTP API.
func NewRouter(rt Routes) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(rt.Logger))
	r.Use(middleware.Recoverer)
	r.Use(gorillahandlers.CORS(
		gorillahandlers.AllowedOrigins([]string{rt.FrontendURL}),
		gorillahandlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		gorillahandlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
		gorillahandlers.AllowCredentials(),
	))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	verify := auth.Verify(rt.Tokens, rt.Logger)

	r.Get("/readyz", rt.Health.Readyz)

	if rt.OAuth != nil {
		r.Get("/auth/google", rt.OAuth.Begin)
		r.Get("/auth/google/callback", rt.OAuth.Callback)
		r.Post("/auth/logout", rt.OAuth.Logout)
	}

	if rt.Socket != nil {
		r.With(verify, auth.RequireAdmin).Get("/ws", rt.Socket.ServeHTTP)
	}

	r.Route("/api", func(r chi.Router) {
		if rt.RateLimitPerMinute > 0 {
			r.Use(httprate.Limit(
				rt.RateLimitPerMinute,
				time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP, httprate.KeyByEndpoint),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					writeError(w, http.StatusTooManyRequests, "Too many requests")
				}),
			))
		}

		r.Get("/health", rt.Health.Health)
		r.Post("/register", rt.Users.Register)
		r.Post("/login", rt.Users.Login)

		r.Group(func(r chi.Router) {
			r.Use(verify)

			r.Get("/protected", rt.Users.Protected)
			r.Put("/profile", rt.Users.UpdateProfile)

			r.Post("/upload", rt.Uploads.Upload)
			r.Get("/upload-history", rt.Uploads.History)
			r.Delete("/upload-history/all", rt.Uploads.DeleteAll)
			r.Delete("/upload-history/{id}", rt.Uploads.Delete)
			r.Get("/upload-history/{id}/export", rt.Uploads.Export)

			r.Post("/summarize", rt.Insights.Summarize)
			r.Post("/data/relationships", rt.Insights.Relationships)
			r.Post("/predict", rt.Insights.Predict)

			r.Route("/dashboard", func(r chi.Router) {
				r.Use(auth.RequireAdmin)
				r.Get("/users", rt.Admin.ListUsers)
				r.Put("/users/{id}/role", rt.Admin.SetRole)
				r.Delete("/users/{id}", rt.Admin.DeleteUser)
				r.Get("/stats", rt.Admin.Stats)
				r.Get("/analytics", rt.Admin.Analytics)
			})
		})
	})

	return r
}

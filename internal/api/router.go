package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/deepdrill-ai/deepdrill/internal/api/middleware"
	"github.com/deepdrill-ai/deepdrill/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler        http.HandlerFunc
	StartAnalysisHandler http.HandlerFunc
	ListReportsHandler   http.HandlerFunc
	GetReportHandler     http.HandlerFunc
	DeleteReportHandler  http.HandlerFunc
	DownloadHandler      http.HandlerFunc
	BalanceHandler       http.HandlerFunc
	CreateKeyHandler     http.HandlerFunc
	ListKeysHandler      http.HandlerFunc
	RevokeKeyHandler     http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/deep-analysis", orNotImplemented(deps.StartAnalysisHandler))

		r.Get("/api/v1/reports", orNotImplemented(deps.ListReportsHandler))
		r.Get("/api/v1/reports/{reportID}", orNotImplemented(deps.GetReportHandler))
		r.Delete("/api/v1/reports/{reportID}", orNotImplemented(deps.DeleteReportHandler))
		r.Post("/api/v1/reports/{reportID}/download", orNotImplemented(deps.DownloadHandler))

		r.Get("/api/v1/credits/balance", orNotImplemented(deps.BalanceHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireAdmin)

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}

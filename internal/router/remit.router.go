package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	hrest "remit-service/internal/handler/rest"
	"remit-service/internal/middleware"
)

func SetupRoutes(
	r chi.Router,
	transfers *hrest.TransferRestHandler,
	schedules *hrest.ScheduleRestHandler,
	auth *middleware.AuthMiddleware,
) chi.Router {
	// ---- Global Middleware ----
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false, // must be false when using "*"
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// ============================================================
	// Protected Endpoints (require auth)
	// ============================================================
	r.Group(func(pr chi.Router) {
		pr.Use(auth.Require)

		// Transfer flow
		pr.Post("/api/transfers/attempt", transfers.Attempt)
		pr.Post("/api/transfers/confirm", transfers.Confirm)
		pr.Get("/api/transfers", transfers.ListTransfers)
		pr.Get("/api/transfers/{id}", transfers.GetTransfer)
		pr.Post("/api/transfers/{id}/reverse", transfers.Reverse)
		pr.Post("/api/otp/issue", transfers.IssueOTP)

		// Schedule flow
		pr.Post("/api/schedules", schedules.Create)
		pr.Get("/api/schedules", schedules.List)
		pr.Get("/api/schedules/{id}", schedules.Get)
		pr.Post("/api/schedules/{id}/pause", schedules.Pause)
		pr.Post("/api/schedules/{id}/resume", schedules.Resume)
		pr.Post("/api/schedules/{id}/cancel", schedules.Cancel)
		pr.Get("/api/schedules/{id}/runs", schedules.ListRuns)
	})

	return r
}

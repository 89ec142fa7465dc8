package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		r.Get("/quota", apiHandler.QuotaHandler)
		r.Post("/quota/reset", apiHandler.ResetQuotaHandler)

		r.Get("/subscription", apiHandler.SubscriptionHandler)
		r.Post("/subscription", apiHandler.PurchaseHandler)
		r.Delete("/subscription", apiHandler.CancelSubscriptionHandler)

		r.Get("/models", apiHandler.ListModelsHandler)
		r.Put("/models/selected", apiHandler.SelectModelHandler)

		r.Post("/messages", apiHandler.PostMessageHandler)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", apiHandler.ListSessionsHandler)
			r.Post("/", apiHandler.CreateSessionHandler)
			r.Delete("/", apiHandler.ClearSessionsHandler)

			r.Get("/current", apiHandler.GetCurrentSessionHandler)
			r.Put("/current", apiHandler.SetCurrentSessionHandler)

			r.Get("/{sessionID}", apiHandler.GetSessionHandler)
			r.Delete("/{sessionID}", apiHandler.DeleteSessionHandler)
			r.Put("/{sessionID}/title", apiHandler.UpdateTitleHandler)
			r.Post("/{sessionID}/messages", apiHandler.PostMessageHandler)
		})
	})

	return r
}

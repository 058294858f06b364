package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates the control API router. The surface binds to loopback
// by default, so there is no auth layer here.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Post("/sync", h.TriggerSync)

		r.Post("/transactions", h.RecordTransaction)
		r.Get("/transactions", h.ListTransactions)
		r.Delete("/transactions/synced", h.PruneSynced)
		r.Get("/transactions/{clientTransactionID}", h.GetTransaction)

		r.Get("/products", h.ListProducts)
		r.Post("/products", h.CreateProduct)
		r.Put("/products/{id}", h.UpdateProduct)
		r.Delete("/products/{id}", h.DeleteProduct)

		r.Get("/categories", h.ListCategories)
		r.Post("/categories", h.CreateCategory)
		r.Put("/categories/{id}", h.UpdateCategory)
		r.Delete("/categories/{id}", h.DeleteCategory)
	})

	return r
}

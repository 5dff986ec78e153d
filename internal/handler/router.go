package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/wetwo/commission-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса комиссий.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Route("/admin", func(r chi.Router) {
			r.Use(h.adminAuth.Middleware)

			r.Post("/vendors/tier", h.UpdateVendorTier)
			r.Get("/vendors", h.ListVendors)
		})

		r.Post("/webhooks/order", h.OrderWebhook)
		r.Post("/webhooks/affiliate-sale", h.AffiliateSaleWebhook)

		r.Get("/vendor/sponsor-status", h.SponsorStatus)
		r.Get("/couples/referral", h.CoupleReferral)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}

package orders

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers order routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.show)
	r.Put("/{id}", h.update)
	r.Post("/{id}/pay", h.pay)
	r.Post("/{id}/cancel", h.cancel)
}

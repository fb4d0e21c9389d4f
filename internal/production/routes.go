package production

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers production order routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/candidates", h.candidates)
	r.Get("/{id}", h.show)
	r.Put("/{id}", h.update)
	r.Post("/{id}/produce", h.produce)
	r.Post("/{id}/cancel", h.cancel)
}

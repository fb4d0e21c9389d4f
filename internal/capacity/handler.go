package capacity

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/delicrem-erp/delicrem-erp/internal/platform/httpx"
	"github.com/delicrem-erp/delicrem-erp/internal/shared"
)

// Handler exposes read-only capacity figures.
type Handler struct {
	logger *slog.Logger
	ledger *Ledger
}

// NewHandler creates a new handler.
func NewHandler(logger *slog.Logger, ledger *Ledger) *Handler {
	return &Handler{logger: logger, ledger: ledger}
}

// MountRoutes registers capacity routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.forDate)
	r.Get("/production", h.forProduction)
}

type dateResponse struct {
	Date      string `json:"date"`
	Ceiling   int64  `json:"ceiling"`
	Committed int64  `json:"committed"`
	Remaining int64  `json:"remaining"`
}

type productionResponse struct {
	Ceiling   int64 `json:"ceiling"`
	Committed int64 `json:"committed"`
	Remaining int64 `json:"remaining"`
}

func (h *Handler) forDate(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		httpx.RespondError(w, shared.NewValidationError("date query parameter is required"))
		return
	}
	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		httpx.RespondError(w, shared.NewValidationError("unparseable date %q", raw))
		return
	}

	snap, err := h.ledger.RemainingForDate(r.Context(), date, Exclude{})
	if err != nil {
		h.logger.Error("capacity lookup failed", slog.String("date", raw), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, dateResponse{
		Date:      date.Format("2006-01-02"),
		Ceiling:   snap.Ceiling,
		Committed: snap.Committed,
		Remaining: snap.Remaining,
	})
}

func (h *Handler) forProduction(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ledger.RemainingForProduction(r.Context(), Exclude{})
	if err != nil {
		h.logger.Error("production capacity lookup failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, productionResponse{
		Ceiling:   snap.Ceiling,
		Committed: snap.Committed,
		Remaining: snap.Remaining,
	})
}

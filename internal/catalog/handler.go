package catalog

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mercurio-erp/mercurio-erp/internal/platform/httpx"
)

// AdminPort is the slice of the repository the admin endpoints need.
type AdminPort interface {
	GetRawMaterial(ctx context.Context, id int64) (RawMaterial, error)
	DeactivateRawMaterial(ctx context.Context, id int64) error
}

// Handler exposes catalog administration endpoints.
type Handler struct {
	repo   AdminPort
	logger *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(repo AdminPort, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// MountRoutes attaches catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{id}", h.get)
	r.Delete("/{id}", h.deactivate)
}

type materialResponse struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	NormalizedName string    `json:"normalized_name"`
	UnitCode       string    `json:"unit_code,omitempty"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	material, err := h.repo.GetRawMaterial(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no raw material with that id")
		return
	}
	if err != nil {
		h.logger.Error("get raw material", slog.Int64("id", id), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "could not load raw material")
		return
	}
	httpx.JSON(w, http.StatusOK, materialResponse{
		ID:             material.ID,
		Name:           material.Name,
		NormalizedName: material.NormalizedName,
		UnitCode:       material.UnitCode,
		IsActive:       material.IsActive,
		CreatedAt:      material.CreatedAt,
		UpdatedAt:      material.UpdatedAt,
	})
}

// deactivate soft-deletes a raw material. Its price history stays readable;
// only resolution and future sweeps stop considering it.
func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	err = h.repo.DeactivateRawMaterial(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no raw material with that id")
		return
	}
	if err != nil {
		h.logger.Error("deactivate raw material", slog.Int64("id", id), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "could not deactivate raw material")
		return
	}
	h.logger.Info("raw material deactivated", slog.Int64("id", id))
	w.WriteHeader(http.StatusNoContent)
}

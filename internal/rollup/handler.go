package rollup

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/mercurio-erp/mercurio-erp/internal/catalog"
	"github.com/mercurio-erp/mercurio-erp/internal/platform/httpx"
)

// AdminPort is the slice of the repository the recipe endpoints need.
type AdminPort interface {
	RegisterFinishedProduct(ctx context.Context, name, normalizedName, unitCode string) (int64, error)
	ReplaceComponents(ctx context.Context, productID int64, components []Component) error
	ListComponents(ctx context.Context, productID int64) ([]Component, error)
}

// Handler exposes finished-product and recipe administration endpoints.
type Handler struct {
	repo   AdminPort
	logger *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(repo AdminPort, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// MountRoutes attaches product and recipe routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.register)
	r.Get("/{id}/components", h.listComponents)
	r.Put("/{id}/components", h.replaceComponents)
}

type registerRequest struct {
	Name     string `json:"name"`
	UnitCode string `json:"unit_code"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Payload", err.Error())
		return
	}
	normalized := catalog.Normalize(req.Name)
	if normalized == "" {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Payload", "name is required")
		return
	}
	if req.UnitCode == "" {
		req.UnitCode = "UN"
	}
	id, err := h.repo.RegisterFinishedProduct(r.Context(), req.Name, normalized, req.UnitCode)
	if err != nil {
		h.logger.Error("register product", slog.String("name", req.Name), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "could not register product")
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]int64{"id": id})
}

type componentRequest struct {
	RawMaterialID int64  `json:"raw_material_id"`
	Quantity      string `json:"quantity"`
	UnitCode      string `json:"unit_code"`
}

type componentResponse struct {
	RawMaterialID   int64  `json:"raw_material_id"`
	RawMaterialName string `json:"raw_material_name,omitempty"`
	Quantity        string `json:"quantity"`
	UnitCode        string `json:"unit_code"`
}

func (h *Handler) listComponents(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	components, err := h.repo.ListComponents(r.Context(), productID)
	if err != nil {
		h.logger.Error("list components", slog.Int64("product_id", productID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "could not load recipe")
		return
	}
	out := make([]componentResponse, 0, len(components))
	for _, component := range components {
		out = append(out, componentResponse{
			RawMaterialID:   component.RawMaterialID,
			RawMaterialName: component.RawMaterialName,
			Quantity:        component.Quantity.String(),
			UnitCode:        component.UnitCode,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string][]componentResponse{"components": out})
}

func (h *Handler) replaceComponents(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var req []componentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Payload", err.Error())
		return
	}
	components := make([]Component, 0, len(req))
	for _, line := range req {
		quantity, err := decimal.NewFromString(line.Quantity)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Malformed Payload", "quantity: "+err.Error())
			return
		}
		component := Component{
			ProductID:     productID,
			RawMaterialID: line.RawMaterialID,
			Quantity:      quantity,
			UnitCode:      line.UnitCode,
		}
		if err := component.Validate(); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Recipe", err.Error())
			return
		}
		components = append(components, component)
	}
	if err := h.repo.ReplaceComponents(r.Context(), productID, components); err != nil {
		h.logger.Error("replace components", slog.Int64("product_id", productID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "could not store recipe")
		return
	}
	h.logger.Info("recipe replaced", slog.Int64("product_id", productID), slog.Int("components", len(components)))
	w.WriteHeader(http.StatusNoContent)
}

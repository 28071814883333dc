package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"chat_gateway/internal/catalog"
	"chat_gateway/internal/providers"
	"chat_gateway/internal/storage"
	"chat_gateway/internal/utils"
)

const modelsCacheKey = "openrouter:models"

// CatalogHandler serves the static model catalog and the upstream model list
type CatalogHandler struct {
	catalog *catalog.Catalog
	lister  providers.ModelLister
	cache   *storage.LRUCache[[]providers.RemoteModel]
	logger  *utils.Logger
}

// NewCatalogHandler creates a new catalog handler. lister and cache may be nil.
func NewCatalogHandler(cat *catalog.Catalog, lister providers.ModelLister, cache *storage.LRUCache[[]providers.RemoteModel], logger *utils.Logger) *CatalogHandler {
	return &CatalogHandler{
		catalog: cat,
		lister:  lister,
		cache:   cache,
		logger:  logger,
	}
}

// CatalogResponse lists catalog models with the category order used for fallback
type CatalogResponse struct {
	Models     []catalog.ModelDescriptor `json:"models"`
	Categories []catalog.Category        `json:"categories"`
}

// Catalog handles GET /catalog?q=&category=
func (h *CatalogHandler) Catalog(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	cat := catalog.Category(strings.ToLower(strings.TrimSpace(query.Get("category"))))

	if cat != "" && !h.knownCategory(cat) {
		utils.RespondWithError(w, http.StatusBadRequest, "Unknown category")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, CatalogResponse{
		Models:     h.catalog.Search(query.Get("q"), cat),
		Categories: h.catalog.Categories(),
	})
}

func (h *CatalogHandler) knownCategory(cat catalog.Category) bool {
	for _, c := range h.catalog.Categories() {
		if c == cat {
			return true
		}
	}
	return false
}

// Models handles GET /models, proxying the upstream model list
func (h *CatalogHandler) Models(w http.ResponseWriter, r *http.Request) {
	if h.cache != nil {
		if list, ok := h.cache.Get(modelsCacheKey); ok {
			utils.RespondWithJSON(w, http.StatusOK, map[string]any{"data": list})
			return
		}
	}

	if h.lister == nil {
		h.logger.Error("Failed to fetch models", "error", providers.ErrMissingCredentials)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to fetch models")
		return
	}

	list, err := h.lister.ListModels(r.Context())
	if err != nil {
		var upstreamErr *providers.UpstreamError
		if errors.As(err, &upstreamErr) {
			h.logger.Error("Failed to fetch models", "status", upstreamErr.StatusCode, "error", err)
		} else {
			h.logger.Error("Failed to fetch models", "error", err)
		}
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to fetch models")
		return
	}

	if h.cache != nil {
		h.cache.Set(modelsCacheKey, list)
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]any{"data": list})
}

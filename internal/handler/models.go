package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/localchat/internal/llm"
	"github.com/capitalize-ai/localchat/pkg/logger"
)

// ModelHandler lists the models offered by the inference backend.
type ModelHandler struct {
	catalog *llm.Catalog
	logger  *logger.Logger
}

// NewModelHandler creates a new model handler.
func NewModelHandler(catalog *llm.Catalog, log *logger.Logger) *ModelHandler {
	return &ModelHandler{catalog: catalog, logger: log}
}

// List handles GET /api/v1/models. ?refresh=true bypasses the cache.
func (h *ModelHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "true" {
		h.catalog.Invalidate()
	}

	models, err := h.catalog.Models(r.Context())
	if err != nil {
		h.logger.Warn("failed to list models", zap.Error(err))
		writeError(w, http.StatusBadGateway, "inference backend unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string][]string{"models": models})
}

package handlers

import (
	"net/http"

	"github.com/matheuslanduci/vrdeploy/internal/models"
)

// ListVersionsResponse represents the paginated version listing.
type ListVersionsResponse struct {
	Data []models.Version `json:"data"`
	Meta PageMeta         `json:"meta"`
}

// ListVersions returns a page of published versions.
func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)

	versions, total, err := h.db.ListVersions(r.Context(), page, pageSize)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list versions")
		h.Error(w, http.StatusInternalServerError, "failed to list versions")
		return
	}

	h.JSON(w, http.StatusOK, ListVersionsResponse{
		Data: versions,
		Meta: pageMeta(page, pageSize, total),
	})
}

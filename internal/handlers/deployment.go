package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/matheuslanduci/vrdeploy/internal/metrics"
	"github.com/matheuslanduci/vrdeploy/internal/models"
	"github.com/matheuslanduci/vrdeploy/internal/pubsub"
	"github.com/matheuslanduci/vrdeploy/internal/store"
)

// CreateDeploymentRequest represents the deployment creation body.
type CreateDeploymentRequest struct {
	IDVersion int64   `json:"idVersao"`
	AgentIDs  []int64 `json:"agentes"`
}

// DeploymentNotice is pushed to each online agent when a deployment targets
// it. The URL is a presigned artifact download valid for a limited time.
type DeploymentNotice struct {
	ID       int64           `json:"idImplantacao"`
	URL      string          `json:"url"`
	Manifest models.Manifest `json:"manifest"`
}

// CreateDeployment creates a deployment targeting a set of agents and
// notifies every agent that is currently online.
func (h *Handler) CreateDeployment(w http.ResponseWriter, r *http.Request) {
	var req CreateDeploymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.AgentIDs) == 0 {
		h.Error(w, http.StatusBadRequest, "agentes must not be empty")
		return
	}
	agentIDs := dedupeIDs(req.AgentIDs)

	version, err := h.db.GetVersionByID(r.Context(), req.IDVersion)
	if errors.Is(err, store.ErrNotFound) {
		h.Error(w, http.StatusNotFound, "version not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to get version")
		h.Error(w, http.StatusInternalServerError, "failed to get version")
		return
	}

	agents, err := h.db.ListAgentsByIDs(r.Context(), agentIDs)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list agents")
		h.Error(w, http.StatusInternalServerError, "failed to list agents")
		return
	}
	if len(agents) != len(agentIDs) {
		h.Error(w, http.StatusBadRequest, "one or more agents do not exist")
		return
	}

	deployment, err := h.db.CreateDeployment(r.Context(), req.IDVersion, agentIDs)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to create deployment")
		h.Error(w, http.StatusInternalServerError, "failed to create deployment")
		return
	}

	metrics.DeploymentsCreated.Inc()

	// Offline agents are skipped. They pick the deployment up when they
	// reconnect and reconcile.
	for _, agent := range agents {
		if !h.presence.IsAgentOnline(r.Context(), agent.ID) {
			continue
		}
		h.notifyAgent(r, agent.ID, deployment.ID, version)
	}

	h.JSON(w, http.StatusCreated, deployment)
}

// dedupeIDs drops repeated ids, keeping first-seen order.
func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (h *Handler) notifyAgent(r *http.Request, agentID, deploymentID int64, version *models.Version) {
	url, err := h.signer.PresignDownload(r.Context(), version.StorageKey)
	if err != nil {
		h.logger.Error().Err(err).Int64("agent", agentID).Msg("failed to presign artifact")
		return
	}

	payload, err := json.Marshal(DeploymentNotice{
		ID:       deploymentID,
		URL:      url,
		Manifest: version.Manifest,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal deployment notice")
		return
	}

	topic := pubsub.AgentChannel(agentID, pubsub.EventDeploymentCreated)
	if err := h.bus.Publish(r.Context(), topic, string(payload)); err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("failed to publish deployment")
		return
	}
	metrics.BusPublishes.WithLabelValues(pubsub.EventDeploymentCreated).Inc()
}

// ListDeploymentsResponse represents the paginated deployment listing.
type ListDeploymentsResponse struct {
	Data []models.Deployment `json:"data"`
	Meta PageMeta            `json:"meta"`
}

// ListDeployments returns a page of deployments with their versions.
func (h *Handler) ListDeployments(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)

	deployments, total, err := h.db.ListDeployments(r.Context(), page, pageSize)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list deployments")
		h.Error(w, http.StatusInternalServerError, "failed to list deployments")
		return
	}

	h.JSON(w, http.StatusOK, ListDeploymentsResponse{
		Data: deployments,
		Meta: pageMeta(page, pageSize, total),
	})
}

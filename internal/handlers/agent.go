package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/matheuslanduci/vrdeploy/internal/crypto"
	"github.com/matheuslanduci/vrdeploy/internal/metrics"
	"github.com/matheuslanduci/vrdeploy/internal/models"
	"github.com/matheuslanduci/vrdeploy/internal/pubsub"
	"github.com/matheuslanduci/vrdeploy/internal/store"
)

// RegisterAgentRequest represents the agent registration request body.
type RegisterAgentRequest struct {
	MACAddress string `json:"enderecoMac"`
	OS         string `json:"sistemaOperacional"`
}

// RegisterAgent handles agent self-registration. The agent is created in the
// pending state and must be approved before it can connect.
func (h *Handler) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req RegisterAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if !macRegex.MatchString(req.MACAddress) {
		h.Error(w, http.StatusBadRequest, "enderecoMac must be a valid MAC address")
		return
	}
	if req.OS == "" {
		h.Error(w, http.StatusBadRequest, "sistemaOperacional is required")
		return
	}

	secretKey, err := crypto.NewSecretKey()
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to generate secret key")
		h.Error(w, http.StatusInternalServerError, "failed to create agent")
		return
	}

	agent, err := h.db.CreateAgent(r.Context(), req.MACAddress, req.OS, secretKey)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to create agent")
		h.Error(w, http.StatusInternalServerError, "failed to create agent")
		return
	}

	metrics.AgentsRegistered.Inc()

	// The secret key is returned once, at registration.
	h.JSON(w, http.StatusCreated, agent)
}

// AgentResponse wraps an agent with its live presence state.
type AgentResponse struct {
	models.Agent
	Online bool `json:"online"`
}

// ListAgentsResponse represents the paginated agent listing.
type ListAgentsResponse struct {
	Data []AgentResponse `json:"data"`
	Meta PageMeta        `json:"meta"`
}

// ListAgents returns a page of agents with presence annotations.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)

	agents, total, err := h.db.ListAgents(r.Context(), page, pageSize)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list agents")
		h.Error(w, http.StatusInternalServerError, "failed to list agents")
		return
	}

	data := make([]AgentResponse, 0, len(agents))
	for _, agent := range agents {
		data = append(data, AgentResponse{
			Agent:  agent.Public(),
			Online: h.presence.IsAgentOnline(r.Context(), agent.ID),
		})
	}

	h.JSON(w, http.StatusOK, ListAgentsResponse{
		Data: data,
		Meta: pageMeta(page, pageSize, total),
	})
}

// GetAgent returns a single agent with its presence state.
func (h *Handler) GetAgent(w http.ResponseWriter, r *http.Request) {
	id, err := agentIDParam(r)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid agent id")
		return
	}

	agent, err := h.db.GetAgentByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		h.Error(w, http.StatusNotFound, "agent not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to get agent")
		h.Error(w, http.StatusInternalServerError, "failed to get agent")
		return
	}

	h.JSON(w, http.StatusOK, AgentResponse{
		Agent:  agent.Public(),
		Online: h.presence.IsAgentOnline(r.Context(), agent.ID),
	})
}

// EvaluateAgentRequest represents the approval decision body.
type EvaluateAgentRequest struct {
	Status string `json:"situacao"`
}

// EvaluateAgent approves or rejects a pending agent. The decision is pushed
// to the agent over its event channel so a connected agent learns its fate
// without polling.
func (h *Handler) EvaluateAgent(w http.ResponseWriter, r *http.Request) {
	id, err := agentIDParam(r)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid agent id")
		return
	}

	var req EvaluateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Status != models.AgentApproved && req.Status != models.AgentRejected {
		h.Error(w, http.StatusBadRequest, "situacao must be aprovado or rejeitado")
		return
	}

	agent, err := h.db.GetAgentByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		h.Error(w, http.StatusNotFound, "agent not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to get agent")
		h.Error(w, http.StatusInternalServerError, "failed to get agent")
		return
	}

	if agent.Status != models.AgentPending {
		h.Error(w, http.StatusConflict, "agent already evaluated")
		return
	}

	updated, err := h.db.UpdateAgentStatus(r.Context(), id, req.Status)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to update agent")
		h.Error(w, http.StatusInternalServerError, "failed to update agent")
		return
	}

	h.publishAgentUpdated(r, updated)

	h.JSON(w, http.StatusOK, updated.Public())
}

// DeleteAgent soft-deletes a rejected agent.
func (h *Handler) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	id, err := agentIDParam(r)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid agent id")
		return
	}

	agent, err := h.db.GetAgentByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		h.Error(w, http.StatusNotFound, "agent not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to get agent")
		h.Error(w, http.StatusInternalServerError, "failed to get agent")
		return
	}

	if agent.Status != models.AgentRejected {
		h.Error(w, http.StatusConflict, "only rejected agents can be deleted")
		return
	}

	if err := h.db.SoftDeleteAgent(r.Context(), id); err != nil {
		h.logger.Error().Err(err).Msg("failed to delete agent")
		h.Error(w, http.StatusInternalServerError, "failed to delete agent")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// publishAgentUpdated pushes the agent snapshot to its update channel. A
// publish failure is logged, not surfaced: the agent reconciles on its next
// connect.
func (h *Handler) publishAgentUpdated(r *http.Request, agent *models.Agent) {
	payload, err := json.Marshal(agent.Public())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal agent snapshot")
		return
	}

	topic := pubsub.AgentChannel(agent.ID, pubsub.EventAgentUpdated)
	if err := h.bus.Publish(r.Context(), topic, string(payload)); err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("failed to publish agent update")
		return
	}
	metrics.BusPublishes.WithLabelValues(pubsub.EventAgentUpdated).Inc()
}

func agentIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

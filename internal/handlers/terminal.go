package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/matheuslanduci/vrdeploy/internal/api/middleware"
	"github.com/matheuslanduci/vrdeploy/internal/crypto"
	"github.com/matheuslanduci/vrdeploy/internal/metrics"
	"github.com/matheuslanduci/vrdeploy/internal/models"
	"github.com/matheuslanduci/vrdeploy/internal/pubsub"
	"github.com/matheuslanduci/vrdeploy/internal/store"
)

// StartTerminalSessionResponse carries the session id the dashboard uses to
// correlate terminal output.
type StartTerminalSessionResponse struct {
	SessionID string `json:"sessionId"`
}

// StartTerminalSession opens a remote terminal session against an approved
// agent and signals the agent to spawn a pty.
func (h *Handler) StartTerminalSession(w http.ResponseWriter, r *http.Request) {
	agentID, err := strconv.ParseInt(chi.URLParam(r, "idAgente"), 10, 64)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid agent id")
		return
	}

	agent, err := h.db.GetAgentByID(r.Context(), agentID)
	if errors.Is(err, store.ErrNotFound) {
		h.Error(w, http.StatusNotFound, "agent not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to get agent")
		h.Error(w, http.StatusInternalServerError, "failed to get agent")
		return
	}

	if agent.Status != models.AgentApproved || !agent.Active {
		h.Error(w, http.StatusConflict, "agent not approved")
		return
	}
	if !h.presence.IsAgentOnline(r.Context(), agent.ID) {
		h.Error(w, http.StatusConflict, "agent offline")
		return
	}

	sessionID, err := crypto.NewSessionID()
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to generate session id")
		h.Error(w, http.StatusInternalServerError, "failed to start session")
		return
	}
	userID := middleware.GetUserFromContext(r.Context())

	if err := h.sessions.CreateTerminalSession(r.Context(), sessionID, userID, agent.ID); err != nil {
		h.logger.Error().Err(err).Msg("failed to create terminal session")
		h.Error(w, http.StatusInternalServerError, "failed to create terminal session")
		return
	}

	payload, err := json.Marshal(map[string]int64{"idAgente": agent.ID})
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	topic := pubsub.AgentChannel(agent.ID, pubsub.EventSessionStarted)
	if err := h.bus.Publish(r.Context(), topic, string(payload)); err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("failed to publish session start")
		h.Error(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	metrics.TerminalSessionsCreated.Inc()
	metrics.BusPublishes.WithLabelValues(pubsub.EventSessionStarted).Inc()

	h.JSON(w, http.StatusCreated, StartTerminalSessionResponse{SessionID: sessionID})
}

package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/matheuslanduci/vrdeploy/internal/api/middleware"
	"github.com/matheuslanduci/vrdeploy/internal/pubsub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser origin enforcement happens at the CORS layer. Agents are not
	// browsers.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// AgentPubSub upgrades an authenticated agent connection to WebSocket and
// runs its event session until the connection drops.
func (h *Handler) AgentPubSub(w http.ResponseWriter, r *http.Request) {
	agent := middleware.GetAgentFromContext(r.Context())
	if agent == nil {
		h.Error(w, http.StatusUnauthorized, "missing agent context")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	session := pubsub.NewAgentSession(conn, agent.ID, h.bus, h.redis, h.logger)
	session.Run(r.Context())
}

// UserPubSub upgrades an authenticated dashboard connection to WebSocket and
// runs its event session until the connection drops.
func (h *Handler) UserPubSub(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserFromContext(r.Context())
	if userID == "" {
		h.Error(w, http.StatusUnauthorized, "missing user context")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	session := pubsub.NewUserSession(conn, userID, h.bus, h.redis, h.logger)
	session.Run(r.Context())
}

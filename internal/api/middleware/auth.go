package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/matheuslanduci/vrdeploy/internal/models"
	"github.com/matheuslanduci/vrdeploy/internal/store"
)

type contextKey string

const (
	AgentContextKey contextKey = "agent"
	UserContextKey  contextKey = "user"
)

// AgentTokenHeader carries the agent secret key on agent-facing endpoints.
const AgentTokenHeader = "X-Agente-Token"

// AuthMiddleware authenticates agents and dashboard users.
type AuthMiddleware struct {
	db    store.DataStore
	redis *store.RedisStore
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(db store.DataStore, redis *store.RedisStore) *AuthMiddleware {
	return &AuthMiddleware{db: db, redis: redis}
}

// RequireAgent verifies the agent token header and requires the agent to be
// approved and active.
func (m *AuthMiddleware) RequireAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(AgentTokenHeader)
		if token == "" {
			jsonError(w, http.StatusUnauthorized, "missing agent token")
			return
		}

		agent, err := m.db.GetAgentBySecretKey(r.Context(), token)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid agent token")
			return
		}

		if agent.Status != models.AgentApproved || !agent.Active {
			jsonError(w, http.StatusForbidden, "agent not approved")
			return
		}

		ctx := context.WithValue(r.Context(), AgentContextKey, agent)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireUser verifies the bearer token against the user session store.
func (m *AuthMiddleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			jsonError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		userID, err := m.redis.GetUserSession(r.Context(), token)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid session")
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetAgentFromContext retrieves the authenticated agent from the request context.
func GetAgentFromContext(ctx context.Context) *models.Agent {
	agent, ok := ctx.Value(AgentContextKey).(*models.Agent)
	if !ok {
		return nil
	}
	return agent
}

// GetUserFromContext retrieves the authenticated user id from the request context.
func GetUserFromContext(ctx context.Context) string {
	userID, ok := ctx.Value(UserContextKey).(string)
	if !ok {
		return ""
	}
	return userID
}

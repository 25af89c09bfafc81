package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/matheuslanduci/vrdeploy/internal/objstore"
	"github.com/matheuslanduci/vrdeploy/internal/pubsub"
	"github.com/matheuslanduci/vrdeploy/internal/store"
)

// macRegex validates colon-separated MAC addresses.
var macRegex = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)

// Presence answers whether an agent currently has a live connection.
type Presence interface {
	IsAgentOnline(ctx context.Context, agentID int64) bool
}

// SessionStore persists short-lived terminal session records.
type SessionStore interface {
	CreateTerminalSession(ctx context.Context, sessionID, userID string, agentID int64) error
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	db       store.DataStore
	redis    *store.RedisStore
	presence Presence
	sessions SessionStore
	bus      pubsub.Broker
	signer   objstore.Signer
	logger   zerolog.Logger
}

// NewHandler creates a new Handler with the given stores.
func NewHandler(db store.DataStore, redis *store.RedisStore, bus pubsub.Broker, signer objstore.Signer, logger zerolog.Logger) *Handler {
	return &Handler{
		db:       db,
		redis:    redis,
		presence: redis,
		sessions: redis,
		bus:      bus,
		signer:   signer,
		logger:   logger,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// PageMeta describes pagination state on list responses.
type PageMeta struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

func pageMeta(page, pageSize int, total int64) PageMeta {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return PageMeta{Page: page, PageSize: pageSize, Total: total, TotalPages: totalPages}
}

// pageParams parses page and pageSize query parameters with sane bounds.
func pageParams(r *http.Request) (int, int) {
	page := 1
	pageSize := 20

	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("pageSize")); err == nil && v > 0 && v <= 100 {
		pageSize = v
	}

	return page, pageSize
}

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/matheuslanduci/vrdeploy/internal/models"
)

func newDeploymentRouter(h *testHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Post("/implantacao", h.CreateDeployment)
	r.Get("/implantacao", h.ListDeployments)
	return r
}

func TestCreateDeploymentNotifiesOnlineAgentsOnly(t *testing.T) {
	h := newTestHandler()
	router := newDeploymentRouter(h)

	version := h.db.addVersion(models.Version{
		Semver:     "2.1.0",
		StorageKey: "releases/2.1.0.tar.gz",
		Manifest:   models.Manifest{Version: "2.1.0"},
	})
	a1 := h.db.addAgent(models.Agent{MACAddress: "AA:BB:CC:DD:EE:01", Status: models.AgentApproved, Active: true})
	a2 := h.db.addAgent(models.Agent{MACAddress: "AA:BB:CC:DD:EE:02", Status: models.AgentApproved, Active: true})
	h.presence.online[a1.ID] = true

	body := fmt.Sprintf(`{"idVersao":%d,"agentes":[%d,%d]}`, version.ID, a1.ID, a2.ID)
	req := httptest.NewRequest("POST", "/implantacao", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	// Only the online agent is notified.
	messages := h.bus.messages()
	if len(messages) != 1 {
		t.Fatalf("published %d messages, want 1", len(messages))
	}
	if want := fmt.Sprintf("agent:%d:implantacao:created", a1.ID); messages[0].topic != want {
		t.Errorf("topic = %q, want %q", messages[0].topic, want)
	}

	var notice DeploymentNotice
	if err := json.Unmarshal([]byte(messages[0].payload), &notice); err != nil {
		t.Fatalf("decode notice: %v", err)
	}
	if notice.URL != "https://storage.example/releases/2.1.0.tar.gz?signed" {
		t.Errorf("url = %q", notice.URL)
	}
	if notice.Manifest.Version != version.Manifest.Version {
		t.Errorf("manifest version = %q", notice.Manifest.Version)
	}
}

func TestCreateDeploymentUnknownVersion(t *testing.T) {
	h := newTestHandler()
	router := newDeploymentRouter(h)

	h.db.addAgent(models.Agent{MACAddress: "AA:BB:CC:DD:EE:01", Status: models.AgentApproved, Active: true})

	req := httptest.NewRequest("POST", "/implantacao", strings.NewReader(`{"idVersao":99,"agentes":[1]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCreateDeploymentUnknownAgent(t *testing.T) {
	h := newTestHandler()
	router := newDeploymentRouter(h)

	version := h.db.addVersion(models.Version{Semver: "1.0.0", StorageKey: "releases/1.0.0.tar.gz"})
	agent := h.db.addAgent(models.Agent{MACAddress: "AA:BB:CC:DD:EE:01", Status: models.AgentApproved, Active: true})

	body := fmt.Sprintf(`{"idVersao":%d,"agentes":[%d,99]}`, version.ID, agent.ID)
	req := httptest.NewRequest("POST", "/implantacao", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(h.bus.messages()) != 0 {
		t.Error("no publish expected when validation fails")
	}
}

func TestCreateDeploymentDuplicateAgents(t *testing.T) {
	h := newTestHandler()
	router := newDeploymentRouter(h)

	version := h.db.addVersion(models.Version{Semver: "1.0.0", StorageKey: "releases/1.0.0.tar.gz"})
	agent := h.db.addAgent(models.Agent{MACAddress: "AA:BB:CC:DD:EE:01", Status: models.AgentApproved, Active: true})
	h.presence.online[agent.ID] = true

	// Repeating an agent id must not fail validation or notify twice.
	body := fmt.Sprintf(`{"idVersao":%d,"agentes":[%d,%d]}`, version.ID, agent.ID, agent.ID)
	req := httptest.NewRequest("POST", "/implantacao", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if messages := h.bus.messages(); len(messages) != 1 {
		t.Fatalf("published %d messages, want 1", len(messages))
	}
}

func TestCreateDeploymentRequiresAgents(t *testing.T) {
	h := newTestHandler()
	router := newDeploymentRouter(h)

	req := httptest.NewRequest("POST", "/implantacao", strings.NewReader(`{"idVersao":1,"agentes":[]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListDeployments(t *testing.T) {
	h := newTestHandler()
	router := newDeploymentRouter(h)

	version := h.db.addVersion(models.Version{Semver: "1.0.0", StorageKey: "releases/1.0.0.tar.gz"})
	agent := h.db.addAgent(models.Agent{MACAddress: "AA:BB:CC:DD:EE:01", Status: models.AgentApproved, Active: true})
	if _, err := h.db.CreateDeployment(nil, version.ID, []int64{agent.ID}); err != nil {
		t.Fatalf("seed deployment: %v", err)
	}

	req := httptest.NewRequest("GET", "/implantacao", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp ListDeploymentsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Data) != 1 {
		t.Fatalf("len(data) = %d, want 1", len(resp.Data))
	}
	if resp.Data[0].Status != models.DeploymentInProgress {
		t.Errorf("status = %q, want em_andamento", resp.Data[0].Status)
	}
}

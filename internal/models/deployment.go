package models

import "time"

// Deployment statuses, shared by the deployment and its per-agent rows.
const (
	DeploymentInProgress = "em_andamento"
	DeploymentCompleted  = "concluido"
	DeploymentFailed     = "falha"
)

// Deployment represents a rollout of a version to one or more agents.
type Deployment struct {
	ID        int64      `json:"id"`
	IDVersion int64      `json:"idVersao"`
	Status    string     `json:"status"`
	Version   *Version   `json:"versao,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt"`
}

// DeploymentAgent tracks the rollout status of a deployment on one agent.
type DeploymentAgent struct {
	IDDeployment int64     `json:"idImplantacao"`
	IDAgent      int64     `json:"idAgente"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

package models

import "time"

// Agent lifecycle states. An agent registers as "pendente" and must be
// approved by an operator before it can open a pubsub connection.
const (
	AgentPending  = "pendente"
	AgentApproved = "aprovado"
	AgentRejected = "rejeitado"
)

// Agent represents a point-of-sale machine running the remote agent.
// JSON field names follow the wire format consumed by the admin UI.
type Agent struct {
	ID          int64      `json:"id"`
	IDPdv       *int64     `json:"idPdv"`
	MACAddress  string     `json:"enderecoMac"`
	OS          string     `json:"sistemaOperacional"`
	Active      bool       `json:"ativo"`
	Status      string     `json:"situacao"`
	SecretKey   string     `json:"chaveSecreta,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	DeletedAt   *time.Time `json:"deletedAt"`
}

// Public returns a copy of the agent without the secret key. The key is
// only ever returned once, at registration time.
func (a Agent) Public() Agent {
	a.SecretKey = ""
	return a
}

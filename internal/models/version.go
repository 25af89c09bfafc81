package models

import "time"

// ReadyCheck describes how the agent decides a started dependency is ready.
// Type is one of "grep", "timeout", "http" or "completed"; the remaining
// fields apply depending on the type.
type ReadyCheck struct {
	Type    string `json:"type"`
	Expr    string `json:"expr,omitempty"`
	Seconds int    `json:"seconds,omitempty"`
	URL     string `json:"url,omitempty"`
	Status  int    `json:"status,omitempty"`
}

// Dependency is one executable inside a deployment package, with its
// readiness check and nested dependencies started before it.
type Dependency struct {
	Path         string       `json:"path"`
	Ready        ReadyCheck   `json:"ready"`
	Dependencies []Dependency `json:"dependencies,omitempty"`
}

// Manifest describes a deployable version: its startup dependencies and
// readiness checks, shipped to agents inside the deployment event.
type Manifest struct {
	Version      string       `json:"version"`
	Dependencies []Dependency `json:"dependencies"`
}

// Version represents a deployable software version with its artifact
// location in object storage.
type Version struct {
	ID          int64      `json:"id"`
	Semver      string     `json:"semver"`
	Description string     `json:"descricao"`
	StorageKey  string     `json:"storageKey"`
	Manifest    Manifest   `json:"manifest"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	DeletedAt   *time.Time `json:"deletedAt"`
}

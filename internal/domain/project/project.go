// Package project defines the Project domain entity: the user-managed
// template from which sessions and their container clusters are spawned.
package project

import "time"

// ContainerDefinition describes one container that belongs to every session
// spawned from a Project. Ports are declared here so the proxy router and
// pool reconciler can compute network aliases and route tables before any
// runtime state exists.
type ContainerDefinition struct {
	ID          string            `json:"id"`
	Image       string            `json:"image"`
	Ports       []int             `json:"ports"`
	EnvTemplate map[string]string `json:"env_template,omitempty"`
	Hostname    string            `json:"hostname,omitempty"`
}

// Project represents a session template managed by the user. Lifetime is
// user-managed; sessions reference it but never mutate it.
type Project struct {
	ID                   string                `json:"id"`
	Name                 string                `json:"name"`
	SystemPrompt         string                `json:"system_prompt,omitempty"`
	ContainerDefinitions []ContainerDefinition `json:"container_definitions"`
	PoolSize             int                   `json:"pool_size"`
	CreatedAt            time.Time             `json:"created_at"`
	UpdatedAt            time.Time             `json:"updated_at"`
}

// CreateRequest holds the fields needed to create a new Project.
type CreateRequest struct {
	Name                 string                `json:"name"`
	SystemPrompt         string                `json:"system_prompt,omitempty"`
	ContainerDefinitions []ContainerDefinition `json:"container_definitions"`
	PoolSize             int                   `json:"pool_size"`
}

// Package project implements the thin service wrapper over Project
// persistence: templates are user-managed and never touched by the
// reconciliation loops, so there is no lifecycle logic here beyond
// validation.
package project

import (
	"context"
	"fmt"

	"github.com/Strob0t/CodeForge/internal/domain"
	"github.com/Strob0t/CodeForge/internal/domain/project"
	"github.com/Strob0t/CodeForge/internal/port/database"
)

// Service wraps database.Store's Project methods with request validation.
type Service struct {
	store database.Store
}

// New creates a Service.
func New(store database.Store) *Service {
	return &Service{store: store}
}

// List returns every Project.
func (s *Service) List(ctx context.Context) ([]project.Project, error) {
	return s.store.ListProjects(ctx)
}

// Get returns a single Project by id.
func (s *Service) Get(ctx context.Context, id string) (*project.Project, error) {
	return s.store.GetProject(ctx, id)
}

// Create validates and persists a new Project.
func (s *Service) Create(ctx context.Context, req project.CreateRequest) (*project.Project, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("project name is required: %w", domain.ErrValidation)
	}
	if req.PoolSize < 0 {
		return nil, fmt.Errorf("pool_size must be non-negative: %w", domain.ErrValidation)
	}
	for _, def := range req.ContainerDefinitions {
		if def.ID == "" || def.Image == "" {
			return nil, fmt.Errorf("every container definition needs an id and image: %w", domain.ErrValidation)
		}
	}
	return s.store.CreateProject(ctx, req)
}

// Delete removes a Project. The sessions table references projects with
// ON DELETE CASCADE, so the project's session rows (and the rows that
// reference them) are deleted with it; their runtime containers are not
// stopped by this call.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteProject(ctx, id)
}

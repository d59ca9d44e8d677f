// Package githubsettings implements the thin service wrapper over the
// GithubSettings singleton, the caller-supplied identity used to attribute
// sessions to a GitHub account.
package githubsettings

import (
	"context"
	"fmt"

	"github.com/Strob0t/CodeForge/internal/domain"
	"github.com/Strob0t/CodeForge/internal/domain/settings"
	"github.com/Strob0t/CodeForge/internal/port/database"
)

// Service wraps database.Store's GithubSettings methods.
type Service struct {
	store database.Store
}

// New creates a Service.
func New(store database.Store) *Service {
	return &Service{store: store}
}

// Get returns the current settings, or {Configured: false} if none have
// been set yet.
func (s *Service) Get(ctx context.Context) (*settings.GithubSettings, error) {
	return s.store.GetGithubSettings(ctx)
}

// Put replaces the settings singleton.
func (s *Service) Put(ctx context.Context, req settings.UpdateRequest) (*settings.GithubSettings, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("github settings: name is required: %w", domain.ErrValidation)
	}
	return s.store.PutGithubSettings(ctx, req)
}

// Delete clears the settings singleton.
func (s *Service) Delete(ctx context.Context) error {
	return s.store.DeleteGithubSettings(ctx)
}

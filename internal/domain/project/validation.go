package project

import (
	"fmt"
	"unicode"

	"github.com/Strob0t/CodeForge/internal/domain"
)

// ValidateCreateRequest validates the fields of a project creation request.
func ValidateCreateRequest(req CreateRequest) error {
	if req.Name == "" {
		return fmt.Errorf("name is required: %w", domain.ErrValidation)
	}
	if len(req.Name) > 255 {
		return fmt.Errorf("name exceeds 255 characters: %w", domain.ErrValidation)
	}
	for _, r := range req.Name {
		if unicode.IsControl(r) {
			return fmt.Errorf("name contains control characters: %w", domain.ErrValidation)
		}
	}
	if req.PoolSize < 0 {
		return fmt.Errorf("pool_size must be >= 0: %w", domain.ErrValidation)
	}
	seen := make(map[string]struct{}, len(req.ContainerDefinitions))
	for _, def := range req.ContainerDefinitions {
		if def.Image == "" {
			return fmt.Errorf("container definition %q: image is required: %w", def.ID, domain.ErrValidation)
		}
		if def.ID != "" {
			if _, dup := seen[def.ID]; dup {
				return fmt.Errorf("duplicate container definition id %q: %w", def.ID, domain.ErrValidation)
			}
			seen[def.ID] = struct{}{}
		}
		for _, p := range def.Ports {
			if p < 1 || p > 65535 {
				return fmt.Errorf("container definition %q: invalid port %d: %w", def.ID, p, domain.ErrValidation)
			}
		}
	}
	return nil
}

package session

import (
	"fmt"

	"github.com/Strob0t/CodeForge/internal/domain"
)

// ValidateCreateRequest validates the fields of a session creation request.
func ValidateCreateRequest(req CreateRequest) error {
	if req.ProjectID == "" {
		return fmt.Errorf("project_id is required: %w", domain.ErrValidation)
	}
	if len(req.Title) > 255 {
		return fmt.Errorf("title exceeds 255 characters: %w", domain.ErrValidation)
	}
	return nil
}

// ValidateClaimRequest validates the fields of a pool claim request.
func ValidateClaimRequest(req ClaimRequest) error {
	if req.ProjectID == "" {
		return fmt.Errorf("project_id is required: %w", domain.ErrValidation)
	}
	if req.Title == "" {
		return fmt.Errorf("title is required: %w", domain.ErrValidation)
	}
	if len(req.Title) > 255 {
		return fmt.Errorf("title exceeds 255 characters: %w", domain.ErrValidation)
	}
	return nil
}

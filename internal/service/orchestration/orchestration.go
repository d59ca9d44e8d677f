// Package orchestration implements the "/orchestrate" natural-language
// entry point: it records the request, resolves it to a project and
// session, and republishes status as the request advances.
package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/Strob0t/CodeForge/internal/domain/orchestration"
	"github.com/Strob0t/CodeForge/internal/port/bus"
	"github.com/Strob0t/CodeForge/internal/port/database"
)

// Resolver resolves free-form orchestration content to a project, session
// and model, the step this subsystem delegates rather than implements
// itself (agent model selection lives outside the session lifecycle
// subsystem).
type Resolver interface {
	Resolve(ctx context.Context, content string) (projectID, sessionID, modelID string, err error)
}

// Service implements the orchestration request lifecycle.
type Service struct {
	store    database.Store
	resolver Resolver
	publish  bus.Publisher
}

// New creates a Service.
func New(store database.Store, resolver Resolver, publish bus.Publisher) *Service {
	return &Service{store: store, resolver: resolver, publish: publish}
}

// Submit records req, attempts resolution, and returns the stored Request
// with its terminal or in-progress status.
func (s *Service) Submit(ctx context.Context, req orchestration.CreateRequest) (*orchestration.Request, error) {
	record, err := s.store.CreateOrchestrationRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("submit orchestration request: %w", err)
	}

	s.publishStatus(*record)

	record.Status = orchestration.StatusThinking
	record.UpdatedAt = time.Now()
	s.save(ctx, record)

	projectID, sessionID, modelID, err := s.resolver.Resolve(ctx, req.Content)
	if err != nil {
		msg := err.Error()
		record.Status = orchestration.StatusError
		record.ErrorMessage = &msg
		s.save(ctx, record)
		return record, nil
	}

	record.Status = orchestration.StatusDelegating
	record.ResolvedProjectID = &projectID
	record.ResolvedSessionID = &sessionID
	record.ModelID = &modelID
	s.save(ctx, record)

	record.Status = orchestration.StatusStarting
	s.save(ctx, record)

	return record, nil
}

// Get returns a single orchestration request by id.
func (s *Service) Get(ctx context.Context, id string) (*orchestration.Request, error) {
	return s.store.GetOrchestrationRequest(ctx, id)
}

func (s *Service) save(ctx context.Context, record *orchestration.Request) {
	record.UpdatedAt = time.Now()
	if err := s.store.UpdateOrchestrationRequest(ctx, *record); err != nil {
		return
	}
	s.publishStatus(*record)
}

func (s *Service) publishStatus(record orchestration.Request) {
	params := map[string]string{"sessionId": record.ID}
	if record.ResolvedSessionID != nil {
		params["sessionId"] = *record.ResolvedSessionID
	}
	s.publish.PublishDelta("orchestrationStatus/{sessionId}", params, bus.Delta{Type: bus.DeltaUpdate, Data: record})
}

// Package http wires the HTTP surface of codeforge-sessiond: projects,
// sessions, orchestration, GitHub settings, and the multiplayer channel
// bus WebSocket endpoint.
package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/CodeForge/internal/adapter/proxyrouter"
	"github.com/Strob0t/CodeForge/internal/domain/orchestration"
	"github.com/Strob0t/CodeForge/internal/domain/project"
	"github.com/Strob0t/CodeForge/internal/domain/session"
	"github.com/Strob0t/CodeForge/internal/domain/settings"
	"github.com/Strob0t/CodeForge/internal/port/database"
)

// ProjectService is the subset of the project service the HTTP layer
// depends on.
type ProjectService interface {
	List(ctx context.Context) ([]project.Project, error)
	Get(ctx context.Context, id string) (*project.Project, error)
	Create(ctx context.Context, req project.CreateRequest) (*project.Project, error)
	Delete(ctx context.Context, id string) error
}

// SessionService is the subset of the session service the HTTP layer
// depends on.
type SessionService interface {
	List(ctx context.Context) ([]session.Session, error)
	Get(ctx context.Context, id string) (*database.SessionWithContainers, error)
	Spawn(ctx context.Context, req session.CreateRequest) (*session.Session, error)
	Claim(ctx context.Context, req session.ClaimRequest) (*session.Session, error)
	Destroy(ctx context.Context, id string) error
}

// ProxyRouter is the subset of the proxy router the HTTP layer depends on.
type ProxyRouter interface {
	GetUrls(sessionID string) []proxyrouter.RouteInfo
}

// OrchestrationService is the subset of the orchestration service the HTTP
// layer depends on.
type OrchestrationService interface {
	Submit(ctx context.Context, req orchestration.CreateRequest) (*orchestration.Request, error)
	Get(ctx context.Context, id string) (*orchestration.Request, error)
}

// GithubSettingsService is the subset of the GitHub settings service the
// HTTP layer depends on.
type GithubSettingsService interface {
	Get(ctx context.Context) (*settings.GithubSettings, error)
	Put(ctx context.Context, req settings.UpdateRequest) (*settings.GithubSettings, error)
	Delete(ctx context.Context) error
}

// Handlers bundles every service the HTTP surface depends on.
type Handlers struct {
	Projects       ProjectService
	Sessions       SessionService
	Proxy          ProxyRouter
	Orchestration  OrchestrationService
	GithubSettings GithubSettingsService
	Bus            http.HandlerFunc
}

const maxBodyBytes = 1 << 20 // 1 MiB

// MountRoutes registers every route on r.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/projects", func(r chi.Router) {
		r.Get("/", h.listProjects)
		r.Post("/", h.createProject)
		r.Get("/{id}", h.getProject)
		r.Delete("/{id}", h.deleteProject)
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.listSessions)
		r.Post("/", h.createSession)
		r.Get("/{id}", h.getSession)
		r.Delete("/{id}", h.deleteSession)
		r.Get("/{id}/urls", h.getSessionUrls)
		r.Post("/claim", h.claimSession)
	})

	r.Post("/orchestrate", h.submitOrchestration)
	r.Get("/orchestrate/{id}", h.getOrchestration)

	r.Route("/github/settings", func(r chi.Router) {
		r.Get("/", h.getGithubSettings)
		r.Post("/", h.putGithubSettings)
		r.Delete("/", h.deleteGithubSettings)
	})

	r.Get("/bus", h.bus)
}

func (h *Handlers) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.Projects.List(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (h *Handlers) createProject(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[project.CreateRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if !requireField(w, req.Name, "name") {
		return
	}
	proj, err := h.Projects.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "could not create project")
		return
	}
	writeJSON(w, http.StatusCreated, proj)
}

func (h *Handlers) getProject(w http.ResponseWriter, r *http.Request) {
	proj, err := h.Projects.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

func (h *Handlers) deleteProject(w http.ResponseWriter, r *http.Request) {
	if err := h.Projects.Delete(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "project not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.Sessions.List(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *Handlers) createSession(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[session.CreateRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if !requireField(w, req.ProjectID, "project_id") {
		return
	}
	sess, err := h.Sessions.Spawn(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "could not create session")
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *Handlers) claimSession(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[session.ClaimRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if !requireField(w, req.ProjectID, "project_id") {
		return
	}
	sess, err := h.Sessions.Claim(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "no pooled session available")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handlers) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Sessions.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handlers) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.Destroy(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) getSessionUrls(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Proxy.GetUrls(urlParam(r, "id")))
}

func (h *Handlers) submitOrchestration(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[orchestration.CreateRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if !requireField(w, req.Content, "content") {
		return
	}
	record, err := h.Orchestration.Submit(r.Context(), req)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, record)
}

func (h *Handlers) getOrchestration(w http.ResponseWriter, r *http.Request) {
	record, err := h.Orchestration.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "orchestration request not found")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handlers) getGithubSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.GithubSettings.Get(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handlers) putGithubSettings(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[settings.UpdateRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	s, err := h.GithubSettings.Put(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "could not save github settings")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handlers) deleteGithubSettings(w http.ResponseWriter, r *http.Request) {
	if err := h.GithubSettings.Delete(r.Context()); err != nil {
		writeInternalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) bus(w http.ResponseWriter, r *http.Request) {
	h.Bus(w, r)
}

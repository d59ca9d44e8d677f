// Package sandbox defines the port interface for the Docker-compatible
// Sandbox Provider that the session orchestrator and container event
// monitor talk to. The provider itself lives outside the core, reached
// only through this interface.
package sandbox

import "context"

// ContainerSpec describes a container to create.
type ContainerSpec struct {
	Image       string
	Hostname    string
	Labels      map[string]string
	Env         map[string]string
	Binds       []string
	WorkingDir  string
	RestartMax  int
}

// ContainerState is the observed running state of a container.
type ContainerState struct {
	Running bool
	Ports   []int
}

// ConnectOpts controls how a container is attached to a network.
type ConnectOpts struct {
	Aliases []string
}

// Event is a single provider-reported container lifecycle event.
type Event struct {
	Action     string
	RuntimeID  string
	Attributes map[string]string
}

// EventFilter narrows a container event stream, e.g. by label.
type EventFilter struct {
	LabelKey string
}

// ProviderError wraps a Sandbox Provider failure with a stable code so
// callers can translate it into a domain error without string matching.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	return e.Code + ": " + e.Message
}

// Provider is the port interface onto the Sandbox Provider.
type Provider interface {
	CreateContainer(ctx context.Context, spec ContainerSpec) (runtimeID string, err error)
	StartContainer(ctx context.Context, runtimeID string) error
	StopContainer(ctx context.Context, runtimeID string) error
	RemoveContainer(ctx context.Context, runtimeID string, force bool) error
	Inspect(ctx context.Context, runtimeID string) (*ContainerState, error)
	ContainerExists(ctx context.Context, runtimeID string) (bool, error)

	CreateNetwork(ctx context.Context, name string) error
	RemoveNetwork(ctx context.Context, name string) error
	Connect(ctx context.Context, runtimeID, network string, opts ConnectOpts) error
	Disconnect(ctx context.Context, runtimeID, network string) error
	IsConnected(ctx context.Context, runtimeID, network string) (bool, error)

	CreateVolume(ctx context.Context, name string) error
	RemoveVolume(ctx context.Context, name string) error

	// StreamContainerEvents delivers provider events matching filter onto
	// ch until ctx is cancelled or the stream breaks, in which case it
	// returns an error so the caller can reconnect with backoff.
	StreamContainerEvents(ctx context.Context, filter EventFilter, ch chan<- Event) error
}

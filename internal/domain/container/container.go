// Package container defines the SessionContainer and ContainerPort domain
// entities: the runtime record of a Project's container definitions once
// spawned into a Session's cluster.
package container

// Status is the lifecycle state of a SessionContainer, as observed from the
// Sandbox Provider rather than desired by the orchestrator.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

// Protocol is the transport protocol a ContainerPort is declared for.
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// SessionContainer is one running container belonging to a Session's
// cluster. ContainerID identifies which of the Project's
// ContainerDefinitions this instance was spawned from, and is unique within
// the owning session.
type SessionContainer struct {
	ID           string   `json:"id"`
	SessionID    string   `json:"session_id"`
	ContainerID  string   `json:"container_id"`
	RuntimeID    *string  `json:"runtime_id,omitempty"`
	Status       Status   `json:"status"`
	Hostname     string   `json:"hostname"`
	ErrorMessage *string  `json:"error_message,omitempty"`
}

// ContainerPort is a port declared by a Project's ContainerDefinition,
// materialized once the defining container has a runtime identity.
type ContainerPort struct {
	ContainerID string   `json:"container_id"`
	Port        int      `json:"port"`
	Protocol    Protocol `json:"protocol"`
}

// Package reservation defines the PortReservation domain entity used to
// hand out unique host ports to session containers and browser daemons.
package reservation

import "time"

// Kind distinguishes the purpose a reserved port serves.
type Kind string

const (
	// KindStream is a browser daemon's screencast/interaction stream port.
	KindStream Kind = "stream"
	// KindCDP is a browser daemon's Chrome DevTools Protocol port.
	KindCDP Kind = "cdp"
)

// PortReservation records that a host port is held for a session for a
// given purpose. The pair (Port, Kind) is globally unique while the
// reservation is live.
type PortReservation struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	Port       int        `json:"port"`
	Kind       Kind       `json:"kind"`
	ReservedAt time.Time  `json:"reserved_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Package portalloc implements a deterministic, in-process port allocator
// over a configured range. Allocation decisions are pure and serialized by
// a single mutex; persistence of the resulting reservations is the
// caller's job (the session service persists PortReservation rows and
// rehydrates this allocator's busy set on boot via Reserve).
package portalloc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Strob0t/CodeForge/internal/domain/reservation"
)

// ErrNoPortsAvailable is returned by Allocate when every port in the
// configured range is already held for the given kind.
var ErrNoPortsAvailable = errors.New("no ports available")

type key struct {
	port int
	kind reservation.Kind
}

// Allocator hands out ports in [lo, hi], guaranteeing at most one live
// holder per (port, kind).
type Allocator struct {
	mu   sync.Mutex
	lo   int
	hi   int
	busy map[key]struct{}
}

// New creates an Allocator over the inclusive range [lo, hi].
func New(lo, hi int) (*Allocator, error) {
	if lo < 1 || hi < lo || hi > 65535 {
		return nil, fmt.Errorf("portalloc: invalid range [%d, %d]", lo, hi)
	}
	return &Allocator{lo: lo, hi: hi, busy: make(map[key]struct{})}, nil
}

// Allocate returns the lowest free port in range for kind, marking it busy.
func (a *Allocator) Allocate(kind reservation.Kind) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for p := a.lo; p <= a.hi; p++ {
		k := key{port: p, kind: kind}
		if _, taken := a.busy[k]; !taken {
			a.busy[k] = struct{}{}
			return p, nil
		}
	}
	return 0, ErrNoPortsAvailable
}

// Release frees port for kind. Idempotent: releasing a port that is not
// held is a no-op.
func (a *Allocator) Release(port int, kind reservation.Kind) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.busy, key{port: port, kind: kind})
}

// Reserve marks port busy for kind without going through the scan, used to
// rehydrate externally known reservations (e.g. on boot, from persisted
// PortReservation rows).
func (a *Allocator) Reserve(port int, kind reservation.Kind) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.busy[key{port: port, kind: kind}] = struct{}{}
}

// IsAllocated reports whether port is currently held for kind.
func (a *Allocator) IsAllocated(port int, kind reservation.Kind) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.busy[key{port: port, kind: kind}]
	return ok
}

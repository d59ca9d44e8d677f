package portalloc

import (
	"testing"

	"github.com/Strob0t/CodeForge/internal/domain/reservation"
)

func TestAllocateLowestFree(t *testing.T) {
	a, err := New(9000, 9003)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p1, err := a.Allocate(reservation.KindStream)
	if err != nil || p1 != 9000 {
		t.Fatalf("Allocate = %d, %v, want 9000, nil", p1, err)
	}
	p2, err := a.Allocate(reservation.KindStream)
	if err != nil || p2 != 9001 {
		t.Fatalf("Allocate = %d, %v, want 9001, nil", p2, err)
	}

	a.Release(p1, reservation.KindStream)
	p3, err := a.Allocate(reservation.KindStream)
	if err != nil || p3 != 9000 {
		t.Fatalf("Allocate after release = %d, %v, want 9000, nil", p3, err)
	}
}

func TestAllocateExhausted(t *testing.T) {
	a, _ := New(9000, 9001)
	if _, err := a.Allocate(reservation.KindCDP); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := a.Allocate(reservation.KindCDP); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := a.Allocate(reservation.KindCDP); err != ErrNoPortsAvailable {
		t.Fatalf("Allocate = %v, want ErrNoPortsAvailable", err)
	}
}

func TestKindsAreIndependent(t *testing.T) {
	a, _ := New(9000, 9000)
	if _, err := a.Allocate(reservation.KindStream); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := a.Allocate(reservation.KindCDP); err != nil {
		t.Fatalf("expected independent kind to succeed: %v", err)
	}
}

func TestReserveRehydratesBusySet(t *testing.T) {
	a, _ := New(9000, 9002)
	a.Reserve(9001, reservation.KindStream)

	if !a.IsAllocated(9001, reservation.KindStream) {
		t.Fatal("expected 9001 to be allocated after Reserve")
	}

	p, err := a.Allocate(reservation.KindStream)
	if err != nil || p != 9000 {
		t.Fatalf("Allocate = %d, %v, want 9000, nil", p, err)
	}
	p2, err := a.Allocate(reservation.KindStream)
	if err != nil || p2 != 9002 {
		t.Fatalf("Allocate = %d, %v, want 9002, nil (9001 reserved)", p2, err)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	a, _ := New(9000, 9000)
	a.Release(9000, reservation.KindStream)
	a.Release(9000, reservation.KindStream)
}

func TestInvalidRange(t *testing.T) {
	if _, err := New(0, 100); err == nil {
		t.Fatal("expected error for lo < 1")
	}
	if _, err := New(100, 50); err == nil {
		t.Fatal("expected error for hi < lo")
	}
	if _, err := New(100, 70000); err == nil {
		t.Fatal("expected error for hi > 65535")
	}
}

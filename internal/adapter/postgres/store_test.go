package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Strob0t/CodeForge/internal/config"
	"github.com/Strob0t/CodeForge/internal/domain/container"
	"github.com/Strob0t/CodeForge/internal/domain/project"
	"github.com/Strob0t/CodeForge/internal/domain/reservation"
	"github.com/Strob0t/CodeForge/internal/domain/session"
)

func testPostgresConfig(dsn string) config.Postgres {
	cfg := config.Defaults()
	cfg.Postgres.DSN = dsn
	return cfg.Postgres
}

// testStore returns a Store against DATABASE_URL, skipping the test if the
// env var is unset. Migrations must already have been applied to the
// target database.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping postgres integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := NewPool(ctx, testPostgresConfig(dsn))
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(pool.Close)

	return NewStore(pool)
}

func TestProjectCreateGetDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, project.CreateRequest{
		Name: "demo",
		ContainerDefinitions: []project.ContainerDefinition{
			{ID: "web", Image: "nginx:latest", Ports: []int{80}},
		},
		PoolSize: 1,
	})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	got, err := s.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if got.Name != "demo" || len(got.ContainerDefinitions) != 1 {
		t.Fatalf("unexpected project: %+v", got)
	}

	if err := s.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}

	if _, err := s.GetProject(ctx, p.ID); err == nil {
		t.Fatal("expected not found after delete")
	}
}

func TestClaimPooledSessionIsCompareAndSet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, project.CreateRequest{Name: "pool-demo", ContainerDefinitions: []project.ContainerDefinition{{ID: "web", Image: "x:1", Ports: []int{3000}}}})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	pooled, err := s.CreateSession(ctx, p.ID, "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.UpdateSessionStatus(ctx, pooled.ID, session.StatusPooled); err != nil {
		t.Fatalf("UpdateSessionStatus: %v", err)
	}

	claimed, err := s.ClaimPooledSession(ctx, p.ID, "my title")
	if err != nil {
		t.Fatalf("ClaimPooledSession: %v", err)
	}
	if claimed.ID != pooled.ID {
		t.Fatalf("claimed wrong session: got %s want %s", claimed.ID, pooled.ID)
	}
	if claimed.Status != session.StatusRunning {
		t.Fatalf("claimed session should be running, got %s", claimed.Status)
	}

	if _, err := s.ClaimPooledSession(ctx, p.ID, "again"); err == nil {
		t.Fatal("expected not found claiming an already-claimed pool")
	}
}

func TestSessionContainerLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, project.CreateRequest{Name: "container-demo", ContainerDefinitions: []project.ContainerDefinition{{ID: "web", Image: "x:1", Ports: []int{3000}}}})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	sess, err := s.CreateSession(ctx, p.ID, "t")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	sc, err := s.CreateSessionContainer(ctx, sess.ID, "web", "web."+sess.ID)
	if err != nil {
		t.Fatalf("CreateSessionContainer: %v", err)
	}

	if err := s.UpdateSessionContainerRuntimeID(ctx, sc.ID, "runtime-123"); err != nil {
		t.Fatalf("UpdateSessionContainerRuntimeID: %v", err)
	}

	got, err := s.GetSessionContainerByRuntimeID(ctx, "runtime-123")
	if err != nil {
		t.Fatalf("GetSessionContainerByRuntimeID: %v", err)
	}
	if got.ID != sc.ID {
		t.Fatalf("wrong container returned: %+v", got)
	}

	if err := s.SetContainerPorts(ctx, sc.ID, []container.ContainerPort{{ContainerID: sc.ID, Port: 3000, Protocol: container.ProtocolTCP}}); err != nil {
		t.Fatalf("SetContainerPorts: %v", err)
	}
	ports, err := s.ListContainerPorts(ctx, sc.ID)
	if err != nil {
		t.Fatalf("ListContainerPorts: %v", err)
	}
	if len(ports) != 1 || ports[0].Port != 3000 {
		t.Fatalf("unexpected ports: %+v", ports)
	}
}

func TestPortReservationUniqueness(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, project.CreateRequest{Name: "port-demo", ContainerDefinitions: []project.ContainerDefinition{{ID: "web", Image: "x:1", Ports: []int{3000}}}})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	sess, err := s.CreateSession(ctx, p.ID, "t")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if _, err := s.CreatePortReservation(ctx, sess.ID, 9300, reservation.KindStream); err != nil {
		t.Fatalf("CreatePortReservation: %v", err)
	}
	if _, err := s.CreatePortReservation(ctx, sess.ID, 9300, reservation.KindStream); err == nil {
		t.Fatal("expected unique violation on duplicate (port, kind)")
	}

	if err := s.DeletePortReservation(ctx, 9300, reservation.KindStream); err != nil {
		t.Fatalf("DeletePortReservation: %v", err)
	}
}

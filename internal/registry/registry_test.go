package registry

import (
	"context"
	"testing"
	"time"

	"github.com/orbweave/coordinator/internal/common/logger"
	"github.com/orbweave/coordinator/internal/model"
	"github.com/orbweave/coordinator/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, *SQLiteFixture) {
	t.Helper()
	fx := newSQLiteFixture(t)
	reg := New(fx.Store, logger.Default(), 120*time.Second, 600*time.Second)
	return reg, fx
}

func TestRegister_CollisionRejectsWholeRegistration(t *testing.T) {
	reg, fx := newTestRegistry(t)
	defer fx.Close()
	ctx := context.Background()

	first := &model.Runner{ID: "rnr_1", Hostname: "host-a", DeclaredAgents: []string{"reviewer"}}
	if err := reg.Register(ctx, first); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}

	second := &model.Runner{ID: "rnr_2", Hostname: "host-b", DeclaredAgents: []string{"reviewer", "planner"}}
	err := reg.Register(ctx, second)
	if err == nil {
		t.Fatal("expected collision error")
	}
	if _, ok := err.(*CollisionError); !ok {
		t.Fatalf("error type = %T, want *CollisionError", err)
	}
	if _, ok := reg.Get("rnr_2"); ok {
		t.Fatal("colliding runner should not be registered at all, including non-colliding agent names")
	}
}

func TestLookup_MatchesDemandsAndTags(t *testing.T) {
	reg, fx := newTestRegistry(t)
	defer fx.Close()
	ctx := context.Background()

	rn := &model.Runner{
		ID:              "rnr_1",
		Hostname:        "host-a",
		ProjectDir:      "/workspace",
		ExecutorProfile: "docker",
		Tags:            []string{"gpu", "fast"},
		DeclaredAgents:  []string{"reviewer"},
	}
	if err := reg.Register(ctx, rn); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, ok := reg.Lookup("reviewer", &model.Demands{Tags: []string{"gpu"}})
	if !ok || got.ID != "rnr_1" {
		t.Fatalf("Lookup with satisfied demands failed: got=%v ok=%v", got, ok)
	}

	_, ok = reg.Lookup("reviewer", &model.Demands{Tags: []string{"slow"}})
	if ok {
		t.Fatal("Lookup should fail when required tag is missing")
	}

	_, ok = reg.Lookup("unknown-agent", nil)
	if ok {
		t.Fatal("Lookup should fail for an agent no runner declares")
	}
}

func TestReapOnce_StaleThenRemoved(t *testing.T) {
	reg, fx := newTestRegistry(t)
	defer fx.Close()
	ctx := context.Background()

	reg.staleAfter = 0
	reg.removeAfter = time.Hour

	rn := &model.Runner{ID: "rnr_1", Hostname: "host-a", DeclaredAgents: []string{"reviewer"}}
	if err := reg.Register(ctx, rn); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	rn.LastHeartbeat = time.Now().UTC().Add(-time.Minute)

	reg.ReapOnce(ctx)
	got, ok := reg.Get("rnr_1")
	if !ok || got.Lifecycle != model.RunnerStale {
		t.Fatalf("expected runner to be marked stale, got %+v ok=%v", got, ok)
	}

	reg.removeAfter = 0
	var removedID string
	reg.OnRunnerRemoved = func(ctx context.Context, runnerID string) { removedID = runnerID }
	reg.ReapOnce(ctx)

	if _, ok := reg.Get("rnr_1"); ok {
		t.Fatal("expected runner to be removed from the in-memory projection")
	}
	if removedID != "rnr_1" {
		t.Fatalf("OnRunnerRemoved callback runnerID = %q, want rnr_1", removedID)
	}
}

// SQLiteFixture is a minimal store.Store-backed test fixture living in a
// temp directory, grounded on the teacher's sqlite repository test setup.
type SQLiteFixture struct {
	Store store.Store
	close func() error
}

func (f *SQLiteFixture) Close() {
	_ = f.close()
}

func newSQLiteFixture(t *testing.T) *SQLiteFixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(dir, "registry_test.db")
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	return &SQLiteFixture{Store: st, close: st.Close}
}

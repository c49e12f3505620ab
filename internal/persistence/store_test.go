package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// testStore creates an in-memory store for testing and registers cleanup.
func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func TestStartAndFinishRun(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	id, err := store.StartRun(ctx, Run{TaskID: "repo--main", Flow: "new", Step: 2, LoopStep: 1, Agent: "checker", StartedAt: started})
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if len(id) != 36 {
		t.Errorf("expected a UUID run id, got %q", id)
	}

	runs, err := store.ListRuns(ctx, "repo--main", 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].Finished() {
		t.Fatalf("expected one open run, got %+v", runs)
	}

	finished := started.Add(90 * time.Second)
	if err := store.FinishRun(ctx, id, RunResult{Signal: "TESTS_FAIL", FinishedAt: finished}); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	runs, _ = store.ListRuns(ctx, "repo--main", 0)
	got := runs[0]
	if got.ID != id || got.Flow != "new" || got.Step != 2 || got.LoopStep != 1 || got.Agent != "checker" {
		t.Errorf("unexpected run fields: %+v", got)
	}
	if got.Signal != "TESTS_FAIL" || got.PreCheck || got.Error != "" {
		t.Errorf("unexpected result fields: %+v", got)
	}
	if !got.StartedAt.Equal(started) || !got.FinishedAt.Equal(finished) {
		t.Errorf("timestamps = %v / %v", got.StartedAt, got.FinishedAt)
	}
}

func TestFinishRunRecordsError(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	id, _ := store.StartRun(ctx, Run{TaskID: "t--1", Flow: "new", Agent: "coder"})
	if err := store.FinishRun(ctx, id, RunResult{PreCheck: true, Err: errors.New("spawn coder: not found")}); err != nil {
		t.Fatal(err)
	}
	runs, _ := store.ListRuns(ctx, "t--1", 0)
	if !runs[0].PreCheck || runs[0].Error != "spawn coder: not found" {
		t.Errorf("run = %+v", runs[0])
	}
}

func TestFinishRunNotFound(t *testing.T) {
	store := testStore(t)
	err := store.FinishRun(context.Background(), "missing", RunResult{})
	if err == nil || !strings.Contains(err.Error(), "run not found") {
		t.Errorf("expected run not found error, got %v", err)
	}
}

func TestListRunsOrderAndLimit(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, agent := range []string{"planner", "coder", "checker"} {
		if _, err := store.StartRun(ctx, Run{TaskID: "a--b", Flow: "new", Step: i, Agent: agent, StartedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatal(err)
		}
	}
	store.StartRun(ctx, Run{TaskID: "other--task", Flow: "new", Agent: "coder"})

	runs, err := store.ListRuns(ctx, "a--b", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].Agent != "checker" || runs[1].Agent != "coder" {
		t.Errorf("expected newest two runs, got %+v", runs)
	}

	all, _ := store.ListRuns(ctx, "a--b", 0)
	if len(all) != 3 {
		t.Errorf("expected 3 runs, got %d", len(all))
	}

	none, _ := store.ListRuns(ctx, "nobody--here", 0)
	if none == nil || len(none) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", none)
	}
}

func TestHalts(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	halts := []Halt{
		{TaskID: "r--x", Flow: "new", Reason: "blocked", Signal: "INPUT_NEEDED", Step: 1, Message: "waiting for input"},
		{TaskID: "r--x", Flow: "new", Reason: "exhausted-steps", Signal: "TASK_COMPLETE", Step: 3, Message: "flow finished"},
	}
	for _, h := range halts {
		if err := store.RecordHalt(ctx, h); err != nil {
			t.Fatalf("RecordHalt failed: %v", err)
		}
	}

	got, err := store.ListHalts(ctx, "r--x", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Reason != "exhausted-steps" || got[1].Signal != "INPUT_NEEDED" {
		t.Errorf("unexpected halts: %+v", got)
	}
	if got[0].CreatedAt.IsZero() {
		t.Error("CreatedAt should default to now")
	}
}

func TestDeleteTask(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	store.StartRun(ctx, Run{TaskID: "gone--soon", Flow: "new", Agent: "coder"})
	store.RecordHalt(ctx, Halt{TaskID: "gone--soon", Flow: "new", Reason: "blocked"})
	store.StartRun(ctx, Run{TaskID: "keep--me", Flow: "new", Agent: "coder"})

	if err := store.DeleteTask(ctx, "gone--soon"); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}
	runs, _ := store.ListRuns(ctx, "gone--soon", 0)
	halts, _ := store.ListHalts(ctx, "gone--soon", 0)
	if len(runs) != 0 || len(halts) != 0 {
		t.Errorf("rows left after delete: %d runs, %d halts", len(runs), len(halts))
	}
	kept, _ := store.ListRuns(ctx, "keep--me", 0)
	if len(kept) != 1 {
		t.Error("other task's runs were deleted")
	}
}

func TestMemoryStoresAreIsolated(t *testing.T) {
	a := testStore(t)
	b := testStore(t)
	ctx := context.Background()

	a.StartRun(ctx, Run{TaskID: "x--y", Flow: "new", Agent: "coder"})
	runs, _ := b.ListRuns(ctx, "x--y", 0)
	if len(runs) != 0 {
		t.Error("memory stores share data")
	}
}

func TestFileStorePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")

	store, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	id, _ := store.StartRun(ctx, Run{TaskID: "p--q", Flow: "review", Agent: "reviewer"})
	store.Close()

	store, err = NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer store.Close()
	runs, _ := store.ListRuns(ctx, "p--q", 0)
	if len(runs) != 1 || runs[0].ID != id {
		t.Errorf("run not persisted: %+v", runs)
	}
}

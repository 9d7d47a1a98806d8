package storage

import (
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

// TestIndexesExist verifies that the created_at indexes are created by the migration.
func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_interactions_created", "idx_training_runs_created"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestSaveAndGetInteraction(t *testing.T) {
	s := openTestStore(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	want := Interaction{
		ID:        "int-1",
		CreatedAt: now,
		Question:  "How many clients?",
		Prompt:    "You are an intelligent CRM assistant.",
		Model:     "llama3.2:1b",
		Response:  "Three.",
		Status:    "completed",
		Missing:   `["contracts"]`,
	}
	if err := s.SaveInteraction(want); err != nil {
		t.Fatalf("SaveInteraction: %v", err)
	}

	got, err := s.GetInteraction("int-1")
	if err != nil {
		t.Fatalf("GetInteraction: %v", err)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
	got.CreatedAt = want.CreatedAt
	if got != want {
		t.Errorf("GetInteraction = %+v, want %+v", got, want)
	}
}

func TestSaveInteractionDefaults(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveInteraction(Interaction{ID: "int-2", Question: "q"}); err != nil {
		t.Fatalf("SaveInteraction: %v", err)
	}
	got, err := s.GetInteraction("int-2")
	if err != nil {
		t.Fatalf("GetInteraction: %v", err)
	}
	if got.Status != "completed" {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.Missing != "[]" {
		t.Errorf("Missing = %q, want []", got.Missing)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt should default to now")
	}
}

func TestGetInteractionNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetInteraction("nonexistent")
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRecentInteractions(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		err := s.SaveInteraction(Interaction{
			ID:        fmt.Sprintf("int-%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			Question:  fmt.Sprintf("question %d", i),
		})
		if err != nil {
			t.Fatalf("SaveInteraction %d: %v", i, err)
		}
	}

	got, err := s.RecentInteractions(3)
	if err != nil {
		t.Fatalf("RecentInteractions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d interactions, want 3", len(got))
	}
	for i, want := range []string{"int-4", "int-3", "int-2"} {
		if got[i].ID != want {
			t.Errorf("got[%d].ID = %q, want %q", i, got[i].ID, want)
		}
	}

	n, err := s.CountInteractions()
	if err != nil {
		t.Fatalf("CountInteractions: %v", err)
	}
	if n != 5 {
		t.Errorf("CountInteractions = %d, want 5", n)
	}
}

// TestRecentInteractionsSubSecond checks ordering holds for timestamps
// within the same second.
func TestRecentInteractionsSubSecond(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 3, 1, 9, 0, 5, 0, time.UTC)
	s.SaveInteraction(Interaction{ID: "whole", CreatedAt: base, Question: "q"})
	s.SaveInteraction(Interaction{ID: "frac", CreatedAt: base.Add(100 * time.Millisecond), Question: "q"})

	got, err := s.RecentInteractions(2)
	if err != nil {
		t.Fatalf("RecentInteractions: %v", err)
	}
	if len(got) != 2 || got[0].ID != "frac" {
		t.Errorf("expected frac first, got %+v", got)
	}
}

func TestRecentInteractionsEmpty(t *testing.T) {
	s := openTestStore(t)

	got, err := s.RecentInteractions(10)
	if err != nil {
		t.Fatalf("RecentInteractions: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
}

func TestTrainingRuns(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	runs := []TrainingRun{
		{ID: "run-1", CreatedAt: base, Source: "api", ContractsUsed: 6, Positives: 4, Trained: true},
		{ID: "run-2", CreatedAt: base.Add(time.Minute), Source: "scheduler", ContractsUsed: 3},
		{ID: "run-3", CreatedAt: base.Add(2 * time.Minute), Source: "cli", Error: "backend unreachable"},
	}
	for _, r := range runs {
		if err := s.SaveTrainingRun(r); err != nil {
			t.Fatalf("SaveTrainingRun %s: %v", r.ID, err)
		}
	}

	got, err := s.RecentTrainingRuns(10)
	if err != nil {
		t.Fatalf("RecentTrainingRuns: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d runs, want 3", len(got))
	}
	if got[0].ID != "run-3" || got[0].Error != "backend unreachable" {
		t.Errorf("newest run = %+v", got[0])
	}
	if got[2].ID != "run-1" || !got[2].Trained || got[2].ContractsUsed != 6 || got[2].Positives != 4 {
		t.Errorf("oldest run = %+v", got[2])
	}

	last, err := s.LastSuccessfulTrainingRun()
	if err != nil {
		t.Fatalf("LastSuccessfulTrainingRun: %v", err)
	}
	if last.ID != "run-1" {
		t.Errorf("LastSuccessfulTrainingRun = %s, want run-1", last.ID)
	}
}

func TestLastSuccessfulTrainingRunNotFound(t *testing.T) {
	s := openTestStore(t)

	s.SaveTrainingRun(TrainingRun{ID: "run-1", Source: "api", ContractsUsed: 2})
	if _, err := s.LastSuccessfulTrainingRun(); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

package session

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"exampro/pkg/domain"
)

func newTestGormStore(t *testing.T) *GormStore {
	t.Helper()
	store, err := NewGormStore(filepath.Join(t.TempDir(), "snapshots.db"))
	if err != nil {
		t.Fatalf("new gorm store: %v", err)
	}
	return store
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestGormStore(t)

	snap := Snapshot{
		User: domain.User{
			ID:                 "u1",
			Email:              "ada@example.ng",
			Name:               "Ada",
			Role:               domain.RoleStudent,
			IsPremium:          true,
			Progress:           map[string]float64{"maths": 42.5},
			RegisteredSubjects: []string{"maths", "physics"},
		},
		Subjects: []domain.Subject{{ID: "maths", Name: "Mathematics"}},
		Exams:    []domain.MockExam{{ID: "e1", Title: "JAMB Mock", QuestionCount: 40}},
	}
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, found, err := store.Load(ctx, "ada@example.ng")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !found {
		t.Fatal("snapshot not found after save")
	}
	if !reflect.DeepEqual(got, snap) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, snap)
	}
}

func TestSaveOverwritesPreviousSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newTestGormStore(t)
	user := domain.User{Email: "ada@example.ng", Name: "Ada"}

	if err := store.Save(ctx, Snapshot{User: user}); err != nil {
		t.Fatalf("first save: %v", err)
	}
	user.IsPremium = true
	if err := store.Save(ctx, Snapshot{User: user}); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, found, err := store.Load(ctx, "ada@example.ng")
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if !got.User.IsPremium {
		t.Fatal("second save did not overwrite")
	}
}

func TestClearRemovesSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newTestGormStore(t)
	if err := store.Save(ctx, Snapshot{User: domain.User{Email: "ada@example.ng"}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Clear(ctx, "ada@example.ng"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	_, found, err := store.Load(ctx, "ada@example.ng")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if found {
		t.Fatal("snapshot should be gone after clear")
	}
	// Clearing a missing snapshot is not an error.
	if err := store.Clear(ctx, "ada@example.ng"); err != nil {
		t.Fatalf("clear twice: %v", err)
	}
}

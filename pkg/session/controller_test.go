package session

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"exampro/pkg/domain"
)

type fakeSource struct {
	mu       sync.Mutex
	user     domain.User
	userErr  error
	subjects []domain.Subject
	exams    []domain.MockExam
	notes    []domain.StudyNote
	fetches  int
	gate     chan struct{}
}

func (f *fakeSource) GetUserByEmail(ctx context.Context, _ string) (domain.User, bool, error) {
	f.mu.Lock()
	f.fetches++
	gate := f.gate
	user, err := f.user, f.userErr
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.User{}, false, ctx.Err()
		}
	}
	if err != nil {
		return domain.User{}, false, err
	}
	return user, true, nil
}

func (f *fakeSource) ListSubjects(context.Context) ([]domain.Subject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subjects, nil
}

func (f *fakeSource) ListExams(context.Context) ([]domain.MockExam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exams, nil
}

func (f *fakeSource) ListNotes(context.Context, string) ([]domain.StudyNote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notes, nil
}

func (f *fakeSource) setUser(user domain.User) {
	f.mu.Lock()
	f.user = user
	f.mu.Unlock()
}

func (f *fakeSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

type memStore struct {
	mu    sync.Mutex
	snaps map[string]Snapshot
	saves int
}

func newMemStore() *memStore {
	return &memStore{snaps: map[string]Snapshot{}}
}

func (m *memStore) Save(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.User.Email] = snap
	m.saves++
	return nil
}

func (m *memStore) Load(_ context.Context, email string) (Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[email]
	return snap, ok, nil
}

func (m *memStore) Clear(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, email)
	return nil
}

func (m *memStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func testUser(premium bool) domain.User {
	return domain.User{
		ID:        "u1",
		Email:     "ada@example.ng",
		Name:      "Ada",
		Role:      domain.RoleStudent,
		IsPremium: premium,
	}
}

func TestControllerRestoresSnapshotWithoutNetwork(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	if err := store.Save(ctx, Snapshot{User: testUser(false)}); err != nil {
		t.Fatal(err)
	}
	source := &fakeSource{}

	c, err := NewController(ctx, "ada@example.ng", source, store, ControllerConfig{})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	if c.Snapshot().User.ID != "u1" {
		t.Fatalf("snapshot not restored: %+v", c.Snapshot())
	}
	if source.fetchCount() != 0 {
		t.Fatalf("restore must not hit the network, saw %d fetches", source.fetchCount())
	}
	if !c.Loading() {
		t.Fatal("loading should stay set until the first cycle finishes")
	}
}

func TestSyncAppliesOneAtomicSnapshot(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{
		user:     testUser(false),
		subjects: []domain.Subject{{ID: "maths", Name: "Mathematics"}},
		exams:    []domain.MockExam{{ID: "e1", Title: "JAMB Mock"}},
	}
	c, err := NewController(ctx, "ada@example.ng", source, newMemStore(), ControllerConfig{})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	if err := c.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	snap := c.Snapshot()
	if snap.User.ID != "u1" || len(snap.Subjects) != 1 || len(snap.Exams) != 1 {
		t.Fatalf("snapshot incomplete: %+v", snap)
	}
	if c.Loading() {
		t.Fatal("loading should clear after first cycle")
	}
}

func TestIdenticalSyncWritesNothing(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{user: testUser(false)}
	store := newMemStore()
	c, err := NewController(ctx, "ada@example.ng", source, store, ControllerConfig{})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	if err := c.Sync(ctx); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	saves := store.saveCount()
	if err := c.Sync(ctx); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if store.saveCount() != saves {
		t.Fatalf("identical cycle must not persist, saves %d -> %d", saves, store.saveCount())
	}
}

func TestUpgradedEventFiresExactlyOnce(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{user: testUser(false)}
	c, err := NewController(ctx, "ada@example.ng", source, newMemStore(), ControllerConfig{})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	c.Seed(testUser(false))

	if err := c.Sync(ctx); err != nil {
		t.Fatalf("baseline sync: %v", err)
	}
	select {
	case <-c.Upgraded():
		t.Fatal("no upgrade happened yet")
	default:
	}

	source.setUser(testUser(true))
	if err := c.Sync(ctx); err != nil {
		t.Fatalf("upgrade sync: %v", err)
	}
	select {
	case <-c.Upgraded():
	default:
		t.Fatal("expected one upgraded event")
	}

	if err := c.Sync(ctx); err != nil {
		t.Fatalf("follow-up sync: %v", err)
	}
	select {
	case <-c.Upgraded():
		t.Fatal("upgraded event must not repeat")
	default:
	}
}

func TestOverlappingSyncIsSkipped(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	source := &fakeSource{user: testUser(false), gate: gate}
	c, err := NewController(ctx, "ada@example.ng", source, newMemStore(), ControllerConfig{})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	firstDone := make(chan error, 1)
	go func() { firstDone <- c.Sync(ctx) }()

	// Wait for the first cycle to be inside its fetch.
	deadline := time.After(2 * time.Second)
	for source.fetchCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("first sync never started")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	if err := c.Sync(ctx); err != nil {
		t.Fatalf("overlapping sync should be a silent skip, got %v", err)
	}
	if source.fetchCount() != 1 {
		t.Fatalf("overlapping sync must not fetch, saw %d fetches", source.fetchCount())
	}

	close(gate)
	if err := <-firstDone; err != nil {
		t.Fatalf("first sync: %v", err)
	}
}

func TestFailedSyncLeavesSnapshotIntact(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{user: testUser(false)}
	c, err := NewController(ctx, "ada@example.ng", source, newMemStore(), ControllerConfig{})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	if err := c.Sync(ctx); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	before := c.Snapshot()

	source.mu.Lock()
	source.userErr = errors.New("store offline")
	source.mu.Unlock()

	if err := c.Sync(ctx); err == nil {
		t.Fatal("expected sync failure")
	}
	if got := c.Snapshot(); !reflect.DeepEqual(got.User, before.User) {
		t.Fatalf("failed cycle changed the snapshot: %+v", got)
	}
	if c.Loading() {
		t.Fatal("loading must clear on failure too")
	}
}

func TestCloseStopsHeartbeatDeterministically(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{user: testUser(false)}
	c, err := NewController(ctx, "ada@example.ng", source, newMemStore(), ControllerConfig{Interval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	c.Start(ctx)

	deadline := time.After(2 * time.Second)
	for source.fetchCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("heartbeat never fired")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	c.Close()
	fetched := source.fetchCount()
	time.Sleep(50 * time.Millisecond)
	if source.fetchCount() != fetched {
		t.Fatal("heartbeat kept firing after Close")
	}
	// Close is idempotent.
	c.Close()
}

func TestStartAfterCloseIsNoOp(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{user: testUser(false)}
	c, err := NewController(ctx, "ada@example.ng", source, newMemStore(), ControllerConfig{Interval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	c.Close()
	c.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	if source.fetchCount() != 0 {
		t.Fatal("closed controller must not start a heartbeat")
	}
	// Closing again after the rejected start must not panic.
	c.Close()
}

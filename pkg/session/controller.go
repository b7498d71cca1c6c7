package session

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"reflect"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"exampro/pkg/domain"
)

// DefaultInterval is the heartbeat period between background sync cycles.
const DefaultInterval = 10 * time.Second

// ControllerConfig tunes one user's sync loop.
type ControllerConfig struct {
	// Interval between heartbeat cycles. Zero selects DefaultInterval.
	Interval time.Duration
	// Jitter spreads heartbeats by up to ±10% so controllers created in a
	// burst do not hit the remote store in lockstep.
	Jitter bool
	Logger *slog.Logger
}

// Controller drives the sync loop for one signed-in user. It holds the
// current snapshot, refreshes it on a heartbeat and on demand, and mirrors
// every change to the durable store. All methods are safe for concurrent use.
type Controller struct {
	email    string
	source   DataSource
	store    Store
	logger   *slog.Logger
	interval time.Duration
	jitter   bool

	mu      sync.Mutex
	snap    Snapshot
	hasSnap bool
	loading bool
	closed  bool

	// inflight is a one-slot semaphore; a trigger that arrives while a
	// cycle is running is skipped rather than queued.
	inflight chan struct{}
	upgraded chan struct{}

	startOnce sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewController builds a controller for one user and restores the last
// persisted snapshot, if any. No network call happens here.
func NewController(ctx context.Context, email string, source DataSource, store Store, cfg ControllerConfig) (*Controller, error) {
	if email == "" {
		return nil, fmt.Errorf("controller email required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Controller{
		email:    email,
		source:   source,
		store:    store,
		logger:   cfg.Logger.With("user", email),
		interval: cfg.Interval,
		jitter:   cfg.Jitter,
		loading:  true,
		inflight: make(chan struct{}, 1),
		upgraded: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	snap, found, err := store.Load(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("restore snapshot: %w", err)
	}
	if found {
		c.snap = snap
		c.hasSnap = true
	}
	return c, nil
}

// Seed installs the known user value when no snapshot was restored, so the
// first cycle has a baseline to diff against. Restored state wins.
func (c *Controller) Seed(user domain.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasSnap {
		return
	}
	c.snap.User = user
	c.hasSnap = true
}

// Start launches the heartbeat loop. Subsequent calls, and calls after
// Close, are no-ops.
func (c *Controller) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		runCtx, cancel := context.WithCancel(ctx)
		c.cancel = cancel
		c.mu.Unlock()
		go c.run(runCtx)
	})
}

// Close stops the heartbeat and waits for it to exit. A timer that fires
// during shutdown does nothing.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		cancel := c.cancel
		c.mu.Unlock()
		if cancel != nil {
			cancel()
			<-c.done
		} else {
			close(c.done)
		}
	})
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)
	timer := time.NewTimer(c.nextInterval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := c.Sync(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("sync cycle failed", "err", err)
			}
			timer.Reset(c.nextInterval())
		}
	}
}

func (c *Controller) nextInterval() time.Duration {
	if !c.jitter {
		return c.interval
	}
	spread := (rand.Float64()*0.2 - 0.1) * float64(c.interval)
	return c.interval + time.Duration(spread)
}

// Sync runs one refresh cycle: the user record and the catalogs are fetched
// concurrently and applied as a single snapshot. If a cycle is already in
// flight the call returns immediately without doing anything. Failures never
// tear the current snapshot.
func (c *Controller) Sync(ctx context.Context) error {
	select {
	case c.inflight <- struct{}{}:
	default:
		return nil
	}
	defer func() { <-c.inflight }()
	defer c.clearLoading()

	var (
		user     domain.User
		subjects []domain.Subject
		exams    []domain.MockExam
		notes    []domain.StudyNote
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, found, err := c.source.GetUserByEmail(gctx, c.email)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("account %s no longer exists", c.email)
		}
		user = u
		return nil
	})
	g.Go(func() error {
		var err error
		subjects, err = c.source.ListSubjects(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		exams, err = c.source.ListExams(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		notes, err = c.source.ListNotes(gctx, "")
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	c.apply(ctx, Snapshot{User: user, Subjects: subjects, Exams: exams, Notes: notes})
	return nil
}

func (c *Controller) apply(ctx context.Context, next Snapshot) {
	c.mu.Lock()
	wasPremium := c.snap.User.IsPremium
	hadBaseline := c.hasSnap
	if c.hasSnap && reflect.DeepEqual(c.snap, next) {
		c.mu.Unlock()
		return
	}
	c.snap = next
	c.hasSnap = true
	c.mu.Unlock()

	if hadBaseline && !wasPremium && next.User.IsPremium {
		select {
		case c.upgraded <- struct{}{}:
		default:
		}
	}
	if err := c.store.Save(ctx, next); err != nil {
		c.logger.Warn("snapshot persist failed", "err", err)
	}
}

func (c *Controller) clearLoading() {
	c.mu.Lock()
	c.loading = false
	c.mu.Unlock()
}

// SetUser replaces the user part of the snapshot after a local profile
// mutation, persisting the change immediately.
func (c *Controller) SetUser(ctx context.Context, user domain.User) {
	c.mu.Lock()
	c.snap.User = user
	c.hasSnap = true
	snap := c.snap
	c.mu.Unlock()
	if err := c.store.Save(ctx, snap); err != nil {
		c.logger.Warn("snapshot persist failed", "err", err)
	}
}

// Snapshot returns a copy of the current snapshot.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Loading reports whether the very first cycle has yet to finish.
func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Upgraded delivers at most one event per premium transition; the channel is
// buffered so a slow consumer never blocks a cycle.
func (c *Controller) Upgraded() <-chan struct{} {
	return c.upgraded
}

// Email returns the user this controller serves.
func (c *Controller) Email() string { return c.email }

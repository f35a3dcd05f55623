// Package refresh owns the current catalog snapshot and the only path by
// which it is replaced.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/solwind/snipsync/internal/catalog"
	"github.com/solwind/snipsync/internal/records"
)

const flightKey = "refresh"

var (
	ErrRefreshFailed = errors.New("failed to fetch catalog")
	// ErrReset is returned to callers whose refresh was overtaken by Reset.
	ErrReset = errors.New("catalog reset during refresh")
)

type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("failed to fetch catalog: %v", e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

func (e *RefreshError) Is(target error) bool {
	return target == ErrRefreshFailed
}

type State string

const (
	StateIdle       State = "idle"
	StateRefreshing State = "refreshing"
	// StateFailed is idle after a failed refresh; the previous catalog is
	// still current.
	StateFailed State = "failed"
)

type Status struct {
	State       State
	Generation  uint64
	LastSuccess time.Time
	LastError   error
}

type Fetcher interface {
	ListCategories(ctx context.Context) ([]records.Category, error)
	ListSubcategories(ctx context.Context) ([]records.Subcategory, error)
	ListSnippets(ctx context.Context) ([]records.Snippet, error)
}

type Observer interface {
	ObserveRefresh(elapsed time.Duration, err error, nodes int)
}

type Options struct {
	Logger   *zap.Logger
	Observer Observer
}

// Coordinator serializes refreshes. A Refresh issued while another is in
// flight joins it and receives the same catalog and error.
type Coordinator struct {
	fetcher  Fetcher
	logger   *zap.Logger
	observer Observer

	flight  singleflight.Group
	current atomic.Pointer[catalog.Catalog]
	epoch   atomic.Uint64

	// notifyMu orders catalog swaps with their notifications, so
	// subscribers see swaps and resets in the order they took effect.
	notifyMu sync.Mutex

	mu          sync.Mutex
	state       State
	generation  uint64
	lastSuccess time.Time
	lastErr     error
	subscribers map[int]func(*catalog.Catalog)
	nextSubID   int
}

func NewCoordinator(fetcher Fetcher, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		fetcher:     fetcher,
		logger:      logger,
		observer:    opts.Observer,
		state:       StateIdle,
		subscribers: map[int]func(*catalog.Catalog){},
	}
}

// Current returns the latest catalog, or nil before the first successful
// refresh and after Reset.
func (c *Coordinator) Current() *catalog.Catalog {
	return c.current.Load()
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:       c.state,
		Generation:  c.generation,
		LastSuccess: c.lastSuccess,
		LastError:   c.lastErr,
	}
}

// Subscribe registers fn to run after every catalog replacement and after
// Reset (with a nil catalog). fn must not call Reset. The returned func
// unregisters it.
func (c *Coordinator) Subscribe(fn func(*catalog.Catalog)) func() {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

// Refresh fetches all three collections and replaces the catalog. Cancelling
// ctx stops the caller's wait only; a fetch already issued runs to
// completion and is still applied.
func (c *Coordinator) Refresh(ctx context.Context) (*catalog.Catalog, error) {
	ch := c.flight.DoChan(flightKey, func() (any, error) {
		return c.run()
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*catalog.Catalog), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reset discards the catalog at session end or de-authentication. A
// refresh in flight when Reset is called does not apply its result, and
// the next Refresh starts a new fetch instead of joining it.
func (c *Coordinator) Reset() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.mu.Lock()
	c.epoch.Add(1)
	c.flight.Forget(flightKey)
	c.current.Store(nil)
	c.generation = 0
	c.lastErr = nil
	c.lastSuccess = time.Time{}
	c.state = StateIdle
	subs := c.subscriberList()
	c.mu.Unlock()
	for _, fn := range subs {
		fn(nil)
	}
}

// run never touches state once a Reset has moved the epoch past it.
func (c *Coordinator) run() (*catalog.Catalog, error) {
	c.mu.Lock()
	epoch := c.epoch.Load()
	c.state = StateRefreshing
	c.mu.Unlock()

	started := time.Now()
	next, err := c.fetch(context.Background())
	elapsed := time.Since(started)
	if err != nil {
		err = &RefreshError{Err: err}
		c.mu.Lock()
		if c.epoch.Load() == epoch {
			c.state = StateFailed
			c.lastErr = err
		}
		c.mu.Unlock()
		c.logger.Warn("catalog refresh failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		c.observe(elapsed, err, 0)
		return nil, err
	}

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.mu.Lock()
	if c.epoch.Load() != epoch {
		c.mu.Unlock()
		c.logger.Info("catalog refresh discarded after reset")
		return nil, ErrReset
	}
	c.current.Store(next)
	c.generation++
	c.lastSuccess = time.Now()
	c.lastErr = nil
	c.state = StateIdle
	generation := c.generation
	subs := c.subscriberList()
	c.mu.Unlock()

	c.logger.Info("catalog refreshed",
		zap.Uint64("generation", generation),
		zap.Int("nodes", next.NodeCount()),
		zap.Int("snippets", next.SnippetCount()),
		zap.Duration("elapsed", elapsed),
	)
	c.observe(elapsed, nil, next.NodeCount())
	for _, fn := range subs {
		fn(next)
	}
	return next, nil
}

func (c *Coordinator) fetch(ctx context.Context) (*catalog.Catalog, error) {
	var (
		categories    []records.Category
		subcategories []records.Subcategory
		snippets      []records.Snippet
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		categories, err = c.fetcher.ListCategories(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		subcategories, err = c.fetcher.ListSubcategories(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		snippets, err = c.fetcher.ListSnippets(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return catalog.Project(categories, subcategories, snippets), nil
}

func (c *Coordinator) observe(elapsed time.Duration, err error, nodes int) {
	if c.observer != nil {
		c.observer.ObserveRefresh(elapsed, err, nodes)
	}
}

func (c *Coordinator) subscriberList() []func(*catalog.Catalog) {
	out := make([]func(*catalog.Catalog), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		out = append(out, fn)
	}
	return out
}

package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solwind/snipsync/internal/catalog"
	"github.com/solwind/snipsync/internal/records"
	"github.com/solwind/snipsync/internal/records/recordstest"
)

func seededFake() *recordstest.Fake {
	return recordstest.New().
		AddCategory("c1", "buttons").
		AddSubcategory("s1", "primary", "c1").
		AddSnippet(records.Snippet{ID: "n1", Label: "sw-btn", CategoryID: "c1", SubcategoryID: "s1"})
}

// gate blocks the snippets list call until released.
type gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) hook(collection string) {
	if collection != records.CollectionSnippets {
		return
	}
	g.once.Do(func() { close(g.entered) })
	<-g.release
}

type countingObserver struct {
	calls  atomic.Int32
	failed atomic.Int32
}

func (o *countingObserver) ObserveRefresh(elapsed time.Duration, err error, nodes int) {
	o.calls.Add(1)
	if err != nil {
		o.failed.Add(1)
	}
}

func TestRefreshReplacesCatalogAndNotifiesOnce(t *testing.T) {
	fake := seededFake()
	observer := &countingObserver{}
	coord := NewCoordinator(fake, Options{Observer: observer})
	assert.Nil(t, coord.Current())

	var notified atomic.Int32
	coord.Subscribe(func(cat *catalog.Catalog) {
		notified.Add(1)
		assert.Same(t, cat, coord.Current())
	})

	cat, err := coord.Refresh(context.Background())
	require.NoError(t, err)
	assert.Same(t, cat, coord.Current())
	assert.Equal(t, 1, cat.SnippetCount())
	assert.Equal(t, int32(1), notified.Load())
	assert.Equal(t, 3, fake.ListCalls())

	status := coord.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.Equal(t, uint64(1), status.Generation)
	assert.False(t, status.LastSuccess.IsZero())
	assert.Equal(t, int32(1), observer.calls.Load())
}

func TestReadersSeeOldCatalogUntilSwap(t *testing.T) {
	fake := seededFake()
	coord := NewCoordinator(fake, Options{})
	first, err := coord.Refresh(context.Background())
	require.NoError(t, err)

	fake.AddSnippet(records.Snippet{ID: "n2", Label: "sw-new", CategoryID: "c1"})
	g := newGate()
	fake.ListHook = g.hook

	done := make(chan *catalog.Catalog)
	go func() {
		cat, err := coord.Refresh(context.Background())
		assert.NoError(t, err)
		done <- cat
	}()
	<-g.entered
	assert.Same(t, first, coord.Current())
	assert.Equal(t, StateRefreshing, coord.Status().State)
	close(g.release)

	second := <-done
	assert.Same(t, second, coord.Current())
	assert.Equal(t, 2, second.SnippetCount())
	assert.Equal(t, 1, first.SnippetCount())
}

func TestConcurrentRefreshJoinsInFlightFetch(t *testing.T) {
	fake := seededFake()
	g := newGate()
	fake.ListHook = g.hook
	coord := NewCoordinator(fake, Options{})

	var notified atomic.Int32
	coord.Subscribe(func(*catalog.Catalog) { notified.Add(1) })

	results := make(chan *catalog.Catalog, 2)
	go func() {
		cat, err := coord.Refresh(context.Background())
		assert.NoError(t, err)
		results <- cat
	}()
	<-g.entered
	go func() {
		cat, err := coord.Refresh(context.Background())
		assert.NoError(t, err)
		results <- cat
	}()
	time.Sleep(50 * time.Millisecond)
	close(g.release)

	a, b := <-results, <-results
	assert.Same(t, a, b)
	assert.Equal(t, 3, fake.ListCalls())
	assert.Equal(t, int32(1), notified.Load())

	_, err := coord.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, fake.ListCalls())
}

func TestJoinedCallerReceivesSameFailure(t *testing.T) {
	fake := seededFake()
	g := newGate()
	fake.ListHook = g.hook
	fake.ListErr = &records.NetworkError{Op: "GET", Err: errors.New("refused")}
	coord := NewCoordinator(fake, Options{})

	errs := make(chan error, 2)
	go func() {
		_, err := coord.Refresh(context.Background())
		errs <- err
	}()
	<-g.entered
	go func() {
		_, err := coord.Refresh(context.Background())
		errs <- err
	}()
	time.Sleep(50 * time.Millisecond)
	close(g.release)

	first, second := <-errs, <-errs
	assert.Same(t, first, second)
	assert.ErrorIs(t, first, ErrRefreshFailed)
}

func TestFailedRefreshKeepsPreviousCatalog(t *testing.T) {
	fake := seededFake()
	observer := &countingObserver{}
	coord := NewCoordinator(fake, Options{Observer: observer})
	before, err := coord.Refresh(context.Background())
	require.NoError(t, err)

	var notified atomic.Int32
	coord.Subscribe(func(*catalog.Catalog) { notified.Add(1) })
	fake.ListErr = &records.NetworkError{Op: "GET", Err: errors.New("refused")}

	_, err = coord.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRefreshFailed)
	assert.ErrorIs(t, err, records.ErrNetwork)
	assert.Contains(t, err.Error(), "failed to fetch catalog")
	assert.Same(t, before, coord.Current())
	assert.Zero(t, notified.Load())

	status := coord.Status()
	assert.Equal(t, StateFailed, status.State)
	assert.Equal(t, uint64(1), status.Generation)
	assert.ErrorIs(t, status.LastError, ErrRefreshFailed)
	assert.Equal(t, int32(1), observer.failed.Load())

	fake.ListErr = nil
	_, err = coord.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, coord.Status().State)
}

func TestCallerCancellationDoesNotAbortFetch(t *testing.T) {
	fake := seededFake()
	g := newGate()
	fake.ListHook = g.hook
	coord := NewCoordinator(fake, Options{})

	applied := make(chan struct{})
	coord.Subscribe(func(*catalog.Catalog) { close(applied) })

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := coord.Refresh(ctx)
		errs <- err
	}()
	<-g.entered
	cancel()
	assert.ErrorIs(t, <-errs, context.Canceled)

	close(g.release)
	select {
	case <-applied:
	case <-time.After(2 * time.Second):
		t.Fatal("expected in-flight refresh to apply after caller cancelled")
	}
	assert.NotNil(t, coord.Current())
}

func TestResetDiscardsCatalogAndInFlightResult(t *testing.T) {
	fake := seededFake()
	coord := NewCoordinator(fake, Options{})
	_, err := coord.Refresh(context.Background())
	require.NoError(t, err)

	var cleared atomic.Int32
	coord.Subscribe(func(cat *catalog.Catalog) {
		if cat == nil {
			cleared.Add(1)
		}
	})

	g := newGate()
	fake.ListHook = g.hook
	errs := make(chan error, 1)
	go func() {
		_, err := coord.Refresh(context.Background())
		errs <- err
	}()
	<-g.entered
	coord.Reset()
	assert.Nil(t, coord.Current())
	close(g.release)

	assert.ErrorIs(t, <-errs, ErrReset)
	assert.Nil(t, coord.Current())
	assert.Equal(t, int32(1), cleared.Load())
	assert.Equal(t, StateIdle, coord.Status().State)
}

func TestRefreshAfterResetStartsNewFetch(t *testing.T) {
	fake := seededFake()
	coord := NewCoordinator(fake, Options{})
	g := newGate()
	fake.ListHook = g.hook

	stale := make(chan error, 1)
	go func() {
		_, err := coord.Refresh(context.Background())
		stale <- err
	}()
	<-g.entered
	coord.Reset()

	fresh := make(chan error, 1)
	go func() {
		_, err := coord.Refresh(context.Background())
		fresh <- err
	}()
	time.Sleep(50 * time.Millisecond)
	close(g.release)

	assert.ErrorIs(t, <-stale, ErrReset)
	require.NoError(t, <-fresh)
	require.NotNil(t, coord.Current())
	assert.Equal(t, 1, coord.Current().SnippetCount())
	assert.Equal(t, uint64(1), coord.Status().Generation)
	assert.Equal(t, StateIdle, coord.Status().State)
}

func TestResetWaitsForPendingNotification(t *testing.T) {
	coord := NewCoordinator(seededFake(), Options{})
	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var seen []bool
	coord.Subscribe(func(cat *catalog.Catalog) {
		mu.Lock()
		seen = append(seen, cat != nil)
		mu.Unlock()
		if cat != nil {
			close(entered)
			<-release
		}
	})

	refreshed := make(chan error, 1)
	go func() {
		_, err := coord.Refresh(context.Background())
		refreshed <- err
	}()
	<-entered

	resetDone := make(chan struct{})
	go func() {
		coord.Reset()
		close(resetDone)
	}()
	select {
	case <-resetDone:
		t.Fatalf("reset finished while a catalog notification was still running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-resetDone
	require.NoError(t, <-refreshed)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, seen)
	assert.Nil(t, coord.Current())
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	coord := NewCoordinator(seededFake(), Options{})
	var notified atomic.Int32
	cancel := coord.Subscribe(func(*catalog.Catalog) { notified.Add(1) })
	cancel()
	_, err := coord.Refresh(context.Background())
	require.NoError(t, err)
	assert.Zero(t, notified.Load())
}

func TestEmptyStoreRefreshYieldsEmptyTree(t *testing.T) {
	coord := NewCoordinator(recordstest.New(), Options{})
	cat, err := coord.Refresh(context.Background())
	require.NoError(t, err)
	tree := catalog.NewTree(coord, recordstest.New())
	assert.Empty(t, tree.RootNodes())
	assert.Zero(t, cat.NodeCount())
}

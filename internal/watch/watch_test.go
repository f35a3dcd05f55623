package watch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/solwind/snipsync/internal/catalog"
)

type countingRefresher struct {
	calls   atomic.Int32
	mu      sync.Mutex
	reasons []string
	err     error
}

func (r *countingRefresher) Refresh(context.Context) (*catalog.Catalog, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return catalog.Empty(), nil
}

func (r *countingRefresher) record(reason string, _ *catalog.Catalog, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func (r *countingRefresher) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.reasons...)
}

type chanFeed struct {
	events chan Event
	closed atomic.Bool
}

func (f *chanFeed) Next(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case evt, ok := <-f.events:
		if !ok {
			return Event{}, errors.New("feed closed")
		}
		return evt, nil
	}
}

func (f *chanFeed) Close() error {
	f.closed.Store(true)
	return nil
}

func TestClampJitterRatio(t *testing.T) {
	assert.Equal(t, 0.0, ClampJitterRatio(-0.1))
	assert.Equal(t, 1.0, ClampJitterRatio(1.5))
	assert.Equal(t, 0.4, ClampJitterRatio(0.4))
}

func TestJitteredIntervalWithSample(t *testing.T) {
	base := 10 * time.Second
	assert.Equal(t, base, JitteredIntervalWithSample(base, 0, 0.2))
	assert.Equal(t, 8*time.Second, JitteredIntervalWithSample(base, 0.2, 0))
	assert.Equal(t, 10*time.Second, JitteredIntervalWithSample(base, 0.2, 0.5))
	assert.Equal(t, 12*time.Second, JitteredIntervalWithSample(base, 0.2, 1))
	assert.Equal(t, time.Duration(0), JitteredIntervalWithSample(0, 0.2, 1))
}

func TestRunRefreshesOnInterval(t *testing.T) {
	r := &countingRefresher{}
	w := New(r, Options{Interval: 10 * time.Millisecond, OnRefresh: r.record})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return r.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	reasons := r.seen()
	assert.Equal(t, "initial", reasons[0])
	assert.Equal(t, "interval", reasons[1])
}

func TestRunKeepsGoingAfterRefreshFailure(t *testing.T) {
	r := &countingRefresher{err: errors.New("store down")}
	w := New(r, Options{Interval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	require.Eventually(t, func() bool { return r.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestFeedEventsAreDebounced(t *testing.T) {
	r := &countingRefresher{}
	feed := &chanFeed{events: make(chan Event, 8)}
	w := New(r, Options{
		Interval: time.Hour,
		Debounce: 30 * time.Millisecond,
		Dial: func(context.Context) (Feed, error) {
			return feed, nil
		},
		OnRefresh: r.record,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Initial refresh plus the reconnect catch-up refresh.
	require.Eventually(t, func() bool { return r.calls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	for i := 0; i < 5; i++ {
		feed.events <- Event{Collection: "snippets", Action: "update", RecordID: "snip_1"}
	}
	require.Eventually(t, func() bool { return r.calls.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(3), r.calls.Load())

	cancel()
	require.NoError(t, <-done)
	assert.True(t, feed.closed.Load())
	assert.Equal(t, []string{"initial", "change", "change"}, r.seen())
}

func TestFeedReconnectsAfterDialFailure(t *testing.T) {
	r := &countingRefresher{}
	var dials atomic.Int32
	w := New(r, Options{
		Interval: 50 * time.Millisecond,
		Dial: func(context.Context) (Feed, error) {
			dials.Add(1)
			return nil, errors.New("refused")
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	require.Eventually(t, func() bool { return dials.Load() >= 2 }, 3*time.Second, 10*time.Millisecond)
}

func TestFeedURL(t *testing.T) {
	got, err := FeedURL("http://127.0.0.1:8090/")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:8090/api/realtime?collections=categories%2Csubcategories%2Csnippets", got)

	got, err = FeedURL("https://store.example/base")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "wss://store.example/base/api/realtime?"))

	_, err = FeedURL("ftp://store")
	assert.Error(t, err)
}

func TestWebsocketDialerReadsEvents(t *testing.T) {
	var gotAuth atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		_ = wsjson.Write(r.Context(), conn, Event{Seq: 4, Collection: "snippets", Action: "create", RecordID: "snip_9"})
		time.Sleep(50 * time.Millisecond)
	}))
	defer ts.Close()

	dial, err := WebsocketDialer(ts.URL, "tok", ts.Client())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	feed, err := dial(ctx)
	require.NoError(t, err)
	defer feed.Close()

	evt, err := feed.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), evt.Seq)
	assert.Equal(t, "snip_9", evt.RecordID)
	assert.Equal(t, "Bearer tok", gotAuth.Load())
}

// Package watch keeps a catalog fresh: it refreshes on a jittered interval
// and, when a change feed is available, shortly after each remote change.
package watch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/solwind/snipsync/internal/catalog"
)

type Refresher interface {
	Refresh(ctx context.Context) (*catalog.Catalog, error)
}

// Event is one change notification from the store's feed.
type Event struct {
	Seq        uint64    `json:"seq"`
	Collection string    `json:"collection"`
	Action     string    `json:"action"`
	RecordID   string    `json:"recordId"`
	At         time.Time `json:"at"`
}

// Feed yields change events until it fails or ctx ends.
type Feed interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

type Dialer func(ctx context.Context) (Feed, error)

type Options struct {
	Interval time.Duration
	Jitter   float64
	// Debounce coalesces bursts of feed events into one refresh.
	Debounce time.Duration
	Timeout  time.Duration
	// Dial is nil when only interval refreshes are wanted.
	Dial   Dialer
	Logger *zap.Logger
	// Sample returns values in [0,1) for interval jitter.
	Sample func() float64
	// OnRefresh observes every refresh the watcher issues.
	OnRefresh func(reason string, cat *catalog.Catalog, err error)
}

type Watcher struct {
	refresher Refresher
	opts      Options
	logger    *zap.Logger
	sampleMu  sync.Mutex
}

func New(refresher Refresher, opts Options) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	opts.Jitter = ClampJitterRatio(opts.Jitter)
	if opts.Debounce <= 0 {
		opts.Debounce = 250 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}
	if opts.Sample == nil {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		opts.Sample = rng.Float64
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{refresher: refresher, opts: opts, logger: logger}
}

// Run refreshes once immediately, then until ctx ends. It returns nil on
// cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	triggers := make(chan struct{}, 1)
	var wg sync.WaitGroup
	if w.opts.Dial != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.follow(ctx, triggers)
		}()
	}
	defer wg.Wait()

	w.refresh(ctx, "initial")

	timer := time.NewTimer(w.nextInterval())
	defer timer.Stop()
	var (
		debounce      *time.Timer
		debounceFired <-chan time.Time
	)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watch stopping", zap.Error(ctx.Err()))
			return nil
		case <-timer.C:
			w.refresh(ctx, "interval")
			timer.Reset(w.nextInterval())
		case <-triggers:
			if debounce == nil {
				debounce = time.NewTimer(w.opts.Debounce)
				debounceFired = debounce.C
			}
		case <-debounceFired:
			debounce, debounceFired = nil, nil
			w.refresh(ctx, "change")
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.nextInterval())
		}
	}
}

func (w *Watcher) refresh(ctx context.Context, reason string) {
	ctx, cancel := context.WithTimeout(ctx, w.opts.Timeout)
	defer cancel()
	cat, err := w.refresher.Refresh(ctx)
	if err != nil {
		w.logger.Warn("catalog refresh failed", zap.String("reason", reason), zap.Error(err))
	} else {
		w.logger.Debug("catalog refreshed", zap.String("reason", reason), zap.Int("snippets", cat.SnippetCount()))
	}
	if w.opts.OnRefresh != nil {
		w.opts.OnRefresh(reason, cat, err)
	}
}

func (w *Watcher) nextInterval() time.Duration {
	w.sampleMu.Lock()
	sample := w.opts.Sample()
	w.sampleMu.Unlock()
	return JitteredIntervalWithSample(w.opts.Interval, w.opts.Jitter, sample)
}

// follow keeps a feed connection open, reconnecting with exponential
// backoff, and signals triggers on every event.
func (w *Watcher) follow(ctx context.Context, triggers chan<- struct{}) {
	reconnect := backoff.NewExponentialBackOff()
	reconnect.InitialInterval = 500 * time.Millisecond
	reconnect.MaxInterval = w.opts.Interval
	for {
		connected := w.consume(ctx, triggers)
		if ctx.Err() != nil {
			return
		}
		if connected {
			reconnect.Reset()
		}
		delay := reconnect.NextBackOff()
		w.logger.Info("change feed disconnected", zap.Duration("retryIn", delay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// consume reads one feed connection to completion and reports whether it
// connected at all.
func (w *Watcher) consume(ctx context.Context, triggers chan<- struct{}) bool {
	feed, err := w.opts.Dial(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("change feed dial failed", zap.Error(err))
		}
		return false
	}
	defer feed.Close()
	w.logger.Info("change feed connected")
	// Events missed while disconnected are covered by refreshing once more.
	signal(triggers)
	for {
		evt, err := feed.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Warn("change feed read failed", zap.Error(err))
			}
			return true
		}
		w.logger.Debug("remote change",
			zap.String("collection", evt.Collection),
			zap.String("action", evt.Action),
			zap.String("recordId", evt.RecordID),
		)
		signal(triggers)
	}
}

func signal(triggers chan<- struct{}) {
	select {
	case triggers <- struct{}{}:
	default:
	}
}

func ClampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func JitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = ClampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}

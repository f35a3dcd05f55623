// Package session wires one client session: the record client, the
// refresh coordinator and everything that reads the catalog it holds.
package session

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/solwind/snipsync/internal/catalog"
	"github.com/solwind/snipsync/internal/config"
	"github.com/solwind/snipsync/internal/editor"
	"github.com/solwind/snipsync/internal/metrics"
	"github.com/solwind/snipsync/internal/records"
	"github.com/solwind/snipsync/internal/refresh"
	"github.com/solwind/snipsync/internal/search"
	"github.com/solwind/snipsync/internal/seed"
	"github.com/solwind/snipsync/internal/watch"
)

var ErrClosed = errors.New("session closed")

type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Collector
	// HTTPClient overrides the client built from the store timeout.
	HTTPClient *http.Client
}

type Session struct {
	cfg        config.Config
	logger     *zap.Logger
	metrics    *metrics.Collector
	httpClient *http.Client

	Client      *records.HTTPClient
	Coordinator *refresh.Coordinator
	Tree        *catalog.Tree
	Editor      *editor.Service
	Matcher     *search.Matcher

	mu     sync.Mutex
	closed bool
}

func Open(cfg config.Config, opts Options) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	collector := opts.Metrics
	if collector == nil {
		collector = metrics.NewCollector("snipsync")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Store.RequestTimeout}
	}

	client := records.NewHTTPClient(cfg.Store.BaseURL, cfg.Store.Token, httpClient, records.ClientOptions{
		PageSize:       cfg.Store.PageSize,
		SearchAttempts: cfg.Search.MaxAttempts,
		SearchDelay:    cfg.Search.Delay,
		Logger:         logger.Named("records"),
		OnSearchRetry:  collector.ObserveSearchRetry,
	})
	coordinator := refresh.NewCoordinator(client, refresh.Options{
		Logger:   logger.Named("refresh"),
		Observer: collector,
	})
	s := &Session{
		cfg:         cfg,
		logger:      logger,
		metrics:     collector,
		httpClient:  httpClient,
		Client:      client,
		Coordinator: coordinator,
		Tree:        catalog.NewTree(coordinator, client),
		Editor: editor.NewService(client, coordinator, editor.Options{
			LabelPrefix: cfg.Labels.Prefix,
			Logger:      logger.Named("editor"),
		}),
		Matcher: search.NewMatcher(client, search.Options{
			Logger:   logger.Named("search"),
			Observer: collector,
			Limit:    cfg.Search.Limit,
		}),
	}
	logger.Debug("session opened", zap.String("store", cfg.Store.BaseURL))
	return s, nil
}

func (s *Session) Config() config.Config { return s.cfg }

func (s *Session) Metrics() *metrics.Collector { return s.metrics }

// Refresh loads the catalog, failing once the session is closed.
func (s *Session) Refresh(ctx context.Context) (*catalog.Catalog, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	return s.Coordinator.Refresh(ctx)
}

func (s *Session) Seeder() *seed.Seeder {
	return seed.New(s.Client, seed.Options{
		LabelPrefix: s.cfg.Labels.Prefix,
		Logger:      s.logger.Named("seed"),
	})
}

// Watcher builds a refresh loop over the session's coordinator. The
// change feed is followed when realtime watching is enabled.
func (s *Session) Watcher(onRefresh func(reason string, cat *catalog.Catalog, err error)) (*watch.Watcher, error) {
	opts := watch.Options{
		Interval:  s.cfg.Watch.Interval,
		Jitter:    s.cfg.Watch.Jitter,
		Debounce:  s.cfg.Watch.Debounce,
		Timeout:   s.cfg.Store.RequestTimeout,
		Logger:    s.logger.Named("watch"),
		OnRefresh: onRefresh,
	}
	if s.cfg.Watch.Realtime {
		dial, err := watch.WebsocketDialer(s.cfg.Store.BaseURL, s.cfg.Store.Token, s.httpClient)
		if err != nil {
			return nil, err
		}
		opts.Dial = dial
	}
	return watch.New(s, opts), nil
}

// Deauthenticate drops the catalog. The session stays usable, so a new
// refresh loads the store again.
func (s *Session) Deauthenticate() {
	s.Coordinator.Reset()
	s.logger.Info("session deauthenticated")
}

// Close discards the catalog. Refreshes after Close fail with ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.Coordinator.Reset()
	s.logger.Debug("session closed")
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/solwind/snipsync/internal/config"
	"github.com/solwind/snipsync/internal/httpapi"
	"github.com/solwind/snipsync/internal/logging"
	"github.com/solwind/snipsync/internal/metrics"
	"github.com/solwind/snipsync/internal/recordstore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("snipstore: %v", err)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	flags := flag.NewFlagSet("snipstore", flag.ContinueOnError)
	configPath := flags.String("config", strings.TrimSpace(os.Getenv("SNIPSYNC_CONFIG")), "YAML config file")
	addr := flags.String("addr", "", "listen address (overrides server.addr)")
	mint := flags.Bool("mint-token", false, "print a signed token and exit")
	subject := flags.String("subject", "dev", "token subject for -mint-token")
	scopes := flags.String("scopes", httpapi.ScopeRead+","+httpapi.ScopeWrite, "comma-separated scopes for -mint-token")
	ttl := flags.Duration("ttl", 24*time.Hour, "token lifetime for -mint-token")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, warnings, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	secret := cfg.Server.JWTSecret
	if secret == "" {
		secret = httpapi.DefaultJWTSecret
	}

	if *mint {
		token, err := httpapi.MintToken(secret, *subject, splitScopes(*scopes), *ttl, time.Now())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, token)
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	for _, w := range warnings {
		logger.Warn("config", zap.String("warning", w))
	}
	if cfg.Server.JWTSecret == "" {
		logger.Warn("no jwt secret configured, using the development secret")
	}

	store, err := buildStore(cfg.Server, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	collector := metrics.NewCollector("snipstore")
	stopGauges := trackStoreRecords(store, collector)
	defer stopGauges()

	server := httpapi.NewServerWithConfig(store, httpapi.ServerConfig{
		JWTSecret:       secret,
		RateLimitMax:    cfg.Server.RateLimitMax,
		RateLimitWindow: cfg.Server.RateLimitWindow,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		Logger:          logger.Named("http"),
		Metrics:         collector,
	})
	defer server.Close()

	listener, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return err
	}
	return serve(ctx, listener, server, logger)
}

func buildStore(cfg config.ServerConfig, logger *zap.Logger) (*recordstore.Store, error) {
	dsn, err := cfg.StoreDSN()
	if err != nil {
		return nil, err
	}
	backend, err := recordstore.BuildStateBackendFromDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("initialize state backend: %w", err)
	}
	logger.Info("state backend ready", zap.String("dsn", redactDSN(dsn)))
	return recordstore.NewStoreWithOptions(recordstore.StoreOptions{
		StateBackend: backend,
		Logger:       logger.Named("store"),
	})
}

// trackStoreRecords keeps the per-collection record gauges current.
func trackStoreRecords(store *recordstore.Store, collector *metrics.Collector) func() {
	update := func() {
		for name, n := range store.Counts() {
			collector.SetStoreRecords(name, n)
		}
	}
	update()
	events, cancel := store.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range events {
			update()
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func serve(ctx context.Context, listener net.Listener, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("snipstore listening", zap.String("addr", listener.Addr().String()))
		errCh <- srv.Serve(listener)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	logger.Info("snipstore shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func splitScopes(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// redactDSN hides the password of a URL-style DSN.
func redactDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	userinfo, host, ok := strings.Cut(rest, "@")
	if !ok {
		return dsn
	}
	user, _, hasPassword := strings.Cut(userinfo, ":")
	if !hasPassword {
		return dsn
	}
	return scheme + "://" + user + ":***@" + host
}

package main

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/solwind/snipsync/internal/config"
	"github.com/solwind/snipsync/internal/httpapi"
	"github.com/solwind/snipsync/internal/metrics"
	"github.com/solwind/snipsync/internal/records"
	"github.com/solwind/snipsync/internal/recordstore"
)

func TestMintTokenPrintsSignedToken(t *testing.T) {
	t.Setenv("SNIPSTORE_JWT_SECRET", "unit-secret")
	var out bytes.Buffer
	if err := run(context.Background(), []string{"-mint-token", "-subject", "alice", "-scopes", "records:read", "-ttl", "1h"}, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	raw := strings.TrimSpace(out.String())
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return []byte("unit-secret"), nil })
	if err != nil {
		t.Fatalf("parse minted token: %v", err)
	}
	if claims["sub"] != "alice" {
		t.Fatalf("expected subject alice, got %v", claims["sub"])
	}
	scopes, _ := claims["scopes"].([]any)
	if len(scopes) != 1 || scopes[0] != "records:read" {
		t.Fatalf("expected read scope only, got %v", claims["scopes"])
	}
}

func TestRunRejectsBadFlags(t *testing.T) {
	if err := run(context.Background(), []string{"-no-such-flag"}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected flag error")
	}
}

func TestBuildStoreFromProfiles(t *testing.T) {
	dir := t.TempDir()
	for _, profile := range []string{"memory", "durable-local", "sqlite"} {
		store, err := buildStore(config.ServerConfig{BackendProfile: profile, DataDir: dir}, zap.NewNop())
		if err != nil {
			t.Fatalf("profile %s: %v", profile, err)
		}
		if _, err := store.Create(records.CollectionCategories, map[string]any{"name": "ui"}); err != nil {
			t.Fatalf("profile %s create: %v", profile, err)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("profile %s close: %v", profile, err)
		}
	}
	reopened, err := buildStore(config.ServerConfig{BackendDSN: "file://" + filepath.Join(dir, "state.json")}, zap.NewNop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if got := reopened.Counts()[records.CollectionCategories]; got != 1 {
		t.Fatalf("expected persisted category, got %d", got)
	}

	if _, err := buildStore(config.ServerConfig{BackendProfile: "production"}, zap.NewNop()); err == nil {
		t.Fatalf("expected production profile without dsn to fail")
	}
}

func TestTrackStoreRecordsFollowsChanges(t *testing.T) {
	store := recordstore.NewStore()
	defer store.Close()
	collector := metrics.NewCollector("snipstore")
	stop := trackStoreRecords(store, collector)
	if _, err := store.Create(records.CollectionCategories, map[string]any{"name": "ui"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if gaugeValue(t, collector, records.CollectionCategories) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("gauge never reached 1")
		}
		time.Sleep(5 * time.Millisecond)
	}
	stop()
}

func TestServeShutsDownOnCancel(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	store := recordstore.NewStore()
	defer store.Close()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, listener, httpapi.NewServer(store), zap.NewNop()) }()

	url := "http://" + listener.Addr().String() + "/health"
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("expected 200 from health, got %d", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("serve returned %v", err)
	}
}

func TestSplitScopes(t *testing.T) {
	got := splitScopes(" records:read, ,records:write ")
	if len(got) != 2 || got[0] != "records:read" || got[1] != "records:write" {
		t.Fatalf("unexpected scopes %v", got)
	}
}

func TestRedactDSN(t *testing.T) {
	cases := map[string]string{
		"postgres://app:hunter2@db:5432/snip": "postgres://app:***@db:5432/snip",
		"postgres://app@db/snip":              "postgres://app@db/snip",
		"memory://":                           "memory://",
		"sqlite:///tmp/x.db":                  "sqlite:///tmp/x.db",
	}
	for in, want := range cases {
		if got := redactDSN(in); got != want {
			t.Fatalf("redactDSN(%q) = %q, want %q", in, got, want)
		}
	}
}

func gaugeValue(t *testing.T, c *metrics.Collector, collection string) float64 {
	t.Helper()
	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != "snipstore_store_records" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "collection" && l.GetValue() == collection {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	return -1
}

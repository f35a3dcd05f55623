package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type envReader struct {
	lookup   func(string) (string, bool)
	warnings []string
}

func newEnvReader(lookup func(string) (string, bool)) *envReader {
	return &envReader{lookup: lookup}
}

func (e *envReader) apply(cfg *Config) {
	e.stringVar("SNIPSYNC_STORE_URL", &cfg.Store.BaseURL)
	e.stringVar("SNIPSYNC_TOKEN", &cfg.Store.Token)
	e.durationVar("SNIPSYNC_REQUEST_TIMEOUT", &cfg.Store.RequestTimeout)
	e.intVar("SNIPSYNC_PAGE_SIZE", &cfg.Store.PageSize)
	e.intVar("SNIPSYNC_SEARCH_ATTEMPTS", &cfg.Search.MaxAttempts)
	e.durationVar("SNIPSYNC_SEARCH_DELAY", &cfg.Search.Delay)
	e.intVar("SNIPSYNC_SEARCH_LIMIT", &cfg.Search.Limit)
	e.stringVar("SNIPSYNC_LABEL_PREFIX", &cfg.Labels.Prefix)
	e.stringVar("SNIPSYNC_LOG_LEVEL", &cfg.Log.Level)
	e.stringVar("SNIPSYNC_LOG_FORMAT", &cfg.Log.Format)
	e.durationVar("SNIPSYNC_WATCH_INTERVAL", &cfg.Watch.Interval)
	e.floatVar("SNIPSYNC_WATCH_JITTER", &cfg.Watch.Jitter)
	e.boolVar("SNIPSYNC_WATCH_REALTIME", &cfg.Watch.Realtime)
	e.durationVar("SNIPSYNC_WATCH_DEBOUNCE", &cfg.Watch.Debounce)

	e.stringVar("SNIPSTORE_ADDR", &cfg.Server.Addr)
	e.stringVar("SNIPSTORE_BACKEND_PROFILE", &cfg.Server.BackendProfile)
	e.stringVar("SNIPSTORE_BACKEND_DSN", &cfg.Server.BackendDSN)
	e.stringVar("SNIPSTORE_DATA_DIR", &cfg.Server.DataDir)
	e.stringVar("SNIPSTORE_JWT_SECRET", &cfg.Server.JWTSecret)
	e.intVar("SNIPSTORE_RATE_LIMIT_MAX", &cfg.Server.RateLimitMax)
	e.durationVar("SNIPSTORE_RATE_LIMIT_WINDOW", &cfg.Server.RateLimitWindow)
	e.int64Var("SNIPSTORE_MAX_BODY_BYTES", &cfg.Server.MaxBodyBytes)
}

func (e *envReader) raw(name string) (string, bool) {
	raw, ok := e.lookup(name)
	if !ok {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

func (e *envReader) invalid(name, raw string, current any) {
	e.warnings = append(e.warnings, fmt.Sprintf("invalid %s=%q, keeping %v", name, raw, current))
}

func (e *envReader) stringVar(name string, dst *string) {
	if raw, ok := e.raw(name); ok {
		*dst = raw
	}
}

func (e *envReader) intVar(name string, dst *int) {
	raw, ok := e.raw(name)
	if !ok {
		return
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		e.invalid(name, raw, *dst)
		return
	}
	*dst = value
}

func (e *envReader) int64Var(name string, dst *int64) {
	raw, ok := e.raw(name)
	if !ok {
		return
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		e.invalid(name, raw, *dst)
		return
	}
	*dst = value
}

func (e *envReader) floatVar(name string, dst *float64) {
	raw, ok := e.raw(name)
	if !ok {
		return
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.invalid(name, raw, *dst)
		return
	}
	*dst = value
}

func (e *envReader) boolVar(name string, dst *bool) {
	raw, ok := e.raw(name)
	if !ok {
		return
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		e.invalid(name, raw, *dst)
		return
	}
	*dst = value
}

func (e *envReader) durationVar(name string, dst *time.Duration) {
	raw, ok := e.raw(name)
	if !ok {
		return
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		e.invalid(name, raw, dst.String())
		return
	}
	*dst = value
}

package recordstore

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// StateBackendFactory builds a backend from a full DSN.
type StateBackendFactory func(dsn string) (StateBackend, error)

type backendOpener func(u *url.URL, raw string) (StateBackend, error)

var builtinBackends = map[string]backendOpener{
	"":         openFileBackend,
	"file":     openFileBackend,
	"memory":   openMemoryBackend,
	"mem":      openMemoryBackend,
	"inmem":    openMemoryBackend,
	"postgres": openPostgresBackend,
	"sqlite":   openSQLiteBackend,
}

var backendAliases = map[string]string{
	"postgresql": "postgres",
	"sqlite3":    "sqlite",
}

var customBackends sync.Map // scheme -> StateBackendFactory

// RegisterStateBackendFactory installs a factory for scheme. Registered
// factories take precedence over the built-in schemes.
func RegisterStateBackendFactory(scheme string, factory StateBackendFactory) {
	scheme = canonicalScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	customBackends.Store(scheme, factory)
}

func canonicalScheme(scheme string) string {
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	if alias, ok := backendAliases[scheme]; ok {
		return alias
	}
	return scheme
}

// BuildStateBackendFromDSN returns nil for an empty DSN, which keeps the
// store purely in memory with no snapshotting.
func BuildStateBackendFromDSN(dsn string) (StateBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse state backend dsn: %w", err)
	}
	scheme := canonicalScheme(u.Scheme)
	if f, ok := customBackends.Load(scheme); ok {
		return f.(StateBackendFactory)(dsn)
	}
	if scheme == "mysql" {
		return nil, fmt.Errorf("%w: state backend %s", ErrNotImplemented, scheme)
	}
	open, ok := builtinBackends[scheme]
	if !ok {
		return nil, fmt.Errorf("unsupported state backend scheme: %s", scheme)
	}
	return open(u, dsn)
}

func openMemoryBackend(*url.URL, string) (StateBackend, error) {
	return NewInMemoryStateBackend(), nil
}

func openPostgresBackend(_ *url.URL, raw string) (StateBackend, error) {
	return NewPostgresStateBackend(raw)
}

func openFileBackend(u *url.URL, raw string) (StateBackend, error) {
	path, err := localPath(u, raw)
	if err != nil {
		return nil, err
	}
	return NewJSONFileStateBackend(path), nil
}

func openSQLiteBackend(u *url.URL, raw string) (StateBackend, error) {
	path, err := localPath(u, raw)
	if err != nil {
		return nil, err
	}
	return NewSQLiteStateBackend(path)
}

// localPath accepts bare paths, scheme://abs/path and scheme://rel/path
// where the first relative segment lands in the URL host.
func localPath(u *url.URL, raw string) (string, error) {
	var path string
	switch {
	case u.Scheme == "":
		path = raw
	case u.Opaque != "":
		path = u.Opaque
	default:
		path = u.Host + u.Path
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}

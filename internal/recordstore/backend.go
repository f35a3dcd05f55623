package recordstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const snapshotFormat = 1

// persistedState is everything a backend needs to rebuild a store.
type persistedState struct {
	EventCounter uint64              `json:"eventCounter"`
	Collections  map[string][]Record `json:"collections"`
}

// StateBackend persists whole-store snapshots. Load returns nil, nil when
// nothing has been saved yet.
type StateBackend interface {
	Load() (*persistedState, error)
	Save(state *persistedState) error
}

type stateBackendCloser interface {
	Close() error
}

type snapshotEnvelope struct {
	Format int `json:"format"`
	persistedState
}

func encodeSnapshot(state *persistedState) ([]byte, error) {
	return json.Marshal(snapshotEnvelope{Format: snapshotFormat, persistedState: *state})
}

func decodeSnapshot(data []byte) (*persistedState, error) {
	var env snapshotEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	// Format 0 is a bare state object without the envelope field.
	if env.Format > snapshotFormat {
		return nil, fmt.Errorf("snapshot format %d is newer than %d", env.Format, snapshotFormat)
	}
	if env.Collections == nil {
		env.Collections = map[string][]Record{}
	}
	return &env.persistedState, nil
}

// InMemoryStateBackend keeps the last snapshot as encoded bytes so callers
// never share record maps with it.
type InMemoryStateBackend struct {
	mu   sync.Mutex
	data []byte
}

func NewInMemoryStateBackend() *InMemoryStateBackend {
	return &InMemoryStateBackend{}
}

func (b *InMemoryStateBackend) Load() (*persistedState, error) {
	b.mu.Lock()
	data := b.data
	b.mu.Unlock()
	if data == nil {
		return nil, nil
	}
	return decodeSnapshot(data)
}

func (b *InMemoryStateBackend) Save(state *persistedState) error {
	if state == nil {
		return nil
	}
	data, err := encodeSnapshot(state)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.data = data
	b.mu.Unlock()
	return nil
}

// JSONFileStateBackend writes the snapshot to a temp file in the target
// directory and renames it over Path.
type JSONFileStateBackend struct {
	Path string
}

func NewJSONFileStateBackend(path string) *JSONFileStateBackend {
	return &JSONFileStateBackend{Path: strings.TrimSpace(path)}
}

func (b *JSONFileStateBackend) Load() (*persistedState, error) {
	if b.Path == "" {
		return nil, ErrInvalidInput
	}
	data, err := os.ReadFile(b.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(data)
}

func (b *JSONFileStateBackend) Save(state *persistedState) error {
	if b.Path == "" {
		return ErrInvalidInput
	}
	if state == nil {
		return nil
	}
	data, err := encodeSnapshot(state)
	if err != nil {
		return err
	}
	dir := filepath.Dir(b.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(b.Path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), b.Path)
}

func (s *Store) loadFromBackend() error {
	if s.stateBackend == nil {
		return nil
	}
	snapshot, err := s.stateBackend.Load()
	if err != nil || snapshot == nil {
		return err
	}
	s.eventCounter = snapshot.EventCounter
	for _, name := range Collections() {
		s.collections[name] = snapshot.Collections[name]
		s.reindexLocked(name)
	}
	return nil
}

// persistLocked hands the backend a deep copy of every collection. A failed
// save is logged; memory stays authoritative until the next save succeeds.
func (s *Store) persistLocked() {
	if s.stateBackend == nil {
		return
	}
	state := &persistedState{
		EventCounter: s.eventCounter,
		Collections:  make(map[string][]Record, len(s.collections)),
	}
	for name, rows := range s.collections {
		copied := make([]Record, 0, len(rows))
		for _, rec := range rows {
			copied = append(copied, rec.clone())
		}
		state.Collections[name] = copied
	}
	if err := s.stateBackend.Save(state); err != nil {
		s.logger.Error("persist store state",
			zap.Uint64("event_counter", state.EventCounter),
			zap.Error(err))
	}
}

// Package recordstore is the reference record store behind the REST API:
// three collections of string-valued records with relation checks,
// filtering, sorting, pagination and a change feed.
package recordstore

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/solwind/snipsync/internal/records"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnknownCollection = errors.New("unknown collection")
	ErrNotImplemented    = errors.New("not implemented")
)

// FieldError is a rejected field of a create or update request.
type FieldError struct {
	Field   string
	Message string
}

type InvalidRecordError struct {
	Collection string
	Fields     []FieldError
}

func (e *InvalidRecordError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("invalid %s record: %s", e.Collection, strings.Join(parts, "; "))
}

func (e *InvalidRecordError) Is(target error) bool {
	return target == ErrInvalidInput
}

// Record is one stored row. Every value is a string; "id", "created" and
// "updated" are maintained by the store.
type Record map[string]string

func (r Record) clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

type fieldSpec struct {
	name     string
	required bool
	relation string
	maxLen   int
}

type collectionSpec struct {
	name   string
	fields []fieldSpec
}

func (c collectionSpec) field(name string) (fieldSpec, bool) {
	for _, f := range c.fields {
		if f.name == name {
			return f, true
		}
	}
	return fieldSpec{}, false
}

func (c collectionSpec) known(name string) bool {
	switch name {
	case "id", "created", "updated":
		return true
	}
	_, ok := c.field(name)
	return ok
}

var collectionSpecs = map[string]collectionSpec{
	records.CollectionCategories: {
		name: records.CollectionCategories,
		fields: []fieldSpec{
			{name: "name", required: true, maxLen: 200},
		},
	},
	records.CollectionSubcategories: {
		name: records.CollectionSubcategories,
		fields: []fieldSpec{
			{name: "name", required: true, maxLen: 200},
			{name: "category", required: true, relation: records.CollectionCategories},
		},
	},
	records.CollectionSnippets: {
		name: records.CollectionSnippets,
		fields: []fieldSpec{
			{name: "name", maxLen: 200},
			{name: "label", required: true, maxLen: 120},
			{name: "description", maxLen: 2000},
			{name: "insertText", maxLen: 1 << 20},
			{name: "category", required: true, relation: records.CollectionCategories},
			{name: "subcategory", relation: records.CollectionSubcategories},
		},
	},
}

// Collections lists the collection names in dependency order.
func Collections() []string {
	return []string{records.CollectionCategories, records.CollectionSubcategories, records.CollectionSnippets}
}

type StoreOptions struct {
	StateBackend StateBackend
	Logger       *zap.Logger
	// EventBuffer is the per-subscriber channel size.
	EventBuffer int
	Now         func() time.Time
}

type Store struct {
	mu           sync.RWMutex
	collections  map[string][]Record
	index        map[string]map[string]int
	eventCounter uint64
	stateBackend StateBackend
	logger       *zap.Logger
	now          func() time.Time

	subMu       sync.Mutex
	subscribers map[uint64]chan ChangeEvent
	nextSubID   uint64
	eventBuffer int
	dropped     uint64
}

func NewStore() *Store {
	s, _ := NewStoreWithOptions(StoreOptions{})
	return s
}

func NewStoreWithOptions(opts StoreOptions) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	eventBuffer := opts.EventBuffer
	if eventBuffer <= 0 {
		eventBuffer = 64
	}
	s := &Store{
		collections:  map[string][]Record{},
		index:        map[string]map[string]int{},
		stateBackend: opts.StateBackend,
		logger:       logger,
		now:          now,
		subscribers:  map[uint64]chan ChangeEvent{},
		eventBuffer:  eventBuffer,
	}
	for _, name := range Collections() {
		s.index[name] = map[string]int{}
	}
	if err := s.loadFromBackend(); err != nil {
		return nil, fmt.Errorf("load store state: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.subMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subMu.Unlock()
	if closer, ok := s.stateBackend.(stateBackendCloser); ok {
		return closer.Close()
	}
	return nil
}

func spec(collection string) (collectionSpec, error) {
	c, ok := collectionSpecs[collection]
	if !ok {
		return collectionSpec{}, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	return c, nil
}

// Counts returns the number of records per collection.
func (s *Store) Counts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.collections))
	for _, name := range Collections() {
		out[name] = len(s.collections[name])
	}
	return out
}

func (s *Store) lookupLocked(collection, id string) (Record, bool) {
	i, ok := s.index[collection][id]
	if !ok {
		return nil, false
	}
	return s.collections[collection][i], true
}

func (s *Store) Get(collection, id string, opts ViewOptions) (map[string]any, error) {
	c, err := spec(collection)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.lookupLocked(collection, id)
	if !ok {
		return nil, ErrNotFound
	}
	return s.viewLocked(c, rec, opts), nil
}

func (s *Store) Create(collection string, input map[string]any) (map[string]any, error) {
	c, err := spec(collection)
	if err != nil {
		return nil, err
	}
	values, err := coerceInput(c, input)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	rec := Record{}
	for _, f := range c.fields {
		rec[f.name] = values[f.name]
	}
	if err := s.checkLocked(c, rec); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	now := s.timestamp()
	rec["id"] = uuid.NewString()
	rec["created"] = now
	rec["updated"] = now
	s.collections[collection] = append(s.collections[collection], rec)
	s.index[collection][rec["id"]] = len(s.collections[collection]) - 1
	events := []ChangeEvent{s.eventLocked(collection, ActionCreate, rec["id"])}
	s.persistLocked()
	out := s.viewLocked(c, rec, ViewOptions{})
	s.mu.Unlock()

	s.publish(events)
	return out, nil
}

// Update applies the fields present in input. Absent fields keep their
// values; an empty string clears an optional field.
func (s *Store) Update(collection, id string, input map[string]any) (map[string]any, error) {
	c, err := spec(collection)
	if err != nil {
		return nil, err
	}
	values, err := coerceInput(c, input)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	existing, ok := s.lookupLocked(collection, id)
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	rec := existing.clone()
	for name, value := range values {
		rec[name] = value
	}
	if err := s.checkLocked(c, rec); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if collection == records.CollectionSubcategories && rec["category"] != existing["category"] &&
		len(s.matchingLocked(records.CollectionSnippets, "subcategory", id)) > 0 {
		s.mu.Unlock()
		return nil, &InvalidRecordError{Collection: collection, Fields: []FieldError{{Field: "category", Message: "cannot move a subcategory that holds snippets"}}}
	}
	rec["updated"] = s.timestamp()
	s.collections[collection][s.index[collection][id]] = rec
	events := []ChangeEvent{s.eventLocked(collection, ActionUpdate, id)}
	s.persistLocked()
	out := s.viewLocked(c, rec, ViewOptions{})
	s.mu.Unlock()

	s.publish(events)
	return out, nil
}

// Delete removes a record. Deleting a category also deletes its
// subcategories and snippets; deleting a subcategory moves its snippets up
// to their category.
func (s *Store) Delete(collection, id string) error {
	if _, err := spec(collection); err != nil {
		return err
	}
	s.mu.Lock()
	if _, ok := s.lookupLocked(collection, id); !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	var events []ChangeEvent
	switch collection {
	case records.CollectionCategories:
		for _, sub := range s.matchingLocked(records.CollectionSubcategories, "category", id) {
			events = append(events, s.deleteSnippetsLocked("subcategory", sub)...)
			s.removeLocked(records.CollectionSubcategories, sub)
			events = append(events, s.eventLocked(records.CollectionSubcategories, ActionDelete, sub))
		}
		events = append(events, s.deleteSnippetsLocked("category", id)...)
	case records.CollectionSubcategories:
		now := s.timestamp()
		for _, snippetID := range s.matchingLocked(records.CollectionSnippets, "subcategory", id) {
			rec := s.collections[records.CollectionSnippets][s.index[records.CollectionSnippets][snippetID]]
			rec["subcategory"] = ""
			rec["updated"] = now
			events = append(events, s.eventLocked(records.CollectionSnippets, ActionUpdate, snippetID))
		}
	}
	s.removeLocked(collection, id)
	events = append(events, s.eventLocked(collection, ActionDelete, id))
	s.persistLocked()
	s.mu.Unlock()

	s.publish(events)
	return nil
}

func (s *Store) deleteSnippetsLocked(field, value string) []ChangeEvent {
	var events []ChangeEvent
	for _, snippetID := range s.matchingLocked(records.CollectionSnippets, field, value) {
		s.removeLocked(records.CollectionSnippets, snippetID)
		events = append(events, s.eventLocked(records.CollectionSnippets, ActionDelete, snippetID))
	}
	return events
}

func (s *Store) matchingLocked(collection, field, value string) []string {
	var ids []string
	for _, rec := range s.collections[collection] {
		if rec[field] == value {
			ids = append(ids, rec["id"])
		}
	}
	return ids
}

func (s *Store) removeLocked(collection, id string) {
	i, ok := s.index[collection][id]
	if !ok {
		return
	}
	rows := s.collections[collection]
	s.collections[collection] = append(rows[:i], rows[i+1:]...)
	s.reindexLocked(collection)
}

func (s *Store) reindexLocked(collection string) {
	idx := make(map[string]int, len(s.collections[collection]))
	for i, rec := range s.collections[collection] {
		idx[rec["id"]] = i
	}
	s.index[collection] = idx
}

// checkLocked validates required fields and relations of a complete record.
func (s *Store) checkLocked(c collectionSpec, rec Record) error {
	var problems []FieldError
	for _, f := range c.fields {
		value := rec[f.name]
		if f.required && strings.TrimSpace(value) == "" {
			problems = append(problems, FieldError{Field: f.name, Message: "is required"})
			continue
		}
		if f.maxLen > 0 && len(value) > f.maxLen {
			problems = append(problems, FieldError{Field: f.name, Message: fmt.Sprintf("must be at most %d bytes", f.maxLen)})
			continue
		}
		if f.relation != "" && value != "" {
			if _, ok := s.lookupLocked(f.relation, value); !ok {
				problems = append(problems, FieldError{Field: f.name, Message: fmt.Sprintf("references missing %s record %s", f.relation, value)})
			}
		}
	}
	if c.name == records.CollectionSnippets && rec["subcategory"] != "" {
		if sub, ok := s.lookupLocked(records.CollectionSubcategories, rec["subcategory"]); ok && sub["category"] != rec["category"] {
			problems = append(problems, FieldError{Field: "subcategory", Message: "belongs to another category"})
		}
	}
	if len(problems) > 0 {
		return &InvalidRecordError{Collection: c.name, Fields: problems}
	}
	return nil
}

// coerceInput keeps the writable fields of input. Unknown fields and
// non-string values are rejected.
func coerceInput(c collectionSpec, input map[string]any) (map[string]string, error) {
	out := map[string]string{}
	var problems []FieldError
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if _, ok := c.field(key); !ok {
			if c.known(key) {
				continue
			}
			problems = append(problems, FieldError{Field: key, Message: "is not a field of " + c.name})
			continue
		}
		switch v := input[key].(type) {
		case nil:
			out[key] = ""
		case string:
			out[key] = v
		default:
			problems = append(problems, FieldError{Field: key, Message: "must be a string"})
		}
	}
	if len(problems) > 0 {
		return nil, &InvalidRecordError{Collection: c.name, Fields: problems}
	}
	return out, nil
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

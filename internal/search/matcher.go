// Package search turns a typed term into completion candidates.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/solwind/snipsync/internal/records"
)

var ErrUnavailable = errors.New("snippet search unavailable")

// UnavailableError means the store could not be reached even after the
// search retries were spent.
type UnavailableError struct {
	Term string
	Err  error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("search %q: %v", e.Term, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

type Completion struct {
	Label         string
	Detail        string
	Documentation string
	InsertText    string
}

type Searcher interface {
	SearchSnippets(ctx context.Context, term string) ([]records.Snippet, error)
}

type Observer interface {
	ObserveSearch(outcome string)
}

const (
	OutcomeMatched     = "matched"
	OutcomeEmpty       = "empty"
	OutcomeUnavailable = "unavailable"
	OutcomeFailed      = "failed"
)

type Options struct {
	Logger   *zap.Logger
	Observer Observer
	// Limit caps the number of completions; zero means no cap.
	Limit int
}

type Matcher struct {
	searcher Searcher
	logger   *zap.Logger
	observer Observer
	limit    int
}

func NewMatcher(searcher Searcher, opts Options) *Matcher {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{searcher: searcher, logger: logger, observer: opts.Observer, limit: opts.Limit}
}

// Match returns completions for term. A blank term or no matches yields an
// empty list and a nil error.
func (m *Matcher) Match(ctx context.Context, term string) ([]Completion, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return []Completion{}, nil
	}
	found, err := m.searcher.SearchSnippets(ctx, term)
	switch {
	case err == nil:
	case errors.Is(err, records.ErrNotFound):
		m.observe(OutcomeEmpty)
		return []Completion{}, nil
	case errors.Is(err, records.ErrNetwork):
		m.observe(OutcomeUnavailable)
		m.logger.Warn("snippet search unavailable", zap.String("term", term), zap.Error(err))
		return []Completion{}, &UnavailableError{Term: term, Err: err}
	default:
		m.observe(OutcomeFailed)
		return []Completion{}, fmt.Errorf("search %q: %w", term, err)
	}

	rank(found, term)
	if m.limit > 0 && len(found) > m.limit {
		found = found[:m.limit]
	}
	out := make([]Completion, 0, len(found))
	for _, s := range found {
		out = append(out, Completion{
			Label:         s.Label,
			Detail:        detail(s),
			Documentation: Document(s.InsertText),
			InsertText:    s.InsertText,
		})
	}
	if len(out) == 0 {
		m.observe(OutcomeEmpty)
	} else {
		m.observe(OutcomeMatched)
	}
	return out, nil
}

func (m *Matcher) observe(outcome string) {
	if m.observer != nil {
		m.observer.ObserveSearch(outcome)
	}
}

func detail(s records.Snippet) string {
	if s.Description != "" {
		return s.Description
	}
	return s.Name
}

// rank puts labels that start with term first, then shorter labels, then
// alphabetical order.
func rank(items []records.Snippet, term string) {
	needle := strings.ToLower(term)
	sort.SliceStable(items, func(i, j int) bool {
		a, b := strings.ToLower(items[i].Label), strings.ToLower(items[j].Label)
		ap, bp := prefixed(a, needle), prefixed(b, needle)
		if ap != bp {
			return ap
		}
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return a < b
	})
}

// prefixed matches term at the start of the label or right after the
// label prefix, so "btn" ranks "sw-btn" as a prefix match.
func prefixed(label, term string) bool {
	if strings.HasPrefix(label, term) {
		return true
	}
	_, rest, ok := strings.Cut(label, "-")
	return ok && strings.HasPrefix(rest, term)
}

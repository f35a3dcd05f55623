package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/solwind/snipsync/internal/records"
)

var (
	ErrUnknownNode = errors.New("unknown tree node")
	ErrNotSnippet  = errors.New("tree node is not a snippet")
)

// Source supplies the current catalog snapshot, or nil before the first
// successful fetch.
type Source interface {
	Current() *Catalog
}

type SnippetLoader interface {
	GetSnippet(ctx context.Context, id string) (records.Snippet, error)
}

// Tree answers navigation queries against whatever snapshot is current at
// the moment of the call.
type Tree struct {
	source Source
	loader SnippetLoader
}

func NewTree(source Source, loader SnippetLoader) *Tree {
	return &Tree{source: source, loader: loader}
}

func (t *Tree) RootNodes() []Node {
	return t.source.Current().Roots()
}

// Children returns the children of key. Unknown keys and keys from an
// earlier snapshot that no longer exist yield an empty list.
func (t *Tree) Children(key string) []Node {
	nodes, _ := t.source.Current().Children(key)
	return nodes
}

func (t *Tree) Lookup(key string) (Node, bool) {
	return t.source.Current().Lookup(key)
}

// Open loads the full snippet behind a leaf node, including its insert text.
func (t *Tree) Open(ctx context.Context, key string) (records.Snippet, error) {
	kind, id, ok := ParseKey(key)
	if !ok {
		return records.Snippet{}, fmt.Errorf("%w: %q", ErrUnknownNode, key)
	}
	if kind != KindSnippet {
		return records.Snippet{}, fmt.Errorf("%w: %q", ErrNotSnippet, key)
	}
	return t.loader.GetSnippet(ctx, id)
}

// Package catalog projects flat store records into the category,
// subcategory and snippet hierarchy shown to users.
package catalog

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/solwind/snipsync/internal/records"
)

type Kind string

const (
	KindCategory    Kind = "category"
	KindSubcategory Kind = "subcategory"
	KindSnippet     Kind = "snippet"
)

// Node is one entry of the tree. Keys are "kind/id" so ids from different
// collections never collide.
type Node struct {
	Key           string
	Kind          Kind
	ID            string
	Name          string
	Label         string
	Description   string
	ParentKey     string
	CategoryID    string
	SubcategoryID string
	// ChildCount is the number of direct children; SnippetCount the number
	// of snippets anywhere below. Both are zero for snippets.
	ChildCount   int
	SnippetCount int
}

func (n Node) Expandable() bool {
	return n.Kind != KindSnippet
}

func Key(kind Kind, id string) string {
	return string(kind) + "/" + id
}

func ParseKey(key string) (Kind, string, bool) {
	kind, id, ok := strings.Cut(key, "/")
	if !ok || id == "" {
		return "", "", false
	}
	switch Kind(kind) {
	case KindCategory, KindSubcategory, KindSnippet:
		return Kind(kind), id, true
	}
	return "", "", false
}

type entry struct {
	node     Node
	children []string
}

// Catalog is an immutable snapshot. It is replaced, never mutated, when
// the store is fetched again.
type Catalog struct {
	roots         []string
	nodes         map[string]*entry
	categories    []records.Category
	subcategories []records.Subcategory
	snippets      int
}

func Empty() *Catalog {
	return &Catalog{nodes: map[string]*entry{}}
}

// Project builds a catalog from the three collections. Input order is kept.
// Subcategories whose category is unknown are dropped, and so are snippets
// that resolve to neither a subcategory nor a category. A snippet whose
// subcategory is unknown falls back to its category. A resolvable
// subcategory always wins and its owner becomes the snippet's category,
// whatever the snippet's own category field says. When an id repeats
// within a collection the last record wins and takes the last position.
func Project(categories []records.Category, subcategories []records.Subcategory, snippets []records.Snippet) *Catalog {
	categories = lastWins(categories, func(c records.Category) string { return c.ID })
	subcategories = lastWins(subcategories, func(s records.Subcategory) string { return s.ID })
	snippets = lastWins(snippets, func(s records.Snippet) string { return s.ID })

	c := &Catalog{nodes: make(map[string]*entry, len(categories)+len(subcategories)+len(snippets))}
	for _, category := range categories {
		key := Key(KindCategory, category.ID)
		c.nodes[key] = &entry{node: Node{
			Key:        key,
			Kind:       KindCategory,
			ID:         category.ID,
			Name:       category.Name,
			Label:      DisplayName(category.Name),
			CategoryID: category.ID,
		}}
		c.roots = append(c.roots, key)
		c.categories = append(c.categories, category)
	}

	for _, sub := range subcategories {
		parentKey := Key(KindCategory, sub.CategoryID)
		parent, ok := c.nodes[parentKey]
		if !ok {
			continue
		}
		key := Key(KindSubcategory, sub.ID)
		c.nodes[key] = &entry{node: Node{
			Key:           key,
			Kind:          KindSubcategory,
			ID:            sub.ID,
			Name:          sub.Name,
			Label:         DisplayName(sub.Name),
			ParentKey:     parentKey,
			CategoryID:    sub.CategoryID,
			SubcategoryID: sub.ID,
		}}
		parent.children = append(parent.children, key)
		c.subcategories = append(c.subcategories, sub)
	}

	// Direct snippets are collected separately so they follow every
	// subcategory of their category.
	direct := make(map[string][]string)
	for _, snippet := range snippets {
		parentKey := ""
		subcategoryID := ""
		categoryID := snippet.CategoryID
		if snippet.SubcategoryID != "" {
			if sub, ok := c.nodes[Key(KindSubcategory, snippet.SubcategoryID)]; ok {
				parentKey = sub.node.Key
				subcategoryID = snippet.SubcategoryID
				categoryID = sub.node.CategoryID
			}
		}
		if parentKey == "" {
			if _, ok := c.nodes[Key(KindCategory, snippet.CategoryID)]; !ok {
				continue
			}
			parentKey = Key(KindCategory, snippet.CategoryID)
		}
		key := Key(KindSnippet, snippet.ID)
		c.nodes[key] = &entry{node: Node{
			Key:           key,
			Kind:          KindSnippet,
			ID:            snippet.ID,
			Name:          snippet.Name,
			Label:         snippet.Label,
			Description:   snippet.Description,
			ParentKey:     parentKey,
			CategoryID:    categoryID,
			SubcategoryID: subcategoryID,
		}}
		c.snippets++
		if subcategoryID != "" {
			c.nodes[parentKey].children = append(c.nodes[parentKey].children, key)
		} else {
			direct[parentKey] = append(direct[parentKey], key)
		}
	}

	for _, rootKey := range c.roots {
		root := c.nodes[rootKey]
		root.children = append(root.children, direct[rootKey]...)
		for _, childKey := range root.children {
			child := c.nodes[childKey]
			if child.node.Kind == KindSubcategory {
				child.node.ChildCount = len(child.children)
				child.node.SnippetCount = len(child.children)
				root.node.SnippetCount += len(child.children)
			} else {
				root.node.SnippetCount++
			}
		}
		root.node.ChildCount = len(root.children)
	}
	return c
}

func lastWins[T any](items []T, id func(T) string) []T {
	last := make(map[string]int, len(items))
	for i, item := range items {
		last[id(item)] = i
	}
	if len(last) == len(items) {
		return items
	}
	out := make([]T, 0, len(last))
	for i, item := range items {
		if last[id(item)] == i {
			out = append(out, item)
		}
	}
	return out
}

func (c *Catalog) nodesFor(keys []string) []Node {
	out := make([]Node, 0, len(keys))
	for _, key := range keys {
		out = append(out, c.nodes[key].node)
	}
	return out
}

func (c *Catalog) Roots() []Node {
	if c == nil {
		return []Node{}
	}
	return c.nodesFor(c.roots)
}

// Children returns the direct children of key, or false when key is not
// part of this catalog.
func (c *Catalog) Children(key string) ([]Node, bool) {
	if c == nil {
		return []Node{}, false
	}
	e, ok := c.nodes[key]
	if !ok {
		return []Node{}, false
	}
	return c.nodesFor(e.children), true
}

func (c *Catalog) Lookup(key string) (Node, bool) {
	if c == nil {
		return Node{}, false
	}
	e, ok := c.nodes[key]
	if !ok {
		return Node{}, false
	}
	return e.node, true
}

// Categories returns the categories that made it into the tree, in order.
func (c *Catalog) Categories() []records.Category {
	if c == nil {
		return nil
	}
	return append([]records.Category(nil), c.categories...)
}

// Subcategories returns the subcategories attached to a known category.
func (c *Catalog) Subcategories() []records.Subcategory {
	if c == nil {
		return nil
	}
	return append([]records.Subcategory(nil), c.subcategories...)
}

func (c *Catalog) SubcategoriesOf(categoryID string) []records.Subcategory {
	if c == nil {
		return nil
	}
	var out []records.Subcategory
	for _, sub := range c.subcategories {
		if sub.CategoryID == categoryID {
			out = append(out, sub)
		}
	}
	return out
}

func (c *Catalog) HasCategory(id string) bool {
	_, ok := c.Lookup(Key(KindCategory, id))
	return ok
}

// SubcategoryOf returns the category id owning subcategory id.
func (c *Catalog) SubcategoryOf(id string) (string, bool) {
	n, ok := c.Lookup(Key(KindSubcategory, id))
	if !ok {
		return "", false
	}
	return n.CategoryID, true
}

func (c *Catalog) SnippetCount() int {
	if c == nil {
		return 0
	}
	return c.snippets
}

func (c *Catalog) NodeCount() int {
	if c == nil {
		return 0
	}
	return len(c.nodes)
}

// DisplayName upper-cases the first letter of name.
func DisplayName(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError {
		return name
	}
	return string(unicode.ToUpper(r)) + name[size:]
}

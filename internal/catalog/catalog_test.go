package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solwind/snipsync/internal/records"
	"github.com/solwind/snipsync/internal/records/recordstest"
)

func keys(nodes []Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Key)
	}
	return out
}

func TestProjectBuildsHierarchy(t *testing.T) {
	cat := Project(
		[]records.Category{{ID: "c1", Name: "buttons"}, {ID: "c2", Name: "cards"}},
		[]records.Subcategory{{ID: "s1", Name: "primary", CategoryID: "c1"}},
		[]records.Snippet{
			{ID: "n1", Label: "sw-direct", CategoryID: "c1"},
			{ID: "n2", Label: "sw-nested", CategoryID: "c1", SubcategoryID: "s1"},
			{ID: "n3", Label: "sw-card", CategoryID: "c2"},
		},
	)

	roots := cat.Roots()
	assert.Equal(t, []string{"category/c1", "category/c2"}, keys(roots))
	assert.Equal(t, "Buttons", roots[0].Label)
	assert.Equal(t, 2, roots[0].ChildCount)
	assert.Equal(t, 2, roots[0].SnippetCount)

	children, ok := cat.Children("category/c1")
	require.True(t, ok)
	assert.Equal(t, []string{"subcategory/s1", "snippet/n1"}, keys(children))
	assert.True(t, children[0].Expandable())
	assert.False(t, children[1].Expandable())

	nested, ok := cat.Children("subcategory/s1")
	require.True(t, ok)
	assert.Equal(t, []string{"snippet/n2"}, keys(nested))
	assert.Equal(t, "subcategory/s1", nested[0].ParentKey)
	assert.Equal(t, 3, cat.SnippetCount())
}

func TestProjectEmptyStore(t *testing.T) {
	cat := Project(nil, nil, nil)
	assert.Empty(t, cat.Roots())
	assert.Zero(t, cat.NodeCount())
}

func TestProjectDropsOrphanSubcategory(t *testing.T) {
	cat := Project(
		[]records.Category{{ID: "c1", Name: "a"}},
		[]records.Subcategory{{ID: "s9", Name: "lost", CategoryID: "missing"}},
		[]records.Snippet{{ID: "n1", Label: "sw-x", CategoryID: "missing", SubcategoryID: "s9"}},
	)
	_, ok := cat.Lookup("subcategory/s9")
	assert.False(t, ok)
	_, ok = cat.Lookup("snippet/n1")
	assert.False(t, ok)
	assert.Empty(t, cat.Subcategories())
}

func TestProjectSnippetWithUnknownSubcategoryFallsBackToCategory(t *testing.T) {
	cat := Project(
		[]records.Category{{ID: "c1", Name: "a"}},
		nil,
		[]records.Snippet{{ID: "n1", Label: "sw-x", CategoryID: "c1", SubcategoryID: "gone"}},
	)
	children, _ := cat.Children("category/c1")
	require.Len(t, children, 1)
	assert.Equal(t, "snippet/n1", children[0].Key)
	assert.Empty(t, children[0].SubcategoryID)
}

func TestProjectSnippetWithoutCategoryResolvesThroughSubcategory(t *testing.T) {
	cat := Project(
		[]records.Category{{ID: "c1", Name: "a"}, {ID: "c2", Name: "b"}},
		[]records.Subcategory{{ID: "s1", Name: "inner", CategoryID: "c2"}},
		[]records.Snippet{{ID: "n1", Label: "sw-x", SubcategoryID: "s1"}},
	)
	node, ok := cat.Lookup("snippet/n1")
	require.True(t, ok)
	assert.Equal(t, "subcategory/s1", node.ParentKey)
	assert.Equal(t, "c2", node.CategoryID)
	roots := cat.Roots()
	assert.Equal(t, 1, roots[1].SnippetCount)
}

func TestProjectSubcategoryOwnerOverridesSnippetCategory(t *testing.T) {
	cat := Project(
		[]records.Category{{ID: "c1", Name: "a"}, {ID: "c2", Name: "b"}},
		[]records.Subcategory{{ID: "s1", Name: "inner", CategoryID: "c2"}},
		[]records.Snippet{{ID: "n2", Label: "sw-y", CategoryID: "c1", SubcategoryID: "s1"}},
	)
	nested, ok := cat.Children("subcategory/s1")
	require.True(t, ok)
	assert.Equal(t, []string{"snippet/n2"}, keys(nested))
	assert.Equal(t, "c2", nested[0].CategoryID)
	direct, _ := cat.Children("category/c1")
	assert.Empty(t, direct)
}

func TestProjectPlacesEveryResolvableSnippetOnce(t *testing.T) {
	cats := []records.Category{{ID: "c1"}, {ID: "c2"}}
	subs := []records.Subcategory{{ID: "s1", CategoryID: "c1"}, {ID: "s2", CategoryID: "c2"}, {ID: "s3", CategoryID: "x"}}
	snips := []records.Snippet{
		{ID: "a", Label: "a", CategoryID: "c1", SubcategoryID: "s1"},
		{ID: "b", Label: "b", CategoryID: "c2"},
		{ID: "c", Label: "c", CategoryID: "c2", SubcategoryID: "s2"},
		{ID: "d", Label: "d", CategoryID: "x", SubcategoryID: "s3"},
		{ID: "e", Label: "e", CategoryID: "c1", SubcategoryID: "s2"},
	}
	cat := Project(cats, subs, snips)

	seen := map[string]int{}
	var walk func(nodes []Node)
	walk = func(nodes []Node) {
		for _, n := range nodes {
			if n.Kind == KindSnippet {
				seen[n.ID]++
				continue
			}
			children, ok := cat.Children(n.Key)
			require.True(t, ok)
			walk(children)
		}
	}
	walk(cat.Roots())
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1, "e": 1}, seen)
}

func TestProjectDuplicateIDLastWins(t *testing.T) {
	cat := Project(
		[]records.Category{{ID: "c1", Name: "first"}, {ID: "c2", Name: "other"}, {ID: "c1", Name: "second"}},
		nil,
		[]records.Snippet{
			{ID: "n1", Label: "sw-old", CategoryID: "c1"},
			{ID: "n2", Label: "sw-mid", CategoryID: "c1"},
			{ID: "n1", Label: "sw-new", CategoryID: "c1"},
		},
	)
	roots := cat.Roots()
	assert.Equal(t, []string{"category/c2", "category/c1"}, keys(roots))
	assert.Equal(t, "second", roots[1].Name)

	children, _ := cat.Children("category/c1")
	require.Len(t, children, 2)
	assert.Equal(t, "sw-mid", children[0].Label)
	assert.Equal(t, "sw-new", children[1].Label)
}

func TestParseKey(t *testing.T) {
	kind, id, ok := ParseKey("snippet/abc")
	require.True(t, ok)
	assert.Equal(t, KindSnippet, kind)
	assert.Equal(t, "abc", id)

	for _, bad := range []string{"", "snippet", "snippet/", "folder/x"} {
		_, _, ok := ParseKey(bad)
		assert.False(t, ok, bad)
	}
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Buttons", DisplayName("buttons"))
	assert.Equal(t, "Élan", DisplayName("élan"))
	assert.Equal(t, "", DisplayName(""))
}

type staticSource struct {
	cat *Catalog
}

func (s staticSource) Current() *Catalog { return s.cat }

func TestTreeBeforeFirstRefreshIsEmpty(t *testing.T) {
	tree := NewTree(staticSource{}, recordstest.New())
	assert.Empty(t, tree.RootNodes())
	assert.NotNil(t, tree.RootNodes())
	assert.Empty(t, tree.Children("category/c1"))
}

func TestTreeUnknownKeyIsEmpty(t *testing.T) {
	cat := Project([]records.Category{{ID: "c1"}}, nil, nil)
	tree := NewTree(staticSource{cat: cat}, recordstest.New())
	assert.Empty(t, tree.Children("category/nope"))
	assert.Empty(t, tree.Children("category/c1"))
}

func TestTreeOpenLoadsFullSnippet(t *testing.T) {
	fake := recordstest.New().
		AddCategory("c1", "buttons").
		AddSnippet(records.Snippet{ID: "n1", Label: "sw-btn", CategoryID: "c1", InsertText: "<button>${1:Go}</button>"})
	snippets, err := fake.ListSnippets(context.Background())
	require.NoError(t, err)
	cat := Project([]records.Category{{ID: "c1", Name: "buttons"}}, nil, snippets)
	tree := NewTree(staticSource{cat: cat}, fake)

	got, err := tree.Open(context.Background(), "snippet/n1")
	require.NoError(t, err)
	assert.Equal(t, "<button>${1:Go}</button>", got.InsertText)

	_, err = tree.Open(context.Background(), "category/c1")
	assert.ErrorIs(t, err, ErrNotSnippet)
	_, err = tree.Open(context.Background(), "bogus")
	assert.ErrorIs(t, err, ErrUnknownNode)
}

package seed

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solwind/snipsync/internal/records"
	"github.com/solwind/snipsync/internal/records/recordstest"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func componentTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "buttons/primaryButton.html", "<!-- demo -->\n<button class=\"btn\">Go</button>\n")
	writeFile(t, root, "forms/inputs/text-input.html", "<input type=\"text\"><!-- trailing -->")
	writeFile(t, root, "loose.html", "<p>no category</p>")
	writeFile(t, root, "a/b/c/too-deep.html", "<p>deep</p>")
	writeFile(t, root, ".git/ignored/thing.html", "<p>hidden</p>")
	writeFile(t, root, "buttons/README.md", "not a component")
	return root
}

func TestScan(t *testing.T) {
	root := componentTree(t)
	entries, skipped, err := Scan(root, "sw-")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, Entry{
		Category:    "Buttons",
		Name:        "PrimaryButton",
		Label:       "sw-primary-button",
		Description: "buttons",
		InsertText:  "<button class=\"btn\">Go</button>",
		Path:        filepath.Join("buttons", "primaryButton.html"),
	}, entries[0])

	assert.Equal(t, "Forms", entries[1].Category)
	assert.Equal(t, "Inputs", entries[1].Subcategory)
	assert.Equal(t, "Text input", entries[1].Name)
	assert.Equal(t, "sw-text-input", entries[1].Label)
	assert.Equal(t, "forms inputs", entries[1].Description)
	assert.Equal(t, "<input type=\"text\">", entries[1].InsertText)

	paths := make([]string, 0, len(skipped))
	for _, sk := range skipped {
		paths = append(paths, filepath.ToSlash(sk.Path))
	}
	assert.ElementsMatch(t, []string{"loose.html", "a/b/c/too-deep.html"}, paths)
}

func TestScanRejectsFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "x.html", "")
	_, _, err := Scan(filepath.Join(root, "x.html"), "sw-")
	assert.Error(t, err)

	_, _, err = Scan(filepath.Join(root, "missing"), "sw-")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestStripComments(t *testing.T) {
	got, err := StripComments([]byte("<div><!-- a --><span>x</span><!--b--></div>"))
	require.NoError(t, err)
	assert.Equal(t, "<div><span>x</span></div>", got)

	got, err = StripComments([]byte("plain text"))
	require.NoError(t, err)
	assert.Equal(t, "plain text", got)
}

func TestImportCreatesHierarchy(t *testing.T) {
	fake := recordstest.New()
	s := New(fake, Options{})

	report, err := s.ImportDir(context.Background(), componentTree(t))
	require.NoError(t, err)
	assert.Equal(t, Report{CategoriesCreated: 2, SubcategoriesCreated: 1, SnippetsCreated: 2}, report)

	snippets := fake.Snippets()
	require.Len(t, snippets, 2)
	byLabel := map[string]records.Snippet{}
	for _, sn := range snippets {
		byLabel[sn.Label] = sn
	}
	input := byLabel["sw-text-input"]
	assert.NotEmpty(t, input.CategoryID)
	assert.NotEmpty(t, input.SubcategoryID)
	assert.Empty(t, byLabel["sw-primary-button"].SubcategoryID)
}

func TestImportIsIdempotentAndUpdatesChanges(t *testing.T) {
	root := componentTree(t)
	fake := recordstest.New()
	s := New(fake, Options{Concurrency: 1})

	_, err := s.ImportDir(context.Background(), root)
	require.NoError(t, err)
	writes := fake.WriteCalls()

	report, err := s.ImportDir(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, Report{Unchanged: 2}, report)
	assert.Equal(t, writes, fake.WriteCalls())

	writeFile(t, root, "buttons/primaryButton.html", "<button>Changed</button>")
	report, err = s.ImportDir(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, Report{SnippetsUpdated: 1, Unchanged: 1}, report)
	assert.Len(t, fake.Snippets(), 2)
}

func TestImportSkipsDuplicateLabels(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "alerts/button.html", "<button>a</button>")
	writeFile(t, root, "banners/button.html", "<button>b</button>")
	fake := recordstest.New()
	s := New(fake, Options{Concurrency: 4})

	report, err := s.ImportDir(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, Report{CategoriesCreated: 1, SnippetsCreated: 1, Duplicates: 1}, report)
	assert.Contains(t, report.String(), "duplicate labels 1")
	snippets := fake.Snippets()
	require.Len(t, snippets, 1)
	assert.Equal(t, "<button>a</button>", snippets[0].InsertText)

	report, err = s.ImportDir(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, Report{Unchanged: 1, Duplicates: 1}, report)
	assert.Len(t, fake.Snippets(), 1)
}

func TestImportReusesExistingCategories(t *testing.T) {
	fake := recordstest.New().
		AddCategory("cat_a", "buttons").
		AddSubcategory("sub_a", "INPUTS", "cat_b").
		AddCategory("cat_b", "Forms")
	s := New(fake, Options{})

	report, err := s.ImportDir(context.Background(), componentTree(t))
	require.NoError(t, err)
	assert.Equal(t, 0, report.CategoriesCreated)
	assert.Equal(t, 0, report.SubcategoriesCreated)
	for _, sn := range fake.Snippets() {
		if sn.Label == "sw-text-input" {
			assert.Equal(t, "cat_b", sn.CategoryID)
			assert.Equal(t, "sub_a", sn.SubcategoryID)
		}
	}
}

func TestImportStopsOnWriteFailure(t *testing.T) {
	fake := recordstest.New()
	fake.WriteErr = errors.New("boom")
	s := New(fake, Options{})
	_, err := s.ImportDir(context.Background(), componentTree(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestWatchReimportsOnChange(t *testing.T) {
	root := componentTree(t)
	fake := recordstest.New()
	s := New(fake, Options{})

	var (
		mu      sync.Mutex
		reports []Report
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, root, 20*time.Millisecond, func(r Report, err error) {
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				reports = append(reports, r)
			}
		})
	}()
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(reports)
	}
	require.Eventually(t, func() bool { return count() == 1 }, 2*time.Second, 10*time.Millisecond)

	writeFile(t, root, "buttons/ghost.html", "<button class=\"ghost\"></button>")
	require.Eventually(t, func() bool { return len(fake.Snippets()) == 3 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

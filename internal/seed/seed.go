// Package seed imports a directory of HTML components into the record
// store. Files live at <category>/<name>.html or
// <category>/<subcategory>/<name>.html.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/solwind/snipsync/internal/editor"
	"github.com/solwind/snipsync/internal/records"
)

const componentExt = ".html"

// Entry is one component file ready to be written as a snippet.
type Entry struct {
	Category    string
	Subcategory string
	Name        string
	Label       string
	Description string
	InsertText  string
	Path        string
}

// Skipped names a file Scan ignored and why.
type Skipped struct {
	Path   string
	Reason string
}

// Scan walks root and returns one entry per component file, ordered by
// path. Hidden directories are not descended into.
func Scan(root, labelPrefix string) ([]Entry, []Skipped, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, nil, err
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("seed root %s is not a directory", root)
	}

	var (
		entries []Entry
		skipped []Skipped
	)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(d.Name()), componentExt) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		entry, reason := entryFor(rel, labelPrefix)
		if reason != "" {
			skipped = append(skipped, Skipped{Path: rel, Reason: reason})
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		entry.InsertText, err = StripComments(raw)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}
		entry.Path = rel
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, skipped, nil
}

func entryFor(rel, labelPrefix string) (Entry, string) {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	dirs, file := parts[:len(parts)-1], parts[len(parts)-1]
	if len(dirs) < 1 || len(dirs) > 2 {
		return Entry{}, "expected <category>/[<subcategory>/]<name>.html"
	}
	base := strings.TrimSuffix(file, filepath.Ext(file))
	label := editor.NormalizeLabel(labelPrefix, base)
	if label == "" {
		return Entry{}, "empty file name"
	}
	entry := Entry{
		Category:    displayName(dirs[0]),
		Name:        displayName(base),
		Label:       label,
		Description: strings.Join(dirs, " "),
	}
	if len(dirs) == 2 {
		entry.Subcategory = displayName(dirs[1])
	}
	return entry, ""
}

// displayName turns a path segment like "primary-button" into
// "Primary button".
func displayName(segment string) string {
	s := strings.TrimSpace(strings.NewReplacer("-", " ", "_", " ").Replace(segment))
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// StripComments returns raw with every HTML comment removed and all other
// markup kept byte for byte.
func StripComments(raw []byte) (string, error) {
	z := html.NewTokenizer(bytes.NewReader(raw))
	var out strings.Builder
	out.Grow(len(raw))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return "", err
			}
			return strings.TrimSpace(out.String()), nil
		case html.CommentToken:
			continue
		default:
			out.Write(z.Raw())
		}
	}
}

// Report counts what an import did.
type Report struct {
	CategoriesCreated    int
	SubcategoriesCreated int
	SnippetsCreated      int
	SnippetsUpdated      int
	Unchanged            int
	// Duplicates counts entries skipped because an earlier path already
	// produced the same label.
	Duplicates int
}

func (r Report) String() string {
	out := fmt.Sprintf("categories +%d, subcategories +%d, snippets +%d ~%d =%d",
		r.CategoriesCreated, r.SubcategoriesCreated, r.SnippetsCreated, r.SnippetsUpdated, r.Unchanged)
	if r.Duplicates > 0 {
		out += fmt.Sprintf(", duplicate labels %d", r.Duplicates)
	}
	return out
}

type Options struct {
	LabelPrefix string
	// Concurrency bounds parallel snippet writes.
	Concurrency int
	Logger      *zap.Logger
}

type Seeder struct {
	client      records.RecordClient
	prefix      string
	concurrency int
	logger      *zap.Logger
}

func New(client records.RecordClient, opts Options) *Seeder {
	opts.LabelPrefix = editor.CanonicalPrefix(opts.LabelPrefix)
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{client: client, prefix: opts.LabelPrefix, concurrency: opts.Concurrency, logger: logger}
}

// ImportDir scans root and imports every component found.
func (s *Seeder) ImportDir(ctx context.Context, root string) (Report, error) {
	entries, skipped, err := Scan(root, s.prefix)
	if err != nil {
		return Report{}, err
	}
	for _, sk := range skipped {
		s.logger.Warn("skipping component file", zap.String("path", sk.Path), zap.String("reason", sk.Reason))
	}
	return s.Import(ctx, entries)
}

// Import creates missing categories and subcategories, then creates or
// updates one snippet per entry keyed by label. Snippets already matching
// their entry are left alone. Nothing is deleted. When several entries
// share a label only the first is imported.
func (s *Seeder) Import(ctx context.Context, entries []Entry) (Report, error) {
	var report Report
	entries = s.dedupeLabels(entries, &report)
	categories, err := s.client.ListCategories(ctx)
	if err != nil {
		return report, err
	}
	subcategories, err := s.client.ListSubcategories(ctx)
	if err != nil {
		return report, err
	}
	snippets, err := s.client.ListSnippets(ctx)
	if err != nil {
		return report, err
	}

	categoryIDs := make(map[string]string, len(categories))
	for _, c := range categories {
		categoryIDs[foldName(c.Name)] = c.ID
	}
	subcategoryIDs := make(map[[2]string]string, len(subcategories))
	for _, sc := range subcategories {
		subcategoryIDs[[2]string{sc.CategoryID, foldName(sc.Name)}] = sc.ID
	}
	existing := make(map[string]string, len(snippets))
	for _, sn := range snippets {
		existing[sn.Label] = sn.ID
	}

	inputs := make([]records.SnippetInput, 0, len(entries))
	for _, e := range entries {
		catID, ok := categoryIDs[foldName(e.Category)]
		if !ok {
			created, err := s.client.CreateCategory(ctx, e.Category)
			if err != nil {
				return report, fmt.Errorf("create category %q: %w", e.Category, err)
			}
			catID = created.ID
			categoryIDs[foldName(e.Category)] = catID
			report.CategoriesCreated++
			s.logger.Info("created category", zap.String("name", e.Category), zap.String("id", catID))
		}
		subID := ""
		if e.Subcategory != "" {
			key := [2]string{catID, foldName(e.Subcategory)}
			subID, ok = subcategoryIDs[key]
			if !ok {
				created, err := s.client.CreateSubcategory(ctx, catID, e.Subcategory)
				if err != nil {
					return report, fmt.Errorf("create subcategory %q: %w", e.Subcategory, err)
				}
				subID = created.ID
				subcategoryIDs[key] = subID
				report.SubcategoriesCreated++
				s.logger.Info("created subcategory", zap.String("name", e.Subcategory), zap.String("id", subID))
			}
		}
		inputs = append(inputs, records.SnippetInput{
			Name:          e.Name,
			Label:         e.Label,
			Description:   e.Description,
			InsertText:    e.InsertText,
			CategoryID:    catID,
			SubcategoryID: subID,
		})
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, in := range inputs {
		g.Go(func() error {
			outcome, err := s.upsert(gctx, existing[in.Label], in)
			if err != nil {
				return fmt.Errorf("snippet %s: %w", in.Label, err)
			}
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeCreated:
				report.SnippetsCreated++
			case outcomeUpdated:
				report.SnippetsUpdated++
			default:
				report.Unchanged++
			}
			return nil
		})
	}
	err = g.Wait()
	s.logger.Info("seed import finished", zap.Stringer("report", report), zap.Error(err))
	return report, err
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeCreated
	outcomeUpdated
)

func (s *Seeder) upsert(ctx context.Context, id string, in records.SnippetInput) (outcome, error) {
	if id == "" {
		if _, err := s.client.CreateSnippet(ctx, in); err != nil {
			return outcomeUnchanged, err
		}
		return outcomeCreated, nil
	}
	current, err := s.client.GetSnippet(ctx, id)
	if err != nil {
		return outcomeUnchanged, err
	}
	if inputOf(current) == in {
		return outcomeUnchanged, nil
	}
	if _, err := s.client.UpdateSnippet(ctx, id, in); err != nil {
		return outcomeUnchanged, err
	}
	return outcomeUpdated, nil
}

func inputOf(s records.Snippet) records.SnippetInput {
	return records.SnippetInput{
		Name:          s.Name,
		Label:         s.Label,
		Description:   s.Description,
		InsertText:    s.InsertText,
		CategoryID:    s.CategoryID,
		SubcategoryID: s.SubcategoryID,
	}
}

func foldName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (s *Seeder) dedupeLabels(entries []Entry, report *Report) []Entry {
	owner := make(map[string]string, len(entries))
	out := entries[:0:0]
	for _, e := range entries {
		if first, ok := owner[e.Label]; ok {
			report.Duplicates++
			s.logger.Warn("skipping component with duplicate label",
				zap.String("label", e.Label),
				zap.String("path", e.Path),
				zap.String("kept", first))
			continue
		}
		owner[e.Label] = e.Path
		out = append(out, e)
	}
	return out
}

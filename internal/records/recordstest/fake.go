// Package recordstest provides an in-memory records.RecordClient for tests.
package recordstest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/solwind/snipsync/internal/records"
)

// Fake keeps records in insertion order. Set the *Err fields to make the
// corresponding calls fail; the Hook runs before every list call.
type Fake struct {
	mu            sync.Mutex
	categories    []records.Category
	subcategories []records.Subcategory
	snippets      []records.Snippet
	nextID        int

	ListErr   error
	GetErr    error
	WriteErr  error
	SearchErr error
	ListHook  func(collection string)

	listCalls   atomic.Int32
	getCalls    atomic.Int32
	writeCalls  atomic.Int32
	searchCalls atomic.Int32
}

func New() *Fake {
	return &Fake{}
}

func (f *Fake) AddCategory(id, name string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.categories = append(f.categories, records.Category{ID: id, Name: name})
	return f
}

func (f *Fake) AddSubcategory(id, name, categoryID string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subcategories = append(f.subcategories, records.Subcategory{ID: id, Name: name, CategoryID: categoryID})
	return f
}

func (f *Fake) AddSnippet(s records.Snippet) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snippets = append(f.snippets, s)
	return f
}

func (f *Fake) ListCalls() int   { return int(f.listCalls.Load()) }
func (f *Fake) GetCalls() int    { return int(f.getCalls.Load()) }
func (f *Fake) WriteCalls() int  { return int(f.writeCalls.Load()) }
func (f *Fake) SearchCalls() int { return int(f.searchCalls.Load()) }

func (f *Fake) Snippets() []records.Snippet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]records.Snippet(nil), f.snippets...)
}

func (f *Fake) list(collection string) error {
	f.listCalls.Add(1)
	if f.ListHook != nil {
		f.ListHook(collection)
	}
	return f.ListErr
}

func (f *Fake) ListCategories(ctx context.Context) ([]records.Category, error) {
	if err := f.list(records.CollectionCategories); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]records.Category(nil), f.categories...), nil
}

func (f *Fake) ListSubcategories(ctx context.Context) ([]records.Subcategory, error) {
	if err := f.list(records.CollectionSubcategories); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]records.Subcategory(nil), f.subcategories...), nil
}

func (f *Fake) ListSnippets(ctx context.Context) ([]records.Snippet, error) {
	if err := f.list(records.CollectionSnippets); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]records.Snippet, len(f.snippets))
	for i, s := range f.snippets {
		s.InsertText = ""
		out[i] = s
	}
	return out, nil
}

func (f *Fake) GetSnippet(ctx context.Context, id string) (records.Snippet, error) {
	f.getCalls.Add(1)
	if f.GetErr != nil {
		return records.Snippet{}, f.GetErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.snippets {
		if s.ID == id {
			return s, nil
		}
	}
	return records.Snippet{}, &records.NotFoundError{Collection: records.CollectionSnippets, ID: id}
}

func (f *Fake) write() error {
	f.writeCalls.Add(1)
	return f.WriteErr
}

func (f *Fake) newID(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s%d", prefix, f.nextID)
}

func fromInput(id string, in records.SnippetInput) records.Snippet {
	return records.Snippet{
		ID:            id,
		Name:          in.Name,
		Label:         in.Label,
		Description:   in.Description,
		InsertText:    in.InsertText,
		CategoryID:    in.CategoryID,
		SubcategoryID: in.SubcategoryID,
	}
}

func (f *Fake) CreateSnippet(ctx context.Context, in records.SnippetInput) (records.Snippet, error) {
	if err := f.write(); err != nil {
		return records.Snippet{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s := fromInput(f.newID("snip_"), in)
	f.snippets = append(f.snippets, s)
	return s, nil
}

func (f *Fake) UpdateSnippet(ctx context.Context, id string, in records.SnippetInput) (records.Snippet, error) {
	if err := f.write(); err != nil {
		return records.Snippet{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.snippets {
		if f.snippets[i].ID == id {
			f.snippets[i] = fromInput(id, in)
			return f.snippets[i], nil
		}
	}
	return records.Snippet{}, &records.NotFoundError{Collection: records.CollectionSnippets, ID: id}
}

func (f *Fake) DeleteSnippet(ctx context.Context, id string) error {
	if err := f.write(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.snippets {
		if f.snippets[i].ID == id {
			f.snippets = append(f.snippets[:i], f.snippets[i+1:]...)
			return nil
		}
	}
	return &records.NotFoundError{Collection: records.CollectionSnippets, ID: id}
}

func (f *Fake) CreateCategory(ctx context.Context, name string) (records.Category, error) {
	if err := f.write(); err != nil {
		return records.Category{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c := records.Category{ID: f.newID("cat_"), Name: name}
	f.categories = append(f.categories, c)
	return c, nil
}

func (f *Fake) RenameCategory(ctx context.Context, id, name string) (records.Category, error) {
	if err := f.write(); err != nil {
		return records.Category{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.categories {
		if f.categories[i].ID == id {
			f.categories[i].Name = name
			return f.categories[i], nil
		}
	}
	return records.Category{}, &records.NotFoundError{Collection: records.CollectionCategories, ID: id}
}

func (f *Fake) DeleteCategory(ctx context.Context, id string) error {
	if err := f.write(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	found := false
	categories := f.categories[:0]
	for _, c := range f.categories {
		if c.ID == id {
			found = true
			continue
		}
		categories = append(categories, c)
	}
	if !found {
		return &records.NotFoundError{Collection: records.CollectionCategories, ID: id}
	}
	f.categories = categories
	subcategories := f.subcategories[:0]
	for _, s := range f.subcategories {
		if s.CategoryID != id {
			subcategories = append(subcategories, s)
		}
	}
	f.subcategories = subcategories
	snippets := f.snippets[:0]
	for _, s := range f.snippets {
		if s.CategoryID != id {
			snippets = append(snippets, s)
		}
	}
	f.snippets = snippets
	return nil
}

func (f *Fake) CreateSubcategory(ctx context.Context, categoryID, name string) (records.Subcategory, error) {
	if err := f.write(); err != nil {
		return records.Subcategory{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s := records.Subcategory{ID: f.newID("sub_"), Name: name, CategoryID: categoryID}
	f.subcategories = append(f.subcategories, s)
	return s, nil
}

func (f *Fake) RenameSubcategory(ctx context.Context, id, name string) (records.Subcategory, error) {
	if err := f.write(); err != nil {
		return records.Subcategory{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.subcategories {
		if f.subcategories[i].ID == id {
			f.subcategories[i].Name = name
			return f.subcategories[i], nil
		}
	}
	return records.Subcategory{}, &records.NotFoundError{Collection: records.CollectionSubcategories, ID: id}
}

func (f *Fake) DeleteSubcategory(ctx context.Context, id string) error {
	if err := f.write(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.subcategories {
		if f.subcategories[i].ID == id {
			f.subcategories = append(f.subcategories[:i], f.subcategories[i+1:]...)
			for j := range f.snippets {
				if f.snippets[j].SubcategoryID == id {
					f.snippets[j].SubcategoryID = ""
				}
			}
			return nil
		}
	}
	return &records.NotFoundError{Collection: records.CollectionSubcategories, ID: id}
}

func (f *Fake) SearchSnippets(ctx context.Context, term string) ([]records.Snippet, error) {
	f.searchCalls.Add(1)
	if f.SearchErr != nil {
		return nil, f.SearchErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []records.Snippet
	for _, s := range f.snippets {
		if strings.Contains(strings.ToLower(s.Label), strings.ToLower(term)) {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, &records.NotFoundError{Collection: records.CollectionSnippets, Term: term}
	}
	return out, nil
}

var _ records.RecordClient = (*Fake)(nil)

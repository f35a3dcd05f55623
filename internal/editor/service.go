// Package editor validates snippet drafts, writes them to the store and
// brings the catalog and any open detail view back in line afterwards.
package editor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/solwind/snipsync/internal/catalog"
	"github.com/solwind/snipsync/internal/records"
)

// NewDraftKey is the view key of the create form before the snippet has
// an id.
const NewDraftKey = ""

type Refresher interface {
	Current() *catalog.Catalog
	Refresh(ctx context.Context) (*catalog.Catalog, error)
}

// EditContext is everything a detail view needs to render one snippet.
type EditContext struct {
	Snippet       records.Snippet
	Categories    []records.Category
	Subcategories []records.Subcategory
}

// DetailView is an open detail or edit panel.
type DetailView interface {
	Render(EditContext)
	// ShowDraft puts draft back on screen after a failed write.
	ShowDraft(draft Draft, err error)
}

// Result reports a completed write. RefreshErr is set when the write
// succeeded but the follow-up refresh did not.
type Result struct {
	Snippet    records.Snippet
	Catalog    *catalog.Catalog
	RefreshErr error
}

type Options struct {
	LabelPrefix string
	Logger      *zap.Logger
}

type Service struct {
	client    records.RecordClient
	refresher Refresher
	prefix    string
	logger    *zap.Logger
	validate  *validator.Validate

	mu    sync.Mutex
	views map[string]DetailView
}

func NewService(client records.RecordClient, refresher Refresher, opts Options) *Service {
	prefix := CanonicalPrefix(opts.LabelPrefix)
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		client:    client,
		refresher: refresher,
		prefix:    prefix,
		logger:    logger,
		validate:  newValidator(),
		views:     map[string]DetailView{},
	}
}

// Normalize applies label normalization to d.
func (s *Service) Normalize(d Draft) Draft {
	d.Label = NormalizeLabel(s.prefix, d.Label)
	return d
}

// Validate checks d without touching the network.
func (s *Service) Validate(ctx context.Context, d Draft) error {
	return validateDraft(ctx, s.validate, s.refresher.Current(), s.Normalize(d))
}

// Open registers view as the detail view of snippet id.
func (s *Service) Open(id string, view DetailView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views[id] = view
}

// Cancel closes the detail view of id without writing anything.
func (s *Service) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.views, id)
}

func (s *Service) view(id string) (DetailView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[id]
	return v, ok
}

// Load fetches snippet id with the category and subcategory lists the edit
// form offers. The catalog is fetched first if none is loaded yet.
func (s *Service) Load(ctx context.Context, id string) (EditContext, error) {
	snippet, err := s.client.GetSnippet(ctx, id)
	if err != nil {
		return EditContext{}, err
	}
	cat := s.refresher.Current()
	if cat == nil {
		cat, err = s.refresher.Refresh(ctx)
		if err != nil {
			return EditContext{}, err
		}
	}
	return s.editContext(snippet, cat), nil
}

func (s *Service) editContext(snippet records.Snippet, cat *catalog.Catalog) EditContext {
	return EditContext{
		Snippet:       snippet,
		Categories:    cat.Categories(),
		Subcategories: cat.Subcategories(),
	}
}

func (s *Service) CreateSnippet(ctx context.Context, draft Draft) (Result, error) {
	draft = s.Normalize(draft)
	if err := validateDraft(ctx, s.validate, s.refresher.Current(), draft); err != nil {
		return Result{}, err
	}
	created, err := s.client.CreateSnippet(ctx, draft.input())
	if err != nil {
		s.keepDraft(NewDraftKey, draft, err)
		return Result{}, fmt.Errorf("create snippet: %w", err)
	}
	s.logger.Info("snippet created", zap.String("id", created.ID), zap.String("label", created.Label))

	s.mu.Lock()
	if v, ok := s.views[NewDraftKey]; ok {
		delete(s.views, NewDraftKey)
		s.views[created.ID] = v
	}
	s.mu.Unlock()
	return s.reconcile(ctx, created), nil
}

func (s *Service) UpdateSnippet(ctx context.Context, id string, draft Draft) (Result, error) {
	draft = s.Normalize(draft)
	if strings.TrimSpace(id) == "" {
		return Result{}, &ValidationError{Fields: []FieldError{{Field: "id", Message: "id is required"}}}
	}
	if err := validateDraft(ctx, s.validate, s.refresher.Current(), draft); err != nil {
		return Result{}, err
	}
	updated, err := s.client.UpdateSnippet(ctx, id, draft.input())
	if err != nil {
		s.keepDraft(id, draft, err)
		return Result{}, fmt.Errorf("update snippet %s: %w", id, err)
	}
	s.logger.Info("snippet updated", zap.String("id", id), zap.String("label", updated.Label))
	return s.reconcile(ctx, updated), nil
}

func (s *Service) DeleteSnippet(ctx context.Context, id string) (Result, error) {
	if err := s.client.DeleteSnippet(ctx, id); err != nil {
		return Result{}, fmt.Errorf("delete snippet %s: %w", id, err)
	}
	s.Cancel(id)
	s.logger.Info("snippet deleted", zap.String("id", id))
	cat, err := s.refresh(ctx)
	return Result{Catalog: cat, RefreshErr: err}, nil
}

func (s *Service) CreateCategory(ctx context.Context, name string) (records.Category, Result, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return records.Category{}, Result{}, nameRequired("name")
	}
	created, err := s.client.CreateCategory(ctx, name)
	if err != nil {
		return records.Category{}, Result{}, fmt.Errorf("create category: %w", err)
	}
	cat, rerr := s.refresh(ctx)
	return created, Result{Catalog: cat, RefreshErr: rerr}, nil
}

func (s *Service) RenameCategory(ctx context.Context, id, name string) (Result, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Result{}, nameRequired("name")
	}
	if _, err := s.client.RenameCategory(ctx, id, name); err != nil {
		return Result{}, fmt.Errorf("rename category %s: %w", id, err)
	}
	cat, err := s.refresh(ctx)
	return Result{Catalog: cat, RefreshErr: err}, nil
}

// DeleteCategory removes a category together with its subcategories and
// snippets.
func (s *Service) DeleteCategory(ctx context.Context, id string) (Result, error) {
	if err := s.client.DeleteCategory(ctx, id); err != nil {
		return Result{}, fmt.Errorf("delete category %s: %w", id, err)
	}
	cat, err := s.refresh(ctx)
	return Result{Catalog: cat, RefreshErr: err}, nil
}

func (s *Service) CreateSubcategory(ctx context.Context, categoryID, name string) (records.Subcategory, Result, error) {
	name = strings.TrimSpace(name)
	var fields []FieldError
	if name == "" {
		fields = append(fields, FieldError{Field: "name", Message: "name is required"})
	}
	if strings.TrimSpace(categoryID) == "" {
		fields = append(fields, FieldError{Field: "category", Message: "category is required"})
	} else if cat := s.refresher.Current(); cat != nil && !cat.HasCategory(categoryID) {
		fields = append(fields, FieldError{Field: "category", Message: fmt.Sprintf("category %s does not exist", categoryID)})
	}
	if len(fields) > 0 {
		return records.Subcategory{}, Result{}, &ValidationError{Fields: fields}
	}
	created, err := s.client.CreateSubcategory(ctx, categoryID, name)
	if err != nil {
		return records.Subcategory{}, Result{}, fmt.Errorf("create subcategory: %w", err)
	}
	cat, rerr := s.refresh(ctx)
	return created, Result{Catalog: cat, RefreshErr: rerr}, nil
}

func (s *Service) RenameSubcategory(ctx context.Context, id, name string) (Result, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Result{}, nameRequired("name")
	}
	if _, err := s.client.RenameSubcategory(ctx, id, name); err != nil {
		return Result{}, fmt.Errorf("rename subcategory %s: %w", id, err)
	}
	cat, err := s.refresh(ctx)
	return Result{Catalog: cat, RefreshErr: err}, nil
}

// DeleteSubcategory removes a subcategory; its snippets move up to the
// category.
func (s *Service) DeleteSubcategory(ctx context.Context, id string) (Result, error) {
	if err := s.client.DeleteSubcategory(ctx, id); err != nil {
		return Result{}, fmt.Errorf("delete subcategory %s: %w", id, err)
	}
	cat, err := s.refresh(ctx)
	return Result{Catalog: cat, RefreshErr: err}, nil
}

// reconcile refreshes the catalog and re-renders the open view of snippet
// from a freshly fetched record.
func (s *Service) reconcile(ctx context.Context, written records.Snippet) Result {
	result := Result{Snippet: written}
	result.Catalog, result.RefreshErr = s.refresh(ctx)

	view, ok := s.view(written.ID)
	if !ok {
		return result
	}
	fresh, err := s.client.GetSnippet(ctx, written.ID)
	if err != nil {
		s.logger.Warn("reload snippet after write failed", zap.String("id", written.ID), zap.Error(err))
		return result
	}
	result.Snippet = fresh
	cat := result.Catalog
	if cat == nil {
		cat = s.refresher.Current()
	}
	view.Render(s.editContext(fresh, cat))
	return result
}

func (s *Service) refresh(ctx context.Context) (*catalog.Catalog, error) {
	cat, err := s.refresher.Refresh(ctx)
	if err != nil {
		s.logger.Warn("refresh after write failed", zap.Error(err))
		return nil, err
	}
	return cat, nil
}

func (s *Service) keepDraft(key string, draft Draft, err error) {
	if view, ok := s.view(key); ok {
		view.ShowDraft(draft, err)
	}
	level := s.logger.Warn
	if errors.Is(err, records.ErrAuth) {
		level = s.logger.Error
	}
	level("snippet write failed", zap.String("view", key), zap.Error(err))
}

func nameRequired(field string) error {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: field + " is required"}}}
}

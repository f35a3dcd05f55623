package records

import "context"

const (
	CollectionCategories    = "categories"
	CollectionSubcategories = "subcategories"
	CollectionSnippets      = "snippets"
)

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Subcategory struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CategoryID string `json:"category"`
}

// Snippet is a stored markup fragment. An empty SubcategoryID means the
// snippet hangs directly under its category.
type Snippet struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Label         string         `json:"label"`
	Description   string         `json:"description"`
	InsertText    string         `json:"insertText"`
	CategoryID    string         `json:"category"`
	SubcategoryID string         `json:"subcategory"`
	Expand        *SnippetExpand `json:"expand,omitempty"`
}

type SnippetExpand struct {
	Category    *Category    `json:"category,omitempty"`
	Subcategory *Subcategory `json:"subcategory,omitempty"`
}

type SnippetInput struct {
	Name          string `json:"name"`
	Label         string `json:"label"`
	Description   string `json:"description"`
	InsertText    string `json:"insertText"`
	CategoryID    string `json:"category"`
	SubcategoryID string `json:"subcategory"`
}

// ListPage is one page of the store's paginated list response.
type ListPage[T any] struct {
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	TotalItems int `json:"totalItems"`
	TotalPages int `json:"totalPages"`
	Items      []T `json:"items"`
}

type RecordClient interface {
	ListCategories(ctx context.Context) ([]Category, error)
	ListSubcategories(ctx context.Context) ([]Subcategory, error)
	ListSnippets(ctx context.Context) ([]Snippet, error)
	GetSnippet(ctx context.Context, id string) (Snippet, error)
	CreateSnippet(ctx context.Context, input SnippetInput) (Snippet, error)
	UpdateSnippet(ctx context.Context, id string, input SnippetInput) (Snippet, error)
	DeleteSnippet(ctx context.Context, id string) error
	CreateCategory(ctx context.Context, name string) (Category, error)
	RenameCategory(ctx context.Context, id, name string) (Category, error)
	DeleteCategory(ctx context.Context, id string) error
	CreateSubcategory(ctx context.Context, categoryID, name string) (Subcategory, error)
	RenameSubcategory(ctx context.Context, id, name string) (Subcategory, error)
	DeleteSubcategory(ctx context.Context, id string) error
	SearchSnippets(ctx context.Context, term string) ([]Snippet, error)
}

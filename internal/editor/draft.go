package editor

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/solwind/snipsync/internal/catalog"
	"github.com/solwind/snipsync/internal/records"
)

var ErrValidation = errors.New("validation failed")

// SubcategoryChoice is the user's subcategory selection. The zero value
// means no choice has been made yet; None means "no subcategory" was
// picked explicitly.
type SubcategoryChoice struct {
	ID   string `json:"id,omitempty"`
	None bool   `json:"none,omitempty"`
}

func NoSubcategory() SubcategoryChoice {
	return SubcategoryChoice{None: true}
}

func InSubcategory(id string) SubcategoryChoice {
	return SubcategoryChoice{ID: id}
}

func (c SubcategoryChoice) Resolved() bool {
	return c.None || strings.TrimSpace(c.ID) != ""
}

// Draft is the content of the create or edit form.
type Draft struct {
	Name        string            `json:"name" validate:"max=200"`
	Label       string            `json:"label" validate:"required,max=120"`
	Description string            `json:"description" validate:"max=2000"`
	InsertText  string            `json:"insertText"`
	CategoryID  string            `json:"category" validate:"required"`
	Subcategory SubcategoryChoice `json:"subcategory"`
}

func DraftFromSnippet(s records.Snippet) Draft {
	choice := NoSubcategory()
	if s.SubcategoryID != "" {
		choice = InSubcategory(s.SubcategoryID)
	}
	return Draft{
		Name:        s.Name,
		Label:       s.Label,
		Description: s.Description,
		InsertText:  s.InsertText,
		CategoryID:  s.CategoryID,
		Subcategory: choice,
	}
}

func (d Draft) input() records.SnippetInput {
	subcategoryID := ""
	if !d.Subcategory.None {
		subcategoryID = strings.TrimSpace(d.Subcategory.ID)
	}
	return records.SnippetInput{
		Name:          strings.TrimSpace(d.Name),
		Label:         d.Label,
		Description:   d.Description,
		InsertText:    d.InsertText,
		CategoryID:    strings.TrimSpace(d.CategoryID),
		SubcategoryID: subcategoryID,
	}
}

type FieldError struct {
	Field   string
	Message string
}

type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	messages := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		messages = append(messages, f.Message)
	}
	return "validation failed: " + strings.Join(messages, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Field returns the message for field, if any.
func (e *ValidationError) Field(name string) (string, bool) {
	for _, f := range e.Fields {
		if f.Field == name {
			return f.Message, true
		}
	}
	return "", false
}

type catalogKey struct{}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	v.RegisterStructValidationCtx(validateDraftReferences, Draft{})
	return v
}

// validateDraftReferences checks the draft against the catalog carried in
// ctx. Without a catalog only the shape of the choice is checked.
func validateDraftReferences(ctx context.Context, sl validator.StructLevel) {
	d := sl.Current().Interface().(Draft)
	cat, _ := ctx.Value(catalogKey{}).(*catalog.Catalog)
	categoryID := strings.TrimSpace(d.CategoryID)
	subcategoryID := strings.TrimSpace(d.Subcategory.ID)

	if d.Subcategory.None && subcategoryID != "" {
		sl.ReportError(d.Subcategory, "subcategory", "Subcategory", "subcategory_choice", "")
		return
	}
	if cat == nil || categoryID == "" {
		return
	}
	if !cat.HasCategory(categoryID) {
		sl.ReportError(d.CategoryID, "category", "CategoryID", "category_exists", categoryID)
		return
	}
	if subcategoryID != "" {
		owner, ok := cat.SubcategoryOf(subcategoryID)
		switch {
		case !ok:
			sl.ReportError(d.Subcategory, "subcategory", "Subcategory", "subcategory_exists", subcategoryID)
		case owner != categoryID:
			sl.ReportError(d.Subcategory, "subcategory", "Subcategory", "subcategory_owner", subcategoryID)
		}
		return
	}
	if !d.Subcategory.Resolved() && len(cat.SubcategoriesOf(categoryID)) > 0 {
		sl.ReportError(d.Subcategory, "subcategory", "Subcategory", "subcategory_choice", "")
	}
}

func validateDraft(ctx context.Context, v *validator.Validate, cat *catalog.Catalog, d Draft) error {
	ctx = context.WithValue(ctx, catalogKey{}, cat)
	err := v.StructCtx(ctx, d)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := &ValidationError{}
	for _, fe := range fieldErrs {
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Message: formatFieldError(fe)})
	}
	return out
}

func formatFieldError(e validator.FieldError) string {
	field := e.Field()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, e.Param())
	case "category_exists":
		return fmt.Sprintf("category %s does not exist", e.Param())
	case "subcategory_exists":
		return fmt.Sprintf("subcategory %s does not exist", e.Param())
	case "subcategory_owner":
		return fmt.Sprintf("subcategory %s belongs to another category", e.Param())
	case "subcategory_choice":
		return "choose a subcategory or select none"
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

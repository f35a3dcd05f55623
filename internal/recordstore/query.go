package recordstore

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

const (
	DefaultPerPage = 30
	MaxPerPage     = 500
)

// ViewOptions select the relations to expand and the fields to return.
type ViewOptions struct {
	Expand []string
	Fields []string
}

type ListQuery struct {
	Page    int
	PerPage int
	Sort    string
	Filter  string
	ViewOptions
}

type ListResult struct {
	Page       int              `json:"page"`
	PerPage    int              `json:"perPage"`
	TotalItems int              `json:"totalItems"`
	TotalPages int              `json:"totalPages"`
	Items      []map[string]any `json:"items"`
}

// SplitList parses a comma-separated query parameter.
func SplitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (s *Store) List(collection string, q ListQuery) (ListResult, error) {
	c, err := spec(collection)
	if err != nil {
		return ListResult{}, err
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	perPage := q.PerPage
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	match, err := ParseFilter(q.Filter)
	if err != nil {
		return ListResult{}, err
	}
	keys, err := parseSort(c, q.Sort)
	if err != nil {
		return ListResult{}, err
	}
	for _, name := range q.Expand {
		if f, ok := c.field(name); !ok || f.relation == "" {
			return ListResult{}, fmt.Errorf("%w: cannot expand %q on %s", ErrInvalidInput, name, collection)
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var rows []Record
	for _, rec := range s.collections[collection] {
		if Matches(match, rec) {
			rows = append(rows, rec)
		}
	}
	if len(keys) > 0 {
		// Collators keep internal buffers and are not safe for concurrent use.
		col := collate.New(language.Und, collate.IgnoreCase)
		sort.SliceStable(rows, func(i, j int) bool {
			for _, k := range keys {
				cmp := col.CompareString(rows[i][k.field], rows[j][k.field])
				if cmp == 0 {
					continue
				}
				if k.desc {
					return cmp > 0
				}
				return cmp < 0
			}
			return false
		})
	}

	total := len(rows)
	result := ListResult{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: (total + perPage - 1) / perPage,
		Items:      []map[string]any{},
	}
	start := (page - 1) * perPage
	if start >= total {
		return result, nil
	}
	end := start + perPage
	if end > total {
		end = total
	}
	for _, rec := range rows[start:end] {
		result.Items = append(result.Items, s.viewLocked(c, rec, q.ViewOptions))
	}
	return result, nil
}

func (s *Store) viewLocked(c collectionSpec, rec Record, opts ViewOptions) map[string]any {
	out := map[string]any{"collectionName": c.name}
	include := func(name string) bool {
		if len(opts.Fields) == 0 {
			return true
		}
		for _, f := range opts.Fields {
			if f == name || f == "*" {
				return true
			}
		}
		return false
	}
	for _, name := range []string{"id", "created", "updated"} {
		if include(name) {
			out[name] = rec[name]
		}
	}
	for _, f := range c.fields {
		if include(f.name) {
			out[f.name] = rec[f.name]
		}
	}
	if len(opts.Expand) == 0 {
		return out
	}
	expand := map[string]any{}
	for _, name := range opts.Expand {
		f, ok := c.field(name)
		if !ok || f.relation == "" || rec[name] == "" {
			continue
		}
		related, ok := s.lookupLocked(f.relation, rec[name])
		if !ok {
			continue
		}
		expand[name] = s.viewLocked(collectionSpecs[f.relation], related, ViewOptions{})
	}
	if len(expand) > 0 {
		out["expand"] = expand
	}
	return out
}

type sortKey struct {
	field string
	desc  bool
}

func parseSort(c collectionSpec, raw string) ([]sortKey, error) {
	var keys []sortKey
	for _, part := range SplitList(raw) {
		k := sortKey{field: part}
		switch part[0] {
		case '-':
			k = sortKey{field: part[1:], desc: true}
		case '+':
			k.field = part[1:]
		}
		if !c.known(k.field) {
			return nil, fmt.Errorf("%w: cannot sort %s by %q", ErrInvalidInput, c.name, k.field)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

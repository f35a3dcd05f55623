package records

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/solwind/snipsync/internal/retry"
)

const (
	defaultBaseURL        = "http://127.0.0.1:8090"
	defaultRequestTimeout = 30 * time.Second
	defaultPageSize       = 100
	defaultSearchAttempts = 3
	defaultSearchDelay    = 2 * time.Second
	maxListPages          = 10000
)

// snippetListFields omits insertText; listing only needs enough to build the tree.
const snippetListFields = "id,name,label,description,category,subcategory"

type ClientOptions struct {
	PageSize       int
	SearchAttempts int
	SearchDelay    time.Duration
	Logger         *zap.Logger
	// OnSearchRetry observes each failed search attempt that will be retried.
	OnSearchRetry func(attempt int, err error)
}

type HTTPClient struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	pageSize    int
	searchRetry retry.Policy
	logger      *zap.Logger
}

func NewHTTPClient(baseURL, token string, httpClient *http.Client, opts ClientOptions) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.SearchAttempts <= 0 {
		opts.SearchAttempts = defaultSearchAttempts
	}
	if opts.SearchDelay <= 0 {
		opts.SearchDelay = defaultSearchDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
		pageSize:   opts.PageSize,
		logger:     logger,
	}
	onRetry := opts.OnSearchRetry
	c.searchRetry = retry.Policy{
		MaxAttempts: opts.SearchAttempts,
		Delay:       opts.SearchDelay,
		Retryable:   IsRetryable,
		OnRetry: func(attempt int, err error, next time.Duration) {
			c.logger.Warn("search attempt failed",
				zap.Int("attempt", attempt),
				zap.Duration("retryIn", next),
				zap.Error(err),
			)
			if onRetry != nil {
				onRetry(attempt, err)
			}
		},
	}
	return c
}

func (c *HTTPClient) ListCategories(ctx context.Context) ([]Category, error) {
	return listRecords[Category](ctx, c, CollectionCategories, nameSorted())
}

func (c *HTTPClient) ListSubcategories(ctx context.Context) ([]Subcategory, error) {
	return listRecords[Subcategory](ctx, c, CollectionSubcategories, nameSorted())
}

func (c *HTTPClient) ListSnippets(ctx context.Context) ([]Snippet, error) {
	q := nameSorted()
	q.Set("fields", snippetListFields)
	return listRecords[Snippet](ctx, c, CollectionSnippets, q)
}

func (c *HTTPClient) GetSnippet(ctx context.Context, id string) (Snippet, error) {
	q := url.Values{}
	q.Set("expand", "category,subcategory")
	var out Snippet
	err := c.doRecord(ctx, http.MethodGet, CollectionSnippets, id, q, nil, &out)
	return out, err
}

func (c *HTTPClient) CreateSnippet(ctx context.Context, input SnippetInput) (Snippet, error) {
	var out Snippet
	err := c.doRecord(ctx, http.MethodPost, CollectionSnippets, "", nil, input, &out)
	return out, err
}

func (c *HTTPClient) UpdateSnippet(ctx context.Context, id string, input SnippetInput) (Snippet, error) {
	var out Snippet
	err := c.doRecord(ctx, http.MethodPatch, CollectionSnippets, id, nil, input, &out)
	return out, err
}

func (c *HTTPClient) DeleteSnippet(ctx context.Context, id string) error {
	return c.doRecord(ctx, http.MethodDelete, CollectionSnippets, id, nil, nil, nil)
}

func (c *HTTPClient) CreateCategory(ctx context.Context, name string) (Category, error) {
	var out Category
	err := c.doRecord(ctx, http.MethodPost, CollectionCategories, "", nil, map[string]string{"name": name}, &out)
	return out, err
}

func (c *HTTPClient) RenameCategory(ctx context.Context, id, name string) (Category, error) {
	var out Category
	err := c.doRecord(ctx, http.MethodPatch, CollectionCategories, id, nil, map[string]string{"name": name}, &out)
	return out, err
}

func (c *HTTPClient) DeleteCategory(ctx context.Context, id string) error {
	return c.doRecord(ctx, http.MethodDelete, CollectionCategories, id, nil, nil, nil)
}

func (c *HTTPClient) CreateSubcategory(ctx context.Context, categoryID, name string) (Subcategory, error) {
	var out Subcategory
	body := map[string]string{"name": name, "category": categoryID}
	err := c.doRecord(ctx, http.MethodPost, CollectionSubcategories, "", nil, body, &out)
	return out, err
}

func (c *HTTPClient) RenameSubcategory(ctx context.Context, id, name string) (Subcategory, error) {
	var out Subcategory
	err := c.doRecord(ctx, http.MethodPatch, CollectionSubcategories, id, nil, map[string]string{"name": name}, &out)
	return out, err
}

func (c *HTTPClient) DeleteSubcategory(ctx context.Context, id string) error {
	return c.doRecord(ctx, http.MethodDelete, CollectionSubcategories, id, nil, nil, nil)
}

// SearchSnippets returns snippets whose label contains term. Transient
// failures are retried per the search policy; an empty match set is
// reported as a NotFoundError and is not retried.
func (c *HTTPClient) SearchSnippets(ctx context.Context, term string) ([]Snippet, error) {
	term = strings.TrimSpace(term)
	q := url.Values{}
	q.Set("sort", "label")
	q.Set("filter", "label ~ "+QuoteFilterValue(term))
	return retry.Do(ctx, c.searchRetry, func(ctx context.Context) ([]Snippet, error) {
		items, err := listRecords[Snippet](ctx, c, CollectionSnippets, q)
		if err != nil {
			return nil, err
		}
		needle := strings.ToLower(term)
		matched := items[:0]
		for _, item := range items {
			if strings.Contains(strings.ToLower(item.Label), needle) {
				matched = append(matched, item)
			}
		}
		if len(matched) == 0 {
			return nil, &NotFoundError{Collection: CollectionSnippets, Term: term}
		}
		return matched, nil
	})
}

// QuoteFilterValue renders v as a double-quoted filter literal.
func QuoteFilterValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}

func nameSorted() url.Values {
	q := url.Values{}
	q.Set("sort", "name")
	return q
}

func listRecords[T any](ctx context.Context, c *HTTPClient, collection string, params url.Values) ([]T, error) {
	var out []T
	for page := 1; page <= maxListPages; page++ {
		q := url.Values{}
		for key, values := range params {
			q[key] = append([]string(nil), values...)
		}
		q.Set("page", strconv.Itoa(page))
		q.Set("perPage", strconv.Itoa(c.pageSize))

		var resp ListPage[json.RawMessage]
		requestPath := fmt.Sprintf("/api/collections/%s/records?%s", url.PathEscape(collection), q.Encode())
		if err := c.doJSON(ctx, http.MethodGet, requestPath, nil, &resp); err != nil {
			return nil, annotate(err, collection, "")
		}
		for _, raw := range resp.Items {
			if err := ValidateRecord(collection, raw); err != nil {
				return nil, err
			}
			var item T
			if err := json.Unmarshal(raw, &item); err != nil {
				return nil, &InvalidRecordError{Collection: collection, Err: err}
			}
			out = append(out, item)
		}
		if len(resp.Items) == 0 || page >= resp.TotalPages {
			return out, nil
		}
	}
	return nil, &InvalidRecordError{Collection: collection, Err: fmt.Errorf("more than %d pages", maxListPages)}
}

func (c *HTTPClient) doRecord(ctx context.Context, method, collection, id string, query url.Values, body, out any) error {
	requestPath := fmt.Sprintf("/api/collections/%s/records", url.PathEscape(collection))
	if id != "" {
		requestPath += "/" + url.PathEscape(id)
	}
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}
	if out == nil {
		return annotate(c.doJSON(ctx, method, requestPath, body, nil), collection, id)
	}
	var raw json.RawMessage
	if err := c.doJSON(ctx, method, requestPath, body, &raw); err != nil {
		return annotate(err, collection, id)
	}
	if err := ValidateRecord(collection, raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &InvalidRecordError{Collection: collection, Err: err}
	}
	return nil
}

// annotate turns a bare 404 into a NotFoundError naming the record.
func annotate(err error, collection, id string) error {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
		return &NotFoundError{Collection: collection, ID: id}
	}
	return err
}

func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
	if err != nil {
		return err
	}
	correlationID := uuid.NewString()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-Correlation-Id", correlationID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &NetworkError{Op: method + " " + requestPath, Err: err}
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return &NetworkError{Op: method + " " + requestPath, Err: readErr}
	}
	c.logger.Debug("store request",
		zap.String("method", method),
		zap.String("path", requestPath),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(started)),
		zap.String("correlationId", correlationID),
	)

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if out == nil || len(payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrInvalidRecord, err)
		}
		return nil
	}

	var errPayload struct {
		Code          string `json:"code"`
		Message       string `json:"message"`
		CorrelationID string `json:"correlationId"`
	}
	_ = json.Unmarshal(payload, &errPayload)
	return &HTTPError{
		StatusCode:    resp.StatusCode,
		Code:          errPayload.Code,
		Message:       errPayload.Message,
		CorrelationID: errPayload.CorrelationID,
	}
}

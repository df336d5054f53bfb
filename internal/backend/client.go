// Package backend is a REST client for the hosted backend that stores
// contracts, covenants, alerts, reports, audit logs and users.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/covenantwatch/covenantwatch/internal/metrics"
	"github.com/covenantwatch/covenantwatch/pkg/models"
	"github.com/covenantwatch/covenantwatch/pkg/retry"
)

// TokenSource supplies the bearer token for each request. *session.Store
// satisfies it.
type TokenSource interface {
	Token() (string, error)
}

// Client talks to the backend REST API.
type Client struct {
	baseURL     string
	http        *http.Client
	tokens      TokenSource
	staticToken string
	pageSize    int
	retry       retry.Config
	log         *zap.Logger
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTokenSource sets where the bearer token comes from.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithStaticToken uses a fixed API token when no session is available.
func WithStaticToken(token string) Option {
	return func(c *Client) { c.staticToken = token }
}

// WithPageSize sets the default page size for list calls.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithRetry sets the retry policy for idempotent reads.
func WithRetry(cfg retry.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a backend client rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrNoBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("backend: invalid base URL: %w", err)
	}
	c := &Client{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: 30 * time.Second},
		pageSize: 25,
		retry: retry.Config{
			MaxAttempts:    3,
			InitialDelay:   300 * time.Millisecond,
			MaxDelay:       3 * time.Second,
			Multiplier:     2,
			JitterFraction: 0.1,
		},
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.retry.Retryable = IsRetryable
	c.retry.Logger = c.log
	c.log = c.log.Named("backend")
	return c, nil
}

// ListOptions controls pagination, filtering and sorting.
type ListOptions struct {
	Page    int
	PerPage int
	Sort    string
	Filters map[string]string
}

func (o ListOptions) query(defaultPerPage int) url.Values {
	q := url.Values{}
	page := o.Page
	if page < 1 {
		page = 1
	}
	perPage := o.PerPage
	if perPage < 1 {
		perPage = defaultPerPage
	}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	if o.Sort != "" {
		q.Set("sort", o.Sort)
	}
	for k, v := range o.Filters {
		if v != "" {
			q.Set(k, v)
		}
	}
	return q
}

// Page is one page of a list response.
type Page[T any] struct {
	Items      []T  `json:"items"`
	Page       int  `json:"page"`
	NextPage   *int `json:"next_page,omitempty"`
	TotalItems int  `json:"total_items"`
	TotalPages int  `json:"total_pages"`
}

// paged is the backend's paginated envelope.
type paged[T any] struct {
	Items      []T  `json:"items"`
	CurPage    int  `json:"curPage"`
	NextPage   *int `json:"nextPage"`
	ItemsTotal int  `json:"itemsTotal"`
	PageTotal  int  `json:"pageTotal"`
}

// decodePage accepts either a bare JSON array or the paginated envelope.
func decodePage[T any](data []byte, page int) (Page[T], error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var items []T
		if err := json.Unmarshal(data, &items); err != nil {
			return Page[T]{}, err
		}
		if items == nil {
			items = []T{}
		}
		return Page[T]{Items: items, Page: page, TotalItems: len(items), TotalPages: 1}, nil
	}
	var env paged[T]
	if err := json.Unmarshal(data, &env); err != nil {
		return Page[T]{}, err
	}
	if env.Items == nil {
		env.Items = []T{}
	}
	if env.CurPage == 0 {
		env.CurPage = page
	}
	return Page[T]{
		Items:      env.Items,
		Page:       env.CurPage,
		NextPage:   env.NextPage,
		TotalItems: env.ItemsTotal,
		TotalPages: env.PageTotal,
	}, nil
}

// --- request plumbing ---

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) token() string {
	if c.tokens != nil {
		if t, err := c.tokens.Token(); err == nil && t != "" {
			return t
		}
	}
	return c.staticToken
}

// do sends one request and returns the raw body of a 2xx response. GETs are
// retried on retryable failures.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = io.ReadAll(body); err != nil {
			return nil, fmt.Errorf("backend: read request body: %w", err)
		}
	}

	attempt := func(ctx context.Context) ([]byte, error) {
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, rd)
		if err != nil {
			return nil, fmt.Errorf("backend: create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("backend: %s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		if err != nil {
			return nil, fmt.Errorf("backend: read response: %w", err)
		}
		if resp.StatusCode >= 300 {
			apiErr := &APIError{Status: resp.StatusCode, Method: method, Path: path}
			var eb errorBody
			if json.Unmarshal(data, &eb) == nil {
				apiErr.Code, apiErr.Message = eb.Code, eb.Message
			} else {
				apiErr.Message = strings.TrimSpace(string(data[:min(len(data), 512)]))
			}
			return nil, apiErr
		}
		return data, nil
	}

	var (
		data []byte
		err  error
	)
	if method == http.MethodGet {
		data, err = retry.DoWithResult(ctx, c.retry, attempt)
	} else {
		data, err = attempt(ctx)
	}

	category := "ok"
	if err != nil {
		category = string(Classify(err).Category)
		c.log.Debug("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
	}
	metrics.BackendRequests.WithLabelValues(method, category).Inc()
	return data, err
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	data, err := c.do(ctx, http.MethodGet, path, query, nil, "")
	if err != nil {
		return err
	}
	return decode(data, out, path)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("backend: encode %s body: %w", path, err)
		}
		body = bytes.NewReader(buf)
	}
	data, err := c.do(ctx, method, path, nil, body, "application/json")
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decode(data, out, path)
}

func list[T any](ctx context.Context, c *Client, path string, opts ListOptions) (Page[T], error) {
	q := opts.query(c.pageSize)
	data, err := c.do(ctx, http.MethodGet, path, q, nil, "")
	if err != nil {
		return Page[T]{}, err
	}
	page, _ := strconv.Atoi(q.Get("page"))
	p, err := decodePage[T](data, page)
	if err != nil {
		return Page[T]{}, fmt.Errorf("backend: decode %s: %w", path, err)
	}
	return p, nil
}

func decode(data []byte, out any, path string) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("backend: decode %s: %w", path, err)
	}
	return nil
}

func invalid(method, path string, err error) error {
	return &APIError{Status: http.StatusUnprocessableEntity, Code: "INVALID_INPUT", Message: err.Error(), Method: method, Path: path}
}

func validateInput(method, path string, v any) error {
	if err := models.Validate(v); err != nil {
		return invalid(method, path, err)
	}
	return nil
}

// Package notion is a small client for the parts of the Notion API this
// service relies on: database retrieve/create/update, database queries,
// page create/retrieve/update and search.
//
// Every call passes through a token-bucket limiter and a circuit breaker.
// Calls are never retried here; callers decide what a failure means.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/onnwee/task-overlay/telemetry"
)

const (
	DefaultBaseURL = "https://api.notion.com/v1"
	// DefaultVersion pins the API revision whose database objects carry
	// their properties directly.
	DefaultVersion = "2022-06-28"
	pageSize       = 100
)

// Options tune a Client. Zero values pick defaults.
type Options struct {
	BaseURL string
	Version string
	// RequestsPerSecond defaults to 3, Notion's documented average limit.
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	// BreakerTimeout is how long the breaker stays open before probing.
	BreakerTimeout time.Duration
	// Cache is shared between clients; a private one is created when nil.
	Cache *DataSourceCache
	// Transport is the base round tripper under auth and tracing.
	Transport http.RoundTripper
}

// Client talks to Notion with one integration token.
type Client struct {
	baseURL string
	version string
	http    *http.Client
	cache   *DataSourceCache
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewClient builds a client authenticated with apiKey.
func NewClient(apiKey string, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Version == "" {
		opts.Version = DefaultVersion
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 3
	}
	if opts.Burst <= 0 {
		opts.Burst = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}
	if opts.Cache == nil {
		opts.Cache = NewDataSourceCache()
	}
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiKey, TokenType: "Bearer"})
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		version: opts.Version,
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: &oauth2.Transport{Source: src, Base: otelhttp.NewTransport(base)},
		},
		cache:   opts.Cache,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "notion",
			MaxRequests: 1,
			Timeout:     opts.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool { return !breakerFailure(err) },
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("notion circuit breaker state change", slog.String("from", from.String()), slog.String("to", to.String()), slog.String("component", "notion"))
				telemetry.SetNotionCircuit(to == gobreaker.StateOpen)
			},
		}),
	}
}

// do performs one API call. body and out may be nil.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	ctx, span := telemetry.StartSpan(ctx, "notion", "notion."+op, attribute.String("notion.operation", op))
	defer span.End()
	start := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("notion %s: rate limiter: %w", op, err)
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, op, method, path, body, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	telemetry.ObserveNotionCall(op, outcome(err), time.Since(start))
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	telemetry.SetSpanSuccess(span)
	return nil
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("notion %s: encode request: %w", op, err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("notion %s: %w", op, err)
	}
	req.Header.Set("Notion-Version", c.version)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Op: op}
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if jerr := json.Unmarshal(b, apiErr); jerr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(b))
		}
		apiErr.Status = resp.StatusCode
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("notion %s: decode response: %w", op, err)
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	}
	return "error"
}

// RetrieveDatabase fetches a database with its live property map.
func (c *Client) RetrieveDatabase(ctx context.Context, id string) (*Database, error) {
	if id == "" {
		return nil, fmt.Errorf("database id empty")
	}
	var db Database
	if err := c.do(ctx, "databases.retrieve", http.MethodGet, "/databases/"+id, nil, &db); err != nil {
		return nil, err
	}
	return &db, nil
}

// CreateDatabase creates an inline database under a parent page.
func (c *Client) CreateDatabase(ctx context.Context, parentPageID, title string, props map[string]PropertyConfig) (*Database, error) {
	body := map[string]any{
		"parent":     Parent{Type: "page_id", PageID: parentPageID},
		"is_inline":  true,
		"title":      Text(title),
		"properties": props,
	}
	var db Database
	if err := c.do(ctx, "databases.create", http.MethodPost, "/databases", body, &db); err != nil {
		return nil, err
	}
	return &db, nil
}

// UpdateDatabase adds or replaces properties on a database.
func (c *Client) UpdateDatabase(ctx context.Context, id string, props map[string]PropertyConfig) (*Database, error) {
	var db Database
	if err := c.do(ctx, "databases.update", http.MethodPatch, "/databases/"+id, map[string]any{"properties": props}, &db); err != nil {
		return nil, err
	}
	return &db, nil
}

// queryHandle resolves the path segment used to query a database. Databases
// that expose data sources are queried through the first one.
func (c *Client) queryHandle(ctx context.Context, databaseID string) (string, error) {
	return c.cache.Resolve(ctx, databaseID, func(ctx context.Context) (string, error) {
		db, err := c.RetrieveDatabase(ctx, databaseID)
		if err != nil {
			return "", err
		}
		if len(db.DataSources) > 0 {
			return "data_sources/" + db.DataSources[0].ID, nil
		}
		return "databases/" + db.ID, nil
	})
}

type queryResponse struct {
	Results    []Page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

// QueryDatabase returns every non-archived page matching filter, following
// pagination. A nil filter returns all pages.
func (c *Client) QueryDatabase(ctx context.Context, databaseID string, filter *Filter) ([]Page, error) {
	handle, err := c.queryHandle(ctx, databaseID)
	if err != nil {
		return nil, err
	}
	var out []Page
	cursor := ""
	for {
		body := map[string]any{"page_size": pageSize}
		if filter != nil {
			body["filter"] = filter
		}
		if cursor != "" {
			body["start_cursor"] = cursor
		}
		var resp queryResponse
		if err := c.do(ctx, "databases.query", http.MethodPost, "/"+handle+"/query", body, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Results...)
		if !resp.HasMore || resp.NextCursor == "" {
			return out, nil
		}
		cursor = resp.NextCursor
	}
}

// CreatePage adds a page to a database.
func (c *Client) CreatePage(ctx context.Context, databaseID string, props map[string]PropertyValue) (*Page, error) {
	body := map[string]any{
		"parent":     Parent{Type: "database_id", DatabaseID: databaseID},
		"properties": props,
	}
	var p Page
	if err := c.do(ctx, "pages.create", http.MethodPost, "/pages", body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// RetrievePage fetches a page.
func (c *Client) RetrievePage(ctx context.Context, id string) (*Page, error) {
	if id == "" {
		return nil, fmt.Errorf("page id empty")
	}
	var p Page
	if err := c.do(ctx, "pages.retrieve", http.MethodGet, "/pages/"+id, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdatePage patches page properties and/or the archived flag.
func (c *Client) UpdatePage(ctx context.Context, id string, upd PageUpdate) (*Page, error) {
	var p Page
	if err := c.do(ctx, "pages.update", http.MethodPatch, "/pages/"+id, upd, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SearchDatabases runs a title search restricted to databases.
func (c *Client) SearchDatabases(ctx context.Context, query string) ([]Database, error) {
	body := map[string]any{
		"query":     query,
		"filter":    map[string]string{"property": "object", "value": "database"},
		"page_size": 10,
	}
	var resp struct {
		Results []Database `json:"results"`
	}
	if err := c.do(ctx, "search", http.MethodPost, "/search", body, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Package http implements the downstream registry client over its REST API.
package http

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/gh-myio/gcdr-sync/gcdr"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	defaultRetryDelay  = 2 * time.Second
	defaultMediaType   = "application/json"

	apiKeyHeader = "X-API-Key"
	tenantHeader = "X-Tenant-ID"
)

var _ gcdr.Registry = (*Client)(nil)

type Config struct {
	BaseURL  string
	APIKey   string
	TenantID string
	// ListJQ optionally overrides list envelope extraction.
	ListJQ string
	// RequestsPerSecond throttles outgoing calls; zero disables throttling.
	RequestsPerSecond float64
	Timeout           time.Duration
	RetryDelay        time.Duration
	// OnRequest is invoked after every HTTP exchange with the method and
	// response status (0 for transport failures). Used for metrics.
	OnRequest func(method string, status int)
}

type Client struct {
	baseURL    *url.URL
	apiKey     string
	tenantID   string
	listJQ     string
	client     *http.Client
	limiter    *rate.Limiter
	retryDelay time.Duration
	onRequest  func(method string, status int)
}

func NewClient(cfg Config) (*Client, error) {
	baseURL, err := parseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, validationError("gcdr.api-key is required", nil)
	}
	if strings.TrimSpace(cfg.TenantID) == "" {
		return nil, validationError("gcdr.tenant-id is required", nil)
	}
	if strings.TrimSpace(cfg.ListJQ) != "" {
		if _, err := compileListJQ(cfg.ListJQ); err != nil {
			return nil, validationError("gcdr.list-jq is not a valid jq expression", err)
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		tenantID:   cfg.TenantID,
		listJQ:     strings.TrimSpace(cfg.ListJQ),
		client:     &http.Client{Timeout: timeout},
		limiter:    limiter,
		retryDelay: retryDelay,
		onRequest:  cfg.OnRequest,
	}, nil
}

func (c *Client) Create(ctx context.Context, dto gcdr.CreateDTO) (*gcdr.Entity, error) {
	kind := dto.Kind()
	body, err := c.execute(ctx, http.MethodPost, collectionPath(kind), nil, dto)
	if err != nil {
		if isConflict(err) {
			return c.recoverConflict(ctx, kind, dto.EntityName())
		}
		return nil, err
	}

	entity, decodeErr := decodeEntity(body)
	if decodeErr != nil {
		return nil, decodeErr
	}
	if entity == nil {
		return nil, internalError(fmt.Sprintf("create %s returned no entity payload", kind), nil)
	}
	return entity, nil
}

func (c *Client) Get(ctx context.Context, kind gcdr.EntityKind, id string) (*gcdr.Entity, error) {
	body, err := c.execute(ctx, http.MethodGet, collectionPath(kind)+"/"+url.PathEscape(id), nil, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return decodeEntity(body)
}

func (c *Client) GetByExternalID(ctx context.Context, kind gcdr.EntityKind, externalID string) (*gcdr.Entity, error) {
	body, err := c.execute(ctx, http.MethodGet, collectionPath(kind)+"/external/"+url.PathEscape(externalID), nil, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return decodeEntity(body)
}

func (c *Client) FindByCode(ctx context.Context, kind gcdr.EntityKind, code string) (*gcdr.Entity, error) {
	query := url.Values{}
	query.Set("code", code)

	body, err := c.execute(ctx, http.MethodGet, collectionPath(kind), query, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	items, err := c.decodeList(body)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func (c *Client) Update(ctx context.Context, kind gcdr.EntityKind, id string, dto gcdr.CreateDTO) (*gcdr.Entity, error) {
	body, err := c.execute(ctx, http.MethodPatch, collectionPath(kind)+"/"+url.PathEscape(id), nil, dto)
	if err != nil {
		return nil, err
	}
	return decodeEntity(body)
}

// recoverConflict resolves a 409 on create: the registry treats the derived
// code as a natural key, so the entity must already exist under it. An
// unresolvable conflict is fatal and surfaced with full context.
func (c *Client) recoverConflict(ctx context.Context, kind gcdr.EntityKind, name string) (*gcdr.Entity, error) {
	code := gcdr.DeriveCode(name)

	existing, err := c.FindByCode(ctx, kind, code)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, conflictError(
			fmt.Sprintf("create %s %q reported a conflict but no entity matches code %q", kind, name, code),
			nil,
		)
	}
	return existing, nil
}

func collectionPath(kind gcdr.EntityKind) string {
	switch kind {
	case gcdr.KindCustomer:
		return "customers"
	case gcdr.KindAsset:
		return "assets"
	case gcdr.KindDevice:
		return "devices"
	default:
		return string(kind) + "s"
	}
}

func parseBaseURL(raw string) (*url.URL, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, validationError("gcdr.base-url is required", nil)
	}

	parsed, err := url.Parse(value)
	if err != nil {
		return nil, validationError("gcdr.base-url is invalid", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, validationError("gcdr.base-url must use http or https", nil)
	}
	if parsed.Host == "" {
		return nil, validationError("gcdr.base-url host is required", nil)
	}
	if parsed.Path == "" {
		parsed.Path = "/"
	}

	return parsed, nil
}

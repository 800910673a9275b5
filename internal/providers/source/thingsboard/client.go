// Package thingsboard implements the source platform boundary against a
// ThingsBoard-style REST API: JWT login, paged entity listing, relation
// queries and SERVER_SCOPE attribute access.
package thingsboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gh-myio/gcdr-sync/debugctx"
	"github.com/gh-myio/gcdr-sync/faults"
	"github.com/gh-myio/gcdr-sync/gcdr"
	"github.com/gh-myio/gcdr-sync/source"
)

const (
	defaultPageSize = 100
	defaultTimeout  = 30 * time.Second

	// ThingsBoard login responses carry no expiry; tokens are cached for a
	// conservative window and refreshed on the next call after it lapses.
	tokenLifetime = 10 * time.Minute

	maxBodySize = 1 << 20
)

type Config struct {
	BaseURL  string
	Username string
	Password string
	PageSize int
	Timeout  time.Duration
}

type Client struct {
	baseURL    *url.URL
	username   string
	password   string
	pageSize   int
	httpClient *http.Client

	// injected in tests
	now func() time.Time

	tokenMu        sync.Mutex
	token          string
	tokenExpiresAt time.Time
}

var (
	_ source.Provider        = (*Client)(nil)
	_ source.AttributeWriter = (*Client)(nil)
)

func NewClient(cfg Config) (*Client, error) {
	trimmed := strings.TrimSpace(cfg.BaseURL)
	if trimmed == "" {
		return nil, faults.NewTypedError(faults.ValidationError, "source base-url is required", nil)
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, faults.NewTypedError(faults.ValidationError, fmt.Sprintf("source base-url %q is invalid", cfg.BaseURL), err)
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, faults.NewTypedError(faults.ValidationError, "source username and password are required", nil)
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL:    parsed,
		username:   cfg.Username,
		password:   cfg.Password,
		pageSize:   pageSize,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}, nil
}

func (c *Client) FetchCustomer(ctx context.Context, customerID string) (source.Entity, error) {
	var payload struct {
		ID    tbEntityID `json:"id"`
		Title string     `json:"title"`
	}
	if err := c.get(ctx, "/api/customer/"+url.PathEscape(customerID), nil, &payload); err != nil {
		return source.Entity{}, err
	}
	if payload.ID.ID == "" {
		return source.Entity{}, faults.NewTypedError(faults.TransportError, fmt.Sprintf("customer %q response does not include an id", customerID), nil)
	}
	return source.Entity{ID: payload.ID.ID, Name: payload.Title}, nil
}

func (c *Client) FetchAssets(ctx context.Context, customerID string) ([]source.Entity, error) {
	return c.fetchPaged(ctx, "/api/customer/"+url.PathEscape(customerID)+"/assets")
}

func (c *Client) FetchDevices(ctx context.Context, customerID string) ([]source.Entity, error) {
	return c.fetchPaged(ctx, "/api/customer/"+url.PathEscape(customerID)+"/devices")
}

// FetchDeviceAssetMap resolves Contains relations from each asset and keeps
// the DEVICE targets. A device related to several assets keeps the first
// asset in the given order.
func (c *Client) FetchDeviceAssetMap(ctx context.Context, assetIDs []string) (map[string]string, error) {
	deviceAsset := make(map[string]string)
	for _, assetID := range assetIDs {
		var relations []struct {
			To tbEntityID `json:"to"`
		}
		query := url.Values{}
		query.Set("fromId", assetID)
		query.Set("fromType", "ASSET")
		query.Set("relationType", "Contains")
		if err := c.get(ctx, "/api/relations", query, &relations); err != nil {
			return nil, fmt.Errorf("fetch relations of asset %q: %w", assetID, err)
		}
		for _, relation := range relations {
			if relation.To.EntityType != "DEVICE" || relation.To.ID == "" {
				continue
			}
			if _, seen := deviceAsset[relation.To.ID]; !seen {
				deviceAsset[relation.To.ID] = assetID
			}
		}
	}
	return deviceAsset, nil
}

func (c *Client) FetchServerScopeAttributes(ctx context.Context, kind gcdr.EntityKind, ids []string) (map[string]map[string]string, error) {
	entityType, err := tbEntityType(kind)
	if err != nil {
		return nil, err
	}

	attrs := make(map[string]map[string]string, len(ids))
	for _, id := range ids {
		var payload []struct {
			Key   string          `json:"key"`
			Value json.RawMessage `json:"value"`
		}
		path := "/api/plugins/telemetry/" + entityType + "/" + url.PathEscape(id) + "/values/attributes/SERVER_SCOPE"
		if err := c.get(ctx, path, nil, &payload); err != nil {
			return nil, fmt.Errorf("fetch attributes of %s %q: %w", kind, id, err)
		}
		if len(payload) == 0 {
			continue
		}
		values := make(map[string]string, len(payload))
		for _, attr := range payload {
			values[attr.Key] = attributeString(attr.Value)
		}
		attrs[id] = values
	}
	return attrs, nil
}

func (c *Client) WriteDownstreamID(ctx context.Context, kind gcdr.EntityKind, sourceID string, downstreamID string, syncHash string) error {
	entityType, err := tbEntityType(kind)
	if err != nil {
		return err
	}
	kindKey := source.KindAttr(kind)

	body := map[string]string{
		source.AttrGCDRID:   downstreamID,
		kindKey:             downstreamID,
		source.AttrSyncedAt: c.now().UTC().Format(time.RFC3339),
	}
	if syncHash != "" {
		body[source.AttrSyncHash] = syncHash
	}

	path := "/api/plugins/telemetry/" + entityType + "/" + url.PathEscape(sourceID) + "/attributes/SERVER_SCOPE"
	if err := c.do(ctx, http.MethodPost, path, nil, body, nil); err != nil {
		return fmt.Errorf("write attributes of %s %q: %w", kind, sourceID, err)
	}
	return nil
}

type tbEntityID struct {
	ID         string `json:"id"`
	EntityType string `json:"entityType"`
}

type tbPage struct {
	Data    []json.RawMessage `json:"data"`
	HasNext bool              `json:"hasNext"`
}

func (c *Client) fetchPaged(ctx context.Context, path string) ([]source.Entity, error) {
	var entities []source.Entity
	for page := 0; ; page++ {
		query := url.Values{}
		query.Set("pageSize", fmt.Sprintf("%d", c.pageSize))
		query.Set("page", fmt.Sprintf("%d", page))

		var result tbPage
		if err := c.get(ctx, path, query, &result); err != nil {
			return nil, err
		}
		for _, raw := range result.Data {
			var item struct {
				ID   tbEntityID `json:"id"`
				Name string     `json:"name"`
				Type string     `json:"type"`
			}
			if err := json.Unmarshal(raw, &item); err != nil {
				return nil, faults.NewTypedError(faults.TransportError, fmt.Sprintf("page item of %s is not valid JSON", path), err)
			}
			if item.ID.ID == "" {
				return nil, faults.NewTypedError(faults.TransportError, fmt.Sprintf("page item of %s does not include an id", path), nil)
			}
			entities = append(entities, source.Entity{ID: item.ID.ID, Name: item.Name, Type: item.Type})
		}
		if !result.HasNext {
			return entities, nil
		}
	}
}

func tbEntityType(kind gcdr.EntityKind) (string, error) {
	switch kind {
	case gcdr.KindCustomer:
		return "CUSTOMER", nil
	case gcdr.KindAsset:
		return "ASSET", nil
	case gcdr.KindDevice:
		return "DEVICE", nil
	default:
		return "", faults.NewTypedError(faults.InternalError, fmt.Sprintf("unknown entity kind %q", kind), nil)
	}
}

// attributeString renders an attribute value the way it was written: strings
// unquoted, everything else as its JSON text.
func attributeString(raw json.RawMessage) string {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	return strings.TrimSpace(string(raw))
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) do(ctx context.Context, method string, path string, query url.Values, body any, out any) error {
	token, err := c.loginToken(ctx)
	if err != nil {
		return err
	}

	target := c.resolve(path, query)
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return faults.NewTypedError(faults.InternalError, "failed to encode request body", err)
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return faults.NewTypedError(faults.InternalError, fmt.Sprintf("failed to create %s request for %s", method, path), err)
	}
	request.Header.Set("Accept", "application/json")
	request.Header.Set("X-Authorization", "Bearer "+token)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	debugctx.Printf(ctx, "source request: %s %s", method, request.URL.Redacted())

	response, err := c.httpClient.Do(request)
	if err != nil {
		return faults.NewTypedError(faults.TransportError, fmt.Sprintf("%s %s failed", method, path), err)
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(response.Body, maxBodySize))
	if err != nil {
		return faults.NewTypedError(faults.TransportError, fmt.Sprintf("failed to read response of %s %s", method, path), err)
	}

	debugctx.Printf(ctx, "source response: %s %s -> %d", method, path, response.StatusCode)

	if response.StatusCode >= http.StatusBadRequest {
		return classifyStatus(method, path, response.StatusCode, payload)
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return faults.NewTypedError(faults.TransportError, fmt.Sprintf("response of %s %s is not valid JSON", method, path), err)
	}
	return nil
}

func (c *Client) loginToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	if c.token != "" && c.now().Before(c.tokenExpiresAt.Add(-30*time.Second)) {
		token := c.token
		c.tokenMu.Unlock()
		return token, nil
	}
	c.tokenMu.Unlock()

	credentials, err := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})
	if err != nil {
		return "", faults.NewTypedError(faults.InternalError, "failed to encode login request", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve("/api/auth/login", nil), bytes.NewReader(credentials))
	if err != nil {
		return "", faults.NewTypedError(faults.InternalError, "failed to create login request", err)
	}
	request.Header.Set("Accept", "application/json")
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return "", faults.NewTypedError(faults.TransportError, "source login request failed", err)
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(response.Body, maxBodySize))
	if err != nil {
		return "", faults.NewTypedError(faults.TransportError, "failed to read source login response", err)
	}
	if response.StatusCode >= http.StatusBadRequest {
		return "", faults.NewTypedError(faults.AuthError,
			fmt.Sprintf("source login failed with status %d: %s", response.StatusCode, summarizeBody(payload)), nil)
	}

	var tokenResponse struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(payload, &tokenResponse); err != nil {
		return "", faults.NewTypedError(faults.AuthError, "source login response is not valid JSON", err)
	}
	if strings.TrimSpace(tokenResponse.Token) == "" {
		return "", faults.NewTypedError(faults.AuthError, "source login response does not include a token", nil)
	}

	c.tokenMu.Lock()
	c.token = tokenResponse.Token
	c.tokenExpiresAt = c.now().Add(tokenLifetime)
	c.tokenMu.Unlock()

	return tokenResponse.Token, nil
}

func classifyStatus(method string, path string, status int, body []byte) error {
	message := fmt.Sprintf("%s %s failed with status %d: %s", method, path, status, summarizeBody(body))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return faults.NewTypedError(faults.AuthError, message, nil)
	case status == http.StatusNotFound:
		return faults.NewTypedError(faults.NotFoundError, message, nil)
	case status >= http.StatusInternalServerError:
		return faults.NewTypedError(faults.DependencyError, message, nil)
	default:
		return faults.NewTypedError(faults.TransportError, message, nil)
	}
}

func (c *Client) resolve(path string, query url.Values) string {
	resolved := *c.baseURL
	resolved.Path = strings.TrimRight(resolved.Path, "/") + path
	if len(query) > 0 {
		resolved.RawQuery = query.Encode()
	}
	return resolved.String()
}

func summarizeBody(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "<empty body>"
	}
	if len(trimmed) > 300 {
		return trimmed[:300] + "..."
	}
	return trimmed
}

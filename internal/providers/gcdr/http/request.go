package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gh-myio/gcdr-sync/debugctx"
)

// execute performs one request against the registry and returns the raw
// response body. A server error (status >= 500) is retried exactly once,
// after a fixed delay, and only for verbs whose retry cannot duplicate a side
// effect; POST is never retried here because a partially-committed insert
// that is blindly resent can produce a duplicate entity. Recovery for failed
// creates happens through conflict detection on the next run.
func (c *Client) execute(ctx context.Context, method string, path string, query url.Values, body any) ([]byte, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return nil, err
	}

	responseBody, status, err := c.doOnce(ctx, method, path, query, payload)
	if err == nil || status < http.StatusInternalServerError || !retryableMethod(method) {
		return responseBody, err
	}

	debugctx.Printf(ctx, "gcdr request method=%q path=%q status=%d retrying once", method, path, status)
	select {
	case <-ctx.Done():
		return nil, transportError("registry request cancelled before retry", ctx.Err())
	case <-time.After(c.retryDelay):
	}

	responseBody, _, err = c.doOnce(ctx, method, path, query, payload)
	return responseBody, err
}

func (c *Client) doOnce(ctx context.Context, method string, path string, query url.Values, payload []byte) ([]byte, int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, transportError("registry request cancelled while rate-limited", err)
		}
	}

	request, err := c.newRequest(ctx, method, path, query, payload)
	if err != nil {
		return nil, 0, err
	}

	debugctx.Printf(ctx, "gcdr request method=%q url=%q", method, request.URL.Redacted())

	response, err := c.client.Do(request)
	if err != nil {
		c.recordRequest(method, 0)
		return nil, 0, transportError("registry request failed", err)
	}
	defer response.Body.Close()
	c.recordRequest(method, response.StatusCode)

	body, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return nil, response.StatusCode, transportError("failed to read registry response body", err)
	}

	if response.StatusCode == http.StatusNoContent {
		return nil, response.StatusCode, nil
	}
	if response.StatusCode >= http.StatusBadRequest {
		return nil, response.StatusCode, classifyStatusError(response.StatusCode, body)
	}

	return body, response.StatusCode, nil
}

func (c *Client) newRequest(ctx context.Context, method string, path string, query url.Values, payload []byte) (*http.Request, error) {
	target := *c.baseURL
	target.Path = joinPath(c.baseURL.Path, path)
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	var bodyReader io.Reader
	if len(payload) > 0 {
		bodyReader = bytes.NewReader(payload)
	}

	request, err := http.NewRequestWithContext(ctx, method, target.String(), bodyReader)
	if err != nil {
		return nil, internalError("failed to create registry request", err)
	}

	request.Header.Set("Accept", defaultMediaType)
	if len(payload) > 0 {
		request.Header.Set("Content-Type", defaultMediaType)
	}
	request.Header.Set(apiKeyHeader, c.apiKey)
	request.Header.Set(tenantHeader, c.tenantID)

	return request, nil
}

func (c *Client) recordRequest(method string, status int) {
	if c.onRequest != nil {
		c.onRequest(method, status)
	}
}

func encodeBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, validationError("failed to encode registry request body", err)
	}
	return encoded, nil
}

func retryableMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPatch, http.MethodPut:
		return true
	default:
		return false
	}
}

func classifyStatusError(statusCode int, body []byte) error {
	message := fmt.Sprintf("registry request failed with status %d: %s", statusCode, summarizeBody(body))

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return authError(message, nil)
	case http.StatusNotFound:
		return notFoundError(message, nil)
	case http.StatusConflict:
		return conflictError(message, nil)
	case http.StatusUnprocessableEntity:
		return validationError(message, nil)
	}

	if statusCode >= 400 && statusCode < 500 {
		return validationError(message, nil)
	}
	return transportError(message, nil)
}

func summarizeBody(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "<empty>"
	}
	if len(trimmed) > 512 {
		return trimmed[:512] + "..."
	}
	return trimmed
}

func joinPath(basePath string, requestPath string) string {
	base := strings.TrimSuffix(basePath, "/")
	suffix := strings.TrimPrefix(requestPath, "/")
	if suffix == "" {
		return basePath
	}
	return base + "/" + suffix
}

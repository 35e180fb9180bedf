// https://github.com/relaysync/core

package nodeclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
)

// do performs one HTTP call through the rate limiter and circuit
// breaker, returning the response body or a classified error.
func (c *Client) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, asTransient(fmt.Errorf("rate limiter wait: %w", err))
	}

	result, err := c.breaker.Execute(func() ([]byte, error) {
		return c.doOnce(ctx, method, path, payload)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, asTransient(err)
		}
		return nil, err
	}
	return result, nil
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, asPermanent(fmt.Errorf("encode request body: %w", err))
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, asPermanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, asTransient(err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, asTransient(fmt.Errorf("read response body: %w", err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, asUnauthorized(fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	case resp.StatusCode == http.StatusNotFound:
		return nil, errHTTPNotFound
	case resp.StatusCode >= 500:
		return nil, asTransient(fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	default:
		return nil, asPermanent(fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	}
}

// errHTTPNotFound is the untyped 404 signal doOnce returns; capability
// methods translate it into a NotFoundError carrying the right Kind
// for their own endpoint (user vs item).
var errHTTPNotFound = &httpNotFound{}

type httpNotFound struct{}

func (*httpNotFound) Error() string { return "node client: http 404" }

// isHTTPNotFound reports whether err is the untyped 404 signal.
func isHTTPNotFound(err error) bool {
	_, ok := err.(*httpNotFound)
	return ok
}

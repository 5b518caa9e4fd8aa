// Package lakefs is a hand-rolled client for the versioned-object store.
// No Go SDK for it turned up anywhere in the reference corpus — only
// the store's own server source and a handful of its
// internal API types — so this wraps its REST API (api/v1) directly
// with net/http and encoding/json, the same "wrap an external HTTP API
// behind a Go struct with error wrapping" shape the blob store adapter
// uses for S3.
package lakefs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kohakuhub/hub/internal/apierror"
	"github.com/kohakuhub/hub/internal/config"
)

type Client struct {
	baseURL    string
	accessKey  string
	secretKey  string
	httpClient *http.Client
}

func NewClient(cfg config.LakeFS) *Client {
	return &Client{
		baseURL:   cfg.Endpoint + "/api/v1",
		accessKey: cfg.AccessKey,
		secretKey: cfg.SecretKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// httpError records a 5xx status and body so do can report the last
// failure after its retries; 409s become apierror.Conflict instead.
type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("lakefs: status %d: %s", e.status, e.body)
}

const maxRetries = 4

// do executes an HTTP call with jittered exponential backoff on
// transient 5xx/timeouts. 409s and 404s are returned immediately so
// callers can distinguish them.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return apierror.Internal("lakefs: marshal request", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
			jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
			select {
			case <-time.After(backoff + jitter):
			case <-ctx.Done():
				return apierror.Upstream("lakefs: context cancelled during retry", ctx.Err())
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bodyBytes))
		if err != nil {
			return apierror.Internal("lakefs: build request", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.SetBasicAuth(c.accessKey, c.secretKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return apierror.NotFound("NotFound", fmt.Sprintf("lakefs: %s %s not found", method, path))
		case resp.StatusCode == http.StatusConflict:
			return apierror.Conflict("Conflict", fmt.Sprintf("lakefs: %s %s conflict: %s", method, path, string(respBody)))
		case resp.StatusCode >= 500:
			lastErr = &httpError{status: resp.StatusCode, body: string(respBody)}
			continue
		case resp.StatusCode >= 400:
			return apierror.Validation("LakeFSRequestError", fmt.Sprintf("lakefs: %s %s: %s", method, path, string(respBody)))
		}

		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return apierror.Internal("lakefs: decode response", err)
			}
		}
		return nil
	}

	return apierror.Upstream(fmt.Sprintf("lakefs: %s %s failed after %d attempts", method, path, maxRetries), lastErr)
}

func query(params map[string]string) string {
	values := url.Values{}
	for k, v := range params {
		if v != "" {
			values.Set(k, v)
		}
	}
	if len(values) == 0 {
		return ""
	}
	return "?" + values.Encode()
}

func itoa(n int) string { return strconv.Itoa(n) }

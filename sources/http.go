package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultRetryMax = 2
	minBackoff      = 100 * time.Millisecond
	maxBackoff      = 2 * time.Second
	contentTypeJSON = "application/json"
	maxBodyBytes    = 4 << 20
)

// HTTPClient represents a minimal http client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Response is a completed upstream exchange.
type Response struct {
	Body   []byte
	Status int
	Header http.Header
}

// StatusError is returned when an upstream answers with a non-2xx status.
// Message is the upstream body, trimmed.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream status %d", e.Status)
	}
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Message)
}

// client performs JSON exchanges against one base URL, retrying transport
// errors and 5xx responses with exponential backoff.
type client struct {
	baseURL  string
	http     HTTPClient
	retryMax int
}

func newClient(baseURL string, hc HTTPClient, retryMax int) (*client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL required")
	}
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	if retryMax < 0 {
		retryMax = defaultRetryMax
	}
	return &client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     hc,
		retryMax: retryMax,
	}, nil
}

func (c *client) postJSON(ctx context.Context, path string, payload any, header http.Header) (Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("marshal payload: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, body, header)
}

func (c *client) get(ctx context.Context, path string) (Response, error) {
	return c.do(ctx, http.MethodGet, path, nil, nil)
}

func (c *client) do(ctx context.Context, method, path string, payload []byte, header http.Header) (Response, error) {
	fullURL := c.baseURL + path

	var (
		attempt   int
		lastError error
		status    int
		backoff   = minBackoff
	)

	for {
		attempt++
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
		if err != nil {
			return Response{Status: status}, fmt.Errorf("create request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", contentTypeJSON)
		}
		req.Header.Set("Accept", contentTypeJSON)
		for k, values := range header {
			for _, v := range values {
				req.Header.Add(k, v)
			}
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return Response{Status: status}, ctx.Err()
			}
			lastError = err
		} else {
			status = resp.StatusCode
			body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
			resp.Body.Close()

			out := Response{Body: body, Status: status, Header: resp.Header}
			if readErr != nil {
				lastError = fmt.Errorf("read response: %w", readErr)
			} else if status >= 500 && attempt <= c.retryMax {
				lastError = &StatusError{Status: status, Message: strings.TrimSpace(string(body))}
			} else if status >= 300 {
				return out, &StatusError{Status: status, Message: strings.TrimSpace(string(body))}
			} else {
				return out, nil
			}
		}

		if attempt > c.retryMax {
			if lastError == nil {
				lastError = fmt.Errorf("request failed after %d attempts", attempt-1)
			}
			return Response{Status: status}, lastError
		}

		if !sleepWithContext(ctx, backoff) {
			if ctx.Err() != nil {
				return Response{Status: status}, ctx.Err()
			}
			return Response{Status: status}, fmt.Errorf("retry interrupted")
		}
		backoff = nextBackoff(backoff)
	}
}

func (c *client) String() string {
	return fmt.Sprintf("source{base=%s,retry_max=%d}", c.baseURL, c.retryMax)
}

// NewHTTPClient returns a pooled client; timeout bounds a whole exchange.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		MaxConnsPerHost:     64,
		MaxIdleConns:        128,
		MaxIdleConnsPerHost: 64,
		IdleConnTimeout:     90 * time.Second,
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

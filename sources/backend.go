package sources

import (
	"context"
	"net/http"

	"github.com/saferoute/route_scoring/internal/contract"
)

const (
	scoreRoutePath = "/score-route"
	healthPath     = "/health"
)

// CrimeBackend forwards scoring requests to the crime-statistics service on
// behalf of the edge proxy. The response body is returned untouched.
type CrimeBackend struct {
	*client
}

// NewCrimeBackend creates a backend client.
func NewCrimeBackend(baseURL string, hc HTTPClient, retryMax int) (*CrimeBackend, error) {
	c, err := newClient(baseURL, hc, retryMax)
	if err != nil {
		return nil, err
	}
	return &CrimeBackend{client: c}, nil
}

// Forward posts the request, which must already carry its fingerprint as
// route_id. A non-2xx answer is returned as *StatusError.
func (b *CrimeBackend) Forward(ctx context.Context, req contract.ScoreRouteRequest, traceID string) (Response, error) {
	header := http.Header{}
	if traceID != "" {
		header.Set(contract.TraceIDHeader, traceID)
	}
	return b.postJSON(ctx, scoreRoutePath, req, header)
}

// Ping checks the backend health endpoint.
func (b *CrimeBackend) Ping(ctx context.Context) error {
	_, err := b.get(ctx, healthPath)
	return err
}

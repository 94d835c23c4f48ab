package sources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/saferoute/route_scoring/internal/contract"
)

const routesPath = "/routes"

// ProviderClient queries the external path provider for walking candidates.
type ProviderClient struct {
	*client
}

// NewProviderClient creates a path provider client.
func NewProviderClient(baseURL string, hc HTTPClient, retryMax int) (*ProviderClient, error) {
	c, err := newClient(baseURL, hc, retryMax)
	if err != nil {
		return nil, err
	}
	return &ProviderClient{client: c}, nil
}

// Routes returns the provider's candidates for one avoidance hint set.
func (c *ProviderClient) Routes(ctx context.Context, req contract.ProviderRequest) ([]contract.ProviderRoute, error) {
	if req.Mode == "" {
		req.Mode = "walking"
	}
	resp, err := c.postJSON(ctx, routesPath, req, nil)
	if err != nil {
		return nil, err
	}
	var payload contract.ProviderResponse
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}
	if payload.Error != "" {
		return nil, fmt.Errorf("path provider: %s", payload.Error)
	}
	return payload.Routes, nil
}

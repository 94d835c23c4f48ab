package sources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/saferoute/route_scoring/internal/contract"
)

// CrimeScore is a decoded crime-statistics sub-score.
type CrimeScore struct {
	Value     float64
	Breakdown map[string]int
	// Cache is the edge proxy outcome header, empty when talking to the
	// backend directly.
	Cache string
}

// CrimeClient scores full route geometry through the edge proxy.
type CrimeClient struct {
	*client
}

// NewCrimeClient creates a client for the edge proxy (or the backend itself).
func NewCrimeClient(baseURL string, hc HTTPClient, retryMax int) (*CrimeClient, error) {
	c, err := newClient(baseURL, hc, retryMax)
	if err != nil {
		return nil, err
	}
	return &CrimeClient{client: c}, nil
}

// ScoreRoute requests the crime sub-score for the geometry.
func (c *CrimeClient) ScoreRoute(ctx context.Context, points []contract.RoutePoint) (CrimeScore, error) {
	resp, err := c.postJSON(ctx, scoreRoutePath, contract.ScoreRouteRequest{Points: points}, nil)
	if err != nil {
		return CrimeScore{}, err
	}
	return decodeCrime(resp)
}

func decodeCrime(resp Response) (CrimeScore, error) {
	var payload struct {
		SafetyScore *float64       `json:"safety_score"`
		Breakdown   map[string]int `json:"breakdown"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return CrimeScore{}, fmt.Errorf("decode crime response: %w", err)
	}
	if payload.SafetyScore == nil {
		return CrimeScore{}, fmt.Errorf("crime response missing safety_score")
	}
	score := *payload.SafetyScore
	if score < 0 || score > 1 {
		return CrimeScore{}, fmt.Errorf("crime safety_score %v outside [0,1]", score)
	}
	out := CrimeScore{
		Value:     score,
		Breakdown: payload.Breakdown,
	}
	if resp.Header != nil {
		out.Cache = resp.Header.Get(contract.CacheHeader)
	}
	return out, nil
}

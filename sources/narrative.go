package sources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/saferoute/route_scoring/internal/contract"
)

const narrativePath = "/analyze-route"

// NarrativeScore is a decoded narrative sub-score with its explanation.
type NarrativeScore struct {
	Value     float64
	Concerns  []string
	QuickTips []string
}

// NarrativeClient asks the narrative scorer to judge a route description.
type NarrativeClient struct {
	*client
}

// NewNarrativeClient creates a narrative scorer client.
func NewNarrativeClient(baseURL string, hc HTTPClient, retryMax int) (*NarrativeClient, error) {
	c, err := newClient(baseURL, hc, retryMax)
	if err != nil {
		return nil, err
	}
	return &NarrativeClient{client: c}, nil
}

// AnalyzeRoute requests the narrative sub-score.
func (c *NarrativeClient) AnalyzeRoute(ctx context.Context, req contract.NarrativeRequest) (NarrativeScore, error) {
	resp, err := c.postJSON(ctx, narrativePath, req, nil)
	if err != nil {
		return NarrativeScore{}, err
	}
	var payload contract.NarrativeResponse
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return NarrativeScore{}, fmt.Errorf("decode narrative response: %w", err)
	}
	if !payload.Success {
		msg := payload.Error
		if msg == "" {
			msg = "success=false"
		}
		return NarrativeScore{}, fmt.Errorf("narrative scorer: %s", msg)
	}
	score := payload.Analysis.SafetyScore
	if score < 0 || score > 100 {
		return NarrativeScore{}, fmt.Errorf("narrative safety_score %d outside [0,100]", score)
	}
	return NarrativeScore{
		Value:     float64(score) / 100,
		Concerns:  payload.Analysis.MainConcerns,
		QuickTips: payload.Analysis.QuickTips,
	}, nil
}

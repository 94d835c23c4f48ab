package sources

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/saferoute/route_scoring/internal/contract"
)

const imageryPath = "/analyze-streetview"

// ImageryScore is a decoded imagery sub-score. Available is false when the
// scorer had no imagery for the location ("N/A"), which is not a failure.
type ImageryScore struct {
	Value     float64
	Available bool
}

// ImageryClient scores single locations from street-level imagery.
type ImageryClient struct {
	*client
}

// NewImageryClient creates an imagery scorer client.
func NewImageryClient(baseURL string, hc HTTPClient, retryMax int) (*ImageryClient, error) {
	c, err := newClient(baseURL, hc, retryMax)
	if err != nil {
		return nil, err
	}
	return &ImageryClient{client: c}, nil
}

// ScoreLocation requests the imagery sub-score for one location.
func (c *ImageryClient) ScoreLocation(ctx context.Context, req contract.ImageryRequest) (ImageryScore, error) {
	resp, err := c.postJSON(ctx, imageryPath, req, nil)
	if err != nil {
		return ImageryScore{}, err
	}
	return decodeImagery(resp.Body)
}

func decodeImagery(body []byte) (ImageryScore, error) {
	if !gjson.ValidBytes(body) {
		return ImageryScore{}, fmt.Errorf("decode imagery response: invalid json")
	}
	if !gjson.GetBytes(body, "success").Bool() {
		msg := gjson.GetBytes(body, "error").String()
		if msg == "" {
			msg = "success=false"
		}
		return ImageryScore{}, fmt.Errorf("imagery scorer: %s", msg)
	}

	score := gjson.GetBytes(body, "safety_score")
	switch score.Type {
	case gjson.Number:
		v := score.Float()
		if v < 0 || v > 100 {
			return ImageryScore{}, fmt.Errorf("imagery safety_score %v outside [0,100]", v)
		}
		return ImageryScore{Value: v / 100, Available: true}, nil
	case gjson.String:
		if strings.EqualFold(strings.TrimSpace(score.String()), "N/A") {
			return ImageryScore{}, nil
		}
		return ImageryScore{}, fmt.Errorf("imagery safety_score %q not understood", score.String())
	case gjson.Null:
		return ImageryScore{}, nil
	default:
		return ImageryScore{}, fmt.Errorf("imagery response missing safety_score")
	}
}

package contract

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

const (
	TraceIDHeader = "X-Trace-Id"
	// CacheHeader carries the edge cache outcome for /score-route.
	CacheHeader = "X-Cache"

	CacheHit  = "hit"
	CacheMiss = "miss"
)

// RoutePoint is a single WGS84 coordinate.
type RoutePoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the point is a finite coordinate inside WGS84 bounds.
func (p RoutePoint) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// ScoreRouteRequest is the body accepted by the edge proxy and the crime backend.
type ScoreRouteRequest struct {
	RouteID string       `json:"route_id,omitempty"`
	Points  []RoutePoint `json:"points"`
}

// Validate ensures the request carries either an identifier or usable geometry.
func (r ScoreRouteRequest) Validate() error {
	if r.RouteID == "" && len(r.Points) == 0 {
		return fmt.Errorf("route_id or points required")
	}
	if r.RouteID != "" && strings.TrimSpace(r.RouteID) == "" {
		return fmt.Errorf("route_id is blank")
	}
	for i, p := range r.Points {
		if !p.Valid() {
			return fmt.Errorf("points[%d] out of range", i)
		}
	}
	return nil
}

// CrimeResponse is the crime-statistics scorer payload.
type CrimeResponse struct {
	RouteID     string         `json:"route_id,omitempty"`
	SafetyScore float64        `json:"safety_score"`
	Breakdown   map[string]int `json:"breakdown"`
}

// ImageryRequest describes one location handed to the imagery scorer.
type ImageryRequest struct {
	Address     string `json:"address"`
	Coordinates string `json:"coordinates"`
	TimeContext string `json:"time_context"`
	SegmentType string `json:"segment_type,omitempty"`
}

// RouteDetails is the free-text route metadata sent to the narrative scorer.
type RouteDetails struct {
	Distance string `json:"distance"`
	Duration string `json:"duration"`
	Summary  string `json:"summary"`
}

// NarrativeRequest is the narrative scorer input.
type NarrativeRequest struct {
	Origin       string       `json:"origin"`
	Destination  string       `json:"destination"`
	RouteDetails RouteDetails `json:"route_details"`
}

// NarrativeAnalysis is the structured judgement returned by the narrative scorer.
type NarrativeAnalysis struct {
	SafetyScore  int      `json:"safety_score"`
	MainConcerns []string `json:"main_concerns"`
	QuickTips    []string `json:"quick_tips"`
}

// NarrativeResponse is the narrative scorer payload.
type NarrativeResponse struct {
	Success  bool              `json:"success"`
	Analysis NarrativeAnalysis `json:"analysis"`
	Error    string            `json:"error,omitempty"`
}

// ProviderRequest asks the path provider for walking candidates.
type ProviderRequest struct {
	Origin      RoutePoint `json:"origin"`
	Destination RoutePoint `json:"destination"`
	Avoid       []string   `json:"avoid,omitempty"`
	Mode        string     `json:"mode"`
}

// ProviderRoute is one geometric candidate returned by the path provider.
type ProviderRoute struct {
	Label     string       `json:"label"`
	DistanceM float64      `json:"distance_m"`
	DurationS float64      `json:"duration_s"`
	Points    []RoutePoint `json:"points"`
}

// ProviderResponse is the path provider payload.
type ProviderResponse struct {
	Routes []ProviderRoute `json:"routes"`
	Error  string          `json:"error,omitempty"`
}

// ErrorResponse is the body written on proxy failures.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MarshalPoints renders geometry in the canonical form used for fingerprints.
func MarshalPoints(points []RoutePoint) []byte {
	if points == nil {
		points = []RoutePoint{}
	}
	raw, _ := json.Marshal(points)
	return raw
}

type contextKey string

const traceIDKey contextKey = "route_scoring_trace_id"

// WithTraceID stores the trace identifier in context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext extracts the trace identifier.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value := ctx.Value(traceIDKey)
	if value == nil {
		return "", false
	}
	traceID, ok := value.(string)
	return traceID, ok
}

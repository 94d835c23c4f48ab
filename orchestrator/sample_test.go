package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saferoute/route_scoring/internal/contract"
)

func straight(lengthDeg float64) []contract.RoutePoint {
	return []contract.RoutePoint{
		{Lat: 33.40, Lon: -111.93},
		{Lat: 33.40 + lengthDeg/2, Lon: -111.93},
		{Lat: 33.40 + lengthDeg, Lon: -111.93},
	}
}

func TestSampleLocationsDefaultMidpoint(t *testing.T) {
	got := sampleLocations(straight(0.009), 1)
	require.Len(t, got, 1)
	assert.Equal(t, "midpoint", got[0].Kind)
	assert.InDelta(t, 33.4045, got[0].Point.Lat, 1e-6)
	assert.InDelta(t, -111.93, got[0].Point.Lon, 1e-9)
}

func TestSampleLocationsSpacing(t *testing.T) {
	// Roughly one kilometre: three interior samples fit the spacing.
	got := sampleLocations(straight(0.009), 5)
	require.Len(t, got, 5)

	kinds := make([]string, len(got))
	weights := make([]float64, len(got))
	for i, s := range got {
		kinds[i] = s.Kind
		weights[i] = s.Weight
	}
	assert.Equal(t, []string{"start", "interior", "interior", "interior", "end"}, kinds)
	assert.Equal(t, []float64{1.2, 1.0, 1.1, 1.0, 1.2}, weights)
	assert.InDelta(t, 33.40+0.009*0.25, got[1].Point.Lat, 1e-6)
}

func TestSampleLocationsCapsInterior(t *testing.T) {
	got := sampleLocations(straight(0.009), 3)
	require.Len(t, got, 3)
	assert.Equal(t, 0.5, got[1].Fraction)
}

func TestSampleLocationsShortRoute(t *testing.T) {
	got := sampleLocations(straight(0.001), 5)
	require.Len(t, got, 2)
	assert.Equal(t, "start", got[0].Kind)
	assert.Equal(t, "end", got[1].Kind)
}

func TestSampleLocationsDegenerate(t *testing.T) {
	p := contract.RoutePoint{Lat: 1, Lon: 2}
	got := sampleLocations([]contract.RoutePoint{p, p}, 1)
	require.Len(t, got, 1)
	assert.Equal(t, p, got[0].Point)
	assert.Empty(t, sampleLocations(nil, 1))
}

func TestFractionWeight(t *testing.T) {
	assert.Equal(t, weightNearEnd, fractionWeight(0.05))
	assert.Equal(t, weightNearEnd, fractionWeight(0.95))
	assert.Equal(t, weightMidRoute, fractionWeight(0.5))
	assert.Equal(t, weightInterior, fractionWeight(0.2))
	assert.Equal(t, weightInterior, fractionWeight(0.8))
}

func TestTimeContext(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2026, 1, 1, h, m, 0, 0, time.UTC) }
	assert.Equal(t, "night", timeContext(at(5, 59)))
	assert.Equal(t, "day", timeContext(at(6, 0)))
	assert.Equal(t, "day", timeContext(at(19, 59)))
	assert.Equal(t, "night", timeContext(at(20, 0)))
}

func TestNarrativeRequestText(t *testing.T) {
	assert.Equal(t, "1.2 mi", formatDistance(1931))
	assert.Equal(t, "15 min", formatDuration(900))
	assert.Equal(t, "Main St", normalizeLabel("  Ｍａｉｎ   St "))
	assert.Equal(t, "33.425500,-111.940000", placeLabel("", origin))
}

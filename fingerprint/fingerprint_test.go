package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saferoute/route_scoring/internal/contract"
)

var walk = []contract.RoutePoint{
	{Lat: 33.4255, Lon: -111.9400},
	{Lat: 33.4301, Lon: -111.9350},
	{Lat: 33.4484, Lon: -111.9250},
}

func TestRequestIsDeterministic(t *testing.T) {
	req := contract.ScoreRouteRequest{Points: walk}
	first := Request(req)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, Request(req))
	}
	assert.Equal(t, first, Points(walk))
}

func TestRequestUsesExplicitID(t *testing.T) {
	req := contract.ScoreRouteRequest{RouteID: "route-42", Points: walk}
	assert.Equal(t, "route-42", Request(req))

	padded := contract.ScoreRouteRequest{RouteID: " route-42", Points: walk}
	assert.Equal(t, " route-42", Request(padded))
	assert.NotEqual(t, Request(req), Request(padded))
}

func TestRequestDiffersByOneCoordinate(t *testing.T) {
	moved := append([]contract.RoutePoint(nil), walk...)
	moved[1].Lon += 0.000001
	assert.NotEqual(t, Points(walk), Points(moved))
}

func TestRequestIsOrderSensitive(t *testing.T) {
	reversed := []contract.RoutePoint{walk[2], walk[1], walk[0]}
	assert.NotEqual(t, Points(walk), Points(reversed))
}

func TestPartsSeparatesComponents(t *testing.T) {
	assert.NotEqual(t, Parts("ab", "c"), Parts("a", "bc"))
	assert.Equal(t, Parts("a", "b"), Parts("a", "b"))
}

func TestLocationRounding(t *testing.T) {
	a := contract.RoutePoint{Lat: 33.425501, Lon: -111.940001}
	b := contract.RoutePoint{Lat: 33.425502, Lon: -111.940002}
	assert.Equal(t, Location(a), Location(b))
	assert.Equal(t, Endpoints(walk), Endpoints([]contract.RoutePoint{walk[0], walk[2]}))
}

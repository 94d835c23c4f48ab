package orchestrator

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/saferoute/route_scoring/internal/contract"
)

const (
	sampleSpacingM   = 300.0
	minSampledLength = 200.0

	weightEndpoint = 1.2
	weightMidRoute = 1.1
	weightNearEnd  = 1.05
	weightInterior = 1.0
)

// sample is one location sent to the imagery scorer.
type sample struct {
	Point    contract.RoutePoint
	Fraction float64
	Weight   float64
	Kind     string
}

func lineString(points []contract.RoutePoint) orb.LineString {
	ls := make(orb.LineString, len(points))
	for i, p := range points {
		ls[i] = orb.Point{p.Lon, p.Lat}
	}
	return ls
}

// sampleLocations picks up to limit locations along the route for imagery
// scoring. limit <= 1 yields the point halfway along the route.
func sampleLocations(points []contract.RoutePoint, limit int) []sample {
	if len(points) == 0 {
		return nil
	}
	ls := lineString(points)
	length := geo.Length(ls)

	if limit <= 1 {
		return []sample{{Point: pointAt(ls, length/2), Fraction: 0.5, Weight: weightMidRoute, Kind: "midpoint"}}
	}

	out := []sample{{Point: points[0], Fraction: 0, Weight: weightEndpoint, Kind: "start"}}
	if length >= minSampledLength {
		n := min(limit-2, int(length/sampleSpacingM))
		for i := 1; i <= n; i++ {
			f := float64(i) / float64(n+1)
			out = append(out, sample{
				Point:    pointAt(ls, f*length),
				Fraction: f,
				Weight:   fractionWeight(f),
				Kind:     "interior",
			})
		}
	}
	out = append(out, sample{Point: points[len(points)-1], Fraction: 1, Weight: weightEndpoint, Kind: "end"})
	return out
}

func fractionWeight(f float64) float64 {
	switch {
	case f < 0.1 || f > 0.9:
		return weightNearEnd
	case f >= 0.3 && f <= 0.7:
		return weightMidRoute
	default:
		return weightInterior
	}
}

// pointAt walks dist metres along ls, interpolating linearly within the
// segment it lands on.
func pointAt(ls orb.LineString, dist float64) contract.RoutePoint {
	if len(ls) == 1 || dist <= 0 {
		return toRoutePoint(ls[0])
	}
	for i := 1; i < len(ls); i++ {
		seg := geo.Distance(ls[i-1], ls[i])
		if seg > 0 && dist <= seg {
			t := dist / seg
			a, b := ls[i-1], ls[i]
			return contract.RoutePoint{
				Lat: a.Lat() + (b.Lat()-a.Lat())*t,
				Lon: a.Lon() + (b.Lon()-a.Lon())*t,
			}
		}
		dist -= seg
	}
	return toRoutePoint(ls[len(ls)-1])
}

func toRoutePoint(p orb.Point) contract.RoutePoint {
	return contract.RoutePoint{Lat: p.Lat(), Lon: p.Lon()}
}

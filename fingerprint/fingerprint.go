// Package fingerprint derives stable cache identities for scoring requests.
//
// Fingerprints are cache keys, not security tokens: byte-identical input always
// yields the same key and distinct geometry differs with overwhelming probability.
package fingerprint

import (
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/saferoute/route_scoring/internal/contract"
)

const prefix = "r_"

// Request returns the route_id verbatim when present, otherwise a hash of the
// serialized geometry. Point order matters.
func Request(req contract.ScoreRouteRequest) string {
	if req.RouteID != "" {
		return req.RouteID
	}
	return Points(req.Points)
}

// Points hashes the canonical JSON encoding of the geometry.
func Points(points []contract.RoutePoint) string {
	return Bytes(contract.MarshalPoints(points))
}

// Bytes hashes an already serialized payload.
func Bytes(raw []byte) string {
	return prefix + strconv.FormatUint(xxhash.Sum64(raw), 16)
}

// Parts hashes an ordered list of string components, for keys built from
// several request fields.
func Parts(parts ...string) string {
	d := xxhash.New()
	for _, p := range parts {
		_, _ = d.WriteString(p)
		_, _ = d.Write([]byte{0})
	}
	return prefix + strconv.FormatUint(d.Sum64(), 16)
}

// Location is the key for a single coordinate, rounded to roughly a metre so
// candidates passing the same spot share it.
func Location(p contract.RoutePoint) string {
	return Parts(
		strconv.FormatFloat(p.Lat, 'f', 5, 64),
		strconv.FormatFloat(p.Lon, 'f', 5, 64),
	)
}

// Endpoints identifies a segment by its first and last point.
func Endpoints(points []contract.RoutePoint) string {
	if len(points) == 0 {
		return Parts()
	}
	first, last := points[0], points[len(points)-1]
	return Parts(Location(first), Location(last))
}

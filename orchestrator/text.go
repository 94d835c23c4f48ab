package orchestrator

import (
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/saferoute/route_scoring/internal/contract"
)

const metresPerMile = 1609.344

// normalizeLabel folds compatibility characters and collapses whitespace so
// equivalent place names share narrative cache entries.
func normalizeLabel(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	return strings.Join(strings.Fields(norm.NFKC.String(s)), " ")
}

func coordinates(p contract.RoutePoint) string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lon)
}

func placeLabel(label string, p contract.RoutePoint) string {
	if l := normalizeLabel(label); l != "" {
		return l
	}
	return coordinates(p)
}

func formatDistance(m float64) string {
	return fmt.Sprintf("%.1f mi", m/metresPerMile)
}

func formatDuration(s float64) string {
	return fmt.Sprintf("%d min", int(math.Round(s/60)))
}

// timeContext is "day" from 06:00 through 19:59 local time.
func timeContext(t time.Time) string {
	if h := t.Hour(); h >= 6 && h < 20 {
		return "day"
	}
	return "night"
}

package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/saferoute/route_scoring/internal/controller"
	"github.com/saferoute/route_scoring/policy"
)

const maxPingLatency = 500 * time.Millisecond

// Readyz reports store and crime backend reachability. The store is optional
// for readiness since the proxy serves through a store outage.
func Readyz(ctrl *controller.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		storeErr, backendErr := ctrl.Ping(r.Context())
		latency := time.Since(start)

		circuit := ctrl.Circuit()
		ok := backendErr == nil && circuit != policy.CircuitOpen && latency <= maxPingLatency
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}

		payload := map[string]any{
			"store_ok":      storeErr == nil,
			"backend_ok":    backendErr == nil,
			"backend_state": circuit.String(),
			"last_ping_ms":  latency.Milliseconds(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(payload)
	}
}

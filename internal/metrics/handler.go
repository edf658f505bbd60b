package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sonicdm/pyLapse/internal/logging"
)

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts a metrics endpoint on addr in a background goroutine.
// Used by the CLI when -metrics-addr is set; errors are logged, not fatal.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	go func() {
		logging.Info("Serving metrics on %s/metrics", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logging.Error("Metrics server error: %v", err)
		}
	}()
}

package main

import (
	"net/http"

	"github.com/streamgate/streamgate/internal/metrics"
)

// setupAdminRouter builds the admin mux. It gets its own listener because
// the proxy's catch-all route would shadow any path on the main one.
func setupAdminRouter(collector *metrics.Collector) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/metrics", collector.Handler())

	return mux
}

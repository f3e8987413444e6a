package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// startMetricsServer registers a fresh Prometheus registry and serves it
// over HTTP in the background, returning the registry for node.NewMetrics
// to bind its collectors against.
func startMetricsServer(addr string) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warnf("metrics server stopped: %v", err)
		}
	}()
	return reg, nil
}

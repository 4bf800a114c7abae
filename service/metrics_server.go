package service

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const MetricsPath = "/metrics"

type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer exposes the metrics of gatherer on addr
func NewMetricsServer(addr string, gatherer prometheus.Gatherer) *MetricsServer {
	hdlr := http.NewServeMux()
	hdlr.Handle(MetricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &MetricsServer{
		server: &http.Server{
			Handler: hdlr,
			Addr:    addr,
		},
	}
}

// Start serves until Shutdown, it returns http.ErrServerClosed after a clean shutdown
func (m *MetricsServer) Start() error {
	return m.server.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.server.Shutdown(ctx)
}

// Handler returns the http handler of the server
func (m *MetricsServer) Handler() http.Handler {
	return m.server.Handler
}

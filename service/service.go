package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/ethereum-optimism/infra/op-testbridge/metrics"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
)

// Config selects which endpoints the service exposes
type Config struct {
	// HealthzAddr is the health endpoint address, empty disables it
	HealthzAddr    string
	MetricsEnabled bool
	MetricsHost    string
	MetricsPort    int
	Log            log.Logger
}

type Service struct {
	Healthz *HealthzServer
	Metrics *MetricsServer
	log     log.Logger
}

func New(cfg Config) *Service {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	s := &Service{log: cfg.Log.New("component", "service")}
	if cfg.HealthzAddr != "" {
		s.Healthz = NewHealthzServer(s.log, cfg.HealthzAddr)
	}
	if cfg.MetricsEnabled {
		addr := net.JoinHostPort(cfg.MetricsHost, strconv.Itoa(cfg.MetricsPort))
		s.Metrics = NewMetricsServer(addr, prometheus.DefaultGatherer)
	}
	return s
}

func (s *Service) Start(ctx context.Context) {
	s.log.Info("service starting")

	if s.Healthz != nil {
		go func() {
			s.log.Info("starting healthz server", "addr", s.Healthz.server.Addr)
			if err := s.Healthz.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("error starting healthz server", "err", err)
				metrics.RecordErrorDetails("error starting healthz server", err)
			}
		}()
	}

	if s.Metrics != nil {
		go func() {
			s.log.Info("starting metrics server", "addr", s.Metrics.server.Addr)
			if err := s.Metrics.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("error starting metrics server", "err", err)
				metrics.RecordErrorDetails("error starting metrics server", err)
			}
		}()
	}

	s.log.Info("service started")
}

func (s *Service) Shutdown(ctx context.Context) {
	s.log.Info("service shutting down")

	if s.Healthz != nil {
		if err := s.Healthz.Shutdown(ctx); err != nil {
			s.log.Warn("failed to stop healthz server", "err", err)
		}
		s.log.Info("healthz stopped")
	}

	if s.Metrics != nil {
		if err := s.Metrics.Shutdown(ctx); err != nil {
			s.log.Warn("failed to stop metrics server", "err", err)
		}
		s.log.Info("metrics stopped")
	}

	s.log.Info("service stopped")
}

// Package service runs the auxiliary HTTP servers of the reporter.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ethereum-optimism/optimism/op-service/httputil"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const DefaultHealthzAddr = "0.0.0.0:8080"

type Config struct {
	HealthzEnabled bool
	HealthzAddr    string
	Metrics        opmetrics.CLIConfig
}

type Service struct {
	log      log.Logger
	cfg      Config
	registry *prometheus.Registry

	Healthz *HealthzServer
	Metrics *httputil.HTTPServer
}

func New(logger log.Logger, cfg Config, registry *prometheus.Registry, status StatusFunc) *Service {
	if cfg.HealthzAddr == "" {
		cfg.HealthzAddr = DefaultHealthzAddr
	}
	return &Service{
		log:      logger,
		cfg:      cfg,
		registry: registry,
		Healthz:  NewHealthzServer(logger, status),
	}
}

// Start starts the enabled servers. A failed start stops what already runs.
func (s *Service) Start(ctx context.Context) error {
	if s.cfg.HealthzEnabled {
		if err := s.Healthz.Start(s.cfg.HealthzAddr); err != nil {
			return err
		}
		s.log.Info("Started healthz server", "addr", s.Healthz.Addr())
	}

	if s.cfg.Metrics.Enabled {
		s.log.Info("Starting metrics server", "addr", s.cfg.Metrics.ListenAddr, "port", s.cfg.Metrics.ListenPort)
		server, err := opmetrics.StartServer(s.registry, s.cfg.Metrics.ListenAddr, s.cfg.Metrics.ListenPort)
		if err != nil {
			return errors.Join(fmt.Errorf("failed to start metrics server: %w", err), s.Stop(ctx))
		}
		s.log.Info("Started metrics server", "endpoint", server.Addr())
		s.Metrics = server
	}
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	var result error
	if err := s.Healthz.Shutdown(ctx); err != nil {
		result = errors.Join(result, fmt.Errorf("failed to stop healthz server: %w", err))
	}
	if s.Metrics != nil {
		if err := s.Metrics.Stop(ctx); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to stop metrics server: %w", err))
		}
	}
	return result
}

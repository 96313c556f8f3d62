// Package app wires the connectivity service's components (registry,
// publisher/consumer configuration, credential store, throttling) into the
// internal/service.Service contract the process Runner drives.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redbco/redb-connect/internal/consumer"
	"github.com/redbco/redb-connect/internal/model"
	"github.com/redbco/redb-connect/internal/publisher"
	"github.com/redbco/redb-connect/internal/registry"
	"github.com/redbco/redb-connect/pkg/config"
	"github.com/redbco/redb-connect/pkg/credstore"
	"github.com/redbco/redb-connect/pkg/health"
	"github.com/redbco/redb-connect/pkg/logger"
)

// ConnectivityService implements service.Service: it owns the connection
// registry and translates loaded configuration into per-connection
// publisher/consumer tuning.
type ConnectivityService struct {
	log      *logger.Logger
	cfg      *config.Config
	creds    *credstore.Store
	Registry *registry.Registry
}

// New builds a ConnectivityService. The logger and credential store are
// supplied by the caller (cmd/connectivity-service/main.go) since both
// require process-wide singletons the Runner also needs.
func New(log *logger.Logger, creds *credstore.Store) *ConnectivityService {
	return &ConnectivityService{
		log:   log,
		creds: creds,
	}
}

// Initialize keeps the loaded configuration (read later, per OpenConnection,
// for publisher/consumer tuning) and builds the connection registry. It
// does not open any connections: that
// happens via OpenConnection, driven by whatever control-plane surface
// (API, file watch, CLI) the deployment wires in front of this service.
func (s *ConnectivityService) Initialize(ctx context.Context, cfg *config.Config) error {
	s.cfg = cfg
	s.Registry = registry.New(s.log)
	return nil
}

// Start is a no-op beyond logging: the registry is ready for
// OpenConnection/CloseConnection calls as soon as Initialize returns.
func (s *ConnectivityService) Start(ctx context.Context) error {
	s.log.Infof("connectivity service ready, max-in-flight=%d", s.publisherConfig().MaxInFlight)
	return nil
}

// Stop drains and closes every open connection within gracePeriod.
func (s *ConnectivityService) Stop(ctx context.Context, gracePeriod time.Duration) error {
	stopCtx, cancel := context.WithTimeout(ctx, gracePeriod)
	defer cancel()
	s.Registry.CloseAll(stopCtx)
	return nil
}

// CollectMetrics aggregates dispatch counters across every open connection's
// publisher pipeline.
func (s *ConnectivityService) CollectMetrics() map[string]int64 {
	totals := map[string]int64{"connections_open": 0}
	for _, id := range s.Registry.IDs() {
		entry, ok := s.Registry.Get(id)
		if !ok || entry.Publisher == nil {
			continue
		}
		totals["connections_open"]++
		for k, v := range entry.Publisher.Metrics() {
			totals[k] += v
		}
	}
	return totals
}

// HealthChecks reports one check per open connection: a check fails only
// once its connection is no longer registered. The publisher pipeline's
// in-flight count is not consulted.
func (s *ConnectivityService) HealthChecks() map[string]health.CheckFunc {
	checks := make(map[string]health.CheckFunc)
	for _, id := range s.Registry.IDs() {
		id := id
		checks["connection:"+id] = func() error {
			if _, ok := s.Registry.Get(id); !ok {
				return fmt.Errorf("connection %s no longer open", id)
			}
			return nil
		}
	}
	return checks
}

// OpenConnection validates and opens a Connection, building its publisher
// pipeline (and consumer stream, for source-capable types) from the
// service's current configuration.
func (s *ConnectivityService) OpenConnection(ctx context.Context, conn *model.Connection) error {
	return s.Registry.Open(ctx, conn, s.publisherConfig(), s.consumerConfig())
}

// CloseConnection drains and removes an open connection.
func (s *ConnectivityService) CloseConnection(ctx context.Context, id string) error {
	return s.Registry.Close(ctx, id)
}

func (s *ConnectivityService) publisherConfig() publisher.Config {
	if s.cfg == nil {
		return publisher.Config{MaxInFlight: 10, RequestTimeout: 30 * time.Second}
	}
	return publisher.Config{
		MaxInFlight:    s.cfg.GetInt("http-push.parallelism", 10),
		RequestTimeout: s.cfg.GetDuration("http-push.requestTimeout", 30*time.Second),
	}
}

func (s *ConnectivityService) consumerConfig() consumer.Config {
	if s.cfg == nil {
		// ThrottleInterval left at zero disables throttling (EffectiveLimit
		// returns -1), matching §4.7's "connection types without configured
		// throttling" default.
		return consumer.Config{MaxInFlight: 10}
	}
	return consumer.Config{
		MaxInFlight:       s.cfg.GetInt("kafka.consumer.throttling.maxInFlight", 10),
		ThrottleLimit:     s.cfg.GetInt("kafka.consumer.throttling.limit", 0),
		ThrottleInterval:  s.cfg.GetDuration("kafka.consumer.throttling.interval", 0),
		ThrottleTolerance: s.cfg.GetFloat("kafka.consumer.throttling.throttlingDetectionTolerance", 0.1),
	}
}

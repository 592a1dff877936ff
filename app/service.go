// Package app wires the configured infrastructure into a running dispatch
// service.
package app

import (
	"context"
	"fmt"

	"github.com/haulex/dispatch/api/orders"
	"github.com/haulex/dispatch/config"
	"github.com/haulex/dispatch/core/dispatch"
	"github.com/haulex/dispatch/core/idempotency"
	"github.com/haulex/dispatch/core/lock"
	"github.com/haulex/dispatch/core/match"
	coremetrics "github.com/haulex/dispatch/core/metrics"
	"github.com/haulex/dispatch/core/reconciler"
	"github.com/haulex/dispatch/infra/logger"
	"github.com/haulex/dispatch/infra/metrics"
	"github.com/haulex/dispatch/infra/mqtt"
	"github.com/haulex/dispatch/infra/redis"
	"github.com/haulex/dispatch/infra/store"
	"github.com/haulex/dispatch/internal/eventbus"
)

// Service orchestrates the dispatch engine, the reconciler and the transport
// surfaces.
type Service struct {
	Engine     *dispatch.Engine
	reconciler *reconciler.Reconciler
	gateway    *mqtt.PahoGateway
	handler    *mqtt.Handler
	fleet      orders.FleetLister
	bus        eventbus.EventBus
	log        logger.Logger

	promEnabled bool
	promPort    string
	apiEnabled  bool
	apiAddr     string
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")

	st, err := store.NewMySQLStore(cfg.MySQL)
	if err != nil {
		return nil, fmt.Errorf("mysql store: %w", err)
	}

	// With no Redis configured the service degrades to single-node mode on
	// the in-process lock, cache and fleet index.
	var (
		locks lock.Manager
		idem  idempotency.Cache
		index match.FleetIndex
		fleet orders.FleetLister
	)
	if cfg.Redis.Addr != "" {
		cli, err := redis.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("redis client: %w", err)
		}
		locks = redis.NewLocker(cli)
		idem = redis.NewIdempotencyCache(cli)
		geo := redis.NewGeoIndex(cli)
		index = geo
		fleet = geo
	} else {
		logg.Warnf("no redis configured, using in-process lock and fleet index")
		locks = lock.NewMemoryLocker()
		idem = idempotency.NewMemory()
		mem := match.NewMemoryIndex()
		index = mem
		fleet = mem
	}

	var sinks []coremetrics.Sink
	if cfg.Metrics.PrometheusEnabled {
		sink, err := metrics.NewPromSink(cfg.Metrics)
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.InfluxEnabled {
		sink := metrics.NewInfluxSinkWithFallback(cfg.Metrics.InfluxURL, cfg.Metrics.InfluxToken, cfg.Metrics.InfluxOrg, cfg.Metrics.InfluxBucket)
		sinks = append(sinks, sink)
	}
	var sink coremetrics.Sink
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = metrics.NewMultiSink(sinks...)
	}

	gateway, err := mqtt.NewPahoGateway(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("mqtt gateway: %w", err)
	}

	bus := eventbus.New()
	matcher := match.NewMatcher(index, cfg.Match, logger.New("matcher"))

	coord, err := dispatch.NewCoordinator(st, locks, gateway, cfg.Dispatch, sink, bus, logger.New("coordinator"))
	if err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}
	engine, err := dispatch.NewEngine(st, matcher, coord, idem, cfg.Dispatch, sink, bus, logger.New("engine"))
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	rec, err := reconciler.New(st, cfg.Reconciler, bus, logger.New("reconciler"))
	if err != nil {
		return nil, fmt.Errorf("reconciler: %w", err)
	}

	return &Service{
		Engine:      engine,
		reconciler:  rec,
		gateway:     gateway,
		handler:     gateway.NewHandler(engine, index),
		fleet:       fleet,
		bus:         bus,
		log:         logg,
		promEnabled: cfg.Metrics.PrometheusEnabled,
		promPort:    cfg.Metrics.PrometheusPort,
		apiEnabled:  cfg.API.Enabled,
		apiAddr:     cfg.API.Addr,
	}, nil
}

// Run starts the service and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.handler.Subscribe(); err != nil {
		return fmt.Errorf("mqtt subscribe: %w", err)
	}
	go s.reconciler.Run(ctx)
	if s.promEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, ":"+s.promPort); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	if s.apiEnabled {
		go func() {
			if err := orders.StartServer(ctx, s.apiAddr, s.Engine, s.fleet); err != nil {
				s.log.Errorf("api server: %v", err)
			}
		}()
	}
	<-ctx.Done()
	return nil
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	s.gateway.Disconnect()
	s.bus.Close()
	return nil
}

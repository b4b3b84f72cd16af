// Package app wires the service together.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wodeewa/fleetd/api/admin"
	"github.com/wodeewa/fleetd/api/report"
	"github.com/wodeewa/fleetd/api/stream"
	"github.com/wodeewa/fleetd/api/system"
	"github.com/wodeewa/fleetd/api/units"
	"github.com/wodeewa/fleetd/auth"
	"github.com/wodeewa/fleetd/config"
	"github.com/wodeewa/fleetd/core/ingest"
	coremetrics "github.com/wodeewa/fleetd/core/metrics"
	"github.com/wodeewa/fleetd/core/model"
	"github.com/wodeewa/fleetd/core/rental"
	corestore "github.com/wodeewa/fleetd/core/store"
	"github.com/wodeewa/fleetd/core/unitcache"
	"github.com/wodeewa/fleetd/infra/logger"
	"github.com/wodeewa/fleetd/infra/metrics"
	"github.com/wodeewa/fleetd/infra/mqtt"
	"github.com/wodeewa/fleetd/infra/store"
	"github.com/wodeewa/fleetd/internal/eventbus"
)

// Service orchestrates the cache, the event pipeline and the transports.
type Service struct {
	cfg   *config.Config
	log   logger.Logger
	store corestore.Store
	cache *unitcache.Cache
	bus   *eventbus.Bus
	sink  coremetrics.Sink
	srv   *http.Server

	ingestHandler *ingest.Handler
	mqttIngest    *mqtt.Ingestor
}

// countingPublisher counts events on their way from the cache to the bus.
type countingPublisher struct {
	bus  *eventbus.Bus
	sink coremetrics.Sink
}

func (p countingPublisher) Publish(e model.Event) {
	p.sink.RecordEvent(e.Kind)
	p.bus.Publish(e)
}

// New creates a Service from the configuration, connecting to the document
// store.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")

	st, err := store.NewMongoStore(context.Background(), cfg.Mongo, logger.New("store"))
	if err != nil {
		return nil, fmt.Errorf("mongo store: %w", err)
	}

	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		return nil, err
	}

	var sink coremetrics.Sink = coremetrics.NopSink{}
	if cfg.Metrics.PrometheusEnabled {
		promSink, err := metrics.NewPromSink()
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sink = promSink
	}
	var tel coremetrics.TelemetrySink = coremetrics.NopTelemetry{}
	if cfg.Influx.Enabled {
		tel = metrics.NewInfluxSinkWithFallback(cfg.Influx)
	}

	bus := eventbus.New()
	bus.OnDrop(func(model.Event) { sink.RecordEventDropped() })
	cache := unitcache.New(
		countingPublisher{bus: bus, sink: sink},
		unitcache.WithCoalesceDelay(time.Duration(cfg.Stream.CoalesceDelayMS)*time.Millisecond),
	)

	ingestHandler := ingest.New(st, cache, sink, tel, logger.New("ingest"))
	coordinator := rental.New(st, cache, logger.New("rental"))

	svc := &Service{
		cfg:           cfg,
		log:           logg,
		store:         st,
		cache:         cache,
		bus:           bus,
		sink:          sink,
		ingestHandler: ingestHandler,
	}

	router := svc.router(verifier, coordinator)
	svc.srv = &http.Server{Addr: cfg.HTTP.Addr, Handler: router}
	return svc, nil
}

func (s *Service) router(verifier *auth.Verifier, coordinator *rental.Coordinator) http.Handler {
	reportHandler := report.New(s.ingestHandler, logger.New("report"))
	unitsHandler := units.New(s.cache, coordinator, s.sink, logger.New("units"))
	adminHandler := admin.New(s.store, logger.New("admin"))
	streamHandler := stream.New(s.bus, s.cache, s.sink, logger.New("stream"))

	r := chi.NewRouter()
	r.Get("/v0/healthz", system.Healthz)
	r.Get("/v0/healthz/hostname", system.Hostname)

	// Unit-facing endpoints: identity comes from the forwarded client
	// certificate, not from a user token.
	r.Route("/backend/v0", func(r chi.Router) {
		r.Get("/healthz", system.Healthz)
		r.Post("/report", reportHandler.Report)
		r.Post("/startup", reportHandler.Startup)
	})

	r.Route("/client/v0", func(r chi.Router) {
		r.Use(CORS(s.cfg.HTTP.AllowedOrigins))
		r.Use(auth.Middleware(verifier))
		r.Get("/whoami", system.Whoami)
		r.Get("/events", streamHandler.ServeHTTP)
		r.Get("/unit", unitsHandler.List)
		r.Get("/unit/{unit}", unitsHandler.Get)
		r.Post("/unit/{unit}/take", unitsHandler.Take)
		r.Post("/unit/{unit}/return", unitsHandler.Return)
	})

	r.Route("/admin/v0", func(r chi.Router) {
		r.Use(CORS(s.cfg.HTTP.AllowedOrigins))
		r.Use(auth.Middleware(verifier))
		r.Use(auth.RequireRole(model.RoleTechnician))
		r.Get("/unit/trace", adminHandler.Trace)
		r.Get("/unit/trace/{name}", adminHandler.Trace)
		r.Get("/unit/status", adminHandler.Status)
		r.Get("/unit/status/{name}", adminHandler.Status)
		r.Get("/unit/battery", adminHandler.Battery)
		r.Get("/unit/battery/{name}", adminHandler.Battery)
	})
	return r
}

// Run starts the service and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	seedCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := s.cache.Seed(seedCtx, s.store); err != nil {
		// A cold cache repopulates from the next report cycle; starting
		// empty beats not starting.
		s.log.Warnf("cache seed failed, starting empty: %v", err)
	}
	cancel()

	keepalive := eventbus.NewKeepalive(s.bus, time.Duration(s.cfg.Stream.KeepaliveSeconds)*time.Second)
	go keepalive.Run(ctx)

	if s.cfg.MQTT.Enabled {
		ing, err := mqtt.NewIngestor(s.cfg.MQTT, s.ingestHandler)
		if err != nil {
			return fmt.Errorf("mqtt ingest: %w", err)
		}
		s.mqttIngest = ing
	}

	if s.cfg.Metrics.PrometheusEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.PrometheusAddr); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("listening; addr='%s'", s.cfg.HTTP.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	return s.shutdown()
}

// shutdown ends the streams, stops the ingest paths, flushes the store
// session, then closes the listening transport.
func (s *Service) shutdown() error {
	s.log.Infof("closing server;")
	s.bus.Publish(model.Event{Kind: model.EventStreamEnd})
	if s.mqttIngest != nil {
		s.mqttIngest.Close()
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var firstErr error
	if err := s.store.Close(closeCtx); err != nil {
		firstErr = fmt.Errorf("store close: %w", err)
	}
	if err := s.srv.Shutdown(closeCtx); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("http shutdown: %w", err)
	}
	s.bus.Close()
	return firstErr
}

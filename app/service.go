// Package app wires the stores, provider client, queue and HTTP surface into
// the processes started by the CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/citro80/api"
	"github.com/kilianp07/citro80/api/admin"
	"github.com/kilianp07/citro80/api/vehicles"
	"github.com/kilianp07/citro80/auth"
	"github.com/kilianp07/citro80/config"
	"github.com/kilianp07/citro80/core/chargekill"
	"github.com/kilianp07/citro80/core/events"
	corejobs "github.com/kilianp07/citro80/core/jobs"
	coremetrics "github.com/kilianp07/citro80/core/metrics"
	coremon "github.com/kilianp07/citro80/core/monitoring"
	"github.com/kilianp07/citro80/core/model"
	"github.com/kilianp07/citro80/core/scheduler"
	"github.com/kilianp07/citro80/core/store"
	"github.com/kilianp07/citro80/infra/cache"
	"github.com/kilianp07/citro80/infra/enode"
	infrajobs "github.com/kilianp07/citro80/infra/jobs"
	"github.com/kilianp07/citro80/infra/logger"
	"github.com/kilianp07/citro80/infra/mail"
	"github.com/kilianp07/citro80/infra/metrics"
	"github.com/kilianp07/citro80/infra/monitoring"
	"github.com/kilianp07/citro80/infra/mqtt"
	"github.com/kilianp07/citro80/infra/postgres"
	"github.com/kilianp07/citro80/infra/sqlite"
	"github.com/kilianp07/citro80/internal/eventbus"
)

// Service holds every long-lived dependency of the process.
type Service struct {
	cfg *config.Config
	log logger.Logger

	Store  store.Store
	Redis  *redis.Client
	Queue  infrajobs.Backend
	Sink   coremetrics.Sink
	Enode  *enode.Client
	Cache  *cache.VehicleCache
	Killer *chargekill.Killer
	Auth   *auth.Service
	Mail   mail.Sender

	bus       *eventbus.TypedBus[events.ChargeEvent]
	publisher *mqtt.Publisher
}

// OpenStore opens the configured settings and user store.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		st, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "sqlite":
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// New builds a Service. Everything opened here is released by Close.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil parameter provided")
	}
	if err := cfg.ValidateServices(); err != nil {
		return nil, err
	}
	s := &Service{cfg: cfg, log: logger.New("service")}
	if err := s.init(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) init(ctx context.Context) error {
	cfg := s.cfg
	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	if s.Sink, err = metrics.New(cfg.Metrics); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if s.Store, err = OpenStore(ctx, cfg.Store); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := s.Store.Migrate(ctx); err != nil {
		return fmt.Errorf("store migrate: %w", err)
	}
	if s.Redis, err = cache.NewRedisClient(ctx, cfg.Redis); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if s.Queue, err = infrajobs.New(ctx, cfg.Jobs, s.Sink); err != nil {
		return fmt.Errorf("jobs: %w", err)
	}
	if s.Enode, err = enode.New(cfg.Enode); err != nil {
		return fmt.Errorf("enode: %w", err)
	}

	s.Cache = cache.NewVehicleCache(s.Redis, cache.VehicleTTL)
	s.Store.OnCommit(s.Cache.OnSettingsCommit)

	s.bus = eventbus.NewTyped[events.ChargeEvent](64)
	if cfg.MQTT.Enabled {
		if s.publisher, err = mqtt.NewPublisher(cfg.MQTT); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if s.Killer, err = chargekill.New(s.Store, s.Enode, s.Enode, s.Sink, s.bus, logger.New("chargekill")); err != nil {
		return fmt.Errorf("chargekill: %w", err)
	}

	tokens := auth.NewRedisTokenStore(s.Redis)
	if s.Auth, err = auth.NewService(cfg.Auth, cfg.HTTP.PublicURL, s.Store, tokens, s.Queue, logger.New("auth")); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if s.Mail, err = mail.New(cfg.Mail, logger.New("mail")); err != nil {
		return fmt.Errorf("mail: %w", err)
	}
	return nil
}

// Registry returns the job handlers run by workers.
func (s *Service) Registry() *corejobs.Registry {
	reg := corejobs.NewRegistry()
	reg.Register(corejobs.KillCharging, s.Killer.Handle)
	reg.Register(corejobs.SendEmail, mail.Handler(s.Mail))
	return reg
}

// ListVehicles returns the user's provider listing through the cache.
func (s *Service) ListVehicles(ctx context.Context, userID string) ([]model.Vehicle, error) {
	return s.Cache.List(ctx, userID, s.Enode.ListVehicles)
}

// RouterOptions collects the HTTP handlers.
func (s *Service) RouterOptions() (*api.Options, error) {
	vh, err := vehicles.NewHandler(vehicles.ListerFunc(s.ListVehicles), s.Enode, s.Store, logger.New("api_vehicles"))
	if err != nil {
		return nil, err
	}
	ah, err := admin.NewHandler(s.Store, s.Queue, logger.New("api_admin"))
	if err != nil {
		return nil, err
	}
	return &api.Options{
		Config:   s.cfg.HTTP,
		Auth:     s.Auth,
		Vehicles: vh,
		Admin:    ah,
		Health: []api.HealthCheck{
			{Name: "store", Check: s.Store.Ping},
			{Name: "redis", Check: func(ctx context.Context) error { return s.Redis.Ping(ctx).Err() }},
		},
		Log: logger.New("http"),
	}, nil
}

// ServeOptions select what runs next to the HTTP server.
type ServeOptions struct {
	// InlineWorker runs the job consumer in the same process, which the
	// memory queue backend requires.
	InlineWorker bool
	// TriggerInterval runs the periodic trigger in-process when positive.
	TriggerInterval time.Duration
}

// Serve runs the HTTP server until ctx is cancelled.
func (s *Service) Serve(ctx context.Context, so ServeOptions) error {
	opts, err := s.RouterOptions()
	if err != nil {
		return err
	}
	router, err := api.NewRouter(*opts)
	if err != nil {
		return err
	}
	if !so.InlineWorker && s.cfg.Jobs.Backend == "memory" {
		s.log.Warnf("memory job queue without inline worker: queued jobs will not run")
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return api.Serve(ctx, s.cfg.HTTP, router, logger.New("http")) })
	if so.InlineWorker {
		g.Go(func() error { return s.consume(ctx) })
	}
	if so.TriggerInterval > 0 {
		g.Go(func() error { return s.Trigger(ctx, so.TriggerInterval) })
	}
	return g.Wait()
}

// Work consumes jobs until ctx is cancelled. Metrics are exposed on their
// own port since workers run no HTTP server.
func (s *Service) Work(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if s.cfg.Metrics.PrometheusEnabled {
		g.Go(func() error { return metrics.StartPromServer(ctx, s.cfg.Metrics.PrometheusPort) })
	}
	g.Go(func() error { return s.consume(ctx) })
	return g.Wait()
}

func (s *Service) consume(ctx context.Context) error {
	go eventbus.Forward(ctx, s.bus, s.forwardEvent, func(ev events.ChargeEvent, err error) {
		s.log.Warnf("forward %s event for %s: %v", ev.Kind, ev.VehicleID, err)
	})
	s.log.Infof("job worker started (%s backend)", s.cfg.Jobs.Backend)
	return s.Queue.Consume(ctx, s.Registry())
}

func (s *Service) forwardEvent(ctx context.Context, ev events.ChargeEvent) error {
	if s.publisher == nil {
		s.log.Debugw("charge event", map[string]any{"kind": string(ev.Kind), "vehicle_id": ev.VehicleID, "action_id": ev.ActionID})
		return nil
	}
	return s.publisher.PublishChargeEvent(ctx, ev)
}

// Trigger enqueues a kill-charging job for every armed vehicle, once or every
// interval when interval is positive.
func (s *Service) Trigger(ctx context.Context, interval time.Duration) error {
	t, err := scheduler.NewTrigger(s.Store, s.Queue, s.Sink, logger.New("trigger"), s.cfg.Scheduler.Concurrency)
	if err != nil {
		return err
	}
	if interval <= 0 {
		n, err := t.Tick(ctx)
		s.log.Infof("killing charging for %d vehicles", n)
		return err
	}
	return t.Run(ctx, interval)
}

// Close releases every resource opened by New.
func (s *Service) Close() error {
	if s.Queue != nil {
		s.Queue.Close()
	}
	if s.bus != nil {
		s.bus.Close()
	}
	if s.publisher != nil {
		s.publisher.Disconnect()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	coremon.Flush(2 * time.Second)
	if s.Store != nil {
		return s.Store.Close()
	}
	return nil
}

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fiatjaf/khatru"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"clanhall/src/lib"
	"clanhall/src/services"
	"clanhall/src/storage"
)

// Server wires the clan runtime, the feed relay and its HTTP handlers.
type Server struct {
	cfg        lib.Config
	logger     *slog.Logger
	metrics    *lib.Metrics
	app        *app
	scheduler  *lib.WorkerScheduler
	closeStore func()
	httpServer *http.Server
}

// app is the set of clan components behind one relay handler.
type app struct {
	registry *services.Registry
	actions  *services.Actions
	founding *services.Founding
	tracker  *services.CombatTracker
	monitor  *services.Monitor
	feed     *Feed
	handler  http.Handler
	report   services.LoadReport
}

func NewServer(ctx context.Context, cfg lib.Config) (*Server, error) {
	logger := lib.NewLogger(cfg.LogLevel)
	metrics := lib.NewMetrics()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	scheduler := lib.NewScheduler(cfg.Workers)
	a, err := newApp(ctx, cfg, store, scheduler, logger, metrics)
	if err != nil {
		_ = scheduler.Close(ctx)
		closeStore()
		return nil, err
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &Server{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		app:        a,
		scheduler:  scheduler,
		closeStore: closeStore,
		httpServer: httpServer,
	}, nil
}

func openStore(ctx context.Context, cfg lib.Config) (services.Store, func(), error) {
	switch cfg.StoreDriver {
	case lib.StoreDriverSQLite:
		store, err := storage.OpenSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		pool, err := storage.NewPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := storage.ApplyMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return storage.NewPostgresStore(pool), pool.Close, nil
	}
}

func newApp(
	ctx context.Context,
	cfg lib.Config,
	store services.Store,
	scheduler lib.Scheduler,
	logger *slog.Logger,
	metrics *lib.Metrics,
) (*app, error) {
	khatruRelay := khatru.NewRelay()
	khatruRelay.Info.Name = "clanhall"
	khatruRelay.Info.Description = "clan activity feed"
	khatruRelay.Info.PubKey = cfg.RelayPubKey

	feed, err := NewFeed(khatruRelay, cfg.RelayPrivKey, cfg.RelayPubKey, cfg.FeedBacklog, logger, metrics)
	if err != nil {
		return nil, err
	}
	wireFeedHooks(khatruRelay, feed)

	bus := services.NewEventBus()
	registry := services.NewRegistry(store, bus, feed, feed, scheduler, services.RegistryConfig{
		ClanSize:  cfg.ClanSize,
		TagFormat: cfg.ClanTagFormat,
	}, logger, metrics)

	report, err := registry.LoadAll(ctx)
	if err != nil {
		feed.Close()
		return nil, fmt.Errorf("load clans: %w", err)
	}

	notifier := services.NewNotifier(registry, feed, feed, scheduler, cfg.NoticeDelay, logger, metrics)
	bus.Subscribe(notifier)
	bus.Subscribe(feed)

	tracker := services.NewCombatTracker(registry, bus, services.NewZoneSet(cfg.ClanZones), scheduler, cfg.CombatWindow, logger, metrics)
	monitor := services.NewMonitor(registry, tracker, notifier, feed, cfg.SpecialKillEvent, logger)
	actions := services.NewActions(registry, services.NewInviteLimiter(cfg.InviteBurst, cfg.InvitePerMinute), scheduler, logger)
	founding := services.NewFounding(registry, logger)

	mux := khatruRelay.Router()
	RegisterClanRoutes(mux, ClanRoutes{
		Registry: registry,
		Actions:  actions,
		Founding: founding,
		Weights: services.ScoreWeights{
			Member:      cfg.MemberScore,
			Kill:        cfg.KillScore,
			SpecialKill: cfg.SpecialKillScore,
		},
		Logger: logger,
	})
	RegisterEventRoutes(mux, EventRoutes{
		Monitor: monitor,
		Logger:  logger,
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(metrics.Snapshot())
	})

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", ActorHeader},
	}).Handler(khatruRelay)

	return &app{
		registry: registry,
		actions:  actions,
		founding: founding,
		tracker:  tracker,
		monitor:  monitor,
		feed:     feed,
		handler:  handler,
		report:   report,
	}, nil
}

func (s *Server) Start() error {
	s.logger.Info("clanhall server starting", "addr", s.cfg.HTTPAddr, "store", s.cfg.StoreDriver)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Run serves until ctx is cancelled or the listener fails, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(s.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) Shutdown(ctx context.Context) error {
	defer s.closeStore()
	defer s.app.feed.Close()
	httpErr := s.httpServer.Shutdown(ctx)
	schedErr := s.scheduler.Close(ctx)
	return errors.Join(httpErr, schedErr)
}

package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/api"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/cache"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/database"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/engine"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/exchange"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/memory"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/messaging"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/session"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/tickstore"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/websocket"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/config"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// App represents the main application
type App struct {
	cfg    *config.Config
	logger *logrus.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Storage
	sqlDB     *database.SQLClient
	tickStore *tickstore.Store
	memory    *memory.Store
	influxDB  *database.InfluxClient

	// Optional fan-out
	redisCache *cache.RedisClient
	natsClient *messaging.NATSClient
	stream     *websocket.Hub

	// Core
	sessions  *session.Manager
	engine    *engine.Engine
	bridge    *exchange.Bridge
	feed      *exchange.Runner
	apiServer *api.Server
}

// New creates a new application instance
func New(cfg *config.Config, logger *logrus.Logger) *App {
	ctx, cancel := context.WithCancel(context.Background())

	return &App{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// OpenSQL opens and migrates the configured tick database
func OpenSQL(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*database.SQLClient, error) {
	var (
		db  *database.SQLClient
		err error
	)
	switch cfg.TickStore.Driver {
	case "mysql":
		db, err = database.NewMySQLClient(&cfg.MySQL, logger)
	default:
		db, err = database.NewSQLiteClient(cfg.TickStore.Path, logger)
	}
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// TickStoreOptions maps configuration onto tick store options
func TickStoreOptions(cfg *config.Config) tickstore.Options {
	return tickstore.Options{
		RingCapacity:  cfg.TickStore.RingCapacity,
		RetentionDays: cfg.TickStore.RetentionDays,
		SweepInterval: cfg.TickStore.SweepInterval,
		TickSize:      cfg.Analysis.TickSize,
	}
}

// MemoryOptions maps configuration onto zone memory options
func MemoryOptions(cfg *config.Config) memory.Options {
	return memory.Options{
		Path:           cfg.Memory.Path,
		MergeTolerance: cfg.Memory.MergeTolerance,
		MaxRecords:     cfg.Memory.MaxRecords,
		RetentionDays:  cfg.Memory.RetentionDays,
	}
}

// Initialize initializes all application components
func (a *App) Initialize() error {
	if err := a.initializeStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := a.initializeSessions(); err != nil {
		return fmt.Errorf("failed to initialize sessions: %w", err)
	}
	a.initializeCache()
	a.initializeMessaging()

	if err := a.initializeEngine(); err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	if err := a.initializeFeed(); err != nil {
		return fmt.Errorf("failed to initialize feed: %w", err)
	}
	a.initializeAPIServer()
	return nil
}

func (a *App) initializeStorage() error {
	db, err := OpenSQL(a.ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	a.sqlDB = db
	a.tickStore = tickstore.New(db, TickStoreOptions(a.cfg), a.logger)
	a.tickStore.Hydrate(a.ctx)

	mem, err := memory.Open(MemoryOptions(a.cfg), a.logger)
	if err != nil {
		return err
	}
	a.memory = mem

	if a.cfg.InfluxDB.Enabled {
		a.influxDB = database.NewInfluxClient(&a.cfg.InfluxDB, a.logger)
		if err := a.influxDB.Health(a.ctx); err != nil {
			a.logger.WithError(err).Warn("InfluxDB health check failed, bars will not be stored")
			a.influxDB.Close()
			a.influxDB = nil
		}
	}
	return nil
}

func (a *App) initializeSessions() error {
	clock, err := session.NewClock(a.cfg.Sessions)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrConfigInvalid, err)
	}
	n := a.cfg.News
	if n.CalendarPath != "" {
		// fail fast on a calendar that cannot be parsed at all
		if _, err := session.LoadCalendar(n.CalendarPath, n.WindowMinutes); err != nil {
			return err
		}
	}
	a.sessions = session.NewManager(clock, session.NewCalendarSource(n.CalendarPath, n.WindowMinutes, n.RefreshInterval, a.logger))
	return nil
}

func (a *App) initializeCache() {
	if !a.cfg.Redis.Enabled {
		return
	}
	rc, err := cache.NewRedisClient(&a.cfg.Redis, a.logger)
	if err != nil {
		a.logger.WithError(err).Warn("Redis unavailable, snapshots will not be cached")
		return
	}
	a.redisCache = rc
}

func (a *App) initializeMessaging() {
	a.stream = websocket.NewHub(a.cfg.Security.CORSOrigins, a.logger)

	if !a.cfg.NATS.Enabled {
		return
	}
	nc, err := messaging.NewNATSClient(&a.cfg.NATS, a.logger)
	if err != nil {
		a.logger.WithError(err).Warn("NATS unavailable, events will not be published")
		return
	}
	a.natsClient = nc
}

func (a *App) initializeEngine() error {
	// the sink resolves a.engine lazily, so the bridge can exist first
	a.bridge = exchange.NewBridge(&a.cfg.Exchange, func(ctx context.Context, ticks []models.Tick) error {
		_, err := a.engine.Ingest(ctx, ticks)
		return err
	}, a.logger)

	deps := engine.Deps{
		Store:    a.tickStore,
		Memory:   a.memory,
		Sessions: a.sessions,
		Sampled:  a.bridge.Sampled,
	}
	publishers := engine.Fanout{a.stream}
	if a.natsClient != nil {
		publishers = append(publishers, a.natsClient)
	}
	deps.Publisher = publishers
	// typed nil pointers must not leak into the interfaces
	if a.redisCache != nil {
		deps.Cache = a.redisCache
	}
	if a.influxDB != nil {
		deps.Sink = a.influxDB
	}

	eng, err := engine.New(a.cfg, deps, a.logger)
	if err != nil {
		return err
	}
	a.engine = eng
	return nil
}

func (a *App) initializeFeed() error {
	feed, err := exchange.NewFeed(a.cfg, a.logger)
	if err != nil {
		return err
	}
	if feed == nil {
		a.logger.Info("No live feed configured, ticks arrive through /ingest only")
		return nil
	}
	normalizer := exchange.NewNormalizer(a.cfg.Analysis.TickSize, a.cfg.Server.Symbol)
	a.feed = exchange.NewRunner(feed, normalizer, a.bridge, a.cfg.Exchange.ReconnectDelay, a.logger)
	return nil
}

func (a *App) initializeAPIServer() {
	checks := map[string]api.HealthCheck{
		"tickstore": a.sqlDB.Health,
	}
	if a.influxDB != nil {
		checks["influxdb"] = a.influxDB.Health
	}
	if a.redisCache != nil {
		checks["redis"] = a.redisCache.Health
	}
	if a.natsClient != nil {
		checks["nats"] = a.natsClient.Health
	}
	a.apiServer = api.NewServer(a.cfg, a.logger, a.engine, a.tickStore, checks)
	a.apiServer.HandleStream(a.stream.HandleWebSocket)
}

// Start starts all background workers and the API server
func (a *App) Start() error {
	a.tickStore.StartRetention(a.ctx)

	a.goRun(a.stream.Run)
	a.goRun(a.engine.Run)
	a.goRun(a.bridge.Run)
	if a.feed != nil {
		a.goRun(a.feed.Run)
	}
	a.goRun(a.runMemoryRetention)

	errCh := make(chan error, 1)
	go func() {
		if err := a.apiServer.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start API server: %w", err)
	case <-time.After(200 * time.Millisecond):
	}

	a.logger.WithFields(logrus.Fields{
		"symbol": a.cfg.Server.Symbol,
		"feed":   a.cfg.Exchange.Feed,
		"port":   a.cfg.Server.Port,
	}).Info("Application started")
	return nil
}

func (a *App) goRun(fn func(context.Context)) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn(a.ctx)
	}()
}

// runMemoryRetention prunes expired zones once a day
func (a *App) runMemoryRetention(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		if _, err := a.memory.ClearOldZones(a.cfg.Memory.RetentionDays, time.Now()); err != nil {
			a.logger.WithError(err).Error("Zone retention sweep failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop gracefully stops the application
func (a *App) Stop() error {
	a.logger.Info("Stopping application")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.apiServer.Stop(shutdownCtx); err != nil {
		a.logger.WithError(err).Warn("HTTP server shutdown error")
	}

	a.cancel()
	a.wg.Wait()
	a.engine.Shutdown()

	if a.natsClient != nil {
		a.natsClient.Close()
	}
	if a.redisCache != nil {
		a.redisCache.Close()
	}
	if a.influxDB != nil {
		a.influxDB.Close()
	}
	if a.sqlDB != nil {
		a.sqlDB.Close()
	}

	a.logger.Info("Application stopped")
	return nil
}

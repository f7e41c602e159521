package cli

import (
	"context"
	"time"

	"github.com/ccmanuelf/kpi-operations-sub013/auth"
	"github.com/ccmanuelf/kpi-operations-sub013/capacity"
	"github.com/ccmanuelf/kpi-operations-sub013/common"
	"github.com/ccmanuelf/kpi-operations-sub013/config"
	"github.com/ccmanuelf/kpi-operations-sub013/db"
	"github.com/ccmanuelf/kpi-operations-sub013/db/bolt"
	"github.com/ccmanuelf/kpi-operations-sub013/db/repository"
	"github.com/ccmanuelf/kpi-operations-sub013/domain"
	"github.com/ccmanuelf/kpi-operations-sub013/events"
	"github.com/ccmanuelf/kpi-operations-sub013/holds"
	"github.com/ccmanuelf/kpi-operations-sub013/ingest"
	"github.com/ccmanuelf/kpi-operations-sub013/kpi"
	"github.com/ccmanuelf/kpi-operations-sub013/metrics"
	"github.com/ccmanuelf/kpi-operations-sub013/report"
	"github.com/ccmanuelf/kpi-operations-sub013/service"
	"github.com/ccmanuelf/kpi-operations-sub013/tenant"
	"github.com/ccmanuelf/kpi-operations-sub013/workflow"
)

// app bundles one wired process. full selects whether the async side (bus,
// workers, scheduler) comes up; one-shot verbs skip it.
type app struct {
	cfg     *config.Config
	store   repository.Store
	series  *db.SeriesStore
	drafts  *bolt.SessionStore
	metrics *metrics.Metrics
	engine  *kpi.Engine
	bus     *events.Bus
	tokens  *auth.TokenService
	svc     *service.Service
	sched   *report.Scheduler
	holds   *holds.Reporter

	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp wires the process from configuration.
func buildApp(ctx context.Context, cfg *config.Config, full bool) (*app, error) {
	if cfg.Database.URL == "" {
		return nil, domain.Infra(nil, "DB_URL is required")
	}
	if cfg.Security.JWTSecret == "" {
		return nil, domain.Infra(nil, "JWT_SECRET is required")
	}

	a := &app{cfg: cfg, metrics: metrics.New()}

	gdb, err := db.Open(cfg.Database)
	if err != nil {
		return nil, domain.Infra(err, "database open failed")
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, domain.Infra(err, "database migration failed")
	}
	store := repository.NewGormStore(gdb)
	a.store = store
	a.closers = append(a.closers, func() { _ = store.Close() })

	seriesURL := cfg.Database.EventStoreURL
	if seriesURL == "" {
		seriesURL = cfg.Database.URL
	}
	series, err := db.NewSeriesStore(ctx, seriesURL)
	if err != nil {
		common.Logger.WithError(err).Warn("series store unavailable, trends disabled")
	} else {
		a.series = series
		a.closers = append(a.closers, series.Close)
	}

	var cache kpi.Backend
	if cfg.Cache.RedisURL != "" {
		cache, err = kpi.NewRedisBackend(cfg.Cache.RedisURL, cfg.Cache.TTL)
	} else {
		cache, err = kpi.NewLRUBackend(cfg.Cache.MaxEntries, a.metrics)
	}
	if err != nil {
		return nil, domain.Infra(err, "kpi cache init failed")
	}

	resolver := kpi.NewCycleTimeResolver(cfg.Cache.TTL)
	var reader db.SeriesReader
	if a.series != nil {
		reader = a.series
	}
	a.engine = kpi.NewEngine(store, cache, resolver, reader, a.metrics)

	drafts, err := bolt.Open(cfg.Capacity.SessionDBPath)
	if err != nil {
		return nil, domain.Infra(err, "session store open failed")
	}
	a.drafts = drafts
	a.closers = append(a.closers, func() { _ = drafts.Close() })

	a.tokens = auth.NewTokenService(cfg.Security.JWTSecret, cfg.Security.JWTExpiration)
	a.holds = holds.NewReporter(store, a.metrics)

	if full {
		a.bus = events.NewBus(events.Config{
			Workers:      cfg.Events.WorkerPoolSize,
			QueueDepth:   cfg.Events.QueueSize,
			SyncTimeout:  cfg.Events.SyncHandlerTimeout,
			CriticalWait: cfg.Events.CriticalEnqueueWait,
		}, store, a.metrics)
		a.bus.RegisterSync(kpi.NewCacheInvalidator(a.engine))
		a.bus.RegisterSync(events.NewAuditHandler(a.metrics))
		if a.series != nil {
			a.bus.RegisterAsync(kpi.NewAnalyticsFanout(a.engine, a.series))
		}
		a.bus.RegisterAsync(kpi.NewThresholdEvaluator(a.engine, store, 7))
		if cfg.AMQP.URL != "" {
			relay := events.NewNotificationRelay(cfg.AMQP.URL, cfg.AMQP.Exchange, events.RealAMQPDialer{})
			a.bus.RegisterAsync(relay)
			a.closers = append(a.closers, relay.Close)
		}
		store.BindFlusher(a.bus)
		a.bus.Start()
	}

	assembler := report.NewAssembler(a.engine)
	a.svc = service.New(service.Deps{
		Store:          store,
		Bus:            a.bus,
		Auth:           auth.NewService(store, a.tokens),
		Workflow:       workflow.NewEngine(),
		KPI:            a.engine,
		Pipeline:       ingest.NewPipeline(store, cfg.Ingest.CrossTenantUploadsAllowed),
		Capacity:       capacity.NewManager(store, drafts, cfg.Capacity.HistoryLimit),
		Reports:        assembler,
		Renderer:       report.JSONRenderer{},
		Holds:          a.holds,
		AuthRatePerMin: cfg.Security.RateLimitAuthPerMin,
	})

	if full {
		a.sched = report.NewScheduler(store, assembler, report.JSONRenderer{}, nil)
		// Hourly sweep keeps the stale-holds gauge current.
		if err := a.sched.AddJob("0 * * * *", func(ctx context.Context) {
			if err := a.holds.Sweep(ctx); err != nil {
				common.Logger.WithError(err).Warn("hold aging sweep failed")
			}
		}); err != nil {
			return nil, err
		}
		if err := a.sched.Start(ctx); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// actor authenticates the CLI user against the store and returns the
// resolved actor for direct-mode operations.
func (a *app) actor(ctx context.Context) (tenant.Actor, error) {
	if flagUser == "" {
		return tenant.Actor{}, domain.Unauthenticated("username required (--username or KPIOPS_USERNAME)")
	}
	res, err := a.svc.Login(ctx, "local", flagUser, flagPass)
	if err != nil {
		return tenant.Actor{}, err
	}
	return res.Actor, nil
}

// shutdownGrace is the drain window configured for the process.
func (a *app) shutdownGrace() time.Duration {
	return time.Duration(a.cfg.Server.ShutdownGraceSeconds) * time.Second
}

// Package server builds the frontier's dependencies from configuration and
// runs the HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/admission"
	"github.com/JakeFAU/crawl-frontier/internal/api"
	"github.com/JakeFAU/crawl-frontier/internal/balancer"
	"github.com/JakeFAU/crawl-frontier/internal/cache"
	"github.com/JakeFAU/crawl-frontier/internal/clock/system"
	"github.com/JakeFAU/crawl-frontier/internal/completion"
	"github.com/JakeFAU/crawl-frontier/internal/config"
	"github.com/JakeFAU/crawl-frontier/internal/coordinator"
	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	"github.com/JakeFAU/crawl-frontier/internal/hash/sha256"
	"github.com/JakeFAU/crawl-frontier/internal/id/uuid"
	"github.com/JakeFAU/crawl-frontier/internal/leasing"
	"github.com/JakeFAU/crawl-frontier/internal/lifecycle"
	"github.com/JakeFAU/crawl-frontier/internal/logging"
	"github.com/JakeFAU/crawl-frontier/internal/metrics"
	"github.com/JakeFAU/crawl-frontier/internal/policy/random"
	"github.com/JakeFAU/crawl-frontier/internal/policy/simple"
	"github.com/JakeFAU/crawl-frontier/internal/progress"
	"github.com/JakeFAU/crawl-frontier/internal/progress/sinks"
	"github.com/JakeFAU/crawl-frontier/internal/provisioner"
	kafkapublisher "github.com/JakeFAU/crawl-frontier/internal/publisher/kafka"
	memorypublisher "github.com/JakeFAU/crawl-frontier/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/crawl-frontier/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/crawl-frontier/internal/queue/memory"
	queuePostgres "github.com/JakeFAU/crawl-frontier/internal/queue/postgres"
	"github.com/JakeFAU/crawl-frontier/internal/seen"
	gcsstorage "github.com/JakeFAU/crawl-frontier/internal/storage/gcs"
	localstorage "github.com/JakeFAU/crawl-frontier/internal/storage/local"
	memoryStorage "github.com/JakeFAU/crawl-frontier/internal/storage/memory"
	pgstore "github.com/JakeFAU/crawl-frontier/internal/storage/postgres"
	"github.com/JakeFAU/crawl-frontier/internal/store"
	"github.com/JakeFAU/crawl-frontier/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	coordinator     *coordinator.Service
	pool            *pgxpool.Pool
	store           crawler.Store
	storage         *storage.Client
	seenRedis       *seen.Redis
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	kafkaPublisher  *kafkapublisher.Publisher
	events          *progress.Hub
	journal         store.Journal
	telemetry       *telemetry.Providers
	readiness       []api.ReadinessCheck
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the HTTP server and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
		close(serveErr)
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)
	if err := <-serveErr; err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return closeErr
}

// Close flushes pending crawl events and releases every external client the
// App opened.
func (a *App) Close(ctx context.Context) error {
	if err := a.events.Close(ctx); err != nil {
		a.logger.Warn("event hub close failed", zap.Error(err))
	}
	a.closeInfrastructure()
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

//nolint:gocognit // Shutdown logic is linear but extensive, ignoring complexity check
func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.kafkaPublisher != nil {
		if err := a.kafkaPublisher.Close(); err != nil {
			a.logger.Warn("kafka writer close failed", zap.Error(err))
		}
	}
	if a.seenRedis != nil {
		if err := a.seenRedis.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
	// Sync fails on stderr for some terminals; nothing useful can be done.
	_ = a.logger.Sync()
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Telemetry.ServiceName, cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-supplied logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}
	built := false
	defer func() {
		if !built {
			app.closeInfrastructure()
		}
	}()

	var err error
	app.telemetry, err = telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}
	metrics.Init()

	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Backend),
		zap.String("queue", cfg.Queue.Backend),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("seen", cfg.Seen.Backend),
		zap.String("events", cfg.Events.Backend),
	)

	clock := system.New()
	ids := uuid.NewUUIDGenerator()

	if err = setupDatabase(ctx, app); err != nil {
		return nil, err
	}
	queues, err := setupQueue(app, clock)
	if err != nil {
		return nil, err
	}
	blobs, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}
	seenSet, err := setupSeen(app)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}
	selector, err := setupPolicy(app)
	if err != nil {
		return nil, err
	}
	if err = setupEvents(app, publisher); err != nil {
		return nil, err
	}

	crawls := cache.NewCrawls(app.store, cfg.Cache.CrawlSize, cfg.Cache.CrawlTTL)
	running := cache.NewRunning(app.store, cfg.Cache.RunningTTL)
	prov := provisioner.New(queues, provisioner.Config{
		Prefix:            cfg.Queue.Prefix,
		DLQSuffix:         cfg.Queue.DLQSuffix,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		MaxReceiveCount:   cfg.Queue.MaxReceiveCount,
	}, logger.Named("provisioner"))
	admitter := admission.New(app.store, queues, seenSet, crawls, ids, clock, logger.Named("admission"))
	leaser := leasing.New(queues, prov, app.store, clock, cfg.Queue.ReceiveWait, logger.Named("leasing"))

	app.coordinator = coordinator.New(coordinator.Deps{
		Store:       app.store,
		Blobs:       blobs,
		Provisioner: prov,
		Admitter:    admitter,
		Picker:      balancer.New(running, leaser, selector, logger.Named("balancer")),
		Acker:       leaser,
		Stopper:     lifecycle.New(app.store, queues, cache.Set{Crawls: crawls, Running: running}, logger.Named("lifecycle")),
		Completer: completion.New(app.store, blobs, sha256.New(), admitter, clock, completion.Config{
			ContentType:      cfg.Storage.ContentType,
			BlobPrefix:       cfg.Storage.Prefix,
			AdmitConcurrency: cfg.Completion.AdmitConcurrency,
		}, logger.Named("completion")),
		Running:   running,
		Publisher: app.events,
		Journal:   app.journal,
		IDs:       ids,
		Clock:     clock,
	}, coordinator.Config{
		Defaults: coordinator.Defaults{
			MaxDepth:   cfg.Crawl.MaxDepthDefault,
			MaxPages:   cfg.Crawl.MaxPagesDefault,
			SameDomain: cfg.Crawl.SameDomainDefault,
		},
		MaxJobs:    cfg.Job.MaxNum,
		EventTopic: cfg.Events.Topic,
	}, logger.Named("coordinator"))

	app.apiServer = api.NewServer(app.coordinator, *cfg, logger.Named("api"), app.readiness...)
	built = true
	return app, nil
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.Store.Backend == "postgres" || app.cfg.Queue.Backend == "postgres" {
		var err error
		app.pool, err = pgstore.NewPool(ctx, pgstore.PoolConfig{
			DSN:             app.cfg.Database.DSN,
			MaxConns:        app.cfg.Database.MaxConns,
			MinConns:        app.cfg.Database.MinConns,
			MaxConnLifetime: app.cfg.Database.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("postgres pool init failed: %w", err)
		}
		app.readiness = append(app.readiness, api.ReadinessCheck{Name: "postgres", Check: app.pool.Ping})
		if err := migrate(ctx, app.pool, app.cfg, app.logger); err != nil {
			return err
		}
	}

	if app.cfg.Store.Backend != "postgres" {
		app.logger.Info("using in-memory crawl store")
		app.store = memoryStorage.NewStore()
		return nil
	}
	store, err := pgstore.NewStore(app.pool, storeConfig(app.cfg))
	if err != nil {
		return fmt.Errorf("postgres store init failed: %w", err)
	}
	app.store = store
	app.logger.Info("postgres crawl store initialized")
	return nil
}

func setupQueue(app *App, clock crawler.Clock) (crawler.QueueService, error) {
	if app.cfg.Queue.Backend != "postgres" {
		app.logger.Info("using in-memory queue service")
		return queueMemory.NewService(clock), nil
	}
	queues, err := queuePostgres.New(app.pool, queueConfig(app.cfg))
	if err != nil {
		return nil, fmt.Errorf("postgres queue init failed: %w", err)
	}
	app.logger.Info("postgres queue service initialized", zap.String("table_prefix", app.cfg.Queue.TablePrefix))
	return queues, nil
}

func setupStorage(ctx context.Context, app *App) (crawler.BlobStore, error) {
	var blobStore crawler.BlobStore
	var err error
	switch app.cfg.Storage.Backend {
	case "gcs":
		app.logger.Info("using GCS storage backend")
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err = gcsstorage.New(app.storage, gcsstorage.Config{
			Bucket: app.cfg.Storage.Bucket,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS storage backend", zap.String("bucket", app.cfg.Storage.Bucket))
	case "local":
		app.logger.Info("using local storage backend")
		blobStore, err = localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local storage backend", zap.String("path", app.cfg.Storage.Local.BaseDir))
	default:
		app.logger.Info("using in-memory storage backend")
		blobStore = memoryStorage.NewBlobStore()
	}
	return blobStore, nil
}

func setupSeen(app *App) (crawler.SeenSet, error) {
	if app.cfg.Seen.Backend != "redis" {
		app.logger.Info("using in-memory seen set")
		return seen.NewMemory(), nil
	}
	redisCfg := app.cfg.Seen.Redis
	set, err := seen.NewRedis(seen.RedisConfig{
		Addr:      redisCfg.Addr,
		Password:  redisCfg.Password,
		DB:        redisCfg.DB,
		KeyPrefix: redisCfg.KeyPrefix,
		TTL:       redisCfg.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("redis seen set init failed: %w", err)
	}
	app.seenRedis = set
	app.readiness = append(app.readiness, api.ReadinessCheck{Name: "redis", Check: set.Ping})
	app.logger.Info("redis seen set initialized", zap.String("addr", redisCfg.Addr))
	return set, nil
}

func setupPublisher(ctx context.Context, app *App) (crawler.Publisher, error) {
	switch app.cfg.Events.Backend {
	case "pubsub":
		var err error
		app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		app.pubsubPublisher = gcppublisher.New(app.pubsubClient.Publisher(app.cfg.Events.Topic))
		app.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", app.cfg.PubSub.ProjectID),
			zap.String("topic", app.cfg.Events.Topic),
		)
		return app.pubsubPublisher, nil
	case "kafka":
		topic := app.cfg.Kafka.Topic
		if topic == "" {
			topic = app.cfg.Events.Topic
		}
		var err error
		app.kafkaPublisher, err = kafkapublisher.New(kafkapublisher.Config{
			Brokers: app.cfg.Kafka.Brokers,
			Topic:   topic,
		})
		if err != nil {
			return nil, fmt.Errorf("kafka publisher init failed: %w", err)
		}
		app.logger.Info("Kafka publisher initialized",
			zap.Strings("brokers", app.cfg.Kafka.Brokers),
			zap.String("topic", topic),
		)
		return app.kafkaPublisher, nil
	case "memory":
		app.logger.Info("using in-memory event publisher")
		return memorypublisher.New(), nil
	default:
		app.logger.Info("event publishing disabled")
		return nil, nil
	}
}

// setupEvents puts the batching hub in front of the broker publisher and
// attaches the metrics, journal, and log sinks.
func setupEvents(app *App, publisher crawler.Publisher) error {
	eventSinks := []progress.Sink{}
	if publisher != nil {
		eventSinks = append(eventSinks, sinks.NewPublisherSink(publisher))
	}
	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		return fmt.Errorf("event metrics init failed: %w", err)
	}
	eventSinks = append(eventSinks, promSink)

	if app.cfg.Events.Journal {
		if app.cfg.Store.Backend == "postgres" {
			app.journal, err = pgstore.NewJournal(app.pool, app.cfg.Database.EventTable)
			if err != nil {
				return fmt.Errorf("postgres journal init failed: %w", err)
			}
		} else {
			app.journal = memoryStorage.NewJournal()
		}
		eventSinks = append(eventSinks, sinks.NewJournalSink(app.journal))
	}
	if app.cfg.Events.Log {
		eventSinks = append(eventSinks, sinks.NewLogSink(app.logger.Named("events")))
	}

	app.events = progress.NewHub(progress.Config{
		BufferSize:     app.cfg.Events.BufferSize,
		MaxBatchEvents: app.cfg.Events.MaxBatch,
		MaxBatchWait:   app.cfg.Events.MaxBatchWait,
		SinkTimeout:    app.cfg.Events.SinkTimeout,
		Logger:         app.logger.Named("events"),
	}, eventSinks...)
	app.logger.Info("event hub started",
		zap.Int("sinks", len(eventSinks)),
		zap.Bool("journal", app.journal != nil),
	)
	return nil
}

func setupPolicy(app *App) (balancer.Selector, error) {
	switch app.cfg.Balancer.Policy {
	case "oldest":
		app.logger.Info("balancer selects the oldest running crawl")
		return simple.New(), nil
	case "random", "":
		app.logger.Info("balancer selects running crawls uniformly at random")
		return random.New(), nil
	default:
		return nil, fmt.Errorf("unknown balancer policy %q", app.cfg.Balancer.Policy)
	}
}

func storeConfig(cfg *config.Config) pgstore.StoreConfig {
	return pgstore.StoreConfig{
		CrawlTable: cfg.Database.CrawlTable,
		PageTable:  cfg.Database.PageTable,
	}
}

func queueConfig(cfg *config.Config) queuePostgres.Config {
	return queuePostgres.Config{
		TablePrefix:  cfg.Queue.TablePrefix,
		PollInterval: cfg.Queue.PollInterval,
	}
}

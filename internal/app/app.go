package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atvirokodosprendimai/timeline/internal/adapters/archive"
	"github.com/atvirokodosprendimai/timeline/internal/adapters/events"
	"github.com/atvirokodosprendimai/timeline/internal/adapters/httpapi"
	"github.com/atvirokodosprendimai/timeline/internal/adapters/postgres"
	"github.com/atvirokodosprendimai/timeline/internal/adapters/queue"
	sqliteadapter "github.com/atvirokodosprendimai/timeline/internal/adapters/sqlite"
	"github.com/atvirokodosprendimai/timeline/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/timeline/internal/core/domain"
	"github.com/atvirokodosprendimai/timeline/internal/core/ports"
	"github.com/atvirokodosprendimai/timeline/internal/core/usecase"
	"github.com/atvirokodosprendimai/timeline/internal/logging"
	"github.com/atvirokodosprendimai/timeline/internal/metrics"
	"github.com/atvirokodosprendimai/timeline/migrations"
)

const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	QueueMemory   = "memory"
	QueueRedis    = "redis"
)

type Config struct {
	Addr   string
	DBPath string

	Store       string
	DatabaseURL string

	Queue         string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string

	EmptyDiffPolicy string

	WebhookURL     string
	WebhookSecret  string
	WebhookTimeout time.Duration

	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3Prefix          string
	S3AccessKeyID     string
	S3SecretAccessKey string

	BootstrapAPIKey  string
	BootstrapTenant  string
	BootstrapKeyName string
}

// App owns every resource of a running timeline service.
type App struct {
	Server     *http.Server
	Timeline   *usecase.TimelineService
	Archive    *usecase.ArchiveService
	Articles   *usecase.ArticleService
	Dispatcher *usecase.Dispatcher

	logger *slog.Logger
	// Closed in this order by Close.
	redis  io.Closer
	pg     io.Closer
	sqlite io.Closer
}

// New opens storage, runs migrations and wires capture to the dispatcher.
// The dispatcher is not started; call Start.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (_ *App, err error) {
	logger = logging.OrDefault(logger)
	metrics.Init()

	a := &App{logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	db, err := gormsqlite.Open(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	a.sqlite = db

	writeSQLDB, err := db.WriteSQLDB()
	if err != nil {
		return nil, fmt.Errorf("resolve writer sql db: %w", err)
	}
	migrateCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := migrations.Up(migrateCtx, writeSQLDB); err != nil {
		return nil, err
	}

	store, err := a.openTimelineStore(migrateCtx, cfg, db)
	if err != nil {
		return nil, err
	}

	mq, redisClient := openQueue(cfg, logger)
	if redisClient != nil {
		a.redis = redisClient
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
		}
	}

	policy, err := usecase.ParseEmptyDiffPolicy(cfg.EmptyDiffPolicy)
	if err != nil {
		return nil, err
	}

	registry := usecase.NewRecordRegistry()
	if err := registry.Register(domain.ArticleElementType, nil); err != nil {
		return nil, err
	}
	codec := usecase.NewAttributesCodec()
	reconstructor := usecase.NewStateReconstructor(codec, logger)
	processor := usecase.NewProcessor(store, usecase.ProcessorOptions{
		Registry:  registry,
		Codec:     codec,
		Publisher: newPublisher(cfg, logger),
		EmptyDiff: policy,
		Logger:    logger,
	})

	a.Dispatcher = usecase.NewDispatcher(mq, processor, logger)

	capturer := usecase.NewCapturer(mq, logger)
	if err := db.Use(sqliteadapter.NewCapturePlugin(capturer, logger)); err != nil {
		return nil, fmt.Errorf("install capture plugin: %w", err)
	}

	objects, err := openObjectStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a.Timeline = usecase.NewTimelineService(store, reconstructor)
	a.Archive = usecase.NewArchiveService(a.Timeline, objects, cfg.S3Prefix)
	a.Articles = usecase.NewArticleService(sqliteadapter.NewArticleRepository(db))
	auth := usecase.NewAuthService(sqliteadapter.NewAPIKeyRepository(db))

	if cfg.BootstrapAPIKey != "" {
		tenant := cfg.BootstrapTenant
		if tenant == "" {
			tenant = "default"
		}
		name := cfg.BootstrapKeyName
		if name == "" {
			name = "bootstrap"
		}
		bootstrapCtx, bootstrapCancel := context.WithTimeout(ctx, 5*time.Second)
		err := auth.Bootstrap(bootstrapCtx, cfg.BootstrapAPIKey, tenant, name)
		bootstrapCancel()
		if err != nil {
			return nil, fmt.Errorf("bootstrap api key: %w", err)
		}
	}

	handler := httpapi.NewHandler(httpapi.Services{
		Articles:   a.Articles,
		Timeline:   a.Timeline,
		Archive:    a.Archive,
		Auth:       auth,
		Dispatcher: a.Dispatcher,
	})
	a.Server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return a, nil
}

// Start launches the dispatch consumer.
func (a *App) Start(ctx context.Context) {
	a.Dispatcher.Start(ctx)
}

// Close drains the dispatcher before the queue and stores it writes to go away.
func (a *App) Close() error {
	closers := []io.Closer{a.redis, a.pg, a.sqlite}
	if a.Dispatcher != nil {
		closers = append([]io.Closer{a.Dispatcher}, closers...)
	}

	var firstErr error
	for _, c := range closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			a.logger.Error("close resource", "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	a.Dispatcher, a.redis, a.pg, a.sqlite = nil, nil, nil, nil
	return firstErr
}

func (a *App) openTimelineStore(ctx context.Context, cfg Config, db *gormsqlite.DB) (ports.TimelineStore, error) {
	switch cfg.Store {
	case "", StoreSQLite:
		return sqliteadapter.NewTimelineStore(db), nil
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("store %q requires a database url", cfg.Store)
		}
		pg, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.pg = pg
		if err := migrations.UpPostgres(ctx, pg); err != nil {
			return nil, err
		}
		return postgres.NewTimelineStore(pg), nil
	default:
		return nil, fmt.Errorf("unknown timeline store %q", cfg.Store)
	}
}

func openQueue(cfg Config, logger *slog.Logger) (ports.MessageQueue, *redis.Client) {
	if cfg.Queue != QueueRedis {
		return queue.NewMemoryQueue(), nil
	}
	client := queue.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	return queue.NewRedisQueue(client, cfg.RedisKey, logger), client
}

func newPublisher(cfg Config, logger *slog.Logger) ports.TimelinePublisher {
	log := events.NewLogPublisher(logger)
	if cfg.WebhookURL == "" {
		return log
	}
	return events.Fanout{log, events.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookSecret, cfg.WebhookTimeout)}
}

func openObjectStore(ctx context.Context, cfg Config) (ports.ObjectStore, error) {
	if cfg.S3Bucket == "" {
		return nil, nil
	}
	store, err := archive.NewS3Store(ctx, archive.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	})
	if err != nil {
		return nil, fmt.Errorf("open s3 store: %w", err)
	}
	return store, nil
}

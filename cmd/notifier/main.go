package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/go-redis/redis/v8"
	"google.golang.org/api/option"
	"gorm.io/gorm"

	"github.com/CyberwizD/follow-notifier/internal/config"
	"github.com/CyberwizD/follow-notifier/internal/consumer"
	"github.com/CyberwizD/follow-notifier/internal/repository"
	"github.com/CyberwizD/follow-notifier/internal/routes"
	"github.com/CyberwizD/follow-notifier/internal/services"
	"github.com/CyberwizD/follow-notifier/pkg/logger"
	"github.com/CyberwizD/follow-notifier/pkg/metrics"
	"github.com/CyberwizD/follow-notifier/pkg/retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logr := logger.New(cfg.LogLevel, cfg.LogFormat)
	logr.Info("starting follow notifier",
		slog.String("app", cfg.AppName),
		slog.String("change_source", cfg.ChangeSource),
		slog.String("record_store", cfg.RecordStore),
		slog.String("follower_cache", cfg.FollowerCache),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCfg := retry.Config{
		MaxAttempts:    cfg.ConnectMaxAttempts,
		InitialBackoff: cfg.ConnectInitialBackoff,
	}
	metricsCollector := metrics.New("follow_notifier")

	var opts []option.ClientOption
	if cfg.FirebaseCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.FirebaseCredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.FirebaseProjectID}, opts...)
	if err != nil {
		fatal(logr, "failed to initialise firebase app", err)
	}
	messagingClient, err := app.Messaging(ctx)
	if err != nil {
		fatal(logr, "failed to create messaging client", err)
	}

	var fsClient *firestore.Client
	if cfg.UsesFirestore() {
		fsClient, err = app.Firestore(ctx)
		if err != nil {
			fatal(logr, "failed to create firestore client", err)
		}
		defer fsClient.Close()
	}

	var db *gorm.DB
	if cfg.DatabaseURL != "" {
		db, err = connectPostgres(ctx, cfg.DatabaseURL, connectCfg)
		if err != nil {
			if cfg.RecordStore == config.StorePostgres {
				fatal(logr, "failed to connect database", err)
			}
			logr.Warn("database unavailable, status tracking disabled", slog.Any("error", err))
			db = nil
		}
	}

	var (
		rdb       *redis.Client
		redisRepo *repository.RedisRepository
	)
	if cfg.RedisURL != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		defer rdb.Close()
		redisRepo = repository.NewRedisRepository(rdb, cfg.TokenSuppressTTL)
		if err := retry.Do(ctx, connectCfg, func() error { return redisRepo.Ping(ctx) }); err != nil {
			if cfg.FollowerCache == config.CacheRedis {
				fatal(logr, "failed to connect redis", err)
			}
			logr.Warn("redis unavailable, using in-memory dedupe without token suppression", slog.Any("error", err))
			redisRepo = nil
		}
	}

	gateway := services.NewFCMProvider(messagingClient, logr)
	builder := services.NewNotificationBuilder(services.BuilderOptions{
		Sound:            cfg.NotifySound,
		AndroidChannelID: cfg.AndroidChannelID,
		BadgeCount:       cfg.NotifyBadgeCount,
	})
	dispatcher := services.NewDispatcher(gateway, cfg.SendTimeout, metricsCollector, logr)

	var userStore services.UserStore
	switch cfg.RecordStore {
	case config.StorePostgres:
		userStore = repository.NewPostgresUserStore(db, cfg.UsersTable)
	default:
		userStore = repository.NewFirestoreUserStore(fsClient, cfg.UsersCollection)
	}

	var (
		suppressor services.TokenSuppressor
		ledger     services.DeliveryLedger = repository.NewMemoryLedger(cfg.DedupeTTL)
	)
	if redisRepo != nil {
		suppressor = redisRepo
		ledger = redisRepo
	}

	var statusUpdater *services.StatusUpdater
	if db != nil {
		statusStore, err := repository.NewStatusStore(db, cfg.StatusTable)
		if err != nil {
			logr.Warn("status store unavailable", slog.Any("error", err))
		} else {
			statusUpdater = services.NewStatusUpdater(statusStore, gateway.Name(), logr)
		}
	}

	notifier := services.NewFollowNotifier(services.FollowNotifierDeps{
		Resolver:   services.NewDeviceTokenResolver(userStore, logr),
		Builder:    builder,
		Dispatcher: dispatcher,
		Intents: services.IntentTemplate{
			Title: cfg.NotifyTitle,
			Body:  cfg.NotifyBody,
		},
		Suppressor:  suppressor,
		Ledger:      ledger,
		Status:      statusUpdater,
		Metrics:     metricsCollector,
		Logger:      logr,
		SuppressTTL: cfg.TokenSuppressTTL,
		DedupeTTL:   cfg.DedupeTTL,
	})

	var cache consumer.FollowerCache
	switch cfg.FollowerCache {
	case config.CacheRedis:
		cache = repository.NewRedisFollowerCache(rdb)
	default:
		cache = repository.NewMemoryFollowerCache()
	}

	source, closeSource, err := newChangeSource(ctx, cfg, fsClient, connectCfg, logr)
	if err != nil {
		fatal(logr, "failed to open change source", err)
	}
	defer closeSource()

	listener := consumer.NewChangeListener(source, cache, notifier, metricsCollector, logr, consumer.ListenerConfig{
		BatchBuffer:  cfg.BatchBuffer,
		Concurrency:  cfg.DispatchConcurrency,
		DrainTimeout: cfg.DrainTimeout,
		Resubscribe: retry.Config{
			InitialBackoff: cfg.ResubscribeInitialBackoff,
			MaxBackoff:     cfg.ResubscribeMaxBackoff,
		},
	})

	httpSrv := startHTTPServer(cfg.HTTPPort, routes.Deps{
		Builder: builder,
		Sender:  dispatcher,
		Metrics: metricsCollector,
		Logger:  logr,
		Started: time.Now(),
	}, logr)

	if err := listener.Run(ctx); err != nil {
		logr.Error("change listener exited", slog.Any("error", err))
	}

	shutdownHTTP(httpSrv, logr)
	logr.Info("follow notifier stopped")
}

func fatal(logr *slog.Logger, msg string, err error) {
	logr.Error(msg, slog.Any("error", err))
	os.Exit(1)
}

func startHTTPServer(port string, deps routes.Deps, logr *slog.Logger) *http.Server {
	if port == "" {
		port = "3000"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           routes.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Error("http server error", slog.Any("error", err))
		}
	}()
	return srv
}

func shutdownHTTP(srv *http.Server, logr *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Error("failed to shutdown http server", slog.Any("error", err))
	}
}

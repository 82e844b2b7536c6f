package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/gorilla/sessions"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
	"github.com/markbates/goth/providers/google"
	"github.com/redis/go-redis/v9"

	"github.com/petermazzocco/excel-analytics/internal/auth"
	"github.com/petermazzocco/excel-analytics/internal/blob"
	"github.com/petermazzocco/excel-analytics/internal/config"
	"github.com/petermazzocco/excel-analytics/internal/feed"
	"github.com/petermazzocco/excel-analytics/internal/handlers"
	"github.com/petermazzocco/excel-analytics/internal/insights"
	"github.com/petermazzocco/excel-analytics/internal/server"
	"github.com/petermazzocco/excel-analytics/internal/socket"
	"github.com/petermazzocco/excel-analytics/internal/stats"
	"github.com/petermazzocco/excel-analytics/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Change feed: Redis pub/sub when configured so every instance sees every change.
	var (
		changes     feed.Feed
		redisClient *redis.Client
		cache       handlers.HealthChecker
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
		changes = feed.NewRedis(redisClient, feed.DefaultChannel, logger)
		cache = redisPinger{redisClient}
		logger.Info("connected to redis")
	} else {
		changes = feed.NewLocal(256, logger)
	}

	// Local commits also go to Kafka; relayed events from other instances do not.
	var publisher feed.Publisher = changes
	var kafka *feed.KafkaSink
	if brokers := cfg.GetKafkaBrokers(); len(brokers) > 0 {
		var err error
		kafka, err = feed.NewKafkaSink(brokers, cfg.KafkaTopic, logger)
		if err != nil {
			return err
		}
		publisher = feed.Fanout{changes, kafka}
		logger.Info("mirroring changes to kafka", "topic", cfg.KafkaTopic)
	}

	// Database
	db, err := store.Open(cfg.DBDriver, cfg.DatabaseURL, !cfg.IsProduction() && cfg.LogLevel == "debug")
	if err != nil {
		return err
	}
	st := store.New(db, publisher, logger)
	if err := st.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("connected to database", "driver", cfg.DBDriver, "dsn", redactDSN(cfg.DatabaseURL))

	// Archive of uploaded originals
	var objects blob.Store
	switch {
	case cfg.ArchiveEnabled():
		s3Store, err := blob.NewS3(ctx, blob.S3Config{
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return err
		}
		objects = s3Store
	case !cfg.IsProduction():
		logger.Warn("S3_BUCKET not set, archiving uploads in memory")
		objects = blob.NewMemory()
	default:
		logger.Warn("S3_BUCKET not set, upload archiving and export disabled")
	}

	// Live admin dashboard
	hub := socket.NewHub(logger, cfg.FrontendURL)
	broadcaster := stats.New(st, hub, hub, cfg.StatsDebounce, logger)
	broadcaster.Attach(changes)
	hub.OnConnect(broadcaster.ClientConnected)
	hub.OnDisconnect(broadcaster.ClientDisconnected)

	// Authentication
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	authService := auth.NewService(st, tokens, logger)

	var oauth *handlers.OAuthHandler
	if cfg.GoogleEnabled() {
		goth.UseProviders(google.New(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleCallbackURL, "email", "profile"))

		sessionStore := sessions.NewCookieStore([]byte(cfg.SessionSecret))
		sessionStore.MaxAge(86400 * 30)
		sessionStore.Options.Path = "/"
		sessionStore.Options.HttpOnly = true
		sessionStore.Options.Secure = cfg.IsProduction()
		gothic.Store = sessionStore

		oauth = handlers.NewOAuthHandler(st, tokens, "google", cfg.FrontendURL, logger)
	} else {
		logger.Warn("GOOGLE_CLIENT_ID not set, google sign-in disabled")
	}

	// Generated insights
	var generator insights.Generator
	var gemini *insights.Gemini
	if cfg.GeminiAPIKey != "" {
		gemini, err = insights.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return err
		}
		generator = gemini
	} else {
		logger.Warn("GEMINI_API_KEY not set, insight endpoints will return 503")
	}

	router := handlers.NewRouter(handlers.Routes{
		Logger:             logger,
		Tokens:             tokens,
		FrontendURL:        cfg.FrontendURL,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Users:              handlers.NewUserHandler(authService, st, logger),
		OAuth:              oauth,
		Uploads:            handlers.NewUploadHandler(st, objects, cfg.MaxUploadBytes, logger),
		Admin:              handlers.NewAdminHandler(st, broadcaster, logger),
		Insights:           handlers.NewInsightsHandler(insights.NewService(generator, logger), logger),
		Health:             handlers.NewHealthHandler(st, cache),
		Socket:             hub,
	})

	srv := server.New(router, cfg.AppPort, cfg.ReadTimeout, cfg.WriteTimeout, cfg.ShutdownTimeout, logger)

	go func() {
		if err := changes.Run(ctx); err != nil {
			logger.Error("change feed stopped", "error", err)
		}
	}()

	if kafka != nil {
		go func() {
			if err := kafka.Run(ctx); err != nil {
				logger.Error("kafka sink stopped", "error", err)
			}
		}()
	}

	sweeper := store.NewSweeper(st, objects, cfg.AnonUploadRetention, cfg.RetentionSweepInterval, logger)
	go func() {
		if err := sweeper.Run(ctx); err != nil {
			logger.Error("retention sweeper stopped", "error", err)
		}
	}()

	// Hooks run last-registered first.
	srv.OnShutdown("database", func(context.Context) error { return st.Close() })
	if redisClient != nil {
		srv.OnShutdown("redis", func(context.Context) error { return redisClient.Close() })
	}
	if kafka != nil {
		srv.OnShutdown("kafka", func(context.Context) error { return kafka.Close() })
	}
	if gemini != nil {
		srv.OnShutdown("gemini", func(context.Context) error { return gemini.Close() })
	}
	srv.OnShutdown("stats", func(context.Context) error {
		broadcaster.Stop()
		return nil
	})
	srv.OnShutdown("websocket", func(context.Context) error {
		hub.Close()
		return nil
	})
	srv.OnShutdown("background", func(context.Context) error {
		cancel()
		return nil
	})

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"google", cfg.GoogleEnabled(),
		"archive", objects != nil,
		"insights", generator != nil,
	)
	return srv.Run(ctx)
}

func initLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// redactDSN hides the password in a URL-style DSN.
func redactDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	creds, host, ok := strings.Cut(rest, "@")
	if !ok {
		return dsn
	}
	user, _, hasPass := strings.Cut(creds, ":")
	if !hasPass {
		return dsn
	}
	return scheme + "://" + user + ":***@" + host
}

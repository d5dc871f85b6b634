package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chatcore/internal/cache"
	"chatcore/internal/config"
	"chatcore/internal/events"
	"chatcore/internal/httpserver"
	"chatcore/internal/logger"
	"chatcore/internal/metrics"
	"chatcore/internal/security"
	"chatcore/internal/service"
	"chatcore/internal/store"
	"chatcore/internal/store/postgres"
	"chatcore/internal/store/sqlite"
	"chatcore/internal/ws"
)

// @title           Chat API
// @version         1.0
// @description     Realtime chat backend: chats, messages, presence and typing.

// @host            localhost:8000
// @BasePath        /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	seed := flag.Bool("seed", false, "create the default users when the database is empty")
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	if err := run(*envFile, *seed); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run(envFile string, seed bool) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(logger.Config{Development: cfg.Debug})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	tokenSvc := security.NewTokenService(cfg.JWTSecret, time.Duration(cfg.AccessTokenMinutes)*time.Minute)
	passwordHasher := security.NewPasswordHasher(0)

	userRepo := store.NewUserRepo(db)
	chatRepo := store.NewChatRepo(db)
	partRepo := store.NewParticipantRepo(db)
	msgRepo := store.NewMessageRepo(db)

	authSvc := service.NewAuthService(userRepo, tokenSvc, passwordHasher)
	userSvc := service.NewUserService(userRepo)
	chatSvc := service.NewChatService(chatRepo, partRepo, msgRepo, userRepo, service.ChatConfig{
		DefaultPageSize:  cfg.DefaultPageSize,
		MaxPageSize:      cfg.MaxPageSize,
		MaxMessageLength: cfg.MaxMessageLength,
	})

	// No connection survives a restart.
	if err := userSvc.ResetOnline(ctx); err != nil {
		return fmt.Errorf("reset presence: %w", err)
	}
	if seed {
		n, err := authSvc.Seed(ctx, service.DefaultSeedUsers)
		if err != nil {
			return fmt.Errorf("seed users: %w", err)
		}
		log.Info("seeded users", zap.Int("created", n))
	}

	var mirror ws.PresenceMirror
	if cfg.RedisAddr != "" {
		client, err := cache.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		presenceCache := cache.NewPresenceCache(client, "")
		if err := presenceCache.Reset(ctx); err != nil {
			log.Warn("reset presence cache", zap.Error(err))
		}
		mirror = presenceCache
		log.Info("presence mirrored to redis", zap.String("addr", cfg.RedisAddr))
	}

	var publisher events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		log.Info("publishing message events", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Warn("close publisher", zap.Error(err))
		}
	}()

	registry := ws.NewRegistry(log.Named("registry"))
	presence := ws.NewPresence(registry, userSvc, mirror, log.Named("presence"))
	typing := ws.NewTypingTracker(registry, cfg.TypingTimeout, log.Named("typing"))
	dispatcher := ws.NewDispatcher(registry, presence, typing, chatSvc, publisher, log.Named("ws"), ws.DispatcherConfig{
		RateLimit:      cfg.WSRateLimit,
		RateBurst:      cfg.WSRateBurst,
		PublishTimeout: cfg.KafkaTimeout,
	})

	router := httpserver.NewRouter(httpserver.Deps{
		Config: cfg,
		Log:    log.Named("http"),
		Auth:   authSvc,
		Users:  userSvc,
		Chats:  chatSvc,
		Realtime: ws.MakeHandler(authSvc, dispatcher, log.Named("ws"), ws.HandlerConfig{
			AllowedOrigins: cfg.CORSOrigins,
			SendBuffer:     cfg.WSSendBuffer,
		}),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting server", zap.String("addr", cfg.HTTPAddr()), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return typing.Run(gctx, cfg.TypingSweepInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		registry.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func openDatabase(cfg *config.Config) (*store.DB, error) {
	switch cfg.DatabaseDriver {
	case "postgres":
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return db, nil
	default:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := sqlite.Migrate(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		return db, nil
	}
}

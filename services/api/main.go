package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shelter/internal/auth"
	"github.com/shelter/internal/config"
	"github.com/shelter/internal/email"
	"github.com/shelter/internal/handler"
	"github.com/shelter/internal/logger"
	"github.com/shelter/internal/middleware"
	"github.com/shelter/internal/repository"
	"github.com/shelter/internal/session"
	"github.com/shelter/internal/snowflake"
	"github.com/shelter/internal/startup"
	"github.com/shelter/internal/storage"
	"github.com/shelter/internal/storage/memory"
	"github.com/shelter/internal/token"
	"github.com/shelter/internal/ws"
	"github.com/shelter/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL and an in-memory session store")
	flag.Parse()

	logger.Info("starting API service")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}
	logger.Info("database connected, migrations applied")

	var store storage.DeviceSessionStore
	if *dev {
		store = memory.New()
	} else {
		store = startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Errorf("close session store: %v", err)
		}
	}()

	codec := token.NewCodec(cfg.JWTSecret)
	sessions := session.NewManager(codec, store)
	gate := auth.NewGate(codec, sessions)
	ids := snowflake.New(cfg.WorkerID, cfg.ProcessID)
	userRepo := repository.NewUserRepository(pool)

	var mailer email.Mailer
	if cfg.SMTP.Username != "" {
		mailer = email.NewSender(&cfg.SMTP)
	} else {
		logger.Info("SMTP not configured, outgoing mail disabled")
	}

	registry := ws.NewRegistry()
	supervisor := ws.NewSupervisor(registry, cfg.HeartbeatInterval, cfg.HeartbeatTimeout)
	supervisor.Start()

	authH := handler.NewAuthHandler(userRepo, sessions, codec, ids, mailer, cfg.FrontendURL)
	gatewayH := handler.NewGatewayHandler(gate, registry, handler.GatewayConfig{
		MaxConnections: cfg.MaxWSConnections,
		SendBufferSize: cfg.WSSendBufferSize,
		MaxMessageSize: cfg.WSMaxMessageSize,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", auth.DeviceIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/api/auth/register", authH.Register)
	r.Post("/api/auth/login", authH.Login)
	r.Post("/api/auth/refresh", authH.Refresh)
	r.Post("/api/auth/verify-email", authH.VerifyEmail)
	r.Post("/api/auth/forgot-password", authH.ForgotPassword)
	r.Post("/api/auth/reset-password", authH.ResetPassword)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(gate))
		r.Post("/api/auth/logout", authH.Logout)
		r.Get("/api/auth/devices", authH.ListDevices)
		r.Delete("/api/auth/devices", authH.RevokeAllDevices)
		r.Get("/api/users/me", authH.Me)
	})

	r.Get("/gateway", gatewayH.Serve)

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	supervisor.Stop()
	registry.Shutdown()
	logger.Info("gateway stopped")
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	names, err := migrations.Files.ReadDir(".")
	if err != nil {
		logger.Errorf("read migrations: %v", err)
		os.Exit(1)
	}
	files := make([]string, 0, len(names))
	for _, e := range names {
		files = append(files, e.Name())
	}
	sort.Strings(files)
	for _, f := range files {
		data, err := migrations.Files.ReadFile(f)
		if err != nil {
			logger.Errorf("read migration %s: %v", f, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", f, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "shelter"
		password = "shelter_secret"
		database = "shelter"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}

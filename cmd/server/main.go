package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/mmynk/splitbot/internal/archive"
	"github.com/mmynk/splitbot/internal/auth"
	"github.com/mmynk/splitbot/internal/bot"
	"github.com/mmynk/splitbot/internal/config"
	"github.com/mmynk/splitbot/internal/jobs"
	"github.com/mmynk/splitbot/internal/ledger"
	"github.com/mmynk/splitbot/internal/locks"
	"github.com/mmynk/splitbot/internal/metrics"
	"github.com/mmynk/splitbot/internal/middleware"
	"github.com/mmynk/splitbot/internal/platform/gateway"
	"github.com/mmynk/splitbot/internal/render"
	"github.com/mmynk/splitbot/internal/scheduler"
	"github.com/mmynk/splitbot/internal/service"
	"github.com/mmynk/splitbot/internal/storage/sqlite"
	"github.com/mmynk/splitbot/internal/timers"
	"github.com/mmynk/splitbot/internal/wizard"
	"github.com/mmynk/splitbot/pkg/logging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	hashPassword := flag.String("hash-password", "", "print the bcrypt hash of a password for the operators list and exit")
	flag.Parse()

	if *hashPassword != "" {
		hash, err := auth.HashPassword(*hashPassword)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Log.Level)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	if dir := filepath.Dir(cfg.Database.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()
	logger.Info("Storage initialized", "database", cfg.Database.Path)

	m := metrics.New()
	messenger := gateway.NewClient(http.DefaultClient, cfg.Gateway.URL, cfg.Gateway.Token)
	registry := timers.New()

	files := archive.New(messenger, cfg.Bot.FilesChannelID, logger)
	lockManager := locks.NewManager(store, cfg.LockTTL(), locks.WithLogger(logger))
	lg := ledger.New(store, ledger.WithLogger(logger), ledger.WithMetrics(m))
	wz := wizard.New(store, lg, lockManager, files, cfg.DraftTTL(), wizard.WithLogger(logger), wizard.WithMetrics(m))

	b := bot.New(bot.Deps{
		Store:     store,
		Ledger:    lg,
		Wizard:    wz,
		Locks:     lockManager,
		Archive:   files,
		Messenger: messenger,
		Timers:    registry,
		Render:    render.New(cfg.Bot.Currency, cfg.Bot.FilesChannelID, cfg.Location()),
	},
		bot.WithLogger(logger),
		bot.WithMetrics(m),
		bot.WithShards(cfg.Bot.Shards, cfg.Bot.ShardBuffer),
		bot.WithNoticeTTL(cfg.NoticeTTL()),
		bot.WithMediaGroupQuiet(cfg.MediaGroupQuiet()),
	)

	runner := jobs.NewJobRunner(jobs.Deps{
		Store:     store,
		Wizard:    wz,
		Locks:     lockManager,
		Archive:   files,
		Messenger: messenger,
	}, cfg.RejectedTTL(), cfg.PendingTTL(), jobs.WithLogger(logger), jobs.WithMetrics(m))

	sched, err := scheduler.NewScheduler(runner, cfg.Sweep.ShortInterval, cfg.Sweep.LongInterval, logger)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	logInterceptor := middleware.LoggingInterceptor(logger)

	mux.Handle(service.NewBotServiceHandler(
		service.NewBotService(b, logger),
		connect.WithInterceptors(middleware.RequireToken(cfg.Gateway.Token), logInterceptor),
	))

	if len(cfg.Operators) > 0 {
		hashes := make(map[string]string, len(cfg.Operators))
		for _, op := range cfg.Operators {
			hashes[op.Username] = op.PasswordHash
		}
		jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.TokenExpiry())

		mux.Handle(service.NewAuthServiceHandler(
			service.NewAuthService(auth.NewPasswordAuthenticator(hashes), jwtManager, logger),
			connect.WithInterceptors(logInterceptor),
		))
		mux.Handle(service.NewLedgerServiceHandler(
			service.NewLedgerService(store, lg, func() int64 { return time.Now().Unix() }, logger),
			connect.WithInterceptors(middleware.RequireAuth(jwtManager), logInterceptor),
		))
		logger.Info("Admin API enabled", "operators", len(cfg.Operators))
	} else {
		logger.Warn("No operators configured, admin API disabled")
	}

	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Wrap with h2c for HTTP/2 without TLS (required for Connect)
	srv := &http.Server{
		Addr:              cfg.GetServerAddress(),
		Handler:           h2c.NewHandler(loggingMiddleware(logger, mux), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Connect server starting", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	sched.Start()

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Stop intake first so no new events reach the bot, then drain it.
		err := srv.Shutdown(shutdownCtx)
		sched.Stop()
		if stopErr := b.Stop(shutdownCtx); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to drain events: %w", stopErr))
		}
		return err
	})

	return g.Wait()
}

// loggingMiddleware logs all incoming requests
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		logger.Debug("Request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

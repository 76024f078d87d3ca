// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/mafia/internal/auth"
	"github.com/jason-s-yu/mafia/internal/cache"
	"github.com/jason-s-yu/mafia/internal/config"
	"github.com/jason-s-yu/mafia/internal/database"
	"github.com/jason-s-yu/mafia/internal/handlers"
	"github.com/jason-s-yu/mafia/internal/hub"
	"github.com/jason-s-yu/mafia/internal/metrics"
	"github.com/jason-s-yu/mafia/internal/middleware"
	"github.com/jason-s-yu/mafia/internal/notify"
	"github.com/jason-s-yu/mafia/internal/presence"
	"github.com/jason-s-yu/mafia/internal/room"
	"github.com/jason-s-yu/mafia/internal/session"
	"github.com/jason-s-yu/mafia/internal/timer"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 10 * time.Second

func main() {
	app := &cli.App{
		Name:  "mafia",
		Usage: "mafia game session orchestrator",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "config.yaml",
				Usage:   "path to the configuration file",
				EnvVars: []string{"MAFIA_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP and websocket server",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "create the database schema",
				Action: migrate,
			},
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func setup(c *cli.Context) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Server.LogLevel, err)
	}
	logger.SetLevel(level)
	return cfg, logger, nil
}

func migrate(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("migrate needs a postgres DSN")
	}
	pool, err := database.Connect(c.Context, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := database.Migrate(c.Context, pool); err != nil {
		return err
	}
	logger.Info("schema is up to date")
	return nil
}

func serve(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var issuer *auth.Issuer
	if cfg.Auth.PrivateKeyPath != "" && cfg.Auth.PublicKeyPath != "" {
		issuer, err = auth.NewIssuerFromFiles(cfg.Auth.PrivateKeyPath, cfg.Auth.PublicKeyPath, cfg.Auth.TokenExpire)
	} else {
		logger.Warn("no key files configured; tokens will not survive a restart")
		issuer, err = auth.NewIssuer(cfg.Auth.TokenExpire)
	}
	if err != nil {
		return err
	}

	m := metrics.New()

	var (
		pool     *pgxpool.Pool
		repo     room.Repository = room.NewMemoryRepository()
		profiles *database.ProfileRepository
	)
	if cfg.Postgres.DSN != "" {
		pool, err = database.Connect(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			return err
		}
		repo = database.NewRoomRepository(pool)
		profiles = database.NewProfileRepository(pool)
	} else {
		logger.Warn("no postgres DSN; rooms are kept in memory")
	}

	store := room.NewStore(repo, logger)
	store.ReportConflicts(m)
	reg := presence.NewRegistry()
	h := hub.New(logger, m)
	timers := timer.NewManager(logger, timer.WithTick(cfg.Timers.Tick), timer.WithObserver(m))

	opts := session.Options{
		Store:     store,
		Presence:  reg,
		Timers:    timers,
		Out:       h,
		Observer:  m,
		Durations: cfg.Timers,
		Grace:     cfg.Session.DisconnectGrace,
		QueueSize: cfg.Session.QueueSize,
		Logger:    logger,
	}
	srvOpts := handlers.ServerOptions{
		Store:       store,
		Presence:    reg,
		Hub:         h,
		Issuer:      issuer,
		Gauge:       m,
		AllowGuests: cfg.Auth.AllowGuests,
		WSRateLimit: cfg.Session.WSRateLimit,
		WSRateBurst: cfg.Session.WSRateBurst,
		QueueSize:   cfg.Session.QueueSize,
		Logger:      logger,
	}

	var dispatcher *notify.Dispatcher
	if profiles != nil {
		opts.Profiles = profiles
		srvOpts.Profiles = profiles
		dispatcher = notify.NewDispatcher(cfg.Notify.ExpoPushURL, profiles, logger)
		opts.Notifier = dispatcher
	}

	if cfg.Redis.Addr != "" {
		rdb, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		opts.Actions = cache.NewActionLog(rdb, cfg.Redis.QueueName)
	}

	sessions := session.NewManager(opts)
	srvOpts.Sessions = sessions
	api := handlers.NewServer(srvOpts)

	var metricsHandler http.Handler
	if cfg.Server.MetricsEnabled {
		metricsHandler = m.Handler()
	}
	var limiter *middleware.IPRateLimiter
	if cfg.Server.RESTRateLimit > 0 {
		limiter = middleware.NewIPRateLimiter(rate.Limit(cfg.Server.RESTRateLimit), cfg.Server.RESTRateBurst)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           api.Routes(metricsHandler, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server exited: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Shutdown does not track hijacked websockets.
	h.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	sessions.Close()
	dispatcher.Wait()
	return nil
}

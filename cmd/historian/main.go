// cmd/historian/main.go drains the room action queue into Postgres and marks
// silent games abandoned.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/mafia/internal/cache"
	"github.com/jason-s-yu/mafia/internal/config"
	"github.com/jason-s-yu/mafia/internal/database"
	"github.com/jason-s-yu/mafia/internal/historian"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "historian",
		Usage: "persist room actions from redis to postgres",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "config.yaml",
				Usage:   "path to the configuration file",
				EnvVars: []string{"MAFIA_CONFIG"},
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Server.LogLevel, err)
	}
	logger.SetLevel(level)

	if cfg.Postgres.DSN == "" || cfg.Redis.Addr == "" {
		return errors.New("historian needs both a postgres DSN and a redis address")
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		return err
	}

	rdb, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.DB)
	if err != nil {
		return err
	}
	defer rdb.Close()

	svc := historian.New(rdb, database.NewGameLog(pool), historian.Options{
		Queue:      cfg.Redis.QueueName,
		BatchSize:  cfg.Historian.BatchSize,
		FlushDelay: cfg.Historian.FlushDelay,
		Inactivity: cfg.Historian.Inactivity,
	}, logger)
	svc.Run(ctx)
	return nil
}

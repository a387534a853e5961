package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/iliyamo/catalogue-reservation/internal/config"
	"github.com/iliyamo/catalogue-reservation/internal/database"
	"github.com/iliyamo/catalogue-reservation/internal/middleware"
	"github.com/iliyamo/catalogue-reservation/internal/queue"
	"github.com/iliyamo/catalogue-reservation/internal/utils"
)

func main() {
	// a missing .env is fine, the environment may already be set
	_ = godotenv.Load()

	app := cli.App{
		Name:  "catalogue-reservation",
		Usage: "reserve and publish catalogue versions against the remote authority",
	}
	app.Commands = []*cli.Command{
		serveCmd,
		consumeCmd,
		migrateCmd,
		tokenCmd,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// newLogger returns a production logger unless APP_ENV says otherwise.
func newLogger() (*zap.SugaredLogger, func(), error) {
	var (
		raw *zap.Logger
		err error
	)
	if env := os.Getenv("APP_ENV"); env == "prod" || env == "production" {
		raw, err = zap.NewProduction()
	} else {
		raw, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return raw.Sugar(), func() { _ = raw.Sync() }, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

var consumeCmd = &cli.Command{
	Name:  "consume",
	Usage: "append resolution events from the broker to an audit log",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "dir",
			Usage:   "directory holding actions.log",
			Value:   "logs",
			EnvVars: []string{"AUDIT_LOG_DIR"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger, sync, err := newLogger()
		if err != nil {
			return err
		}
		defer sync()

		ctx, cancel := signalContext(cctx.Context)
		defer cancel()

		logger.Infow("consuming resolution events", "queue", queue.ResolvedQueueName, "dir", cctx.String("dir"))
		err = queue.StartResolvedConsumer(ctx, config.AMQPURL(), cctx.String("dir"), logger)
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

var migrateCmd = &cli.Command{
	Name:  "migrate",
	Usage: "create the catalogue and pending action tables",
	Action: func(cctx *cli.Context) error {
		logger, sync, err := newLogger()
		if err != nil {
			return err
		}
		defer sync()

		cfg := config.Load()
		if cfg.StoreBackend != "mysql" {
			return fmt.Errorf("migrate needs STORE_BACKEND=mysql, got %q", cfg.StoreBackend)
		}
		db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(cctx.Context, time.Minute)
		defer cancel()
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
		logger.Infow("schema up to date", "db", cfg.DBName)
		return nil
	},
}

var tokenCmd = &cli.Command{
	Name:  "token",
	Usage: "mint an access token for an editor",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "sub",
			Usage:    "requester identity",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "role",
			Usage: "editor or admin",
			Value: middleware.RoleEditor,
		},
		&cli.DurationFlag{
			Name:  "ttl",
			Value: 12 * time.Hour,
		},
		&cli.StringFlag{
			Name:     "secret",
			EnvVars:  []string{"JWT_SECRET"},
			Required: true,
		},
	},
	Action: func(cctx *cli.Context) error {
		tok, err := utils.NewAccessToken(cctx.String("secret"), cctx.String("sub"), cctx.String("role"), cctx.Duration("ttl"))
		if err != nil {
			return err
		}
		fmt.Println(tok.Token)
		fmt.Fprintf(os.Stderr, "expires %s\n", tok.Exp.Format(time.RFC3339))
		return nil
	},
}

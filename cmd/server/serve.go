package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/iliyamo/catalogue-reservation/internal/action"
	"github.com/iliyamo/catalogue-reservation/internal/authority"
	"github.com/iliyamo/catalogue-reservation/internal/config"
	"github.com/iliyamo/catalogue-reservation/internal/database"
	"github.com/iliyamo/catalogue-reservation/internal/forcededit"
	"github.com/iliyamo/catalogue-reservation/internal/handler"
	"github.com/iliyamo/catalogue-reservation/internal/middleware"
	"github.com/iliyamo/catalogue-reservation/internal/poller"
	"github.com/iliyamo/catalogue-reservation/internal/reconcile"
	"github.com/iliyamo/catalogue-reservation/internal/repository"
	"github.com/iliyamo/catalogue-reservation/internal/router"
	queue_publisher "github.com/iliyamo/catalogue-reservation/internal/service"
)

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run the HTTP API and resume pending actions",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    "publish-events",
			Usage:   "publish resolutions to the broker",
			Value:   true,
			EnvVars: []string{"PUBLISH_EVENTS"},
		},
		&cli.DurationFlag{
			Name:  "shutdown-timeout",
			Value: 10 * time.Second,
		},
	},
	Action: runServe,
}

// catalogueBackend is everything the service needs from catalogue storage.
type catalogueBackend interface {
	action.CatalogueStore
	action.Importer
	handler.CatalogueGetter
}

type stores struct {
	pending    action.PendingStore
	catalogues catalogueBackend
	ping       func(ctx context.Context) error
	close      func()
}

func openStores(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) (*stores, error) {
	switch cfg.StoreBackend {
	case "memory":
		log.Warn("using in-memory store, pending actions will not survive a restart")
		return &stores{
			pending:    repository.NewMemPendingStore(),
			catalogues: repository.NewMemCatalogueStore(),
			close:      func() {},
		}, nil
	case "mysql":
		db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		return &stores{
			pending:    repository.NewPendingActionRepo(db),
			catalogues: repository.NewCatalogueRepo(db),
			ping:       db.PingContext,
			close:      func() { _ = db.Close() },
		}, nil
	}
	return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
}

func runServe(cctx *cli.Context) error {
	log, sync, err := newLogger()
	if err != nil {
		return err
	}
	defer sync()
	log = log.With("source", "server_main")

	ctx, cancel := signalContext(cctx.Context)
	defer cancel()

	cfg := config.Load()
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	var forced forcededit.Manager
	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb != nil {
		defer rdb.Close()
		forced = forcededit.NewRedisManager(rdb)
	} else {
		log.Warn("redis unreachable, forced-edit grants kept in process and rate limiting off")
		forced = forcededit.NewMemManager()
	}

	client := authority.NewClient(cfg.AuthorityURL, cfg.AuthorityTimeout, log)
	deps := action.Deps{
		Pending:    st.pending,
		Catalogues: st.catalogues,
		Importer:   st.catalogues,
		Gateway:    client,
		Versions:   reconcile.New(client, log),
		Poller:     poller.New(client, cfg.Poll, log),
		Forced:     forced,
	}
	if cctx.Bool("publish-events") {
		deps.Observer = queue_publisher.NewResolvedPublisher(config.AMQPURL(), log)
	}
	orch := action.New(deps, log)

	n, err := orch.Recover(ctx)
	if err != nil {
		orch.Shutdown()
		return fmt.Errorf("recover pending actions: %w", err)
	}
	log.Infow("recovery complete", "resumed", n)

	e := newEcho(cfg, st, forced, orch, rdb, log)

	addr := ":" + cfg.Port
	errc := make(chan error, 1)
	go func() {
		log.Infow("listening", "addr", addr, "env", cfg.Env, "store", cfg.StoreBackend)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-errc:
		log.Errorw("http server failed", "err", err)
	}

	sctx, scancel := context.WithTimeout(context.Background(), cctx.Duration("shutdown-timeout"))
	defer scancel()
	if serr := e.Shutdown(sctx); serr != nil {
		log.Errorw("http shutdown", "err", serr)
	}
	orch.Shutdown()
	log.Info("stopped, acknowledged actions left for recovery")
	return err
}

func newEcho(cfg config.Config, st *stores, forced forcededit.Manager, orch *action.Orchestrator, rdb *redis.Client, log *zap.SugaredLogger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	router.RegisterRoutes(e, handler.Health(st.ping))
	h := handler.NewActionHandler(orch, st.pending, st.catalogues, forced)
	limit := middleware.NewFixedWindow(config.LoadRateLimitConfig(), rdb, log)
	router.RegisterActions(e, h, cfg.JWTSecret, limit)
	return e
}

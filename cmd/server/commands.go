package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"dmcore/internal/config"
	"dmcore/internal/domain"
	"dmcore/internal/httpserver"
	"dmcore/internal/logging"
	"dmcore/internal/security"
	"dmcore/internal/service"
	"dmcore/internal/store/postgres"
	"dmcore/internal/store/sqlite"
	"dmcore/internal/ws"
)

const shutdownTimeout = 10 * time.Second

// tokenTTL only applies to tokens minted locally; verification honors exp.
const tokenTTL = time.Hour

type store struct {
	db            *sql.DB
	conversations domain.ConversationRepository
	messages      domain.MessageRepository
	migrate       func(ctx context.Context, db *sql.DB) error
}

func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	switch cfg.DB.Driver {
	case config.DriverPostgres:
		db, err := postgres.Open(ctx, cfg.DB.DSN)
		if err != nil {
			return nil, err
		}
		return &store{
			db:            db,
			conversations: postgres.NewConversationRepo(db),
			messages:      postgres.NewMessageRepo(db),
			migrate:       postgres.Migrate,
		}, nil
	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.DB.DSN)
		if err != nil {
			return nil, err
		}
		return &store{
			db:            db,
			conversations: sqlite.NewConversationRepo(db),
			messages:      sqlite.NewMessageRepo(db),
			migrate:       sqlite.Migrate,
		}, nil
	}
	return nil, fmt.Errorf("unsupported db driver %q", cfg.DB.Driver)
}

func loadConfig(c *cli.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply the database schema and exit",
		Action: func(c *cli.Context) error {
			cfg, log, err := loadConfig(c)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			st, err := openStore(c.Context, cfg)
			if err != nil {
				return err
			}
			defer st.db.Close()

			if err := st.migrate(c.Context, st.db); err != nil {
				return err
			}
			log.Info("migrations applied", zap.String("driver", cfg.DB.Driver))
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP and websocket server",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "migrate",
				Usage: "Apply the database schema before serving",
				Value: true,
			},
		},
		Action: func(c *cli.Context) error {
			cfg, log, err := loadConfig(c)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log, c.Bool("migrate"))
		},
	}
}

func buildHandler(ctx context.Context, cfg *config.Config, log *zap.Logger, st *store) (http.Handler, func(), error) {
	keys, err := security.NewKeyDeriver([]byte(cfg.Crypto.ConversationSecret))
	if err != nil {
		return nil, nil, err
	}
	cipher := security.NewMessageCipher(security.WithLegacyKeys(cfg.Crypto.LegacyKeys))
	tokens := security.NewTokenService(cfg.Auth.JWTSecret, tokenTTL)

	cleanup := func() {}
	var pending ws.PendingStore
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rp := ws.NewRedisPending(rdb, cfg.Redis.PendingTTL)
		if err := rp.Ping(ctx); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		pending = rp
		cleanup = func() { _ = rdb.Close() }
	}

	hub := ws.NewHub(log.Named("ws"), pending)
	svc := service.NewConversationService(st.conversations, st.messages, keys, cipher, log.Named("service"),
		service.WithNotifier(hub),
		service.WithMaxMessageLength(cfg.Messages.MaxLength),
	)

	router := httpserver.NewRouter(httpserver.Deps{
		Config:        cfg,
		Log:           log.Named("http"),
		Tokens:        tokens,
		Conversations: svc,
		WebSocket:     ws.MakeHandler(hub, tokens, svc, cfg.HTTP.CORSOrigins, log.Named("ws")),
	})
	return router, cleanup, nil
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger, migrate bool) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.db.Close()

	if migrate {
		if err := st.migrate(ctx, st.db); err != nil {
			return err
		}
	}

	router, cleanup, err := buildHandler(ctx, cfg, log, st)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", cfg.HTTPAddr()), zap.String("driver", cfg.DB.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

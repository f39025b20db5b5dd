package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/inaiurai/bidengine/internal/auth"
	"github.com/inaiurai/bidengine/internal/config"
	"github.com/inaiurai/bidengine/internal/engine"
	"github.com/inaiurai/bidengine/internal/feedback"
	"github.com/inaiurai/bidengine/internal/handlers"
	"github.com/inaiurai/bidengine/internal/health"
	"github.com/inaiurai/bidengine/internal/ledger"
	"github.com/inaiurai/bidengine/internal/marketplace"
	"github.com/inaiurai/bidengine/internal/notify"
	"github.com/inaiurai/bidengine/internal/router"
	"github.com/inaiurai/bidengine/internal/services"
	"github.com/inaiurai/bidengine/internal/treasury"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		slog.Error("bidengine exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfgPath := os.Getenv("BIDENGINE_CONFIG")
	if cfgPath == "" {
		cfgPath = "bidengine.toml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	profiles, err := config.LoadProfiles(cfg.Agents.ProfilesPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	validator, err := services.NewValidator()
	if err != nil {
		return fmt.Errorf("compile schemas: %w", err)
	}
	notifier := notify.Multi{notify.Log{Logger: logger}, notify.NewSlack(cfg.Notify.SlackWebhook)}

	// Ledger
	var pool *pgxpool.Pool
	var store ledger.Store
	switch cfg.Ledger.Driver {
	case "postgres":
		pool, err = openPostgres(ctx, cfg.Ledger.DSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		pg := ledger.NewPGStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate ledger: %w", err)
		}
		store = pg
	default:
		store, err = ledger.OpenSQLite(ctx, cfg.Ledger.DSN)
		if err != nil {
			return err
		}
	}
	ledgerSvc := ledger.NewService(store, cfg.Ledger.Retain, cfg.Engine.IncludeFailed, logger)
	defer ledgerSvc.Close()
	slog.Info("Bid ledger ready", "driver", cfg.Ledger.Driver)

	// Feedback: River queue on Postgres, direct application otherwise
	var sink feedback.Sink = feedback.NewDirect(ledgerSvc, logger)
	var riverClient *river.Client[pgx.Tx]
	if pool != nil {
		riverClient, err = newRiverClient(ctx, pool, ledgerSvc, logger)
		if err != nil {
			return err
		}
		sink = feedback.NewQueue(func(ctx context.Context, args feedback.Args) error {
			_, err := riverClient.Insert(ctx, args, nil)
			return err
		}, logger)
	}

	// Engine
	matcher, err := services.NewMatcher(profiles, cfg.Matching.DefaultRole, services.MatchWeights{
		KeywordWeight: cfg.Matching.KeywordWeight,
		CategoryBonus: cfg.Matching.CategoryBonus,
		MaxScore:      cfg.Matching.MaxScore,
	})
	if err != nil {
		return err
	}
	client := marketplace.NewClient(cfg.Marketplace.BaseURL, profiles, cfg.Engine.RequestTimeout.Duration, logger)
	eng := engine.New(client, client, matcher, services.NewGenerator(nil), ledgerSvc, notifier, logger, engine.Options{
		Interval:        cfg.Engine.Interval.Duration,
		MaxBidsPerCycle: cfg.Engine.MaxBidsPerCycle,
		MinMatchScore:   cfg.Engine.MinMatchScore,
		SubmitDelay:     cfg.Engine.SubmitDelay.Duration,
		RequestTimeout:  cfg.Engine.RequestTimeout.Duration,
		IncludeFailed:   cfg.Engine.IncludeFailed,
	})

	// Treasury
	oversight := treasury.NewRegistry(cfg.Treasury.OversightTTL.Duration, notifier, logger)
	balances := treasury.NewHTTPBalance(cfg.Treasury.BalanceURL, cfg.Treasury.Address, cfg.Engine.RequestTimeout.Duration)
	guard := treasury.NewGuard(cfg.Treasury.ThresholdRatio, balances, oversight, logger)

	// Auth
	if cfg.Auth.OperatorPasswordHash == "" {
		slog.Warn("operator_password_hash not set, operator login disabled (generate one with bidctl hash-password)")
	}
	if cfg.InsecureJWTSecret() {
		slog.Warn("jwt_secret is the built-in development value, set JWT_SECRET before exposing the API")
	}
	if cfg.Server.FeedbackSecret == "" {
		slog.Warn("feedback_secret not set, POST /feedback will reject every request")
	}
	authSvc := auth.NewService(auth.Operator{
		Username:     cfg.Auth.OperatorUser,
		PasswordHash: cfg.Auth.OperatorPasswordHash,
	}, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL.Duration)

	api := router.New(router.Deps{
		Auth:           auth.NewHandler(authSvc, validator, services.SchemaLogin, logger),
		Engine:         &handlers.EngineHandler{Engine: eng, Ledger: ledgerSvc, Validator: validator, Logger: logger},
		Treasury:       &handlers.TreasuryHandler{Oversight: oversight, Logger: logger},
		Feedback:       &handlers.FeedbackHandler{Sink: sink, Validator: validator, Logger: logger},
		Tokens:         authSvc,
		Guard:          guard,
		Validator:      validator,
		FeedbackSecret: cfg.Server.FeedbackSecret,
	})
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           withCORS(api, cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	housekeeping := newHousekeeping(ctx, cfg, eng, oversight, logger)
	housekeeping.Start()

	if cfg.Engine.Autostart {
		eng.Start()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if riverClient != nil {
		g.Go(func() error {
			if err := riverClient.Start(gctx); err != nil {
				return fmt.Errorf("start river: %w", err)
			}
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return riverClient.Stop(stopCtx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		<-housekeeping.Stop().Done()
		eng.Close()
		return err
	})
	return g.Wait()
}

func openPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cannot reach PostgreSQL: %w", err)
	}
	slog.Info("Connected to PostgreSQL database successfully!")
	return pool, nil
}

func newRiverClient(ctx context.Context, pool *pgxpool.Pool, l feedback.StatusUpdater, logger *slog.Logger) (*river.Client[pgx.Tx], error) {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return nil, fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return nil, fmt.Errorf("river migrate up: %w", err)
	}
	slog.Info("River migrations applied")

	workers := river.NewWorkers()
	river.AddWorker(workers, feedback.NewWorker(l, logger))

	return river.NewClient(riverpgxv5.New(pool), &river.Config{
		Logger: logger,
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 4},
		},
		Workers: workers,
	})
}

// newHousekeeping schedules the heartbeat and the oversight expiry sweep.
func newHousekeeping(ctx context.Context, cfg *config.Config, eng *engine.Engine, oversight *treasury.Registry, logger *slog.Logger) *cron.Cron {
	cl := engine.CronLogger(logger)
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	heartbeat := health.NewReporter(cfg.Health.HeartbeatURL, eng.Status, logger)
	c.Schedule(cron.Every(cfg.Health.Interval.Duration), cron.FuncJob(func() {
		hbCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if err := heartbeat.Report(hbCtx); err != nil {
			logger.Warn("heartbeat failed", "error", err)
		}
	}))
	c.Schedule(cron.Every(time.Minute), cron.FuncJob(func() {
		oversight.ExpireStale(time.Now())
	}))
	return c
}

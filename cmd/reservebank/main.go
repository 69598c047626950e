package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"ReserveBank/internal/config"
	"ReserveBank/internal/core"
	"ReserveBank/internal/ingestion"
	"ReserveBank/internal/observability"
	"ReserveBank/internal/persistence"
	"ReserveBank/internal/projection"
	"ReserveBank/internal/query"
	"ReserveBank/internal/server"
	"ReserveBank/internal/storage"
	"ReserveBank/migrations"
)

const consumerName = "reservebank-ledger"

func main() {
	logger := observability.NewLogger("main")
	logger.Info().Msg("ReserveBank starting")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	// --- Context with graceful shutdown ---
	// ctx stops the front ends; the persistence worker outlives it so it can
	// flush what they handed over.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()

	// --- Postgres (event log, projections, idempotency tier 2) ---
	var db *sql.DB
	if cfg.PostgresURL != "" {
		db = openPostgres(ctx, cfg, logger)
		defer db.Close()
		healthChecker.AddCheck("postgres", db.PingContext)
	} else {
		logger.Warn().Msg("no postgres dsn: running without event log or projections")
	}

	// --- State store ---
	store := openStore(ctx, cfg, db, logger)
	defer store.Close()
	healthChecker.AddCheck("store", store.Ping)

	snap, err := storage.LoadState(ctx, store)
	if err != nil {
		logger.Fatal().Err(err).Msg("load state")
	}

	// --- Channels ---
	// The persist channel blocks (backpressure), the notify channel drops.
	persistChan := make(chan core.Output, cfg.PersistChanSize)
	notifyChan := make(chan core.Output, cfg.NotifyChanSize)

	// --- Deterministic core ---
	opts := core.Options{
		PersistChan: persistChan,
		NotifyChan:  notifyChan,
		LRUCapacity: cfg.IdempotencyLRUCapacity,
		Metrics:     metrics,
	}
	var (
		eventLog  *persistence.EventLogWriter
		dbChecker *persistence.PostgresIdempotencyChecker
	)
	if db != nil {
		eventLog = persistence.NewEventLogWriter(db)
		dbChecker = persistence.NewPostgresIdempotencyChecker(db)
		opts.DBChecker = dbChecker
	}
	engine := core.NewEngine(opts)
	healthChecker.AddCheck("ledger", func(context.Context) error {
		if !engine.Initialized() {
			return core.ErrNotInitialized
		}
		return nil
	})

	// --- Persistence worker ---
	// Started before recovery: replay and genesis both emit outputs.
	workerCfg := persistence.WorkerConfig{
		Store:        store,
		Backend:      cfg.StoreBackend,
		Input:        persistChan,
		BatchSize:    cfg.PersistBatchSize,
		FlushTimeout: cfg.PersistFlushTimeout,
		Metrics:      metrics,
	}
	if eventLog != nil {
		workerCfg.Sink = eventLog
	}
	persistWorker := persistence.NewWorker(workerCfg)
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		persistWorker.Run(workerCtx)
	}()

	// --- Recovery ---
	restoreLedger(ctx, cfg, engine, snap, eventLog, dbChecker, logger)

	// --- Fan-out of notifications ---
	var projectionChan, publishChan chan core.Output
	if db != nil {
		projectionChan = make(chan core.Output, cfg.ProjectionChanSize)
	}
	if cfg.NATSURL != "" {
		publishChan = make(chan core.Output, cfg.PublishChanSize)
	}

	var frontEnds sync.WaitGroup
	errChan := make(chan error, 10)
	spawn := func(name string, run func(context.Context) error) {
		frontEnds.Add(1)
		go func() {
			defer frontEnds.Done()
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	spawn("fanout", func(ctx context.Context) error {
		fanOut(ctx, notifyChan, metrics, projectionChan, publishChan)
		return nil
	})
	spawn("channel-metrics", func(ctx context.Context) error {
		reportChannels(ctx, metrics, map[string]chan core.Output{
			"persist":    persistChan,
			"notify":     notifyChan,
			"projection": projectionChan,
			"publish":    publishChan,
		})
		return nil
	})

	// --- Projections ---
	queryOpts := query.Options{
		Symbol:   cfg.TokenSymbol,
		Decimals: cfg.TokenDecimals,
		Metrics:  metrics,
	}
	if db != nil {
		projWorker := projection.NewWorker(db, projectionChan, engine, metrics)
		spawn("projection", projWorker.Run)
		queryOpts.Loans = projection.NewReader(db)
	}

	// --- NATS: notification sink and command ingestion ---
	var subscriber *ingestion.CommandSubscriber
	if cfg.NATSURL != "" {
		nc, js, err := ingestion.ConnectNATS(cfg.NATSURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()
		healthChecker.AddCheck("nats", func(context.Context) error {
			if nc.Status() != nats.CONNECTED {
				return fmt.Errorf("nats %s", nc.Status())
			}
			return nil
		})

		if err := ingestion.EnsureStreams(ctx, js); err != nil {
			logger.Fatal().Err(err).Msg("ensure streams")
		}

		breaker := ingestion.BreakerSettings{
			ConsecutiveFailures: cfg.BreakerFailures,
			OpenTimeout:         cfg.BreakerOpenTimeout,
			HalfOpenRequests:    1,
		}
		publisher := ingestion.NewPublisher(js, publishChan, breaker, metrics)
		spawn("publisher", publisher.Run)

		subscriber = ingestion.NewCommandSubscriber(js, engine, 0, metrics)
		if err := subscriber.Subscribe(ctx, consumerName); err != nil {
			logger.Fatal().Err(err).Msg("nats subscribe")
		}
		spawn("subscriber", subscriber.Run)
	} else {
		logger.Warn().Msg("no nats url: command ingestion and notifications disabled")
	}

	// --- gRPC + HTTP ---
	srv, err := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		Engine:        engine,
		Query:         query.NewService(engine, queryOpts),
		HealthChecker: healthChecker,
		Metrics:       metrics,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("build server")
	}
	spawn("grpc", srv.StartGRPC)
	spawn("http", srv.StartHTTPGateway)
	spawn("metrics", func(ctx context.Context) error {
		return serveMetrics(ctx, cfg.MetricsAddr, logger)
	})

	// Mark service as ready after all goroutines started
	healthChecker.SetReady(true)
	srv.SetServing(true)

	logger.Info().
		Int64("sequence", engine.Sequence()).
		Str("store", cfg.StoreBackend).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("ReserveBank ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop intake, wait for in-flight operations, then let the worker flush.
	healthChecker.SetReady(false)
	if subscriber != nil {
		subscriber.Stop()
	}
	cancel()
	frontEnds.Wait()

	stopWorker()
	select {
	case <-workerDone:
		logger.Info().Int64("sequence", engine.Sequence()).Msg("persistence flushed")
	case <-time.After(30 * time.Second):
		logger.Error().Msg("persistence worker did not finish in time")
	}

	logger.Info().Msg("ReserveBank shutdown complete")
}

func openPostgres(ctx context.Context, cfg config.Config, logger zerolog.Logger) *sql.DB {
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	logger.Info().Msg("Postgres connected")

	var fsys fs.FS = migrations.FS
	if cfg.MigrationsDir != "" {
		fsys = os.DirFS(cfg.MigrationsDir)
	}
	applied, err := persistence.NewMigrator(db, fsys).Up(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}
	logger.Info().Int("applied", applied).Msg("migrations up to date")
	return db
}

func openStore(ctx context.Context, cfg config.Config, db *sql.DB, logger zerolog.Logger) storage.Store {
	switch cfg.StoreBackend {
	case config.StoreRedis:
		client, err := storage.ConnectRedis(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connect")
		}
		logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis connected")
		return storage.NewRedisStore(client, cfg.RedisPrefix)
	case config.StorePostgres:
		return storage.NewPostgresStore(db)
	default:
		return storage.NewMemoryStore()
	}
}

// restoreLedger brings the engine to the head of the durable history: restore the
// stored state, replay whatever the event log holds beyond it, and run
// genesis only when neither has anything.
func restoreLedger(
	ctx context.Context,
	cfg config.Config,
	engine *core.Engine,
	snap *core.Snapshot,
	eventLog *persistence.EventLogWriter,
	dbChecker *persistence.PostgresIdempotencyChecker,
	logger zerolog.Logger,
) {
	if snap != nil {
		var recentKeys []string
		if dbChecker != nil {
			keys, err := dbChecker.RecentKeys(ctx, cfg.IdempotencyLRUCapacity)
			if err != nil {
				logger.Warn().Err(err).Msg("could not warm idempotency cache")
			}
			recentKeys = keys
		}
		if err := engine.Restore(snap, recentKeys); err != nil {
			logger.Fatal().Err(err).Msg("restore state")
		}
		if snap.Owner != cfg.OwnerAccount() || snap.Endowment != cfg.EndowmentAmount() {
			logger.Warn().Str("owner", snap.Owner.String()).Str("endowment", snap.Endowment.String()).
				Msg("stored ledger differs from configured owner/endowment; keeping stored")
		}
		logger.Info().Int64("sequence", snap.Sequence).Int("warm_keys", len(recentKeys)).Msg("state restored")
	}

	if eventLog != nil {
		replayed, err := persistence.CatchUp(ctx, eventLog, engine)
		if err != nil {
			logger.Fatal().Err(err).Msg("event log replay")
		}
		if replayed > 0 {
			logger.Info().Int("events", replayed).Int64("sequence", engine.Sequence()).Msg("replayed event log")
		}
	}

	if engine.Sequence() == 0 {
		if _, err := engine.Genesis(cfg.OwnerAccount(), cfg.EndowmentAmount()); err != nil {
			logger.Fatal().Err(err).Msg("genesis")
		}
		logger.Info().Str("owner", cfg.Owner).Str("endowment", cfg.Endowment).Msg("genesis applied")
	}
}

// fanOut copies each notification to the projection and publisher inputs
// with non-blocking sends. A nil output is skipped.
func fanOut(ctx context.Context, in <-chan core.Output, metrics *observability.Metrics, outs ...chan core.Output) {
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-in:
			for _, ch := range outs {
				if ch == nil {
					continue
				}
				select {
				case ch <- out:
				default:
					metrics.NotifyDrops.Inc()
				}
			}
		}
	}
}

func reportChannels(ctx context.Context, metrics *observability.Metrics, channels map[string]chan core.Output) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, ch := range channels {
				if ch != nil {
					metrics.SetChannelMetrics(name, len(ch), cap(ch))
				}
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		metricsServer.Shutdown(shutCtx)
	}()
	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

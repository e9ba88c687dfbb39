package main

import (
	"PerpLiquidator/internal/cache"
	"PerpLiquidator/internal/config"
	"PerpLiquidator/internal/core"
	"PerpLiquidator/internal/ingestion"
	"PerpLiquidator/internal/observability"
	"PerpLiquidator/internal/persistence"
	"PerpLiquidator/internal/projection"
	"PerpLiquidator/internal/query"
	"PerpLiquidator/internal/server"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Recover state and serve the liquidation API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if f, _ := cmd.Flags().GetString("bootstrap"); f != "" {
				cfg.BootstrapFile = f
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().String("bootstrap", "", "bootstrap YAML (overrides PERP_BOOTSTRAP_FILE)")
	return cmd
}

func openDB(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := observability.NewLogger("main")
	logger.Info().Str("node_id", cfg.NodeID).Msg("liquidator starting")

	// --- Bootstrap file is validated before touching any dependency ---
	var bootstrap *config.Bootstrap
	if cfg.BootstrapFile != "" {
		b, err := config.LoadBootstrap(cfg.BootstrapFile)
		if err != nil {
			return err
		}
		bootstrap = b
	}

	// --- Postgres ---
	db, err := openDB(ctx, cfg.PostgresURL)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info().Msg("Postgres connected")

	applied, err := persistence.NewMigrator(db, cfg.MigrationsDir).Up(ctx)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info().Int("applied", applied).Msg("migrations up to date")

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	health := observability.NewHealthChecker()
	health.AddCheck("postgres", db.PingContext)

	// --- Channels ---
	// The persist channel blocks the engine when full; projection drops
	persistChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)

	// --- Engine + recovery ---
	// Replay runs without the durable dedup tier: every logged key is
	// re-marked in memory as it is replayed.
	engine := core.NewEngine(0, persistChan, projectionChan, nil, metrics)
	snapshots := persistence.NewSnapshotManager(db, metrics)

	recovery, err := persistence.Recover(ctx, snapshots, engine, metrics, logger)
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	engine.SetDBIdempotencyChecker(persistence.NewPostgresIdempotencyChecker(db))

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, "liquidator-"+cfg.NodeID)
	if err != nil {
		return err
	}
	defer nc.Close()
	health.AddCheck("nats", func(context.Context) error {
		if !nc.IsConnected() {
			return errors.New("not connected")
		}
		return nil
	})
	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		return fmt.Errorf("ensure NATS streams: %w", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		return fmt.Errorf("ensure outbound stream: %w", err)
	}

	// --- Redis fee tier mirror (optional) ---
	var feeTiers *cache.FeeTierStore
	if cfg.RedisURL != "" {
		rdb, err := cache.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		health.AddCheck("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		feeTiers = cache.NewFeeTierStore(rdb, "")
	}

	// --- Workers ---
	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics)
	publisher := ingestion.NewOutboundPublisher(js, cfg.PublishChanSize, metrics)
	persistWorker.OnCommit(publisher.Enqueue)
	if feeTiers != nil {
		persistWorker.OnCommit(feeTiers.OnCommit)
	}
	projWorker := projection.NewProjectionWorker(db, projectionChan, metrics)

	rawChan := make(chan ingestion.RawMessage, 4096)
	subscriber := ingestion.NewNATSSubscriber(js, rawChan)
	dispatcher := ingestion.NewDispatcher(engine, ingestion.DefaultSubjects(), metrics)

	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		Engine:    engine,
		DB:        db,
		Queries:   query.NewQueryService(db),
		Snapshots: snapshots,
		Injector:  ingestion.NewInjector(dispatcher),
		FeeTiers:  feeTiers,
		Metrics:   metrics,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return persistWorker.Run(gctx) })
	g.Go(func() error { return projWorker.Run(gctx) })
	g.Go(func() error { return publisher.Run(gctx) })

	// Bootstrap events go through the engine once the persistence worker
	// drains the channel. Their keys are stable, so a restart skips them.
	if bootstrap != nil {
		if err := applyBootstrap(engine, bootstrap, logger); err != nil {
			cancel()
			g.Wait()
			return err
		}
	}

	if err := subscriber.Subscribe(gctx, ingestion.DefaultSubjects()); err != nil {
		cancel()
		g.Wait()
		return fmt.Errorf("nats subscribe: %w", err)
	}
	g.Go(func() error { return dispatcher.Run(gctx, rawChan) })
	g.Go(func() error {
		return snapshots.RunPeriodic(gctx, engine, cfg.SnapshotInterval, 10*time.Second)
	})
	g.Go(func() error { return grpcServer.StartGRPC(gctx) })
	g.Go(func() error { return grpcServer.StartHTTPGateway(gctx) })
	g.Go(func() error {
		return server.ServeOps(gctx, cfg.OpsAddr, server.OpsRouter(engine, health, prometheus.DefaultGatherer, nil))
	})
	g.Go(func() error {
		monitorChannels(gctx, metrics, persistChan, projectionChan)
		return nil
	})

	health.SetReady(true)
	grpcServer.SetServing(true)
	logger.Info().
		Int64("snapshot_sequence", recovery.SnapshotSequence).
		Int64("replayed", recovery.Replayed).
		Int64("sequence", engine.GetSequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("ops", cfg.OpsAddr).
		Msg("liquidator ready")

	err = g.Wait()
	health.SetReady(false)
	subscriber.Stop()

	// Final snapshot so the next start replays as little as possible
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if seq, serr := snapshots.TakeSnapshot(shutdownCtx, engine); serr != nil {
		logger.Error().Err(serr).Msg("final snapshot failed")
	} else {
		logger.Info().Int64("sequence", seq).Msg("final snapshot saved")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("liquidator shutdown complete")
	return nil
}

func applyBootstrap(engine *core.Engine, b *config.Bootstrap, logger zerolog.Logger) error {
	events, err := b.Events()
	if err != nil {
		return err
	}
	for _, evt := range events {
		if err := engine.ApplyEvent(evt); err != nil {
			return fmt.Errorf("bootstrap %s: %w", evt.EventType(), err)
		}
	}
	logger.Info().
		Int("markets", len(b.Markets)).
		Int("fee_tiers", len(b.FeeTiers)).
		Int("endorsed_keepers", len(b.EndorsedKeepers)).
		Msg("bootstrap applied")
	return nil
}

func monitorChannels(ctx context.Context, metrics *observability.Metrics, persist, projection chan core.CoreOutput) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetChannelMetrics("persist", len(persist), cap(persist))
			metrics.SetChannelMetrics("projection", len(projection), cap(projection))
		}
	}
}

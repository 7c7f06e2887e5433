// Package main runs the launchpad service:
// - HTTP API and WebSocket trade stream
// - graduation follow-up consumer (in-process queue or RabbitMQ)
// - scheduled graduation reconcile and candle aggregation
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"agent-launchpad/internal/api"
	"agent-launchpad/internal/cache"
	"agent-launchpad/internal/clock"
	"agent-launchpad/internal/config"
	"agent-launchpad/internal/cron"
	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/fx"
	"agent-launchpad/internal/graduation"
	"agent-launchpad/internal/logger"
	"agent-launchpad/internal/registry"
	"agent-launchpad/internal/retry"
	"agent-launchpad/internal/settlement"
	"agent-launchpad/internal/stream"
	"agent-launchpad/internal/vesting"
)

// Server holds all components of the service.
type Server struct {
	cfg    config.Config
	stores *allStores
	logger *zap.Logger

	httpServer *http.Server
	hub        *stream.Hub
	consumer   graduation.Consumer
	followUp   *graduation.FollowUpWorker
	reconciler *graduation.Reconciler
	candleJob  *fx.CandleJob
	closers    []func() error
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the YAML config file")
	envOnly := flag.Bool("env-only", false, "Skip the config file and read LP_* environment variables only")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage regardless of storage.backend")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envOnly)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if cfg.App.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())

	stores, cleanup, err := createStores(ctx, cfg.Storage, *useMemory, log)
	if err != nil {
		log.Fatal("failed to create stores", zap.Error(err))
	}
	defer cleanup()

	server, err := newServer(ctx, cfg, stores, log)
	if err != nil {
		log.Fatal("failed to build server", zap.Error(err))
	}
	defer server.close()

	// Channel to signal completion
	done := make(chan struct{})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()

		// A second signal forces exit.
		select {
		case sig := <-sigCh:
			log.Warn("received second signal, forcing exit", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Error("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = server.Run(ctx)
	close(done)
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

// newServer wires services over stores.
func newServer(ctx context.Context, cfg config.Config, stores *allStores, log *zap.Logger) (*Server, error) {
	clk := clock.System{}
	s := &Server{cfg: cfg, stores: stores, logger: log}

	policy := retry.Policy{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
		Multiplier:      cfg.Retry.Multiplier,
	}
	ledger := retry.NewLedger(stores.ledger, policy, log.Named("retry"))
	vestingLedger := retry.NewVestingLedger(stores.vestingTx, policy, log.Named("retry"))

	var backend cache.Backend = cache.NewMemoryBackend(clk)
	if cfg.Redis.Enabled {
		redisBackend, err := cache.NewRedisBackend(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, redisBackend.Close)
		backend = redisBackend
	}

	provider, err := fx.NewStaticProvider(cfg.StaticFXRate(), clk)
	if err != nil {
		return nil, err
	}
	fxSource, err := fx.NewSnapshotSource(fx.SnapshotOptions{
		Pair:     cfg.FX.Pair,
		Interval: cfg.FX.BucketInterval,
		Provider: provider,
		Store:    stores.fxSnapshots,
		Cache:    cache.NewReadThrough[domain.FXSnapshot](backend, "launchpad:fx:", cfg.Cache.FXTTL, log.Named("cache")),
		Logger:   log.Named("fx"),
	})
	if err != nil {
		return nil, err
	}

	var publishers graduation.Fanout
	if cfg.Stream.Enabled {
		s.hub = stream.NewHub(stream.HubConfig{BufferSize: cfg.Stream.BufferSize}, log.Named("stream"))
		publishers = append(publishers, s.hub)
	}
	if cfg.RabbitMQ.Enabled {
		queue, err := graduation.NewRabbitMQQueue(graduation.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Queue:    cfg.RabbitMQ.Queue,
			Prefetch: cfg.RabbitMQ.Prefetch,
		}, log.Named("rabbitmq"))
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, queue.Close)
		s.consumer = queue
		publishers = append(publishers, queue)
	} else {
		queue := graduation.NewChannelQueue(0, log.Named("queue"))
		s.consumer = queue
		publishers = append(publishers, queue)
	}

	gradService, err := graduation.New(graduation.Options{
		Ledger:      ledger,
		Agents:      stores.agents,
		States:      stores.states,
		Graduations: stores.graduations,
		Policies:    stores.policies,
		FX:          fxSource,
		PolicyCache: cache.NewReadThrough[domain.GraduationPolicy](backend, "launchpad:policy:", cfg.Cache.PolicyTTL, log.Named("cache")),
		Publisher:   publishers,
		Clock:       clk,
		Logger:      log.Named("graduation"),
	})
	if err != nil {
		return nil, err
	}

	vestingService, err := vesting.New(vesting.Options{
		Ledger:            vestingLedger,
		Store:             stores.vesting,
		Clock:             clk,
		Logger:            log.Named("vesting"),
		ValidateAddresses: cfg.Settlement.ValidateAddresses,
	})
	if err != nil {
		return nil, err
	}

	opts := settlement.Options{
		Ledger:            ledger,
		Agents:            stores.agents,
		States:            stores.states,
		Holders:           stores.holders,
		Graduations:       stores.graduations,
		FX:                fxSource,
		Graduation:        gradService,
		Clock:             clk,
		Logger:            log.Named("settlement"),
		ValidateAddresses: cfg.Settlement.ValidateAddresses,
	}
	if s.hub != nil {
		opts.Notifier = s.hub
	}
	settlementService, err := settlement.New(opts)
	if err != nil {
		return nil, err
	}

	reg, err := registry.New(registry.Options{
		Agents:            stores.agents,
		Policies:          stores.policies,
		Vesting:           vestingService,
		Clock:             clk,
		Logger:            log.Named("registry"),
		ValidateAddresses: cfg.Settlement.ValidateAddresses,
	})
	if err != nil {
		return nil, err
	}

	s.followUp = graduation.NewFollowUpWorker(
		graduation.FollowUpConfig{
			RewardPoolBps:         cfg.Graduation.RewardPoolBps,
			RewardVestingDuration: cfg.Graduation.RewardVestingDuration,
		},
		stores.agents,
		stores.graduations,
		stores.holders,
		vestingService,
		graduation.NopMigrator{},
		log.Named("followup"),
	)
	s.reconciler = graduation.NewReconciler(gradService, log.Named("reconciler"))

	intervals := make([]time.Duration, 0, len(cfg.Cron.CandleIntervals))
	for _, iv := range cfg.Cron.CandleIntervals {
		intervals = append(intervals, time.Duration(iv)*time.Second)
	}
	s.candleJob = fx.NewCandleJob(stores.agents, stores.trades, stores.candles, intervals, clk, log.Named("candles"))

	apiOpts := api.Options{
		Settlement:  settlementService,
		Graduation:  gradService,
		Vesting:     vestingService,
		Registry:    reg,
		Agents:      stores.agents,
		States:      stores.states,
		Holders:     stores.holders,
		Trades:      stores.trades,
		Candles:     stores.candles,
		DisplayUnit: fx.UnitFor(cfg.FX.DisplayUnit),
		Logger:      log.Named("http"),
	}
	if s.hub != nil {
		apiOpts.Stream = s.hub
	}
	if stores.ping != nil {
		apiOpts.Ready = func(c *gin.Context) error { return stores.ping(c.Request.Context()) }
	}
	handler, err := api.New(apiOpts)
	if err != nil {
		return nil, err
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s, nil
}

// Run serves until ctx is cancelled or the HTTP server fails.
func (s *Server) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	workers := s.cfg.Graduation.FollowUpWorkers
	if s.cfg.RabbitMQ.Enabled {
		workers = s.cfg.RabbitMQ.Workers
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.consumer.Consume(ctx, workers, s.followUp.Handle); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("graduation consumer: %w", err)
		}
	}()

	var runner *cron.Runner
	if s.cfg.Cron.Enabled {
		runner = cron.New(s.logger.Named("cron"), ctx)
		if _, err := runner.Add("graduation-reconcile", s.cfg.Cron.Reconcile, s.reconciler.Run); err != nil {
			return err
		}
		if _, err := runner.Add("candles", s.cfg.Cron.Candles, s.candleJob.Run); err != nil {
			return err
		}
		runner.Start()
	}

	go func() {
		s.logger.Info("starting http server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
	if s.hub != nil {
		s.hub.Close()
	}
	if runner != nil {
		runner.Stop()
	}
	if runErr != nil {
		return runErr
	}
	wg.Wait()
	return ctx.Err()
}

func (s *Server) close() {
	for _, c := range s.closers {
		if err := c(); err != nil {
			s.logger.Warn("close", zap.Error(err))
		}
	}
}

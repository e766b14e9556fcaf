package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/example/creator-ledger/internal/api"
	"github.com/example/creator-ledger/internal/config"
	"github.com/example/creator-ledger/internal/earnings"
	"github.com/example/creator-ledger/internal/engine"
	"github.com/example/creator-ledger/internal/events"
	"github.com/example/creator-ledger/internal/security"
	"github.com/example/creator-ledger/pkg/audit"
)

func main() {
	configFile := flag.String("config", "", "optional config file; environment variables take precedence")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(*configFile, logger); err != nil {
		logger.Error("ledgerd exited", "error", err)
		os.Exit(1)
	}
}

func run(configFile string, logger *slog.Logger) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	allowlist, err := security.ParseCIDRAllowlist(cfg.WebhookIPAllowlist)
	if err != nil {
		return err
	}

	var limiter *security.RedisTokenBucket
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not reachable at startup; webhook intake will answer 503 until it is", "error", err)
		}
		limiter = &security.RedisTokenBucket{
			Redis:      rdb,
			Prefix:     "ledgerd:webhook",
			Capacity:   cfg.RateLimitCapacity,
			RefillRate: cfg.RateLimitRefillPerSec,
		}
	}

	auditor := audit.NewChainLogger(0, logger.With("component", "audit"))

	eng := engine.New(store, engine.Options{
		PlatformAccountID: cfg.PlatformAccountID,
		StoreTimeout:      cfg.StoreTimeout,
		Logger:            logger,
		Audit:             auditor,
	})

	router, err := api.NewRouter(api.Dependencies{
		Logger:             logger,
		Engine:             eng,
		Earnings:           earnings.NewAggregator(store),
		Store:              store,
		Decoder:            events.NewDecoder(),
		Audit:              auditor,
		RateLimiter:        limiter,
		IPAllowlist:        allowlist,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		MaxBodyBytes:       cfg.MaxBodyBytes,
		DefaultCurrency:    cfg.DefaultCurrency,
	})
	if err != nil {
		return err
	}

	tlsCfg, err := security.LoadServerTLSConfig(cfg.TLS)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		TLSConfig:         tlsCfg,
	}

	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(1024*1024),
		grpc.MaxSendMsgSize(1024*1024),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	go watchHealth(ctx, store, hs, 10*time.Second, logger)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("grpc health server listening", "addr", cfg.GRPCAddr)
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		logger.Info("ledgerd listening", "addr", cfg.HTTPAddr, "tls", tlsCfg != nil, "store", cfg.StoreDriver())
		var err error
		if tlsCfg != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errCh:
		if err != nil {
			logger.Error("server error", "error", err)
		}
	}

	hs.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()

	return err
}

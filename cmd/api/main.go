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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/zhouzirui/pairchat/backend/internal/auth"
	"github.com/zhouzirui/pairchat/backend/internal/config"
	"github.com/zhouzirui/pairchat/backend/internal/handler"
	"github.com/zhouzirui/pairchat/backend/internal/logging"
	"github.com/zhouzirui/pairchat/backend/internal/metrics"
	"github.com/zhouzirui/pairchat/backend/internal/service/delivery"
	"github.com/zhouzirui/pairchat/backend/internal/service/room"
	"github.com/zhouzirui/pairchat/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 加载 .env 文件，缺失时仅使用系统环境变量
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if envErr != nil {
		log.Debug("no .env file loaded, using process environment", zap.Error(envErr))
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st, err := store.Open(ctx, cfg.Store, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("close store", zap.Error(err))
		}
	}()

	provider, err := auth.NewProvider(cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	local := room.NewRegistry(log, m)
	var rooms room.Broadcaster = local
	if cfg.Redis.Enabled() {
		client, err := room.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer client.Close()

		redisRooms := room.NewRedisRegistry(ctx, client, local, cfg.Redis.ChannelPrefix, log, m)
		defer redisRooms.Close()
		go func() {
			if err := redisRooms.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("redis room consumer stopped", zap.Error(err))
			}
		}()
		rooms = redisRooms
		log.Info("cross-instance fan-out enabled", zap.String("prefix", cfg.Redis.ChannelPrefix))
	}

	router := handler.NewRouter(handler.Deps{
		Config:   cfg,
		Store:    st,
		Tracker:  delivery.NewTracker(st, log, m),
		Rooms:    rooms,
		Auth:     provider,
		Logger:   log,
		Metrics:  m,
		Gatherer: reg,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info("pairchat relay listening",
		zap.String("addr", cfg.Server.Addr),
		zap.String("store", cfg.Store.Driver),
		zap.String("auth", cfg.Auth.Mode),
	)
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

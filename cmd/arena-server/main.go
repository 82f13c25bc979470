package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/park285/rps-arena/internal/alert"
	appcfg "github.com/park285/rps-arena/internal/config"
	"github.com/park285/rps-arena/internal/coordinator"
	"github.com/park285/rps-arena/internal/match"
	"github.com/park285/rps-arena/internal/metrics"
	"github.com/park285/rps-arena/internal/msgcat"
	"github.com/park285/rps-arena/internal/obslog"
	"github.com/park285/rps-arena/internal/store"
	"github.com/park285/rps-arena/internal/wsserver"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, err := openGateway(ctx, cfg)
	if err != nil {
		logger.Fatal("store init error", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}
	defer func() { _ = gw.Close() }()

	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("message catalog error", zap.Error(err))
	}

	var alerter alert.Alerter = alert.Log{}
	if cfg.AlertWebhookURL != "" {
		alerter = alert.Multi{alert.Log{}, alert.NewWebhook(cfg.AlertWebhookURL)}
	}

	mux := http.NewServeMux()
	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg)
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	coord := coordinator.New(coordinator.Options{
		Gateway: gw,
		Catalog: catalog,
		Metrics: m,
		Alerter: alerter,
		Policy:  cfg.Policy,
		Retry: match.RetryPolicy{
			Attempts:  cfg.PersistAttempts,
			BaseDelay: cfg.PersistBaseDelay,
			MaxDelay:  cfg.PersistMaxDelay,
		},
		ForfeitAfter: cfg.ForfeitAfter,
	})
	ws := wsserver.New(coord, wsserver.Options{
		OriginPatterns: cfg.AllowedOrigins,
		Metrics:        m,
	})
	mux.Handle(cfg.WSPath, ws)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("arena_listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("ws_path", cfg.WSPath),
			zap.String("backend", cfg.StoreBackend),
			zap.Int("rounds", cfg.Policy.Rounds),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("arena_shutdown")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(sctx)
	if err := coord.Shutdown(sctx); err != nil {
		logger.Warn("match shutdown incomplete", zap.Error(err))
	}
	if err := ws.Close(sctx); err != nil {
		logger.Warn("websocket shutdown incomplete", zap.Error(err))
	}
}

func openGateway(ctx context.Context, cfg *appcfg.AppConfig) (store.Gateway, error) {
	switch cfg.StoreBackend {
	case appcfg.BackendPostgres:
		pg, err := store.NewPostgresGateway(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		return pg, nil
	case appcfg.BackendRedis:
		rg, err := store.NewRedisGateway(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return rg, nil
	default:
		obslog.L().Warn("using in-memory store; results are lost on restart")
		return store.NewMemoryGateway(), nil
	}
}

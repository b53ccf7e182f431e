package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signalcore/internal/core/ports"
	"signalcore/internal/core/services"
	"signalcore/internal/infrastructure/adminhttp"
	"signalcore/internal/infrastructure/mediaengine"
	"signalcore/internal/infrastructure/monitoring"
	signalws "signalcore/internal/infrastructure/signal"
	"signalcore/pkg/config"
	"signalcore/pkg/logger"
	"signalcore/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const workerHealthPollInterval = 5 * time.Second

func main() {
	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/signalcore/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Monitoring.TracingEnabled,
		ServiceName: cfg.Monitoring.ServiceName,
		JaegerURL:   cfg.Monitoring.JaegerURL,
		SampleRate:  1.0,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workers, err := buildWorkers(cfg, log)
	if err != nil {
		log.Fatalw("failed to start media workers", "error", err)
	}

	pool := services.NewWorkerPool(log, workers, func(err error) {
		log.Errorw("fatal worker failure, exiting", "error", err)
		os.Exit(1)
	})
	pool.WatchHealth(ctx, workerHealthPollInterval)

	var metrics ports.Metrics
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector()
	}

	codecsJSON, err := json.Marshal(cfg.Router.MediaCodecs)
	if err != nil {
		log.Fatalw("failed to encode media codecs", "error", err)
	}

	registry := services.NewRoomRegistry(log, pool, codecsJSON, metrics)

	dispatcher := services.NewDispatcher(
		log,
		registry,
		ports.TransportOptions{
			EnableUDP:                       true,
			EnableTCP:                       true,
			PreferUDP:                       true,
			InitialAvailableOutgoingBitrate: cfg.Router.InitialAvailableOutgoingBitrate,
		},
		cfg.Router.MinimumAvailableOutgoingBitrate,
		cfg.Signal.EngineCallTimeout,
		metrics,
	)

	wsServer := signalws.NewServer(dispatcher, signalws.Options{
		PingInterval:        cfg.Signal.PingInterval,
		PongTimeout:         cfg.Signal.PongTimeout,
		WriteTimeout:        cfg.Signal.WriteTimeout,
		EngineCallTimeout:   cfg.Signal.EngineCallTimeout,
		MaxMessageSizeBytes: cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
		RateLimitEnabled:    cfg.RateLimiting.Enabled,
		MessagesPerSecond:   cfg.RateLimiting.WebSocket.MessagesPerSecond,
		Burst:               cfg.RateLimiting.WebSocket.Burst,
		JWTSecret:           cfg.Auth.JWTSecret,
	}, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsServer.HandleWebSocket)
	signalSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Signal.ListenPort),
		Handler: mux,
	}

	go func() {
		log.Infow("signaling server listening", "port", cfg.Signal.ListenPort)
		if err := signalSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("signaling server failed", "error", err)
		}
	}()

	var adminSrv *http.Server
	if cfg.Admin.Enabled {
		health := monitoring.NewHealthChecker()
		health.AddCheck("workers", func(ctx context.Context) (bool, error) {
			if pool.WorkerCount() == 0 {
				return false, fmt.Errorf("no workers running")
			}
			return true, nil
		}, 30*time.Second, 5*time.Second)

		gin.SetMode(gin.ReleaseMode)
		router := gin.New()
		router.Use(gin.Recovery())
		adminhttp.NewServer(registry, pool, health, log).SetupRoutes(router)

		adminSrv = &http.Server{Addr: cfg.Admin.Address, Handler: router}
		go func() {
			log.Infow("admin server listening", "address", cfg.Admin.Address)
			if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorw("admin server failed", "error", err)
			}
		}()
	}

	var promSrv *http.Server
	if cfg.Monitoring.PrometheusEnabled {
		promMux := http.NewServeMux()
		promMux.Handle("/metrics", promhttp.Handler())
		promSrv = &http.Server{Addr: fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort), Handler: promMux}
		go func() {
			log.Infow("metrics server listening", "port", cfg.Monitoring.PrometheusPort)
			if err := promSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorw("metrics server failed", "error", err)
			}
		}()
	}

	<-ctx.Done()
	log.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Signal.ShutdownTimeout)
	defer cancel()

	if err := signalSrv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("signaling server shutdown incomplete", "error", err)
	}
	if adminSrv != nil {
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			log.Warnw("admin server shutdown incomplete", "error", err)
		}
	}
	if promSrv != nil {
		if err := promSrv.Shutdown(shutdownCtx); err != nil {
			log.Warnw("metrics server shutdown incomplete", "error", err)
		}
	}

	pool.Stop()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warnw("tracer shutdown incomplete", "error", err)
	}
}

// buildWorkers starts numWorkers media workers, each with its own even
// slice of the configured UDP port range so their RTP allocations never
// collide.
func buildWorkers(cfg *config.Config, log *zap.SugaredLogger) ([]ports.Worker, error) {
	n := cfg.Worker.NumWorkers
	span := int(cfg.Worker.RTCMaxPort-cfg.Worker.RTCMinPort) + 1
	if span < n {
		return nil, fmt.Errorf("udp port range %d-%d too small for %d workers", cfg.Worker.RTCMinPort, cfg.Worker.RTCMaxPort, n)
	}
	slice := span / n

	workers := make([]ports.Worker, 0, n)
	for i := 0; i < n; i++ {
		minPort := int(cfg.Worker.RTCMinPort) + i*slice
		maxPort := minPort + slice - 1
		if i == n-1 {
			maxPort = int(cfg.Worker.RTCMaxPort)
		}
		w, err := mediaengine.NewWorker(log, cfg.Router.ListenIP, cfg.Router.AnnouncedIP, uint16(minPort), uint16(maxPort))
		if err != nil {
			return nil, fmt.Errorf("worker %d: %w", i, err)
		}
		log.Infow("media worker started", "worker_id", w.ID(), "rtc_min_port", minPort, "rtc_max_port", maxPort)
		workers = append(workers, w)
	}
	return workers, nil
}

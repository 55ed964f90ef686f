package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"codejudge/internal/common/cache"
	commonmw "codejudge/internal/common/http/middleware"
	"codejudge/internal/common/mq"
	"codejudge/internal/judge/controller"
	"codejudge/internal/judge/health"
	"codejudge/internal/judge/problem"
	"codejudge/internal/judge/repository"
	"codejudge/internal/judge/sandbox/engine"
	"codejudge/internal/judge/sandbox/executor"
	"codejudge/internal/judge/sandbox/observer"
	"codejudge/internal/judge/sandbox/profile"
	"codejudge/internal/judge/service"
	"codejudge/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const (
	defaultConfigPath = "configs/judge_service.yaml"
	defaultEnvPath    = ".env"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	envPath := flag.String("env", defaultEnvPath, "Optional .env file loaded before the config")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath, *envPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "judge service exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()

	langs, err := profile.NewLocalRepository(appCfg.Languages, appCfg.Sandbox.DefaultSeccomp)
	if err != nil {
		return fmt.Errorf("init languages failed: %w", err)
	}
	eng, err := engine.New(appCfg.Sandbox.toEngineConfig(), langs)
	if err != nil {
		return fmt.Errorf("init sandbox engine failed: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observer.NewPrometheusRecorder(registry)

	exec := executor.NewExecutorWithObserver(eng, langs, executor.Config{
		WorkRoot: appCfg.Judge.WorkRoot,
		Limits:   appCfg.Limits,
		Grace:    appCfg.Judge.Grace,
	}, metrics)

	statusStore, closeStore, err := buildStatusStore(appCfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var queue *mq.KafkaQueue
	var publisher repository.ReportPublisher
	if len(appCfg.Kafka.Brokers) > 0 {
		queue, err = mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
		if err != nil {
			return fmt.Errorf("init kafka failed: %w", err)
		}
		defer func() {
			_ = queue.Close()
		}()
		publisher = repository.NewMQReportPublisher(queue, appCfg.Kafka.ReportTopic)
	}

	monitor := health.NewMonitor()
	judgeSvc, err := service.NewService(service.Config{
		Executor:       exec,
		Languages:      langs,
		StatusStore:    statusStore,
		Publisher:      publisher,
		Health:         monitor,
		Metrics:        metrics,
		PoolSize:       appCfg.Worker.PoolSize,
		MaxPending:     appCfg.Worker.MaxPending,
		AcquireTimeout: appCfg.Worker.AcquireTimeout,
		StatusTimeout:  appCfg.Status.Timeout,
		MaxSourceBytes: appCfg.Worker.MaxSourceBytes,
		MaxInputBytes:  appCfg.Worker.MaxInputBytes,
		MaxTestCases:   appCfg.Worker.MaxTestCases,
	})
	if err != nil {
		return fmt.Errorf("init judge service failed: %w", err)
	}

	if queue != nil && appCfg.Kafka.SubmissionTopic != "" {
		// Fetching is paced to the number of execution slots.
		fetchLimiter := mq.NewTokenLimiter(appCfg.Worker.PoolSize)
		opts := appCfg.Kafka.subscribeOptions(fetchLimiter)
		if err := queue.Subscribe(ctx, appCfg.Kafka.SubmissionTopic, judgeSvc.HandleMessage, opts); err != nil {
			return fmt.Errorf("subscribe kafka failed: %w", err)
		}
		if err := queue.Start(); err != nil {
			return fmt.Errorf("start kafka consumer failed: %w", err)
		}
		logger.Info(ctx, "kafka intake started", zap.String("topic", appCfg.Kafka.SubmissionTopic))
	}

	var catalog *problem.Catalog
	if appCfg.Problems.CatalogPath != "" {
		catalog, err = problem.LoadFile(appCfg.Problems.CatalogPath)
		if err != nil {
			return fmt.Errorf("load problem catalog failed: %w", err)
		}
	}

	var grpcServer *grpc.Server
	errCh := make(chan error, 2)
	if appCfg.GRPC.Addr != "" {
		grpcListener, err := net.Listen("tcp", appCfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("init grpc listener failed: %w", err)
		}
		grpcServer = grpc.NewServer()
		monitor.Register(grpcServer)
		go func() {
			logger.Info(ctx, "grpc health server started", zap.String("addr", appCfg.GRPC.Addr))
			errCh <- grpcServer.Serve(grpcListener)
		}()
	}

	httpServer := buildHTTPServer(appCfg, judgeSvc, catalog, monitor, registry, metrics)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}
	go func() {
		logger.Info(ctx, "judge http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.String("sandbox", exec.Engine()),
			zap.String("status_store", appCfg.Status.Store),
		)
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	graceCtx, cancel := context.WithTimeout(ctx, appCfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(graceCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	if err := judgeSvc.Shutdown(graceCtx); err != nil {
		logger.Warn(ctx, "submissions still running at shutdown", zap.Error(err))
	}
	monitor.Shutdown()
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	return nil
}

func buildStatusStore(appCfg *AppConfig) (repository.StatusStore, func(), error) {
	if appCfg.Status.Store == storeMemory {
		return repository.NewMemoryStatusRepository(appCfg.Status.TTL), func() {}, nil
	}
	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("init redis failed: %w", err)
	}
	store, err := repository.NewStatusRepository(redisCache, appCfg.Status.TTL)
	if err != nil {
		_ = redisCache.Close()
		return nil, nil, fmt.Errorf("init status repository failed: %w", err)
	}
	return store, func() { _ = redisCache.Close() }, nil
}

func buildHTTPServer(appCfg *AppConfig, svc *service.Service, catalog *problem.Catalog, monitor *health.Monitor, gatherer prometheus.Gatherer, metrics observer.MetricsRecorder) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.AccessLogMiddleware())
	router.Use(commonmw.CORSMiddleware(appCfg.CORS))

	routes := controller.Routes{
		Judge:    controller.NewJudgeController(svc, appCfg.Watch),
		Health:   monitor,
		Gatherer: gatherer,
		API: []gin.HandlerFunc{
			commonmw.RateLimitMiddleware(commonmw.NewIPRateLimiter(appCfg.RateLimit), metrics.ObserveRateLimited),
		},
	}
	if catalog != nil {
		routes.Problems = controller.NewProblemController(catalog, svc)
	}
	routes.Register(router)

	return &http.Server{
		Addr:         appCfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
	}
}

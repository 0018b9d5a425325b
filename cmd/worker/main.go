package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/claudecluster/core/internal/common/config"
	"github.com/claudecluster/core/internal/common/logger"
	"github.com/claudecluster/core/internal/events/bus"
	"github.com/claudecluster/core/internal/model"
	"github.com/claudecluster/core/internal/worker/api"
	"github.com/claudecluster/core/internal/worker/credentials"
	"github.com/claudecluster/core/internal/worker/docker"
	"github.com/claudecluster/core/internal/worker/executor"
	"github.com/claudecluster/core/internal/worker/provider"
	"github.com/claudecluster/core/internal/worker/registry"
	"github.com/claudecluster/core/internal/worker/session"
)

func main() {
	// 1. Load configuration
	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig(cfg.Logging))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting worker", zap.String("worker_id", cfg.WorkerID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Event bus: NATS when configured, in-memory otherwise.
	var eventBus bus.EventBus
	if cfg.DriverURL != "" {
		natsCfg := config.NATSConfig{ClientID: cfg.WorkerID, MaxReconnects: 10}
		natsBus, err := bus.NewNATSEventBus(natsCfg, log)
		if err != nil {
			log.Warn("Failed to connect to NATS, falling back to in-memory event bus", zap.Error(err))
			eventBus = bus.NewMemoryEventBus(log)
		} else {
			defer natsBus.Close()
			eventBus = natsBus
		}
	} else {
		eventBus = bus.NewMemoryEventBus(log)
	}

	// 4. Decide which execution modes this worker actually supports. The
	// container mode needs a reachable Docker daemon; absence of one is not
	// fatal, it just narrows capabilities.
	supportsContainer := false
	var dockerClient *docker.Client
	dockerClient, err = docker.NewClient(cfg.Container.DockerConfig(), log)
	if err != nil {
		log.Warn("Docker client unavailable, container_agentic mode disabled", zap.Error(err))
	} else if pingErr := dockerClient.Ping(ctx); pingErr != nil {
		log.Warn("Docker daemon unreachable, container_agentic mode disabled", zap.Error(pingErr))
		dockerClient = nil
	} else {
		supportsContainer = true
		defer dockerClient.Close()
		log.Info("Connected to Docker daemon")
	}

	// 5. Image registry, credentials manager (required only if container
	// mode is supported).
	var sessionMgr *session.Manager
	if supportsContainer {
		reg := registry.NewRegistry(log)
		reg.LoadDefaults()
		log.Info("Loaded image registry", zap.Int("images", len(reg.List())))

		credsMgr := credentials.NewManager(log)
		credsMgr.AddProvider(credentials.NewEnvProvider("CLAUDECLUSTER_"))

		sessionMgr = session.NewManager(cfg.WorkerID, dockerClient, reg, credsMgr, eventBus, log)
		if err := sessionMgr.Start(ctx); err != nil {
			log.Fatal("Failed to start session manager", zap.Error(err))
		}
		defer sessionMgr.Stop()
		log.Info("Started session manager")
	}

	// 6. Process-pool executor is always available; it has no external
	// dependency beyond the agent binary itself.
	pool := executor.NewPoolExecutor(executor.PoolConfig{
		MaxProcesses:     cfg.ProcessPool.MaxProcesses,
		ProcessTimeout:   cfg.ProcessPool.ProcessTimeout(),
		ClaudeCodePath:   cfg.ProcessPool.AgentCommandPath,
		ReuseProcesses:   cfg.ProcessPool.ReuseProcesses,
	}, log)
	if err := pool.Start(ctx); err != nil {
		log.Fatal("Failed to start process pool", zap.Error(err))
	}
	defer pool.Terminate(context.Background())
	log.Info("Started process pool", zap.Int("max_processes", cfg.ProcessPool.MaxProcesses))

	// 7. Execution Provider, the single mode-routing chokepoint.
	execProvider := provider.New(provider.Config{
		DefaultMode:     model.ExecutionMode(cfg.Execution.DefaultMode),
		SupportsProcess: true,
		SupportsSession: supportsContainer,
	}, pool, sessionMgr, log)

	executionModes := []model.ExecutionMode{model.ModeProcessPool}
	if supportsContainer {
		executionModes = append(executionModes, model.ModeContainerAgentic)
	}
	capabilities := model.Capabilities{
		SupportedCategories:        []model.TaskCategory{model.CategoryCoding, model.CategoryTesting, model.CategoryRefactoring, model.CategoryDocumentation},
		MaxConcurrentTasks:         cfg.Execution.MaxConcurrentTasks,
		SupportsContainerExecution: supportsContainer,
		ExecutionModes:             executionModes,
	}

	// 8. HTTP server.
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	api.SetupRoutes(router, execProvider, sessionMgr, capabilities, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// 9. Wait for shutdown signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down worker...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := execProvider.Cleanup(shutdownCtx); err != nil {
		log.Error("Execution provider cleanup error", zap.Error(err))
	}

	log.Info("Worker stopped")
}

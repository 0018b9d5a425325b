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
	"github.com/claudecluster/core/internal/driver/api"
	"github.com/claudecluster/core/internal/driver/client"
	"github.com/claudecluster/core/internal/driver/progress"
	"github.com/claudecluster/core/internal/driver/queue"
	"github.com/claudecluster/core/internal/driver/registry"
	"github.com/claudecluster/core/internal/driver/scheduler"
	"github.com/claudecluster/core/internal/driver/session"
	"github.com/claudecluster/core/internal/driver/streaming"
	"github.com/claudecluster/core/internal/events/bus"
	"github.com/claudecluster/core/internal/storage/checkpoint"
)

func main() {
	// 1. Load configuration
	cfg, err := config.LoadDriverConfig()
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

	log.Info("Starting driver", zap.String("driver_id", cfg.DriverID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Event bus: NATS when configured, in-memory otherwise.
	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
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

	// 4. Worker registry, task queue, and the per-worker HTTP client pool
	// the scheduler dispatches through.
	workers := registry.NewRegistry(log)
	taskQueue := queue.NewTaskQueue(0, nil)
	clients := client.NewPool(cfg.Execution.TaskTimeout(), log)

	// 5. Driver-side session registry, swept on the worker health-check
	// cadence since both track the same liveness assumptions about workers.
	sessions := session.NewRegistry(workers, clients, cfg.Execution.WorkerHealthCheckInterval(), log)

	// 5a. Checkpoint store: a best-effort durable mirror of task/result/
	// session state, used only to rehydrate after a restart (§5). Defaults
	// to an in-memory no-op when unconfigured.
	checkpointStore, err := checkpoint.NewStore(ctx, cfg.Checkpoint.Driver, checkpoint.Config{
		SQLitePath:  cfg.Checkpoint.Path,
		PostgresDSN: cfg.Checkpoint.DSN(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open checkpoint store: %v\n", err)
		os.Exit(1)
	}
	defer checkpointStore.Close()
	sessions.SetCheckpointStore(checkpointStore)

	snapshot, err := checkpointStore.LoadAll(ctx)
	if err != nil {
		log.Warn("failed to load checkpoint snapshot, starting from empty state", zap.Error(err))
	} else {
		sessions.LoadSessions(snapshot.Sessions)
	}

	sessions.Start(ctx)
	defer sessions.Stop()

	// 6. Progress buffer: mirrors poll updates so GET /tasks/{id}/progress
	// has something to serve between polls.
	progressStore := progress.NewMemoryStore(1000)
	progressHandler := progress.NewHandler(progressStore, log)

	// 7. Scheduler, the dispatch chokepoint.
	sched := scheduler.New(cfg.Scheduler, cfg.Execution, taskQueue, workers, sessions, clients, eventBus, log)
	sched.SetProgressHandler(progressHandler)
	sched.SetCheckpointStore(checkpointStore)
	sched.LoadCheckpoint(snapshot)
	sched.Start(ctx)
	defer sched.Stop()

	// 8. Optional dashboard feed: fans task events out over a websocket,
	// subscribed to the same event bus the scheduler publishes to.
	dashboard := streaming.NewHub(log)
	go dashboard.Run(ctx)
	for _, eventType := range []string{scheduler.EventTaskStarted, scheduler.EventTaskProgress, scheduler.EventTaskCompleted} {
		msgType := progress.MessageTypeLog
		if eventType == scheduler.EventTaskProgress {
			msgType = progress.MessageTypeProgress
		}
		et := eventType
		mt := msgType
		if _, err := eventBus.Subscribe(eventType, func(ctx context.Context, event *bus.Event) error {
			taskID, _ := event.Data["task_id"].(string)
			dashboard.Broadcast(&progress.Message{Type: mt, TaskID: taskID, Timestamp: event.Timestamp, Data: event.Data})
			return nil
		}); err != nil {
			log.Warn("failed to subscribe dashboard hub to event", zap.String("event", et), zap.Error(err))
		}
	}

	// 9. HTTP server.
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(api.RequestLogger(log), api.Recovery(log), api.ErrorHandler(log), api.CORS())
	api.SetupRoutes(router, sched, cfg.DriverID, log, cfg.Server.TaskSubmitRateLimit)
	streaming.SetupRoutes(router, streaming.NewWSHandler(dashboard, log))

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

	// 10. Wait for shutdown signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down driver...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("Driver stopped")
}

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-control-plane/internal/approval"
	"github.com/xela07ax/agent-control-plane/internal/audit"
	"github.com/xela07ax/agent-control-plane/internal/broadcast"
	"github.com/xela07ax/agent-control-plane/internal/connectors"
	"github.com/xela07ax/agent-control-plane/internal/console/handler"
	"github.com/xela07ax/agent-control-plane/internal/console/server"
	"github.com/xela07ax/agent-control-plane/internal/console/service"
	"github.com/xela07ax/agent-control-plane/internal/engine"
	"github.com/xela07ax/agent-control-plane/internal/heartbeat"
	"github.com/xela07ax/agent-control-plane/internal/infra"
	"github.com/xela07ax/agent-control-plane/internal/infra/auth"
	"github.com/xela07ax/agent-control-plane/internal/language"
	"github.com/xela07ax/agent-control-plane/internal/notify"
	"github.com/xela07ax/agent-control-plane/internal/registry"
	"github.com/xela07ax/agent-control-plane/internal/repository/postgres"
	"github.com/xela07ax/agent-control-plane/internal/risk"
	"github.com/xela07ax/agent-control-plane/internal/workload"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	// 2. Инфраструктура и ресурсы
	if cfg.Database.URL == "" {
		logger.Fatal("database.url is required (DATABASE_URL)")
	}
	repo, err := postgres.NewRepo(cfg.Database.URL)
	if err != nil {
		logger.Fatal("postgres init failed", zap.Error(err))
	}
	defer repo.Close()

	// Проверяем соединение с таймаутом
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := repo.Ping(pingCtx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	cancelPing()

	// Redis опционален: без него работает single-instance режим
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis unreachable, continuing without cross-instance relay", zap.Error(err))
			rdb = nil
		}
	}

	// RSA-ключи для RS256
	publicKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("invalid RSA public key", zap.Error(err))
	}
	privateKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("invalid RSA private key", zap.Error(err))
	}

	// Контекст жизненного цикла фоновых горутин: SIGTERM останавливает
	// sweeper-ы, мост событий и pruner
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Метрики и аудит
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	trail := audit.NewTrail(repo, logger, cfg.Engine.AuditBufferSize, cfg.Engine.AuditFlushInterval)
	trail.Start()

	// 4. Realtime Broadcast
	hub := broadcast.NewHub(rdb, metrics, logger, cfg.Broadcast.SendBuffer)
	hub.StartBridge(appCtx)
	hub.StartMaintenance(appCtx, cfg.Broadcast.KeepAliveInterval, cfg.Broadcast.IdleSweepInterval, cfg.Broadcast.IdleTimeout)
	poller := broadcast.NewPoller(repo)

	// 5. Уведомления и Status Registry
	notifier := notify.New(repo, hub, logger)

	var limiter registry.OfflineAlertLimiter
	if rdb != nil {
		limiter = registry.NewRedisAlertLimiter(rdb, logger)
	} else {
		limiter = registry.NewMemoryAlertLimiter()
	}
	statusRegistry := registry.New(repo, hub, notifier, registry.NewAlertEvaluator(limiter), trail, metrics, logger)

	monitor := heartbeat.NewMonitor(statusRegistry, hub, logger)
	monitor.StartPruner(appCtx, cfg.Engine.HeartbeatPruneInterval)

	// 6. Execution Layer (исполнение одобренных действий + надежность)
	var executor engine.ExecutionProvider
	if cfg.Engine.ExecutorEndpoint != "" {
		executor = connectors.NewHTTPAdapter(cfg.Engine.ExecutorEndpoint, cfg.Engine.ExecutorTimeout)
	} else {
		logger.Warn("executor endpoint is not set, using mock executor")
		executor = &connectors.MockExecutor{}
	}
	safeExecutor := engine.NewReliabilityWrapper(executor, engine.ReliabilityConfig{
		CBMaxRequests: cfg.Engine.CBMaxRequests,
		CBInterval:    cfg.Engine.CBInterval,
		CBTimeout:     cfg.Engine.CBTimeout,
		CallTimeout:   cfg.Engine.ExecutorTimeout,
		OnStateChange: func(name string, open bool) {
			var v float64
			if open {
				v = 1
			}
			metrics.CircuitBreakerState.WithLabelValues(name).Set(v)
		},
	})

	// 7. Approval Workflow + sweeper-ы
	workflow := approval.NewWorkflow(repo, notifier, hub, safeExecutor, trail, metrics, logger)

	// 8. Domain-сервисы и HTTP-слой
	var analyzer language.Analyzer
	if cfg.Language.Endpoint != "" {
		analyzer = language.NewHTTPAnalyzer(cfg.Language.Endpoint, cfg.Language.Timeout, logger)
	} else {
		analyzer = &language.MockAnalyzer{}
	}

	suspension := workload.NewSuspensionManager(rdb, logger)
	if err := suspension.Init(appCtx); err != nil {
		logger.Warn("suspension cache warm-up failed", zap.Error(err))
	}
	suspension.StartListener(appCtx)

	assignor := workload.NewAssignor(repo, repo, suspension, logger)
	assessor := risk.NewAssessor(logger)

	taskService := service.NewTaskService(repo, assignor, assessor, workflow, statusRegistry, analyzer, trail, logger)
	workflow.SetExpiryHook(taskService.ResolveApprovalOutcome)
	workflow.StartSweepers(appCtx, engine.NewSweepLock(rdb, logger),
		cfg.Engine.ExpirationSweepInterval, cfg.Engine.EscalationSweepInterval)

	validator := auth.NewRS256Validator(publicKey)
	authService := service.NewAuthService(repo, validator, privateKey)
	agentService := service.NewAgentService(repo, suspension, logger)
	approvalService := service.NewApprovalService(workflow, taskService, repo, logger)
	dashService := service.NewDashboardService(repo, hub, logger)

	srvHandler := server.New(
		cfg,
		logger,
		authService,
		reg,
		handler.NewAuthHandler(authService),
		handler.NewAgentHandler(agentService, statusRegistry),
		handler.NewHeartbeatHandler(monitor),
		handler.NewTaskHandler(taskService),
		handler.NewApprovalHandler(approvalService),
		handler.NewNotificationHandler(notifier),
		handler.NewStreamHandler(hub, poller, logger),
		handler.NewDashboardHandler(dashService),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srvHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("control plane started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	// 9. Graceful Shutdown: HTTP -> фоновые горутины -> дренаж аудита
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown signal received")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}

	cancel()     // Останавливаем sweeper-ы, мост, pruner
	trail.Stop() // Дожидаемся записи хвоста аудита

	logger.Info("control plane stopped")
}

package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xela07ax/agent-control-plane/internal/console/handler"
	"github.com/xela07ax/agent-control-plane/internal/engine"
	"github.com/xela07ax/agent-control-plane/internal/infra"
	"github.com/xela07ax/agent-control-plane/internal/infra/auth"
	"go.uber.org/zap"
)

type Server struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Интерфейс для проверки токенов (RS256)
	// Реализуется через embedding RS256Validator в AuthService
	authValidator auth.TokenValidator

	// Обработчики бизнес-доменов
	authHandler         *handler.AuthHandler         // /auth/token
	agentHandler        *handler.AgentHandler        // /v1/agents (статусы, trust)
	heartbeatHandler    *handler.HeartbeatHandler    // /v1/agents/{id}/heartbeat
	taskHandler         *handler.TaskHandler         // /v1/tasks (конвейер назначения)
	approvalHandler     *handler.ApprovalHandler     // /v1/approvals (HITL)
	notificationHandler *handler.NotificationHandler // /v1/notifications
	streamHandler       *handler.StreamHandler       // /v1/events (SSE + poll)
	dashHandler         *handler.DashboardHandler    // /v1/dashboard
}

// New инициализирует HTTP-сервер контура управления со всеми зависимостями
func New(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	registry *prometheus.Registry,
	authH *handler.AuthHandler,
	agentH *handler.AgentHandler,
	heartbeatH *handler.HeartbeatHandler,
	taskH *handler.TaskHandler,
	approvalH *handler.ApprovalHandler,
	notificationH *handler.NotificationHandler,
	streamH *handler.StreamHandler,
	dashH *handler.DashboardHandler,
) *Server {
	s := &Server{
		router:              chi.NewRouter(),
		logger:              logger.Named("control-plane-api"),
		cfg:                 cfg,
		authValidator:       validator,
		authHandler:         authH,
		agentHandler:        agentH,
		heartbeatHandler:    heartbeatH,
		taskHandler:         taskH,
		approvalHandler:     approvalH,
		notificationHandler: notificationH,
		streamHandler:       streamH,
		dashHandler:         dashH,
	}

	s.routes(registry)
	return s
}

func (s *Server) routes(metricsRegistry *prometheus.Registry) {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(engine.TracingMiddleware)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (Открыты для всех) ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		if metricsRegistry != nil {
			r.Handle("/metrics", promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}))
		}
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		// Подключаем универсальный Middleware только для этой группы
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Dashboard & Stats
		r.Get("/v1/dashboard/stats", s.dashHandler.GetStats)

		// Агенты: регистрация, статусы (State Machine), heartbeat, trust
		r.Route("/v1/agents", func(r chi.Router) {
			r.Get("/", s.agentHandler.List)
			r.Post("/", s.agentHandler.Create)
			r.Get("/statuses", s.agentHandler.Statuses)   // Снапшот всех статусов
			r.Get("/liveness", s.heartbeatHandler.Snapshot) // Liveness всех агентов
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.agentHandler.Get)
				r.Delete("/", s.agentHandler.Deactivate)
				r.Patch("/status", s.agentHandler.UpdateStatus)    // Переход State Machine (+dry_run)
				r.Post("/heartbeat", s.heartbeatHandler.Record)    // Heartbeat + ack
				r.Get("/liveness", s.heartbeatHandler.Liveness)
				r.Put("/trust", s.agentHandler.SetTrust)
			})
		})

		// Задачи: конвейер подбора агента, риска и планирования
		r.Route("/v1/tasks", func(r chi.Router) {
			r.Get("/", s.taskHandler.List)
			r.Post("/", s.taskHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.taskHandler.Get)
				r.Post("/reassign", s.taskHandler.Reassign) // Прежний агент форсируется в idle
			})
		})

		// Human-in-the-loop (Approvals)
		r.Route("/v1/approvals", func(r chi.Router) {
			r.Get("/", s.approvalHandler.List) // Очередь запросов на проверку
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.approvalHandler.GetDetails)
				r.Get("/history", s.approvalHandler.History)
				r.Post("/decide", s.approvalHandler.Decide)     // Approve/Reject, 409 при гонке
				r.Post("/escalate", s.approvalHandler.Escalate) // Передача другому ревьюеру
			})
		})

		// Уведомления
		r.Route("/v1/notifications", func(r chi.Router) {
			r.Get("/", s.notificationHandler.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.notificationHandler.Get)
				r.Post("/resolve", s.notificationHandler.Resolve)
			})
		})

		// Realtime Broadcast: SSE-поток и polling-дельта
		r.Route("/v1/events", func(r chi.Router) {
			r.Get("/stream", s.streamHandler.Stream)
			r.Get("/poll", s.streamHandler.Poll)
		})
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Package server wires the fiber app: HTTP handlers for threads and
// messages, the websocket live channel, and graceful shutdown of the hub,
// presence tracker and reminder scheduler.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/NahoooMac/wedhabesha-sub005/internal/cache"
	"github.com/NahoooMac/wedhabesha-sub005/internal/config"
	"github.com/NahoooMac/wedhabesha-sub005/internal/database"
	"github.com/NahoooMac/wedhabesha-sub005/internal/messaging"
	"github.com/NahoooMac/wedhabesha-sub005/internal/middleware"
	"github.com/NahoooMac/wedhabesha-sub005/internal/models"
	"github.com/NahoooMac/wedhabesha-sub005/internal/notify"
	"github.com/NahoooMac/wedhabesha-sub005/internal/observability"
	"github.com/NahoooMac/wedhabesha-sub005/internal/realtime"
	"github.com/NahoooMac/wedhabesha-sub005/internal/repository"
	"github.com/NahoooMac/wedhabesha-sub005/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers.
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc

	userRepo   repository.UserRepository
	threadRepo repository.ThreadRepository
	msgRepo    repository.MessageRepository

	hub       *realtime.Hub
	notifier  *realtime.Notifier
	presence  *realtime.PresenceTracker
	reminders *messaging.ReminderScheduler
	messages  *service.MessageService
}

// NewServer creates a server, establishing the database and Redis
// connections from config.
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)
	return NewServerWithDeps(cfg, db, cache.GetClient())
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Used by tests and bootstrap layers that establish DB/Redis themselves.
// redisClient may be nil: the server then runs single-instance with local
// fanout only.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	middleware.InitMiddleware(cfg)

	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("wedhabesha-messaging"),
		userRepo:       repository.NewUserRepository(db),
		threadRepo:     repository.NewThreadRepository(db),
		msgRepo:        repository.NewMessageRepository(db),
		hub:            realtime.NewHub(),
	}

	if redisClient != nil {
		s.notifier = realtime.NewNotifier(redisClient)
	}
	s.presence = realtime.NewPresenceTracker(redisClient, realtime.PresenceTrackerConfig{
		OnUserOnline: func(userID uint) {
			go s.deliverPending(userID)
		},
	})

	gateway := notify.NewSMSGateway(cfg.SMSGatewayURL, cfg.SMSGatewayToken)
	s.reminders = messaging.NewReminderScheduler(gateway, cfg.ReminderDelay, cfg.SMSFallbackHandle, middleware.Logger)

	s.messages = service.NewMessageService(
		s.msgRepo,
		s.threadRepo,
		s.userRepo,
		s.hub,
		s.notifier,
		s.reminders,
		nil, // viewing policy defaults to hub membership
		middleware.Logger,
	)
	return s, nil
}

// deliverPending acks undelivered messages in all of a user's threads when
// they come online.
func (s *Server) deliverPending(userID uint) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	threads, err := s.threadRepo.GetUserThreads(ctx, userID)
	if err != nil {
		observability.LogAsyncOperationError(ctx, "pending_delivery_sweep", err,
			map[string]interface{}{"user_id": userID})
		return
	}
	for _, t := range threads {
		if err := s.messages.MarkThreadDelivered(ctx, t.ID, userID); err != nil {
			observability.LogAsyncOperationError(ctx, "delivery_ack", err,
				map[string]interface{}{"user_id": userID, "thread_id": t.ID})
		}
	}
}

// SetupMiddleware configures middleware for the Fiber app.
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS must run before middlewares that can short-circuit (e.g. limiter)
	// so browser clients still receive CORS headers on error responses.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Global rate limiting (100 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application.
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api", middleware.AuthRequired)

	threads := api.Group("/threads")
	threads.Get("/search", s.SearchThreads)
	threads.Get("/", s.GetThreads)
	threads.Post("/", s.OpenThread)
	// Specific /:id/:resource routes before generic /:id routes.
	threads.Get("/:id/messages/search", s.SearchMessages)
	threads.Get("/:id/messages", s.GetThreadMessages)
	threads.Post("/:id/messages", middleware.RateLimit(
		s.redis, 15, time.Minute, "send_message"), s.SendMessage)
	threads.Put("/:id/read", s.MarkThreadRead)
	threads.Post("/:id/archive", s.ArchiveThread)
	threads.Post("/:id/unarchive", s.UnarchiveThread)

	api.Delete("/messages/:id", s.DeleteMessage)

	ws := app.Group("/ws", middleware.WebSocketAuthRequired)
	ws.Get("/chat", s.WebSocketChatHandler())
}

// LivenessCheck handles liveness probe requests.
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests. Redis is optional; its
// absence degrades to single-instance mode rather than failing readiness.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	} else {
		redisStatus = "disabled"
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// Start starts the server and wires the hub to the Redis subscriber.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	app := fiber.New(fiber.Config{
		AppName: "Wedhabesha Messaging API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			slog.Error("unhandled request error", slog.String("error", err.Error()))
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.app = app

	s.SetupMiddleware(app)
	s.SetupRoutes(app)

	if s.notifier != nil && s.notifier.Enabled() {
		go func() {
			if err := s.hub.StartWiring(s.shutdownCtx, s.notifier); err != nil {
				slog.Error("hub wiring failed", slog.String("error", err.Error()))
			}
		}()
	}

	slog.Info("server starting", slog.String("port", s.config.Port))
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server and its background workers.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			slog.Warn("http shutdown error", slog.String("error", err.Error()))
		}
	}

	if err := s.hub.Shutdown(ctx); err != nil {
		slog.Warn("hub shutdown error", slog.String("error", err.Error()))
	}
	s.presence.Stop()
	s.reminders.Stop()

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			slog.Warn("sql close error", slog.String("error", cerr.Error()))
		}
	}
	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			slog.Warn("redis close error", slog.String("error", rerr.Error()))
		}
	}

	slog.Info("server shutdown complete")
	return nil
}

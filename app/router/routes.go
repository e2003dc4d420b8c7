// Package router provides HTTP routing, middleware configuration, and server setup for the web application
package router

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/amirphl/smsdispatch/app/dto"
	"github.com/amirphl/smsdispatch/app/handlers"
	"github.com/amirphl/smsdispatch/app/middleware"
	"github.com/amirphl/smsdispatch/config"
	"github.com/amirphl/smsdispatch/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/compress"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/helmet"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const healthPath = "/api/v1/health"

// HealthCheck reports whether one dependency is reachable
type HealthCheck func(ctx context.Context) error

// Router interface for HTTP routing
type Router interface {
	SetupRoutes()
	Start(address string) error
	Shutdown(timeout time.Duration) error
	GetApp() *fiber.App
}

// Handlers groups the HTTP handlers mounted by the router
type Handlers struct {
	Auth     handlers.AuthHandlerInterface
	Campaign handlers.CampaignHandlerInterface
	Quota    handlers.QuotaHandlerInterface
	Callback handlers.CallbackHandlerInterface
}

// FiberRouter implements Router using Fiber v3
type FiberRouter struct {
	app      *fiber.App
	cfg      config.ServerConfig
	metrics  config.MetricsConfig
	handlers Handlers
	auth     *middleware.AuthMiddleware
	checks   map[string]HealthCheck
	logger   *log.Logger
}

// NewFiberRouter creates a new Fiber router
func NewFiberRouter(
	cfg config.ServerConfig,
	metrics config.MetricsConfig,
	h Handlers,
	auth *middleware.AuthMiddleware,
	checks map[string]HealthCheck,
	logger *log.Logger,
) Router {
	if logger == nil {
		logger = log.Default()
	}

	r := &FiberRouter{
		cfg:      cfg,
		metrics:  metrics,
		handlers: h,
		auth:     auth,
		checks:   checks,
		logger:   logger,
	}

	r.app = fiber.New(fiber.Config{
		AppName:      "smsdispatch API",
		ServerHeader: "smsdispatch",
		ErrorHandler: r.errorHandler,
		BodyLimit:    cfg.BodyLimit,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})

	return r
}

// SetupRoutes configures all application routes
func (r *FiberRouter) SetupRoutes() {
	r.logger.Println("setting up routes")

	r.setupMiddleware()

	if r.metrics.Enabled {
		r.app.Get(r.metricsPath(), adaptor.HTTPHandler(promhttp.Handler()))
	}

	api := r.app.Group("/api/v1")

	api.Get("/health", r.healthCheck)

	// Gateway callbacks bypass the per-IP limit; the provider sends them in bursts
	callbacks := api.Group("/callbacks")
	callbacks.Post("/delivery", r.handlers.Callback.DeliveryCallback)

	api.Use(limiter.New(limiter.Config{
		Max:        2000,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(dto.APIResponse{
				Success: false,
				Message: "Too many requests. Please try again later.",
				Error: dto.ErrorDetail{
					Code: "RATE_LIMIT_EXCEEDED",
				},
			})
		},
		Next: func(c fiber.Ctx) bool {
			return c.Path() == healthPath || strings.HasPrefix(c.Path(), "/api/v1/callbacks/")
		},
	}))

	api.Post("/auth/refresh", r.handlers.Auth.RefreshToken)

	authed := api.Group("", r.auth.Authenticate())

	campaigns := authed.Group("/campaigns")
	campaigns.Post("/", r.handlers.Campaign.CreateCampaign)
	campaigns.Get("/", r.handlers.Campaign.ListCampaigns)
	campaigns.Get("/:uuid", r.handlers.Campaign.GetCampaign)
	campaigns.Delete("/:uuid", r.handlers.Campaign.DeleteCampaign)
	campaigns.Post("/:uuid/schedule", r.handlers.Campaign.ScheduleCampaign)
	campaigns.Post("/:uuid/pause", r.handlers.Campaign.PauseCampaign)
	campaigns.Post("/:uuid/resume", r.handlers.Campaign.ResumeCampaign)
	campaigns.Post("/:uuid/cancel", r.handlers.Campaign.CancelCampaign)
	campaigns.Get("/:uuid/stats", r.handlers.Campaign.CampaignStats)
	campaigns.Get("/:uuid/report", r.handlers.Campaign.DeliveryReport)

	authed.Get("/quota", r.handlers.Quota.GetQuota)

	r.app.Use(r.notFoundHandler)

	r.logger.Println("routes configured")
}

// setupMiddleware configures global middleware
func (r *FiberRouter) setupMiddleware() {
	// Request ID middleware - must be first
	r.app.Use(requestid.New(requestid.Config{
		Header: "X-Request-ID",
		Generator: func() string {
			return generateRequestID()
		},
	}))

	r.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c fiber.Ctx, e any) {
			r.logger.Printf("panic request_id=%s method=%s path=%s ip=%s: %v",
				requestid.FromContext(c), c.Method(), c.Path(), c.IP(), e)
		},
	}))

	r.app.Use(middleware.Metrics(r.metricsPath(), healthPath))

	r.app.Use(helmet.New(helmet.Config{
		XSSProtection:             "1; mode=block",
		ContentTypeNosniff:        "nosniff",
		XFrameOptions:             "DENY",
		HSTSMaxAge:                31536000,
		ReferrerPolicy:            "strict-origin-when-cross-origin",
		CrossOriginOpenerPolicy:   "same-origin",
		CrossOriginResourcePolicy: "cross-origin",
		XDNSPrefetchControl:       "off",
		XDownloadOptions:          "noopen",
		XPermittedCrossDomain:     "none",
	}))

	origins := r.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{
			"GET", "POST", "DELETE", "HEAD", "OPTIONS",
		},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
			"X-Request-ID",
		},
		ExposeHeaders: []string{
			"X-Request-ID",
			"Content-Disposition",
		},
		MaxAge: 86400,
	}))

	r.app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	r.app.Use(logger.New(logger.Config{
		Format:     `{"time":"${time}","request_id":"${respHeader:X-Request-ID}","method":"${method}","path":"${path}","ip":"${ip}","status":${status},"latency":"${latency}","bytes_in":${bytesReceived},"bytes_out":${bytesSent}}` + "\n",
		TimeFormat: time.RFC3339,
		TimeZone:   "UTC",
		Next: func(c fiber.Ctx) bool {
			return c.Path() == healthPath
		},
	}))
}

func (r *FiberRouter) metricsPath() string {
	if r.metrics.Path == "" {
		return "/metrics"
	}
	return r.metrics.Path
}

// Start starts the HTTP server
func (r *FiberRouter) Start(address string) error {
	r.logger.Printf("starting server on %s", address)
	return r.app.Listen(address)
}

// Shutdown stops accepting connections and waits for in-flight requests
func (r *FiberRouter) Shutdown(timeout time.Duration) error {
	return r.app.ShutdownWithTimeout(timeout)
}

// GetApp returns the Fiber app instance
func (r *FiberRouter) GetApp() *fiber.App {
	return r.app
}

// healthCheck pings every registered dependency
func (r *FiberRouter) healthCheck(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	status := fiber.StatusOK
	deps := make(fiber.Map, len(r.checks))
	for name, check := range r.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = fiber.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	message := "Service is healthy"
	if status != fiber.StatusOK {
		message = "Service is degraded"
	}
	return c.Status(status).JSON(dto.APIResponse{
		Success: status == fiber.StatusOK,
		Message: message,
		Data: fiber.Map{
			"time":         utils.UTCNow().Format(time.RFC3339),
			"dependencies": deps,
		},
	})
}

func (r *FiberRouter) notFoundHandler(c fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(dto.APIResponse{
		Success: false,
		Message: "Route not found",
		Error: dto.ErrorDetail{
			Code: "ROUTE_NOT_FOUND",
			Details: fiber.Map{
				"path":       c.Path(),
				"method":     c.Method(),
				"request_id": requestid.FromContext(c),
			},
		},
	})
}

// errorHandler is the global error handler
func (r *FiberRouter) errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "An internal server error occurred"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}

	requestID := requestid.FromContext(c)
	r.logger.Printf("error status=%d request_id=%s: %v", code, requestID, err)

	return c.Status(code).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code: "INTERNAL_ERROR",
			Details: fiber.Map{
				"timestamp":  utils.UTCNow().Unix(),
				"request_id": requestID,
			},
		},
	})
}

// generateRequestID creates a unique request ID
func generateRequestID() string {
	bytes := make([]byte, 8)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

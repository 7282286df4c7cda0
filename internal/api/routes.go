// routes.go - Route registration helpers
// This file provides a clean way to register all API and page routes
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/client-intake/frontend/internal/config"
	"github.com/client-intake/frontend/internal/flow"
	"github.com/client-intake/frontend/internal/messages"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Sessions   SessionManager
	Lister     flow.ClientLister
	History    AttemptLog // nil when history is disabled
	Catalog    *messages.Catalog
	Version    string
	BackendURL string
	Logger     *zap.Logger
	// SecureCookie marks the page session cookie Secure.
	SecureCookie bool
}

// Handlers holds all handler instances
type Handlers struct {
	Health  HealthHandler
	Intake  IntakeHandler
	Clients ClientsHandler
	History HistoryHandler
	Pages   PageHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	pages := NewPageHandler(deps.Sessions, deps.Lister, deps.Catalog, deps.Logger)
	pages.SecureCookie = deps.SecureCookie

	return &Handlers{
		Health:  NewHealthHandler(deps.Version, deps.BackendURL, deps.Sessions),
		Intake:  NewIntakeHandler(deps.Sessions, deps.Catalog),
		Clients: NewClientsHandler(deps.Lister, deps.Catalog),
		History: NewHistoryHandler(deps.History),
		Pages:   pages,
	}
}

// RateLimit bounds how often a caller may trigger backend calls.
// A zero Rate disables limiting.
type RateLimit struct {
	Rate  float64
	Burst int
}

// RegisterRoutes registers all API and page routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers, limit RateLimit) {
	apiLimiter := submitLimiter(limit, func(c echo.Context, _ string, _ error) error {
		return NewRateLimitedError()
	})
	pageLimiter := submitLimiter(limit, RateLimitedRedirect)

	// Health check
	e.GET("/api/health", handlers.Health.HandleHealth)

	// Intake sessions
	sessions := e.Group("/api/intake/sessions")
	sessions.POST("", handlers.Intake.HandleCreateSession)
	sessions.GET("/:id", handlers.Intake.HandleGetSession)
	sessions.DELETE("/:id", handlers.Intake.HandleDeleteSession)
	sessions.PUT("/:id/mode", handlers.Intake.HandleSelectMode)
	sessions.PUT("/:id/phone", handlers.Intake.HandleSetPhone)
	sessions.PUT("/:id/otp/:index", handlers.Intake.HandleSetDigit)
	sessions.PUT("/:id/name", handlers.Intake.HandleSetName)
	sessions.PUT("/:id/link", handlers.Intake.HandleSetLink)
	sessions.POST("/:id/files", handlers.Intake.HandleAddFile)
	sessions.PUT("/:id/files/:slot", handlers.Intake.HandleReplaceFile)
	sessions.DELETE("/:id/files/:slot", handlers.Intake.HandleRemoveFile)
	sessions.POST("/:id/submit", handlers.Intake.HandleSubmit, apiLimiter)
	sessions.POST("/:id/reset", handlers.Intake.HandleReset)

	// Client list and local history
	e.GET("/api/clients", handlers.Clients.HandleListClients)
	e.GET("/api/history", handlers.History.HandleRecentAttempts)
	e.GET("/api/history/summary", handlers.History.HandleAttemptSummary)

	// HTML pages
	e.GET("/", handlers.Pages.HandleChoice)
	e.POST("/mode", handlers.Pages.HandleSelectMode)
	e.POST("/mode/clear", handlers.Pages.HandleClearMode)
	e.GET("/intake", handlers.Pages.HandleIntake)
	e.POST("/intake/phone", handlers.Pages.HandlePhone, pageLimiter)
	e.POST("/intake/otp", handlers.Pages.HandleOtp, pageLimiter)
	e.POST("/intake/details", handlers.Pages.HandleDetails, pageLimiter)
	e.POST("/intake/files/:slot/remove", handlers.Pages.HandleRemoveFile)
	e.POST("/intake/reset", handlers.Pages.HandleReset)
	e.GET("/clients", handlers.Pages.HandleClients)
}

// submitLimiter limits requests per client IP. deny answers a rejected request.
func submitLimiter(limit RateLimit, deny func(c echo.Context, identifier string, err error) error) echo.MiddlewareFunc {
	if limit.Rate <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	burst := limit.Burst
	if burst <= 0 {
		burst = 1
	}

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(limit.Rate),
			Burst:     burst,
			ExpiresIn: 3 * time.Minute,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return NewBadRequestError("cannot identify client", err)
		},
		DenyHandler: deny,
	})
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg *config.AppConfig, logger *zap.Logger) {
	// Use custom error handler
	e.HTTPErrorHandler = ErrorHandler

	if logger == nil {
		logger = zap.NewNop()
	}
	reqLogger := logger.Named("http")

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return path == "/api/health" || strings.HasPrefix(path, "/static/")
		},
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("remote_ip", v.RemoteIP),
			}
			if v.Error != nil {
				reqLogger.Warn("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			reqLogger.Info("request", fields...)
			return nil
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			logger.Error("panic recovered",
				zap.String("uri", c.Request().RequestURI),
				zap.Error(err),
				zap.ByteString("stack", stack))
			return err
		},
	}))

	// Compression middleware
	if cfg.Server.EnableCompression {
		e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
			Level: cfg.Server.CompressionLevel,
		}))
	}

	// Body limit middleware
	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	// CORS configuration
	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}
}

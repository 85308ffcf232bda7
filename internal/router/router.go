package router // package router defines how HTTP routes are registered for the API

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/rashiddalii/moodlog-server/internal/config"
	"github.com/rashiddalii/moodlog-server/internal/handler"    // import the handlers that implement the endpoints
	"github.com/rashiddalii/moodlog-server/internal/middleware" // access guard, rate limiting, request logging
)

// Sessions is what the routes need from the session service: the auth
// endpoints plus token resolution for the access guard.
type Sessions interface {
	handler.SessionManager
	middleware.Authenticator
}

// Deps carries everything New wires together.  Redis may be nil, in which
// case rate limiting is disabled.
type Deps struct {
	Config   config.Config
	Sessions Sessions
	Redis    *redis.Client
	Logger   *slog.Logger
}

// New builds the Echo instance with global middleware, the error handler and
// every route registered.
func New(d Deps) *echo.Echo {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(d.Logger)

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLogger(d.Logger))
	e.Use(echomw.Secure())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     []string{d.Config.FrontendURL},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization},
		AllowCredentials: true,
	}))
	if d.Config.MaxRequestSize != "" {
		e.Use(echomw.BodyLimit(d.Config.MaxRequestSize))
	}

	RegisterRoutes(e)
	RegisterAuth(e, handler.NewAuthHandler(d.Sessions), d)
	return e
}

// RegisterRoutes registers routes that do not require authentication and
// live outside /api.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/", handler.Root)
	e.GET("/healthz", handler.Health)
}

// RegisterAuth mounts the /api group and the auth endpoints under
// /api/auth.  Every /api request passes the optional guard first so the
// general limiter can key authenticated callers by user id; credential
// endpoints additionally pass the stricter auth limiter.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, d Deps) {
	api := e.Group("/api",
		middleware.OptionalAuth(d.Sessions),
		middleware.NewTokenBucket(d.Config.RateLimit, d.Redis, d.Logger),
	)
	authLimit := middleware.NewTokenBucket(d.Config.AuthRateLimit, d.Redis, d.Logger)
	requireAuth := middleware.RequireAuth(d.Sessions)

	g := api.Group("/auth")
	g.POST("/register", a.Register, authLimit)
	g.POST("/register-anonymous", a.RegisterAnonymous, authLimit)
	g.POST("/login", a.Login, authLimit)
	g.POST("/refresh", a.Refresh, authLimit)

	g.GET("/profile", a.Profile, requireAuth)
	g.PUT("/profile", a.UpdateProfile, requireAuth)
	g.POST("/logout", a.Logout, requireAuth)
}

// errorHandler renders errors that escape the handlers (unknown routes,
// body limit, panics recovered by echo) in the {message, code} shape.
func errorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status := http.StatusInternalServerError
		body := middleware.ErrorBody{Message: "Internal server error", Code: "INTERNAL_ERROR"}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			switch he.Code {
			case http.StatusNotFound, http.StatusMethodNotAllowed:
				status = http.StatusNotFound
				body = middleware.ErrorBody{Message: "Route not found", Code: "ROUTE_NOT_FOUND"}
			case http.StatusRequestEntityTooLarge:
				status = he.Code
				body = middleware.ErrorBody{Message: "Request entity too large", Code: "PAYLOAD_TOO_LARGE"}
			case http.StatusBadRequest, http.StatusUnsupportedMediaType:
				status = http.StatusBadRequest
				body = middleware.ErrorBody{Message: "Validation Error", Code: "VALIDATION_ERROR"}
			default:
				if he.Code < 500 {
					status = he.Code
					body = middleware.ErrorBody{Message: http.StatusText(he.Code), Code: "HTTP_ERROR"}
				}
			}
		}
		if status >= 500 {
			logger.ErrorContext(c.Request().Context(), "unhandled error", "err", err, "path", c.Path())
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			logger.Error("write error response", "err", err)
		}
	}
}

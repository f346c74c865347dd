package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lliwi/sar-v3-sub000/internal/logger"
	"github.com/lliwi/sar-v3-sub000/pkg/api/auth"
	"github.com/lliwi/sar-v3-sub000/pkg/api/handlers"
	apiMiddleware "github.com/lliwi/sar-v3-sub000/pkg/api/middleware"
	"github.com/lliwi/sar-v3-sub000/pkg/notify"
	"github.com/lliwi/sar-v3-sub000/pkg/orchestrator"
	"github.com/lliwi/sar-v3-sub000/pkg/requests"
	"github.com/lliwi/sar-v3-sub000/pkg/store"
)

// Deps carries the engine components the API surfaces.
//
// DB may be nil; readiness then reports healthy on liveness alone.
type Deps struct {
	Store        store.Store
	DB           handlers.Pinger
	Requests     *requests.Service
	Orchestrator *orchestrator.Orchestrator
	Notifier     *notify.Notifier
}

// NewRouter creates and configures the chi router with all middleware and routes.
//
// The router is configured with:
//   - Request ID middleware for request tracking
//   - Real IP extraction for proper client identification
//   - Custom request logging using the internal logger
//   - Panic recovery to prevent server crashes
//   - Request timeout to prevent hung requests
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /health/ready - Readiness probe
//   - POST /api/v1/auth/login - User authentication
//   - POST /api/v1/auth/refresh - Token refresh
//   - GET /api/v1/auth/me - Current user info
//   - /api/v1/folders/* - Folder catalogue (read only)
//   - /api/v1/requests/* - Permission request lifecycle
//   - /api/v1/tasks/* - Task queue inspection and control (admin only)
//   - /api/v1/notifications/* - Admin notification management (admin only)
func NewRouter(jwtService *auth.JWTService, deps Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	healthHandler := handlers.NewHealthHandler(deps.DB)

	// Health routes - unauthenticated
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	authHandler := handlers.NewAuthHandler(deps.Store, jwtService)
	catalogueHandler := handlers.NewCatalogueHandler(deps.Store)
	requestHandler := handlers.NewRequestHandler(deps.Store, deps.Requests)
	taskHandler := handlers.NewTaskHandler(deps.Store, deps.Orchestrator)
	notificationHandler := handlers.NewNotificationHandler(deps.Store, deps.Notifier)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Auth routes - mostly unauthenticated
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)

			r.Group(func(r chi.Router) {
				r.Use(apiMiddleware.JWTAuth(jwtService))
				r.Get("/me", authHandler.Me)
			})
		})

		// Protected routes - require authentication. Decision endpoints do
		// their own authorization in the request service; only task and
		// notification control is gated on the admin role here.
		r.Group(func(r chi.Router) {
			r.Use(apiMiddleware.JWTAuth(jwtService))

			// Folder catalogue (read only)
			r.Route("/folders", func(r chi.Router) {
				r.Get("/", catalogueHandler.ListFolders)
				r.Get("/{id}", catalogueHandler.GetFolder)
				r.Get("/{id}/permissions", catalogueHandler.ListFolderPermissions)
			})

			// Permission request lifecycle
			r.Route("/requests", func(r chi.Router) {
				r.Get("/", requestHandler.List)
				r.Post("/", requestHandler.Submit)
				r.Get("/{id}", requestHandler.Get)
				r.Post("/{id}/approve", requestHandler.Approve)
				r.Post("/{id}/reject", requestHandler.Reject)
				r.Post("/{id}/cancel", requestHandler.Cancel)
				r.Post("/{id}/revoke", requestHandler.Revoke)
			})

			// Task queue control (admin only)
			r.Route("/tasks", func(r chi.Router) {
				r.Use(apiMiddleware.RequireAdmin())

				r.Get("/", taskHandler.List)
				r.Get("/{id}", taskHandler.Get)
				r.Post("/{id}/cancel", taskHandler.Cancel)
				r.Post("/{id}/retry", taskHandler.Retry)
			})

			// Admin notifications (admin only)
			r.Route("/notifications", func(r chi.Router) {
				r.Use(apiMiddleware.RequireAdmin())

				r.Get("/", notificationHandler.List)
				r.Post("/resolve", notificationHandler.Resolve)
			})
		})
	})

	return r
}

// isHealthPath returns true if the request path is a healthcheck endpoint.
func isHealthPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/")
}

// requestLogger is a custom middleware that logs requests using the internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
//   - Healthcheck requests are logged at DEBUG level to reduce noise
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		}

		// Log healthcheck requests at DEBUG to avoid polluting logs in k8s
		if isHealthPath(r.URL.Path) {
			logger.Debug("API request completed", logArgs...)
		} else {
			logger.Info("API request completed", logArgs...)
		}
	})
}

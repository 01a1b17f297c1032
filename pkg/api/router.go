// Package api provides HTTP API server components.
package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/sagabank/sagabank/config"
	"github.com/sagabank/sagabank/pkg/api/handlers"
	"github.com/sagabank/sagabank/pkg/api/middleware"
	"github.com/sagabank/sagabank/pkg/logger"
)

// Handlers holds all HTTP handlers.
type Handlers struct {
	// Saga starts and reports banking sagas
	Saga *handlers.SagaHandler

	// Notifications serves the audit book
	Notifications *handlers.NotificationHandler

	// Accounts serves read-only ledger views
	Accounts *handlers.AccountHandler

	// Health handles health check endpoints
	Health *handlers.HealthHandler

	// Metrics is the optional metrics recorder
	Metrics middleware.MetricsRecorder

	// RateLimiter is the optional shared request throttle
	RateLimiter *middleware.RateLimiter
}

// NewRouter creates a new chi router with middleware and routes.
func NewRouter(cfg *config.Config, log logger.Logger, handlers *Handlers) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	if handlers.Metrics != nil {
		r.Use(middleware.Metrics(handlers.Metrics))
	}
	if handlers.RateLimiter != nil {
		r.Use(middleware.RateLimit(handlers.RateLimiter))
	}

	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	RegisterRoutes(r, handlers)

	return r
}

// RegisterRoutes registers all API routes.
func RegisterRoutes(r chi.Router, handlers *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		if handlers.Saga != nil {
			r.Post("/accounts", handlers.Saga.CreateAccount)
			r.Post("/creditcards", handlers.Saga.CreateCreditCard)
			r.Post("/transfers", handlers.Saga.CreateTransfer)
			r.Get("/sagas", handlers.Saga.ListSagas)
			r.Get("/sagas/{id}", handlers.Saga.GetSaga)
		}

		if handlers.Notifications != nil {
			r.Get("/notifications", handlers.Notifications.List)
			r.Get("/book", handlers.Notifications.History)
		}

		if handlers.Accounts != nil {
			r.Route("/banks/{bank}/accounts", func(r chi.Router) {
				r.Get("/", handlers.Accounts.ListAccounts)
				r.Get("/{number}", handlers.Accounts.GetAccount)
			})
		}
	})

	// Health check routes (not versioned)
	if handlers.Health != nil {
		r.Get("/health", handlers.Health.Health)
		r.Get("/ready", handlers.Health.Ready)
	}
}

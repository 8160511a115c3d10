package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/loan-sales-assistant/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/loan-sales-assistant/internal/http/middleware"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Sessions           *handlers.SessionHandler
	Letters            *handlers.LetterHandler
	Auth               *handlers.AuthHandler
	Archive            *handlers.ArchiveHandler
	Tokens             httpmiddleware.TokenParser
	RateLimiter        *httpmiddleware.RateLimiter
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	RequestTimeout     time.Duration
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Get("/health", handlers.Health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/api", func(api chi.Router) {
		if cfg.RateLimiter != nil {
			api.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
		}

		if cfg.Letters != nil {
			api.Get("/sanction-letters/{letterID}", cfg.Letters.Get)
		}

		if cfg.Sessions != nil {
			api.Route("/sessions", func(s chi.Router) {
				s.Post("/", cfg.Sessions.Create)
				s.Route("/{sessionID}", sessionRoutes(cfg))
			})
		}

		if cfg.Auth != nil && cfg.Tokens != nil {
			api.Route("/auth", func(a chi.Router) {
				a.Post("/register", cfg.Auth.Register)
				a.Post("/login", cfg.Auth.Login)
				a.With(httpmiddleware.RequireUser(cfg.Tokens)).Get("/me", cfg.Auth.Me)
			})

			api.Route("/protected", func(p chi.Router) {
				p.Use(httpmiddleware.RequireUser(cfg.Tokens))
				if cfg.Sessions != nil {
					p.Route("/sessions", func(s chi.Router) {
						s.Get("/", cfg.Sessions.List)
						s.Post("/", cfg.Sessions.Create)
						s.Route("/{sessionID}", func(one chi.Router) {
							one.Use(cfg.Sessions.RequireOwner)
							sessionRoutes(cfg)(one)
						})
					})
				}
				if cfg.Archive != nil {
					p.Get("/archive/recent", cfg.Archive.Recent)
				}
			})
		}
	})

	return r
}

func sessionRoutes(cfg *Config) func(chi.Router) {
	return func(s chi.Router) {
		// Websocket upgrades must not be wrapped in a timeout.
		s.Get("/ws", cfg.Sessions.Socket)
		s.Group(func(g chi.Router) {
			if cfg.RequestTimeout > 0 {
				g.Use(middleware.Timeout(cfg.RequestTimeout))
			}
			g.Post("/messages", cfg.Sessions.Message)
			g.Post("/documents", cfg.Sessions.Upload)
			g.Get("/state", cfg.Sessions.State)
			g.Post("/reset", cfg.Sessions.Reset)
		})
	}
}

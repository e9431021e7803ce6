// Package http собирает REST-роутер сервиса модерации.
package http

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/pribylovaa/comments-moderation/internal/transport/http/handlers"
	"github.com/pribylovaa/comments-moderation/internal/transport/http/middleware"
)

// Options - параметры сборки HTTP-роутера.
type Options struct {
	Logger   *slog.Logger
	Timeout  time.Duration
	BasePath string // например, "/api"; если пустой - роуты регистрируются на корне.
	// TrustProxy - брать адрес клиента из X-Forwarded-For/X-Real-IP (сервис за балансировщиком).
	TrustProxy bool
	Verifier   middleware.TokenVerifier
	Metrics    middleware.RequestRecorder
}

// NewRouter собирает http.Handler с chi и подключёнными middleware/роутами.
func NewRouter(svc handlers.Comments, opts Options) chi.Router {
	root := chi.NewRouter()

	// Middleware (внешний -> внутренний).
	root.Use(middleware.Recover())
	if opts.TrustProxy {
		root.Use(chimw.RealIP)
	}
	root.Use(
		middleware.RequestID(),          // X-Request-Id до логирования
		middleware.Logging(opts.Logger), // request-scoped логгер в контексте
		middleware.Metrics(opts.Metrics),
		middleware.Timeout(opts.Timeout),
		middleware.Auth(opts.Verifier),
	)

	h := handlers.New(svc)

	if opts.BasePath != "" && opts.BasePath != "/" {
		sub := chi.NewRouter()
		registerRoutes(sub, h)
		root.Mount(opts.BasePath, sub)
		return root
	}

	registerRoutes(root, h)
	return root
}

// registerRoutes - единая точка регистрации всех REST-эндпойнтов.
func registerRoutes(r chi.Router, h *handlers.Handlers) {
	r.Post("/posts/{post_id}/comments", h.CreateComment)
	r.Get("/posts/{post_id}/comments", h.ListTree)

	r.Get("/comments/{id}", h.GetComment)
	r.Patch("/comments/{id}", h.UpdateComment)
	r.Delete("/comments/{id}", h.DeleteComment)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireModerator())
		r.Post("/comments/{id}/approve", h.Approve)
		r.Post("/comments/{id}/spam", h.MarkSpam)
	})
}

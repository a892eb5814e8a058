package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"studentforge-backend/internal/handlers"
	"studentforge-backend/internal/metrics"
	"studentforge-backend/internal/middleware"
	"studentforge-backend/internal/websocket"
)

type Handlers struct {
	Reading   *handlers.ReadingHandler
	Documents *handlers.DocumentHandler
	Quizzes   *handlers.QuizHandler
	Profile   *handlers.ProfileHandler
	Jobs      *handlers.JobHandler
}

// New builds the HTTP router. The returned limiter must be stopped on
// shutdown.
func New(jwtAuth *middleware.JWTAuth, h Handlers, wsHub *websocket.Hub, frontendURL string) (http.Handler, *middleware.RateLimiter) {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.CORS(frontendURL))

	// Uploads and quiz generation (20 req/min per IP)
	writeLimiter := middleware.NewRateLimiter(20, time.Minute)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Reading Sessions ────
		r.Route("/reading-sessions", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Post("/", h.Reading.Start)
			r.Get("/{id}", h.Reading.Get)
			r.Post("/{id}/turn", h.Reading.Turn)
			r.Post("/{id}/end", h.Reading.End)
		})

		// ──── Documents ────
		r.Route("/documents", func(r chi.Router) {
			r.Get("/supported-formats", h.Documents.SupportedFormats) // Public

			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.With(writeLimiter.Middleware).Post("/", h.Documents.Upload)
				r.Get("/", h.Documents.List)
				r.Get("/{id}", h.Documents.Get)
				r.Delete("/{id}", h.Documents.Delete)
			})
		})

		// ──── Quizzes ────
		r.Route("/quizzes", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.With(writeLimiter.Middleware).Post("/generate", h.Quizzes.Generate)
			r.Get("/", h.Quizzes.List)
			r.Get("/{id}", h.Quizzes.Get)
			r.Post("/{id}/start", h.Quizzes.Start)
		})

		r.Route("/quiz-attempts", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Post("/{id}/submit", h.Quizzes.Submit)
		})

		// ──── Profile & Gamification ────
		r.Group(func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/profile/me", h.Profile.Me)
			r.Get("/profile/history", h.Profile.History)
			r.Get("/badges", h.Profile.Badges)
			r.Get("/leaderboard", h.Profile.Leaderboard)
			r.Get("/jobs/{id}", h.Jobs.Get)
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r, writeLimiter
}

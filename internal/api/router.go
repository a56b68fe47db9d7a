package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Jacobpac15/chatapp-parcial3/internal/api/middleware"
	"github.com/Jacobpac15/chatapp-parcial3/internal/crypto"
	"github.com/Jacobpac15/chatapp-parcial3/internal/handlers"
	"github.com/Jacobpac15/chatapp-parcial3/internal/hub"
	"github.com/Jacobpac15/chatapp-parcial3/internal/store"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 8 * 1024

// Deps are the components the router exposes over HTTP.
type Deps struct {
	Store      store.DataStore
	Redis      *store.RedisStore
	Tokens     *crypto.TokenManager
	Sessions   SessionHandler
	Broker     handlers.BrokerStatus
	Registry   *hub.Registry
	InstanceID string
	RateLimit  middleware.RateLimiterConfig

	// AllowedOrigins for CORS; empty allows any origin.
	AllowedOrigins []string
}

// SessionHandler upgrades /ws requests and reports live sessions.
type SessionHandler interface {
	http.Handler
	ActiveSessions() int
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, deps Deps) *chi.Mux {
	r := chi.NewRouter()

	// Metrics first so every request is counted.
	r.Use(middleware.Metrics)

	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(maxBodyBytes))
	r.Use(middleware.ValidateRequest)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	limiter := middleware.NewRateLimiter(deps.Redis.Client(), logger, deps.RateLimit)
	r.Use(limiter.Middleware)

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(deps.Store, deps.Tokens, handlers.Options{
		Redis:      deps.Redis,
		Broker:     deps.Broker,
		Sessions:   deps.Sessions,
		Registry:   deps.Registry,
		InstanceID: deps.InstanceID,
	}, logger)
	auth := middleware.NewAuthMiddleware(deps.Tokens, logger)

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)

	// The websocket endpoint verifies its own token so a failed check can
	// close the socket with a protocol close code.
	if deps.Sessions != nil {
		r.Handle("/ws", deps.Sessions)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
	})

	r.Route("/rooms", func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Get("/", h.ListRooms)
		r.Post("/", h.CreateRoom)
		r.Get("/discover", h.DiscoverRooms)
		r.Post("/{id}/join", h.JoinRoom)
		r.Get("/{id}/messages", h.RoomMessages)
	})

	return r
}

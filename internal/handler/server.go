// Package handler provides the HTTP API of the XP ledger server.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"coinflip-game/internal/service"
)

// Dependencies holds everything the HTTP handlers need.
type Dependencies struct {
	Ledger         *service.LedgerService
	Leaderboard    *service.LeaderboardService
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
	Logger         *zerolog.Logger
}

// NewRouter builds the chi router serving the ledger API.
func NewRouter(deps *Dependencies) http.Handler {
	logger := log.Logger
	if deps.Logger != nil {
		logger = *deps.Logger
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	users := NewUserHandler(deps.Ledger, deps.Leaderboard)

	r := chi.NewRouter()
	r.Use(LoggingMiddleware(logger)...)
	r.Use(RecoveryMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Accept", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(PreflightMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", healthHandler(deps.Ledger))
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/users", func(r chi.Router) {
		r.Get("/leaderboard", users.HandleLeaderboard)
		r.Get("/{address}", users.HandleGet)
		r.Get("/{address}/rewards", users.HandleRewards)
		r.Post("/{address}/update-xp", users.HandleUpdateXP)
	})

	return r
}

func healthHandler(ledger *service.LedgerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := ledger.Ping(r.Context()); err != nil {
			log.Ctx(r.Context()).Error().Err(err).Msg("Health check failed")
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

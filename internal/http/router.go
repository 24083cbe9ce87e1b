package http

import (
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/metweather/internal/observability"
)

// RouterConfig configures the middleware applied to the weather route.
type RouterConfig struct {
	RequestTimeout time.Duration // zero disables the per-request deadline
	Limiter        *rate.Limiter // nil disables rate limiting
}

// NewRouter wires /weather, /health and /metrics with the standard middleware.
// Rate limiting and the request deadline apply to /weather only.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) *mux.Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler()).Methods("GET")

	weatherRouter := router.Path("/weather").Subrouter()
	weatherRouter.Use(RateLimitMiddleware(cfg.Limiter))
	if cfg.RequestTimeout > 0 {
		weatherRouter.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	weatherRouter.Methods("GET").HandlerFunc(h.GetWeather)
	return router
}

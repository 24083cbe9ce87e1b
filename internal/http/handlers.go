package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/metweather/internal/circuitbreaker"
	"github.com/kjstillabower/metweather/internal/lifecycle"
	"github.com/kjstillabower/metweather/internal/models"
	"github.com/kjstillabower/metweather/internal/observability"
	"github.com/kjstillabower/metweather/internal/service"
	"github.com/kjstillabower/metweather/internal/traffic"
	"github.com/kjstillabower/metweather/internal/validation"
)

// WeatherProvider is the slice of service.WeatherService the handlers use.
type WeatherProvider interface {
	GetWeather(ctx context.Context, label string, lat, lon float64) (models.WeatherResult, error)
	DefaultLocation() models.Location
	CheckCache(ctx context.Context) error
}

// HealthConfig holds lifecycle thresholds for the health handler.
type HealthConfig struct {
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	// BreakerState, when set, reports the feed circuit breaker state.
	BreakerState func() circuitbreaker.State
	Version      string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weather          WeatherProvider
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. healthConfig may be nil, in which case
// only shutdown and cache reachability are reported.
func NewHandler(weather WeatherProvider, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		weather:      weather,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// GetWeather handles GET /weather?lat=&lon=&label=. Without coordinates the
// configured default location is used.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, lon, ok, err := validation.ParseCoordinates(q.Get("lat"), q.Get("lon"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return
	}
	label, err := validation.ValidateLabel(q.Get("label"), validation.DefaultMaxLabelLen)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return
	}

	def := h.weather.DefaultLocation()
	if !ok {
		lat, lon = def.Latitude, def.Longitude
	}
	metricLabel := label
	if metricLabel == "" {
		metricLabel = def.Label
	}
	observability.RecordWeatherQuery(metricLabel)

	result, err := h.weather.GetWeather(r.Context(), label, lat, lon)
	if err != nil {
		traffic.RecordError()
		writeServiceError(w, r, err)
		return
	}
	traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, result)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"feed": "healthy"}
	if result.status == "degraded" {
		checks["feed"] = "unhealthy"
	}
	if err := h.weather.CheckCache(r.Context()); err != nil {
		checks["cache"] = "unhealthy"
		loggerFromRequest(r, h.logger).Warn("cache ping failed", zap.Error(err))
	} else {
		checks["cache"] = "healthy"
	}
	version := "dev"
	if h.healthConfig != nil {
		if h.healthConfig.BreakerState != nil {
			checks["circuit"] = h.healthConfig.BreakerState().String()
		}
		if h.healthConfig.Version != "" {
			version = h.healthConfig.Version
		}
	}

	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "metweather",
		"version":   version,
		"checks":    checks,
		"uptime":    lifecycle.Uptime().Truncate(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > overloaded > degraded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, lifecycle.ShutdownReason()}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	hc := h.healthConfig
	if hc.RateLimitRPS > 0 && hc.OverloadWindow > 0 && hc.OverloadThresholdPct > 0 {
		threshold := float64(hc.RateLimitRPS) * hc.OverloadWindow.Seconds() * float64(hc.OverloadThresholdPct) / 100
		if float64(traffic.RequestCount(hc.OverloadWindow)) > threshold {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
		}
	}
	if hc.BreakerState != nil && hc.BreakerState() == circuitbreaker.StateOpen {
		return healthResult{"degraded", http.StatusServiceUnavailable, "circuit_open"}
	}
	if hc.DegradedWindow > 0 && hc.DegradedErrorPct > 0 {
		errs, total := traffic.ErrorRate(hc.DegradedWindow)
		if total > 0 && float64(errs)*100/float64(total) >= float64(hc.DegradedErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error body with the request's correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// serviceErrorResponse maps an error category to status, code and message.
func serviceErrorResponse(category string) (int, string, string) {
	switch category {
	case service.CategoryTimeout:
		return http.StatusGatewayTimeout, "TIMEOUT", "Weather feed timed out"
	case service.CategoryTransport, service.CategoryCircuitOpen:
		return http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data"
	case service.CategoryMalformedFeed:
		return http.StatusBadGateway, "MALFORMED_FEED", "Weather feed returned an unreadable document"
	case service.CategoryInsufficientData:
		return http.StatusBadGateway, "INSUFFICIENT_DATA", "Weather feed did not cover four forecast days"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "Unexpected error"
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	category := service.CategorizeError(err)
	status, code, message := serviceErrorResponse(category)
	writeError(w, r, status, code, message)
	loggerFromRequest(r, nil).Debug("weather request failed",
		zap.String("category", category),
		zap.Error(err))
}

// loggerFromRequest returns the request-scoped logger, then fallback, then a no-op logger.
func loggerFromRequest(r *http.Request, fallback *zap.Logger) *zap.Logger {
	if l := observability.LoggerFromContext(r.Context()); l != nil {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return zap.NewNop()
}

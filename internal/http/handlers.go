package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/pathogen-map-dashboard/internal/dashboard"
	"github.com/kjstillabower/pathogen-map-dashboard/internal/degraded"
	"github.com/kjstillabower/pathogen-map-dashboard/internal/lifecycle"
	"github.com/kjstillabower/pathogen-map-dashboard/internal/observability"
	"github.com/kjstillabower/pathogen-map-dashboard/internal/reqctx"
	"github.com/kjstillabower/pathogen-map-dashboard/internal/traffic"
	"github.com/kjstillabower/pathogen-map-dashboard/internal/validation"
)

// ViewHandler renders the view for one dashboard event.
type ViewHandler interface {
	Handle(ctx context.Context, ev dashboard.Event) dashboard.View
}

// PathogenLister returns the dropdown options.
type PathogenLister interface {
	Pathogens(ctx context.Context) ([]string, error)
}

// Pinger checks upstream reachability and credentials.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthConfig holds lifecycle thresholds for the health handler.
type HealthConfig struct {
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// PageConfig holds values rendered into the dashboard page.
type PageConfig struct {
	Title           string
	RefreshInterval time.Duration
}

// Limits bounds the query parameters accepted by /api/view.
type Limits struct {
	MaxSelection    int
	MaxPathogenName int
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	views            ViewHandler
	pathogens        PathogenLister
	upstream         Pinger
	healthConfig     *HealthConfig
	page             PageConfig
	limits           Limits
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(
	views ViewHandler,
	pathogens PathogenLister,
	upstream Pinger,
	healthConfig *HealthConfig,
	page PageConfig,
	limits Limits,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		views:        views,
		pathogens:    pathogens,
		upstream:     upstream,
		healthConfig: healthConfig,
		page:         page,
		limits:       limits,
		logger:       logger,
	}
}

// GetIndex handles GET /. Serves the dashboard page.
func (h *Handler) GetIndex(w http.ResponseWriter, r *http.Request) {
	body, err := renderPage(h.page)
	if err != nil {
		reqctx.Logger(r.Context()).Error("render page", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// GetView handles GET /api/view. Query: pathogen (repeatable), mode, trigger.
// Load failures still return 200 with the error view.
func (h *Handler) GetView(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	selection, err := validation.ValidateSelection(q["pathogen"], h.limits.MaxSelection, h.limits.MaxPathogenName)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_SELECTION", err.Error())
		return
	}
	mode, err := validation.ValidateMode(q.Get("mode"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_MODE", err.Error())
		return
	}
	kind, err := validation.ValidateTrigger(q.Get("trigger"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_TRIGGER", err.Error())
		return
	}

	view := h.views.Handle(r.Context(), dashboard.Event{Kind: kind, Selection: selection, Mode: mode})
	writeJSON(w, http.StatusOK, view)
}

// GetPathogens handles GET /api/pathogens.
func (h *Handler) GetPathogens(w http.ResponseWriter, r *http.Request) {
	names, err := h.pathogens.Pathogens(r.Context())
	if err != nil {
		reqctx.Logger(r.Context()).Debug("pathogen list unavailable", zap.Error(err))
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pathogens": names,
	})
}

// GetReady handles GET /ready. 200 after the first successful dataset load.
func (h *Handler) GetReady(w http.ResponseWriter, r *http.Request) {
	if !lifecycle.IsReady() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not-ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
	upstream   bool
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

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

	checks := make(map[string]string)
	if result.upstream {
		checks["grist"] = "healthy"
	} else {
		checks["grist"] = "unhealthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   observability.ServiceName,
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > grist unreachable > overloaded > degraded > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{status: "shutting-down", statusCode: http.StatusServiceUnavailable, reason: "signal"}
	}
	if h.upstream != nil {
		if err := h.upstream.Ping(ctx); err != nil {
			reqctx.Logger(ctx).Debug("grist ping failed", zap.Error(err))
			return healthResult{status: "degraded", statusCode: http.StatusServiceUnavailable, reason: "grist_unreachable"}
		}
	}
	if h.healthConfig == nil {
		return healthResult{status: "healthy", statusCode: http.StatusOK, upstream: true}
	}
	if h.healthConfig.RateLimitRPS > 0 && h.healthConfig.OverloadWindow > 0 {
		threshold := float64(h.healthConfig.RateLimitRPS) * h.healthConfig.OverloadWindow.Seconds() * float64(h.healthConfig.OverloadThresholdPct) / 100
		if float64(traffic.DenialCount(h.healthConfig.OverloadWindow)) > threshold {
			return healthResult{status: "overloaded", statusCode: http.StatusServiceUnavailable, reason: "overload_threshold", upstream: true}
		}
	}
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		if degraded.IsDegraded(h.healthConfig.DegradedWindow, h.healthConfig.DegradedErrorPct) {
			return healthResult{status: "degraded", statusCode: http.StatusServiceUnavailable, reason: "error_rate_breach", upstream: true}
		}
	}
	return healthResult{status: "healthy", statusCode: http.StatusOK, upstream: true}
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error envelope with the request's correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": reqctx.CorrelationID(r.Context()),
		},
	})
}

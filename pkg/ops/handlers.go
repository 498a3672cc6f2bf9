package ops

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/route"
)

// maxBodyBytes caps ops request bodies
const maxBodyBytes = 1 << 16

// Invalidator drops cached lookups for one user
type Invalidator interface {
	Invalidate(userID string)
}

// Resetter clears a rate limit key
type Resetter interface {
	Reset(ctx context.Context, key string) error
}

// Reloader re-reads the route table
type Reloader interface {
	Reload() error
}

// Handlers serves the operator endpoints next to health and metrics
type Handlers struct {
	classifier   *route.Classifier
	invalidators []Invalidator
	resetters    map[string]Resetter
	reloader     Reloader
	logger       *observability.Logger
}

// Config wires Handlers. Only Classifier is required; endpoints whose
// collaborator is missing answer 404.
type Config struct {
	Classifier *route.Classifier
	// Caches are invalidated together, in order
	Caches []Invalidator
	// Limiters maps a rate limit class to a resettable limiter
	Limiters map[string]Resetter
	Reloader Reloader
	Logger   *observability.Logger
}

// NewHandlers creates ops handlers
func NewHandlers(cfg Config) *Handlers {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = route.NewClassifier(nil)
	}

	var caches []Invalidator
	for _, c := range cfg.Caches {
		if c != nil {
			caches = append(caches, c)
		}
	}

	return &Handlers{
		classifier:   classifier,
		invalidators: caches,
		resetters:    cfg.Limiters,
		reloader:     cfg.Reloader,
		logger:       logger.WithField("component", "ops"),
	}
}

// RegisterRoutes mounts the endpoints under /ops, guarded by the
// scheduled-job bearer secret.
func (h *Handlers) RegisterRoutes(router *mux.Router, secret string) {
	sub := router.PathPrefix("/ops").Subrouter()
	sub.Use(middleware.RequireBearerSecret(secret))
	sub.Use(httputil.MaxBytesMiddleware(maxBodyBytes))

	sub.HandleFunc("/classify", h.Classify).Methods(http.MethodGet)
	sub.HandleFunc("/cache/invalidate", h.InvalidateCache).Methods(http.MethodPost)
	sub.HandleFunc("/ratelimit/{class}/{caller}", h.ResetRateLimit).Methods(http.MethodDelete)
	sub.HandleFunc("/routes/reload", h.ReloadRoutes).Methods(http.MethodPost)
}

// ClassifyResponse describes how the gate sees a path
type ClassifyResponse struct {
	route.Route
	RateLimitClass string `json:"rate_limit_class,omitempty"`
}

// Classify reports the classification of ?path=
func (h *Handlers) Classify(w http.ResponseWriter, r *http.Request) {
	path := httputil.ParseQueryString(r, "path", "")
	if !httputil.RequireNonEmpty(w, path, "path") {
		return
	}
	if path[0] != '/' {
		httputil.WriteBadRequest(w, "path must start with /")
		return
	}

	rt := h.classifier.Classify(path)
	httputil.WriteSuccess(w, ClassifyResponse{Route: rt, RateLimitClass: rt.RateLimitClass()})
}

type invalidateRequest struct {
	UserID string `json:"user_id"`
}

// InvalidateCache drops cached roles, profile and portal grants for a user
func (h *Handlers) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.UserID, "user_id") {
		return
	}

	for _, c := range h.invalidators {
		c.Invalidate(req.UserID)
	}
	h.logger.WithField("user_id", req.UserID).Info("Access caches invalidated")
	httputil.WriteNoContent(w)
}

// ResetRateLimit clears one caller's counters in one class
func (h *Handlers) ResetRateLimit(w http.ResponseWriter, r *http.Request) {
	class, ok := httputil.ParsePathStringOrError(w, r, "class")
	if !ok {
		return
	}
	caller, ok := httputil.ParsePathStringOrError(w, r, "caller")
	if !ok {
		return
	}

	limiter, exists := h.resetters[class]
	if !exists || limiter == nil {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "no resettable limiter for class "+class)
		return
	}

	if err := limiter.Reset(r.Context(), class+":"+caller); err != nil {
		h.logger.WithError(err).WithField("class", class).Error("Rate limit reset failed")
		httputil.WriteInternalError(w, err)
		return
	}
	h.logger.WithFields(map[string]interface{}{"class": class, "caller": caller}).Info("Rate limit reset")
	httputil.WriteNoContent(w)
}

// ReloadRoutes re-reads the route table file now
func (h *Handlers) ReloadRoutes(w http.ResponseWriter, r *http.Request) {
	if h.reloader == nil {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "no route table file configured")
		return
	}
	if err := h.reloader.Reload(); err != nil {
		httputil.WriteErrorMessage(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	httputil.WriteNoContent(w)
}

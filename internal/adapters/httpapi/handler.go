// Package httpapi exposes the labcore service over HTTP with gin. Callers
// identify themselves with the X-Actor-ID and X-Lab-ID headers.
package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"labcore/internal/core"
	"labcore/internal/logging"
	"labcore/internal/media"
	"labcore/pkg/domain"
)

// Principal headers.
const (
	HeaderActor = "X-Actor-ID"
	HeaderLab   = "X-Lab-ID"
)

// maxEvidenceBytes bounds multipart evidence uploads.
const maxEvidenceBytes = 32 << 20

// Handler serves the REST surface over a core.Service.
type Handler struct {
	svc     *core.Service
	logger  logging.Logger
	metrics http.Handler
	now     func() time.Time
}

// Option customises a Handler.
type Option func(*Handler)

// WithLogger sets the request logger.
func WithLogger(l logging.Logger) Option {
	return func(h *Handler) { h.logger = logging.OrNoop(l) }
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(m http.Handler) Option {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler constructs a handler for svc.
func NewHandler(svc *core.Service, opts ...Option) *Handler {
	h := &Handler{svc: svc, logger: logging.Noop(), now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router builds a gin engine with every route registered.
func (h *Handler) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), h.requestLog())
	h.RegisterRoutes(router)
	return router
}

// RegisterRoutes mounts the API on router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}

	api := router.Group("/api/v1", requireLabHeader)
	api.GET("/inventory", h.ListInventory)
	api.GET("/equipment/health", h.DeviceHealth)

	api.GET("/reorder", h.ReorderSuggestions)
	api.POST("/reorder/dismissals", h.DismissSuggestion)
	api.DELETE("/reorder/dismissals/:session", h.ClearDismissals)

	api.POST("/preflight", h.CheckRequirements)
	api.POST("/protocols/:id/preflight", h.Preflight)

	api.GET("/executions", h.ListExecutions)
	api.POST("/executions", h.StartExecution)
	api.GET("/executions/:id", h.GetExecution)
	api.POST("/executions/:id/commands", h.ApplyCommand)
	api.POST("/executions/:id/steps/:step/evidence", h.AttachEvidence)

	router.GET(media.DefaultURLPrefix+"*key", requireLabHeader, h.OpenEvidence)
}

// requireLabHeader rejects API calls that do not name a lab.
func requireLabHeader(c *gin.Context) {
	if strings.TrimSpace(c.GetHeader(HeaderLab)) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Missing lab", "details": HeaderLab + " header is required"})
		return
	}
	c.Next()
}

func (h *Handler) principal(c *gin.Context) domain.Principal {
	return domain.Principal{
		ActorID: c.GetHeader(HeaderActor),
		LabID:   strings.TrimSpace(c.GetHeader(HeaderLab)),
		At:      h.now(),
	}
}

func (h *Handler) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		h.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"lab", c.GetHeader(HeaderLab),
			"duration", time.Since(started),
		)
	}
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	var pe *core.PreflightError
	switch {
	case errors.As(err, &pe):
		return http.StatusConflict
	case errors.Is(err, core.ErrMediaUnavailable):
		return http.StatusNotImplemented
	}
	switch domain.Classify(err) {
	case domain.ClassNotFound:
		return http.StatusNotFound
	case domain.ClassValidation:
		return http.StatusBadRequest
	case domain.ClassConcurrencyConflict:
		return http.StatusConflict
	case domain.ClassTransientIO:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, message string, err error) {
	status := statusFor(err)
	body := gin.H{"error": message, "details": err.Error()}
	if class := domain.Classify(err); class != domain.ClassNone {
		body["class"] = class
	}
	var pe *core.PreflightError
	if errors.As(err, &pe) {
		body["report"] = pe.Report
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.FullPath(), "status", status, "error", err)
	}
	c.AbortWithStatusJSON(status, body)
}

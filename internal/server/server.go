package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"dev.helix.ensemble/internal/events"
	"dev.helix.ensemble/internal/llm"
	"dev.helix.ensemble/internal/middleware"
	"dev.helix.ensemble/internal/models"
	"dev.helix.ensemble/internal/observability"
	"dev.helix.ensemble/internal/pipeline"
)

// Server is the thin HTTP surface over the orchestration core: submit a
// pipeline run, stream its progress, inspect providers and patterns.
type Server struct {
	registry     *llm.Registry
	orchestrator *pipeline.Orchestrator
	patterns     *pipeline.PatternSet
	bus          *events.Bus
	limiter      *middleware.RateLimiter
	metrics      *observability.Metrics
	promRegistry *prometheus.Registry
	logger       *zap.Logger
	engine       *gin.Engine
}

// Deps carries the collaborators the server exposes.
type Deps struct {
	Registry     *llm.Registry
	Orchestrator *pipeline.Orchestrator
	Patterns     *pipeline.PatternSet
	Bus          *events.Bus
	Limiter      *middleware.RateLimiter
	Metrics      *observability.Metrics
	PromRegistry *prometheus.Registry
	Mode         string
}

// New builds the HTTP server and its routes.
func New(deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Mode != "" {
		gin.SetMode(deps.Mode)
	}

	s := &Server{
		registry:     deps.Registry,
		orchestrator: deps.Orchestrator,
		patterns:     deps.Patterns,
		bus:          deps.Bus,
		limiter:      deps.Limiter,
		metrics:      deps.Metrics,
		promRegistry: deps.PromRegistry,
		logger:       logger,
	}
	s.engine = s.routes()
	return s
}

// Engine exposes the router, mainly for tests.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)
	if s.promRegistry != nil {
		r.GET("/metrics", s.handleMetrics)
	}

	v1 := r.Group("/v1")
	if s.limiter != nil {
		v1.Use(s.limiter.Middleware())
	}
	v1.POST("/pipeline", s.handleSubmit)
	v1.GET("/pipeline/:correlationId/events", s.handleEvents)
	v1.GET("/providers", s.handleProviders)
	v1.GET("/patterns", s.handlePatterns)

	return r
}

type submitRequest struct {
	Prompt            string            `json:"prompt"`
	CorrelationID     string            `json:"correlationId"`
	SelectedProviders []string          `json:"selectedProviders"`
	LeadProvider      string            `json:"leadProvider"`
	Pattern           string            `json:"pattern"`
	StageOptions      map[string]string `json:"stageOptions"`
}

func (s *Server) handleSubmit(c *gin.Context) {
	var body submitRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	identity, tier := middleware.IdentityFromRequest(c)
	req := &models.PipelineRequest{
		Prompt:            body.Prompt,
		CorrelationID:     body.CorrelationID,
		SelectedProviders: body.SelectedProviders,
		LeadProvider:      body.LeadProvider,
		Pattern:           body.Pattern,
		StageOptions:      body.StageOptions,
		Identity:          identity,
		Tier:              tier,
	}
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.New().String()
	}

	started := time.Now()
	result, err := s.orchestrator.Run(c.Request.Context(), req)
	s.observeRun(result, err, time.Since(started), tier)

	switch {
	case err == nil:
		c.JSON(http.StatusOK, result)
	case pipeline.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, middleware.ErrLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, pipeline.ErrServiceUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":          err.Error(),
			"correlation_id": req.CorrelationID,
		})
	default:
		s.logger.Error("pipeline run failed",
			zap.String("correlation_id", req.CorrelationID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (s *Server) observeRun(result *models.PipelineResult, err error, duration time.Duration, tier string) {
	if s.metrics == nil {
		return
	}
	switch {
	case err == nil:
		s.metrics.ObserveRun(models.StatusCompleted, duration)
	case errors.Is(err, middleware.ErrLimited):
		s.metrics.AdmissionDenied.WithLabelValues(tier).Inc()
	case pipeline.IsValidationError(err):
		// Rejected before any provider work; not a pipeline outcome.
	default:
		s.metrics.ObserveRun(models.StatusFailed, duration)
	}
}

// handleEvents streams progress frames for one correlation id as SSE until
// the client disconnects.
func (s *Server) handleEvents(c *gin.Context) {
	if s.bus == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event streaming disabled"})
		return
	}
	correlationID := c.Param("correlationId")

	sub := s.bus.Subscribe(correlationID)
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-sub.Frames():
			if !ok {
				return
			}
			if err := events.WriteSSE(c.Writer, frame); err != nil {
				s.logger.Debug("sse write failed, dropping subscriber",
					zap.String("correlation_id", correlationID),
					zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) handleProviders(c *gin.Context) {
	statuses := s.registry.Status()
	if s.metrics != nil {
		s.metrics.UpdateCircuits(statuses)
	}
	c.JSON(http.StatusOK, gin.H{"providers": statuses})
}

func (s *Server) handlePatterns(c *gin.Context) {
	names := s.patterns.Names()
	patterns := make([]gin.H, 0, len(names))
	for _, name := range names {
		p, _ := s.patterns.Lookup(name)
		patterns = append(patterns, gin.H{
			"name":        p.Name,
			"description": p.Description,
			"stages":      p.Stages,
		})
	}
	c.JSON(http.StatusOK, gin.H{"patterns": patterns})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"providers": len(s.registry.Names()),
	})
}

func (s *Server) handleMetrics(c *gin.Context) {
	if s.metrics != nil {
		s.metrics.UpdateCircuits(s.registry.Status())
		if s.bus != nil {
			s.metrics.UpdateBus(s.bus.Metrics())
		}
	}
	promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}).ServeHTTP(c.Writer, c.Request)
}

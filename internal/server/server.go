// Package server exposes the risk engine over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/deokhwajeong/ott-compliance-events-pipeline/internal/cache"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/internal/engine"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/pkg/models"
)

// Config controls the HTTP listener
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server wires the orchestrator into the HTTP API
type Server struct {
	logger *zap.Logger
	engine *engine.Orchestrator
	http   *http.Server
}

// regionCode accepts 2 to 10 character upper-case region identifiers
func regionCode(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if len(value) < 2 || len(value) > 10 {
		return false
	}
	return value == strings.ToUpper(value)
}

// New builds the server and its route table
func New(cfg Config, orch *engine.Orchestrator, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		// best effort; duplicate registration only happens in tests
		_ = v.RegisterValidation("region_code", regionCode)
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(cors.Default())

	s := &Server{
		logger: logger.Named("server"),
		engine: orch,
	}
	s.routes(router)

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes(router *gin.Engine) {
	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/events", s.handleEvaluate)
		v1.GET("/assessments/:event_id", s.handleAssessment)
		v1.GET("/fraud-rings", s.handleFraudRings)
		v1.GET("/network-risk/:user_id", s.handleNetworkRisk)
		v1.GET("/violation-likelihood/:user_id", s.handleViolationLikelihood)
		v1.GET("/segments/:user_id", s.handleSegment)
		v1.GET("/threshold", s.handleThreshold)
		v1.GET("/regulations/:region", s.handleRegulations)
		v1.GET("/compliance/summary", s.handleComplianceSummary)
		v1.GET("/stats", s.handleStats)
	}
}

// Handler exposes the route table for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe blocks serving HTTP until Shutdown or failure
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleEvaluate(c *gin.Context) {
	var event models.Event
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	assessment, err := s.engine.Evaluate(c.Request.Context(), &event)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, assessment)
}

func (s *Server) handleAssessment(c *gin.Context) {
	assessment, err := s.engine.CachedAssessment(c.Request.Context(), c.Param("event_id"))
	if errors.Is(err, cache.ErrMiss) {
		c.JSON(http.StatusNotFound, gin.H{"error": "assessment not cached"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, assessment)
}

func (s *Server) handleFraudRings(c *gin.Context) {
	minSize, err := strconv.Atoi(c.DefaultQuery("min_size", "5"))
	if err != nil || minSize < 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "min_size must be an integer >= 2"})
		return
	}
	rings := s.engine.DetectFraudRings(minSize)
	c.JSON(http.StatusOK, gin.H{"rings": rings, "count": len(rings)})
}

func (s *Server) handleNetworkRisk(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.UserNetworkRisk(c.Param("user_id")))
}

func (s *Server) handleViolationLikelihood(c *gin.Context) {
	userID := c.Param("user_id")
	prediction, err := s.engine.PredictViolationLikelihood(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "prediction": prediction})
}

func (s *Server) handleSegment(c *gin.Context) {
	userID := c.Param("user_id")
	profile, err := s.engine.GetUserProfile(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"segment": s.engine.GetUserSegment(c.Request.Context(), userID),
		"profile": profile,
	})
}

func (s *Server) handleThreshold(c *gin.Context) {
	hour, err := strconv.Atoi(c.DefaultQuery("hour", strconv.Itoa(time.Now().Hour())))
	if err != nil || hour < 0 || hour > 23 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hour must be 0-23"})
		return
	}
	segment := models.UserSegment(c.DefaultQuery("segment", string(models.SegmentNormalUser)))
	region := c.Query("region")

	c.JSON(http.StatusOK, gin.H{
		"segment":   segment,
		"hour":      hour,
		"region":    region,
		"threshold": s.engine.GetDynamicThreshold(segment, hour, region),
	})
}

func (s *Server) handleRegulations(c *gin.Context) {
	region := c.Param("region")
	regs := s.engine.RegulationsFor(region)
	response := gin.H{"region": region, "regulations": regs}
	if strictest, ok := s.engine.StrictestRequirements(regs); ok {
		response["strictest_requirements"] = strictest
	}
	c.JSON(http.StatusOK, response)
}

func (s *Server) handleComplianceSummary(c *gin.Context) {
	summary, err := s.engine.RiskLevelSummary(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"risk_levels": summary})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"network":    s.engine.NetworkStats(),
		"thresholds": s.engine.ThresholdStatistics(),
		"segments":   s.engine.SegmentStatistics(),
	})
}

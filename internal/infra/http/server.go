package http

import (
	"net/http"
	"time"

	"grantdesk/internal/domain"
	"grantdesk/internal/infra/storage"
	"grantdesk/internal/usecase"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type Server struct {
	r *gin.Engine

	reports    *usecase.ReportService
	generation *usecase.GenerationService
	integrity  *usecase.IntegrityService
	auditRepo  usecase.AuditEventRepository
	artifacts  *storage.LocalStore

	rateLimiter     domain.RateLimiter
	writeLimit      int
	rateLimitWindow time.Duration

	log              logrus.FieldLogger
	mode             string
	autosaveInterval time.Duration
}

type ServerDeps struct {
	Reports    *usecase.ReportService
	Generation *usecase.GenerationService
	Integrity  *usecase.IntegrityService
	AuditRepo  usecase.AuditEventRepository
	// LocalArtifacts serves signed local download links. Nil when artifacts
	// live in a bucket that signs its own URLs.
	LocalArtifacts *storage.LocalStore

	RateLimiter         domain.RateLimiter
	WriteLimitPerMinute int
	Log                 logrus.FieldLogger
	Mode                string

	// AutosaveInterval is the cadence editors are told to save at.
	AutosaveInterval time.Duration
}

func NewServer(deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		r:               r,
		reports:         deps.Reports,
		generation:      deps.Generation,
		integrity:       deps.Integrity,
		auditRepo:       deps.AuditRepo,
		artifacts:       deps.LocalArtifacts,
		rateLimiter:     deps.RateLimiter,
		writeLimit:      deps.WriteLimitPerMinute,
		rateLimitWindow: time.Minute,
		log:              deps.Log,
		mode:             deps.Mode,
		autosaveInterval: deps.AutosaveInterval,
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	if s.mode == "" {
		s.mode = "db"
	}
	if s.autosaveInterval <= 0 {
		s.autosaveInterval = defaultAutosaveInterval
	}
	s.r.Use(s.requestContext())
	s.routes()
	return s
}

const defaultAutosaveInterval = 15 * time.Second

func (s *Server) autosaveSeconds() int {
	return int(s.autosaveInterval / time.Second)
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":                    "ok",
			"mode":                      s.mode,
			"autosave_interval_seconds": s.autosaveSeconds(),
		})
	})
	if s.artifacts != nil {
		s.r.GET("/v1/artifacts/:token", s.handleArtifact)
	}

	v1 := s.r.Group("/v1", s.requirePrincipal())
	{
		v1.POST("/reports/open", s.handleOpen)
		v1.GET("/reports/:id", s.handleGetReport)
		v1.PUT("/reports/:id/payload", s.limitWrites(), s.handleSave)
		v1.POST("/reports/:id/submit", s.limitWrites(), s.handleSubmit)
		v1.POST("/reports/:id/review", s.limitWrites(), s.handleStartReview)
		v1.POST("/reports/:id/approve", s.limitWrites(), s.handleApprove)
		v1.POST("/reports/:id/return", s.limitWrites(), s.handleReturn)
		v1.POST("/reports/:id/reopen", s.limitWrites(), s.handleReopen)
		v1.POST("/reports/:id/cancel", s.limitWrites(), s.handleCancel)
		v1.POST("/reports/:id/regenerate", s.limitWrites(), s.handleRegenerate)
		v1.GET("/reports/:id/document", s.handleDocumentLink)
		v1.GET("/reports/:id/documents", s.handleDocumentHistory)
		v1.GET("/reports/:id/jobs", s.handleListJobs)
		v1.GET("/jobs/:id", s.handlePollJob)
		v1.POST("/documents/:id/verify", s.handleVerifyDocument)
		v1.GET("/audit/:organization_id/verify", s.handleVerifyAuditChain)
	}

	s.r.NoRoute(func(c *gin.Context) {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
}

// Handler exposes the router so callers can mount it in their own http.Server.
func (s *Server) Handler() http.Handler {
	return s.r
}

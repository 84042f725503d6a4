package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qms-platform/signoff/internal/api/handlers"
	"github.com/qms-platform/signoff/internal/api/middleware"
	"github.com/qms-platform/signoff/internal/config"
	"github.com/qms-platform/signoff/internal/services"
	"github.com/qms-platform/signoff/internal/workflow"
	"github.com/qms-platform/signoff/pkg/metrics"
)

type Router struct {
	engine         *gin.Engine
	logger         *zap.Logger
	metrics        *metrics.MetricsCollector
	docHandler     *handlers.DocumentHandler
	authMiddleware *middleware.AuthMiddleware
}

func NewRouter(
	cfg *config.Configuration,
	logger *zap.Logger,
	metrics *metrics.MetricsCollector,
	docService *services.DocumentService,
	pdfService *services.PDFService,
	tokenService *services.TokenService,
) *Router {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.MaxMultipartMemory = pdfService.MaxBytes() + (1 << 20)

	reqMiddleware := middleware.NewRequestMiddleware(logger)
	logMiddleware := middleware.NewLoggingMiddleware(logger)

	engine.Use(reqMiddleware.ProcessRequest())
	engine.Use(reqMiddleware.RecoverPanic())
	engine.Use(logMiddleware.LogRequest())
	engine.Use(cors.New(corsConfig(cfg.CORS)))

	return &Router{
		engine:         engine,
		logger:         logger,
		metrics:        metrics,
		docHandler:     handlers.NewDocumentHandler(docService, pdfService, logger),
		authMiddleware: middleware.NewAuthMiddleware(tokenService, logger),
	}
}

func corsConfig(c config.CORSConfig) cors.Config {
	cc := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Disposition", middleware.RequestIDHeader},
		AllowCredentials: c.AllowCredentials,
		MaxAge:           12 * time.Hour,
	}
	if len(c.AllowedOrigins) == 0 || (len(c.AllowedOrigins) == 1 && c.AllowedOrigins[0] == "*") {
		cc.AllowAllOrigins = true
		// Wildcard origins cannot carry credentials.
		cc.AllowCredentials = false
	} else {
		cc.AllowOrigins = c.AllowedOrigins
	}
	return cc
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "up", "name": "signoff"})
	})

	r.engine.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"counters":  r.metrics.GetCounters(),
			"latencies": r.metrics.GetLatencies(),
			"sizes":     r.metrics.GetSizes(),
		})
	})

	v1 := r.engine.Group("/api/v1")
	v1.Use(r.authMiddleware.RequireAuth())
	docs := v1.Group("/documents")
	{
		docs.GET("", r.docHandler.ListDocuments)
		docs.POST("", r.docHandler.CreateDocument)
		docs.GET("/my-tasks", r.docHandler.MyTasks)
		docs.GET("/stats", r.docHandler.Stats)
		docs.GET("/:id", r.docHandler.GetDocument)
		docs.DELETE("/:id", r.authMiddleware.Authorize(workflow.CanDelete), r.docHandler.DeleteDocument)
		docs.POST("/:id/sign-requests/:rid/sign", r.docHandler.SignRequest)
		docs.POST("/:id/sign-requests/:rid/reject", r.docHandler.RejectRequest)
		docs.PATCH("/:id/sign-requests/:rid/placeholder", r.docHandler.SetPlaceholder)
		docs.POST("/:id/upload-pdf", r.docHandler.UploadPDF)
		docs.GET("/:id/pdf", r.docHandler.DownloadPDF)
		docs.GET("/:id/signoff-sheet", r.docHandler.SignoffSheet)
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

// Handler returns the router as an http.Handler for an http.Server.
func (r *Router) Handler() http.Handler {
	return r.engine
}

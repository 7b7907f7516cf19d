package api

import (
	"time"

	"ingredient-recognizer/internal/api/handlers/health"
	"ingredient-recognizer/internal/api/handlers/ingredient"
	"ingredient-recognizer/internal/api/middleware"
	"ingredient-recognizer/internal/core/image"
	"ingredient-recognizer/internal/infrastructure/config"
	"ingredient-recognizer/internal/pkg/common"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Dependencies 路由需要的服務，未啟用的流程保持 nil
type Dependencies struct {
	Images     *image.Service
	Recognizer ingredient.Recognizer
	Tags       ingredient.TagRecognizer
	Matcher    ingredient.Matcher

	Catalog      health.Pinger
	CatalogStats health.CatalogStats
	Queue        health.QueueStats
}

// SetupRouter 設置路由
func SetupRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	common.LogInfo("Starting router setup",
		zap.Bool("debug_mode", cfg.App.Debug),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Env),
	)

	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// 註冊基礎中間件
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(requestid.New(requestid.WithGenerator(common.GenerateUUID)))

	// CORS 設置
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Length", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}))

	// 請求體大小限制
	router.Use(middleware.BodySizeLimit(cfg.Server.MaxBodyBytes))

	// 健康檢查路由
	checker := health.NewChecker(cfg.App.Version, deps.Recognizer != nil, deps.Catalog, deps.CatalogStats, deps.Queue)
	router.GET("/health", checker.HealthCheck)
	router.GET("/ready", checker.ReadinessCheck)
	router.GET("/live", health.LivenessCheck)

	// API 路由組
	api := router.Group("/api/v1")
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
		api.Use(middleware.RateLimit(limiter, cfg.RateLimit.Window))
	}
	api.Use(middleware.Deduplication(middleware.NewDeduplicator(cfg.DedupWindow)))
	api.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	h := ingredient.NewHandler(deps.Images, deps.Recognizer, deps.Tags, deps.Matcher, cfg.App.Debug)
	ingredients := api.Group("/ingredients")
	{
		ingredients.POST("/recognize", h.Recognize)
		ingredients.POST("/tags", h.Tags)
		ingredients.POST("/match", h.Match)
	}

	common.LogInfo("Router setup completed",
		zap.Bool("vision_enabled", deps.Recognizer != nil),
		zap.Bool("tags_enabled", deps.Tags != nil),
		zap.Bool("catalog_enabled", deps.Matcher != nil),
		zap.Bool("rate_limit_enabled", cfg.RateLimit.Enabled),
		zap.Duration("request_timeout", cfg.Server.RequestTimeout),
		zap.Int64("max_body_size", cfg.Server.MaxBodyBytes),
	)

	return router
}

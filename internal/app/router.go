package app

import (
	"context"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/bugreport-api/api/swagger"
	"github.com/noah-isme/bugreport-api/internal/handler"
	"github.com/noah-isme/bugreport-api/internal/middleware"
	"github.com/noah-isme/bugreport-api/internal/models"
	"github.com/noah-isme/bugreport-api/pkg/config"
	"github.com/noah-isme/bugreport-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/bugreport-api/pkg/middleware/cors"
	"github.com/noah-isme/bugreport-api/pkg/middleware/ratelimit"
	reqidmiddleware "github.com/noah-isme/bugreport-api/pkg/middleware/requestid"
	"github.com/noah-isme/bugreport-api/pkg/tracing"
)

const maxMultipartMemory = 8 << 20

func (a *App) newRouter() *gin.Engine {
	cfg := a.Config
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.MaxMultipartMemory = maxMultipartMemory
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(tracing.GinMiddleware())
	r.Use(logger.GinMiddleware(a.Logger))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(a.Metrics))
	if cfg.RateLimit.Enabled {
		a.limiter = ratelimit.New(cfg.RateLimit.Requests, cfg.RateLimit.Window)
		r.Use(a.limiter.Middleware(ratelimit.ByClientIP))
	}

	checks := map[string]handler.Pinger{"postgres": a.DB}
	if a.Redis != nil {
		rdb := a.Redis
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}
	metricsHandler := handler.NewMetricsHandler(a.Metrics, checks)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	reportHandler := handler.NewReportHandler(a.services.reports)
	statusHandler := handler.NewStatusHandler(a.services.statuses)
	userHandler := handler.NewUserHandler(a.services.users)
	adminHandler := handler.NewAdminHandler(a.Sweeper)

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(a.Tokens))

	api.GET("/statuses", statusHandler.List)
	api.GET("/users/assignable", userHandler.ListAssignable)

	reports := api.Group("/reports")
	reports.GET("", reportHandler.List)
	reports.POST("", middleware.RequireRoles(models.RoleStudent), reportHandler.Create)
	reports.GET("/:id", reportHandler.Get)
	reports.PUT("/:id", reportHandler.Update)
	reports.DELETE("/:id", reportHandler.Delete)
	reports.POST("/:id/status", reportHandler.ChangeStatus)
	reports.POST("/:id/messages", reportHandler.AddMessage)
	reports.GET("/:id/history/export", reportHandler.ExportHistory)
	reports.GET("/:id/attachments/:attachmentId/download", reportHandler.DownloadAttachment)

	admin := api.Group("/admin", middleware.RequireRoles(models.RoleAdmin))
	admin.PUT("/users/roles", userHandler.ReplaceRoles)
	admin.POST("/sweeps", adminHandler.Sweep)

	return r
}

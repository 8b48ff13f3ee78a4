package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/praekelt/sideloader/internal/api/handler"
	"github.com/praekelt/sideloader/internal/api/middleware"
	"github.com/praekelt/sideloader/internal/core/build"
	"github.com/praekelt/sideloader/internal/core/release"
	"github.com/praekelt/sideloader/internal/pkg/config"
	"github.com/praekelt/sideloader/internal/repository"
	"github.com/praekelt/sideloader/internal/service"
)

// Setup 设置路由
func Setup(cfg *config.Config, pipeline *release.Pipeline, runner *build.Runner, logger *zap.Logger) *gin.Engine {
	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.CORSMiddleware())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// 获取数据库连接
	db := cfg.DB.(*gorm.DB)

	// 初始化Repository
	projectRepo := repository.NewProjectRepository(db)
	buildRepo := repository.NewBuildRepository(db)
	flowRepo := repository.NewFlowRepository(db)
	releaseRepo := repository.NewReleaseRepository(db)
	serverRepo := repository.NewServerRepository(db)
	targetRepo := repository.NewTargetRepository(db)

	// 初始化Service
	buildService := service.NewBuildService(projectRepo, buildRepo, runner, logger)
	serverService := service.NewServerService(serverRepo, targetRepo)
	releaseService := service.NewReleaseService(pipeline, releaseRepo, flowRepo, logger)

	// 初始化Handler
	buildHandler := handler.NewBuildHandler(buildService)
	releaseHandler := handler.NewReleaseHandler(releaseService, serverService)
	serverHandler := handler.NewServerHandler(serverService)

	// 入站回调: idhash 即凭证, 不加其他鉴权
	api := r.Group("/api")
	{
		api.GET("/build/:idhash", buildHandler.Trigger)
		api.POST("/build/:idhash", buildHandler.Trigger)
		api.GET("/sign/:idhash", releaseHandler.Sign)

		// 代理心跳需要签名校验
		api.POST("/checkin",
			middleware.AgentAuthMiddleware(cfg.Agent.AccessToken, cfg.Agent.SigningKey),
			serverHandler.Checkin)
	}

	// 管理接口
	v1 := r.Group("/api/v1")
	{
		projects := v1.Group("/projects")
		{
			projects.POST("/:id/build", buildHandler.TriggerByProject)
		}

		builds := v1.Group("/builds")
		{
			builds.GET("", buildHandler.List)
			builds.GET("/:id", buildHandler.Get)
			builds.GET("/:id/output", buildHandler.Output)
			builds.POST("/:id/cancel", buildHandler.Cancel)
		}

		flows := v1.Group("/flows")
		{
			flows.GET("/:id", releaseHandler.GetFlow)
			flows.GET("/:id/targets", releaseHandler.ListFlowTargets)
			flows.POST("/:id/push/:build_id", releaseHandler.Push)
			flows.POST("/:id/schedule/:build_id", releaseHandler.Schedule)
		}

		releases := v1.Group("/releases")
		{
			releases.POST("", releaseHandler.Create)
			releases.GET("/:id", releaseHandler.Get)
			releases.POST("/:id/run", releaseHandler.Run)
		}

		servers := v1.Group("/servers")
		{
			servers.GET("", serverHandler.List)
			servers.GET("/:name", serverHandler.Get)
		}
	}

	return r
}

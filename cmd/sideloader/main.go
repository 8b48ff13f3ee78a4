package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/praekelt/sideloader/internal/adapter/agent"
	"github.com/praekelt/sideloader/internal/adapter/notification"
	"github.com/praekelt/sideloader/internal/api/router"
	"github.com/praekelt/sideloader/internal/core"
	"github.com/praekelt/sideloader/internal/core/build"
	"github.com/praekelt/sideloader/internal/core/release"
	"github.com/praekelt/sideloader/internal/pkg/config"
	"github.com/praekelt/sideloader/internal/pkg/database"
	"github.com/praekelt/sideloader/internal/pkg/logger"
	"github.com/praekelt/sideloader/internal/repository"
	"github.com/praekelt/sideloader/internal/scheduler"
)

var (
	configFile = flag.String("config", "", "配置文件路径 (例如: -config=configs/config.yaml)")
	version    = flag.Bool("version", false, "显示版本信息")
)

const (
	appVersion = "1.0.0"
	appName    = "sideloader"
)

func main() {
	// 解析命令行参数
	flag.Parse()

	// 显示版本信息
	if *version {
		fmt.Printf("%s version %s\n", appName, appVersion)
		os.Exit(0)
	}

	// init config logger
	var cfg *config.Config
	{
		// 优先级: 命令行参数 > 环境变量 > 默认路径
		configPath := getConfigPath()

		// 加载配置
		c, err := config.Load(configPath)
		if err != nil {
			fmt.Printf("加载配置失败: %v\n", err)
			os.Exit(1)
		}
		cfg = c

		// 初始化日志
		if err := logger.Init(&cfg.Log); err != nil {
			fmt.Printf("初始化日志失败: %v\n", err)
			os.Exit(1)
		}
		logger.Info(fmt.Sprintf("Load config file: %s", configPath))

		defer func() {
			_ = logger.Close()
		}()
	}

	logger.Info(fmt.Sprintf("服务 %s 启动中...", appName), zap.String("version", appVersion))

	// 初始化数据库
	if err := database.Init(&cfg.Database); err != nil {
		logger.Fatal("初始化数据库失败", zap.Error(err))
	}
	defer func() {
		_ = database.Close()
	}()

	logger.Info(fmt.Sprintf("数据库连接成功 %s:%v", cfg.Database.Host, cfg.Database.Port), zap.String("database", cfg.Database.Database))

	// 注入数据库连接到配置
	cfg.DB = database.GetDB()
	db := database.GetDB()

	// 初始化Repository
	projectRepo := repository.NewProjectRepository(db)
	buildRepo := repository.NewBuildRepository(db)
	numberRepo := repository.NewBuildNumberRepository(db)
	flowRepo := repository.NewFlowRepository(db)
	streamRepo := repository.NewStreamRepository(db)
	releaseRepo := repository.NewReleaseRepository(db)
	serverRepo := repository.NewServerRepository(db)
	targetRepo := repository.NewTargetRepository(db)
	webhookRepo := repository.NewWebHookRepository(db)

	// 通知渠道
	var notifier notification.Notifier
	if cfg.Notification.Enabled && cfg.Notification.Provider == "slack" {
		notifier = notification.NewSlackNotifier(
			cfg.Notification.SlackHost,
			cfg.Notification.SlackToken,
			cfg.Notification.SlackChannel,
			true,
			config.ParseDuration(cfg.Notification.Timeout, 10*time.Second),
			logger.Log,
		)
	} else {
		notifier = notification.NewLogNotifier(logger.Log)
	}

	// 部署代理客户端工厂
	agentTimeout := config.ParseDuration(cfg.Agent.Timeout, 120*time.Second)
	agentFactory := func(host string) release.AgentClient {
		return agent.NewClient(host, cfg.Agent.Port, cfg.Agent.AccessToken, cfg.Agent.SigningKey, agentTimeout)
	}

	// 发布流水线
	pipeline := release.NewPipeline(release.Options{
		Projects:    projectRepo,
		Builds:      buildRepo,
		Flows:       flowRepo,
		Streams:     streamRepo,
		Releases:    releaseRepo,
		Targets:     targetRepo,
		Servers:     serverRepo,
		WebHooks:    webhookRepo,
		Notifier:    notifier,
		Agents:      agentFactory,
		ServerURL:   cfg.Server.URL,
		PackageDir:  cfg.Build.PackageDir,
		DownloadURL: cfg.Agent.DownloadURL,
	}, logger.Log)

	// 构建执行器
	runner := build.NewRunner(&cfg.Build, cfg.Server.URL,
		projectRepo, buildRepo, numberRepo, flowRepo, pipeline, notifier, logger.Log)

	// 初始化Core引擎（发布状态机）
	coreEngine := core.NewCoreEngine(pipeline, logger.Log)

	// 解析扫描间隔
	scanInterval := config.ParseDuration(cfg.Core.ScanInterval, 10*time.Second)

	// 启动Core引擎
	coreEngine.Start(scanInterval)
	logger.Info("Core引擎启动成功", zap.Duration("scan_interval", scanInterval))

	// 初始化并启动定时任务调度器
	taskScheduler := scheduler.NewScheduler(db, logger.Log)
	if err := taskScheduler.Start(cfg); err != nil {
		logger.Warn("定时任务调度器启动失败", zap.Error(err))
	}

	// 设置路由
	r := router.Setup(cfg, pipeline, runner, logger.Log)

	// 创建HTTP服务器
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	// 启动服务器
	go func() {
		logger.Info(fmt.Sprintf("%s 服务启动成功", cfg.Server.Name),
			zap.String("address", addr),
			zap.String("mode", cfg.Server.Mode),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("服务器启动失败", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("服务正在关闭...")

	// 关闭定时任务调度器
	taskScheduler.Stop()
	logger.Info("定时任务调度器已停止")

	// 关闭Core引擎, 等待在途发布收尾
	coreEngine.Stop()
	logger.Info("Core引擎已停止")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}

	logger.Info("服务已关闭")
}

// getConfigPath 获取配置文件路径
// 优先级: 命令行参数 > 环境变量 > 默认路径
func getConfigPath() string {
	// 1. 命令行参数
	if *configFile != "" {
		return *configFile
	}

	// 2. 环境变量
	if envConfig := os.Getenv("CONFIG_FILE"); envConfig != "" {
		return envConfig
	}

	// 3. 默认路径
	return "configs/config.yaml"
}

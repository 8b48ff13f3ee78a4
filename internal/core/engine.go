package core

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/praekelt/sideloader/internal/core/release"
)

// CoreEngine 发布核心引擎
//
// 周期驱动发布流水线扫描等待中的发布并推进状态机。
type CoreEngine struct {
	pipeline *release.Pipeline
	logger   *zap.Logger
	running  bool
	stopChan chan struct{}
}

// NewCoreEngine 创建核心引擎
func NewCoreEngine(pipeline *release.Pipeline, logger *zap.Logger) *CoreEngine {
	return &CoreEngine{
		pipeline: pipeline,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start 启动核心引擎
func (e *CoreEngine) Start(scanInterval time.Duration) {
	if e.running {
		e.logger.Warn("核心引擎已在运行中")
		return
	}

	e.running = true
	e.logger.Info("CoreEngine starting...", zap.Duration("scan_interval", scanInterval))

	go e.runScanner(scanInterval)
}

// Stop 停止核心引擎, 等待在途发布任务收尾
func (e *CoreEngine) Stop() {
	if !e.running {
		return
	}

	e.logger.Info("正在停止核心引擎...")
	close(e.stopChan)
	e.pipeline.Wait()
	e.running = false
	e.logger.Info("核心引擎已停止")
}

// runScanner 运行发布扫描循环
func (e *CoreEngine) runScanner(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.pipeline.Tick(context.Background())
		case <-e.stopChan:
			return
		}
	}
}

package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/praekelt/sideloader/internal/dto"
	"github.com/praekelt/sideloader/internal/pkg/logger"
	"github.com/praekelt/sideloader/internal/service"
	pkgErrors "github.com/praekelt/sideloader/pkg/errors"
	"github.com/praekelt/sideloader/pkg/utils"
)

// ServerHandler 服务器处理器
type ServerHandler struct {
	serverService service.ServerService
}

// NewServerHandler 创建服务器处理器
func NewServerHandler(serverService service.ServerService) *ServerHandler {
	return &ServerHandler{serverService: serverService}
}

// Checkin 接收代理心跳上报
func (h *ServerHandler) Checkin(c *gin.Context) {
	var req dto.CheckinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorWithDetail(c, pkgErrors.CodeBadRequest, "请求参数错误", utils.FormatValidationError(err))
		return
	}

	if err := h.serverService.Checkin(&req); err != nil {
		logger.Error("处理心跳上报失败", zap.String("host", req.Host), zap.Error(err))
		utils.Error(c, err)
		return
	}
	utils.Success(c, gin.H{"message": "ok"})
}

// List 查询全部服务器
func (h *ServerHandler) List(c *gin.Context) {
	resp, err := h.serverService.List()
	if err != nil {
		utils.Error(c, err)
		return
	}
	utils.Success(c, resp)
}

// Get 按主机名查询服务器
func (h *ServerHandler) Get(c *gin.Context) {
	resp, err := h.serverService.GetByName(c.Param("name"))
	if err != nil {
		utils.Error(c, err)
		return
	}
	utils.Success(c, resp)
}

package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/praekelt/sideloader/internal/dto"
	"github.com/praekelt/sideloader/internal/pkg/logger"
	"github.com/praekelt/sideloader/internal/service"
	pkgErrors "github.com/praekelt/sideloader/pkg/errors"
	"github.com/praekelt/sideloader/pkg/utils"
)

// ReleaseHandler 发布处理器
type ReleaseHandler struct {
	releaseService service.ReleaseService
	serverService  service.ServerService
}

// NewReleaseHandler 创建发布处理器
func NewReleaseHandler(releaseService service.ReleaseService, serverService service.ServerService) *ReleaseHandler {
	return &ReleaseHandler{releaseService: releaseService, serverService: serverService}
}

// Create 手动创建发布
func (h *ReleaseHandler) Create(c *gin.Context) {
	var req dto.ReleaseCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorWithDetail(c, pkgErrors.CodeBadRequest, "请求参数错误", utils.FormatValidationError(err))
		return
	}

	resp, err := h.releaseService.Create(c.Request.Context(), &req)
	if err != nil {
		logger.Error("创建发布失败", zap.Error(err))
		utils.Error(c, err)
		return
	}
	utils.Success(c, resp)
}

// Push 对流立即发布指定构建
func (h *ReleaseHandler) Push(c *gin.Context) {
	flowID, buildID, ok := flowBuildParams(c)
	if !ok {
		return
	}

	resp, err := h.releaseService.Create(c.Request.Context(), &dto.ReleaseCreateRequest{
		BuildID: buildID,
		FlowID:  flowID,
	})
	if err != nil {
		logger.Error("创建发布失败", zap.Int64("flow_id", flowID), zap.Error(err))
		utils.Error(c, err)
		return
	}
	utils.Success(c, resp)
}

// Schedule 对流定时发布指定构建
func (h *ReleaseHandler) Schedule(c *gin.Context) {
	flowID, buildID, ok := flowBuildParams(c)
	if !ok {
		return
	}

	var req dto.ReleaseScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorWithDetail(c, pkgErrors.CodeBadRequest, "请求参数错误", utils.FormatValidationError(err))
		return
	}

	resp, err := h.releaseService.Create(c.Request.Context(), &dto.ReleaseCreateRequest{
		BuildID:   buildID,
		FlowID:    flowID,
		Scheduled: &req.Scheduled,
	})
	if err != nil {
		logger.Error("创建定时发布失败", zap.Int64("flow_id", flowID), zap.Error(err))
		utils.Error(c, err)
		return
	}
	utils.Success(c, resp)
}

// Run 手动执行发布, 不等下个扫描周期
func (h *ReleaseHandler) Run(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		utils.ErrorWithCode(c, pkgErrors.CodeBadRequest, "无效的发布ID")
		return
	}

	resp, err := h.releaseService.Run(c.Request.Context(), id)
	if err != nil {
		utils.Error(c, err)
		return
	}
	utils.Success(c, resp)
}

func flowBuildParams(c *gin.Context) (flowID, buildID int64, ok bool) {
	flowID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		utils.ErrorWithCode(c, pkgErrors.CodeBadRequest, "无效的流ID")
		return 0, 0, false
	}
	buildID, err = strconv.ParseInt(c.Param("build_id"), 10, 64)
	if err != nil {
		utils.ErrorWithCode(c, pkgErrors.CodeBadRequest, "无效的构建ID")
		return 0, 0, false
	}
	return flowID, buildID, true
}

// Get 查询发布详情
func (h *ReleaseHandler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		utils.ErrorWithCode(c, pkgErrors.CodeBadRequest, "无效的发布ID")
		return
	}

	resp, err := h.releaseService.GetByID(id)
	if err != nil {
		utils.Error(c, err)
		return
	}
	utils.Success(c, resp)
}

// Sign 签核回调, 签核人点击邮件或消息里的链接到达
func (h *ReleaseHandler) Sign(c *gin.Context) {
	idhash := c.Param("idhash")

	resp, err := h.releaseService.Sign(c.Request.Context(), idhash)
	if err != nil {
		logger.Warn("签核请求失败", zap.String("idhash", idhash), zap.Error(err))
		utils.Error(c, err)
		return
	}
	utils.SuccessWithMessage(c, resp.Message, resp)
}

// GetFlow 查询发布流详情
func (h *ReleaseHandler) GetFlow(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		utils.ErrorWithCode(c, pkgErrors.CodeBadRequest, "无效的流ID")
		return
	}

	resp, err := h.releaseService.GetFlow(id)
	if err != nil {
		utils.Error(c, err)
		return
	}
	utils.Success(c, resp)
}

// ListFlowTargets 查询流的部署目标
func (h *ReleaseHandler) ListFlowTargets(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		utils.ErrorWithCode(c, pkgErrors.CodeBadRequest, "无效的流ID")
		return
	}

	resp, err := h.serverService.ListTargets(id)
	if err != nil {
		utils.Error(c, err)
		return
	}
	utils.Success(c, resp)
}

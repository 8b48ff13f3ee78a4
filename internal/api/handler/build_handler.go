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

// BuildHandler 构建处理器
type BuildHandler struct {
	buildService service.BuildService
}

// NewBuildHandler 创建构建处理器
func NewBuildHandler(buildService service.BuildService) *BuildHandler {
	return &BuildHandler{buildService: buildService}
}

// Trigger 接收仓库 push 钩子触发构建
//
// 项目用不可猜测的 idhash 定位, 钩子无需其他鉴权。
func (h *BuildHandler) Trigger(c *gin.Context) {
	idhash := c.Param("idhash")

	var req dto.BuildTriggerRequest
	_ = c.ShouldBind(&req)

	log := logger.Log.Sugar().With(zap.String("idhash", idhash), zap.String("ref", req.Ref))
	log.Info("收到构建触发请求")

	resp, err := h.buildService.Trigger(c.Request.Context(), idhash, req.Ref)
	if err != nil {
		log.Errorf("处理构建触发失败: %v", err)
		utils.Error(c, err)
		return
	}

	utils.SuccessWithMessage(c, resp.Result, resp)
}

// TriggerByProject 运营侧手动触发构建, 与钩子走同一套排队去重
func (h *BuildHandler) TriggerByProject(c *gin.Context) {
	projectID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		utils.ErrorWithCode(c, pkgErrors.CodeBadRequest, "无效的项目ID")
		return
	}

	resp, err := h.buildService.TriggerByProject(c.Request.Context(), projectID)
	if err != nil {
		logger.Error("手动触发构建失败", zap.Int64("project_id", projectID), zap.Error(err))
		utils.Error(c, err)
		return
	}
	utils.SuccessWithMessage(c, resp.Result, resp)
}

// Get 查询构建详情
func (h *BuildHandler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		utils.ErrorWithCode(c, pkgErrors.CodeBadRequest, "无效的构建ID")
		return
	}

	resp, err := h.buildService.GetByID(id)
	if err != nil {
		utils.Error(c, err)
		return
	}
	utils.Success(c, resp)
}

// Output 查询构建实时输出
func (h *BuildHandler) Output(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		utils.ErrorWithCode(c, pkgErrors.CodeBadRequest, "无效的构建ID")
		return
	}

	resp, err := h.buildService.GetOutput(id)
	if err != nil {
		utils.Error(c, err)
		return
	}
	utils.Success(c, resp)
}

// Cancel 取消排队中的构建
func (h *BuildHandler) Cancel(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		utils.ErrorWithCode(c, pkgErrors.CodeBadRequest, "无效的构建ID")
		return
	}

	if err := h.buildService.Cancel(id); err != nil {
		utils.Error(c, err)
		return
	}
	utils.Success(c, gin.H{"message": "构建已取消"})
}

// List 按项目查询构建列表
func (h *BuildHandler) List(c *gin.Context) {
	var query dto.BuildListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		utils.ErrorWithDetail(c, pkgErrors.CodeBadRequest, "请求参数错误", utils.FormatValidationError(err))
		return
	}

	resp, err := h.buildService.ListByProject(query.ProjectID, query.Limit)
	if err != nil {
		utils.Error(c, err)
		return
	}
	utils.Success(c, resp)
}

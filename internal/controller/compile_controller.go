package controller

import (
	"errors"
	"net/http"

	"techquest_backend/internal/session"
	"techquest_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// CompileController 编辑器外直接运行代码
type CompileController struct {
	Executor session.CodeExecutionService
}

func NewCompileController(executor session.CodeExecutionService) *CompileController {
	return &CompileController{Executor: executor}
}

// swagger:model CompileRequest
type CompileRequest struct {
	Code     string `json:"code" binding:"required"`
	Language string `json:"language" binding:"required"`
	Input    string `json:"input"`
}

// Compile godoc
// @Summary 运行代码
// @Description 输出为 stdout，stdout 为空时返回 stderr
// @Tags 代码运行
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CompileRequest true "代码"
// @Success 200 {object} util.Response{data=map[string]string}
// @Failure 400 {object} util.Response "不支持的语言"
// @Failure 502 {object} util.Response "运行服务不可用"
// @Router /api/compile [post]
func (c *CompileController) Compile(ctx *gin.Context) {
	var req CompileRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	res, err := c.Executor.Run(ctx.Request.Context(), session.RunRequest{
		Code:     req.Code,
		Language: req.Language,
		Stdin:    req.Input,
	})
	if err != nil {
		if errors.Is(err, util.ErrUnsupportedLanguage) {
			util.BadRequest(ctx, err.Error())
			return
		}
		util.Error(ctx, http.StatusBadGateway, "Error: "+err.Error())
		return
	}

	output := res.Stdout
	if output == "" {
		output = res.Stderr
	}
	util.Success(ctx, gin.H{"output": output})
}

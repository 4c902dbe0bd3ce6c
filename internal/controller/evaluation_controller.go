package controller

import (
	"net/http"

	"techquest_backend/internal/session"
	"techquest_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type EvaluationController struct {
	Evaluator session.EvaluationService
}

func NewEvaluationController(evaluator session.EvaluationService) *EvaluationController {
	return &EvaluationController{Evaluator: evaluator}
}

// EvaluateQuiz godoc
// @Summary 直接评测一组提交
// @Description 教师调试评分标准用，结果同样发送到 ownerEmail
// @Tags 教师
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body session.EvaluationRequest true "提交内容"
// @Success 200 {object} util.Response{data=session.EvaluationResult}
// @Failure 400 {object} util.Response "参数错误"
// @Failure 502 {object} util.Response "评测失败"
// @Router /api/evaluate-quiz [post]
func (c *EvaluationController) EvaluateQuiz(ctx *gin.Context) {
	var req session.EvaluationRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	if user := util.GetUserFromContext(ctx); user != nil {
		req.UserID = user.UserID
	}

	res, err := c.Evaluator.Evaluate(ctx.Request.Context(), req)
	if err != nil {
		if isClientError(err) {
			respondError(ctx, err)
			return
		}
		util.Error(ctx, http.StatusBadGateway, "Evaluation failed: "+err.Error())
		return
	}
	util.Success(ctx, res)
}

package controller

import (
	"techquest_backend/internal/service"
	"techquest_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type QuizController struct {
	QuizService       *service.QuizService
	EvaluationService *service.EvaluationService
}

func NewQuizController(quizService *service.QuizService, evaluationService *service.EvaluationService) *QuizController {
	return &QuizController{QuizService: quizService, EvaluationService: evaluationService}
}

// swagger:model SetRubricRequest
type SetRubricRequest struct {
	RubricType   string `json:"rubricType" binding:"required,oneof=default custom"`
	CustomRubric string `json:"customRubric"`
}

// ListQuizzes godoc
// @Summary 我的测验列表
// @Description 自己创建的普通测验和被布置的测验，附带按钮文案和状态
// @Tags 测验
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response{data=[]service.QuizSummary}
// @Router /api/quizzes [get]
func (c *QuizController) ListQuizzes(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	list, err := c.QuizService.ListQuizzes(ctx.Request.Context(), user.UserID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, list)
}

// GetQuiz godoc
// @Summary 测验详情
// @Tags 测验
// @Produce json
// @Security BearerAuth
// @Param id path int true "测验ID"
// @Success 200 {object} util.Response{data=service.QuizSummary}
// @Failure 403 {object} util.Response "无权访问"
// @Failure 404 {object} util.Response "测验不存在"
// @Router /api/quizzes/{id} [get]
func (c *QuizController) GetQuiz(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	id, err := util.ParseID(ctx.Param("id"))
	if err != nil {
		util.BadRequest(ctx, "测验ID无效")
		return
	}
	summary, err := c.QuizService.GetQuizSummary(ctx.Request.Context(), id, user.UserID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, summary)
}

// ResolveAssignment godoc
// @Summary 通过分享链接打开布置的测验
// @Tags 测验
// @Produce json
// @Security BearerAuth
// @Param link path string true "分享链接"
// @Success 200 {object} util.Response{data=service.QuizSummary}
// @Failure 403 {object} util.Response "不在布置名单中"
// @Failure 404 {object} util.Response "链接不存在"
// @Router /api/assignments/{link} [get]
func (c *QuizController) ResolveAssignment(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	summary, err := c.QuizService.ResolveAssignment(ctx.Request.Context(), ctx.Param("link"), user.UserID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, summary)
}

// SetRubric godoc
// @Summary 设置评分标准
// @Description 测验创建者或管理员设置自定义评分标准，评测时替换默认标准
// @Tags 教师
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "测验ID"
// @Param request body SetRubricRequest true "评分标准"
// @Success 200 {object} util.Response
// @Failure 400 {object} util.Response "评分标准为空"
// @Failure 403 {object} util.Response "不是测验创建者"
// @Router /api/teacher/quizzes/{id}/rubric [put]
func (c *QuizController) SetRubric(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	id, err := util.ParseID(ctx.Param("id"))
	if err != nil {
		util.BadRequest(ctx, "测验ID无效")
		return
	}
	var req SetRubricRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	if err := c.QuizService.SetRubric(ctx.Request.Context(), id, user.UserID, user.Role, req.RubricType, req.CustomRubric); err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"quizId": id, "rubricType": req.RubricType})
}

// ListEvaluations godoc
// @Summary 测验的历史评测
// @Tags 教师
// @Produce json
// @Security BearerAuth
// @Param id path int true "测验ID"
// @Success 200 {object} util.Response{data=[]model.Evaluation}
// @Failure 403 {object} util.Response "不是测验创建者"
// @Router /api/teacher/quizzes/{id}/evaluations [get]
func (c *QuizController) ListEvaluations(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	id, err := util.ParseID(ctx.Param("id"))
	if err != nil {
		util.BadRequest(ctx, "测验ID无效")
		return
	}
	list, err := c.EvaluationService.ListForOwner(ctx.Request.Context(), id, user.UserID, user.Role)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, list)
}

package controller

import (
	"net/http"

	"techquest_backend/internal/session"
	"techquest_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// SessionController 答题会话接口
type SessionController struct {
	Manager *session.Manager
}

func NewSessionController(manager *session.Manager) *SessionController {
	return &SessionController{Manager: manager}
}

// swagger:model OpenSessionRequest
type OpenSessionRequest struct {
	QuizID uint `json:"quizId" binding:"required"`
}

// swagger:model SetCodeRequest
type SetCodeRequest struct {
	Code string `json:"code"`
}

// swagger:model SetLanguageRequest
type SetLanguageRequest struct {
	Language string `json:"language" binding:"required"`
}

// swagger:model RunCodeRequest
type RunCodeRequest struct {
	Stdin string `json:"stdin"`
}

// swagger:model FinishRequest
type FinishRequest struct {
	Confirm bool `json:"confirm"`
}

func (c *SessionController) load(ctx *gin.Context) (*session.Controller, bool) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return nil, false
	}
	sess, err := c.Manager.Get(ctx.Param("id"), user.UserID)
	if err != nil {
		respondError(ctx, err)
		return nil, false
	}
	return sess, true
}

// Open godoc
// @Summary 打开答题会话
// @Description 加载测验并自动开始；已完成的普通测验会重新开始，已完成的布置测验返回 409
// @Tags 答题会话
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body OpenSessionRequest true "测验ID"
// @Success 201 {object} util.Response{data=session.View}
// @Failure 403 {object} util.Response "角色不允许"
// @Failure 404 {object} util.Response "测验不存在"
// @Failure 409 {object} util.Response "测验已提交"
// @Router /api/sessions [post]
func (c *SessionController) Open(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req OpenSessionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	sess, err := c.Manager.Open(ctx.Request.Context(), user.UserID, user.Role, req.QuizID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Created(ctx, sess.Snapshot())
}

// Get godoc
// @Summary 获取会话快照
// @Tags 答题会话
// @Produce json
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Success 200 {object} util.Response{data=session.View}
// @Failure 404 {object} util.Response "会话不存在"
// @Router /api/sessions/{id} [get]
func (c *SessionController) Get(ctx *gin.Context) {
	sess, ok := c.load(ctx)
	if !ok {
		return
	}
	util.Success(ctx, sess.Snapshot())
}

// Close godoc
// @Summary 关闭会话
// @Description 丢弃未提交的内容，不改变测验状态
// @Tags 答题会话
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Success 200 {object} util.Response
// @Router /api/sessions/{id} [delete]
func (c *SessionController) Close(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	if err := c.Manager.Close(ctx.Param("id"), user.UserID); err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// SetCode godoc
// @Summary 更新编辑器内容
// @Tags 答题会话
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Param request body SetCodeRequest true "代码"
// @Success 200 {object} util.Response{data=session.View}
// @Router /api/sessions/{id}/code [put]
func (c *SessionController) SetCode(ctx *gin.Context) {
	sess, ok := c.load(ctx)
	if !ok {
		return
	}
	var req SetCodeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	if err := sess.SetCode(req.Code); err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, sess.Snapshot())
}

// SetLanguage godoc
// @Summary 切换编程语言
// @Tags 答题会话
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Param request body SetLanguageRequest true "语言"
// @Success 200 {object} util.Response{data=session.View}
// @Failure 400 {object} util.Response "不支持的语言"
// @Router /api/sessions/{id}/language [put]
func (c *SessionController) SetLanguage(ctx *gin.Context) {
	sess, ok := c.load(ctx)
	if !ok {
		return
	}
	var req SetLanguageRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	if err := sess.SetLanguage(req.Language); err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, sess.Snapshot())
}

// Next godoc
// @Summary 下一题
// @Tags 答题会话
// @Produce json
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Success 200 {object} util.Response{data=session.View}
// @Failure 400 {object} util.Response "已是最后一题"
// @Router /api/sessions/{id}/next [post]
func (c *SessionController) Next(ctx *gin.Context) {
	c.step(ctx, (*session.Controller).Next)
}

// Previous godoc
// @Summary 上一题
// @Tags 答题会话
// @Produce json
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Success 200 {object} util.Response{data=session.View}
// @Failure 400 {object} util.Response "已是第一题"
// @Router /api/sessions/{id}/previous [post]
func (c *SessionController) Previous(ctx *gin.Context) {
	c.step(ctx, (*session.Controller).Previous)
}

func (c *SessionController) step(ctx *gin.Context, move func(*session.Controller) error) {
	sess, ok := c.load(ctx)
	if !ok {
		return
	}
	if err := move(sess); err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, sess.Snapshot())
}

// Pause godoc
// @Summary 暂停计时
// @Tags 答题会话
// @Produce json
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Success 200 {object} util.Response{data=session.View}
// @Router /api/sessions/{id}/pause [post]
func (c *SessionController) Pause(ctx *gin.Context) {
	sess, ok := c.load(ctx)
	if !ok {
		return
	}
	sess.Pause()
	util.Success(ctx, sess.Snapshot())
}

// Resume godoc
// @Summary 继续计时
// @Tags 答题会话
// @Produce json
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Success 200 {object} util.Response{data=session.View}
// @Router /api/sessions/{id}/resume [post]
func (c *SessionController) Resume(ctx *gin.Context) {
	sess, ok := c.load(ctx)
	if !ok {
		return
	}
	sess.Resume()
	util.Success(ctx, sess.Snapshot())
}

// Start godoc
// @Summary 重试开始测验
// @Description 打开会话时开始失败后使用
// @Tags 答题会话
// @Produce json
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Success 200 {object} util.Response{data=session.View}
// @Failure 409 {object} util.Response "测验已提交"
// @Failure 502 {object} util.Response "测验服务不可用"
// @Router /api/sessions/{id}/start [post]
func (c *SessionController) Start(ctx *gin.Context) {
	sess, ok := c.load(ctx)
	if !ok {
		return
	}
	if err := sess.Start(ctx.Request.Context()); err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, sess.Snapshot())
}

// Run godoc
// @Summary 运行当前代码
// @Description 运行失败时 output 为错误信息，状态码仍为 200
// @Tags 答题会话
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Param request body RunCodeRequest false "标准输入"
// @Success 200 {object} util.Response{data=session.RunOutput}
// @Router /api/sessions/{id}/run [post]
func (c *SessionController) Run(ctx *gin.Context) {
	sess, ok := c.load(ctx)
	if !ok {
		return
	}
	var req RunCodeRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			util.BadRequest(ctx, err.Error())
			return
		}
	}
	out, err := sess.Run(ctx.Request.Context(), req.Stdin)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, out)
}

// Submit godoc
// @Summary 提交当前题目
// @Description 只记录代码，结束答题时统一评测
// @Tags 答题会话
// @Produce json
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Success 200 {object} util.Response{data=session.SubmitResult}
// @Failure 400 {object} util.Response "代码为空"
// @Router /api/sessions/{id}/submit [post]
func (c *SessionController) Submit(ctx *gin.Context) {
	sess, ok := c.load(ctx)
	if !ok {
		return
	}
	res, err := sess.SubmitQuestion()
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, res)
}

// Finish godoc
// @Summary 结束答题
// @Description confirm 为 false 时返回 409 和确认提示；评测或结束失败返回 502，会话保持进行中
// @Tags 答题会话
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Param request body FinishRequest true "是否确认"
// @Success 200 {object} util.Response{data=session.FinishOutcome}
// @Failure 409 {object} util.Response{data=session.FinishPrompt} "需要确认"
// @Failure 502 {object} util.Response "评测失败"
// @Router /api/sessions/{id}/finish [post]
func (c *SessionController) Finish(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	var req FinishRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			util.BadRequest(ctx, err.Error())
			return
		}
	}

	out, err := c.Manager.Finish(ctx.Request.Context(), ctx.Param("id"), user.UserID, func(session.FinishPrompt) bool {
		return req.Confirm
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	if !out.Confirmed {
		util.ErrorWithData(ctx, http.StatusConflict, out.Prompt.Message, out.Prompt)
		return
	}
	util.Success(ctx, out)
}

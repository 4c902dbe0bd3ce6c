package controller

import (
	"errors"
	"net/http"

	"techquest_backend/internal/session"
	"techquest_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// respondError 把会话和服务层错误映射为 HTTP 状态码
func respondError(ctx *gin.Context, err error) {
	var (
		validation *session.ValidationError
		terminal   *session.TerminalStateError
		conflict   *session.FinishConflictError
		transient  *session.TransientServiceError
	)

	switch {
	case errors.As(err, &validation):
		util.BadRequest(ctx, validation.Reason)
	case errors.As(err, &terminal):
		util.Conflict(ctx, terminal.Error())
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrSessionCompleted):
		util.Conflict(ctx, err.Error())
	case errors.As(err, &conflict):
		util.Error(ctx, http.StatusBadGateway, conflict.Error())
	case errors.Is(err, session.ErrRoleNotPermitted), errors.Is(err, util.ErrPermissionDenied):
		util.Forbidden(ctx)
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, util.ErrQuizNotFound),
		errors.Is(err, util.ErrAssignmentNotFound),
		errors.Is(err, util.ErrAttemptNotFound):
		util.NotFound(ctx)
	case errors.Is(err, session.ErrNoQuestions),
		errors.Is(err, util.ErrUnsupportedLanguage),
		errors.Is(err, util.ErrNoSubmissions),
		errors.Is(err, util.ErrMissingOwnerContact),
		errors.Is(err, util.ErrInvalidRubric):
		util.BadRequest(ctx, err.Error())
	case errors.As(err, &transient):
		util.Error(ctx, http.StatusBadGateway, transient.Error())
	default:
		util.LogInternalError(ctx, err)
	}
}

// isClientError 请求本身有问题，而不是下游服务失败
func isClientError(err error) bool {
	return errors.Is(err, util.ErrNoSubmissions) ||
		errors.Is(err, util.ErrMissingOwnerContact) ||
		errors.Is(err, util.ErrUnsupportedLanguage) ||
		errors.Is(err, util.ErrQuizNotFound)
}

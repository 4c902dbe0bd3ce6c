package session

import (
	"errors"
	"fmt"
)

// ValidationError 本地校验失败，不会调用任何外部服务
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Reason
}

var (
	ErrEmptySubmission     = &ValidationError{Reason: "empty submission"}
	ErrNoPreviousQuestion  = &ValidationError{Reason: "already at the first question"}
	ErrNoNextQuestion      = &ValidationError{Reason: "already at the last question"}
	ErrUnsupportedLanguage = &ValidationError{Reason: "unsupported language"}
	ErrInvalidDuration     = &ValidationError{Reason: "quiz duration must be positive"}
)

// TransientServiceError Start/Run 等调用失败，会话继续
type TransientServiceError struct {
	Op  string
	Err error
}

func (e *TransientServiceError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *TransientServiceError) Unwrap() error { return e.Err }

const (
	StageOwnerContact = "owner_contact"
	StageEvaluate     = "evaluate"
	StageFinish       = "finish"
)

// FinishConflictError 评测或结束失败，会话保持 IN_PROGRESS，可重试
type FinishConflictError struct {
	Stage string
	Err   error
}

func (e *FinishConflictError) Error() string {
	if e.Stage == StageFinish {
		return fmt.Sprintf("Could not finish quiz: %v", e.Err)
	}
	return fmt.Sprintf("Evaluation failed: %v", e.Err)
}

func (e *FinishConflictError) Unwrap() error { return e.Err }

// TerminalStateError 已完成的指派测验不可再次进入
type TerminalStateError struct {
	QuizID uint
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("quiz %d already submitted", e.QuizID)
}

var (
	ErrBusy             = errors.New("evaluation in progress")
	ErrSessionCompleted = errors.New("quiz session already completed")
	ErrRoleNotPermitted = errors.New("role is not permitted to take this quiz")
	ErrNoQuestions      = errors.New("quiz has no questions")
	ErrSessionNotFound  = errors.New("session not found")
	ErrNoOwnerContact   = errors.New("could not determine quiz owner email")
	ErrEvaluationFailed = errors.New("evaluation service reported failure")
)

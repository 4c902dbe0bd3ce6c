package session

import (
	"context"
	"time"

	"techquest_backend/internal/model"
)

type State string

const (
	NotStarted State = "NOT_STARTED"
	InProgress State = "IN_PROGRESS"
	Completed  State = "COMPLETED"
)

const (
	LabelStart   = "Start Quiz"
	LabelResume  = "Resume Quiz"
	LabelRestart = "Restart Quiz"
)

// DeriveState 状态只由后端记录的两个时间戳决定
func DeriveState(startedAt, finishedAt *time.Time) State {
	switch {
	case startedAt == nil:
		return NotStarted
	case finishedAt == nil:
		return InProgress
	default:
		return Completed
	}
}

// Label 测验按钮文案，同时用于判断可执行的动作
func Label(startedAt, finishedAt *time.Time) string {
	if startedAt == nil {
		return LabelStart
	}
	if finishedAt == nil {
		return LabelResume
	}
	return LabelRestart
}

// Restartable 只有普通测验在完成后可以重新开始
func Restartable(quizType model.QuizType, startedAt, finishedAt *time.Time) bool {
	return quizType == model.QuizRegular && DeriveState(startedAt, finishedAt) == Completed
}

// CanTake 学生可参加任何测验，教师和管理员只能练习普通测验
func CanTake(role model.UserRole, quizType model.QuizType) bool {
	switch role {
	case model.Student:
		return true
	case model.Teacher, model.Admin:
		return quizType == model.QuizRegular
	}
	return false
}

type TimeoutPolicy string

const (
	// AutoFinish 倒计时归零时自动结束答题（跳过确认）
	AutoFinish TimeoutPolicy = "auto_finish"
	// TimeoutNone 归零后只停止计时
	TimeoutNone TimeoutPolicy = "none"
)

type Question struct {
	ID          uint   `json:"id"`
	Description string `json:"description"`
	Difficulty  string `json:"difficulty"`
}

// Quiz getQuizWithQuestions 的返回结构
type Quiz struct {
	ID              uint
	Title           string
	DurationMinutes int
	Type            model.QuizType
	Questions       []Question
	StartedAt       *time.Time
	FinishedAt      *time.Time
}

type Timestamps struct {
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// QuizDataService 测验数据服务，实现方已绑定到具体答题用户
type QuizDataService interface {
	GetQuizWithQuestions(ctx context.Context, quizID uint) (*Quiz, error)
	StartQuiz(ctx context.Context, quizID uint) (Timestamps, error)
	FinishQuiz(ctx context.Context, quizID uint) (Timestamps, error)
	ResetFinishedAt(ctx context.Context, quizID uint) (Timestamps, error)
	GetOwnerContact(ctx context.Context, quizID uint) (string, error)
}

type RunRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Stdin    string `json:"stdin"`
}

type RunResult struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

type CodeExecutionService interface {
	Run(ctx context.Context, req RunRequest) (RunResult, error)
}

type SubmissionEntry struct {
	QuestionID   uint   `json:"questionId" binding:"required"`
	QuestionText string `json:"questionText"`
	Code         string `json:"code" binding:"required"`
	Language     string `json:"language"`
}

type EvaluationRequest struct {
	QuizID       uint              `json:"quizId" binding:"required"`
	Submissions  []SubmissionEntry `json:"submissions"`
	OwnerContact string            `json:"ownerEmail"`
	Language     string            `json:"language"`
	// 答题人，直接调用评测接口时为空
	UserID uint `json:"-"`
}

type EvaluationResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	ReportURL string `json:"reportUrl,omitempty"`
}

type EvaluationService interface {
	Evaluate(ctx context.Context, req EvaluationRequest) (EvaluationResult, error)
}

// FinishPrompt 结束前展示给用户的确认信息
type FinishPrompt struct {
	Submitted int    `json:"submitted"`
	Total     int    `json:"total"`
	Message   string `json:"message"`
}

// ConfirmFunc 返回 false 表示用户取消，会话保持不变
type ConfirmFunc func(FinishPrompt) bool

type FinishOutcome struct {
	Confirmed     bool          `json:"confirmed"`
	Prompt        FinishPrompt  `json:"prompt"`
	Completed     bool          `json:"completed"`
	Evaluated     bool          `json:"evaluated"`
	Message       string        `json:"message,omitempty"`
	RedirectTo    string        `json:"redirectTo,omitempty"`
	RedirectAfter time.Duration `json:"-"`
	RedirectMs    int64         `json:"redirectAfterMs"`
}

type SubmitResult struct {
	QuestionID     uint   `json:"questionId"`
	AttemptedCount int    `json:"attemptedCount"`
	Resubmitted    bool   `json:"resubmitted"`
	Message        string `json:"message"`
}

type RunOutput struct {
	Output string `json:"output"`
	Failed bool   `json:"failed"`
}

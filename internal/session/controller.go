package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"techquest_backend/internal/model"
	"techquest_backend/pkg/logger"
	"techquest_backend/pkg/monitoring"
	"techquest_backend/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	msgEvaluated = "Quiz evaluation completed and sent to instructor!"
	msgFinished  = "Quiz finished."
)

type Options struct {
	ID            string
	QuizID        uint
	UserID        uint
	Role          model.UserRole
	Language      string
	Languages     []string
	TimeoutPolicy TimeoutPolicy
	RedirectPath  string
	RedirectDelay time.Duration
}

type Deps struct {
	Data      QuizDataService
	Executor  CodeExecutionService
	Evaluator EvaluationService
}

// Controller 一个用户对一个测验的答题会话
type Controller struct {
	opts Options
	deps Deps
	log  *zap.Logger

	mu               sync.Mutex
	title            string
	quizType         model.QuizType
	questions        []Question
	startedAt        *time.Time
	finishedAt       *time.Time
	durationSeconds  int
	remainingSeconds int
	paused           bool
	currentIndex     int
	code             string
	output           string
	language         string
	submissions      map[uint]string
	evaluated        map[uint]string
	evaluating       bool
	notice           string
	lastActive       time.Time
	onFinished       func(FinishOutcome)
	onExpired        func(context.Context) (FinishOutcome, error)
}

// Open 加载测验并自动开始（或继续、重新开始）。
// 开始失败不会返回错误，而是记录在 Notice 中，会话仍可使用。
func Open(ctx context.Context, opts Options, deps Deps) (*Controller, error) {
	ctx, span := tracing.Tracer.Start(ctx, "session.open")
	defer span.End()
	span.SetAttributes(tracing.QuizAttr(opts.QuizID))

	quiz, err := deps.Data.GetQuizWithQuestions(ctx, opts.QuizID)
	if err != nil {
		tracing.Fail(span, err)
		return nil, &TransientServiceError{Op: "load quiz", Err: err}
	}
	if len(quiz.Questions) == 0 {
		return nil, ErrNoQuestions
	}
	if quiz.DurationMinutes <= 0 {
		return nil, ErrInvalidDuration
	}
	if !CanTake(opts.Role, quiz.Type) {
		return nil, ErrRoleNotPermitted
	}

	state := DeriveState(quiz.StartedAt, quiz.FinishedAt)
	if state == Completed && quiz.Type == model.QuizAssigned {
		monitoring.SessionEvents.WithLabelValues("rejected_terminal").Inc()
		return nil, &TerminalStateError{QuizID: opts.QuizID}
	}

	if opts.Language == "" {
		opts.Language = "python"
	}
	if opts.TimeoutPolicy == "" {
		opts.TimeoutPolicy = AutoFinish
	}

	c := &Controller{
		opts:             opts,
		deps:             deps,
		log:              logger.Named("session").With(zap.String("session_id", opts.ID), zap.Uint("quiz_id", opts.QuizID), zap.Uint("user_id", opts.UserID)),
		title:            quiz.Title,
		quizType:         quiz.Type,
		questions:        append([]Question(nil), quiz.Questions...),
		startedAt:        quiz.StartedAt,
		finishedAt:       quiz.FinishedAt,
		durationSeconds:  quiz.DurationMinutes * 60,
		remainingSeconds: quiz.DurationMinutes * 60,
		language:         opts.Language,
		submissions:      make(map[uint]string),
		lastActive:       time.Now(),
	}

	if state == Completed {
		c.restart(ctx)
	} else {
		c.start(ctx)
	}
	return c, nil
}

func (c *Controller) ID() string { return c.opts.ID }

func (c *Controller) QuizID() uint { return c.opts.QuizID }

func (c *Controller) UserID() uint { return c.opts.UserID }

func (c *Controller) Role() model.UserRole { return c.opts.Role }

// OnFinished 会话完成后回调（手动结束与超时自动结束都会触发）
func (c *Controller) OnFinished(fn func(FinishOutcome)) {
	c.mu.Lock()
	c.onFinished = fn
	c.mu.Unlock()
}

// OnExpired 替换计时归零后的自动结束，Manager 用它在结束锁内完成
func (c *Controller) OnExpired(fn func(context.Context) (FinishOutcome, error)) {
	c.mu.Lock()
	c.onExpired = fn
	c.mu.Unlock()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	return DeriveState(c.startedAt, c.finishedAt)
}

func (c *Controller) Label() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Label(c.startedAt, c.finishedAt)
}

func (c *Controller) Notice() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notice
}

func (c *Controller) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

func (c *Controller) touchLocked() {
	c.lastActive = time.Now()
}

// Start 重试开始。已完成的会话不在此处重新开始，需重新打开测验。
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	c.touchLocked()
	if c.stateLocked() == Completed {
		assigned := c.quizType == model.QuizAssigned
		c.mu.Unlock()
		if assigned {
			return &TerminalStateError{QuizID: c.opts.QuizID}
		}
		return ErrSessionCompleted
	}
	c.mu.Unlock()
	return c.start(ctx)
}

func (c *Controller) start(ctx context.Context) error {
	ctx, span := tracing.Tracer.Start(ctx, "session.start")
	defer span.End()

	ts, err := c.deps.Data.StartQuiz(ctx, c.opts.QuizID)
	if err != nil {
		tracing.Fail(span, err)
		return c.transient("start quiz", err)
	}
	c.mu.Lock()
	c.applyLocked(ts)
	c.notice = ""
	c.mu.Unlock()
	monitoring.SessionEvents.WithLabelValues("started").Inc()
	return nil
}

func (c *Controller) restart(ctx context.Context) error {
	ctx, span := tracing.Tracer.Start(ctx, "session.restart")
	defer span.End()

	ts, err := c.deps.Data.ResetFinishedAt(ctx, c.opts.QuizID)
	if err != nil {
		tracing.Fail(span, err)
		return c.transient("reset quiz", err)
	}
	c.mu.Lock()
	c.applyLocked(ts)
	c.mu.Unlock()
	monitoring.SessionEvents.WithLabelValues("restarted").Inc()
	return c.start(ctx)
}

func (c *Controller) applyLocked(ts Timestamps) {
	c.startedAt = ts.StartedAt
	c.finishedAt = ts.FinishedAt
}

func (c *Controller) transient(op string, err error) error {
	c.log.Warn("collaborator call failed", zap.String("op", op), zap.Error(err))
	te := &TransientServiceError{Op: op, Err: err}
	c.mu.Lock()
	c.notice = te.Error()
	c.mu.Unlock()
	return te
}

// Tick 每秒调用一次；进行中且未暂停时减一，归零时按策略自动结束
func (c *Controller) Tick(ctx context.Context) {
	c.mu.Lock()
	if c.stateLocked() != InProgress || c.paused || c.remainingSeconds <= 0 {
		c.mu.Unlock()
		return
	}
	c.remainingSeconds--
	expired := c.remainingSeconds == 0
	policy := c.opts.TimeoutPolicy
	expire := c.onExpired
	c.mu.Unlock()

	if !expired {
		return
	}
	monitoring.SessionEvents.WithLabelValues("timer_expired").Inc()
	if policy != AutoFinish {
		return
	}
	if expire == nil {
		expire = c.forceFinish
	}
	if _, err := expire(ctx); err != nil {
		c.log.Warn("auto finish on timeout failed", zap.Error(err))
	}
}

// RunTimer 消费 ticks 直到 ctx 结束或通道关闭
func (c *Controller) RunTimer(ctx context.Context, ticks <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ticks:
			if !ok {
				return
			}
			c.Tick(ctx)
		}
	}
}

func (c *Controller) Pause() {
	c.mu.Lock()
	c.paused = true
	c.touchLocked()
	c.mu.Unlock()
}

func (c *Controller) Resume() {
	c.mu.Lock()
	c.paused = false
	c.touchLocked()
	c.mu.Unlock()
}

func (c *Controller) RemainingSeconds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remainingSeconds
}

func (c *Controller) Next() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touchLocked()
	if c.evaluating {
		return ErrBusy
	}
	if c.currentIndex >= len(c.questions)-1 {
		return ErrNoNextQuestion
	}
	c.currentIndex++
	c.loadBufferLocked()
	return nil
}

func (c *Controller) Previous() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touchLocked()
	if c.evaluating {
		return ErrBusy
	}
	if c.currentIndex == 0 {
		return ErrNoPreviousQuestion
	}
	c.currentIndex--
	c.loadBufferLocked()
	return nil
}

// loadBufferLocked 切题时丢弃未提交的编辑，显示该题最后一次提交的代码
func (c *Controller) loadBufferLocked() {
	c.code = c.submissions[c.questions[c.currentIndex].ID]
	c.output = ""
}

func (c *Controller) SetCode(code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touchLocked()
	if err := c.editableLocked(); err != nil {
		return err
	}
	c.code = code
	return nil
}

func (c *Controller) SetLanguage(language string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touchLocked()
	if err := c.editableLocked(); err != nil {
		return err
	}
	if len(c.opts.Languages) > 0 && !contains(c.opts.Languages, language) {
		return ErrUnsupportedLanguage
	}
	c.language = language
	return nil
}

// editableLocked 已结束或正在评测时不接受修改，评测的是结束时的提交快照
func (c *Controller) editableLocked() error {
	if c.stateLocked() == Completed {
		return ErrSessionCompleted
	}
	if c.evaluating {
		return ErrBusy
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Run 运行当前代码。运行失败时把错误文本作为输出，不影响会话。
func (c *Controller) Run(ctx context.Context, stdin string) (RunOutput, error) {
	c.mu.Lock()
	c.touchLocked()
	if c.stateLocked() == Completed {
		c.mu.Unlock()
		return RunOutput{}, ErrSessionCompleted
	}
	code, language, index, current := c.code, c.language, c.currentIndex, c.output
	c.mu.Unlock()

	if code == "" {
		return RunOutput{Output: current}, nil
	}

	ctx, span := tracing.Tracer.Start(ctx, "session.run")
	span.SetAttributes(attribute.String("language", language))
	res, err := c.deps.Executor.Run(ctx, RunRequest{Code: code, Language: language, Stdin: stdin})
	span.End()

	out := RunOutput{}
	if err != nil {
		c.log.Warn("code run failed", zap.String("op", "run"), zap.String("language", language), zap.Error(err))
		monitoring.CodeRuns.WithLabelValues(language, "error").Inc()
		out.Output = "Error: " + err.Error()
		out.Failed = true
	} else {
		monitoring.CodeRuns.WithLabelValues(language, "ok").Inc()
		out.Output = res.Stdout
		if out.Output == "" {
			out.Output = res.Stderr
		}
	}

	c.mu.Lock()
	// 运行期间切换了题目，则结果不再属于当前题
	if c.currentIndex == index {
		c.output = out.Output
	}
	c.mu.Unlock()
	return out, nil
}

// SubmitQuestion 记录当前题的代码，只做本地记录不评分
func (c *Controller) SubmitQuestion() (SubmitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touchLocked()
	if err := c.editableLocked(); err != nil {
		return SubmitResult{}, err
	}
	if strings.TrimSpace(c.code) == "" {
		return SubmitResult{}, ErrEmptySubmission
	}

	q := c.questions[c.currentIndex]
	_, existed := c.submissions[q.ID]
	c.submissions[q.ID] = c.code
	monitoring.SessionEvents.WithLabelValues("question_submitted").Inc()

	return SubmitResult{
		QuestionID:     q.ID,
		AttemptedCount: len(c.submissions),
		Resubmitted:    existed,
		Message:        fmt.Sprintf("Question %d submitted successfully!", c.currentIndex+1),
	}, nil
}

func (c *Controller) AttemptedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.submissions)
}

// Submissions 返回提交内容的副本
func (c *Controller) Submissions() map[uint]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copySubmissionsLocked()
}

func (c *Controller) promptLocked() FinishPrompt {
	n, total := len(c.submissions), len(c.questions)
	if n == 0 {
		return FinishPrompt{
			Total:   total,
			Message: "You have not submitted any questions. Are you sure you want to finish the quiz?",
		}
	}
	return FinishPrompt{
		Submitted: n,
		Total:     total,
		Message: fmt.Sprintf("You have submitted %d out of %d questions. Your submissions will be evaluated and the results sent to the quiz owner. Continue?",
			n, total),
	}
}

// Finish 结束答题。有提交时先评测，评测与结束都成功才进入 COMPLETED。
func (c *Controller) Finish(ctx context.Context, confirm ConfirmFunc) (FinishOutcome, error) {
	return c.finish(ctx, confirm, false)
}

func (c *Controller) forceFinish(ctx context.Context) (FinishOutcome, error) {
	return c.finish(ctx, nil, true)
}

func (c *Controller) finish(ctx context.Context, confirm ConfirmFunc, forced bool) (FinishOutcome, error) {
	c.mu.Lock()
	c.touchLocked()
	if c.stateLocked() == Completed {
		c.mu.Unlock()
		return FinishOutcome{}, ErrSessionCompleted
	}
	if c.evaluating {
		c.mu.Unlock()
		return FinishOutcome{}, ErrBusy
	}
	prompt := c.promptLocked()
	c.mu.Unlock()

	if !forced && (confirm == nil || !confirm(prompt)) {
		return FinishOutcome{Prompt: prompt}, nil
	}

	c.mu.Lock()
	if c.stateLocked() == Completed {
		c.mu.Unlock()
		return FinishOutcome{}, ErrSessionCompleted
	}
	if c.evaluating {
		c.mu.Unlock()
		return FinishOutcome{}, ErrBusy
	}
	c.evaluating = true
	entries := c.entriesLocked()
	snapshot := c.copySubmissionsLocked()
	alreadyEvaluated := len(entries) > 0 && sameSubmissions(c.evaluated, snapshot)
	language := c.language
	c.mu.Unlock()

	ctx, span := tracing.Tracer.Start(ctx, "session.finish")
	defer span.End()
	span.SetAttributes(attribute.Int("submissions", len(entries)), attribute.Bool("forced", forced))

	out := FinishOutcome{Confirmed: true, Prompt: prompt}
	if len(entries) > 0 && !alreadyEvaluated {
		if err := c.evaluate(ctx, entries, language); err != nil {
			tracing.Fail(span, err)
			c.endEvaluating()
			return out, err
		}
		c.mu.Lock()
		c.evaluated = snapshot
		c.mu.Unlock()
	}
	out.Evaluated = len(entries) > 0

	ts, err := c.deps.Data.FinishQuiz(ctx, c.opts.QuizID)
	if err != nil {
		tracing.Fail(span, err)
		c.log.Warn("finish quiz failed", zap.String("op", "finish"), zap.Error(err))
		c.endEvaluating()
		monitoring.SessionEvents.WithLabelValues("finish_failed").Inc()
		return out, &FinishConflictError{Stage: StageFinish, Err: err}
	}

	c.mu.Lock()
	c.applyLocked(ts)
	if c.finishedAt == nil {
		now := time.Now()
		c.finishedAt = &now
	}
	c.evaluating = false
	hook := c.onFinished
	c.mu.Unlock()

	out.Completed = true
	out.RedirectTo = c.opts.RedirectPath
	if out.Evaluated {
		out.Message = msgEvaluated
		out.RedirectAfter = c.opts.RedirectDelay
	} else {
		out.Message = msgFinished
	}
	out.RedirectMs = out.RedirectAfter.Milliseconds()
	monitoring.SessionEvents.WithLabelValues("finished").Inc()
	c.log.Info("quiz session finished", zap.Int("submissions", len(entries)), zap.Bool("forced", forced))

	if hook != nil {
		hook(out)
	}
	return out, nil
}

func (c *Controller) evaluate(ctx context.Context, entries []SubmissionEntry, language string) error {
	owner, err := c.deps.Data.GetOwnerContact(ctx, c.opts.QuizID)
	if err != nil {
		c.log.Warn("owner contact lookup failed", zap.String("op", "owner_contact"), zap.Error(err))
		return &FinishConflictError{Stage: StageOwnerContact, Err: err}
	}
	if owner == "" {
		return &FinishConflictError{Stage: StageOwnerContact, Err: ErrNoOwnerContact}
	}

	started := time.Now()
	res, err := c.deps.Evaluator.Evaluate(ctx, EvaluationRequest{
		QuizID:       c.opts.QuizID,
		Submissions:  entries,
		OwnerContact: owner,
		Language:     language,
		UserID:       c.opts.UserID,
	})
	if err == nil && !res.Success {
		err = ErrEvaluationFailed
	}
	if err != nil {
		monitoring.EvaluationDuration.WithLabelValues("error").Observe(time.Since(started).Seconds())
		c.log.Warn("evaluation failed", zap.String("op", "evaluate"), zap.Error(err))
		return &FinishConflictError{Stage: StageEvaluate, Err: err}
	}
	monitoring.EvaluationDuration.WithLabelValues("ok").Observe(time.Since(started).Seconds())
	return nil
}

func (c *Controller) endEvaluating() {
	c.mu.Lock()
	c.evaluating = false
	c.mu.Unlock()
}

func (c *Controller) Evaluating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evaluating
}

// entriesLocked 按题目顺序生成评测条目
func (c *Controller) entriesLocked() []SubmissionEntry {
	entries := make([]SubmissionEntry, 0, len(c.submissions))
	for _, q := range c.questions {
		code, ok := c.submissions[q.ID]
		if !ok {
			continue
		}
		entries = append(entries, SubmissionEntry{
			QuestionID:   q.ID,
			QuestionText: q.Description,
			Code:         code,
			Language:     c.language,
		})
	}
	return entries
}

func (c *Controller) copySubmissionsLocked() map[uint]string {
	out := make(map[uint]string, len(c.submissions))
	for k, v := range c.submissions {
		out[k] = v
	}
	return out
}

// sameSubmissions 结束调用失败后重试时，内容未变则不重复评测和发邮件
func sameSubmissions(a, b map[uint]string) bool {
	if a == nil || len(a) != len(b) {
		return false
	}
	for k, v := range b {
		if a[k] != v {
			return false
		}
	}
	return true
}

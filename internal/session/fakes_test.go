package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"techquest_backend/internal/model"
)

type fakeData struct {
	mu         sync.Mutex
	quiz       Quiz
	startedAt  *time.Time
	finishedAt *time.Time
	owner      string
	calls      []string

	loadErr   error
	startErr  error
	finishErr error
	resetErr  error
	ownerErr  error
}

func newFakeData(quizType model.QuizType, questions ...Question) *fakeData {
	return &fakeData{
		quiz: Quiz{
			ID:              7,
			Title:           "Loops",
			DurationMinutes: 30,
			Type:            quizType,
			Questions:       questions,
		},
		owner: "owner@example.com",
	}
}

func (f *fakeData) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeData) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeData) ts() Timestamps {
	return Timestamps{StartedAt: f.startedAt, FinishedAt: f.finishedAt}
}

func (f *fakeData) GetQuizWithQuestions(ctx context.Context, quizID uint) (*Quiz, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("load")
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	q := f.quiz
	q.StartedAt = f.startedAt
	q.FinishedAt = f.finishedAt
	return &q, nil
}

func (f *fakeData) StartQuiz(ctx context.Context, quizID uint) (Timestamps, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("start")
	if f.startErr != nil {
		return Timestamps{}, f.startErr
	}
	if f.startedAt == nil {
		now := time.Now()
		f.startedAt = &now
	}
	return f.ts(), nil
}

func (f *fakeData) FinishQuiz(ctx context.Context, quizID uint) (Timestamps, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("finish")
	if f.finishErr != nil {
		return Timestamps{}, f.finishErr
	}
	now := time.Now()
	f.finishedAt = &now
	return f.ts(), nil
}

func (f *fakeData) ResetFinishedAt(ctx context.Context, quizID uint) (Timestamps, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("reset")
	if f.resetErr != nil {
		return Timestamps{}, f.resetErr
	}
	f.finishedAt = nil
	return f.ts(), nil
}

func (f *fakeData) GetOwnerContact(ctx context.Context, quizID uint) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("owner")
	return f.owner, f.ownerErr
}

type fakeExecutor struct {
	mu      sync.Mutex
	result  RunResult
	err     error
	started chan struct{}
	release chan struct{}
	reqs    []RunRequest
}

func (f *fakeExecutor) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	started, release := f.started, f.release
	f.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	return f.result, f.err
}

type fakeEvaluator struct {
	mu      sync.Mutex
	result  EvaluationResult
	err     error
	started chan struct{}
	release chan struct{}
	reqs    []EvaluationRequest
}

func newFakeEvaluator() *fakeEvaluator {
	return &fakeEvaluator{result: EvaluationResult{Success: true}}
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, req EvaluationRequest) (EvaluationResult, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	started, release := f.started, f.release
	f.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.err
}

func (f *fakeEvaluator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func twoQuestions() []Question {
	return []Question{
		{ID: 1, Description: "Print 1"},
		{ID: 2, Description: "Print 2"},
	}
}

func openTest(t *testing.T, data *fakeData, exec *fakeExecutor, eval *fakeEvaluator, opts Options) *Controller {
	t.Helper()
	if opts.QuizID == 0 {
		opts.QuizID = data.quiz.ID
	}
	if opts.Role == "" {
		opts.Role = model.Student
	}
	if opts.RedirectPath == "" {
		opts.RedirectPath = "/Practise?tab=quizzes"
	}
	if opts.RedirectDelay == 0 {
		opts.RedirectDelay = 2 * time.Second
	}
	c, err := Open(context.Background(), opts, Deps{Data: data, Executor: exec, Evaluator: eval})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return c
}

func always(p FinishPrompt) bool { return true }

func never(p FinishPrompt) bool { return false }

package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"techquest_backend/internal/model"
	"techquest_backend/internal/session"
	"techquest_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type memoryQuizData struct {
	mu         sync.Mutex
	quizType   model.QuizType
	startedAt  *time.Time
	finishedAt *time.Time
}

func (d *memoryQuizData) GetQuizWithQuestions(ctx context.Context, quizID uint) (*session.Quiz, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if quizID != 1 {
		return nil, util.ErrQuizNotFound
	}
	return &session.Quiz{
		ID:              1,
		Title:           "Strings",
		DurationMinutes: 10,
		Type:            d.quizType,
		Questions: []session.Question{
			{ID: 11, Description: "Reverse"},
			{ID: 12, Description: "Palindrome"},
		},
		StartedAt:  d.startedAt,
		FinishedAt: d.finishedAt,
	}, nil
}

func (d *memoryQuizData) StartQuiz(ctx context.Context, quizID uint) (session.Timestamps, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startedAt == nil {
		now := time.Now()
		d.startedAt = &now
	}
	return session.Timestamps{StartedAt: d.startedAt, FinishedAt: d.finishedAt}, nil
}

func (d *memoryQuizData) FinishQuiz(ctx context.Context, quizID uint) (session.Timestamps, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	d.finishedAt = &now
	return session.Timestamps{StartedAt: d.startedAt, FinishedAt: d.finishedAt}, nil
}

func (d *memoryQuizData) ResetFinishedAt(ctx context.Context, quizID uint) (session.Timestamps, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.finishedAt = nil
	return session.Timestamps{StartedAt: d.startedAt}, nil
}

func (d *memoryQuizData) GetOwnerContact(ctx context.Context, quizID uint) (string, error) {
	return "owner@example.com", nil
}

type echoExecutor struct{}

func (echoExecutor) Run(ctx context.Context, req session.RunRequest) (session.RunResult, error) {
	if req.Language == "cobol" {
		return session.RunResult{}, util.ErrUnsupportedLanguage
	}
	return session.RunResult{Stdout: "ran: " + req.Code}, nil
}

type stubEvaluator struct {
	err error
}

func (e *stubEvaluator) Evaluate(ctx context.Context, req session.EvaluationRequest) (session.EvaluationResult, error) {
	if len(req.Submissions) == 0 {
		return session.EvaluationResult{}, util.ErrNoSubmissions
	}
	if e.err != nil {
		return session.EvaluationResult{}, e.err
	}
	return session.EvaluationResult{Success: true, Message: "Evaluation completed and sent to instructor"}, nil
}

type testEnv struct {
	router  *gin.Engine
	data    *memoryQuizData
	eval    *stubEvaluator
	manager *session.Manager
}

func newEnv(t *testing.T, quizType model.QuizType, role model.UserRole) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{data: &memoryQuizData{quizType: quizType}, eval: &stubEvaluator{}}
	env.manager = session.NewManager(session.ManagerConfig{
		Data:      func(uint) session.QuizDataService { return env.data },
		Executor:  echoExecutor{},
		Evaluator: env.eval,
		Languages: []string{"python", "c"},
		Policy: session.Policy{
			TimeoutPolicy:   session.AutoFinish,
			RedirectPath:    "/Practise?tab=quizzes",
			RedirectDelay:   2 * time.Second,
			DefaultLanguage: "python",
		},
		TickInterval: time.Hour,
	})
	t.Cleanup(env.manager.Shutdown)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user", &util.Claims{UserID: 5, Role: role})
		c.Next()
	})
	sc := NewSessionController(env.manager)
	r.POST("/api/sessions", sc.Open)
	r.GET("/api/sessions/:id", sc.Get)
	r.DELETE("/api/sessions/:id", sc.Close)
	r.PUT("/api/sessions/:id/code", sc.SetCode)
	r.PUT("/api/sessions/:id/language", sc.SetLanguage)
	r.POST("/api/sessions/:id/next", sc.Next)
	r.POST("/api/sessions/:id/previous", sc.Previous)
	r.POST("/api/sessions/:id/run", sc.Run)
	r.POST("/api/sessions/:id/submit", sc.Submit)
	r.POST("/api/sessions/:id/finish", sc.Finish)
	r.POST("/api/compile", NewCompileController(echoExecutor{}).Compile)
	r.POST("/api/evaluate-quiz", NewEvaluationController(env.eval).EvaluateQuiz)
	env.router = r
	return env
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *testEnv) call(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
	}
	return w.Code, env
}

func (e *testEnv) open(t *testing.T) session.View {
	t.Helper()
	code, res := e.call(t, http.MethodPost, "/api/sessions", gin.H{"quizId": 1})
	if code != http.StatusCreated {
		t.Fatalf("open: %d %s", code, res.Message)
	}
	var view session.View
	json.Unmarshal(res.Data, &view)
	return view
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	env := newEnv(t, model.QuizRegular, model.Student)
	view := env.open(t)
	if view.State != session.InProgress || view.Remaining != "00:10:00" || view.Label != session.LabelResume {
		t.Fatalf("view = %+v", view)
	}
	base := "/api/sessions/" + view.ID

	if code, _ := env.call(t, http.MethodPut, base+"/code", gin.H{"code": "print(1)"}); code != http.StatusOK {
		t.Fatalf("set code: %d", code)
	}
	code, res := env.call(t, http.MethodPost, base+"/run", gin.H{"stdin": ""})
	var out session.RunOutput
	json.Unmarshal(res.Data, &out)
	if code != http.StatusOK || out.Output != "ran: print(1)" {
		t.Fatalf("run: %d %+v", code, out)
	}

	code, res = env.call(t, http.MethodPost, base+"/submit", nil)
	var sub session.SubmitResult
	json.Unmarshal(res.Data, &sub)
	if code != http.StatusOK || sub.Message != "Question 1 submitted successfully!" {
		t.Fatalf("submit: %d %+v", code, sub)
	}

	code, res = env.call(t, http.MethodPost, base+"/finish", gin.H{"confirm": false})
	if code != http.StatusConflict {
		t.Fatalf("unconfirmed finish: %d", code)
	}
	var prompt session.FinishPrompt
	json.Unmarshal(res.Data, &prompt)
	if prompt.Submitted != 1 || prompt.Total != 2 {
		t.Fatalf("prompt = %+v", prompt)
	}

	code, res = env.call(t, http.MethodPost, base+"/finish", gin.H{"confirm": true})
	if code != http.StatusOK {
		t.Fatalf("finish: %d %s", code, res.Message)
	}
	var outcome session.FinishOutcome
	json.Unmarshal(res.Data, &outcome)
	if !outcome.Completed || !outcome.Evaluated || outcome.RedirectTo != "/Practise?tab=quizzes" || outcome.RedirectMs != 2000 {
		t.Fatalf("outcome = %+v", outcome)
	}
}

func TestSessionValidationErrors(t *testing.T) {
	env := newEnv(t, model.QuizRegular, model.Student)
	base := "/api/sessions/" + env.open(t).ID

	if code, _ := env.call(t, http.MethodPost, base+"/submit", nil); code != http.StatusBadRequest {
		t.Fatalf("empty submit: %d", code)
	}
	if code, _ := env.call(t, http.MethodPost, base+"/previous", nil); code != http.StatusBadRequest {
		t.Fatalf("previous at first: %d", code)
	}
	if code, _ := env.call(t, http.MethodPut, base+"/language", gin.H{"language": "cobol"}); code != http.StatusBadRequest {
		t.Fatalf("bad language: %d", code)
	}
	if code, _ := env.call(t, http.MethodGet, "/api/sessions/unknown", nil); code != http.StatusNotFound {
		t.Fatalf("unknown session: %d", code)
	}
}

func TestFinishEvaluationFailureOverHTTP(t *testing.T) {
	env := newEnv(t, model.QuizRegular, model.Student)
	env.eval.err = errors.New("smtp down")
	base := "/api/sessions/" + env.open(t).ID

	env.call(t, http.MethodPut, base+"/code", gin.H{"code": "x = 1"})
	env.call(t, http.MethodPost, base+"/submit", nil)

	code, res := env.call(t, http.MethodPost, base+"/finish", gin.H{"confirm": true})
	if code != http.StatusBadGateway {
		t.Fatalf("finish: %d", code)
	}
	if res.Message != "Evaluation failed: smtp down" {
		t.Fatalf("message = %q", res.Message)
	}

	_, res = env.call(t, http.MethodGet, base, nil)
	var view session.View
	json.Unmarshal(res.Data, &view)
	if view.State != session.InProgress || view.Evaluating {
		t.Fatalf("view = %+v", view)
	}
}

func TestOpenRejections(t *testing.T) {
	env := newEnv(t, model.QuizAssigned, model.Teacher)
	if code, _ := env.call(t, http.MethodPost, "/api/sessions", gin.H{"quizId": 1}); code != http.StatusForbidden {
		t.Fatalf("teacher on assigned quiz: %d", code)
	}

	env = newEnv(t, model.QuizAssigned, model.Student)
	now := time.Now()
	env.data.startedAt, env.data.finishedAt = &now, &now
	if code, _ := env.call(t, http.MethodPost, "/api/sessions", gin.H{"quizId": 1}); code != http.StatusConflict {
		t.Fatalf("completed assigned quiz: %d", code)
	}

	if code, _ := env.call(t, http.MethodPost, "/api/sessions", gin.H{"quizId": 2}); code != http.StatusNotFound {
		t.Fatalf("missing quiz: %d", code)
	}
	if code, _ := env.call(t, http.MethodPost, "/api/sessions", gin.H{}); code != http.StatusBadRequest {
		t.Fatalf("missing quiz id: %d", code)
	}
}

func TestCloseSession(t *testing.T) {
	env := newEnv(t, model.QuizRegular, model.Student)
	base := "/api/sessions/" + env.open(t).ID
	if code, _ := env.call(t, http.MethodDelete, base, nil); code != http.StatusOK {
		t.Fatalf("close: %d", code)
	}
	if code, _ := env.call(t, http.MethodGet, base, nil); code != http.StatusNotFound {
		t.Fatalf("get after close: %d", code)
	}
}

func TestCompile(t *testing.T) {
	env := newEnv(t, model.QuizRegular, model.Student)

	code, res := env.call(t, http.MethodPost, "/api/compile", gin.H{"code": "print(2)", "language": "python"})
	var out map[string]string
	json.Unmarshal(res.Data, &out)
	if code != http.StatusOK || out["output"] != "ran: print(2)" {
		t.Fatalf("compile: %d %v", code, out)
	}
	if code, _ := env.call(t, http.MethodPost, "/api/compile", gin.H{"code": "x", "language": "cobol"}); code != http.StatusBadRequest {
		t.Fatalf("cobol: %d", code)
	}
	if code, _ := env.call(t, http.MethodPost, "/api/compile", gin.H{"language": "python"}); code != http.StatusBadRequest {
		t.Fatalf("missing code: %d", code)
	}
}

func TestEvaluateQuizEndpoint(t *testing.T) {
	env := newEnv(t, model.QuizRegular, model.Teacher)
	body := gin.H{
		"quizId":      1,
		"ownerEmail":  "owner@example.com",
		"submissions": []gin.H{{"questionId": 11, "questionText": "Reverse", "code": "print(1)", "language": "python"}},
	}
	if code, res := env.call(t, http.MethodPost, "/api/evaluate-quiz", body); code != http.StatusOK {
		t.Fatalf("evaluate: %d %s", code, res.Message)
	}

	body["submissions"] = []gin.H{}
	if code, _ := env.call(t, http.MethodPost, "/api/evaluate-quiz", body); code != http.StatusBadRequest {
		t.Fatalf("no submissions: %d", code)
	}
}

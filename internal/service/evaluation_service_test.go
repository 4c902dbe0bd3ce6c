package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"techquest_backend/internal/config"
	"techquest_backend/internal/model"
	"techquest_backend/internal/session"
	"techquest_backend/internal/util"
)

type fakeGrader struct {
	mu      sync.Mutex
	prompts []string
	fail    map[string]error // 提示词包含该关键字时失败
}

func (g *fakeGrader) Grade(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	for key, err := range g.fail {
		if strings.Contains(prompt, key) {
			return "", err
		}
	}
	return "Score: 4\nCorrectness: fine", nil
}

type sentMail struct {
	to, subject, html string
}

type fakeMailer struct {
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(ctx context.Context, to, subject, html string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject, html: html})
	return nil
}

func newEvaluationService(t *testing.T, w *world, grader Grader, mailer Mailer) (*EvaluationService, string) {
	t.Helper()
	dir := t.TempDir()
	storage := NewLocalStorageService(dir)
	return NewEvaluationService(w.quizzes, w.evals, grader, mailer, storage), dir
}

func homeworkRequest(w *world) session.EvaluationRequest {
	return session.EvaluationRequest{
		QuizID: w.homework.ID,
		Submissions: []session.SubmissionEntry{
			{QuestionID: w.qs[0].ID, QuestionText: "Sum 1..n", Code: "print(sum(range(int(input())+1)))", Language: "python"},
			{QuestionID: w.qs[1].ID, QuestionText: "Reverse a string", Code: "print(input()[::-1])", Language: "python"},
		},
		OwnerContact: "teacher@example.com",
		Language:     "python",
		UserID:       w.student.ID,
	}
}

func TestEvaluateSendsReportAndStoresRecord(t *testing.T) {
	w := newWorld(t)
	grader := &fakeGrader{}
	mailer := &fakeMailer{}
	svc, dir := newEvaluationService(t, w, grader, mailer)

	res, err := svc.Evaluate(context.Background(), homeworkRequest(w))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !res.Success || res.Message != "Evaluation completed and sent to instructor" {
		t.Fatalf("result = %+v", res)
	}
	if len(grader.prompts) != 2 {
		t.Fatalf("graded %d prompts", len(grader.prompts))
	}

	if len(mailer.sent) != 1 {
		t.Fatalf("sent %d mails", len(mailer.sent))
	}
	mail := mailer.sent[0]
	if mail.to != "teacher@example.com" {
		t.Fatalf("to = %q", mail.to)
	}
	if mail.subject != ReportSubject(w.homework.ID) {
		t.Fatalf("subject = %q", mail.subject)
	}
	for _, want := range []string{"Language: python", "Question 1: Sum 1..n", "Question 2: Reverse a string", "Score: 4"} {
		if !strings.Contains(mail.html, want) {
			t.Errorf("report missing %q", want)
		}
	}

	if !strings.HasPrefix(res.ReportURL, "/reports/"+util.EvaluationReportPrefix) {
		t.Fatalf("report url = %q", res.ReportURL)
	}
	files, _ := filepath.Glob(filepath.Join(dir, util.EvaluationReportPrefix, "*", "*.html"))
	if len(files) != 1 {
		t.Fatalf("archived files = %v", files)
	}

	records, err := w.evals.ListByQuiz(context.Background(), w.homework.ID)
	if err != nil {
		t.Fatalf("ListByQuiz: %v", err)
	}
	if len(records) != 1 || records[0].Status != model.EvaluationSent || records[0].UserID != w.student.ID {
		t.Fatalf("records = %+v", records)
	}
	var items []model.EvaluationItem
	if err := json.Unmarshal(records[0].Results, &items); err != nil || len(items) != 2 {
		t.Fatalf("results = %s (%v)", records[0].Results, err)
	}
}

func TestEvaluateKeepsOrderWhenOneGradeFails(t *testing.T) {
	w := newWorld(t)
	grader := &fakeGrader{fail: map[string]error{"Reverse a string": errors.New("quota exceeded")}}
	mailer := &fakeMailer{}
	svc, _ := newEvaluationService(t, w, grader, mailer)

	if _, err := svc.Evaluate(context.Background(), homeworkRequest(w)); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	html := mailer.sent[0].html
	first := strings.Index(html, "Question 1: Sum 1..n")
	second := strings.Index(html, "Question 2: Reverse a string")
	if first < 0 || second < 0 || first > second {
		t.Fatalf("questions out of order")
	}
	if !strings.Contains(html, "Error evaluating submission: quota exceeded") {
		t.Fatal("failed grade text missing from report")
	}
}

func TestEvaluateUsesCustomRubric(t *testing.T) {
	w := newWorld(t)
	if err := w.quizzes.UpdateRubric(context.Background(), w.homework.ID, model.RubricCustom, "Only check edge cases."); err != nil {
		t.Fatalf("UpdateRubric: %v", err)
	}
	grader := &fakeGrader{}
	svc, _ := newEvaluationService(t, w, grader, &fakeMailer{})

	if _, err := svc.Evaluate(context.Background(), homeworkRequest(w)); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	for _, p := range grader.prompts {
		if !strings.Contains(p, "EVALUATION INSTRUCTIONS:\nOnly check edge cases.") {
			t.Fatalf("prompt without custom rubric:\n%s", p)
		}
		if strings.Contains(p, "scale of 1-5") {
			t.Fatal("default rubric should be replaced")
		}
	}
}

func TestEvaluateEscapesCode(t *testing.T) {
	w := newWorld(t)
	mailer := &fakeMailer{}
	svc, _ := newEvaluationService(t, w, &fakeGrader{}, mailer)
	req := homeworkRequest(w)
	req.Submissions = req.Submissions[:1]
	req.Submissions[0].Code = `print("<script>alert(1)</script>")`

	if _, err := svc.Evaluate(context.Background(), req); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if strings.Contains(mailer.sent[0].html, "<script>") {
		t.Fatal("code was not escaped")
	}
}

func TestEvaluateMailFailure(t *testing.T) {
	w := newWorld(t)
	svc, _ := newEvaluationService(t, w, &fakeGrader{}, &fakeMailer{err: errors.New("smtp 550")})

	res, err := svc.Evaluate(context.Background(), homeworkRequest(w))
	if err == nil || res.Success {
		t.Fatalf("res = %+v err = %v", res, err)
	}
	records, _ := w.evals.ListByQuiz(context.Background(), w.homework.ID)
	if len(records) != 1 || records[0].Status != model.EvaluationFailed {
		t.Fatalf("records = %+v", records)
	}
}

func TestEvaluateValidation(t *testing.T) {
	w := newWorld(t)
	svc, _ := newEvaluationService(t, w, &fakeGrader{}, &fakeMailer{})

	req := homeworkRequest(w)
	req.Submissions = nil
	if _, err := svc.Evaluate(context.Background(), req); !errors.Is(err, util.ErrNoSubmissions) {
		t.Fatalf("err = %v", err)
	}

	req = homeworkRequest(w)
	req.OwnerContact = " "
	if _, err := svc.Evaluate(context.Background(), req); !errors.Is(err, util.ErrMissingOwnerContact) {
		t.Fatalf("err = %v", err)
	}
}

func TestEvaluateUnknownQuizUsesDefaultRubric(t *testing.T) {
	w := newWorld(t)
	grader := &fakeGrader{}
	svc, _ := newEvaluationService(t, w, grader, &fakeMailer{})
	req := homeworkRequest(w)
	req.QuizID = 9999

	if _, err := svc.Evaluate(context.Background(), req); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !strings.Contains(grader.prompts[0], "scale of 1-5") {
		t.Fatal("expected default rubric")
	}
}

func TestStorageServiceArchivesLocally(t *testing.T) {
	dir := t.TempDir()
	svc := NewStorageService(&config.Config{Storage: config.StorageConfig{Type: util.StorageLocal, LocalPath: dir}})
	key, link, err := svc.ArchiveReport(context.Background(), 7, "<p>x</p>")
	if err != nil {
		t.Fatalf("ArchiveReport: %v", err)
	}
	if !strings.HasPrefix(key, util.EvaluationReportPrefix+"/7/") || !strings.HasSuffix(key, ".html") {
		t.Fatalf("key = %q", key)
	}
	if link != "/reports/"+key {
		t.Fatalf("link = %q", link)
	}
	body, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(key)))
	if err != nil || string(body) != "<p>x</p>" {
		t.Fatalf("read back = %q, %v", body, err)
	}
	if err := svc.RemoveReport(context.Background(), key); err != nil {
		t.Fatalf("RemoveReport: %v", err)
	}
}

func TestListForOwner(t *testing.T) {
	w := newWorld(t)
	svc, _ := newEvaluationService(t, w, &fakeGrader{}, &fakeMailer{})
	ctx := context.Background()
	if _, err := svc.Evaluate(ctx, homeworkRequest(w)); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	list, err := svc.ListForOwner(ctx, w.homework.ID, w.teacher.ID, model.Teacher)
	if err != nil || len(list) != 1 {
		t.Fatalf("owner list = %+v err = %v", list, err)
	}
	if _, err := svc.ListForOwner(ctx, w.homework.ID, w.student.ID, model.Student); !errors.Is(err, util.ErrPermissionDenied) {
		t.Fatalf("student: %v", err)
	}
	if list, err := svc.ListForOwner(ctx, w.homework.ID, w.other.ID, model.Admin); err != nil || len(list) != 1 {
		t.Fatalf("admin list = %+v err = %v", list, err)
	}
}

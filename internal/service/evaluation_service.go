package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"strings"

	"techquest_backend/internal/model"
	"techquest_backend/internal/repository"
	"techquest_backend/internal/session"
	"techquest_backend/internal/util"
	"techquest_backend/pkg/logger"
	"techquest_backend/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

const maxParallelGrades = 4

const defaultRubric = `Please evaluate this code on a scale of 1-5, where:
1 = Completely incorrect, does not compile or run
2 = Major issues, partially addresses the problem but with significant errors
3 = Works but has some issues or inefficiencies
4 = Good solution with minor improvements possible
5 = Excellent, optimal solution

Your evaluation should include:
1. Score (1-5)
2. Correctness: Does the code correctly solve the problem?
3. Efficiency: Is the algorithm efficient? Any performance concerns?
4. Code quality: Is the code well-structured, readable, and maintainable?
5. Specific issues: Point out any bugs or errors
6. Suggestions: How could the code be improved?

Format your response as follows:
Score: [1-5]
Correctness: [Your assessment]
Efficiency: [Your assessment]
Code Quality: [Your assessment]
Issues: [List specific issues]
Suggestions: [Your recommendations]`

// BuildGradingPrompt 测验设置了自定义评分标准时替换默认标准
func BuildGradingPrompt(entry session.SubmissionEntry, quiz *model.Quiz) string {
	var sb strings.Builder
	sb.WriteString("You are an expert programming instructor evaluating a student's code submission for a programming quiz.\n\n")
	sb.WriteString("QUESTION:\n")
	sb.WriteString(entry.QuestionText)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "STUDENT'S CODE (%s):\n```%s\n%s\n```\n\n", entry.Language, entry.Language, entry.Code)

	if quiz != nil && quiz.UsesCustomRubric() {
		sb.WriteString("EVALUATION INSTRUCTIONS:\n")
		sb.WriteString(quiz.CustomRubric)
		sb.WriteString("\n")
		return sb.String()
	}
	sb.WriteString(defaultRubric)
	sb.WriteString("\n")
	return sb.String()
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).Parse(`<h1>Quiz #{{.QuizID}} Evaluation Results</h1>
<p>A student has completed the quiz and their submissions have been evaluated by AI.</p>
<p>Language: {{.Language}}</p>
<hr>
{{range $i, $r := .Results}}
<h2>Question {{inc $i}}: {{$r.QuestionText}}</h2>
<h3>Student's Code:</h3>
<pre style="background-color: #f5f5f5; padding: 10px; border-radius: 5px; overflow-x: auto;">{{$r.Code}}</pre>
<h3>AI Evaluation:</h3>
<div style="background-color: #f9f9f9; padding: 15px; border-left: 4px solid #4CAF50; margin-bottom: 20px;">
<pre>{{$r.Evaluation}}</pre>
</div>
<hr>
{{end}}
<p>This is an automated evaluation. Please review the code and evaluations for accuracy.</p>
`))

type reportData struct {
	QuizID   uint
	Language string
	Results  []model.EvaluationItem
}

func RenderReport(quizID uint, language string, results []model.EvaluationItem) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, reportData{QuizID: quizID, Language: language, Results: results}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func ReportSubject(quizID uint) string {
	return fmt.Sprintf("Quiz #%d - Student Submission Evaluation", quizID)
}

// EvaluationService 逐题调用大模型评分，汇总后发给测验创建者
type EvaluationService struct {
	Quizzes     *repository.QuizRepository
	Evaluations *repository.EvaluationRepository
	Grader      Grader
	Mailer      Mailer
	Storage     *StorageService
}

func NewEvaluationService(
	quizzes *repository.QuizRepository,
	evaluations *repository.EvaluationRepository,
	grader Grader,
	mailer Mailer,
	storage *StorageService,
) *EvaluationService {
	return &EvaluationService{
		Quizzes:     quizzes,
		Evaluations: evaluations,
		Grader:      grader,
		Mailer:      mailer,
		Storage:     storage,
	}
}

func (s *EvaluationService) Evaluate(ctx context.Context, req session.EvaluationRequest) (session.EvaluationResult, error) {
	if len(req.Submissions) == 0 {
		return session.EvaluationResult{}, util.ErrNoSubmissions
	}
	if strings.TrimSpace(req.OwnerContact) == "" {
		return session.EvaluationResult{}, util.ErrMissingOwnerContact
	}

	ctx, span := tracing.Tracer.Start(ctx, "evaluation.evaluate")
	defer span.End()
	span.SetAttributes(tracing.QuizAttr(req.QuizID), attribute.Int("submissions", len(req.Submissions)))

	quiz, err := s.Quizzes.FindByID(ctx, req.QuizID)
	if err != nil && !errors.Is(err, util.ErrQuizNotFound) {
		return session.EvaluationResult{}, err
	}

	language := req.Language
	if language == "" {
		language = req.Submissions[0].Language
	}

	results := s.grade(ctx, req.Submissions, language, quiz)

	html, err := RenderReport(req.QuizID, language, results)
	if err != nil {
		return session.EvaluationResult{}, err
	}

	reportURL := s.archive(ctx, req.QuizID, html)

	record := &model.Evaluation{
		QuizID:     req.QuizID,
		UserID:     req.UserID,
		OwnerEmail: req.OwnerContact,
		Language:   language,
		ReportURL:  reportURL,
		Status:     model.EvaluationSent,
	}
	if raw, err := json.Marshal(results); err == nil {
		record.Results = datatypes.JSON(raw)
	}

	if err := s.Mailer.Send(ctx, req.OwnerContact, ReportSubject(req.QuizID), html); err != nil {
		record.Status = model.EvaluationFailed
		s.save(ctx, record)
		tracing.Fail(span, err)
		return session.EvaluationResult{}, fmt.Errorf("send evaluation email: %w", err)
	}
	s.save(ctx, record)

	return session.EvaluationResult{
		Success:   true,
		Message:   "Evaluation completed and sent to instructor",
		ReportURL: reportURL,
	}, nil
}

// grade 单题失败只写入错误文本，不影响整批
func (s *EvaluationService) grade(ctx context.Context, entries []session.SubmissionEntry, language string, quiz *model.Quiz) []model.EvaluationItem {
	results := make([]model.EvaluationItem, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelGrades)

	for i := range entries {
		entry := entries[i]
		if entry.Language == "" {
			entry.Language = language
		}
		g.Go(func() error {
			text, err := s.Grader.Grade(gctx, BuildGradingPrompt(entry, quiz))
			if err != nil {
				logger.Log.Warn("grading submission failed",
					zap.Uint("quiz_id", entryQuizID(quiz)),
					zap.Uint("question_id", entry.QuestionID),
					zap.Error(err),
				)
				text = "Error evaluating submission: " + err.Error()
			}
			results[i] = model.EvaluationItem{
				QuestionID:   entry.QuestionID,
				QuestionText: entry.QuestionText,
				Code:         entry.Code,
				Evaluation:   text,
			}
			return nil
		})
	}
	g.Wait()
	return results
}

func entryQuizID(q *model.Quiz) uint {
	if q == nil {
		return 0
	}
	return q.ID
}

func (s *EvaluationService) archive(ctx context.Context, quizID uint, html string) string {
	if s.Storage == nil {
		return ""
	}
	_, url, err := s.Storage.ArchiveReport(ctx, quizID, html)
	if err != nil {
		logger.Log.Warn("archive evaluation report failed", zap.Uint("quiz_id", quizID), zap.Error(err))
		return ""
	}
	return url
}

func (s *EvaluationService) save(ctx context.Context, record *model.Evaluation) {
	if s.Evaluations == nil {
		return
	}
	if err := s.Evaluations.Create(ctx, record); err != nil {
		logger.Log.Error("save evaluation record failed", zap.Uint("quiz_id", record.QuizID), zap.Error(err))
	}
}

// ListForOwner 测验创建者或管理员查看历史评测
func (s *EvaluationService) ListForOwner(ctx context.Context, quizID, callerID uint, role model.UserRole) ([]model.Evaluation, error) {
	quiz, err := s.Quizzes.FindByID(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if quiz.OwnerID != callerID && role != model.Admin {
		return nil, util.ErrPermissionDenied
	}
	return s.Evaluations.ListByQuiz(ctx, quizID)
}

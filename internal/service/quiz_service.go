package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"techquest_backend/internal/model"
	"techquest_backend/internal/repository"
	"techquest_backend/internal/session"
	"techquest_backend/internal/util"
	"techquest_backend/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/jinzhu/copier"
	"go.uber.org/zap"
)

const (
	quizCacheKeyPrefix = "quiz:questions:"
	quizCacheTTL       = 10 * time.Minute
)

// QuizSummary 测验列表项，附带当前用户的答题状态
type QuizSummary struct {
	ID                uint           `json:"id"`
	Title             string         `json:"title"`
	DurationMinutes   int            `json:"duration"`
	NumberOfQuestions int            `json:"numberOfQuestions"`
	Type              model.QuizType `json:"type"`
	YearStart         int            `json:"yearStart,omitempty"`
	YearEnd           int            `json:"yearEnd,omitempty"`
	RubricType        string         `json:"rubricType"`
	OwnerName         string         `json:"ownerName,omitempty"`
	State             session.State  `json:"state"`
	Label             string         `json:"label"`
	Restartable       bool           `json:"restartable"`
	Assigned          bool           `json:"assigned,omitempty"`
	StartedAt         *time.Time     `json:"startedAt,omitempty"`
	FinishedAt        *time.Time     `json:"finishedAt,omitempty"`
}

type QuizService struct {
	Quizzes     *repository.QuizRepository
	Attempts    *repository.AttemptRepository
	Assignments *repository.AssignmentRepository
	Users       *repository.UserRepository
	Redis       *redis.Client
	Now         func() time.Time
}

func NewQuizService(
	quizzes *repository.QuizRepository,
	attempts *repository.AttemptRepository,
	assignments *repository.AssignmentRepository,
	users *repository.UserRepository,
	rdb *redis.Client,
) *QuizService {
	return &QuizService{
		Quizzes:     quizzes,
		Attempts:    attempts,
		Assignments: assignments,
		Users:       users,
		Redis:       rdb,
		Now:         time.Now,
	}
}

// ForUser 返回绑定到答题用户的数据服务，供会话控制器使用
func (s *QuizService) ForUser(userID uint) session.QuizDataService {
	return &userQuizData{svc: s, userID: userID}
}

// cachedQuiz 与用户无关的部分，可以跨用户缓存
type cachedQuiz struct {
	ID              uint               `json:"id"`
	Title           string             `json:"title"`
	DurationMinutes int                `json:"duration"`
	Type            model.QuizType     `json:"type"`
	OwnerID         uint               `json:"ownerId"`
	Questions       []session.Question `json:"questions"`
}

func (s *QuizService) loadQuiz(ctx context.Context, quizID uint) (*cachedQuiz, error) {
	key := fmt.Sprintf("%s%d", quizCacheKeyPrefix, quizID)
	if s.Redis != nil {
		val, err := s.Redis.Get(ctx, key).Result()
		if err == nil {
			var cached cachedQuiz
			if err := json.Unmarshal([]byte(val), &cached); err == nil {
				return &cached, nil
			}
		} else if err != redis.Nil {
			logger.Log.Warn("quiz cache read failed", zap.Uint("quiz_id", quizID), zap.Error(err))
		}
	}

	quiz, err := s.Quizzes.FindByID(ctx, quizID)
	if err != nil {
		return nil, err
	}
	questions, err := s.Quizzes.FindQuestions(ctx, quizID)
	if err != nil {
		return nil, err
	}

	cached := &cachedQuiz{
		ID:              quiz.ID,
		Title:           quiz.Title,
		DurationMinutes: quiz.DurationMinutes,
		Type:            quiz.Type,
		OwnerID:         quiz.OwnerID,
		Questions:       make([]session.Question, 0, len(questions)),
	}
	for _, q := range questions {
		cached.Questions = append(cached.Questions, session.Question{
			ID:          q.ID,
			Description: q.Description,
			Difficulty:  q.Difficulty,
		})
	}

	if s.Redis != nil {
		raw, _ := json.Marshal(cached)
		if err := s.Redis.Set(ctx, key, raw, quizCacheTTL).Err(); err != nil {
			logger.Log.Warn("quiz cache write failed", zap.Uint("quiz_id", quizID), zap.Error(err))
		}
	}
	return cached, nil
}

func (s *QuizService) invalidate(ctx context.Context, quizID uint) {
	if s.Redis == nil {
		return
	}
	if err := s.Redis.Del(ctx, fmt.Sprintf("%s%d", quizCacheKeyPrefix, quizID)).Err(); err != nil {
		logger.Log.Warn("quiz cache invalidate failed", zap.Uint("quiz_id", quizID), zap.Error(err))
	}
}

// checkAccess 普通测验只对创建者可见，布置的测验只对被布置的用户可见
func (s *QuizService) checkAccess(ctx context.Context, quiz *cachedQuiz, userID uint) error {
	if quiz.OwnerID == userID {
		return nil
	}
	if quiz.Type == model.QuizAssigned {
		ok, err := s.Assignments.IsAssigned(ctx, quiz.ID, userID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return util.ErrPermissionDenied
}

func (s *QuizService) ListQuizzes(ctx context.Context, userID uint) ([]QuizSummary, error) {
	quizzes, err := s.Quizzes.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]QuizSummary, 0, len(quizzes))
	for i := range quizzes {
		summary, err := s.summarize(ctx, &quizzes[i], userID)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, nil
}

func (s *QuizService) GetQuizSummary(ctx context.Context, quizID, userID uint) (*QuizSummary, error) {
	quiz, err := s.Quizzes.FindByID(ctx, quizID)
	if err != nil {
		return nil, err
	}
	cached := &cachedQuiz{ID: quiz.ID, Type: quiz.Type, OwnerID: quiz.OwnerID}
	if err := s.checkAccess(ctx, cached, userID); err != nil {
		return nil, err
	}
	summary, err := s.summarize(ctx, quiz, userID)
	if err != nil {
		return nil, err
	}
	// 详情页展示出题人
	owner, err := s.Users.FindByID(ctx, quiz.OwnerID)
	switch {
	case err == nil:
		summary.OwnerName = owner.Name
	case !errors.Is(err, util.ErrUserNotFound):
		return nil, err
	}
	return &summary, nil
}

func (s *QuizService) summarize(ctx context.Context, quiz *model.Quiz, userID uint) (QuizSummary, error) {
	var summary QuizSummary
	copier.Copy(&summary, quiz)
	summary.ID = quiz.ID

	attempt, err := s.Attempts.Find(ctx, quiz.ID, userID)
	if err != nil && !errors.Is(err, util.ErrAttemptNotFound) {
		return summary, err
	}
	if attempt != nil {
		summary.StartedAt = attempt.StartedAt
		summary.FinishedAt = attempt.FinishedAt
	}
	summary.State = session.DeriveState(summary.StartedAt, summary.FinishedAt)
	summary.Label = session.Label(summary.StartedAt, summary.FinishedAt)
	summary.Restartable = session.Restartable(quiz.Type, summary.StartedAt, summary.FinishedAt)
	return summary, nil
}

// SetRubric 只有测验创建者或管理员可以修改评分标准
func (s *QuizService) SetRubric(ctx context.Context, quizID, callerID uint, role model.UserRole, rubricType, custom string) error {
	quiz, err := s.Quizzes.FindByID(ctx, quizID)
	if err != nil {
		return err
	}
	if quiz.OwnerID != callerID && role != model.Admin {
		return util.ErrPermissionDenied
	}

	switch rubricType {
	case model.RubricDefault:
		custom = ""
	case model.RubricCustom:
		if strings.TrimSpace(custom) == "" {
			return util.ErrInvalidRubric
		}
	default:
		return util.ErrInvalidRubric
	}

	if err := s.Quizzes.UpdateRubric(ctx, quizID, rubricType, custom); err != nil {
		return err
	}
	s.invalidate(ctx, quizID)
	logger.Log.Info("quiz rubric updated",
		zap.Uint("quiz_id", quizID),
		zap.Uint("caller_id", callerID),
		zap.String("rubric_type", rubricType),
	)
	return nil
}

// ResolveAssignment 通过分享链接找到测验，并确认当前用户在布置名单中
func (s *QuizService) ResolveAssignment(ctx context.Context, link string, userID uint) (*QuizSummary, error) {
	assignment, err := s.Assignments.FindByLink(ctx, link)
	if err != nil {
		return nil, err
	}
	summary, err := s.GetQuizSummary(ctx, assignment.QuizID, userID)
	if err != nil {
		return nil, err
	}
	summary.Assigned = summary.Type == model.QuizAssigned
	return summary, nil
}

type userQuizData struct {
	svc    *QuizService
	userID uint
}

func (d *userQuizData) GetQuizWithQuestions(ctx context.Context, quizID uint) (*session.Quiz, error) {
	cached, err := d.svc.loadQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if err := d.svc.checkAccess(ctx, cached, d.userID); err != nil {
		return nil, err
	}

	quiz := &session.Quiz{
		ID:              cached.ID,
		Title:           cached.Title,
		DurationMinutes: cached.DurationMinutes,
		Type:            cached.Type,
		Questions:       cached.Questions,
	}
	attempt, err := d.svc.Attempts.Find(ctx, quizID, d.userID)
	if err != nil && !errors.Is(err, util.ErrAttemptNotFound) {
		return nil, err
	}
	if attempt != nil {
		quiz.StartedAt = attempt.StartedAt
		quiz.FinishedAt = attempt.FinishedAt
	}
	return quiz, nil
}

func (d *userQuizData) StartQuiz(ctx context.Context, quizID uint) (session.Timestamps, error) {
	attempt, err := d.svc.Attempts.MarkStarted(ctx, quizID, d.userID, d.svc.Now())
	if err != nil {
		return session.Timestamps{}, err
	}
	return timestamps(attempt), nil
}

func (d *userQuizData) FinishQuiz(ctx context.Context, quizID uint) (session.Timestamps, error) {
	attempt, err := d.svc.Attempts.MarkFinished(ctx, quizID, d.userID, d.svc.Now())
	if err != nil {
		return session.Timestamps{}, err
	}
	return timestamps(attempt), nil
}

func (d *userQuizData) ResetFinishedAt(ctx context.Context, quizID uint) (session.Timestamps, error) {
	attempt, err := d.svc.Attempts.ResetFinished(ctx, quizID, d.userID)
	if err != nil {
		return session.Timestamps{}, err
	}
	return timestamps(attempt), nil
}

func (d *userQuizData) GetOwnerContact(ctx context.Context, quizID uint) (string, error) {
	return d.svc.Quizzes.FindOwnerEmail(ctx, quizID)
}

func timestamps(a *model.QuizAttempt) session.Timestamps {
	return session.Timestamps{StartedAt: a.StartedAt, FinishedAt: a.FinishedAt}
}

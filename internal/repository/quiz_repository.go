package repository

import (
	"context"
	"errors"
	"techquest_backend/internal/model"
	"techquest_backend/internal/util"

	"gorm.io/gorm"
)

type QuizRepository struct {
	DB *gorm.DB
}

func NewQuizRepository(db *gorm.DB) *QuizRepository {
	return &QuizRepository{DB: db}
}

// Create 创建测验并按传入顺序关联题目
func (r *QuizRepository) Create(ctx context.Context, quiz *model.Quiz, questionIDs []uint) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		quiz.NumberOfQuestions = len(questionIDs)
		if err := tx.Create(quiz).Error; err != nil {
			return err
		}
		if len(questionIDs) == 0 {
			return nil
		}
		links := make([]model.QuizQuestion, 0, len(questionIDs))
		for i, qid := range questionIDs {
			links = append(links, model.QuizQuestion{QuizID: quiz.ID, QuestionID: qid, Position: i})
		}
		return tx.Create(&links).Error
	})
}

func (r *QuizRepository) FindByID(ctx context.Context, id uint) (*model.Quiz, error) {
	var quiz model.Quiz
	if err := r.DB.WithContext(ctx).First(&quiz, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrQuizNotFound
		}
		return nil, err
	}
	return &quiz, nil
}

func (r *QuizRepository) FindQuestions(ctx context.Context, quizID uint) ([]model.Question, error) {
	var questions []model.Question
	err := r.DB.WithContext(ctx).
		Joins("JOIN quiz_questions ON quiz_questions.question_id = questions.id").
		Where("quiz_questions.quiz_id = ?", quizID).
		Order("quiz_questions.position ASC, questions.id ASC").
		Find(&questions).Error
	return questions, err
}

// ListForUser 自己创建的普通测验 + 被分配的测验
func (r *QuizRepository) ListForUser(ctx context.Context, userID uint) ([]model.Quiz, error) {
	assigned := r.DB.Table("quiz_assignments").
		Select("quiz_assignments.quiz_id").
		Joins("JOIN quiz_assignment_users ON quiz_assignment_users.quiz_assignment_id = quiz_assignments.id").
		Where("quiz_assignment_users.user_id = ? AND quiz_assignments.deleted_at IS NULL", userID)

	var quizzes []model.Quiz
	err := r.DB.WithContext(ctx).
		Where("((owner_id = ? AND type = ?) OR id IN (?))", userID, model.QuizRegular, assigned).
		Order("id DESC").
		Find(&quizzes).Error
	return quizzes, err
}

func (r *QuizRepository) UpdateRubric(ctx context.Context, quizID uint, rubricType, customRubric string) error {
	res := r.DB.WithContext(ctx).Model(&model.Quiz{}).
		Where("id = ?", quizID).
		Updates(map[string]interface{}{
			"rubric_type":   rubricType,
			"custom_rubric": customRubric,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return util.ErrQuizNotFound
	}
	return nil
}

func (r *QuizRepository) FindOwnerEmail(ctx context.Context, quizID uint) (string, error) {
	var row struct {
		Email string
	}
	res := r.DB.WithContext(ctx).Table("quizzes").
		Select("users.email AS email").
		Joins("JOIN users ON users.id = quizzes.owner_id").
		Where("quizzes.id = ? AND quizzes.deleted_at IS NULL", quizID).
		Limit(1).
		Scan(&row)
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		return "", util.ErrQuizNotFound
	}
	return row.Email, nil
}

package repository

import (
	"context"
	"techquest_backend/internal/model"

	"gorm.io/gorm"
)

type EvaluationRepository struct {
	DB *gorm.DB
}

func NewEvaluationRepository(db *gorm.DB) *EvaluationRepository {
	return &EvaluationRepository{DB: db}
}

func (r *EvaluationRepository) Create(ctx context.Context, evaluation *model.Evaluation) error {
	return r.DB.WithContext(ctx).Create(evaluation).Error
}

func (r *EvaluationRepository) ListByQuiz(ctx context.Context, quizID uint) ([]model.Evaluation, error) {
	var list []model.Evaluation
	err := r.DB.WithContext(ctx).
		Where("quiz_id = ?", quizID).
		Order("created_at DESC").
		Find(&list).Error
	return list, err
}

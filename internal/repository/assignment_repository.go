package repository

import (
	"context"
	"errors"
	"techquest_backend/internal/model"
	"techquest_backend/internal/util"

	"gorm.io/gorm"
)

type AssignmentRepository struct {
	DB *gorm.DB
}

func NewAssignmentRepository(db *gorm.DB) *AssignmentRepository {
	return &AssignmentRepository{DB: db}
}

func (r *AssignmentRepository) Create(ctx context.Context, assignment *model.QuizAssignment) error {
	return r.DB.WithContext(ctx).Create(assignment).Error
}

func (r *AssignmentRepository) FindByLink(ctx context.Context, link string) (*model.QuizAssignment, error) {
	var assignment model.QuizAssignment
	if err := r.DB.WithContext(ctx).Where("shareable_link = ?", link).First(&assignment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrAssignmentNotFound
		}
		return nil, err
	}
	return &assignment, nil
}

func (r *AssignmentRepository) IsAssigned(ctx context.Context, quizID, userID uint) (bool, error) {
	var count int64
	err := r.DB.WithContext(ctx).Table("quiz_assignments").
		Joins("JOIN quiz_assignment_users ON quiz_assignment_users.quiz_assignment_id = quiz_assignments.id").
		Where("quiz_assignments.quiz_id = ? AND quiz_assignment_users.user_id = ? AND quiz_assignments.deleted_at IS NULL", quizID, userID).
		Count(&count).Error
	return count > 0, err
}

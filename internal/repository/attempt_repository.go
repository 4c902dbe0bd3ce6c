package repository

import (
	"context"
	"errors"
	"techquest_backend/internal/model"
	"techquest_backend/internal/util"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AttemptRepository 每个用户每个测验一条记录，startedAt/finishedAt 决定答题状态
type AttemptRepository struct {
	DB *gorm.DB
}

func NewAttemptRepository(db *gorm.DB) *AttemptRepository {
	return &AttemptRepository{DB: db}
}

func (r *AttemptRepository) Find(ctx context.Context, quizID, userID uint) (*model.QuizAttempt, error) {
	return r.find(r.DB.WithContext(ctx), quizID, userID)
}

func (r *AttemptRepository) find(tx *gorm.DB, quizID, userID uint) (*model.QuizAttempt, error) {
	var attempt model.QuizAttempt
	err := tx.Where("quiz_id = ? AND user_id = ?", quizID, userID).First(&attempt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrAttemptNotFound
		}
		return nil, err
	}
	return &attempt, nil
}

// MarkStarted 只在 started_at 为空时写入，已开始的记录保持原值
func (r *AttemptRepository) MarkStarted(ctx context.Context, quizID, userID uint, now time.Time) (*model.QuizAttempt, error) {
	var out *model.QuizAttempt
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := model.QuizAttempt{QuizID: quizID, UserID: userID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.QuizAttempt{}).
			Where("quiz_id = ? AND user_id = ? AND started_at IS NULL", quizID, userID).
			Update("started_at", now).Error; err != nil {
			return err
		}
		attempt, err := r.find(tx, quizID, userID)
		if err != nil {
			return err
		}
		out = attempt
		return nil
	})
	return out, err
}

func (r *AttemptRepository) MarkFinished(ctx context.Context, quizID, userID uint, now time.Time) (*model.QuizAttempt, error) {
	return r.setFinishedAt(ctx, quizID, userID, now)
}

func (r *AttemptRepository) ResetFinished(ctx context.Context, quizID, userID uint) (*model.QuizAttempt, error) {
	return r.setFinishedAt(ctx, quizID, userID, gorm.Expr("NULL"))
}

func (r *AttemptRepository) setFinishedAt(ctx context.Context, quizID, userID uint, value interface{}) (*model.QuizAttempt, error) {
	var out *model.QuizAttempt
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		attempt, err := r.find(tx, quizID, userID)
		if err != nil {
			return err
		}
		if err := tx.Model(&model.QuizAttempt{}).
			Where("id = ?", attempt.ID).
			Update("finished_at", value).Error; err != nil {
			return err
		}
		out, err = r.find(tx, quizID, userID)
		return err
	})
	return out, err
}

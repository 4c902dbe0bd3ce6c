package model

import "time"

// swagger:model QuizAttempt
type QuizAttempt struct {
	BaseModel
	QuizID     uint       `gorm:"uniqueIndex:idx_attempt_quiz_user;not null" json:"quizId"`
	UserID     uint       `gorm:"uniqueIndex:idx_attempt_quiz_user;not null" json:"userId"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

func (QuizAttempt) TableName() string {
	return "quiz_attempts"
}

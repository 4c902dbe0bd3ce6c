package model

import "gorm.io/datatypes"

const (
	EvaluationSent   = "sent"
	EvaluationFailed = "failed"
)

// EvaluationItem 单题评测结果，序列化后存入 Evaluation.Results
type EvaluationItem struct {
	QuestionID   uint   `json:"questionId"`
	QuestionText string `json:"questionText"`
	Code         string `json:"code"`
	Evaluation   string `json:"evaluation"`
}

// swagger:model Evaluation
type Evaluation struct {
	BaseModel
	QuizID     uint           `gorm:"index;not null" json:"quizId"`
	UserID     uint           `gorm:"index" json:"userId"`
	OwnerEmail string         `gorm:"size:100" json:"ownerEmail"`
	Language   string         `gorm:"size:20" json:"language"`
	Results    datatypes.JSON `json:"results"`
	ReportURL  string         `gorm:"size:255" json:"reportUrl,omitempty"`
	Status     string         `gorm:"size:20" json:"status"`
}

func (Evaluation) TableName() string {
	return "evaluations"
}

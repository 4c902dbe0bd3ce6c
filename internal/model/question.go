package model

// swagger:model Question
type Question struct {
	BaseModel
	UUID        string `gorm:"size:36;uniqueIndex" json:"uuid"`
	Description string `gorm:"type:text;not null" json:"description"`
	Difficulty  string `gorm:"size:20" json:"difficulty"`
}

func (Question) TableName() string {
	return "questions"
}

// QuizQuestion 题目在测验中的顺序
type QuizQuestion struct {
	QuizID     uint `gorm:"primaryKey"`
	QuestionID uint `gorm:"primaryKey"`
	Position   int  `gorm:"not null;default:0"`
}

func (QuizQuestion) TableName() string {
	return "quiz_questions"
}

package model

type QuizType string

const (
	QuizRegular  QuizType = "regular"
	QuizAssigned QuizType = "assigned"
)

const (
	RubricDefault = "default"
	RubricCustom  = "custom"
)

// swagger:model Quiz
type Quiz struct {
	BaseModel
	Title             string   `gorm:"size:200;not null" json:"title"`
	DurationMinutes   int      `gorm:"not null" json:"duration"`
	NumberOfQuestions int      `json:"numberOfQuestions"`
	OwnerID           uint     `gorm:"index;not null" json:"quizOwnedBy"`
	Owner             *User    `gorm:"foreignKey:OwnerID" json:"-"`
	Type              QuizType `gorm:"size:20;default:'regular'" json:"type"`
	YearStart         int      `json:"yearStart,omitempty"`
	YearEnd           int      `json:"yearEnd,omitempty"`
	RubricType        string   `gorm:"size:20;default:'default'" json:"rubricType"`
	CustomRubric      string   `gorm:"type:text" json:"customRubric,omitempty"`
}

func (Quiz) TableName() string {
	return "quizzes"
}

// UsesCustomRubric 仅当类型为 custom 且内容非空时使用自定义评分标准
func (q *Quiz) UsesCustomRubric() bool {
	return q.RubricType == RubricCustom && q.CustomRubric != ""
}

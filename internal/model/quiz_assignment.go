package model

// swagger:model QuizAssignment
type QuizAssignment struct {
	BaseModel
	QuizID        uint   `gorm:"uniqueIndex;not null" json:"quizId"`
	ShareableLink string `gorm:"size:64;uniqueIndex;not null" json:"shareableLink"`
	Users         []User `gorm:"many2many:quiz_assignment_users" json:"users,omitempty"`
}

func (QuizAssignment) TableName() string {
	return "quiz_assignments"
}

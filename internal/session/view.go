package session

import (
	"fmt"
	"sort"

	"techquest_backend/internal/model"
)

// View 会话快照，供 HTTP 层返回
type View struct {
	ID               string         `json:"id"`
	QuizID           uint           `json:"quizId"`
	Title            string         `json:"title"`
	Type             model.QuizType `json:"type"`
	State            State          `json:"state"`
	Label            string         `json:"label"`
	DurationSeconds  int            `json:"durationSeconds"`
	RemainingSeconds int            `json:"remainingSeconds"`
	Remaining        string         `json:"remaining"`
	Paused           bool           `json:"paused"`
	CurrentIndex     int            `json:"currentIndex"`
	TotalQuestions   int            `json:"totalQuestions"`
	Question         Question       `json:"question"`
	Code             string         `json:"code"`
	Output           string         `json:"output"`
	Language         string         `json:"language"`
	AttemptedCount   int            `json:"attemptedCount"`
	SubmittedIDs     []uint         `json:"submittedQuestionIds"`
	Evaluating       bool           `json:"evaluating"`
	HasPrevious      bool           `json:"hasPrevious"`
	HasNext          bool           `json:"hasNext"`
	CanFinish        bool           `json:"canFinish"`
	Notice           string         `json:"notice,omitempty"`
}

func (c *Controller) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]uint, 0, len(c.submissions))
	for id := range c.submissions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	state := c.stateLocked()
	return View{
		ID:               c.opts.ID,
		QuizID:           c.opts.QuizID,
		Title:            c.title,
		Type:             c.quizType,
		State:            state,
		Label:            Label(c.startedAt, c.finishedAt),
		DurationSeconds:  c.durationSeconds,
		RemainingSeconds: c.remainingSeconds,
		Remaining:        FormatClock(c.remainingSeconds),
		Paused:           c.paused,
		CurrentIndex:     c.currentIndex,
		TotalQuestions:   len(c.questions),
		Question:         c.questions[c.currentIndex],
		Code:             c.code,
		Output:           c.output,
		Language:         c.language,
		AttemptedCount:   len(c.submissions),
		SubmittedIDs:     ids,
		Evaluating:       c.evaluating,
		HasPrevious:      c.currentIndex > 0,
		HasNext:          c.currentIndex < len(c.questions)-1,
		CanFinish:        state != Completed && !c.evaluating,
		Notice:           c.notice,
	}
}

// FormatClock 秒数格式化为 HH:MM:SS
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}

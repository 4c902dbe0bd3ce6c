package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"techquest_backend/internal/model"
	"techquest_backend/internal/repository"
	"techquest_backend/pkg/database"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

type world struct {
	db       *gorm.DB
	quizzes  *repository.QuizRepository
	attempts *repository.AttemptRepository
	assigns  *repository.AssignmentRepository
	users    *repository.UserRepository
	evals    *repository.EvaluationRepository

	teacher  model.User
	student  model.User
	other    model.User
	practice model.Quiz // 学生自己的普通测验
	homework model.Quiz // 教师布置给学生的测验
	qs       []model.Question
}

func newWorld(t *testing.T) *world {
	t.Helper()
	ctx := context.Background()
	db := newTestDB(t)
	w := &world{
		db:       db,
		quizzes:  repository.NewQuizRepository(db),
		attempts: repository.NewAttemptRepository(db),
		assigns:  repository.NewAssignmentRepository(db),
		users:    repository.NewUserRepository(db),
		evals:    repository.NewEvaluationRepository(db),
		teacher:  model.User{Name: "Teacher", Email: "teacher@example.com", Role: model.Teacher},
		student:  model.User{Name: "Student", Email: "student@example.com", Role: model.Student},
		other:    model.User{Name: "Other", Email: "other@example.com", Role: model.Student},
	}
	for _, u := range []*model.User{&w.teacher, &w.student, &w.other} {
		if err := w.users.Create(ctx, u); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}

	w.qs = []model.Question{
		{Description: "Sum 1..n", Difficulty: "easy"},
		{Description: "Reverse a string", Difficulty: "easy"},
	}
	for i := range w.qs {
		if err := db.Create(&w.qs[i]).Error; err != nil {
			t.Fatalf("create question: %v", err)
		}
	}
	ids := []uint{w.qs[0].ID, w.qs[1].ID}

	w.practice = model.Quiz{Title: "Practice", DurationMinutes: 20, OwnerID: w.student.ID, Type: model.QuizRegular}
	if err := w.quizzes.Create(ctx, &w.practice, ids); err != nil {
		t.Fatalf("create practice quiz: %v", err)
	}
	w.homework = model.Quiz{Title: "Homework", DurationMinutes: 45, OwnerID: w.teacher.ID, Type: model.QuizAssigned}
	if err := w.quizzes.Create(ctx, &w.homework, ids); err != nil {
		t.Fatalf("create homework quiz: %v", err)
	}
	if err := w.assigns.Create(ctx, &model.QuizAssignment{
		QuizID:        w.homework.ID,
		ShareableLink: "hw-link",
		Users:         []model.User{w.student},
	}); err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	return w
}

func (w *world) quizService() *QuizService {
	return NewQuizService(w.quizzes, w.attempts, w.assigns, w.users, nil)
}

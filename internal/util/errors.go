package util

import "errors"

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrQuizNotFound        = errors.New("quiz not found")
	ErrAttemptNotFound     = errors.New("quiz attempt not found")
	ErrAssignmentNotFound  = errors.New("assignment not found")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrNoSubmissions       = errors.New("no submissions provided")
	ErrMissingOwnerContact = errors.New("owner email is required")
	ErrInvalidRubric       = errors.New("custom rubric must not be empty")
	ErrGraderUnavailable   = errors.New("evaluation model is not configured")
)

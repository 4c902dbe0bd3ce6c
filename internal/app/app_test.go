package app

import (
	"testing"
	"time"

	"techquest_backend/internal/config"
	"techquest_backend/internal/session"
)

func TestSessionPolicyFromConfig(t *testing.T) {
	cfg := &config.Config{Session: config.SessionConfig{
		TimeoutPolicy:        "none",
		RedirectPath:         "/Practise?tab=quizzes",
		RedirectDelaySeconds: 2,
		IdleMinutes:          30,
		DefaultLanguage:      "cpp",
	}}

	p := SessionPolicy(cfg)
	if p.TimeoutPolicy != session.TimeoutNone {
		t.Fatalf("timeout policy = %q", p.TimeoutPolicy)
	}
	if p.RedirectDelay != 2*time.Second || p.IdleTimeout != 30*time.Minute {
		t.Fatalf("durations = %v, %v", p.RedirectDelay, p.IdleTimeout)
	}
	if p.RedirectPath != "/Practise?tab=quizzes" || p.DefaultLanguage != "cpp" {
		t.Fatalf("policy = %+v", p)
	}
}

package service

import (
	"context"

	"techquest_backend/internal/config"
	"techquest_backend/pkg/logger"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

type Mailer interface {
	Send(ctx context.Context, to, subject, html string) error
}

// MailService 通过 SMTP 发送评测结果
type MailService struct {
	cfg    config.MailConfig
	dialer *gomail.Dialer
}

func NewMailService(cfg config.MailConfig) *MailService {
	return &MailService{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

func (s *MailService) Send(ctx context.Context, to, subject, html string) error {
	if !s.cfg.Enabled {
		logger.Log.Info("mail disabled, message not sent",
			zap.String("to", to),
			zap.String("subject", subject),
		)
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", html)

	// gomail 不支持 context，超时由调用方的 ctx 控制
	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(m)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/querydeck/backend/internal/config"
	"github.com/querydeck/backend/pkg/logger"
	"github.com/wneessen/go-mail"
)

// EmailService delivers transactional mail over SMTP. With SMTP disabled
// it logs the message instead, which keeps development setups working.
type EmailService struct {
	cfg *config.SMTPConfig
}

func NewEmailService(cfg *config.SMTPConfig) *EmailService {
	return &EmailService{cfg: cfg}
}

// Send delivers a single plain-text message.
func (s *EmailService) Send(ctx context.Context, task *EmailTask) error {
	if s.cfg == nil || !s.cfg.Enabled {
		logger.Infof("[Email] SMTP disabled, dropping mail to %s: %s", task.To, task.Subject)
		return nil
	}

	msg := mail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return fmt.Errorf("failed to set email from address: %w", err)
	}
	if err := msg.To(task.To); err != nil {
		return fmt.Errorf("failed to set email recipient: %w", err)
	}
	msg.Subject(task.Subject)
	msg.SetBodyString(mail.TypeTextPlain, task.Body)

	client, err := s.smtpClient()
	if err != nil {
		return err
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", task.To, err)
	}

	logger.Infof("[Email] Sent %q to %s", task.Subject, task.To)
	return nil
}

func (s *EmailService) smtpClient() (*mail.Client, error) {
	clientOptions := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(10 * time.Second),
	}

	// Unauthenticated relays stay usable when no credentials are set.
	if s.cfg.Username != "" && s.cfg.Password != "" {
		clientOptions = append(clientOptions,
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
		)
	}
	if s.cfg.UseTLS {
		clientOptions = append(clientOptions, mail.WithTLSPolicy(mail.TLSMandatory))
	}

	client, err := mail.NewClient(s.cfg.Host, clientOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}
	return client, nil
}

package notify

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/lliwi/sar-v3-sub000/internal/logger"
)

// SMTPConfig contains SMTP delivery configuration.
type SMTPConfig struct {
	Host       string `mapstructure:"host" yaml:"host"`
	Port       int    `mapstructure:"port" yaml:"port"`
	SenderMail string `mapstructure:"sender_mail" yaml:"sender_mail"`
	Password   string `mapstructure:"password" yaml:"password"`
}

// SMTPSender delivers messages over plain SMTP.
type SMTPSender struct {
	cfg SMTPConfig
}

var _ Sender = (*SMTPSender)(nil)

// NewSMTPSender creates an SMTP sender.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" || cfg.SenderMail == "" {
		return nil, fmt.Errorf("smtp host and sender mail are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 25
	}
	return &SMTPSender{cfg: cfg}, nil
}

// Send delivers one message. The SMTP dial is synchronous; callers running
// inside the orchestrator tick should treat failures as deliverable-later.
func (s *SMTPSender) Send(ctx context.Context, recipient, subject, body string) error {
	if recipient == "" {
		return fmt.Errorf("recipient is required")
	}

	var auth smtp.Auth
	if s.cfg.Password != "" {
		auth = smtp.PlainAuth("", s.cfg.SenderMail, s.cfg.Password, s.cfg.Host)
	}

	message := "From: " + s.cfg.SenderMail + "\r\n" +
		"To: " + recipient + "\r\n" +
		"Subject: " + subject + "\r\n\r\n" +
		body

	err := smtp.SendMail(
		fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		auth,
		s.cfg.SenderMail,
		[]string{recipient},
		[]byte(message),
	)
	if err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return nil
}

// LogSender writes messages to the log instead of delivering them. Used in
// development and when no SMTP host is configured.
type LogSender struct{}

var _ Sender = (*LogSender)(nil)

// Send logs the message.
func (LogSender) Send(ctx context.Context, recipient, subject, body string) error {
	logger.InfoCtx(ctx, "Notification (log delivery)",
		logger.KeyRecipient, recipient,
		logger.KeyOperation, subject)
	return nil
}

// SenderFromConfig picks SMTP when a host is configured, the log sender
// otherwise.
func SenderFromConfig(cfg Config) (Sender, error) {
	if cfg.SMTP.Host == "" {
		logger.Info("No SMTP host configured, notifications go to the log")
		return LogSender{}, nil
	}
	return NewSMTPSender(cfg.SMTP)
}

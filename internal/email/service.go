package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"

	"github.com/veltix/auth-api/internal/auth"
	"github.com/veltix/auth-api/internal/config"
	"github.com/veltix/auth-api/internal/logging"
)

// Service sends transactional mail over SMTP. Callers address a message with
// To and fire it with SendRaw; auth flows do this from goroutines so delivery
// never blocks or fails a request.
type Service struct {
	smtpHost     string
	smtpPort     string
	smtpUser     string
	smtpPassword string
	fromEmail    string
	frontendURL  string
	logger       *logging.Logger
}

func NewService(cfg config.EmailConfig, logger *logging.Logger) *Service {
	return &Service{
		smtpHost:     cfg.SMTPHost,
		smtpPort:     cfg.SMTPPort,
		smtpUser:     cfg.SMTPUser,
		smtpPassword: cfg.SMTPPassword,
		fromEmail:    cfg.SMTPUser,
		frontendURL:  cfg.FrontendURL,
		logger:       logger,
	}
}

var _ auth.Mailer = (*Service)(nil)

// To starts an addressed message.
func (s *Service) To(address string) auth.MailMessage {
	return &message{service: s, to: address}
}

type message struct {
	service *Service
	to      string
}

// SendRaw wraps the body in the standard HTML shell and delivers it.
func (m *message) SendRaw(ctx context.Context, body string) error {
	s := m.service

	rendered, err := renderBody(body)
	if err != nil {
		s.logger.Error("failed to render email template", "error", err)
		return fmt.Errorf("render template: %w", err)
	}

	if err := s.sendEmail(m.to, "Notification", rendered); err != nil {
		s.logger.Error("failed to send email", "email", m.to, "error", err)
		return fmt.Errorf("send email: %w", err)
	}

	s.logger.Info("email sent", "email", m.to)
	return nil
}

func (s *Service) sendEmail(to, subject, body string) error {
	smtpAuth := smtp.PlainAuth("", s.smtpUser, s.smtpPassword, s.smtpHost)

	msg := []byte(fmt.Sprintf(
		"From: %s\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/html; charset=UTF-8\r\n"+
			"\r\n"+
			"%s\r\n",
		s.fromEmail, to, subject, body,
	))

	addr := fmt.Sprintf("%s:%s", s.smtpHost, s.smtpPort)
	return smtp.SendMail(addr, smtpAuth, s.fromEmail, []string{to}, msg)
}

var bodyTemplate = template.Must(template.New("raw").Parse(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body {
            font-family: Arial, sans-serif;
            line-height: 1.6;
            color: #333;
            max-width: 600px;
            margin: 0 auto;
            padding: 20px;
        }
        .content {
            background-color: #f9f9f9;
            padding: 30px;
            border-radius: 5px;
        }
        .footer {
            margin-top: 30px;
            font-size: 12px;
            color: #666;
            text-align: center;
        }
    </style>
</head>
<body>
    <div class="content">
        <p style="word-break: break-all;">{{.Body}}</p>
    </div>
    <div class="footer">
        <p>If you didn't expect this email, you can safely ignore it.</p>
    </div>
</body>
</html>
`))

func renderBody(body string) (string, error) {
	var buf bytes.Buffer
	data := struct {
		Body string
	}{
		Body: body,
	}

	if err := bodyTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}

	return buf.String(), nil
}

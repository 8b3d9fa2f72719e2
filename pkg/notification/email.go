package notification

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/Eld3rt/aflow-sub000/pkg/models"
)

var ErrNoRecipients = errors.New("email notification has no recipients")

// SendMailFunc matches smtp.SendMail.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPConfig is the process-wide mail server configuration.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailSender delivers the payload JSON as the body of a plain mail.
// Recipients come from the "to" key of each notification config, either a
// comma separated string or a list of strings.
type EmailSender struct {
	config   SMTPConfig
	sendMail SendMailFunc
}

func NewEmailSender(config SMTPConfig) *EmailSender {
	if config.Port == 0 {
		config.Port = 25
	}

	return &EmailSender{config: config, sendMail: smtp.SendMail}
}

// WithSendMail replaces the SMTP transport.
func (e *EmailSender) WithSendMail(fn SendMailFunc) *EmailSender {
	e.sendMail = fn

	return e
}

func (e *EmailSender) Channel() models.NotificationChannel {
	return models.NotificationChannelEmail
}

func (e *EmailSender) Send(ctx context.Context, config map[string]any, message Message) error {
	to := recipients(config["to"])
	if len(to) == 0 {
		return ErrNoRecipients
	}

	addr := net.JoinHostPort(e.config.Host, strconv.Itoa(e.config.Port))

	var auth smtp.Auth
	if e.config.Username != "" && e.config.Password != "" {
		auth = smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)
	}

	msg := e.buildMessage(to, message)

	// smtp.SendMail takes no context; the delivery is abandoned when ctx ends.
	done := make(chan error, 1)

	go func() {
		done <- e.sendMail(addr, auth, e.config.From, to, msg)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("email delivery to %s interrupted: %w", addr, ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send email via %s: %w", addr, err)
		}

		return nil
	}
}

func (e *EmailSender) buildMessage(to []string, message Message) []byte {
	var b strings.Builder

	b.WriteString("From: " + e.config.From + "\r\n")
	b.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	b.WriteString("Subject: " + message.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: application/json; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.Write(message.Body)
	b.WriteString("\r\n")

	return []byte(b.String())
}

func recipients(value any) []string {
	var raw []string

	switch v := value.(type) {
	case string:
		raw = strings.Split(v, ",")
	case []string:
		raw = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	}

	to := make([]string, 0, len(raw))

	for _, address := range raw {
		address = strings.TrimSpace(address)
		if address != "" {
			to = append(to, address)
		}
	}

	return to
}

// Package notify delivers verification codes to users.
package notify

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"text/template"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// Sender sends assembled mail messages. *gomail.Dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPConfig holds the SMTP relay settings.
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
	SiteName  string
}

// codeMailParams is passed to both mail templates.
type codeMailParams struct {
	Email    string
	Code     string
	Minutes  int
	SiteName string
	FromName string
}

const textTemplate = `Hi {{.Email}},

Your sign-in code for {{.SiteName}} is:

{{.Code}}

The code is valid for {{.Minutes}} minutes.

If you did not request a code, you can ignore this email.

{{.FromName}}
`

const htmlTemplate = `<p>Hi {{.Email}},</p>
<p>Your sign-in code for {{.SiteName}} is:</p>
<p style="font-size:24px;letter-spacing:4px"><strong>{{.Code}}</strong></p>
<p>The code is valid for {{.Minutes}} minutes.</p>
<p>If you did not request a code, you can ignore this email.</p>
<p>{{.FromName}}</p>
`

var (
	textTmpl = template.Must(template.New("code-text").Parse(textTemplate))
	htmlTmpl = htmltemplate.Must(htmltemplate.New("code-html").Parse(htmlTemplate))
)

// SMTPNotifier sends codes by mail through gomail.
type SMTPNotifier struct {
	sender Sender
	config SMTPConfig
	logger *zap.Logger
}

// NewSMTPNotifier creates an SMTPNotifier using a gomail dialer for config.
func NewSMTPNotifier(config SMTPConfig, logger *zap.Logger) *SMTPNotifier {
	dialer := gomail.NewDialer(config.Host, config.Port, config.Username, config.Password)
	return NewSMTPNotifierWithSender(dialer, config, logger)
}

// NewSMTPNotifierWithSender creates an SMTPNotifier with a custom Sender.
func NewSMTPNotifierWithSender(sender Sender, config SMTPConfig, logger *zap.Logger) *SMTPNotifier {
	if config.SiteName == "" {
		config.SiteName = "authcore"
	}
	if config.FromName == "" {
		config.FromName = config.SiteName
	}
	return &SMTPNotifier{
		sender: sender,
		config: config,
		logger: logger,
	}
}

// SendCode mails code to email. The message states how long the code stays valid.
func (n *SMTPNotifier) SendCode(ctx context.Context, email, code string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := codeMailParams{
		Email:    email,
		Code:     code,
		Minutes:  int(ttl.Round(time.Minute) / time.Minute),
		SiteName: n.config.SiteName,
		FromName: n.config.FromName,
	}

	var text, html bytes.Buffer
	if err := textTmpl.Execute(&text, params); err != nil {
		return fmt.Errorf("failed to render code email: %w", err)
	}
	if err := htmlTmpl.Execute(&html, params); err != nil {
		return fmt.Errorf("failed to render code email: %w", err)
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", n.config.FromEmail, n.config.FromName)
	m.SetHeader("To", email)
	m.SetHeader("Subject", fmt.Sprintf("Your %s sign-in code", n.config.SiteName))
	m.SetBody("text/plain", text.String())
	m.AddAlternative("text/html", html.String())

	if err := n.sender.DialAndSend(m); err != nil {
		n.logger.Warn("failed to send code email",
			zap.String("email", email),
			zap.Error(err),
		)
		return fmt.Errorf("failed to send code email: %w", err)
	}

	n.logger.Info("code email sent", zap.String("email", email))
	return nil
}

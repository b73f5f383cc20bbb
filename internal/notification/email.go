package notification

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/kestrelwatch/kestrel/internal/conf"
	"github.com/kestrelwatch/kestrel/internal/detection"
	"github.com/kestrelwatch/kestrel/internal/errors"
)

const smtpDialTimeout = 15 * time.Second

// EmailProvider delivers alerts over SMTP with STARTTLS when the server
// offers it.
type EmailProvider struct {
	settings conf.EmailSettings
}

func NewEmailProvider(settings conf.EmailSettings) *EmailProvider {
	return &EmailProvider{settings: settings}
}

func (e *EmailProvider) GetName() string { return "email" }

func (e *EmailProvider) IsEnabled() bool { return e.settings.Enabled }

func (e *EmailProvider) SupportsType(detection.AlertType) bool { return true }

func (e *EmailProvider) ValidateConfig() error {
	if !e.settings.Enabled {
		return nil
	}
	if e.settings.Host == "" {
		return errors.Newf("email host is required").
			Component("notification").
			Category(errors.CategoryValidation).
			Build()
	}
	if len(e.settings.Recipients) == 0 {
		return errors.Newf("email requires at least one recipient").
			Component("notification").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

func (e *EmailProvider) Send(ctx context.Context, n *Notification) error {
	addr := net.JoinHostPort(e.settings.Host, fmt.Sprintf("%d", e.settings.Port))
	msg := e.buildMessage(n)

	done := make(chan error, 1)
	go func() {
		done <- e.deliver(addr, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return errors.New(err).
				Component("notification").
				Category(errors.CategoryNotification).
				Context("channel", "email").
				Context("host", e.settings.Host).
				Build()
		}
		return nil
	case <-ctx.Done():
		return errors.New(ctx.Err()).
			Component("notification").
			Category(errors.CategoryTimeout).
			Context("channel", "email").
			Build()
	}
}

func (e *EmailProvider) deliver(addr string, msg []byte) error {
	conn, err := net.DialTimeout("tcp", addr, smtpDialTimeout)
	if err != nil {
		return err
	}
	client, err := smtp.NewClient(conn, e.settings.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: e.settings.Host}); err != nil {
			return err
		}
	}
	if e.settings.Username != "" {
		auth := smtp.PlainAuth("", e.settings.Username, e.settings.Password, e.settings.Host)
		if err := client.Auth(auth); err != nil {
			return err
		}
	}
	if err := client.Mail(e.settings.From); err != nil {
		return err
	}
	for _, rcpt := range e.settings.Recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func (e *EmailProvider) buildMessage(n *Notification) []byte {
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(n.Severity)), n.Title)

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.settings.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.settings.Recipients, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "<html><body><h2 style=\"color:%s\">%s</h2>", colorFor(n.Severity), htmlEscape(n.Title))
	fmt.Fprintf(&b, "<p>%s</p><table>", htmlEscape(n.Message))
	fmt.Fprintf(&b, "<tr><td>Camera</td><td>%s</td></tr>", htmlEscape(n.CameraID))
	fmt.Fprintf(&b, "<tr><td>Type</td><td>%s</td></tr>", n.Type)
	fmt.Fprintf(&b, "<tr><td>Severity</td><td>%s</td></tr>", n.Severity)
	fmt.Fprintf(&b, "<tr><td>Confidence</td><td>%.2f</td></tr>", n.Confidence)
	fmt.Fprintf(&b, "<tr><td>Time</td><td>%s</td></tr>", n.Timestamp.Format(time.RFC3339))
	b.WriteString("</table></body></html>\r\n")
	return []byte(b.String())
}

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&#34;",
)

func htmlEscape(s string) string { return htmlEscaper.Replace(s) }

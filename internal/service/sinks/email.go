package sinks

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"ChainPulse/internal/domain/fault"
	"ChainPulse/internal/domain/repository"
	"ChainPulse/pkg/config"
	applogger "ChainPulse/pkg/logger"
)

// Email delivers over SMTP, upgrading with STARTTLS when offered.
type Email struct {
	cfg config.EmailConfig
	log *applogger.Logger
	now func() time.Time
}

func NewEmail(cfg config.EmailConfig, log *applogger.Logger) (*Email, error) {
	if cfg.Host == "" || cfg.From == "" || len(cfg.To) == 0 {
		return nil, fault.Config("email", errors.New("host, from and to are required"))
	}
	if log == nil {
		log = applogger.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Email{cfg: cfg, log: log.Component("email"), now: time.Now}, nil
}

func (e *Email) Name() string { return "email" }

func (e *Email) Notify(ctx context.Context, subject, body string) error {
	const op = "email send"
	if e.cfg.SubjectPrefix != "" {
		subject = e.cfg.SubjectPrefix + " " + subject
	}
	msg := BuildMessage(e.cfg.From, e.cfg.To, subject, body, e.now())

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	if err := e.send(ctx, msg); err != nil {
		return sinkErr(ctx, op, err)
	}
	e.log.Info("email delivered", applogger.Strings("to", e.cfg.To), applogger.Int("bytes", len(msg)))
	return nil
}

func (e *Email) send(ctx context.Context, msg []byte) error {
	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	c, err := smtp.NewClient(conn, e.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: e.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if e.cfg.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)); err != nil {
				return fmt.Errorf("auth: %w", err)
			}
		}
	}
	if err := c.Mail(e.cfg.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, to := range e.cfg.To {
		if err := c.Rcpt(to); err != nil {
			return fmt.Errorf("rcpt %s: %w", to, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("end data: %w", err)
	}
	return c.Quit()
}

// BuildMessage renders an RFC 5322 message whose HTML body is the escaped text in a <pre>.
func BuildMessage(from string, to []string, subject, body string, date time.Time) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", date.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString("<html><body><pre style=\"font-family: monospace\">")
	body = strings.ReplaceAll(body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(html.EscapeString(body), "\n", "\r\n"))
	b.WriteString("</pre></body></html>\r\n")
	return b.Bytes()
}

var _ repository.Notifier = (*Email)(nil)

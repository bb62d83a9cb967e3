package notifier

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	coursechange "github.com/jacobmichels/Course-Change-Notifier"
	"github.com/rs/zerolog/log"
)

var _ coursechange.Notifier = Email{}

type Email struct {
	host string
	port int
	from string
	auth smtp.Auth
}

// NewEmail authenticates with PLAIN, which net/smtp only allows over TLS or to localhost
func NewEmail(host, username, password, from string, port int) Email {
	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	return Email{host, port, from, auth}
}

// NewEmailWithAuth uses a custom mechanism such as XOAUTH2
func NewEmailWithAuth(host, from string, port int, auth smtp.Auth) Email {
	return Email{host, port, from, auth}
}

func (e Email) Notify(ctx context.Context, msg coursechange.Message) error {
	if msg.To == "" {
		return errors.New("message has no recipient")
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(e.host, strconv.Itoa(e.port)))
	if err != nil {
		return fmt.Errorf("failed to connect to smtp server: %w", errors.Join(coursechange.ErrDependencyUnavailable, err))
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return fmt.Errorf("failed to set deadline: %w", err)
		}
	}

	c, err := smtp.NewClient(conn, e.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to start smtp session: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: e.host}); err != nil {
			return fmt.Errorf("failed to start tls: %w", err)
		}
	}

	if e.auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(e.auth); err != nil {
				return fmt.Errorf("failed to authenticate: %w", err)
			}
		}
	}

	if err := c.Mail(e.from); err != nil {
		return fmt.Errorf("MAIL FROM rejected: %w", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return fmt.Errorf("RCPT TO %s rejected: %w", msg.To, err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA rejected: %w", err)
	}
	if _, err := w.Write(format(e.from, msg, time.Now())); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("message rejected: %w", err)
	}

	if err := c.Quit(); err != nil {
		log.Debug().Err(err).Msg("smtp quit failed after message was accepted")
	}

	log.Debug().Str("to", msg.To).Msg("Notification email sent")
	return nil
}

func format(from string, msg coursechange.Message, now time.Time) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + msg.Subject + "\r\n")
	b.WriteString("Date: " + now.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")

	body := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")

	return []byte(b.String())
}

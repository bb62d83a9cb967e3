package notifier

import (
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	coursechange "github.com/jacobmichels/Course-Change-Notifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// fakeSMTPServer accepts a single session and sends each received DATA payload on the returned channel
func fakeSMTPServer(t *testing.T, rejectRcpt bool) (string, int, <-chan string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		tp := textproto.NewConn(conn)
		_ = tp.PrintfLine("220 localhost ESMTP")
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}

			switch {
			case strings.HasPrefix(line, "EHLO"), strings.HasPrefix(line, "HELO"):
				_ = tp.PrintfLine("250 localhost")
			case strings.HasPrefix(line, "MAIL FROM"):
				_ = tp.PrintfLine("250 OK")
			case strings.HasPrefix(line, "RCPT TO"):
				if rejectRcpt {
					_ = tp.PrintfLine("550 no such user")
				} else {
					_ = tp.PrintfLine("250 OK")
				}
			case line == "DATA":
				_ = tp.PrintfLine("354 go ahead")
				lines, err := tp.ReadDotLines()
				if err != nil {
					return
				}
				received <- strings.Join(lines, "\n")
				_ = tp.PrintfLine("250 queued")
			case line == "QUIT":
				_ = tp.PrintfLine("221 bye")
				return
			default:
				_ = tp.PrintfLine("502 unknown command")
			}
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return host, port, received
}

func TestEmailNotify(t *testing.T) {
	t.Parallel()

	host, port, received := fakeSMTPServer(t, false)
	email := NewEmail(host, "", "", "notifier@example.com", port)

	err := email.Notify(t.Context(), coursechange.Message{
		To:      "x@example.com",
		Subject: "Course Change Notification",
		Body:    "line one\nline two",
	})
	require.NoError(t, err)

	select {
	case data := <-received:
		assert.Contains(t, data, "To: x@example.com")
		assert.Contains(t, data, "Subject: Course Change Notification")
		assert.Contains(t, data, "line one\nline two")
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestEmailNotifyRejected(t *testing.T) {
	t.Parallel()

	host, port, _ := fakeSMTPServer(t, true)
	email := NewEmail(host, "", "", "notifier@example.com", port)

	err := email.Notify(t.Context(), coursechange.Message{To: "ghost@example.com", Subject: "s", Body: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RCPT TO")
}

func TestEmailNotifyUnreachable(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	email := NewEmail("127.0.0.1", "", "", "notifier@example.com", port)
	err = email.Notify(t.Context(), coursechange.Message{To: "x@example.com"})
	assert.ErrorIs(t, err, coursechange.ErrDependencyUnavailable)
}

func TestFormat(t *testing.T) {
	t.Parallel()

	now := time.Date(2023, 1, 9, 8, 0, 0, 0, time.UTC)
	msg := format("notifier@example.com", coursechange.Message{
		To:      "x@example.com",
		Subject: "Course Change Notification",
		Body:    "a\nb",
	}, now)

	assert.Equal(t, "From: notifier@example.com\r\n"+
		"To: x@example.com\r\n"+
		"Subject: Course Change Notification\r\n"+
		"Date: Mon, 09 Jan 2023 08:00:00 +0000\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: text/plain; charset=UTF-8\r\n"+
		"\r\n"+
		"a\r\nb\r\n", string(msg))
}

func TestXOAuth2(t *testing.T) {
	t.Parallel()

	auth := NewXOAuth2("notifier@gmail.com", oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "ya29.token"}))

	mech, resp, err := auth.Start(&smtp.ServerInfo{Name: "smtp.gmail.com", TLS: true})
	require.NoError(t, err)
	assert.Equal(t, "XOAUTH2", mech)
	assert.Equal(t, "user=notifier@gmail.com\x01auth=Bearer ya29.token\x01\x01", string(resp))

	next, err := auth.Next([]byte(`{"status":"400"}`), true)
	require.NoError(t, err)
	assert.Empty(t, next)

	_, _, err = auth.Start(&smtp.ServerInfo{Name: "smtp.gmail.com", TLS: false})
	assert.Error(t, err)
}

func TestNoop(t *testing.T) {
	t.Parallel()

	assert.NoError(t, NewNoop().Notify(t.Context(), coursechange.Message{To: "x@example.com", Body: "hi"}))
}

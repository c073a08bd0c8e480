package mail

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSMTPSenderRendersAndSends(t *testing.T) {
	s, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", From: "noreply@example.com", Username: "u", Password: "p"})
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	var gotAddr string
	var gotTo []string
	var gotBody string
	s.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotBody = addr, to, string(msg)
		require.Equal(t, "noreply@example.com", from)
		return nil
	}

	require.NoError(t, s.Send(context.Background(), VerificationCode("a@example.com", "123456", 5*time.Minute)))
	require.Equal(t, "smtp.example.com:587", gotAddr)
	require.Equal(t, []string{"a@example.com"}, gotTo)
	require.Contains(t, gotBody, "Subject: Your login code\r\n")
	require.Contains(t, gotBody, "<strong>123456</strong>")
	require.Contains(t, gotBody, "expires in 5 minutes")
}

func TestSMTPSenderErrors(t *testing.T) {
	_, err := NewSMTPSender(SMTPConfig{})
	require.Error(t, err)

	s, err := NewSMTPSender(SMTPConfig{Host: "h", From: "f@example.com"})
	require.NoError(t, err)
	s.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("relay down") }

	err = s.Send(context.Background(), Message{To: "x@example.com", Subject: "hi"})
	require.ErrorContains(t, err, "relay down")

	err = s.Send(context.Background(), Message{To: "x@example.com\r\nBcc: y@example.com"})
	require.ErrorContains(t, err, "header injection")
}

func TestTemplatesEscape(t *testing.T) {
	msg := Welcome("a@example.com", "<bob>", "")
	require.Contains(t, msg.HTML, "&lt;bob&gt;")
	require.NotContains(t, msg.HTML, "password")

	msg = Welcome("a@example.com", "bob", "s3cret!!")
	require.True(t, strings.Contains(msg.HTML, "s3cret!!"))

	require.Contains(t, Cancelled("a@example.com", "bob", 720*time.Hour).HTML, "30 days")
	require.NoError(t, LogSender{}.Send(context.Background(), Restored("a@example.com", "bob")))
}

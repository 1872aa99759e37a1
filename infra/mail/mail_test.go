package mail

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/citro80/core/jobs"
	"github.com/kilianp07/citro80/infra/logger"
)

func TestNewSelectsDriver(t *testing.T) {
	s, err := New(Config{}, nil)
	require.NoError(t, err)
	if _, ok := s.(*LogSender); !ok {
		t.Fatalf("expected log sender, got %T", s)
	}
	s, err = New(Config{Driver: "smtp", Host: "smtp.example.com"}, nil)
	require.NoError(t, err)
	if _, ok := s.(*SMTPSender); !ok {
		t.Fatalf("expected smtp sender, got %T", s)
	}
	_, err = New(Config{Driver: "smtp"}, nil)
	assert.Error(t, err)
	_, err = New(Config{Driver: "pigeon"}, nil)
	assert.Error(t, err)
}

func TestSMTPSenderRendersMessage(t *testing.T) {
	var (
		gotAddr string
		gotFrom string
		gotTo   []string
		gotMsg  string
	)
	s := &SMTPSender{
		cfg: Config{Host: "smtp.example.com", Port: 2525, From: "Citro 80 <noreply@citro80.app>"},
		send: func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
			gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
			return nil
		},
	}
	err := s.Send(context.Background(), jobs.SendEmailPayload{To: "a@b.c", Subject: "Hi", Message: "line1\nline2"})
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com:2525", gotAddr)
	assert.Equal(t, "noreply@citro80.app", gotFrom)
	assert.Equal(t, []string{"a@b.c"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: Hi\r\n")
	assert.True(t, strings.HasSuffix(gotMsg, "\r\n\r\nline1\r\nline2"))
}

func TestSMTPSenderRejectsHeaderInjection(t *testing.T) {
	s := &SMTPSender{cfg: Config{Host: "h"}, send: func(string, smtp.Auth, string, []string, []byte) error { return nil }}
	err := s.Send(context.Background(), jobs.SendEmailPayload{To: "a@b.c\r\nBcc: x@y.z", Subject: "Hi"})
	assert.True(t, jobs.IsPermanent(err))
}

type recordSender struct {
	msgs []jobs.SendEmailPayload
	err  error
}

func (r *recordSender) Send(_ context.Context, m jobs.SendEmailPayload) error {
	r.msgs = append(r.msgs, m)
	return r.err
}

func TestHandler(t *testing.T) {
	rec := &recordSender{}
	h := Handler(rec)

	j, err := jobs.New(jobs.SendEmail, jobs.SendEmailPayload{To: "a@b.c", Subject: "s", Message: "m"})
	require.NoError(t, err)
	require.NoError(t, h(context.Background(), j))
	require.Len(t, rec.msgs, 1)

	j, err = jobs.New(jobs.SendEmail, jobs.SendEmailPayload{})
	require.NoError(t, err)
	assert.True(t, jobs.IsPermanent(h(context.Background(), j)))

	rec.err = errors.New("relay down")
	j, err = jobs.New(jobs.SendEmail, jobs.SendEmailPayload{To: "a@b.c"})
	require.NoError(t, err)
	err = h(context.Background(), j)
	require.Error(t, err)
	assert.False(t, jobs.IsPermanent(err))
}

func TestLogSender(t *testing.T) {
	s := &LogSender{log: logger.NopLogger{}}
	assert.NoError(t, s.Send(context.Background(), jobs.SendEmailPayload{To: "a@b.c"}))
}

package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// sendMailFunc matches smtp.SendMail so tests can intercept delivery.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender delivers notifications as plain-text email.
type SMTPSender struct {
	addr     string
	from     string
	auth     smtp.Auth
	sendMail sendMailFunc
}

var _ Sender = (*SMTPSender)(nil)

// NewSMTPSender builds an email sender. addr is host:port, from is the
// envelope sender. auth may be nil for open relays.
func NewSMTPSender(addr, from string, auth smtp.Auth) (*SMTPSender, error) {
	addr = strings.TrimSpace(addr)
	from = strings.TrimSpace(from)
	if addr == "" || from == "" {
		return nil, errors.New("smtp address and sender required", errors.CategoryBadInput)
	}
	return &SMTPSender{addr: addr, from: from, auth: auth, sendMail: smtp.SendMail}, nil
}

func (s *SMTPSender) Send(ctx context.Context, n Notification) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{Error: err.Error()}, err
	}
	to := strings.TrimSpace(n.Recipient)
	if to == "" {
		return Receipt{}, errors.New("email recipient required", errors.CategoryBadInput)
	}

	subject := n.Subject
	if n.Priority == PriorityHigh {
		subject = "[urgent] " + subject
	}
	messageID := uuid.NewString()
	msg := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMessage-ID: <%s>\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		s.from, to, subject, messageID, n.Body,
	)

	if err := s.sendMail(s.addr, s.auth, s.from, []string{to}, []byte(msg)); err != nil {
		wrapped := errors.Wrap(err, errors.CategoryExternal, "smtp delivery failed").
			WithMetadata(map[string]any{"addr": s.addr, "to": to})
		return Receipt{Error: wrapped.Error()}, wrapped
	}
	return Receipt{Success: true, MessageID: messageID}, nil
}

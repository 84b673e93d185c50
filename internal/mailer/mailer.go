package mailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"

	"github.com/wneessen/go-mail"
)

// Sender delivers one email. Implementations must return a *TransportError
// for failures that are about this particular message or the mail server;
// anything else is treated as an infrastructure failure by the notifier and
// triggers broker redelivery instead of a terminal failed status.
type Sender interface {
	Send(ctx context.Context, recipients []string, subject, body string) error
}

// ErrorKind classifies transport failures.
type ErrorKind string

const (
	KindConnect           ErrorKind = "connect"
	KindAuth              ErrorKind = "auth"
	KindRecipientsRefused ErrorKind = "recipients_refused"
	KindData              ErrorKind = "data"
	KindTimeout           ErrorKind = "timeout"
	KindDisconnected      ErrorKind = "disconnected"
)

// TransportError is a classified mail transport failure.
type TransportError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %s", e.Kind, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError builds a classified transport failure.
func NewTransportError(kind ErrorKind, err error) *TransportError {
	return &TransportError{Kind: kind, Message: err.Error(), Err: err}
}

// Classify maps an SMTP client error onto the transport taxonomy. Unknown
// errors classify as data failures: they are assumed message-scoped, so the
// notifier ends the cycle in failed instead of looping broker redelivery.
func Classify(err error) *TransportError {
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewTransportError(KindTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewTransportError(KindTimeout, err)
	}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		switch protoErr.Code {
		case 530, 534, 535:
			return NewTransportError(KindAuth, err)
		case 550, 551, 552, 553:
			return NewTransportError(KindRecipientsRefused, err)
		}
	}

	var sendErr *mail.SendError
	if errors.As(err, &sendErr) {
		switch sendErr.Reason {
		case mail.ErrConnCheck:
			return NewTransportError(KindConnect, err)
		case mail.ErrSMTPRcptTo:
			return NewTransportError(KindRecipientsRefused, err)
		case mail.ErrSMTPMailFrom:
			return NewTransportError(KindData, err)
		case mail.ErrSMTPData, mail.ErrSMTPDataClose:
			return NewTransportError(KindData, err)
		case mail.ErrSMTPReset:
			return NewTransportError(KindDisconnected, err)
		}
	}

	if errors.Is(err, io.EOF) {
		return NewTransportError(KindDisconnected, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return NewTransportError(KindConnect, err)
	}

	return NewTransportError(KindData, err)
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

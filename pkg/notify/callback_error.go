package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap/zapcore"
)

// ErrDisconnected is returned by senders whose receiving end is gone.
var ErrDisconnected = errors.New("subscriber disconnected")

// Kind enumerates the CallbackError variants.
type Kind int

// CallbackError variants.
const (
	KindSendFailed Kind = iota
	KindTimeout
	KindDisconnected
	KindCancelled
)

// Severity is the log severity attached to a CallbackError.
type Severity string

// Severities.
const (
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// Level maps the severity to a zap level.
func (s Severity) Level() zapcore.Level {
	if s == SeverityWarn {
		return zapcore.WarnLevel
	}
	return zapcore.ErrorLevel
}

type classification struct {
	code          string
	recoverable   bool
	userInitiated bool
	severity      Severity
	hasDetail     bool
	label         string
}

var classifications = map[Kind]classification{ //nolint:gochecknoglobals
	KindSendFailed:   {code: "SEND_FAILED", recoverable: true, severity: SeverityError, hasDetail: true, label: "send failed"},
	KindTimeout:      {code: "TIMEOUT", recoverable: true, severity: SeverityError, hasDetail: true, label: "delivery timed out"},
	KindDisconnected: {code: "DISCONNECTED", severity: SeverityError, label: "subscriber disconnected"},
	KindCancelled:    {code: "CANCELLED", userInitiated: true, severity: SeverityWarn, label: "delivery cancelled"},
}

// CallbackError is a classified notification delivery failure. Construct it
// with SendFailed, Timeout, Disconnected or Cancelled.
type CallbackError struct {
	kind   Kind
	detail string
}

// SendFailed reports a failed delivery attempt.
func SendFailed(detail string) *CallbackError {
	return &CallbackError{kind: KindSendFailed, detail: detail}
}

// Timeout reports a delivery that exceeded its deadline.
func Timeout(detail string) *CallbackError {
	return &CallbackError{kind: KindTimeout, detail: detail}
}

// Disconnected reports a subscriber that is gone.
func Disconnected() *CallbackError { return &CallbackError{kind: KindDisconnected} }

// Cancelled reports a delivery abandoned on request.
func Cancelled() *CallbackError { return &CallbackError{kind: KindCancelled} }

// Kind returns the variant.
func (e *CallbackError) Kind() Kind { return e.kind }

// IsRecoverable reports whether a later delivery may succeed.
func (e *CallbackError) IsRecoverable() bool { return classifications[e.kind].recoverable }

// IsUserInitiated reports whether the failure stems from a caller request.
func (e *CallbackError) IsUserInitiated() bool { return classifications[e.kind].userInitiated }

// Code returns the stable machine-readable code.
func (e *CallbackError) Code() string { return classifications[e.kind].code }

// Severity returns the log severity.
func (e *CallbackError) Severity() Severity { return classifications[e.kind].severity }

// Detail returns the message detail. Only SendFailed and Timeout carry one.
func (e *CallbackError) Detail() (string, bool) {
	if !classifications[e.kind].hasDetail {
		return "", false
	}
	return e.detail, true
}

func (e *CallbackError) Error() string {
	c := classifications[e.kind]
	if c.hasDetail {
		return fmt.Sprintf("%s [%s]: %s", c.label, c.code, e.detail)
	}
	return fmt.Sprintf("%s [%s]", c.label, c.code)
}

// Classify maps an arbitrary sender error onto a CallbackError. A nil error
// yields nil.
func Classify(err error) *CallbackError {
	if err == nil {
		return nil
	}
	var cbErr *CallbackError
	switch {
	case errors.As(err, &cbErr):
		return cbErr
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout(err.Error())
	case errors.Is(err, context.Canceled):
		return Cancelled()
	case errors.Is(err, ErrDisconnected):
		return Disconnected()
	default:
		return SendFailed(err.Error())
	}
}

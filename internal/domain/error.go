package domain

import (
	"context"
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeConnectFailed       ErrorCode = "CONNECT_FAILED"
	CodeNotReady            ErrorCode = "NOT_READY"
	CodeUnknownTool         ErrorCode = "UNKNOWN_TOOL"
	CodeToolExecutionFailed ErrorCode = "TOOL_EXECUTION_FAILED"
	CodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	CodeModelUnavailable    ErrorCode = "MODEL_UNAVAILABLE"
	CodeForbidden           ErrorCode = "FORBIDDEN"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeInvalidArgument     ErrorCode = "INVALID_ARGUMENT"
	CodeCanceled            ErrorCode = "CANCELED"
	CodeDeadlineExceeded    ErrorCode = "DEADLINE_EXCEEDED"
	CodeInternal            ErrorCode = "INTERNAL"
)

type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Op == "" {
		if msg == "" {
			return string(e.Code)
		}
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func E(code ErrorCode, op, msg string, cause error) *Error {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Code:    code,
		Op:      op,
		Message: msg,
		Cause:   cause,
	}
}

func Wrap(code ErrorCode, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		if existing.Op != "" || op == "" {
			return existing
		}
		return &Error{
			Code:    existing.Code,
			Op:      op,
			Message: existing.Message,
			Cause:   existing.Cause,
		}
	}
	return E(code, op, "", err)
}

var (
	ErrUnknownServer  = errors.New("unknown server")
	ErrSessionClosed  = errors.New("session closed")
	ErrThreadNotFound = errors.New("thread not found")
	ErrPoolClosed     = errors.New("session pool closed")
)

// CodeFrom resolves the error taxonomy code for err, preferring an explicit
// envelope over sentinel and context errors.
func CodeFrom(err error) (ErrorCode, bool) {
	if err == nil {
		return "", false
	}
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr.Code != "" {
		return domainErr.Code, true
	}
	switch {
	case errors.Is(err, ErrUnknownServer):
		return CodeNotFound, true
	case errors.Is(err, ErrThreadNotFound):
		return CodeNotFound, true
	case errors.Is(err, ErrSessionClosed), errors.Is(err, ErrPoolClosed):
		return CodeUpstreamUnavailable, true
	case errors.Is(err, context.Canceled):
		return CodeCanceled, true
	case errors.Is(err, context.DeadlineExceeded):
		return CodeDeadlineExceeded, true
	default:
		return "", false
	}
}

package transfer

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode classifies export/hydrate failures. Every code except
// CodeLockContention describes a bad bundle, bad sidecar, or bad merge.
type ErrorCode string

const (
	CodeConfiguration   ErrorCode = "configuration"
	CodeVersionMismatch ErrorCode = "version_mismatch"
	CodeIntegrity       ErrorCode = "integrity"
	CodeTimestampDrift  ErrorCode = "timestamp_drift"
	CodeUnsafeSQL       ErrorCode = "unsafe_sql"
	CodeLockContention  ErrorCode = "lock_contention"
)

// ErrDryRun is returned from inside the hydrate transaction to force a
// rollback after every validation has passed.
var ErrDryRun = errors.New("dry run: validated, not committed")

type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	op := strings.TrimSpace(e.Op)
	msg := strings.TrimSpace(e.Message)
	switch {
	case op != "" && msg != "":
		return fmt.Sprintf("%s: %s (%s)", op, msg, e.Code)
	case op != "":
		return fmt.Sprintf("%s (%s)", op, e.Code)
	case msg != "":
		return fmt.Sprintf("%s (%s)", msg, e.Code)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

func NewError(code ErrorCode, op, message string, cause error) error {
	return &Error{
		Code:    code,
		Op:      strings.TrimSpace(op),
		Message: strings.TrimSpace(message),
		Cause:   cause,
	}
}

func Errorf(code ErrorCode, op, format string, args ...any) error {
	return NewError(code, op, fmt.Sprintf(format, args...), nil)
}

func Wrap(code ErrorCode, op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(code, op, err.Error(), err)
}

func IsCode(err error, code ErrorCode) bool {
	var tErr *Error
	if !errors.As(err, &tErr) {
		return false
	}
	return tErr.Code == code
}

func CodeOf(err error) ErrorCode {
	var tErr *Error
	if !errors.As(err, &tErr) {
		return ""
	}
	return tErr.Code
}

// ExitCode maps a run error onto the CLI exit status. Lock contention gets
// its own status so wrappers can retry without treating it as data failure.
func ExitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, ErrDryRun):
		return 0
	case IsCode(err, CodeLockContention):
		return 75
	case IsCode(err, CodeConfiguration):
		return 78
	default:
		return 1
	}
}

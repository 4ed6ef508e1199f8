package errorsx

import (
	"errors"
	"fmt"
)

// Error tags a failure with the reason it is reported under. The innermost
// reason wins: wrapping an already tagged error keeps its code.
type Error struct {
	Code ReasonCode
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a bare code, so errors.Is(err, ReasonNoAnswer) works.
func (e *Error) Is(target error) bool {
	code, ok := target.(ReasonCode)
	return ok && code == e.Code
}

// Error makes a ReasonCode usable as an errors.Is target.
func (c ReasonCode) Error() string { return string(c) }

func Wrap(err error, code ReasonCode) error {
	if err == nil {
		return nil
	}
	if Reason(err) != ReasonUnknown {
		return err
	}
	return &Error{Code: code, Err: err}
}

func Newf(code ReasonCode, format string, args ...any) error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

// Reason returns the innermost code in err's chain, or ReasonUnknown.
func Reason(err error) ReasonCode {
	code := ReasonUnknown
	for err != nil {
		if e, ok := err.(*Error); ok {
			code = e.Code
		}
		err = errors.Unwrap(err)
	}
	return code
}

func HasReason(err error, code ReasonCode) bool {
	return errors.Is(err, code)
}

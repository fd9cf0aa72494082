package wallet

import (
	"errors"
	"fmt"
)

// ErrorKind is the small set of caller-facing failure categories.
// Internal component errors are translated at the session boundary
// so callers never see raw network or library errors.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindInsufficientFunds
	KindOffline
	KindAlreadyProcessed
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindOffline:
		return "offline"
	case KindAlreadyProcessed:
		return "already_processed"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the caller-facing kind of err, KindUnknown for
// anything untranslated.
func KindOf(err error) ErrorKind {
	var walletErr *Error
	if errors.As(err, &walletErr) {
		return walletErr.Kind
	}
	return KindUnknown
}

func validationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func insufficientFundsError(need, have uint64) *Error {
	return &Error{
		Kind: KindInsufficientFunds,
		Msg:  fmt.Sprintf("insufficient balance: need %d, have %d", need, have),
	}
}

func offlineError(err error) *Error {
	return &Error{Kind: KindOffline, Msg: "wallet is offline", Err: err}
}

func alreadyProcessedError() *Error {
	return &Error{Kind: KindAlreadyProcessed, Msg: "already claimed"}
}

func unknownError(msg string, err error) *Error {
	return &Error{Kind: KindUnknown, Msg: msg, Err: err}
}

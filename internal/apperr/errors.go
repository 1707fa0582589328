package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the notification and API layers
type Kind string

const (
	KindNetwork         Kind = "network"
	KindValidation      Kind = "validation"
	KindBusinessRule    Kind = "business_rule"
	KindServerRejection Kind = "server_rejection"
)

var (
	ErrNotLoggedIn       = errors.New("no active session")
	ErrIllegalTransition = errors.New("illegal checkout transition")
	ErrQueueClosed       = errors.New("mutation queue closed")
)

// Error carries a kind, the failing operation and a user-facing message
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Network reports an unreachable service, a timeout or a malformed response
func Network(op string, err error) error {
	return &Error{Kind: KindNetwork, Op: op, Message: "service unreachable or returned invalid data", Err: err}
}

func Validation(op, message string) error {
	return &Error{Kind: KindValidation, Op: op, Message: message}
}

func BusinessRule(op, message string) error {
	return &Error{Kind: KindBusinessRule, Op: op, Message: message}
}

// Rejected reports a remote service explicitly declining the request
func Rejected(op, message string) error {
	return &Error{Kind: KindServerRejection, Op: op, Message: message}
}

// KindOf returns the kind of the first *Error in the chain, or "" if none
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the user-facing message of err
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the outcome of an external action. Recoverable
// failures leave the profile state untouched so the next tick retries the
// same step; Fatal failures move the profile to StateFailed. Throttled
// means the account hit a pacing limit: the profile itself is fine, so it
// waits for the next tick without spending its retry budget.
type ErrorKind string

const (
	ErrRecoverable ErrorKind = "recoverable"
	ErrFatal       ErrorKind = "fatal"
	ErrThrottled   ErrorKind = "throttled"
)

// ActionError wraps a failure reported by the action collaborator.
type ActionError struct {
	Kind  ErrorKind
	Cause error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action error (%s): %v", e.Kind, e.Cause)
}

func (e *ActionError) Unwrap() error { return e.Cause }

// Recoverable wraps err as a retryable action failure.
func Recoverable(err error) error {
	return &ActionError{Kind: ErrRecoverable, Cause: err}
}

// Fatal wraps err as a terminal action failure.
func Fatal(err error) error {
	return &ActionError{Kind: ErrFatal, Cause: err}
}

// Throttled wraps err as an account-level pacing condition, not a fault
// of the profile being processed.
func Throttled(err error) error {
	return &ActionError{Kind: ErrThrottled, Cause: err}
}

// ClassifyAction extracts the error kind. Anything that is not a
// recognized recoverable or throttled ActionError is treated as fatal,
// including unknown kinds (fail closed).
func ClassifyAction(err error) ErrorKind {
	var ae *ActionError
	if errors.As(err, &ae) {
		switch ae.Kind {
		case ErrRecoverable, ErrThrottled:
			return ae.Kind
		}
	}
	return ErrFatal
}

// ActionKind enumerates the closed set of campaign actions. Unknown kinds
// are rejected when configuration is loaded, not at dispatch time.
type ActionKind string

const (
	ActionEnrich          ActionKind = "enrich"
	ActionConnect         ActionKind = "send_connection_request"
	ActionCheckAcceptance ActionKind = "check_acceptance"
	ActionFollowUp        ActionKind = "send_follow_up"
)

func ParseActionKind(s string) (ActionKind, error) {
	switch ActionKind(s) {
	case ActionEnrich, ActionConnect, ActionCheckAcceptance, ActionFollowUp:
		return ActionKind(s), nil
	}
	return "", fmt.Errorf("unknown action kind: %q", s)
}

package security

import (
	"errors"
	"os"
	"strings"
)

// ClassifiedError separates a user-safe message from verbose debug details.
type ClassifiedError struct {
	UserSafe    string
	DebugDetail string
	Err         error
}

func (e *ClassifiedError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.UserSafe) == "" {
		return "operation failed"
	}
	return e.UserSafe
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Classify wraps err with a message fit for the terminal. The original error
// stays reachable through errors.Is and errors.As.
func Classify(userSafe string, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{UserSafe: userSafe, DebugDetail: err.Error(), Err: err}
}

// UserMessage returns a message safe to show in CLI/TUI contexts.
func UserMessage(err error, redact bool) string {
	if err == nil {
		return ""
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		msg := ce.UserSafe
		if msg == "" {
			msg = "operation failed"
		}
		if redact {
			return RedactMessage(msg)
		}
		return msg
	}
	if redact {
		return RedactMessage(err.Error())
	}
	return err.Error()
}

// DebugMessage returns detailed error text for logs. Passwords embedded in
// command lines are always removed.
func DebugMessage(err error) string {
	if err == nil {
		return ""
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		if strings.TrimSpace(ce.DebugDetail) != "" {
			return redactInline(ce.DebugDetail)
		}
	}
	return redactInline(err.Error())
}

// RedactMessage strips common sensitive path prefixes and inline passwords
// from user-visible text.
func RedactMessage(msg string) string {
	if msg == "" {
		return msg
	}
	out := redactInline(msg)
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		out = strings.ReplaceAll(out, home, "~")
	}
	if strings.Contains(out, "/.ssh/") {
		out = strings.ReplaceAll(out, "/.ssh/", "/.ssh/[redacted]/")
	}
	return out
}

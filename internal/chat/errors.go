package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthRequired is returned when no signed-in user is available
	ErrAuthRequired = errors.New("sign in to start chatting")
	// ErrQuotaExceeded is returned when the usage gate denies a send
	ErrQuotaExceeded = errors.New("usage quota exceeded")
	// ErrQuotaCheckFailed is returned when the usage gate itself cannot be reached
	ErrQuotaCheckFailed = errors.New("could not verify usage allowance, please try again")
	// ErrSessionCreateFailed is returned when a new conversation cannot be established
	ErrSessionCreateFailed = errors.New("could not start a new conversation, please try again")
	// ErrStreamConnection is returned when the AI backend is unreachable or answers with a non-success status
	ErrStreamConnection = errors.New("assistant connection failed")
	// ErrPersistence is returned by stores when a write does not reach durable storage
	ErrPersistence = errors.New("persistence failed")
	// ErrExchangeInFlight is returned when a send is attempted while one is already running for the session
	ErrExchangeInFlight = errors.New("a message is already being answered")
	// ErrEmptyMessage is returned when the question is blank
	ErrEmptyMessage = errors.New("message is empty")
	// ErrEngineStopped is returned when the engine loop is no longer running
	ErrEngineStopped = errors.New("chat engine stopped")
)

// UpgradePrompt is the call to action shown with a quota denial
const UpgradePrompt = "Upgrade your plan to continue"

// QuotaError carries the human-readable reason for a usage denial
type QuotaError struct {
	Reason    string
	Remaining *int
}

func (e *QuotaError) Error() string {
	if e == nil || e.Reason == "" {
		return fmt.Sprintf("%s. %s", ErrQuotaExceeded.Error(), UpgradePrompt)
	}
	return fmt.Sprintf("%s. %s", e.Reason, UpgradePrompt)
}

// Unwrap lets errors.Is match ErrQuotaExceeded
func (e *QuotaError) Unwrap() error {
	return ErrQuotaExceeded
}

// IsHardStop reports whether err blocks a send before any optimistic change
func IsHardStop(err error) bool {
	return errors.Is(err, ErrAuthRequired) ||
		errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrQuotaCheckFailed) ||
		errors.Is(err, ErrSessionCreateFailed)
}

// IsRetryable reports whether the user can simply try the same action again
func IsRetryable(err error) bool {
	return errors.Is(err, ErrQuotaCheckFailed) ||
		errors.Is(err, ErrSessionCreateFailed) ||
		errors.Is(err, ErrStreamConnection)
}

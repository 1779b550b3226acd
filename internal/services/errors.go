package services

import (
	"errors"
	"fmt"

	"roundlottery/internal/store"
)

// Code identifies a failure class for API clients.
type Code string

const (
	CodeMissingFields       Code = "MISSING_FIELDS"
	CodeInvalidAmount       Code = "INVALID_AMOUNT"
	CodeRoundNotFound       Code = "ROUND_NOT_FOUND"
	CodeRoundNotActive      Code = "ROUND_NOT_ACTIVE"
	CodeRoundNotExpired     Code = "ROUND_NOT_EXPIRED"
	CodeAlreadyParticipated Code = "ALREADY_PARTICIPATED"
	CodeDuplicateSubmission Code = "DUPLICATE_SUBMISSION"
	CodePayoutNotRetryable  Code = "PAYOUT_NOT_RETRYABLE"
	CodePayoutPending       Code = "PAYOUT_PENDING"
	CodeInvalidField        Code = "INVALID_FIELD"
	CodeStoreFailure        Code = "STORE_FAILURE"
)

// Error is a structured service error. Message is safe to show to clients;
// Err holds the internal cause, if any.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrMissingFields       = &Error{Code: CodeMissingFields, Message: "round_id, user_address and tx_hash are required"}
	ErrInvalidAmount       = &Error{Code: CodeInvalidAmount, Message: "amounts must not be negative"}
	ErrRoundNotFound       = &Error{Code: CodeRoundNotFound, Message: "round does not exist"}
	ErrRoundNotActive      = &Error{Code: CodeRoundNotActive, Message: "round is no longer accepting entries"}
	ErrRoundNotExpired     = &Error{Code: CodeRoundNotExpired, Message: "round window has not elapsed yet"}
	ErrAlreadyParticipated = &Error{Code: CodeAlreadyParticipated, Message: "this address already entered the current round"}
	ErrDuplicateSubmission = &Error{Code: CodeDuplicateSubmission, Message: "transaction hash already submitted"}
	ErrPayoutNotRetryable  = &Error{Code: CodePayoutNotRetryable, Message: "round payout is not failed or unconfirmed"}
	ErrPayoutPending       = &Error{Code: CodePayoutPending, Message: "earlier payout transaction is not confirmed yet"}
	ErrInvalidField        = &Error{Code: CodeInvalidField, Message: "user_address or tx_hash is too long"}
	ErrPoolOverflow        = &Error{Code: CodeInvalidAmount, Message: "prize pool would overflow"}
)

// CodeOf returns the code carried by err, or CodeStoreFailure for anything
// that is not a service error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeStoreFailure
}

func storeFailure(op string, err error) *Error {
	return &Error{Code: CodeStoreFailure, Message: op + " failed", Err: err}
}

// fromStore translates store sentinels into service errors.
func fromStore(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrRoundNotFound
	case errors.Is(err, store.ErrRoundNotActive):
		return ErrRoundNotActive
	case errors.Is(err, store.ErrRoundNotExpired):
		return ErrRoundNotExpired
	case errors.Is(err, store.ErrDuplicateParticipant):
		return ErrAlreadyParticipated
	case errors.Is(err, store.ErrDuplicateTxHash):
		return ErrDuplicateSubmission
	case errors.Is(err, store.ErrPayoutNotRetryable):
		return ErrPayoutNotRetryable
	case errors.Is(err, store.ErrPoolOverflow):
		return ErrPoolOverflow
	default:
		return storeFailure(op, err)
	}
}

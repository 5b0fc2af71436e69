package apperror

import "errors"

// Kind describes a stable error category that can be mapped to HTTP status codes.
type Kind string

const (
	KindNotFound   Kind = "not_found"
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"

	// Ledger-specific kinds. Callers rely on these to distinguish
	// "no credits left" from "already at the attempt cap" and so on.
	KindWalletNotFound  Kind = "wallet_not_found"
	KindWalletNotActive Kind = "wallet_not_active"
	KindAttemptLimit    Kind = "attempt_limit_exceeded"
	KindNoCredits       Kind = "no_credits_available"
	KindInvalidDiscount Kind = "invalid_discount_value"
	KindDuplicateToken  Kind = "duplicate_active_token"
	KindTokenNotFound   Kind = "token_not_found"
	KindTokenFinalized  Kind = "token_already_finalized"
	KindTokenExpired    Kind = "token_expired"
	KindContention      Kind = "contention"
)

// Error is a typed error with a stable Kind and a human-readable message.
// Msg should be safe to return to clients for every kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func NotFound(msg string, err error) error   { return New(KindNotFound, msg, err) }
func Validation(msg string, err error) error { return New(KindValidation, msg, err) }
func Conflict(msg string, err error) error   { return New(KindConflict, msg, err) }

func WalletNotFound(msg string, err error) error  { return New(KindWalletNotFound, msg, err) }
func WalletNotActive(msg string, err error) error { return New(KindWalletNotActive, msg, err) }
func AttemptLimit(msg string, err error) error    { return New(KindAttemptLimit, msg, err) }
func NoCredits(msg string, err error) error       { return New(KindNoCredits, msg, err) }
func InvalidDiscount(msg string, err error) error { return New(KindInvalidDiscount, msg, err) }
func DuplicateToken(msg string, err error) error  { return New(KindDuplicateToken, msg, err) }
func TokenNotFound(msg string, err error) error   { return New(KindTokenNotFound, msg, err) }
func TokenFinalized(msg string, err error) error  { return New(KindTokenFinalized, msg, err) }
func TokenExpired(msg string, err error) error    { return New(KindTokenExpired, msg, err) }
func Contention(msg string, err error) error      { return New(KindContention, msg, err) }

func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

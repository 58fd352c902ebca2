package service

import (
	"errors"
	"net/http"
)

type Kind int

const (
	KindTransient Kind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindConflict
	KindRateLimited
)

// HTTPStatus follows the public API contract; conflicts surface as 400.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindConflict:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is the outward-facing failure of a service operation. Message is safe
// to show to clients.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.cause }

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Validation(code, message string) *Error {
	return newError(KindValidation, code, message)
}

// KindOf classifies err; anything that is not an *Error is transient.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindTransient
}

var (
	ErrInvalidCredentials  = newError(KindValidation, "invalid_credentials", "Invalid credentials")
	ErrEmailInUse          = newError(KindConflict, "email_in_use", "Email is already registered")
	ErrInvalidRefreshToken = newError(KindAuthentication, "invalid_refresh_token", "Invalid refresh token")
	// ErrRefreshTokenReuseDetected is indistinguishable from
	// ErrInvalidRefreshToken to clients.
	ErrRefreshTokenReuseDetected = &Error{
		Kind:    KindAuthentication,
		Code:    ErrInvalidRefreshToken.Code,
		Message: ErrInvalidRefreshToken.Message,
		cause:   ErrInvalidRefreshToken,
	}
	ErrAccessTokenRevoked  = newError(KindAuthentication, "token_revoked", "Access token is no longer valid")
	ErrUnauthenticated     = newError(KindAuthentication, "unauthorized", "Authentication required")
	ErrInvalidResetToken   = newError(KindValidation, "invalid_reset_token", "Invalid or expired reset token")
	ErrWeakPassword        = newError(KindValidation, "weak_password", "Password must be at least 8 characters")
	ErrPasswordTooLong     = newError(KindValidation, "password_too_long", "Password must be at most 72 bytes")
	ErrForbidden           = newError(KindAuthorization, "forbidden", "Forbidden")
	ErrUserNotFound        = newError(KindNotFound, "user_not_found", "User not found")
	ErrSessionNotFound     = newError(KindNotFound, "session_not_found", "Session not found")
	ErrResourceNotFound    = newError(KindNotFound, "resource_not_found", "Resource not found")
	ErrClaimForbidden      = newError(KindAuthorization, "claim_forbidden", "You are not allowed to validate this resource")
	ErrPageNotClaimable    = newError(KindAuthorization, "page_not_claimable", "Page resources cannot be validated in-app")
	ErrAlreadyUsed         = newError(KindValidation, "already_used", "Resource has already been used")
	ErrResourceExpired     = newError(KindValidation, "expired", "Resource has expired")
	ErrEventNotFound       = newError(KindNotFound, "event_not_found", "Event not found")
	ErrEventInUse          = newError(KindConflict, "event_in_use", "Event still has tickets")
	ErrInvalidQuantity     = newError(KindValidation, "invalid_quantity", "Quantity must be between 1 and 100")
	ErrDailyLimitReached   = newError(KindRateLimited, "daily_limit_reached", "Daily generation limit reached")
	ErrTooManyAttempts     = newError(KindRateLimited, "too_many_attempts", "Too many attempts, try again later")
	ErrIdempotencyConflict = newError(KindConflict, "idempotency_conflict", "Idempotency key reused with a different request")
	ErrRequestInProgress   = newError(KindConflict, "request_in_progress", "A request with this idempotency key is in progress")
)

package auth

import (
	"net/http"

	"github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCredentials     = "invalid_credentials"
	TextCodeTokenExpired           = "token_expired"
	TextCodeTokenInvalid           = "token_invalid"
	TextCodeTokenAbsent            = "token_absent"
	TextCodeTokenIssuance          = "could_not_create_token"
	TextCodeInvalidPin             = "auth.invalid_pin"
	TextCodePasswordChangeMismatch = "auth.do_not_match_the_existing_data"
	TextCodeValidationFailed       = "validation_failed"
	TextCodeIdentityExists         = "user_exists"
	TextCodeIdentityNotFound       = "user_not_found"
	TextCodeRateLimited            = "too_many_attempts"
)

// ErrInvalidCredentials is returned when neither the directory nor the
// local store accept a credential pair.
var ErrInvalidCredentials = errors.New("invalid credentials", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(http.StatusBadRequest)

// ErrTokenExpired is returned for a well signed token past its expiry.
var ErrTokenExpired = errors.New("token is expired", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(http.StatusForbidden)

// ErrTokenInvalid is returned for a token with a bad signature or shape,
// a revoked token, or a token whose identity can not be resolved.
var ErrTokenInvalid = errors.New("token is invalid", errors.CategoryAuth).
	WithTextCode(TextCodeTokenInvalid).
	WithCode(http.StatusForbidden)

// ErrTokenAbsent is returned when the request carries no token.
var ErrTokenAbsent = errors.New("authorization token not found", errors.CategoryAuth).
	WithTextCode(TextCodeTokenAbsent).
	WithCode(http.StatusForbidden)

// ErrTokenIssuance is returned when a token can not be signed.
var ErrTokenIssuance = errors.New("could not create token", errors.CategoryInternal).
	WithTextCode(TextCodeTokenIssuance).
	WithCode(http.StatusInternalServerError)

// ErrInvalidPin is returned when no unverified identity matches a pin.
var ErrInvalidPin = errors.New("invalid verification pin", errors.CategoryBadInput).
	WithTextCode(TextCodeInvalidPin).
	WithCode(http.StatusInternalServerError)

// ErrPasswordChangeMismatch is returned when a reset pin is unknown or stale.
var ErrPasswordChangeMismatch = errors.New("password change pin does not match", errors.CategoryNotFound).
	WithTextCode(TextCodePasswordChangeMismatch).
	WithCode(http.StatusNotFound)

// ErrIdentityExists is returned when registering a taken username or email.
var ErrIdentityExists = errors.New("user already exists", errors.CategoryConflict).
	WithTextCode(TextCodeIdentityExists).
	WithCode(http.StatusConflict)

// ErrIdentityNotFound is the error we return for non found identities
var ErrIdentityNotFound = errors.New("identity not found", errors.CategoryNotFound).
	WithTextCode(TextCodeIdentityNotFound).
	WithCode(http.StatusNotFound)

// ErrRateLimited is returned when a client exceeds the login budget.
var ErrRateLimited = errors.New("too many attempts", errors.CategoryRateLimit).
	WithTextCode(TextCodeRateLimited).
	WithCode(http.StatusTooManyRequests)

// ErrMismatchedHashAndPassword is returned when a password does not match its hash
var ErrMismatchedHashAndPassword = errors.New("password does not match", errors.CategoryAuth)

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = errors.New("password must not be empty", errors.CategoryValidation)

// NewValidationError wraps a payload validation failure so handlers can
// render a 422 with the per field messages.
func NewValidationError(err error, fields map[string]string) *errors.Error {
	meta := make(map[string]any, len(fields))
	for k, v := range fields {
		meta[k] = v
	}
	return errors.Wrap(err, errors.CategoryValidation, "validation failed").
		WithTextCode(TextCodeValidationFailed).
		WithCode(http.StatusUnprocessableEntity).
		WithMetadata(meta)
}

// HasTextCode reports whether err is a rich error carrying code.
func HasTextCode(err error, code string) bool {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	return HasTextCode(err, TextCodeTokenExpired)
}

// IsTokenInvalidError will check for bad or revoked tokens
func IsTokenInvalidError(err error) bool {
	return HasTextCode(err, TextCodeTokenInvalid)
}

// IsTokenAbsentError will check for missing tokens
func IsTokenAbsentError(err error) bool {
	return HasTextCode(err, TextCodeTokenAbsent)
}

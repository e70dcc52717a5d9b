package auth

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

const (
	// MinPasswordLength applies to registration and password change.
	MinPasswordLength = 8
	// DefaultResetPinTTL is how long a password change pin stays usable.
	DefaultResetPinTTL = time.Hour

	commandTimeout      = 10 * time.Second
	notificationTimeout = 10 * time.Second
)

// passwordRules is shared by every message that sets a password.
func passwordRules(password *string, confirmation *string) []*validation.FieldRules {
	return []*validation.FieldRules{
		validation.Field(password, validation.Required, validation.Length(MinPasswordLength, 0)),
		validation.Field(confirmation, validation.Required, validation.By(ValidateStringEquals(*password))),
	}
}

// ValidateStringEquals fails unless the value equals str.
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return goerrors.New("values must match", goerrors.CategoryValidation)
		}
		return nil
	}
}

// validationFailure turns ozzo errors into a 422 rich error.
func validationFailure(err error) error {
	if err == nil {
		return nil
	}

	fields := map[string]string{}
	if errs, ok := err.(validation.Errors); ok {
		for name, fieldErr := range errs {
			if fieldErr != nil {
				fields[name] = fieldErr.Error()
			}
		}
	}

	return NewValidationError(err, fields)
}

// asRichError keeps rich errors untouched and wraps anything else.
func asRichError(err error, message string) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, message)
}

func pinDigits(cfg Config) int {
	if cfg == nil || cfg.GetPinDigits() <= 0 {
		return DefaultPinDigits
	}
	return cfg.GetPinDigits()
}

func resetPinTTL(cfg Config) time.Duration {
	if cfg == nil || cfg.GetResetPinTTL() <= 0 {
		return DefaultResetPinTTL
	}
	return cfg.GetResetPinTTL()
}

// dispatchPin sends n and only logs failures. Delivery never fails the
// operation that produced the pin.
func dispatchPin(ctx context.Context, notifier Notifier, logger Logger, n Notification) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notificationTimeout)
	defer cancel()

	if n.IssuedAt.IsZero() {
		n.IssuedAt = time.Now()
	}

	if err := normalizeNotifier(notifier).Send(ctx, n); err != nil {
		logger.Warn("pin notification failed", "kind", n.Kind, "user_id", n.UserID, "error", err)
	}
}

func registrationUsername(username, email string) string {
	if username = strings.TrimSpace(username); username != "" {
		return username
	}
	return strings.ToLower(strings.TrimSpace(email))
}

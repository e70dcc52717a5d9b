package auth

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

type PasswordChangeMessage struct {
	Pin                  string `json:"pin"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

func (e PasswordChangeMessage) Type() string { return "user.password_change" }

func (e PasswordChangeMessage) Validate() error {
	rules := []*validation.FieldRules{
		validation.Field(&e.Pin, validation.Required, is.Digit),
	}
	rules = append(rules, passwordRules(&e.Password, &e.PasswordConfirmation)...)
	return validation.ValidateStruct(&e, rules...)
}

// PasswordChangeHandler commits a new password for the account holding
// a fresh reset pin.
type PasswordChangeHandler struct {
	repo     RepositoryManager
	cfg      Config
	activity ActivitySink
	logger   Logger
	now      func() time.Time
}

// NewPasswordChangeHandler creates a handler with sane defaults.
func NewPasswordChangeHandler(repo RepositoryManager, cfg Config) *PasswordChangeHandler {
	return &PasswordChangeHandler{
		repo:     repo,
		cfg:      cfg,
		activity: noopActivitySink{},
		logger:   defaultLogger(),
		now:      time.Now,
	}
}

// WithActivitySink sets the sink used to emit password change events.
func (h *PasswordChangeHandler) WithActivitySink(sink ActivitySink) *PasswordChangeHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *PasswordChangeHandler) WithLogger(logger Logger) *PasswordChangeHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *PasswordChangeHandler) Execute(ctx context.Context, event PasswordChangeMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password change",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *PasswordChangeHandler) execute(ctx context.Context, event PasswordChangeMessage) error {
	event.Pin = strings.TrimSpace(event.Pin)
	if err := event.Validate(); err != nil {
		return validationFailure(err)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	user, err := h.repo.Users().FindByResetPin(ctx, event.Pin)
	if err != nil {
		if IsRecordNotFound(err) {
			return ErrPasswordChangeMismatch
		}
		return asRichError(err, "failed to look up reset pin")
	}

	if user.ResetPinAt == nil || h.now().Sub(*user.ResetPinAt) > resetPinTTL(h.cfg) {
		h.logger.Info("stale reset pin presented", "user_id", user.ID.String())
		return ErrPasswordChangeMismatch
	}

	hash, err := HashPassword(event.Password)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
	}

	if err := h.repo.Users().ChangePassword(ctx, user.ID, event.Pin, hash); err != nil {
		if IsRecordNotFound(err) {
			return ErrPasswordChangeMismatch
		}
		return asRichError(err, "failed to update user password")
	}

	h.logger.Info("password changed", "user_id", user.ID.String())

	recordActivity(ctx, h.activity, h.logger, ActivityEventPasswordChanged, userActor(user.ID.String()), user.ID.String(), nil)

	return nil
}

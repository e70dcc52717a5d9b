package auth

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

type RequestPasswordChangeMessage struct {
	Identifier string `json:"identifier"`
}

func (e RequestPasswordChangeMessage) Type() string { return "user.password_change_request" }

func (e RequestPasswordChangeMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Identifier, validation.Required, validation.Length(1, 255)),
	)
}

// RequestPasswordChangeHandler stores a reset pin for a matching account
// and sends it. Unknown identifiers are not reported to the caller.
type RequestPasswordChangeHandler struct {
	repo     RepositoryManager
	cfg      Config
	notifier Notifier
	activity ActivitySink
	logger   Logger
	now      func() time.Time
}

// NewRequestPasswordChangeHandler creates a handler with sane defaults.
func NewRequestPasswordChangeHandler(repo RepositoryManager, cfg Config) *RequestPasswordChangeHandler {
	return &RequestPasswordChangeHandler{
		repo:     repo,
		cfg:      cfg,
		notifier: noopNotifier{},
		activity: noopActivitySink{},
		logger:   defaultLogger(),
		now:      time.Now,
	}
}

// WithNotifier sets the collaborator that delivers the reset pin.
func (h *RequestPasswordChangeHandler) WithNotifier(n Notifier) *RequestPasswordChangeHandler {
	h.notifier = normalizeNotifier(n)
	return h
}

// WithActivitySink sets the sink used to emit password change events.
func (h *RequestPasswordChangeHandler) WithActivitySink(sink ActivitySink) *RequestPasswordChangeHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *RequestPasswordChangeHandler) WithLogger(logger Logger) *RequestPasswordChangeHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *RequestPasswordChangeHandler) Execute(ctx context.Context, event RequestPasswordChangeMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password change request",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RequestPasswordChangeHandler) execute(ctx context.Context, event RequestPasswordChangeMessage) error {
	event.Identifier = strings.TrimSpace(event.Identifier)
	if err := event.Validate(); err != nil {
		return validationFailure(err)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	user, err := h.repo.Users().GetByIdentifier(ctx, event.Identifier)
	if err != nil {
		if IsRecordNotFound(err) {
			h.logger.Debug("password change requested for unknown identifier")
			return nil
		}
		return asRichError(err, "failed to look up account")
	}

	if !user.Enabled || user.Source == SourceDirectory {
		h.logger.Info("password change request ignored", "user_id", user.ID.String(), "source", user.Source)
		return nil
	}

	pin, err := RandomPinString(pinDigits(h.cfg))
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate reset pin")
	}

	issuedAt := h.now()
	if err := h.repo.Users().SetResetPin(ctx, user.ID, pin, issuedAt); err != nil {
		return asRichError(err, "failed to store reset pin")
	}

	dispatchPin(ctx, h.notifier, h.logger, Notification{
		Kind:     NotificationPasswordChange,
		UserID:   user.ID.String(),
		Name:     user.Name,
		Email:    user.Email,
		Phone:    user.Phone,
		Pin:      pin,
		IssuedAt: issuedAt,
	})

	recordActivity(ctx, h.activity, h.logger, ActivityEventPasswordChangeRequested, userActor(user.ID.String()), user.ID.String(), nil)

	return nil
}

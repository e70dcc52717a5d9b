package auth

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

type VerifyAccountMessage struct {
	Pin string `json:"pin"`
}

func (e VerifyAccountMessage) Type() string { return "user.verify" }

func (e VerifyAccountMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Pin, validation.Required, is.Digit),
	)
}

// VerifyAccountHandler consumes a verification pin. A pin verifies at
// most one account once; it is rotated in the same update.
type VerifyAccountHandler struct {
	repo     RepositoryManager
	cfg      Config
	activity ActivitySink
	logger   Logger
}

// NewVerifyAccountHandler creates a handler with sane defaults.
func NewVerifyAccountHandler(repo RepositoryManager, cfg Config) *VerifyAccountHandler {
	return &VerifyAccountHandler{
		repo:     repo,
		cfg:      cfg,
		activity: noopActivitySink{},
		logger:   defaultLogger(),
	}
}

// WithActivitySink sets the sink used to emit verification events.
func (h *VerifyAccountHandler) WithActivitySink(sink ActivitySink) *VerifyAccountHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *VerifyAccountHandler) WithLogger(logger Logger) *VerifyAccountHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *VerifyAccountHandler) Execute(ctx context.Context, event VerifyAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during account verification")
	default:
		return h.execute(ctx, event)
	}
}

func (h *VerifyAccountHandler) execute(ctx context.Context, event VerifyAccountMessage) error {
	event.Pin = strings.TrimSpace(event.Pin)
	if err := event.Validate(); err != nil {
		return validationFailure(err)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	user, err := h.repo.Users().FindUnverifiedByPin(ctx, event.Pin)
	if err != nil {
		if IsRecordNotFound(err) {
			return ErrInvalidPin
		}
		return asRichError(err, "failed to look up verification pin")
	}

	next, err := RandomPinString(pinDigits(h.cfg))
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to rotate verification pin")
	}

	if err := h.repo.Users().MarkVerified(ctx, user.ID, event.Pin, next); err != nil {
		if IsRecordNotFound(err) {
			// lost a race with a concurrent request for the same pin
			return ErrInvalidPin
		}
		return asRichError(err, "failed to mark account verified")
	}

	h.logger.Info("account verified", "user_id", user.ID.String())

	recordActivity(ctx, h.activity, h.logger, ActivityEventUserVerified, userActor(user.ID.String()), user.ID.String(), nil)

	return nil
}

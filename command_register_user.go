package auth

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/nyaruka/phonenumbers"
	"github.com/uptrace/bun"
)

// DefaultPhoneRegion is used to parse numbers without a country prefix.
const DefaultPhoneRegion = "US"

var errInvalidPhone = goerrors.New("must be a valid phone number", goerrors.CategoryValidation)

type RegisterUserMessage struct {
	Name                 string `json:"name"`
	Username             string `json:"username"`
	Email                string `json:"email"`
	Phone                string `json:"phone"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
	UseHashid            bool   `json:"-"`
}

func (e RegisterUserMessage) Type() string { return "user.register" }

// Validate checks the payload; the returned error is a validation.Errors.
func (e RegisterUserMessage) Validate() error {
	rules := []*validation.FieldRules{
		validation.Field(&e.Name, validation.Required, validation.Length(1, 255)),
		validation.Field(&e.Email, validation.Required, is.Email),
		validation.Field(&e.Username, validation.Length(0, 255)),
	}
	rules = append(rules, passwordRules(&e.Password, &e.PasswordConfirmation)...)
	return validation.ValidateStruct(&e, rules...)
}

type RegisterUserHandler struct {
	repo        RepositoryManager
	cfg         Config
	notifier    Notifier
	activity    ActivitySink
	logger      Logger
	phoneRegion string
	useHashid   bool
}

// NewRegisterUserHandler creates a handler with sane defaults.
func NewRegisterUserHandler(repo RepositoryManager, cfg Config) *RegisterUserHandler {
	return &RegisterUserHandler{
		repo:        repo,
		cfg:         cfg,
		notifier:    noopNotifier{},
		activity:    noopActivitySink{},
		logger:      defaultLogger(),
		phoneRegion: DefaultPhoneRegion,
	}
}

// WithNotifier sets the collaborator that delivers the verification pin.
func (h *RegisterUserHandler) WithNotifier(n Notifier) *RegisterUserHandler {
	h.notifier = normalizeNotifier(n)
	return h
}

// WithActivitySink sets the sink used to emit registration events.
func (h *RegisterUserHandler) WithActivitySink(sink ActivitySink) *RegisterUserHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *RegisterUserHandler) WithLogger(logger Logger) *RegisterUserHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithPhoneRegion sets the region assumed for local phone numbers.
func (h *RegisterUserHandler) WithPhoneRegion(region string) *RegisterUserHandler {
	if region = strings.ToUpper(strings.TrimSpace(region)); region != "" {
		h.phoneRegion = region
	}
	return h
}

// WithHashidIDs derives user ids from the email instead of random v4 ids.
func (h *RegisterUserHandler) WithHashidIDs(enabled bool) *RegisterUserHandler {
	h.useHashid = enabled
	return h
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) error {
	if err := event.Validate(); err != nil {
		return validationFailure(err)
	}

	phone, err := normalizePhone(event.Phone, h.phoneRegion)
	if err != nil {
		return validationFailure(validation.Errors{"phone": err})
	}

	pin, err := RandomPinString(pinDigits(h.cfg))
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate verification pin")
	}

	hash, err := HashPassword(event.Password)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password provided")
	}

	user := &User{
		Name:         strings.TrimSpace(event.Name),
		Username:     registrationUsername(event.Username, event.Email),
		Email:        event.Email,
		Phone:        phone,
		PasswordHash: hash,
		Verified:     false,
		VerifyPin:    pin,
		Enabled:      true,
		Source:       SourceLocal,
	}

	if event.UseHashid || h.useHashid {
		if id, err := hashid.NewUUID(strings.ToLower(strings.TrimSpace(event.Email))); err == nil {
			user.ID = id
		}
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		created, err := h.repo.Users().CreateTx(ctx, tx, user)
		if err != nil {
			return err
		}
		user = created
		return nil
	})
	if err != nil {
		if goerrors.Is(err, ErrIdentityExists) {
			return ErrIdentityExists
		}
		return asRichError(err, "user registration transaction failed")
	}

	h.logger.Info("user registered", "user_id", user.ID.String(), "username", user.Username)

	dispatchPin(ctx, h.notifier, h.logger, Notification{
		Kind:   NotificationVerifyAccount,
		UserID: user.ID.String(),
		Name:   user.Name,
		Email:  user.Email,
		Phone:  user.Phone,
		Pin:    pin,
	})

	recordActivity(ctx, h.activity, h.logger, ActivityEventUserRegistered, userActor(user.ID.String()), user.ID.String(), map[string]any{
		"username": user.Username,
	})

	return nil
}

// normalizePhone returns the E.164 form of raw, or "" when raw is empty.
func normalizePhone(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}

	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", errInvalidPhone
	}

	if !phonenumbers.IsValidNumber(num) {
		return "", errInvalidPhone
	}

	return phonenumbers.Format(num, phonenumbers.E164), nil
}

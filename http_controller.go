package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

const (
	MessageUserCreated           = "user_created"
	MessageUserVerified          = "user_verified"
	MessagePasswordChangePinSent = "auth.if_user_exists_password_change_pin_sent"
	MessagePasswordChanged       = "auth.password_changed"
	MessageLoggedOut             = "Successfully logged out"

	textCodeServerError = "server_error"
)

// RegisterAuthRoutes mounts the auth endpoints under controller.Routes.Prefix.
// Login and the two pin routes sit behind their limiters when set.
func RegisterAuthRoutes[T any](app router.Router[T], controller *AuthController) router.Router[T] {
	r := controller.Routes
	group := app.Group(r.Prefix)

	group.Post(r.Login, controller.Login, gates(controller.LoginLimiter)...).
		SetName("auth.login")
	group.Post(r.Register, controller.Register).
		SetName("auth.register")
	group.Post(r.Verify, controller.Verify, gates(controller.PinLimiter)...).
		SetName("auth.verify")
	group.Post(r.RequestPasswordChange, controller.RequestPasswordChange).
		SetName("auth.password_change_request")
	group.Post(r.PasswordChange, controller.PasswordChange, gates(controller.PinLimiter)...).
		SetName("auth.password_change")

	gate := controller.Gate.ProtectedRoute()
	group.Get(r.Logout, controller.Logout, gate).SetName("auth.logout")
	group.Get(r.Me, controller.Me, gate).SetName("auth.me")
	group.Get(r.Refresh, controller.Refresh, gate).SetName("auth.refresh")

	return group
}

func gates(mws ...router.MiddlewareFunc) []router.MiddlewareFunc {
	out := make([]router.MiddlewareFunc, 0, len(mws))
	for _, mw := range mws {
		if mw != nil {
			out = append(out, mw)
		}
	}
	return out
}

type AuthControllerRoutes struct {
	Prefix                string
	Login                 string
	Register              string
	Verify                string
	RequestPasswordChange string
	PasswordChange        string
	Logout                string
	Me                    string
	Refresh               string
}

// DefaultAuthControllerRoutes are the paths clients already depend on.
func DefaultAuthControllerRoutes() *AuthControllerRoutes {
	return &AuthControllerRoutes{
		Prefix:                "/auth",
		Login:                 "/login",
		Register:              "/register",
		Verify:                "/verify",
		RequestPasswordChange: "/request-password-change",
		PasswordChange:        "/password-change",
		Logout:                "/logout",
		Me:                    "/me",
		Refresh:               "/refresh",
	}
}

type AuthController struct {
	Debug            bool
	Logger           Logger
	Auth             Authenticator
	Gate             *RouteAuthenticator
	Routes           *AuthControllerRoutes
	LoginLimiter     router.MiddlewareFunc
	PinLimiter       router.MiddlewareFunc
	InvalidPinStatus int

	registerUser          *RegisterUserHandler
	verifyAccount         *VerifyAccountHandler
	requestPasswordChange *RequestPasswordChangeHandler
	passwordChange        *PasswordChangeHandler
}

type AuthControllerOption func(*AuthController) *AuthController

// WithControllerLogger sets the logger on the controller and its handlers.
func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if logger == nil {
			return c
		}
		c.Logger = logger
		c.Gate.WithLogger(logger)
		c.registerUser.WithLogger(logger)
		c.verifyAccount.WithLogger(logger)
		c.requestPasswordChange.WithLogger(logger)
		c.passwordChange.WithLogger(logger)
		return c
	}
}

// WithNotifier sets the pin delivery collaborator.
func WithNotifier(n Notifier) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.registerUser.WithNotifier(n)
		c.requestPasswordChange.WithNotifier(n)
		return c
	}
}

// WithControllerActivitySink routes lifecycle events to sink.
func WithControllerActivitySink(sink ActivitySink) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.registerUser.WithActivitySink(sink)
		c.verifyAccount.WithActivitySink(sink)
		c.requestPasswordChange.WithActivitySink(sink)
		c.passwordChange.WithActivitySink(sink)
		return c
	}
}

// WithLoginLimiter puts a gate in front of the login route.
func WithLoginLimiter(limiter router.MiddlewareFunc) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.LoginLimiter = limiter
		return c
	}
}

// WithPinLimiter puts a gate in front of the verify and password change
// routes, the two that accept a pin.
func WithPinLimiter(limiter router.MiddlewareFunc) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.PinLimiter = limiter
		return c
	}
}

// WithRegistrationOptions tunes phone parsing and id generation.
func WithRegistrationOptions(phoneRegion string, useHashid bool) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.registerUser.WithPhoneRegion(phoneRegion).WithHashidIDs(useHashid)
		return c
	}
}

// WithDebug dumps request payloads (secrets redacted) at debug level.
func WithDebug(debug bool) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Debug = debug
		return c
	}
}

func NewAuthController(auther Authenticator, repo RepositoryManager, cfg Config, opts ...AuthControllerOption) *AuthController {
	if auther == nil {
		panic("Missing Authenticator in auth controller...")
	}

	if repo == nil {
		panic("Missing RepositoryManager in auth controller...")
	}

	invalidPinStatus := cfg.GetInvalidPinStatus()
	if invalidPinStatus < 400 || invalidPinStatus > 599 {
		invalidPinStatus = http.StatusInternalServerError
	}

	c := &AuthController{
		Logger:                defaultLogger(),
		Auth:                  auther,
		Gate:                  NewHTTPAuthenticator(auther, cfg),
		Routes:                DefaultAuthControllerRoutes(),
		InvalidPinStatus:      invalidPinStatus,
		registerUser:          NewRegisterUserHandler(repo, cfg),
		verifyAccount:         NewVerifyAccountHandler(repo, cfg),
		requestPasswordChange: NewRequestPasswordChangeHandler(repo, cfg),
		passwordChange:        NewPasswordChangeHandler(repo, cfg),
	}

	for _, opt := range opts {
		if opt != nil {
			c = opt(c)
		}
	}

	return c
}

type LoginPayload struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

func (r LoginPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.Length(1, 255)),
		validation.Field(&r.Password, validation.Required),
	)
}

func (a *AuthController) Login(c router.Context) error {
	payload := new(LoginPayload)
	if err := c.Bind(payload); err != nil {
		return a.respondError(c, malformedBody(err))
	}

	a.dump("login payload", fiber.Map{"username": payload.Username})

	if err := payload.Validate(); err != nil {
		return a.respondError(c, validationFailure(err))
	}

	res, err := a.Auth.Login(c.Context(), payload.Username, payload.Password)
	if err != nil {
		return a.respondError(c, err)
	}

	return c.JSON(http.StatusOK, res)
}

type RegisterPayload struct {
	Name                 string `json:"name" form:"name"`
	Username             string `json:"username" form:"username"`
	Email                string `json:"email" form:"email"`
	Phone                string `json:"phone" form:"phone"`
	Password             string `json:"password" form:"password"`
	PasswordConfirmation string `json:"password_confirmation" form:"password_confirmation"`
}

func (a *AuthController) Register(c router.Context) error {
	payload := new(RegisterPayload)
	if err := c.Bind(payload); err != nil {
		return a.respondError(c, malformedBody(err))
	}

	a.dump("register payload", fiber.Map{
		"name":     payload.Name,
		"username": payload.Username,
		"email":    payload.Email,
		"phone":    payload.Phone,
	})

	err := a.registerUser.Execute(c.Context(), RegisterUserMessage{
		Name:                 payload.Name,
		Username:             payload.Username,
		Email:                payload.Email,
		Phone:                payload.Phone,
		Password:             payload.Password,
		PasswordConfirmation: payload.PasswordConfirmation,
	})
	if err != nil {
		return a.respondError(c, err)
	}

	return c.JSON(http.StatusOK, fiber.Map{"message": MessageUserCreated})
}

// PinValue accepts a pin sent either as a JSON string or a JSON number.
type PinValue string

func (p *PinValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = PinValue(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*p = PinValue(n.String())
	return nil
}

type VerifyPayload struct {
	Pin PinValue `json:"pin" form:"pin"`
}

func (a *AuthController) Verify(c router.Context) error {
	payload := new(VerifyPayload)
	if err := c.Bind(payload); err != nil {
		return a.respondError(c, malformedBody(err))
	}

	if err := a.verifyAccount.Execute(c.Context(), VerifyAccountMessage{Pin: string(payload.Pin)}); err != nil {
		return a.respondError(c, err)
	}

	return c.JSON(http.StatusOK, fiber.Map{"message": MessageUserVerified})
}

type RequestPasswordChangePayload struct {
	Identifier string `json:"identifier" form:"identifier"`
	Email      string `json:"email" form:"email"`
}

func (a *AuthController) RequestPasswordChange(c router.Context) error {
	payload := new(RequestPasswordChangePayload)
	if err := c.Bind(payload); err != nil {
		return a.respondError(c, malformedBody(err))
	}

	identifier := strings.TrimSpace(payload.Identifier)
	if identifier == "" {
		identifier = strings.TrimSpace(payload.Email)
	}

	a.dump("request password change payload", fiber.Map{"identifier": identifier})

	if err := a.requestPasswordChange.Execute(c.Context(), RequestPasswordChangeMessage{Identifier: identifier}); err != nil {
		if HasTextCode(err, TextCodeValidationFailed) {
			return a.respondError(c, err)
		}
		// the acknowledgement must not depend on the account state
		a.Logger.Error("request password change failed", "error", err)
	}

	return c.JSON(http.StatusOK, fiber.Map{"message": MessagePasswordChangePinSent})
}

type PasswordChangePayload struct {
	Pin                  PinValue `json:"pin" form:"pin"`
	Password             string   `json:"password" form:"password"`
	PasswordConfirmation string   `json:"password_confirmation" form:"password_confirmation"`
}

func (a *AuthController) PasswordChange(c router.Context) error {
	payload := new(PasswordChangePayload)
	if err := c.Bind(payload); err != nil {
		return a.respondError(c, malformedBody(err))
	}

	err := a.passwordChange.Execute(c.Context(), PasswordChangeMessage{
		Pin:                  string(payload.Pin),
		Password:             payload.Password,
		PasswordConfirmation: payload.PasswordConfirmation,
	})
	if err != nil {
		return a.respondError(c, err)
	}

	return c.JSON(http.StatusOK, fiber.Map{"message": MessagePasswordChanged})
}

func (a *AuthController) Logout(c router.Context) error {
	principal, ok := GetPrincipal(c, a.Gate.ContextKey())
	if !ok {
		return a.Gate.ErrorHandler(c, ErrTokenAbsent)
	}

	if err := a.Auth.Logout(c.Context(), principal.Session); err != nil {
		return a.respondError(c, err)
	}

	return c.JSON(http.StatusOK, fiber.Map{"message": MessageLoggedOut})
}

func (a *AuthController) Me(c router.Context) error {
	principal, ok := GetPrincipal(c, a.Gate.ContextKey())
	if !ok {
		return a.Gate.ErrorHandler(c, ErrTokenAbsent)
	}

	if user, ok := UserFromIdentity(principal.Identity); ok {
		return c.JSON(http.StatusOK, fiber.Map{"user": user})
	}

	return c.JSON(http.StatusOK, fiber.Map{"user": fiber.Map{
		"id":       principal.Identity.ID(),
		"username": principal.Identity.Username(),
		"email":    principal.Identity.Email(),
		"verified": principal.Identity.Verified(),
		"enabled":  principal.Identity.Enabled(),
	}})
}

func (a *AuthController) Refresh(c router.Context) error {
	principal, ok := GetPrincipal(c, a.Gate.ContextKey())
	if !ok {
		return a.Gate.ErrorHandler(c, ErrTokenAbsent)
	}

	res, err := a.Auth.Refresh(c.Context(), principal.Token)
	if err != nil {
		return a.respondError(c, err)
	}

	return c.JSON(http.StatusOK, res)
}

// respondError renders err as one of the documented JSON shapes. Only
// text codes reach the client.
func (a *AuthController) respondError(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) || richErr.TextCode == "" {
		a.Logger.Error("auth request failed", "path", c.Path(), "error", err)
		return c.JSON(http.StatusInternalServerError, fiber.Map{
			"message": textCodeServerError,
		})
	}

	status := richErr.Code
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}

	body := fiber.Map{"message": richErr.TextCode}

	switch richErr.TextCode {
	case TextCodeTokenIssuance:
		body = fiber.Map{"error": richErr.TextCode}
	case TextCodeInvalidPin:
		status = a.InvalidPinStatus
	case TextCodeValidationFailed:
		body["errors"] = richErr.Metadata
	}

	if status >= http.StatusInternalServerError {
		a.Logger.Error("auth request failed", "path", c.Path(), "code", richErr.TextCode, "error", err)
	} else {
		a.Logger.Debug("auth request rejected", "path", c.Path(), "code", richErr.TextCode)
	}

	return c.JSON(status, body)
}

func (a *AuthController) dump(msg string, payload any) {
	if !a.Debug {
		return
	}
	a.Logger.Debug(msg, "payload", print.MaybePrettyJSON(payload))
}

func malformedBody(err error) error {
	return NewValidationError(err, map[string]string{"body": "malformed request payload"})
}

package auth

import (
	"context"
	"database/sql"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Users is the identity store
type Users interface {
	GetByID(ctx context.Context, id string) (*User, error)
	GetByIdentifier(ctx context.Context, identifier string) (*User, error)
	GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)

	Create(ctx context.Context, user *User) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)

	FindUnverifiedByPin(ctx context.Context, pin string) (*User, error)
	MarkVerified(ctx context.Context, id uuid.UUID, pin, nextPin string) error

	SetResetPin(ctx context.Context, id uuid.UUID, pin string, at time.Time) error
	FindByResetPin(ctx context.Context, pin string) (*User, error)
	ChangePassword(ctx context.Context, id uuid.UUID, resetPin, passwordHash string) error

	TrackSuccessfulLogin(ctx context.Context, id uuid.UUID) error
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
}

type users struct {
	records repository.Repository[*User]
	db      *bun.DB
	now     func() time.Time
}

var _ Users = (*users)(nil)

// NewUsersRepository returns a bun backed Users store
func NewUsersRepository(db *bun.DB) Users {
	records := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
	})

	return &users{records: records, db: db, now: time.Now}
}

// IsRecordNotFound reports whether err means no matching row.
func IsRecordNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, ErrIdentityNotFound) ||
		errors.IsNotFound(err) ||
		repository.IsRecordNotFound(err)
}

func (a *users) GetByID(ctx context.Context, id string) (*User, error) {
	uid, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, ErrIdentityNotFound
	}
	return a.findOne(ctx, a.db, "id", uid)
}

func (a *users) GetByUsername(ctx context.Context, username string) (*User, error) {
	return a.findOne(ctx, a.db, "username", NormalizeUsername(username))
}

func (a *users) GetByIdentifier(ctx context.Context, identifier string) (*User, error) {
	return a.GetByIdentifierTx(ctx, a.db, identifier)
}

// GetByIdentifierTx resolves an id, email or username, in that order.
func (a *users) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string) (*User, error) {
	for _, opt := range resolveUserIdentifier(identifier) {
		record, err := a.findOne(ctx, tx, opt.column, opt.value)
		if err != nil {
			if IsRecordNotFound(err) {
				continue
			}
			return nil, err
		}
		return record, nil
	}

	return nil, ErrIdentityNotFound
}

func (a *users) findOne(ctx context.Context, tx bun.IDB, column string, value any) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where(fmt.Sprintf("?TableAlias.%s = ?", column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIdentityNotFound
		}
		return nil, err
	}
	return record, nil
}

func (a *users) Create(ctx context.Context, user *User) (*User, error) {
	return a.CreateTx(ctx, a.db, user)
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	prepareUserDefaults(user)

	q := tx.NewSelect().
		Model((*User)(nil)).
		WhereOr("username = ?", user.Username)
	if user.Email != "" {
		q = q.WhereOr("email = ?", user.Email)
	}

	exists, err := q.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrIdentityExists
	}

	created, err := a.records.CreateTx(ctx, tx, user)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrIdentityExists
		}
		return nil, err
	}

	return created, nil
}

func (a *users) FindUnverifiedByPin(ctx context.Context, pin string) (*User, error) {
	record := &User{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.verify_pin = ?", pin).
		Where("?TableAlias.verified = ?", false).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIdentityNotFound
		}
		return nil, err
	}
	return record, nil
}

// MarkVerified flips the verified flag and rotates the pin in one row
// update guarded on the pin that was presented.
func (a *users) MarkVerified(ctx context.Context, id uuid.UUID, pin, nextPin string) error {
	res, err := a.db.NewUpdate().
		Model((*User)(nil)).
		Set("verified = ?", true).
		Set("verify_pin = ?", nextPin).
		Set("updated_at = ?", a.now().UTC()).
		Where("id = ?", id).
		Where("verified = ?", false).
		Where("verify_pin = ?", pin).
		Exec(ctx)
	return affectedOne(res, err)
}

func (a *users) SetResetPin(ctx context.Context, id uuid.UUID, pin string, at time.Time) error {
	at = at.UTC()
	res, err := a.db.NewUpdate().
		Model((*User)(nil)).
		Set("reset_pin = ?", pin).
		Set("reset_pin_at = ?", at).
		Set("updated_at = ?", a.now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	return affectedOne(res, err)
}

func (a *users) FindByResetPin(ctx context.Context, pin string) (*User, error) {
	if strings.TrimSpace(pin) == "" {
		return nil, ErrIdentityNotFound
	}
	return a.findOne(ctx, a.db, "reset_pin", pin)
}

// ChangePassword commits a new hash and clears the reset pin, guarded on
// the reset pin still matching.
func (a *users) ChangePassword(ctx context.Context, id uuid.UUID, resetPin, passwordHash string) error {
	res, err := a.db.NewUpdate().
		Model((*User)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("reset_pin = NULL").
		Set("reset_pin_at = NULL").
		Set("updated_at = ?", a.now().UTC()).
		Where("id = ?", id).
		Where("reset_pin = ?", resetPin).
		Exec(ctx)
	return affectedOne(res, err)
}

func (a *users) TrackSuccessfulLogin(ctx context.Context, id uuid.UUID) error {
	_, err := a.db.NewUpdate().
		Model((*User)(nil)).
		Set("loggedin_at = ?", a.now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (a *users) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	res, err := a.db.NewUpdate().
		Model((*User)(nil)).
		Set("enabled = ?", enabled).
		Set("updated_at = ?", a.now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	return affectedOne(res, err)
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrIdentityNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	if record.Source == "" {
		record.Source = SourceLocal
	}

	record.Username = NormalizeUsername(record.Username)
	record.Email = strings.ToLower(strings.TrimSpace(record.Email))
}

type identifierOption struct {
	column string
	value  any
}

func resolveUserIdentifier(identifier string) []identifierOption {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return nil
	}

	options := make([]identifierOption, 0, 3)

	if id, err := uuid.Parse(trimmed); err == nil {
		options = append(options, identifierOption{
			column: "id",
			value:  id,
		})
	}

	if isEmail(trimmed) {
		options = append(options, identifierOption{
			column: "email",
			value:  strings.ToLower(trimmed),
		})
	}

	options = append(options, identifierOption{
		column: "username",
		value:  NormalizeUsername(trimmed),
	})

	return options
}

// NormalizeUsername folds usernames so that lookups ignore case.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func isEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}

package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// IdentitySource records which strategy created an account.
type IdentitySource = string

const (
	// SourceLocal accounts registered through the API
	SourceLocal IdentitySource = "local"
	// SourceDirectory accounts provisioned after a directory login
	SourceDirectory IdentitySource = "directory"
)

// User is the user model
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	ID            uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name          string         `bun:"name,notnull" json:"name,omitempty"`
	Username      string         `bun:"username,notnull,unique" json:"username,omitempty"`
	Email         string         `bun:"email,nullzero,unique" json:"email,omitempty"`
	Phone         string         `bun:"phone_number,nullzero" json:"phone_number,omitempty"`
	PasswordHash  string         `bun:"password_hash,notnull" json:"-"`
	Verified      bool           `bun:"verified,notnull,default:false" json:"verified"`
	VerifyPin     string         `bun:"verify_pin,nullzero" json:"-"`
	ResetPin      string         `bun:"reset_pin,nullzero" json:"-"`
	ResetPinAt    *time.Time     `bun:"reset_pin_at,nullzero" json:"-"`
	Enabled       bool           `bun:"enabled,notnull,default:true" json:"enabled"`
	Source        IdentitySource `bun:"source,notnull" json:"source,omitempty"`
	LoggedInAt    *time.Time     `bun:"loggedin_at,nullzero" json:"loggedin_at,omitempty"`
	CreatedAt     *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt     *time.Time     `bun:"deleted_at,soft_delete,nullzero" json:"-"`
}

// IsVerified reports whether the account confirmed its pin.
func (u *User) IsVerified() bool {
	return u != nil && u.Verified
}

// RevokedToken marks a token id as unusable until it would have expired.
type RevokedToken struct {
	bun.BaseModel `bun:"table:revoked_tokens,alias:rvk"`
	TokenID       string     `bun:"jti,pk" json:"jti"`
	UserID        string     `bun:"user_id,notnull" json:"user_id"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

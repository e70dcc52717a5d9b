package auth

// UserIdentity adapts a User into the Identity interface for token generation.
type UserIdentity struct {
	user *User
}

var _ Identity = UserIdentity{}

// NewIdentityFromUser returns an Identity adapter for the provided user.
func NewIdentityFromUser(user *User) Identity {
	if user == nil {
		return nil
	}
	return UserIdentity{user: user}
}

// ID returns the user's ID as a string.
func (u UserIdentity) ID() string {
	if u.user == nil {
		return ""
	}
	return u.user.ID.String()
}

// Username returns the user's username.
func (u UserIdentity) Username() string {
	if u.user == nil {
		return ""
	}
	return u.user.Username
}

// Email returns the user's email address.
func (u UserIdentity) Email() string {
	if u.user == nil {
		return ""
	}
	return u.user.Email
}

// Verified reports whether the user confirmed the verification pin.
func (u UserIdentity) Verified() bool {
	return u.user.IsVerified()
}

// Enabled reports whether the account may authenticate.
func (u UserIdentity) Enabled() bool {
	return u.user != nil && u.user.Enabled
}

// User returns the wrapped record.
func (u UserIdentity) User() *User {
	return u.user
}

// UserFromIdentity unwraps identities created by NewIdentityFromUser.
func UserFromIdentity(identity Identity) (*User, bool) {
	ui, ok := identity.(UserIdentity)
	if !ok || ui.user == nil {
		return nil, false
	}
	return ui.user, true
}

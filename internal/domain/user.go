package domain

import "time"

// User is an end user that can authenticate with a password or a linked social account.
type User struct {
	ID                  string
	Email               string
	Username            string
	PasswordHash        string
	PhoneNumber         string
	PhoneNumberVerified bool
	IsVerified          bool
	IsActive            bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HasPassword reports whether the user can sign in with a password.
func (u User) HasPassword() bool {
	return u.PasswordHash != ""
}

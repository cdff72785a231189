package domain

import "time"

// User mirrors the persisted representation in the users table.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	LastLogin    *time.Time
}

// Sanitized returns a copy of the user without credential material.
func (u User) Sanitized() User {
	u.PasswordHash = ""
	return u
}

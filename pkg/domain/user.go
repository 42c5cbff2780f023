package domain

import (
	"time"
)

// User is the account record consumed by the ownership binder and the
// account service. The paste core only ever looks at ID.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Verified     bool      `json:"is_verified"`
	VerifyToken  string    `json:"-"`
	ResetToken   string    `json:"-"`
	ResetExpires time.Time `json:"-"`
	GoogleID     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// RegisterParams is the validated registration input.
type RegisterParams struct {
	Username string
	Email    string
	Password string
}

// Profile is the public view of a user.
type Profile struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	Verified   bool      `json:"is_verified"`
	CreatedAt  time.Time `json:"created_at"`
	PasteCount int       `json:"paste_count"`
}

package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// User is a borrower. The core only ever reads users.
type User struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
}

func NewUser(id, name, email string, now time.Time) (User, error) {
	u := User{
		ID:        id,
		Name:      strings.TrimSpace(name),
		Email:     strings.ToLower(strings.TrimSpace(email)),
		CreatedAt: now,
	}
	if u.Name == "" {
		return User{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(u.Email); err != nil {
		return User{}, fmt.Errorf("%w: email %q is not valid", ErrInvalidInput, email)
	}
	return u, nil
}
